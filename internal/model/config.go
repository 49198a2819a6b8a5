package model

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the complete policheck configuration. Field names double as
// viper keys (mapstructure) and config file keys (yaml).
type Config struct {
	Ontology     OntologyConfig    `yaml:"ontology" mapstructure:"ontology"`
	Data         DataConfig        `yaml:"data" mapstructure:"data"`
	Analysis     AnalysisConfig    `yaml:"analysis" mapstructure:"analysis"`
	Concurrency  ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	Sink         SinkConfig        `yaml:"sink" mapstructure:"sink"`
	Output       OutputConfig      `yaml:"output" mapstructure:"output"`
	LLM          LLMConfig         `yaml:"llm" mapstructure:"llm"`
	RateLimiting RateLimitConfig   `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Metrics      MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
	Log          LogConfig         `yaml:"log" mapstructure:"log"`
}

// OntologyConfig locates the two ontologies.
type OntologyConfig struct {
	EntityPath string `yaml:"entity_path" mapstructure:"entity_path" validate:"required"`
	DataPath   string `yaml:"data_path" mapstructure:"data_path" validate:"required"`
	EntityRoot string `yaml:"entity_root,omitempty" mapstructure:"entity_root"`
	DataRoot   string `yaml:"data_root,omitempty" mapstructure:"data_root"`
	Warm       bool   `yaml:"warm" mapstructure:"warm"`
}

// DataConfig locates statements, flows and the maps used to resolve flows.
type DataConfig struct {
	Dir           string `yaml:"dir" mapstructure:"dir" validate:"required"`
	FlowsFile     string `yaml:"flows_file" mapstructure:"flows_file"`
	PolicyDir     string `yaml:"policy_dir" mapstructure:"policy_dir"`
	DataMapPath   string `yaml:"data_map_path,omitempty" mapstructure:"data_map_path"`
	DomainMapPath string `yaml:"domain_map_path,omitempty" mapstructure:"domain_map_path"`
	// FirstPartyNamesPath maps package names to the developer's other names.
	FirstPartyNamesPath string `yaml:"first_party_names_path,omitempty" mapstructure:"first_party_names_path"`
	// IgnoreQualifiedNegatives drops not_collect sentences that carry an
	// exception (children, user choice, "except as described").
	IgnoreQualifiedNegatives bool `yaml:"ignore_qualified_negatives" mapstructure:"ignore_qualified_negatives"`
}

// Path resolves p against Dir. Empty and absolute paths are returned as is.
func (d DataConfig) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(d.Dir, p)
}

// AnalysisConfig selects the consistency mode and entity fallbacks.
type AnalysisConfig struct {
	Mode             string `yaml:"mode" mapstructure:"mode" validate:"oneof=strict permissive intermediate nearest-entity nearest-data"`
	FirstPartyEntity string `yaml:"first_party_entity" mapstructure:"first_party_entity" validate:"required"`
	UnknownEntity    string `yaml:"unknown_entity" mapstructure:"unknown_entity"`
	Impact           bool   `yaml:"impact" mapstructure:"impact"`
}

// ConcurrencyConfig sizes the worker pools.
type ConcurrencyConfig struct {
	Workers     int           `yaml:"workers" mapstructure:"workers" validate:"min=1"`
	WarmWorkers int           `yaml:"warm_workers" mapstructure:"warm_workers" validate:"min=0"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"min=0"`
}

// SinkConfig selects where results are persisted. Kind is one sink kind or
// a comma-separated list such as "jsonl,badger", in which case every record
// goes to each listed sink and Path is a directory holding one entry per
// sink.
type SinkConfig struct {
	Kind string `yaml:"kind" mapstructure:"kind" validate:"sinkkinds"`
	Path string `yaml:"path" mapstructure:"path" validate:"required_unless=Kind none"`
}

var sinkKinds = []string{"none", "jsonl", "badger"}

// Kinds returns the configured sink kinds in order, without "none".
func (s SinkConfig) Kinds() []string {
	var out []string
	for _, k := range strings.Split(s.Kind, ",") {
		if k = strings.TrimSpace(k); k != "" && k != "none" {
			out = append(out, k)
		}
	}
	return out
}

// PathFor returns where the sink of the given kind writes.
func (s SinkConfig) PathFor(kind string) string {
	if len(s.Kinds()) <= 1 {
		return s.Path
	}
	if kind == "jsonl" {
		return filepath.Join(s.Path, "records.jsonl")
	}
	return filepath.Join(s.Path, kind)
}

// validSinkKinds accepts "none" alone or a list of distinct known kinds.
func validSinkKinds(fl validator.FieldLevel) bool {
	kinds := strings.Split(fl.Field().String(), ",")
	seen := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		k = strings.TrimSpace(k)
		if !slices.Contains(sinkKinds, k) || seen[k] {
			return false
		}
		if k == "none" && len(kinds) > 1 {
			return false
		}
		seen[k] = true
	}
	return true
}

// OutputConfig controls report files.
type OutputConfig struct {
	Dir           string `yaml:"dir" mapstructure:"dir"`
	JSON          bool   `yaml:"json" mapstructure:"json"`
	Markdown      bool   `yaml:"markdown" mapstructure:"markdown"`
	IncludeFooter bool   `yaml:"include_footer" mapstructure:"include_footer"`
	Verbose       bool   `yaml:"verbose" mapstructure:"verbose"`
}

// LLMConfig configures the optional narrative summary.
type LLMConfig struct {
	Provider       string        `yaml:"provider" mapstructure:"provider" validate:"omitempty,oneof=openai ollama"`
	Model          string        `yaml:"model" mapstructure:"model"`
	APIKey         string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL        string        `yaml:"base_url,omitempty" mapstructure:"base_url" validate:"omitempty,url"`
	Timeout        int           `yaml:"timeout" mapstructure:"timeout" validate:"min=0"` // seconds
	StrictEvidence bool          `yaml:"strict_evidence" mapstructure:"strict_evidence"`
	MaxTokens      int           `yaml:"max_tokens" mapstructure:"max_tokens" validate:"min=0"`
	CacheDir       string        `yaml:"cache_dir,omitempty" mapstructure:"cache_dir"`
	CacheTTL       time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	HTTPProxy      string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy     string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy        string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// RateLimitConfig throttles calls to each LLM endpoint host.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gt=0"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size" validate:"min=1"`

	// Hosts overrides the rate for individual endpoint hosts.
	Hosts []HostRateConfig `yaml:"hosts,omitempty" mapstructure:"hosts" validate:"dive"`
}

// HostRateConfig is the rate for one endpoint host. A zero burst keeps
// the default burst.
type HostRateConfig struct {
	Host              string  `yaml:"host" mapstructure:"host" validate:"required"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gt=0"`
	BurstSize         int     `yaml:"burst_size,omitempty" mapstructure:"burst_size" validate:"min=0"`
}

// MetricsConfig controls the prometheus textfile export.
type MetricsConfig struct {
	File      string `yaml:"file,omitempty" mapstructure:"file"`
	Namespace string `yaml:"namespace" mapstructure:"namespace" validate:"required"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=text json"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Ontology: OntologyConfig{
			EntityPath: "data/entity_ontology.gml",
			DataPath:   "data/data_ontology.gml",
			Warm:       true,
		},
		Data: DataConfig{
			Dir:                      ".",
			FlowsFile:                "data/policheck_flows.csv",
			PolicyDir:                "output/policy",
			DomainMapPath:            "data/domains.yml",
			IgnoreQualifiedNegatives: true,
		},
		Analysis: AnalysisConfig{
			Mode:             "strict",
			FirstPartyEntity: "we",
			UnknownEntity:    "unknown entity",
			Impact:           true,
		},
		Concurrency: ConcurrencyConfig{
			Workers:     4,
			WarmWorkers: 4,
			Timeout:     10 * time.Minute,
		},
		Sink: SinkConfig{
			Kind: "none",
		},
		Output: OutputConfig{
			Dir:           "./policheck-reports",
			JSON:          true,
			Markdown:      true,
			IncludeFooter: true,
		},
		LLM: LLMConfig{
			Timeout:        30,
			StrictEvidence: true,
			MaxTokens:      1000,
			CacheTTL:       7 * 24 * time.Hour,
		},
		RateLimiting: RateLimitConfig{
			RequestsPerSecond: 2,
			BurstSize:         4,
		},
		Metrics: MetricsConfig{
			Namespace: "policheck",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

var configValidate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("sinkkinds", validSinkKinds); err != nil {
		panic(err)
	}
	return v
}

// Validate checks the configuration and reports every invalid field.
func (c *Config) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
