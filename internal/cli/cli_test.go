package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/policheck/internal/consistency"
	"github.com/ppiankov/policheck/internal/llm"
	"github.com/ppiankov/policheck/internal/model"
	"github.com/ppiankov/policheck/internal/ontology"
	"github.com/ppiankov/policheck/internal/sink"
	"github.com/ppiankov/policheck/internal/term"
	"github.com/ppiankov/policheck/internal/worker"
)

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, "", reflect.ValueOf(*model.DefaultConfig()))
	configureEnv(v)
	return v
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(newViper())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConfig(), cfg)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("POLICHECK_ANALYSIS_MODE", "permissive")
	t.Setenv("POLICHECK_CONCURRENCY_TIMEOUT", "5m")
	t.Setenv("POLICHECK_LLM_API_KEY", "sk-env")

	cfg, err := loadConfig(newViper())
	require.NoError(t, err)
	assert.Equal(t, "permissive", cfg.Analysis.Mode)
	assert.Equal(t, 5*time.Minute, cfg.Concurrency.Timeout)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, 4, cfg.Concurrency.Workers, "untouched keys keep their defaults")
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("POLICHECK_ANALYSIS_MODE", "lenient")
	t.Setenv("POLICHECK_SINK_KIND", "badger")

	_, err := loadConfig(newViper())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Analysis.Mode")
	assert.Contains(t, err.Error(), "Sink.Path")
}

func TestLoadConfig_SinkKinds(t *testing.T) {
	tests := []struct {
		kind    string
		wantErr bool
		kinds   []string
	}{
		{kind: "none"},
		{kind: "badger", kinds: []string{"badger"}},
		{kind: "jsonl,badger", kinds: []string{"jsonl", "badger"}},
		{kind: "jsonl, badger", kinds: []string{"jsonl", "badger"}},
		{kind: "jsonl,jsonl", wantErr: true},
		{kind: "none,jsonl", wantErr: true},
		{kind: "kafka", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			t.Setenv("POLICHECK_SINK_KIND", tt.kind)
			t.Setenv("POLICHECK_SINK_PATH", "results")

			cfg, err := loadConfig(newViper())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "Sink.Kind")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kinds, cfg.Sink.Kinds())
		})
	}
}

func TestSinkConfig_PathFor(t *testing.T) {
	single := model.SinkConfig{Kind: "badger", Path: "db"}
	assert.Equal(t, "db", single.PathFor("badger"))

	both := model.SinkConfig{Kind: "jsonl,badger", Path: "sinks"}
	assert.Equal(t, filepath.Join("sinks", "records.jsonl"), both.PathFor("jsonl"))
	assert.Equal(t, filepath.Join("sinks", "badger"), both.PathFor("badger"))
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
analysis:
  mode: nearest-entity
sink:
  kind: jsonl
  path: results.jsonl
concurrency:
  workers: 8
`), 0644))

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, readConfig(v, true))

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "nearest-entity", cfg.Analysis.Mode)
	assert.Equal(t, "jsonl", cfg.Sink.Kind)
	assert.Equal(t, 8, cfg.Concurrency.Workers)
	assert.Equal(t, "we", cfg.Analysis.FirstPartyEntity)
}

func TestLoadConfig_HostRates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rate_limiting:
  requests_per_second: 5
  burst_size: 2
  hosts:
    - host: api.openai.com
      requests_per_second: 0.5
    - host: localhost:11434
      requests_per_second: 20
      burst_size: 4
`), 0644))

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, readConfig(v, true))

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	require.Len(t, cfg.RateLimiting.Hosts, 2)
	assert.Equal(t, model.HostRateConfig{Host: "api.openai.com", RequestsPerSecond: 0.5}, cfg.RateLimiting.Hosts[0])

	lc := llm.ConfigFromModel(cfg)
	assert.Equal(t, llm.HostRate{RequestsPerSecond: 20, Burst: 4}, lc.HostRates["localhost:11434"])
	assert.Equal(t, 5.0, lc.RequestsPerSecond)
}

func TestLoadConfig_InvalidHostRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rate_limiting:
  hosts:
    - host: api.openai.com
      requests_per_second: 0
`), 0644))

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, readConfig(v, true))

	_, err := loadConfig(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RateLimiting.Hosts[0].RequestsPerSecond")
}

func TestReadConfig_Missing(t *testing.T) {
	dir := t.TempDir()

	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigType("yaml")
	v.SetConfigName("config")
	assert.NoError(t, readConfig(v, false), "a missing default config file is not an error")

	explicit := viper.New()
	explicit.SetConfigFile(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, readConfig(explicit, true))
}

func TestReadConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analysis: [unclosed\n"), 0644))

	v := viper.New()
	v.SetConfigFile(path)
	assert.Error(t, readConfig(v, false))
}

func TestResolveLLM(t *testing.T) {
	t.Run("disabled clears provider", func(t *testing.T) {
		cfg := model.DefaultConfig()
		cfg.LLM.Provider = "openai"
		require.NoError(t, resolveLLM(cfg, false))
		assert.Empty(t, cfg.LLM.Provider)
	})

	t.Run("defaults to openai with key from env", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-test")
		cfg := model.DefaultConfig()
		require.NoError(t, resolveLLM(cfg, true))
		assert.Equal(t, "openai", cfg.LLM.Provider)
		assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	})

	t.Run("openai without key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		cfg := model.DefaultConfig()
		err := resolveLLM(cfg, true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "OPENAI_API_KEY")
	})

	t.Run("ollama base url from env", func(t *testing.T) {
		t.Setenv("OLLAMA_BASE_URL", "http://gpu-box:11434/v1")
		cfg := model.DefaultConfig()
		cfg.LLM.Provider = "ollama"
		require.NoError(t, resolveLLM(cfg, true))
		assert.Equal(t, "http://gpu-box:11434/v1", cfg.LLM.BaseURL)
		assert.Empty(t, cfg.LLM.APIKey)
	})
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".policheck", "config.yaml")
	require.NoError(t, writeDefaultConfig(path))

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, readConfig(v, true))
	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConfig(), cfg)

	err = writeDefaultConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestShowConfig_MasksAPIKey(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.LLM.APIKey = "sk-secret"

	var buf bytes.Buffer
	require.NoError(t, showConfig(&buf, cfg))
	assert.NotContains(t, buf.String(), "sk-secret")
	assert.Contains(t, buf.String(), "********")
	assert.Equal(t, "sk-secret", cfg.LLM.APIKey, "caller's config must not change")
}

func TestExportPrefix(t *testing.T) {
	tests := []struct {
		run, app string
		want     string
		wantErr  bool
	}{
		{"", "", "", false},
		{"run-1", "", "run-1/", false},
		{"run-1", "com.a", "run-1/com.a/", false},
		{"", "com.a", "", true},
	}

	for _, tt := range tests {
		got, err := exportPrefix(tt.run, tt.app)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestRunExport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()

	db, err := sink.OpenBadger(sink.DefaultBadgerConfig(dir))
	require.NoError(t, err)
	w := sink.NewWriter(db, "run-1")
	flow := term.DataFlow{Entity: "we", Data: "email address"}
	require.NoError(t, w.InsertConsistencyResult(ctx, "com.a", flow, true))
	require.NoError(t, w.InsertConsistencyResult(ctx, "com.b", flow, false))
	require.NoError(t, w.Close(ctx))

	var out, errOut bytes.Buffer
	exportCmd.SetOut(&out)
	exportCmd.SetErr(&errOut)
	exportCmd.SetContext(ctx)
	require.NoError(t, exportCmd.Flags().Set("db", dir))
	require.NoError(t, exportCmd.Flags().Set("run", "run-1"))
	require.NoError(t, exportCmd.Flags().Set("app", "com.b"))

	require.NoError(t, runExport(exportCmd, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"app_id":"com.b"`)
	assert.Contains(t, errOut.String(), "Exported 1 records")
}

const entityYAML = `root: public
edges:
  - [public, we]
  - [public, third party]
  - [third party, advertiser]
`

func TestEditOntology(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entity.yaml")
	require.NoError(t, os.WriteFile(path, []byte(entityYAML), 0644))

	var buf bytes.Buffer
	err := editOntology(&buf, path, func(g *ontology.Graph) (*ontology.Graph, error) {
		return g.WithNode("acme ads", "advertiser")
	}, "added %q under %q", "acme ads", "advertiser")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `✓ added "acme ads" under "advertiser"`)

	g, err := ontology.Load(path)
	require.NoError(t, err)
	assert.True(t, g.Has("acme ads"))

	backup, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Equal(t, entityYAML, string(backup))
}

func TestEditOntology_RejectedEditLeavesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entity.yaml")
	require.NoError(t, os.WriteFile(path, []byte(entityYAML), 0644))

	err := editOntology(&bytes.Buffer{}, path, func(g *ontology.Graph) (*ontology.Graph, error) {
		return g.WithoutNode("third party")
	}, "removed %q", "third party")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ontology.ErrMultipleRoots))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, entityYAML, string(raw))
	_, err = os.Stat(path + ".bak")
	assert.True(t, os.IsNotExist(err), "no backup is written for a rejected edit")
}

func TestPrintNode(t *testing.T) {
	g, err := ontology.Parse([]byte(entityYAML), ".yaml")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printNode(&buf, g, "third party", true))
	out := buf.String()
	assert.Contains(t, out, "Parents:   public")
	assert.Contains(t, out, "Children:  advertiser")
	assert.Contains(t, out, "public → third party")
	assert.Contains(t, out, "Descendants (2):")

	assert.ErrorIs(t, printNode(&buf, g, "nobody", false), ontology.ErrNodeNotFound)
}

func auditReport() *model.AppReport {
	p1 := term.PolicyStatement{Entity: "advertiser", Action: term.Collect, Data: "vr movement"}
	p2 := term.PolicyStatement{Entity: "google admob", Action: term.NotCollect, Data: "vr movement"}
	c := consistency.Contradiction{Pair: consistency.Pair{A: p1, B: p2}, Predicate: 9}
	return &model.AppReport{
		AppID: "com.acme.game",
		Statements: []model.Statement{
			{PolicyStatement: p1},
			{PolicyStatement: p2},
		},
		Contradictions: []consistency.Contradiction{c},
		Impact: []consistency.Impact{{
			Contradiction: c,
			Flows:         []term.DataFlow{{Entity: "google admob", Data: "vr movement"}},
		}},
	}
}

func TestPrintAudit(t *testing.T) {
	var buf bytes.Buffer
	printAudit(&buf, auditReport())
	out := buf.String()

	assert.Contains(t, out, "com.acme.game  [policy audit]")
	assert.Contains(t, out, "Contradictions:  1")
	assert.Contains(t, out, "✗ 1. #9 (data equal, entity broader)")
	assert.Contains(t, out, "(advertiser, collect, vr movement)")
	assert.Contains(t, out, "↳ flow (google admob, vr movement)")
}

func TestPrintAudit_Clean(t *testing.T) {
	var buf bytes.Buffer
	printAudit(&buf, &model.AppReport{AppID: "com.acme.clean"})
	assert.Contains(t, buf.String(), "✓ No contradictions found")
}

func TestSummarizeBatch(t *testing.T) {
	ok := &model.AppReport{
		AppID: "com.a",
		Flows: []consistency.Result{
			{Verdict: consistency.Consistent},
			{Verdict: consistency.Unjustified},
		},
		Score: model.Score{Index: 50},
		Skipped: []model.Skip{
			{Kind: model.SkipFlowData, Label: "blood_type", Reason: "no data map entry"},
			{Kind: model.SkipRootStatement, Label: "information", Reason: "data type is the ontology root"},
		},
	}
	clean := &model.AppReport{
		AppID:   "com.d",
		Flows:   []consistency.Result{{Verdict: consistency.Consistent}},
		Score:   model.Score{Index: 100},
		Skipped: []model.Skip{{Kind: model.SkipExtraPolicy, Label: "unity", Reason: "extra policy not found"}},
	}
	unwritable := &model.AppReport{
		AppID:   "com.c",
		Skipped: []model.Skip{{Kind: model.SkipNoFlows, Label: "com.c", Reason: "no resolvable flows"}},
	}

	results := []*worker.AppResult{
		{Index: 0, AppID: "com.a", Report: ok},
		{Index: 1, AppID: "com.b", Error: errors.New("no flows")},
		{Index: 2, AppID: "com.c", Report: unwritable},
		{Index: 3, AppID: "com.d", Report: clean},
	}

	var written []string
	var buf bytes.Buffer
	stats := summarizeBatch(&buf, results, func(r *model.AppReport) error {
		if r.AppID == "com.c" {
			return errors.New("disk full")
		}
		written = append(written, r.AppID)
		return nil
	})

	assert.Equal(t, []string{"com.a", "com.d"}, written)
	assert.Equal(t, 2, stats.success)
	assert.Equal(t, 2, stats.failures)
	assert.Equal(t, model.Counts{Consistent: 2, Unjustified: 1}, stats.counts)
	assert.Equal(t, 3, stats.skipped, "skips of unwritten reports are not counted")
	assert.Contains(t, buf.String(), "✓ com.a (index: 50/100, flows: 2, contradictions: 0, skipped: 2)")
	assert.Contains(t, buf.String(), "✓ com.d (index: 100/100, flows: 1, contradictions: 0, skipped: 1)")
	assert.Contains(t, buf.String(), "✗ com.b: no flows")
	assert.Contains(t, buf.String(), "✗ com.c: disk full")
}

func TestRequireApps_NamesPolicyDir(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Data.Dir = "dataset"

	err := requireApps(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), filepath.Join("dataset", "output", "policy"))
	assert.NotContains(t, err.Error(), "policheck_flows.csv")

	assert.NoError(t, requireApps(cfg, []string{"com.a"}))
}

func TestReportPaths_RespectsOutputToggles(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Output.Dir = "out"
	cfg.Output.Markdown = false

	jsonPath, mdPath := reportPaths(cfg, "com.a")
	assert.Equal(t, filepath.Join("out", "com.a.json"), jsonPath)
	assert.Empty(t, mdPath)
}
