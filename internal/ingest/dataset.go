package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/ppiankov/policheck/internal/logging"
	"github.com/ppiankov/policheck/internal/model"
	"github.com/ppiankov/policheck/internal/term"
)

// extraPrefix marks statement files of SDK and platform policies.
const extraPrefix = "@extra."

// ErrUnknownApp is returned when an app has neither statements nor flows.
var ErrUnknownApp = errors.New("unknown app")

// Options configures a Dataset.
type Options struct {
	PolicyDir                string
	FlowsFile                string
	DataMap                  DataMap
	Domains                  *DomainResolver
	FirstPartyNames          map[string][]string
	FirstPartyEntity         string
	UnknownEntity            string
	IgnoreQualifiedNegatives bool
}

// OptionsFromConfig loads the maps named by cfg. Missing optional map files
// fall back to the built-in data map and an empty domain map.
func OptionsFromConfig(cfg *model.Config) (Options, error) {
	d := cfg.Data
	opts := Options{
		PolicyDir:                d.Path(d.PolicyDir),
		FlowsFile:                d.Path(d.FlowsFile),
		DataMap:                  DefaultDataMap(),
		Domains:                  NewDomainResolver(nil, cfg.Analysis.FirstPartyEntity),
		FirstPartyEntity:         cfg.Analysis.FirstPartyEntity,
		UnknownEntity:            cfg.Analysis.UnknownEntity,
		IgnoreQualifiedNegatives: d.IgnoreQualifiedNegatives,
	}

	if p := d.Path(d.DataMapPath); p != "" {
		m, err := LoadDataMap(p)
		if err != nil {
			return Options{}, err
		}
		opts.DataMap = m
	}
	if p := d.Path(d.DomainMapPath); p != "" {
		r, err := LoadDomainMap(p, cfg.Analysis.FirstPartyEntity)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Options{}, err
		}
		if err == nil {
			opts.Domains = r
		}
	}
	if p := d.Path(d.FirstPartyNamesPath); p != "" {
		names, err := LoadFirstPartyNames(p)
		if err != nil {
			return Options{}, err
		}
		opts.FirstPartyNames = names
	}
	return opts, nil
}

// AppInput is everything the analyzer needs for one app.
type AppInput struct {
	AppID      string
	Statements []model.Statement
	Flows      []term.DataFlow
	Skips      []model.Skip
}

// PolicyStatements returns the bare statements.
func (in *AppInput) PolicyStatements() []term.PolicyStatement {
	out := make([]term.PolicyStatement, len(in.Statements))
	for i, s := range in.Statements {
		out[i] = s.PolicyStatement
	}
	return out
}

// Dataset indexes a policy directory and a flows file.
type Dataset struct {
	opts   Options
	vocab  *term.Vocabulary
	norm   *Normalizer
	logger *slog.Logger

	apps   []string
	flows  map[string][]FlowRow
	extras map[string][]model.Statement
}

// Open scans the policy directory, loads every extra policy and reads the
// flows file.
func Open(opts Options, vocab *term.Vocabulary, logger *slog.Logger) (*Dataset, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.DataMap == nil {
		opts.DataMap = DefaultDataMap()
	}
	if opts.Domains == nil {
		opts.Domains = NewDomainResolver(nil, opts.FirstPartyEntity)
	}

	ds := &Dataset{
		opts:   opts,
		vocab:  vocab,
		norm:   NewNormalizer(vocab, opts.FirstPartyEntity, opts.IgnoreQualifiedNegatives),
		logger: logger,
		flows:  map[string][]FlowRow{},
		extras: map[string][]model.Statement{},
	}

	if opts.FlowsFile != "" {
		flows, err := LoadFlows(opts.FlowsFile)
		if err != nil {
			return nil, err
		}
		ds.flows = flows
	}

	if opts.PolicyDir != "" {
		if err := ds.scanPolicies(); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func (ds *Dataset) scanPolicies() error {
	entries, err := os.ReadDir(ds.opts.PolicyDir)
	if err != nil {
		return fmt.Errorf("failed to read policy directory: %w", err)
	}

	seen := map[string]bool{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := statementName(e.Name())
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		if entity, ok := strings.CutPrefix(name, extraPrefix); ok {
			stmts, err := ds.loadExtra(entity, filepath.Join(ds.opts.PolicyDir, e.Name()))
			if err != nil {
				return err
			}
			ds.extras[entity] = stmts
			continue
		}
		ds.apps = append(ds.apps, name)
	}
	sort.Strings(ds.apps)
	return nil
}

// loadExtra loads an SDK or platform policy. Statements by the first party
// or by the entity itself are bound to the entity; statements about other
// entities are kept as they are.
func (ds *Dataset) loadExtra(entity, path string) ([]model.Statement, error) {
	raw, err := LoadStatements(path)
	if err != nil {
		return nil, err
	}

	owner, ownerErr := ds.vocab.Entities.Term(entity)
	var aliases []term.Entity
	if entity == "oculus" {
		if fb, err := ds.vocab.Entities.Term("facebook"); err == nil {
			aliases = append(aliases, fb)
		}
	}

	source := extraPrefix + entity
	var out []model.Statement
	for i, r := range raw {
		stmts, skips, err := ds.norm.Normalize(r, nil)
		if err != nil {
			return nil, fmt.Errorf("%s statement %d: %w", source, i+1, err)
		}
		ds.logSkips(source, skips)

		sentence := fmt.Sprintf("@%s: %s", entity, r.Sentence)
		for _, st := range stmts {
			bound := string(st.Entity) == ds.opts.FirstPartyEntity || strings.EqualFold(string(st.Entity), entity)
			if !bound {
				out = append(out, model.Statement{PolicyStatement: st, Sentence: sentence, Source: source})
				continue
			}
			if ownerErr != nil {
				ds.logSkips(source, []model.Skip{{Kind: model.SkipStatement, Label: entity, Reason: "extra policy entity not in ontology"}})
				continue
			}
			st.Entity = owner
			out = append(out, model.Statement{PolicyStatement: st, Sentence: sentence, Source: source})
			for _, alias := range aliases {
				st.Entity = alias
				out = append(out, model.Statement{PolicyStatement: st, Sentence: sentence, Source: source})
			}
		}
	}
	return out, nil
}

// Apps returns the apps that have a statement file, sorted.
func (ds *Dataset) Apps() []string {
	return slices.Clone(ds.apps)
}

// Extras returns the names of the loaded extra policies, sorted.
func (ds *Dataset) Extras() []string {
	out := make([]string, 0, len(ds.extras))
	for name := range ds.extras {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Load resolves the statements and flows of one app. An app without a
// statement file has no statements; an action outside collect/not_collect
// fails the whole app.
func (ds *Dataset) Load(appID string) (*AppInput, error) {
	in := &AppInput{AppID: appID}
	rows := ds.flows[AppKey(appID)]

	var path string
	if ds.opts.PolicyDir != "" {
		path = findStatementFile(ds.opts.PolicyDir, appID)
	}
	if path == "" && len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, appID)
	}

	extraNames := ds.resolveFlows(in, rows)

	if path == "" {
		in.Skips = append(in.Skips, model.Skip{Kind: model.SkipNoStatements, Label: appID, Reason: "no statement file"})
	} else {
		raw, err := LoadStatements(path)
		if err != nil {
			return nil, err
		}
		names := ds.opts.FirstPartyNames[appID]
		if names == nil {
			names = ds.opts.FirstPartyNames[AppKey(appID)]
		}
		source := filepath.Base(path)
		for i, r := range raw {
			stmts, skips, err := ds.norm.Normalize(r, names)
			if err != nil {
				return nil, fmt.Errorf("%s statement %d: %w", source, i+1, err)
			}
			in.Skips = append(in.Skips, skips...)
			for _, st := range stmts {
				in.Statements = append(in.Statements, model.Statement{PolicyStatement: st, Sentence: r.Sentence, Source: source})
			}
		}
	}

	for _, name := range extraNames {
		extra, ok := ds.extras[name]
		if !ok {
			in.Skips = append(in.Skips, model.Skip{Kind: model.SkipExtraPolicy, Label: name, Reason: "extra policy not found"})
			continue
		}
		in.Statements = append(in.Statements, extra...)
	}
	in.Statements = dedupeStatements(in.Statements)

	if len(in.Flows) == 0 {
		in.Skips = append(in.Skips, model.Skip{Kind: model.SkipNoFlows, Label: appID, Reason: "no resolvable flows"})
	}

	ds.logSkips(appID, in.Skips)
	ds.logger.Debug("loaded app", "app", appID, "statements", len(in.Statements), "flows", len(in.Flows))
	return in, nil
}

// resolveFlows maps flow rows to terms, appending flows and skips to in,
// and returns the extra policies the rows reference, sorted.
func (ds *Dataset) resolveFlows(in *AppInput, rows []FlowRow) []string {
	extras := map[string]bool{}
	seen := map[term.DataFlow]bool{}

	for _, row := range rows {
		for _, e := range row.ExtraPolicies {
			extras[e] = true
		}

		mapped, ok := ds.opts.DataMap[row.PIIType]
		if !ok {
			in.Skips = append(in.Skips, model.Skip{Kind: model.SkipFlowData, Label: row.PIIType, Reason: "no data map entry"})
			continue
		}
		data, err := ds.vocab.Data.Term(mapped)
		if err != nil {
			in.Skips = append(in.Skips, model.Skip{Kind: model.SkipFlowOntology, Label: row.PIIType, Reason: fmt.Sprintf("%q not in data ontology", mapped)})
			continue
		}

		dest := row.Destination()
		name, _ := ds.opts.Domains.Resolve(dest, AppIdentity{Package: row.AppID, Developer: row.Creator, PolicyURL: row.PolicyURL})
		entity, err := ds.vocab.Entities.Term(name)
		if name == "" || err != nil {
			unknown, uerr := ds.vocab.Entities.Term(ds.opts.UnknownEntity)
			if ds.opts.UnknownEntity == "" || uerr != nil {
				in.Skips = append(in.Skips, model.Skip{Kind: model.SkipFlowEntity, Label: dest, Reason: "unresolved destination; flow dropped"})
				continue
			}
			in.Skips = append(in.Skips, model.Skip{Kind: model.SkipFlowEntity, Label: dest, Reason: "unresolved destination; using " + ds.opts.UnknownEntity})
			entity = unknown
		}

		f := term.DataFlow{Entity: entity, Data: data}
		if !seen[f] {
			seen[f] = true
			in.Flows = append(in.Flows, f)
		}
	}

	out := make([]string, 0, len(extras))
	for e := range extras {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// dedupeStatements keeps the first occurrence of each statement.
func dedupeStatements(in []model.Statement) []model.Statement {
	seen := make(map[term.PolicyStatement]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if seen[s.PolicyStatement] {
			continue
		}
		seen[s.PolicyStatement] = true
		out = append(out, s)
	}
	return out
}

func (ds *Dataset) logSkips(app string, skips []model.Skip) {
	for _, s := range skips {
		ds.logger.Info("skipped input", "app", app, "kind", s.Kind, "label", s.Label, "reason", s.Reason)
	}
}
