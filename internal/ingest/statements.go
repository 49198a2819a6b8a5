package ingest

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// RawStatement is a statement as extracted from a policy, before its terms
// are resolved against the ontologies.
type RawStatement struct {
	Entity   string `json:"entity"`
	Action   string `json:"action"`
	Data     string `json:"data"`
	Sentence string `json:"sentence,omitempty"`
}

// statementExts are the statement file formats, in lookup order.
var statementExts = []string{".csv", ".jsonl"}

// ReadStatements parses statements in the given format (".csv" or ".jsonl").
// CSV input needs a header naming entity, action and data; sentence is
// optional.
func ReadStatements(r io.Reader, ext string) ([]RawStatement, error) {
	switch strings.ToLower(ext) {
	case ".csv":
		return readStatementsCSV(r)
	case ".jsonl":
		return readStatementsJSONL(r)
	default:
		return nil, fmt.Errorf("unsupported statement format %q", ext)
	}
}

func readStatementsCSV(r io.Reader) ([]RawStatement, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	idx := map[string]int{"sentence": -1}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"entity", "action", "data"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("statements file is missing column %q", col)
		}
	}

	var out []RawStatement
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		cell := func(col string) string {
			i := idx[col]
			if i < 0 || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		out = append(out, RawStatement{
			Entity:   cell("entity"),
			Action:   cell("action"),
			Data:     cell("data"),
			Sentence: cell("sentence"),
		})
	}
}

func readStatementsJSONL(r io.Reader) ([]RawStatement, error) {
	var out []RawStatement
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var s RawStatement
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read statements: %w", err)
	}
	return out, nil
}

// LoadStatements reads a statement file, picking the format by extension.
func LoadStatements(path string) ([]RawStatement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open statements: %w", err)
	}
	defer f.Close()

	out, err := ReadStatements(f, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// findStatementFile returns the statement file for name in dir, or "" when
// there is none.
func findStatementFile(dir, name string) string {
	for _, ext := range statementExts {
		p := filepath.Join(dir, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// statementName returns the app or extra-policy name of a statement file,
// or "" when path is not one.
func statementName(path string) string {
	ext := filepath.Ext(path)
	for _, e := range statementExts {
		if strings.EqualFold(ext, e) {
			return strings.TrimSuffix(filepath.Base(path), ext)
		}
	}
	return ""
}
