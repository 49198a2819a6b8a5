// Package ingest loads policy statements and observed data flows from disk
// and resolves them to ontology terms.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// flowColumns are the columns ReadFlows requires.
var flowColumns = []string{
	"app_id", "pii_types", "hostname", "dst_ip",
	"creator", "developer_privacy_policy", "extra_policies",
}

// FlowRow is one line of the flows file. "N/A" cells are read as empty.
type FlowRow struct {
	AppID         string
	PIIType       string
	Hostname      string
	DstIP         string
	Creator       string
	PolicyURL     string
	ExtraPolicies []string
}

// Destination returns the hostname, falling back to the destination IP.
func (r FlowRow) Destination() string {
	if r.Hostname != "" {
		return r.Hostname
	}
	return r.DstIP
}

var versionSuffix = regexp.MustCompile(`-[0-9]+$`)

// AppKey strips a trailing "-<digits>" version from an app name.
func AppKey(name string) string {
	return versionSuffix.ReplaceAllString(name, "")
}

// ReadFlows parses a flows CSV with a header row.
func ReadFlows(r io.Reader) ([]FlowRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("flows file is empty")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, col := range flowColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("flows file is missing column %q", col)
		}
	}

	var rows []FlowRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		get := func(col string) string {
			i := idx[col]
			if i >= len(rec) {
				return ""
			}
			v := strings.TrimSpace(rec[i])
			if v == "N/A" {
				return ""
			}
			return v
		}

		row := FlowRow{
			AppID:     get("app_id"),
			PIIType:   get("pii_types"),
			Hostname:  get("hostname"),
			DstIP:     get("dst_ip"),
			Creator:   get("creator"),
			PolicyURL: get("developer_privacy_policy"),
		}
		for _, e := range strings.Split(get("extra_policies"), "+") {
			if e = strings.TrimSpace(e); e != "" {
				row.ExtraPolicies = append(row.ExtraPolicies, e)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LoadFlows reads a flows file and groups its rows by app id.
func LoadFlows(path string) (map[string][]FlowRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open flows file: %w", err)
	}
	defer f.Close()

	rows, err := ReadFlows(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	byApp := make(map[string][]FlowRow)
	for _, r := range rows {
		byApp[r.AppID] = append(byApp[r.AppID], r)
	}
	return byApp, nil
}
