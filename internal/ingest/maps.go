package ingest

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DataMap maps a flow's PII type to a data ontology term.
type DataMap map[string]string

// DefaultDataMap returns the PII types reported by the VR traffic pipeline.
func DefaultDataMap() DataMap {
	return DataMap{
		"android_id":            "android id",
		"app_name":              "app name",
		"build_version":         "build version",
		"cookie":                "cookie",
		"device_id":             "device id",
		"email":                 "email address",
		"flags":                 "flags",
		"geographical_location": "geographical location",
		"hardware_info":         "hardware information",
		"person_name":           "person name",
		"sdk_version":           "sdk version",
		"serial_number":         "serial number",
		"session_info":          "session information",
		"system_version":        "system version",
		"language":              "language",
		"usage_time":            "usage time",
		"user_id":               "user id",
		"vr_field_of_view":      "vr field of view",
		"vr_ipd":                "vr pupillary distance",
		"vr_play_area":          "vr play area",
		"vr_movement":           "vr movement",
		"vr_position":           "vr movement",
		"vr_rotation":           "vr movement",
	}
}

// LoadDataMap reads a YAML mapping of PII type to data term.
func LoadDataMap(path string) (DataMap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read data map: %w", err)
	}
	var m DataMap
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse data map %s: %w", path, err)
	}
	return m, nil
}

// loadNameLists reads a YAML mapping of name to list of aliases.
func loadNameLists(path string) (map[string][]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string][]string
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return m, nil
}

// LoadFirstPartyNames reads a YAML mapping of package name to the names the
// developer goes by in its policy.
func LoadFirstPartyNames(path string) (map[string][]string, error) {
	m, err := loadNameLists(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load first party names: %w", err)
	}
	return m, nil
}

// LoadDomainMap reads a YAML mapping of entity to its domains and returns
// a resolver over it.
func LoadDomainMap(path, firstParty string) (*DomainResolver, error) {
	m, err := loadNameLists(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load domain map: %w", err)
	}
	return NewDomainResolver(m, firstParty), nil
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}
