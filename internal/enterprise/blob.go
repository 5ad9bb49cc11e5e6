// Package enterprise holds the request-scoped enterprise data blob and its
// minimal validation. The rest of the blob is opaque to the core.
package enterprise

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Blob is the decoded enterprise document: nested maps, slices and JSON scalars.
type Blob map[string]any

// Top-level sections every complete blob carries.
const (
	KeyBasicInfo          = "basic_info"
	KeyProductionProcess  = "production_process"
	KeyEnvironmentInfo    = "environment_info"
	KeyComplianceInfo     = "compliance_info"
	KeyEmergencyResources = "emergency_resources"
)

var TopLevelKeys = []string{
	KeyBasicInfo,
	KeyProductionProcess,
	KeyEnvironmentInfo,
	KeyComplianceInfo,
	KeyEmergencyResources,
}

// ListPaths are the dotted paths that must hold arrays when present.
var ListPaths = []string{
	"production_process.products",
	"production_process.raw_materials",
	"production_process.hazardous_chemicals",
	"production_process.equipment",
	"environment_info.nearby_receivers",
	"environment_info.hazardous_waste",
	"compliance_info.drill_records",
	"emergency_resources.contact_list_internal",
	"emergency_resources.contact_list_external",
	"emergency_resources.emergency_materials",
	"emergency_resources.emergency_facilities",
}

func Decode(r io.Reader) (Blob, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode enterprise data: %w", err)
	}
	m, ok := normalize(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("enterprise data must be a JSON object")
	}
	return Blob(m), nil
}

func DecodeFile(path string) (Blob, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

func DecodeBytes(data []byte) (Blob, error) {
	return Decode(bytes.NewReader(data))
}

// normalize turns json.Number into int64 or float64 so that callers only see
// plain Go scalars.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}

// Lookup walks the blob by a dotted path through nested maps only.
func (b Blob) Lookup(path string) (any, bool) {
	return Lookup(map[string]any(b), path)
}

func Lookup(root map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" || root == nil {
		return nil, false
	}
	var cur any = root
	for _, seg := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Section returns a top-level or nested record, or nil.
func (b Blob) Section(path string) map[string]any {
	v, ok := b.Lookup(path)
	if !ok {
		return nil
	}
	m, _ := asMap(v)
	return m
}

// String returns the trimmed string form of a scalar at path.
func (b Blob) String(path string) string {
	v, ok := b.Lookup(path)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// List returns the records stored at path. Non-record elements are skipped.
func (b Blob) List(path string) []map[string]any {
	v, ok := b.Lookup(path)
	if !ok {
		return nil
	}
	return Records(v)
}

func CompanyName(b Blob) string {
	return b.String("basic_info.company_name")
}

// Records converts a list value into its record elements.
func Records(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		if typed, ok := v.([]map[string]any); ok {
			return typed
		}
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if m, ok := asMap(it); ok {
			out = append(out, m)
		}
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Blob:
		return map[string]any(t), true
	default:
		return nil, false
	}
}

func isList(v any) bool {
	switch v.(type) {
	case []any, []map[string]any, []string:
		return true
	default:
		return false
	}
}
