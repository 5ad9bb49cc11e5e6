// Package placeholder resolves {dotted.path} tokens in prompt templates
// against an enterprise blob. Resolution never fails: anything that cannot be
// resolved collapses to UnsuppliedMarker.
package placeholder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"envplan/internal/enterprise"
)

// UnsuppliedMarker is recognised by downstream readers; keep it byte-exact.
const UnsuppliedMarker = "（企业未提供相关信息）"

// maxListPreview is how many names a list summary shows before "等N项".
const maxListPreview = 3

var tokenPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*)\}`)

// DefaultNameKeys is the field preference used to name list elements.
var DefaultNameKeys = []string{"name", "product_name", "chemical_name"}

type Resolver struct {
	// NameKeys overrides the element-name preference for list summaries.
	NameKeys []string
}

func New() *Resolver {
	return &Resolver{NameKeys: DefaultNameKeys}
}

// Extract returns the distinct dotted paths in template, in first-seen order.
func Extract(template string) []string {
	matches := tokenPattern.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}

// Resolve substitutes every token in one pass. Substituted values are not
// re-scanned.
func (r *Resolver) Resolve(template string, blob map[string]any) string {
	return tokenPattern.ReplaceAllStringFunc(template, func(tok string) string {
		path := tok[1 : len(tok)-1]
		if s, ok := r.Lookup(blob, path); ok {
			return s
		}
		return UnsuppliedMarker
	})
}

// Lookup resolves one path and formats it. ok is false when the value is
// missing, null, blank or an empty list.
func (r *Resolver) Lookup(blob map[string]any, path string) (string, bool) {
	v, ok := enterprise.Lookup(blob, path)
	if !ok {
		return "", false
	}
	s := r.Format(v)
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// Missing lists the paths of template that Lookup cannot resolve.
func (r *Resolver) Missing(template string, blob map[string]any) []string {
	var out []string
	for _, p := range Extract(template) {
		if _, ok := r.Lookup(blob, p); !ok {
			out = append(out, p)
		}
	}
	return out
}

// Format serialises a blob value the way prompts expect it.
func (r *Resolver) Format(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		return r.summarize(t)
	case []map[string]any:
		items := make([]any, len(t))
		for i := range t {
			items[i] = t[i]
		}
		return r.summarize(items)
	case []string:
		items := make([]any, len(t))
		for i := range t {
			items[i] = t[i]
		}
		return r.summarize(items)
	case map[string]any:
		return compactJSON(t)
	default:
		return scalarString(t)
	}
}

func (r *Resolver) summarize(items []any) string {
	if len(items) == 0 {
		return ""
	}
	n := len(items)
	if n > maxListPreview {
		items = items[:maxListPreview]
	}
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, r.elementName(it))
	}
	joined := strings.Join(names, "、")
	if n > maxListPreview {
		return fmt.Sprintf("%s等%d项", joined, n)
	}
	return joined
}

func (r *Resolver) elementName(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		if s, isStr := v.(string); isStr {
			return s
		}
		if _, isList := v.([]any); isList {
			return compactJSON(v)
		}
		return scalarString(v)
	}
	keys := r.NameKeys
	if len(keys) == 0 {
		keys = DefaultNameKeys
	}
	for _, k := range keys {
		if name, ok := m[k]; ok && name != nil {
			if s := strings.TrimSpace(scalarString(name)); s != "" {
				return s
			}
		}
	}
	return compactJSON(m)
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func compactJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimRight(buf.String(), "\n")
}
