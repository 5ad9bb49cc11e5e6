// Package compliance checks generated prose against the per-section matrix of
// required concepts, forbidden concepts and document rules.
package compliance

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Entry is the rule set for one section id.
type Entry struct {
	MustCover    []string `json:"must_cover,omitempty"`
	Avoid        []string `json:"avoid,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
}

// Matrix maps section id to its rules.
type Matrix map[string]Entry

// Concepts maps a concept tag to the keywords that evidence it.
type Concepts map[string][]string

func ParseMatrix(data []byte) (Matrix, error) {
	var m Matrix
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse compliance matrix: %w", err)
	}
	if m == nil {
		m = Matrix{}
	}
	return m, nil
}

func LoadMatrix(path string) (Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compliance matrix: %w", err)
	}
	return ParseMatrix(data)
}

func ParseConcepts(data []byte) (Concepts, error) {
	var c Concepts
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse concept dictionary: %w", err)
	}
	for tag, words := range c {
		kept := words[:0]
		for _, w := range words {
			if strings.TrimSpace(w) != "" {
				kept = append(kept, w)
			}
		}
		c[tag] = kept
	}
	if c == nil {
		c = Concepts{}
	}
	return c, nil
}

func LoadConcepts(path string) (Concepts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read concept dictionary: %w", err)
	}
	return ParseConcepts(data)
}

// Keywords returns the keyword list for tag, falling back to the built-in
// scenario families.
func (c Concepts) Keywords(tag string) ([]string, bool) {
	if words, ok := c[tag]; ok && len(words) > 0 {
		return words, true
	}
	words, ok := builtinFamilies[tag]
	return words, ok
}

var builtinFamilies = map[string][]string{
	"scenario_liquid_leak": {"泄漏", "泄露", "液体", "溢出", "围堰"},
	"scenario_gas_leak":    {"气体泄漏", "有毒气体", "毒气", "逸散", "挥发"},
	"scenario_fire":        {"火灾", "燃烧", "爆炸", "灭火"},
	"flow_structure":       {"报警", "研判", "处置", "报告", "疏散", "警戒"},
	"absolute_language":    {"绝对不会", "完全不会", "绝对安全", "完全满足", "绝对不会造成影响"},
}
