package compliance

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"envplan/internal/logging"
)

const (
	MinTextRunes = 50
	MinLines     = 3
	issuePenalty = 10
	// aggregatePenalty is deducted per issue across a batch.
	aggregatePenalty = 5
	NoRulesWarning   = "no rules"
)

// Result is the verdict for one section.
type Result struct {
	SectionID string   `json:"section_id"`
	Passed    bool     `json:"passed"`
	Score     int      `json:"score"`
	Issues    []string `json:"issues"`
	Warnings  []string `json:"warnings"`
}

// Summary aggregates a batch of results.
type Summary struct {
	Results       map[string]Result `json:"results"`
	TotalIssues   int               `json:"total_issues"`
	TotalWarnings int               `json:"total_warnings"`
	OverallScore  int               `json:"overall_score"`
	Passed        bool              `json:"passed"`
}

type ruleset struct {
	matrix   Matrix
	concepts Concepts
}

// Checker holds the current matrix and concept dictionary. Reload swaps
// both atomically.
type Checker struct {
	state  atomic.Pointer[ruleset]
	logger *slog.Logger
}

func NewChecker(matrix Matrix, concepts Concepts, logger *slog.Logger) *Checker {
	c := &Checker{logger: logging.OrDiscard(logger)}
	c.Replace(matrix, concepts)
	return c
}

// LoadChecker builds a checker from the two JSON files. On failure the
// checker is still usable with an empty matrix, and the error is returned.
func LoadChecker(matrixPath, conceptsPath string, logger *slog.Logger) (*Checker, error) {
	c := NewChecker(nil, nil, logger)
	return c, c.Reload(matrixPath, conceptsPath)
}

// Reload re-reads both files. Any failure leaves an empty matrix in place.
func (c *Checker) Reload(matrixPath, conceptsPath string) error {
	matrix, mErr := LoadMatrix(matrixPath)
	concepts, cErr := LoadConcepts(conceptsPath)
	if err := errors.Join(mErr, cErr); err != nil {
		c.Replace(nil, nil)
		c.logger.Error("compliance rules unusable, continuing with empty matrix", "matrix", matrixPath, "concepts", conceptsPath, "error", err)
		return err
	}
	c.Replace(matrix, concepts)
	c.logger.Info("compliance rules loaded", "sections", len(matrix), "concepts", len(concepts))
	return nil
}

func (c *Checker) Replace(matrix Matrix, concepts Concepts) {
	if matrix == nil {
		matrix = Matrix{}
	}
	if concepts == nil {
		concepts = Concepts{}
	}
	c.state.Store(&ruleset{matrix: matrix, concepts: concepts})
}

// Entry returns the matrix entry for a section.
func (c *Checker) Entry(sectionID string) (Entry, bool) {
	e, ok := c.state.Load().matrix[sectionID]
	return e, ok
}

// Check evaluates text against the rules of sectionID.
func (c *Checker) Check(sectionID, text string) Result {
	rs := c.state.Load()
	entry, ok := rs.matrix[sectionID]
	if !ok {
		return Result{SectionID: sectionID, Passed: true, Score: 100, Issues: []string{}, Warnings: []string{NoRulesWarning}}
	}

	lower := strings.ToLower(text)
	res := Result{SectionID: sectionID, Issues: []string{}, Warnings: []string{}}

	for _, tag := range entry.MustCover {
		words, known := rs.concepts.Keywords(tag)
		if !known {
			res.Warnings = append(res.Warnings, "未定义的概念: "+tag)
		}
		if !containsAny(lower, words...) {
			res.Issues = append(res.Issues, "缺少必须覆盖的内容: "+tag)
		}
	}
	for _, tag := range entry.Avoid {
		words, known := rs.concepts.Keywords(tag)
		if !known {
			res.Warnings = append(res.Warnings, "未定义的概念: "+tag)
			continue
		}
		if containsAny(lower, words...) {
			res.Issues = append(res.Issues, "包含应避免的内容: "+tag)
		}
	}
	for _, id := range entry.Requirements {
		r, known := rules[id]
		if !known {
			res.Warnings = append(res.Warnings, "未知的规则: "+id)
			continue
		}
		if r.check(lower, rs.concepts) {
			continue
		}
		if r.severity == severityWarning {
			res.Warnings = append(res.Warnings, r.message)
		} else {
			res.Issues = append(res.Issues, r.message)
		}
	}

	res.Issues = append(res.Issues, generalIssues(lower)...)
	res.Warnings = append(res.Warnings, generalWarnings(text)...)

	res.Score = max(0, 100-issuePenalty*len(res.Issues))
	res.Passed = len(res.Issues) == 0
	return res
}

var absolutePhrases = builtinFamilies["absolute_language"]

func generalIssues(lower string) []string {
	var out []string
	for _, phrase := range absolutePhrases {
		if strings.Contains(lower, phrase) {
			out = append(out, "使用了绝对化表述: "+phrase)
		}
	}
	return out
}

func generalWarnings(text string) []string {
	var out []string
	if utf8.RuneCountInString(strings.TrimSpace(text)) < MinTextRunes {
		out = append(out, "内容过短")
	}
	lines := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines++
		}
	}
	if lines < MinLines {
		out = append(out, "内容结构不完整，段落少于3行")
	}
	return out
}

// CheckMany checks every section text and aggregates the verdicts.
func (c *Checker) CheckMany(texts map[string]string) Summary {
	results := make([]Result, 0, len(texts))
	for id, text := range texts {
		results = append(results, c.Check(id, text))
	}
	return Aggregate(results)
}

// Aggregate totals results; the overall score loses 5 points per issue.
func Aggregate(results []Result) Summary {
	s := Summary{Results: make(map[string]Result, len(results))}
	for _, r := range results {
		s.Results[r.SectionID] = r
		s.TotalIssues += len(r.Issues)
		s.TotalWarnings += len(r.Warnings)
	}
	s.OverallScore = max(0, 100-aggregatePenalty*s.TotalIssues)
	s.Passed = s.TotalIssues == 0
	return s
}

// SectionIDs returns the ids that have matrix entries, sorted.
func (c *Checker) SectionIDs() []string {
	m := c.state.Load().matrix
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
