// Package report records what happened during one generation run: stage
// timings, per-section metrics and notable signals.
package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

type Signal struct {
	Code     string  `json:"code"`
	Stage    string  `json:"stage"`
	Severity string  `json:"severity"`
	Message  string  `json:"message"`
	Value    float64 `json:"value,omitempty"`
}

type StageMetric struct {
	Name       string             `json:"name"`
	Status     string             `json:"status"`
	StartedAt  string             `json:"started_at"`
	FinishedAt string             `json:"finished_at"`
	DurationMS int64              `json:"duration_ms"`
	Counters   map[string]float64 `json:"counters,omitempty"`
	Notes      []string           `json:"notes,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type SectionMetric struct {
	SectionID       string   `json:"section_id"`
	Model           string   `json:"model"`
	Attempts        int      `json:"attempts"`
	Augmentations   int      `json:"augmentations"`
	Checked         bool     `json:"checked"`
	Passed          bool     `json:"passed"`
	ComplianceScore int      `json:"compliance_score"`
	Issues          []string `json:"issues,omitempty"`
	TextRunes       int      `json:"text_runes"`
	UsedMock        bool     `json:"used_mock"`
	Failed          bool     `json:"failed"`
	DurationMS      int64    `json:"duration_ms"`
}

type Summary struct {
	StageCount         int            `json:"stage_count"`
	SectionCount       int            `json:"section_count"`
	FailedStages       int            `json:"failed_stages"`
	FailedSections     int            `json:"failed_sections"`
	NonCompliant       int            `json:"non_compliant_sections"`
	MockSections       int            `json:"mock_sections"`
	AvgComplianceScore float64        `json:"avg_compliance_score"`
	SignalsBySeverity  map[string]int `json:"signals_by_severity"`
}

type RunReport struct {
	Version      string          `json:"version"`
	RunID        string          `json:"run_id"`
	Mode         string          `json:"mode"`
	EnterpriseID string          `json:"enterprise_id,omitempty"`
	GeneratedAt  string          `json:"generated_at"`
	Stages       []StageMetric   `json:"stages"`
	Sections     []SectionMetric `json:"sections,omitempty"`
	Signals      []Signal        `json:"signals,omitempty"`
	Summary      Summary         `json:"summary"`
}

type StageHandle struct {
	name    string
	started time.Time
}

func New(runID, mode string) *RunReport {
	return &RunReport{
		Version:     "v1",
		RunID:       runID,
		Mode:        mode,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Stages:      []StageMetric{},
		Sections:    []SectionMetric{},
		Signals:     []Signal{},
	}
}

func (r *RunReport) BeginStage(name string) StageHandle {
	return StageHandle{name: strings.TrimSpace(name), started: time.Now().UTC()}
}

func (r *RunReport) EndStage(h StageHandle, status string, counters map[string]float64, notes []string, err error) {
	if r == nil || strings.TrimSpace(h.name) == "" {
		return
	}
	if strings.TrimSpace(status) == "" {
		status = "ok"
	}
	finished := time.Now().UTC()
	m := StageMetric{
		Name:       h.name,
		Status:     status,
		StartedAt:  h.started.Format(time.RFC3339Nano),
		FinishedAt: finished.Format(time.RFC3339Nano),
		DurationMS: finished.Sub(h.started).Milliseconds(),
		Counters:   cleanCounters(counters),
		Notes:      cleanNotes(notes),
	}
	if err != nil {
		m.Error = err.Error()
		if status == "ok" {
			m.Status = "error"
		}
	}
	r.Stages = append(r.Stages, m)
}

func (r *RunReport) AddSignal(code, stage, severity, message string, value float64) {
	if r == nil {
		return
	}
	s := Signal{
		Code:     strings.TrimSpace(code),
		Stage:    strings.TrimSpace(stage),
		Severity: strings.ToLower(strings.TrimSpace(severity)),
		Message:  strings.TrimSpace(message),
		Value:    value,
	}
	if s.Code == "" || s.Stage == "" || s.Severity == "" || s.Message == "" {
		return
	}
	r.Signals = append(r.Signals, s)
}

func (r *RunReport) AddSection(m SectionMetric) {
	if r == nil || strings.TrimSpace(m.SectionID) == "" {
		return
	}
	r.Sections = append(r.Sections, m)
}

func (r *RunReport) Finalize() {
	if r == nil {
		return
	}
	r.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	severityCount := map[string]int{
		SeverityCritical: 0,
		SeverityWarning:  0,
		SeverityInfo:     0,
	}
	sort.SliceStable(r.Signals, func(i, j int) bool {
		pi := signalPriority(r.Signals[i].Severity)
		pj := signalPriority(r.Signals[j].Severity)
		if pi == pj {
			if r.Signals[i].Stage == r.Signals[j].Stage {
				return r.Signals[i].Code < r.Signals[j].Code
			}
			return r.Signals[i].Stage < r.Signals[j].Stage
		}
		return pi > pj
	})
	for _, s := range r.Signals {
		severityCount[s.Severity]++
	}

	failed := 0
	for _, st := range r.Stages {
		if st.Status != "ok" {
			failed++
		}
	}

	sum := Summary{
		StageCount:        len(r.Stages),
		SectionCount:      len(r.Sections),
		FailedStages:      failed,
		SignalsBySeverity: severityCount,
	}
	checked := 0
	totalScore := 0
	for _, sec := range r.Sections {
		if sec.Failed {
			sum.FailedSections++
		}
		if sec.UsedMock {
			sum.MockSections++
		}
		if sec.Checked {
			checked++
			totalScore += sec.ComplianceScore
			if !sec.Passed {
				sum.NonCompliant++
			}
		}
	}
	if checked > 0 {
		sum.AvgComplianceScore = float64(totalScore) / float64(checked)
	}
	r.Summary = sum
}

func (r *RunReport) Save(path string) error {
	if r == nil {
		return nil
	}
	r.Finalize()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0644)
}

func cleanCounters(raw map[string]float64) map[string]float64 {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		out[key] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cleanNotes(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, n := range raw {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func signalPriority(severity string) int {
	switch severity {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	default:
		return 1
	}
}
