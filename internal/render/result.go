package render

import (
	"encoding/json"

	"envplan/internal/compliance"
	"envplan/internal/generator"
	"envplan/internal/report"
)

// Result is what every generation entry point returns. Failures are carried
// in Errors; callers never receive a Go error.
type Result struct {
	RunID string
	// Documents maps output names (risk_report, emergency_plan, ...) to
	// rendered text.
	Documents         map[string]string
	Success           bool
	Errors            []string
	Warnings          []string
	AISectionsUsed    []string
	ComplianceResults map[string]compliance.Result
	Compliance        *compliance.Summary
	Sections          map[string]generator.Output
	// Section is set by GenerateSection only.
	Section *generator.Output
	Report  *report.RunReport
}

func newResult(runID string) *Result {
	return &Result{
		RunID:             runID,
		Documents:         map[string]string{},
		Errors:            []string{},
		Warnings:          []string{},
		AISectionsUsed:    []string{},
		ComplianceResults: map[string]compliance.Result{},
		Sections:          map[string]generator.Output{},
	}
}

func (r *Result) addError(msg string)   { r.Errors = append(r.Errors, msg) }
func (r *Result) addWarning(msg string) { r.Warnings = append(r.Warnings, msg) }

// MarshalJSON puts every rendered document at the top level next to the
// bookkeeping fields.
func (r *Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Documents)+10)
	for name, text := range r.Documents {
		out[name] = text
	}
	out["run_id"] = r.RunID
	out["success"] = r.Success
	out["errors"] = r.Errors
	out["warnings"] = r.Warnings
	out["ai_sections_used"] = r.AISectionsUsed
	out["compliance_results"] = r.ComplianceResults
	out["sections"] = r.Sections
	if r.Compliance != nil {
		out["compliance"] = r.Compliance
	}
	if r.Section != nil {
		out["section"] = r.Section
	}
	if r.Report != nil {
		out["report"] = r.Report
	}
	return json.Marshal(out)
}
