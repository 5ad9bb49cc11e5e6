package section

import (
	"encoding/json"
	"fmt"
)

// Document is the closed set of target documents a section belongs to.
type Document string

const (
	RiskAssessment Document = "risk_assessment"
	EmergencyPlan  Document = "emergency_plan"
	ResourceReport Document = "resource_report"
)

var Documents = []Document{RiskAssessment, EmergencyPlan, ResourceReport}

func ParseDocument(s string) (Document, error) {
	d := Document(s)
	if !d.Valid() {
		return "", fmt.Errorf("unknown document %q", s)
	}
	return d, nil
}

func (d Document) Valid() bool {
	switch d {
	case RiskAssessment, EmergencyPlan, ResourceReport:
		return true
	}
	return false
}

func (d Document) String() string { return string(d) }

// Title is the Chinese name of the document.
func (d Document) Title() string {
	switch d {
	case RiskAssessment:
		return "突发环境事件风险评估报告"
	case EmergencyPlan:
		return "突发环境事件应急预案"
	case ResourceReport:
		return "应急资源调查报告"
	}
	return string(d)
}

func (d *Document) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("document must be a string: %w", err)
	}
	parsed, err := ParseDocument(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
