package lint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envplan/internal/section"
	"envplan/internal/templates"
)

func TestReferences(t *testing.T) {
	src := `
{# {{ ai_sections.commented_out }} #}
{{ ai_sections.enterprise_overview }}
{{ai_sections.air_environment_impact|default("")}}
{% if ai_sections.water_environment_impact %}{{ ai_sections.water_environment_impact }}{% endif %}
{{ ai_sections["risk_summary"] }}
plain text ai_sections.not_in_a_tag
{{ my_ai_sections.lookalike }}
{% for id in ai_sections %}{{ id }}{% endfor %}
`
	assert.Equal(t, []string{
		"air_environment_impact",
		"enterprise_overview",
		"risk_summary",
		"water_environment_impact",
	}, References(src))
}

type fixture struct {
	dir      string
	sections *section.Registry
	tpls     *templates.Registry
}

func newFixture(t *testing.T, files map[string]string) fixture {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
	}
	sections := section.NewRegistry(map[string]section.Definition{
		"enterprise_overview":    {Enabled: section.Flag(true), Document: section.RiskAssessment, SystemPrompt: "s", UserTemplate: "u"},
		"air_environment_impact": {Enabled: section.Flag(true), Document: section.RiskAssessment, SystemPrompt: "s", UserTemplate: "u"},
		"legacy_section":         {Enabled: section.Flag(false), Document: section.EmergencyPlan, SystemPrompt: "s", UserTemplate: "u"},
		"orphan_section":         {Enabled: section.Flag(true), Document: section.ResourceReport, SystemPrompt: "s", UserTemplate: "u"},
	})
	tpls, err := templates.Parse([]byte(`{
	  "templates": {
	    "risk_assessment": {"template_path": "risk.j2", "ai_sections": ["enterprise_overview", "air_environment_impact"], "output_name": "risk_report"},
	    "emergency_plan": {"template_path": "plan.j2", "ai_sections": ["legacy_section"], "output_name": "emergency_plan"}
	  },
	  "document_types": {}
	}`), dir)
	require.NoError(t, err)
	return fixture{dir: dir, sections: sections, tpls: tpls}
}

func TestRun_Consistent(t *testing.T) {
	f := newFixture(t, map[string]string{
		"risk.j2": "{{ ai_sections.enterprise_overview }}\n{{ ai_sections.air_environment_impact }}",
		"plan.j2": "{{ ai_sections.legacy_section }}",
	})
	rep := New(f.sections, f.tpls).Run()

	assert.True(t, rep.Success, rep.ErrorStrings())
	assert.Empty(t, rep.Errors)
	require.Len(t, rep.Templates, 2)

	var msgs []string
	for _, w := range rep.Warnings {
		msgs = append(msgs, w.Message)
	}
	assert.Contains(t, msgs, "ai_sections.legacy_section is used but the section is disabled")
	assert.Contains(t, msgs, `section "orphan_section" is defined but not used by any template`)
}

func TestRun_DetectsUndefinedReference(t *testing.T) {
	f := newFixture(t, map[string]string{
		"risk.j2": "{{ ai_sections.enterprise_overview }}\n{{ ai_sections.air_environment_impact }}\n{{ ai_sections.nonexistent }}",
		"plan.j2": "{{ ai_sections.legacy_section }}",
	})
	rep := New(f.sections, f.tpls).Run()

	assert.False(t, rep.Success)
	riskPath := filepath.Join(f.dir, "risk.j2")
	found := false
	for _, e := range rep.ErrorStrings() {
		if strings.Contains(e, riskPath) && strings.Contains(e, "nonexistent") {
			found = true
		}
	}
	assert.True(t, found, rep.ErrorStrings())
	assert.NotEmpty(t, rep.Suggestions)
}

func TestRun_UsedButNotDeclared(t *testing.T) {
	f := newFixture(t, map[string]string{
		"risk.j2": "{{ ai_sections.enterprise_overview }}{{ ai_sections.air_environment_impact }}",
		"plan.j2": "{{ ai_sections.legacy_section }}{{ ai_sections.orphan_section }}",
	})
	rep := New(f.sections, f.tpls).Run()

	require.Len(t, rep.Errors, 1)
	assert.Equal(t, "orphan_section", rep.Errors[0].Section)
	assert.Equal(t, "emergency_plan", rep.Errors[0].Template)
}

func TestRun_DeclaredButUnusedWarns(t *testing.T) {
	f := newFixture(t, map[string]string{
		"risk.j2": "{{ ai_sections.enterprise_overview }}",
		"plan.j2": "{{ ai_sections.legacy_section }}",
	})
	rep := New(f.sections, f.tpls).Run()

	assert.True(t, rep.Success)
	var found bool
	for _, w := range rep.Warnings {
		if w.Template == "risk_assessment" && w.Section == "air_environment_impact" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRun_MissingFileIsError(t *testing.T) {
	f := newFixture(t, map[string]string{
		"risk.j2": "{{ ai_sections.enterprise_overview }}{{ ai_sections.air_environment_impact }}",
	})
	rep := New(f.sections, f.tpls).Run()

	assert.False(t, rep.Success)
	require.Len(t, rep.Errors, 1)
	assert.Equal(t, "template file not found", rep.Errors[0].Message)
	assert.Equal(t, filepath.Join(f.dir, "plan.j2"), rep.Errors[0].Path)
}
