package section

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCatalog = `{
  "sections": {
    "enterprise_overview": {
      "enabled": true,
      "document": "risk_assessment",
      "description": "企业概况",
      "version": 2,
      "model": "gpt-4o-mini",
      "system_prompt": "你是环境风险评估专家。",
      "user_template": "为{basic_info.company_name}生成概况，行业{basic_info.industry_category}，{basic_info.company_name}",
      "fields": ["basic_info.company_name"]
    },
    "emergency_response_procedure": {
      "enabled": true,
      "document": "emergency_plan",
      "system_prompt": "你是应急预案编制专家。",
      "user_template": "{emergency_resources.contact_list_internal}"
    },
    "resource_gap_recommendations": {
      "enabled": false,
      "document": "resource_report",
      "system_prompt": "s",
      "user_template": "u"
    }
  }
}`

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sections.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestCatalog_LoadAndQuery(t *testing.T) {
	c := NewCatalog(writeCatalog(t, validCatalog), nil)
	require.NoError(t, c.Load(false))

	assert.Len(t, c.All(), 3)
	assert.Len(t, c.Enabled(), 2)
	assert.Len(t, c.ByDocument(EmergencyPlan), 1)
	assert.Empty(t, c.ByDocument(ResourceReport))

	d, ok := c.Get("enterprise_overview")
	require.True(t, ok)
	assert.Equal(t, "enterprise_overview", d.ID)
	assert.Equal(t, RiskAssessment, d.Document)
	assert.Equal(t, 2, d.Version)

	_, ok = c.Get("nope")
	assert.False(t, ok)

	assert.Equal(t, []string{"emergency_response_procedure", "enterprise_overview"}, c.Registry().IDs(true))
}

func TestCatalog_InvariantsHoldForEveryLoadedSection(t *testing.T) {
	c := NewCatalog(writeCatalog(t, validCatalog), nil)
	require.NoError(t, c.Load(false))
	for id, d := range c.All() {
		assert.True(t, d.Document.Valid(), id)
		assert.NotEmpty(t, d.SystemPrompt, id)
		assert.NotEmpty(t, d.UserTemplate, id)
	}
}

func TestPlaceholdersAndMissingVariables(t *testing.T) {
	c := NewCatalog(writeCatalog(t, validCatalog), nil)
	require.NoError(t, c.Load(false))

	d, _ := c.Get("enterprise_overview")
	assert.Equal(t, []string{"basic_info.company_name", "basic_info.industry_category"}, Placeholders(d.UserTemplate))

	blob := map[string]any{"basic_info": map[string]any{"company_name": "测试企业有限公司"}}
	missing, err := c.MissingVariables("enterprise_overview", blob)
	require.NoError(t, err)
	assert.Equal(t, []string{"basic_info.industry_category"}, missing)

	_, err = c.MissingVariables("nope", blob)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatalog_InvalidEntriesYieldEmptyRegistry(t *testing.T) {
	cases := map[string]string{
		"not json":           `{`,
		"no sections key":    `{"items": {}}`,
		"bad document":       `{"sections": {"a": {"enabled": true, "document": "audit", "system_prompt": "s", "user_template": "u"}}}`,
		"empty prompt":       `{"sections": {"a": {"enabled": true, "document": "emergency_plan", "system_prompt": "  ", "user_template": "u"}}}`,
		"missing template":   `{"sections": {"a": {"enabled": true, "document": "emergency_plan", "system_prompt": "s"}}}`,
		"wrong enabled type": `{"sections": {"a": {"enabled": "yes", "document": "emergency_plan", "system_prompt": "s", "user_template": "u"}}}`,
		"missing enabled":    `{"sections": {"a": {"document": "emergency_plan", "system_prompt": "s", "user_template": "u"}}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			c := NewCatalog(writeCatalog(t, validCatalog), nil)
			require.NoError(t, c.Load(false))
			require.NotZero(t, c.Registry().Len())

			require.NoError(t, os.WriteFile(c.Path(), []byte(body), 0644))
			require.Error(t, c.Load(true))
			assert.Zero(t, c.Registry().Len())
		})
	}
}

func TestCatalog_MissingFile(t *testing.T) {
	c := NewCatalog(filepath.Join(t.TempDir(), "absent.json"), nil)
	require.Error(t, c.Load(false))
	assert.Zero(t, c.Registry().Len())
}

func TestCatalog_LoadSkipsUnchangedFile(t *testing.T) {
	path := writeCatalog(t, validCatalog)
	c := NewCatalog(path, nil)
	require.NoError(t, c.Load(false))
	before := c.Registry()

	require.NoError(t, c.Load(false))
	assert.Same(t, before, c.Registry(), "unchanged mtime must not reload")

	require.NoError(t, c.Load(true))
	assert.NotSame(t, before, c.Registry(), "force reloads")

	// A changed mtime reloads without force.
	require.NoError(t, os.WriteFile(path, []byte(`{"sections": {}}`), 0644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
	require.NoError(t, c.Load(false))
	assert.Zero(t, c.Registry().Len())
}

func TestParseDocument(t *testing.T) {
	for _, d := range Documents {
		got, err := ParseDocument(string(d))
		require.NoError(t, err)
		assert.Equal(t, d, got)
		assert.NotEmpty(t, got.Title())
	}
	_, err := ParseDocument("audit")
	assert.Error(t, err)
}
