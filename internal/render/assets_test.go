package render

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envplan/internal/compliance"
	"envplan/internal/enterprise"
	"envplan/internal/generator"
	"envplan/internal/llm"
	"envplan/internal/section"
	"envplan/internal/templates"
)

const assetsDir = "../../assets"

// bundledService wires the shipped catalogs and templates to a mock-mode
// gateway.
func bundledService(t *testing.T) (*Service, *llm.Gateway) {
	t.Helper()
	catalog := filepath.Join(assetsDir, "catalog")

	sections := section.NewCatalog(filepath.Join(catalog, "sections.json"), nil)
	require.NoError(t, sections.Load(true))
	tpls := templates.NewCatalog(filepath.Join(catalog, "templates.json"), filepath.Join(assetsDir, "templates"), nil)
	require.NoError(t, tpls.Load())
	checker, err := compliance.LoadChecker(filepath.Join(catalog, "compliance.json"), filepath.Join(catalog, "concepts.json"), nil)
	require.NoError(t, err)

	gateway := llm.NewGateway(nil, nil, llm.DefaultOptions(), nil)
	gen := generator.New(sections, gateway, checker, generator.Options{EnableChecks: true, MaxRetries: 3}, nil)
	engine, err := NewEngine(512 * 1024)
	require.NoError(t, err)

	svc, err := NewService(Deps{
		Sections:  sections,
		Templates: tpls,
		Generator: gen,
		Checker:   checker,
		Engine:    engine,
		Options:   Options{Concurrency: 4, Now: func() time.Time { return fixedNow }},
	})
	require.NoError(t, err)
	return svc, gateway
}

func sampleEnterprise(t *testing.T) map[string]any {
	t.Helper()
	blob, err := enterprise.DecodeFile(filepath.Join(assetsDir, "sample", "enterprise.json"))
	require.NoError(t, err)
	return blob
}

func TestBundledTemplatesLintClean(t *testing.T) {
	svc, _ := bundledService(t)
	rep := svc.CheckTemplates()

	require.True(t, rep.Success, rep.ErrorStrings())
	require.Len(t, rep.Templates, 3)
	for _, tr := range rep.Templates {
		assert.False(t, tr.Missing, tr.ID)
		assert.ElementsMatch(t, tr.Declared, tr.Used, tr.ID)
	}
	require.Len(t, rep.Warnings, 1)
	assert.Equal(t, "resource_gap_analysis", rep.Warnings[0].Section)
}

func TestBundledDocumentsRenderInMockMode(t *testing.T) {
	svc, gateway := bundledService(t)
	res := svc.GenerateAll(context.Background(), sampleEnterprise(t), "tester")

	require.True(t, res.Success, res.Errors)
	assert.Zero(t, gateway.ProviderCalls())
	assert.Len(t, res.AISectionsUsed, 19)
	assert.NotContains(t, res.AISectionsUsed, "resource_gap_analysis")

	require.Len(t, res.Documents, 3)
	for name, doc := range res.Documents {
		assert.Contains(t, doc, "江苏华清精细化工有限公司", name)
		assert.Contains(t, doc, "【草稿】", name)
		assert.NotContains(t, doc, "{{", name)
		assert.NotContains(t, doc, "{%", name)
	}

	risk := res.Documents["risk_report"]
	assert.Contains(t, risk, "江苏省苏州市吴江区汾湖高新区临沪大道88号")
	assert.Contains(t, risk, "较大（M）")
	assert.Contains(t, risk, "| 1 | 乙酸乙酯 | 5000t/a |")
	assert.Contains(t, risk, "- 电力：320 万kW·h/a")
	assert.Contains(t, risk, "元荡饮用水源保护区")
	assert.Contains(t, risk, "编制日期：2024年03月05日")

	plan := res.Documents["emergency_plan"]
	assert.Contains(t, plan, "| 1 | 总指挥 | 王建国 | 法定代表人 | 13800000001 |")
	assert.Contains(t, plan, "| 2 | 副总指挥 | 李敏 | EHS经理 | 13800000002 |")
	assert.Contains(t, plan, "| 5 | 应急小组成员 | 赵强 | 仓库主管 | 13800000005 |")
	assert.Contains(t, plan, "版本号：V2.0")
	assert.Contains(t, plan, "仓库火灾综合演练")

	resources := res.Documents["resource_report"]
	assert.Contains(t, resources, "| 1 | 吸附棉 | 200kg | 应急物资柜 |")
	assert.Contains(t, resources, "- 事故应急池（600m³）")
	assert.Contains(t, resources, "- 雨水排放口切断阀\n")
	assert.NotContains(t, resources, "企业未提供")

	air := res.Sections["air_environment_impact"]
	assert.True(t, air.Mock)
	assert.True(t, air.Passed, air.Issues)
	assert.Equal(t, 1, air.Augmentations)
	assert.Contains(t, air.Text, "主导风向")
}
