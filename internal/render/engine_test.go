package render

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemplate(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestEngine_RenderTextTemplateUnescaped(t *testing.T) {
	e, err := NewEngine(0)
	require.NoError(t, err)
	path := writeTemplate(t, t.TempDir(), "doc.j2", "公司：{{ company_name }}\n风险：{{ risk }}")

	out, err := e.Render(path, map[string]any{"company_name": "A&B <化工>", "risk": "一般"})
	require.NoError(t, err)
	assert.Equal(t, "公司：A&B <化工>\n风险：一般", out)
}

func TestEngine_HTMLTemplateEscapes(t *testing.T) {
	e, err := NewEngine(0)
	require.NoError(t, err)
	path := writeTemplate(t, t.TempDir(), "doc.html", "<p>{{ name }}</p>")

	out, err := e.Render(path, map[string]any{"name": "<b>"})
	require.NoError(t, err)
	assert.Equal(t, "<p>&lt;b&gt;</p>", out)
}

func TestEngine_TrimAndLStripBlocks(t *testing.T) {
	e, err := NewEngine(0)
	require.NoError(t, err)
	src := "开始\n    {% for p in products %}\n- {{ p }}\n    {% endfor %}\n结束"
	path := writeTemplate(t, t.TempDir(), "list.j2", src)

	data := map[string]any{"products": []string{"甲", "乙"}}
	for i := 0; i < 3; i++ {
		out, err := e.Render(path, data)
		require.NoError(t, err)
		assert.Equal(t, "开始\n- 甲\n- 乙\n结束", out, "render %d", i)
	}
}

func TestEngine_ToJSONFilter(t *testing.T) {
	e, err := NewEngine(0)
	require.NoError(t, err)
	tpl, err := e.FromString("inline.j2", `{{ items|tojson }}`)
	require.NoError(t, err)

	out, err := tpl.Execute(map[string]any{"items": []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, out)
}

func TestEngine_BannedTags(t *testing.T) {
	e, err := NewEngine(0)
	require.NoError(t, err)
	dir := t.TempDir()
	secret := writeTemplate(t, dir, "secret.j2", "secret")

	for _, src := range []string{
		`{% include "` + secret + `" %}`,
		`{% extends "` + secret + `" %}`,
		`{% ssi "` + secret + `" %}`,
	} {
		_, err := e.FromString("x.j2", src)
		assert.Error(t, err, src)
	}
}

func TestEngine_SizeLimit(t *testing.T) {
	e, err := NewEngine(16)
	require.NoError(t, err)
	path := writeTemplate(t, t.TempDir(), "big.j2", strings.Repeat("x", 17))

	_, err = e.Render(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")

	_, err = e.FromString("big.j2", strings.Repeat("x", 17))
	assert.Error(t, err)
}

func TestEngine_MissingAndBrokenTemplates(t *testing.T) {
	e, err := NewEngine(0)
	require.NoError(t, err)
	dir := t.TempDir()

	_, err = e.Render(filepath.Join(dir, "absent.j2"), nil)
	assert.Error(t, err)

	broken := writeTemplate(t, dir, "broken.j2", "{% if x %}unterminated")
	_, err = e.Render(broken, nil)
	assert.Error(t, err)
	assert.Zero(t, e.Cached())
}

func TestEngine_CacheAndReset(t *testing.T) {
	e, err := NewEngine(0)
	require.NoError(t, err)
	path := writeTemplate(t, t.TempDir(), "doc.j2", "v1 {{ n }}")

	out, err := e.Render(path, map[string]any{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, "v1 1", out)

	require.NoError(t, os.WriteFile(path, []byte("v2 {{ n }}"), 0644))
	out, err = e.Render(path, map[string]any{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, "v1 1", out, "compiled template is cached")
	assert.Equal(t, 1, e.Cached())

	e.Reset()
	assert.Zero(t, e.Cached())
	out, err = e.Render(path, map[string]any{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, "v2 1", out)
}

func TestEngine_ConcurrentFirstLoad(t *testing.T) {
	e, err := NewEngine(0)
	require.NoError(t, err)
	path := writeTemplate(t, t.TempDir(), "doc.j2", "{% if ok %}\n{{ name }}\n{% endif %}\n")

	var wg sync.WaitGroup
	outs := make([]string, 16)
	errs := make([]error, 16)
	for i := range outs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outs[i], errs[i] = e.Render(path, map[string]any{"ok": true, "name": "甲"})
		}()
	}
	wg.Wait()

	for i := range outs {
		require.NoError(t, errs[i])
		assert.Equal(t, "甲\n", outs[i])
	}
	assert.Equal(t, 1, e.Cached())
}
