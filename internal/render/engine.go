package render

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
)

// DefaultMaxTemplateBytes bounds the size of a template file.
const DefaultMaxTemplateBytes = 512 * 1024

// bannedTags would let a template reach files outside its own source.
var bannedTags = []string{"include", "import", "extends", "ssi"}

var registerFilters sync.Once

func registerToJSON() {
	registerFilters.Do(func() {
		if pongo2.FilterExists("tojson") {
			return
		}
		_ = pongo2.RegisterFilter("tojson", filterToJSON)
	})
}

func filterToJSON(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	data, err := json.Marshal(in.Interface())
	if err != nil {
		return nil, &pongo2.Error{Sender: "filter:tojson", OrigError: err}
	}
	return pongo2.AsSafeValue(string(data)), nil
}

// Engine compiles and renders Jinja-style templates with pongo2. Compiled
// templates are cached by path.
type Engine struct {
	set      *pongo2.TemplateSet
	maxBytes int64

	mu    sync.Mutex
	cache map[string]*pongo2.Template
}

func NewEngine(maxBytes int64) (*Engine, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxTemplateBytes
	}
	registerToJSON()

	loader, err := pongo2.NewLocalFileSystemLoader("")
	if err != nil {
		return nil, err
	}
	set := pongo2.NewSet("envplan", loader)
	for _, tag := range bannedTags {
		if err := set.BanTag(tag); err != nil {
			return nil, fmt.Errorf("ban tag %s: %w", tag, err)
		}
	}
	return &Engine{set: set, maxBytes: maxBytes, cache: map[string]*pongo2.Template{}}, nil
}

// escapes reports whether output of the file at path is HTML-escaped.
func escapes(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm", ".xml":
		return true
	}
	return false
}

// Template returns the compiled template for path, compiling it on first use.
func (e *Engine) Template(path string) (*pongo2.Template, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tpl, ok := e.cache[path]; ok {
		return tpl, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	if info.Size() > e.maxBytes {
		return nil, fmt.Errorf("template %s: %d bytes exceeds the %d byte limit", path, info.Size(), e.maxBytes)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	tpl, err := e.compile(path, src)
	if err != nil {
		return nil, err
	}
	e.cache[path] = tpl
	return tpl, nil
}

// FromString compiles an ad-hoc template. It is not cached. name decides
// escaping the same way a file extension does.
func (e *Engine) FromString(name, src string) (*pongo2.Template, error) {
	if int64(len(src)) > e.maxBytes {
		return nil, fmt.Errorf("template %s: %d bytes exceeds the %d byte limit", name, len(src), e.maxBytes)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compile(name, []byte(src))
}

var (
	blockIndent  = regexp.MustCompile(`(?m)^[ \t]+(\{%)`)
	blockNewline = regexp.MustCompile(`%\}\r?\n`)
)

// trimBlocks applies lstrip_blocks and trim_blocks to the source. pongo2's
// own options rewrite the token stream on every Execute, which is neither
// idempotent nor safe for a shared template.
func trimBlocks(src []byte) []byte {
	src = blockIndent.ReplaceAll(src, []byte("$1"))
	return blockNewline.ReplaceAll(src, []byte("%}"))
}

// compile requires e.mu.
func (e *Engine) compile(name string, src []byte) (*pongo2.Template, error) {
	src = trimBlocks(src)
	if !escapes(name) {
		src = append(append([]byte("{% autoescape off %}"), src...), "{% endautoescape %}"...)
	}
	tpl, err := e.set.FromBytes(src)
	if err != nil {
		return nil, fmt.Errorf("compile template %s: %w", name, err)
	}
	return tpl, nil
}

// Render executes the template at path with data.
func (e *Engine) Render(path string, data map[string]any) (string, error) {
	tpl, err := e.Template(path)
	if err != nil {
		return "", err
	}
	out, err := tpl.Execute(pongo2.Context(data))
	if err != nil {
		return "", fmt.Errorf("render template %s: %w", path, err)
	}
	return out, nil
}

// Reset drops every compiled template.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = map[string]*pongo2.Template{}
}

func (e *Engine) Cached() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}
