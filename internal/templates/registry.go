// Package templates maps document types to their template files and the AI
// sections each template consumes.
package templates

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"envplan/internal/logging"
)

var ErrUnknownDocument = errors.New("unknown document type")

type Template struct {
	ID           string   `json:"id"`
	TemplatePath string   `json:"template_path"`
	AISections   []string `json:"ai_sections"`
	OutputName   string   `json:"output_name"`
	Title        string   `json:"title,omitempty"`
	// Resolved is TemplatePath made absolute against the template dir.
	Resolved string `json:"-"`
}

type DocumentType struct {
	Tag        string `json:"-"`
	TemplateID string `json:"template_id"`
	OutputName string `json:"output_name"`
}

type catalogFile struct {
	Templates     map[string]Template     `json:"templates"`
	DocumentTypes map[string]DocumentType `json:"document_types"`
}

// Registry is an immutable snapshot of the template catalog.
type Registry struct {
	templates map[string]Template
	docTypes  map[string]DocumentType
}

func empty() *Registry {
	return &Registry{templates: map[string]Template{}, docTypes: map[string]DocumentType{}}
}

// Parse decodes a catalog. Relative template paths are resolved against baseDir.
func Parse(data []byte, baseDir string) (*Registry, error) {
	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse template catalog: %w", err)
	}
	if file.Templates == nil {
		return nil, fmt.Errorf("template catalog: missing top-level \"templates\" mapping")
	}
	reg := empty()
	for name, t := range file.Templates {
		if strings.TrimSpace(t.ID) == "" {
			t.ID = name
		}
		if strings.TrimSpace(t.TemplatePath) == "" {
			return nil, fmt.Errorf("template %s: template_path is required", name)
		}
		t.Resolved = t.TemplatePath
		if !filepath.IsAbs(t.Resolved) && baseDir != "" {
			t.Resolved = filepath.Join(baseDir, t.TemplatePath)
		}
		reg.templates[t.ID] = t
	}
	for tag, dt := range file.DocumentTypes {
		dt.Tag = tag
		if _, ok := reg.templates[dt.TemplateID]; !ok {
			return nil, fmt.Errorf("document type %s: unknown template %q", tag, dt.TemplateID)
		}
		if dt.OutputName == "" {
			dt.OutputName = reg.templates[dt.TemplateID].OutputName
		}
		reg.docTypes[tag] = dt
	}
	return reg, nil
}

// TemplateInfo returns the template definition for id.
func (r *Registry) TemplateInfo(id string) (Template, bool) {
	t, ok := r.templates[id]
	return t, ok
}

// TemplatePath returns the resolved file path of template id, or "".
func (r *Registry) TemplatePath(id string) string {
	return r.templates[id].Resolved
}

// AISectionsFor returns the ordered AI section ids consumed by template id.
func (r *Registry) AISectionsFor(id string) []string {
	t, ok := r.templates[id]
	if !ok {
		return nil
	}
	return append([]string(nil), t.AISections...)
}

// DocumentTypes returns the known document tags, sorted.
func (r *Registry) DocumentTypes() []string {
	tags := make([]string, 0, len(r.docTypes))
	for tag := range r.docTypes {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func (r *Registry) DocumentType(tag string) (DocumentType, error) {
	dt, ok := r.docTypes[tag]
	if !ok {
		return DocumentType{}, fmt.Errorf("%w: %s", ErrUnknownDocument, tag)
	}
	return dt, nil
}

// Templates returns every template sorted by id.
func (r *Registry) Templates() []Template {
	out := make([]Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Catalog holds the current registry snapshot for a catalog file.
type Catalog struct {
	path    string
	baseDir string
	logger  *slog.Logger
	current atomic.Pointer[Registry]
}

func NewCatalog(path, baseDir string, logger *slog.Logger) *Catalog {
	c := &Catalog{path: path, baseDir: baseDir, logger: logging.OrDiscard(logger)}
	c.current.Store(empty())
	return c
}

// Load reads the catalog; on failure the registry becomes empty.
func (c *Catalog) Load() error {
	data, err := os.ReadFile(c.path)
	if err == nil {
		var reg *Registry
		reg, err = Parse(data, c.baseDir)
		if err == nil {
			c.current.Store(reg)
			c.logger.Info("template catalog loaded", "path", c.path, "templates", len(reg.templates), "document_types", len(reg.docTypes))
			return nil
		}
	}
	c.current.Store(empty())
	c.logger.Error("template catalog unusable, continuing with empty registry", "path", c.path, "error", err)
	return err
}

func (c *Catalog) Registry() *Registry { return c.current.Load() }
