// Package section loads and queries the AI-section catalog: which prose
// sections exist, their prompts, and the document each belongs to.
package section

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"envplan/internal/logging"
	"envplan/internal/placeholder"
)

var (
	ErrNotFound = errors.New("section not found")
	ErrDisabled = errors.New("section disabled")
)

// Definition is one AI section as declared in the catalog file.
type Definition struct {
	ID           string   `json:"-"`
	Enabled      *bool    `json:"enabled" validate:"required"`
	Document     Document `json:"document" validate:"required"`
	Description  string   `json:"description"`
	Version      int      `json:"version" validate:"gte=0"`
	Model        string   `json:"model"`
	SystemPrompt string   `json:"system_prompt" validate:"required,notblank"`
	UserTemplate string   `json:"user_template" validate:"required,notblank"`
	Fields       []string `json:"fields,omitempty"`
}

func (d Definition) IsEnabled() bool { return d.Enabled != nil && *d.Enabled }

// Flag is a helper for building Definitions in code.
func Flag(b bool) *bool { return &b }

// Registry is an immutable snapshot of the catalog.
type Registry struct {
	sections map[string]Definition
}

func NewRegistry(defs map[string]Definition) *Registry {
	r := &Registry{sections: make(map[string]Definition, len(defs))}
	for id, d := range defs {
		d.ID = id
		r.sections[id] = d
	}
	return r
}

func (r *Registry) All() map[string]Definition {
	out := make(map[string]Definition, len(r.sections))
	for id, d := range r.sections {
		out[id] = d
	}
	return out
}

func (r *Registry) Enabled() map[string]Definition {
	out := make(map[string]Definition)
	for id, d := range r.sections {
		if d.IsEnabled() {
			out[id] = d
		}
	}
	return out
}

func (r *Registry) ByDocument(doc Document) map[string]Definition {
	out := make(map[string]Definition)
	for id, d := range r.sections {
		if d.IsEnabled() && d.Document == doc {
			out[id] = d
		}
	}
	return out
}

func (r *Registry) Get(id string) (Definition, bool) {
	d, ok := r.sections[id]
	return d, ok
}

func (r *Registry) Len() int { return len(r.sections) }

// IDs returns the section ids sorted, optionally only the enabled ones.
func (r *Registry) IDs(enabledOnly bool) []string {
	ids := make([]string, 0, len(r.sections))
	for id, d := range r.sections {
		if enabledOnly && !d.IsEnabled() {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Placeholders extracts the dotted paths referenced by a user template.
func Placeholders(userTemplate string) []string {
	return placeholder.Extract(userTemplate)
}

// MissingVariables lists the placeholders of section id that blob cannot
// satisfy. An unknown id yields ErrNotFound.
func (r *Registry) MissingVariables(id string, blob map[string]any) ([]string, error) {
	d, ok := r.sections[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return placeholder.New().Missing(d.UserTemplate, blob), nil
}

type catalogFile struct {
	Sections map[string]json.RawMessage `json:"sections"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
	})
	return validate
}

// Parse decodes and validates a catalog document. Any bad entry fails the
// whole catalog.
func Parse(data []byte) (*Registry, error) {
	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse section catalog: %w", err)
	}
	if file.Sections == nil {
		return nil, fmt.Errorf("section catalog: missing top-level \"sections\" mapping")
	}
	defs := make(map[string]Definition, len(file.Sections))
	for id, raw := range file.Sections {
		if id == "" {
			return nil, fmt.Errorf("section catalog: empty section id")
		}
		var d Definition
		dec := json.NewDecoder(bytes.NewReader(raw))
		if err := dec.Decode(&d); err != nil {
			return nil, fmt.Errorf("section %s: %w", id, err)
		}
		if err := structValidator().Struct(d); err != nil {
			return nil, fmt.Errorf("section %s: %w", id, err)
		}
		defs[id] = d
	}
	return NewRegistry(defs), nil
}

// Catalog owns the on-disk catalog and the current registry snapshot.
// Readers never block; Load swaps the snapshot atomically.
type Catalog struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	modTime time.Time
	current atomic.Pointer[Registry]
}

func NewCatalog(path string, logger *slog.Logger) *Catalog {
	c := &Catalog{path: path, logger: logging.OrDiscard(logger)}
	c.current.Store(NewRegistry(nil))
	return c
}

// Load reads the catalog file. Without force it is a no-op when the file's
// mtime has not changed since the last load. On any failure the registry
// becomes empty and the error is logged and returned.
func (c *Catalog) Load(force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(c.path)
	if err != nil {
		return c.fail(fmt.Errorf("stat section catalog: %w", err))
	}
	if !force && !c.modTime.IsZero() && info.ModTime().Equal(c.modTime) {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return c.fail(fmt.Errorf("read section catalog: %w", err))
	}
	reg, err := Parse(data)
	if err != nil {
		c.modTime = info.ModTime()
		return c.fail(err)
	}
	c.modTime = info.ModTime()
	c.current.Store(reg)
	c.logger.Info("section catalog loaded", "path", c.path, "sections", reg.Len(), "enabled", len(reg.Enabled()))
	return nil
}

func (c *Catalog) fail(err error) error {
	c.current.Store(NewRegistry(nil))
	c.logger.Error("section catalog unusable, continuing with empty registry", "path", c.path, "error", err)
	return err
}

// Registry returns the current snapshot.
func (c *Catalog) Registry() *Registry {
	return c.current.Load()
}

func (c *Catalog) Path() string { return c.path }

func (c *Catalog) All() map[string]Definition     { return c.Registry().All() }
func (c *Catalog) Enabled() map[string]Definition { return c.Registry().Enabled() }
func (c *Catalog) ByDocument(doc Document) map[string]Definition {
	return c.Registry().ByDocument(doc)
}
func (c *Catalog) Get(id string) (Definition, bool) { return c.Registry().Get(id) }
func (c *Catalog) MissingVariables(id string, blob map[string]any) ([]string, error) {
	return c.Registry().MissingVariables(id, blob)
}
