// Package lint checks that document templates and the section registry agree
// on which AI sections exist.
package lint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"

	"envplan/internal/section"
	"envplan/internal/templates"
)

type SectionSource interface {
	All() map[string]section.Definition
	Enabled() map[string]section.Definition
}

type TemplateSource interface {
	Templates() []templates.Template
}

// Issue is one finding. Section is empty for template-level findings.
type Issue struct {
	Template string `json:"template"`
	Path     string `json:"path,omitempty"`
	Section  string `json:"section,omitempty"`
	Message  string `json:"message"`
}

func (i Issue) String() string {
	switch {
	case i.Path != "":
		return fmt.Sprintf("%s: %s", i.Path, i.Message)
	case i.Template != "":
		return fmt.Sprintf("%s: %s", i.Template, i.Message)
	}
	return i.Message
}

type TemplateReport struct {
	ID       string   `json:"id"`
	Path     string   `json:"path"`
	Used     []string `json:"used"`
	Declared []string `json:"declared"`
	Missing  bool     `json:"missing,omitempty"`
}

type Report struct {
	Success     bool             `json:"success"`
	Templates   []TemplateReport `json:"templates"`
	Errors      []Issue          `json:"errors"`
	Warnings    []Issue          `json:"warnings"`
	Suggestions []string         `json:"suggestions"`
}

type Linter struct {
	Sections  SectionSource
	Templates TemplateSource
	// ReadFile defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
}

func New(sections SectionSource, tpls TemplateSource) *Linter {
	return &Linter{Sections: sections, Templates: tpls, ReadFile: os.ReadFile}
}

var (
	commentPattern = regexp.MustCompile(`(?s)\{#.*?#\}`)
	tagPattern     = regexp.MustCompile(`(?s)\{\{.*?\}\}|\{%.*?%\}`)
	refPattern     = regexp.MustCompile(`(?:^|[^\w.])ai_sections(?:\.([A-Za-z_]\w*)|\[\s*["']([A-Za-z_]\w*)["']\s*\])`)
)

// References returns the distinct ai_sections.<id> references inside the
// expression and statement tags of source, sorted. Comments are ignored.
func References(source string) []string {
	source = commentPattern.ReplaceAllString(source, "")
	seen := map[string]bool{}
	for _, tag := range tagPattern.FindAllString(source, -1) {
		for _, m := range refPattern.FindAllStringSubmatch(tag, -1) {
			id := m[1]
			if id == "" {
				id = m[2]
			}
			seen[id] = true
		}
	}
	return sortedKeys(seen)
}

// Run lints every template known to the template source.
func (l *Linter) Run() Report {
	read := l.ReadFile
	if read == nil {
		read = os.ReadFile
	}
	defined := l.Sections.All()
	enabled := l.Sections.Enabled()
	usedAnywhere := map[string]bool{}

	rep := Report{Templates: []TemplateReport{}, Errors: []Issue{}, Warnings: []Issue{}, Suggestions: []string{}}
	addErr := func(i Issue, suggestion string) {
		rep.Errors = append(rep.Errors, i)
		rep.Suggestions = append(rep.Suggestions, suggestion)
	}
	addWarn := func(i Issue, suggestion string) {
		rep.Warnings = append(rep.Warnings, i)
		if suggestion != "" {
			rep.Suggestions = append(rep.Suggestions, suggestion)
		}
	}

	for _, t := range l.Templates.Templates() {
		tr := TemplateReport{ID: t.ID, Path: t.Resolved, Declared: append([]string{}, t.AISections...), Used: []string{}}
		declared := toSet(t.AISections)

		for _, id := range t.AISections {
			if _, ok := defined[id]; !ok {
				addErr(Issue{Template: t.ID, Path: t.Resolved, Section: id,
					Message: fmt.Sprintf("ai_sections entry %q is declared for the template but not defined in the section registry", id)},
					fmt.Sprintf("define section %q in the section catalog or remove it from the ai_sections list of template %q", id, t.ID))
			}
		}

		src, err := read(t.Resolved)
		if err != nil {
			tr.Missing = true
			msg := fmt.Sprintf("cannot read template file: %v", err)
			if errors.Is(err, fs.ErrNotExist) {
				msg = "template file not found"
			}
			addErr(Issue{Template: t.ID, Path: t.Resolved, Message: msg},
				fmt.Sprintf("create %s or fix template_path of template %q", t.Resolved, t.ID))
			rep.Templates = append(rep.Templates, tr)
			continue
		}

		used := References(string(src))
		tr.Used = used
		for _, id := range used {
			usedAnywhere[id] = true
			if _, ok := defined[id]; !ok {
				addErr(Issue{Template: t.ID, Path: t.Resolved, Section: id,
					Message: fmt.Sprintf("ai_sections.%s is used in template but not defined", id)},
					fmt.Sprintf("define section %q in the section catalog or remove {{ ai_sections.%s }} from %s", id, id, t.Resolved))
				continue
			}
			if !declared[id] {
				addErr(Issue{Template: t.ID, Path: t.Resolved, Section: id,
					Message: fmt.Sprintf("ai_sections.%s is used in template but missing from its ai_sections declaration", id)},
					fmt.Sprintf("add %q to the ai_sections list of template %q", id, t.ID))
			}
			if _, ok := enabled[id]; !ok {
				addWarn(Issue{Template: t.ID, Path: t.Resolved, Section: id,
					Message: fmt.Sprintf("ai_sections.%s is used but the section is disabled", id)},
					fmt.Sprintf("enable section %q or drop it from %s", id, t.Resolved))
			}
		}
		usedSet := toSet(used)
		for _, id := range t.AISections {
			if !usedSet[id] {
				addWarn(Issue{Template: t.ID, Path: t.Resolved, Section: id,
					Message: fmt.Sprintf("%q is declared for the template but never referenced", id)}, "")
			}
		}
		rep.Templates = append(rep.Templates, tr)
	}

	for _, id := range sortedKeys(keysOf(defined)) {
		if !usedAnywhere[id] {
			addWarn(Issue{Section: id, Message: fmt.Sprintf("section %q is defined but not used by any template", id)},
				fmt.Sprintf("reference section %q in a template or disable it", id))
		}
	}

	rep.Success = len(rep.Errors) == 0
	return rep
}

// ErrorStrings renders the errors as "path: message" lines.
func (r Report) ErrorStrings() []string {
	out := make([]string, 0, len(r.Errors))
	for _, i := range r.Errors {
		out = append(out, i.String())
	}
	return out
}

func toSet(ids []string) map[string]bool {
	s := make(map[string]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

func keysOf(m map[string]section.Definition) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
