// Package generator produces the text of one AI section: it renders the user
// prompt, calls the model gateway and re-prompts while the compliance check
// reports issues.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"envplan/internal/compliance"
	"envplan/internal/llm"
	"envplan/internal/logging"
	"envplan/internal/placeholder"
	"envplan/internal/section"
)

type Sections interface {
	Get(id string) (section.Definition, bool)
}

type Gateway interface {
	Generate(ctx context.Context, call llm.Call) (llm.Generation, error)
}

type Checker interface {
	Check(sectionID, text string) compliance.Result
}

type Options struct {
	EnableChecks bool
	// MaxRetries bounds the gateway calls per section.
	MaxRetries int
}

// Output is the result of generating one section.
type Output struct {
	SectionID       string        `json:"section_id"`
	Text            string        `json:"text"`
	Model           string        `json:"model"`
	Attempts        int           `json:"attempts"`
	Retries         int           `json:"retries"`
	Augmentations   int           `json:"augmentations"`
	Checked         bool          `json:"checked"`
	Passed          bool          `json:"passed"`
	ComplianceScore int           `json:"compliance_score"`
	Issues          []string      `json:"issues"`
	Warnings        []string      `json:"warnings"`
	Mock            bool          `json:"mock"`
	Error           string        `json:"error,omitempty"`
	Duration        time.Duration `json:"duration_ns"`
}

// Failed reports whether the section could not be generated at all.
func (o Output) Failed() bool { return o.Error != "" }

type SectionGenerator struct {
	sections Sections
	gateway  Gateway
	checker  Checker
	resolver *placeholder.Resolver
	opts     Options
	logger   *slog.Logger
}

func New(sections Sections, gateway Gateway, checker Checker, opts Options, logger *slog.Logger) *SectionGenerator {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	return &SectionGenerator{
		sections: sections,
		gateway:  gateway,
		checker:  checker,
		resolver: placeholder.New(),
		opts:     opts,
		logger:   logging.OrDiscard(logger),
	}
}

// SetResolver overrides the placeholder resolver, e.g. to change list naming.
func (g *SectionGenerator) SetResolver(r *placeholder.Resolver) { g.resolver = r }

func (g *SectionGenerator) Options() Options { return g.opts }

// Generate produces section id for blob. The last post-processed text is
// returned whatever the compliance verdict; failures are reported in
// Output.Error, never as a Go error.
func (g *SectionGenerator) Generate(ctx context.Context, id string, blob map[string]any, userID string) (out Output) {
	started := time.Now()
	out = Output{SectionID: id, Issues: []string{}, Warnings: []string{}}
	defer func() { out.Duration = time.Since(started) }()

	def, ok := g.sections.Get(id)
	switch {
	case !ok:
		out.Error = fmt.Errorf("%w: %s", section.ErrNotFound, id).Error()
		return out
	case !def.IsEnabled():
		out.Error = fmt.Errorf("%w: %s", section.ErrDisabled, id).Error()
		return out
	}

	userPrompt := g.resolver.Resolve(def.UserTemplate, blob)
	system := def.SystemPrompt
	log := g.logger.With("section", id)

	for attempt := 1; attempt <= g.opts.MaxRetries; attempt++ {
		gen, err := g.gateway.Generate(ctx, llm.Call{
			Model:     def.Model,
			System:    system,
			User:      userPrompt,
			UserID:    userID,
			SectionID: id,
		})
		out.Attempts = attempt
		out.Retries = attempt - 1
		if err != nil {
			log.Error("section generation failed", "attempt", attempt, "error", err)
			out.Text = fmt.Sprintf("[AI生成失败: %s] %s", id, err.Error())
			out.Error = err.Error()
			out.Checked = false
			return out
		}

		out.Text = PostProcess(gen.Text)
		out.Model = gen.Model
		out.Mock = gen.Mock

		if !g.opts.EnableChecks || g.checker == nil {
			out.Passed = true
			out.ComplianceScore = 100
			return out
		}

		verdict := g.checker.Check(id, out.Text)
		out.Checked = true
		out.Passed = verdict.Passed
		out.ComplianceScore = verdict.Score
		out.Issues = verdict.Issues
		out.Warnings = verdict.Warnings
		if verdict.Passed {
			log.Debug("section passed compliance", "attempt", attempt, "score", verdict.Score)
			return out
		}

		log.Info("section failed compliance", "attempt", attempt, "issues", len(verdict.Issues), "score", verdict.Score)
		if attempt < g.opts.MaxRetries {
			system = AugmentSystemPrompt(def.SystemPrompt, verdict.Issues)
			out.Augmentations++
		}
	}
	return out
}

// AugmentSystemPrompt appends the corrective directive for issues to base.
func AugmentSystemPrompt(base string, issues []string) string {
	return strings.TrimRight(base, "\n") + "\n\n上次生成的内容存在以下合规问题：" + strings.Join(issues, "；") + "。请在本次生成中修正这些问题。"
}
