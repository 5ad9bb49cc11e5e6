// Package render turns an enterprise blob into finished documents: it
// validates the blob, generates the AI sections each template needs and
// renders the templates.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"envplan/internal/compliance"
	"envplan/internal/enterprise"
	"envplan/internal/generator"
	"envplan/internal/lint"
	"envplan/internal/logging"
	"envplan/internal/report"
	"envplan/internal/section"
	"envplan/internal/templates"
)

// SectionGenerator produces one AI section.
type SectionGenerator interface {
	Generate(ctx context.Context, id string, blob map[string]any, userID string) generator.Output
}

type Options struct {
	// StrictValidation rejects blobs that miss any top-level section.
	StrictValidation bool
	// Concurrency is the number of sections generated at once.
	Concurrency int
	// ReportDir, when set, receives one <run_id>.json report per call.
	ReportDir      string
	CompliancePath string
	ConceptsPath   string
	Now            func() time.Time
}

type Deps struct {
	Sections  *section.Catalog
	Templates *templates.Catalog
	Generator SectionGenerator
	Checker   *compliance.Checker
	Engine    *Engine
	Logger    *slog.Logger
	Options   Options
}

type Service struct {
	sections  *section.Catalog
	templates *templates.Catalog
	generator SectionGenerator
	checker   *compliance.Checker
	engine    *Engine
	opts      Options
	logger    *slog.Logger
}

func NewService(d Deps) (*Service, error) {
	if d.Sections == nil || d.Templates == nil || d.Generator == nil {
		return nil, errors.New("render: sections, templates and generator are required")
	}
	if d.Engine == nil {
		engine, err := NewEngine(DefaultMaxTemplateBytes)
		if err != nil {
			return nil, err
		}
		d.Engine = engine
	}
	if d.Options.Concurrency < 1 {
		d.Options.Concurrency = 1
	}
	if d.Options.Now == nil {
		d.Options.Now = time.Now
	}
	return &Service{
		sections:  d.Sections,
		templates: d.Templates,
		generator: d.Generator,
		checker:   d.Checker,
		engine:    d.Engine,
		opts:      d.Options,
		logger:    logging.OrDiscard(d.Logger),
	}, nil
}

// GenerateAll renders every configured document type from one shared set
// of enabled AI sections.
func (s *Service) GenerateAll(ctx context.Context, blob map[string]any, userID string) *Result {
	res, rep := s.begin("all")
	defer s.finish(res, rep)

	if !s.validate(res, rep, blob) {
		return res
	}
	types := s.templates.Registry().DocumentTypes()
	if len(types) == 0 {
		res.addError("no document types configured")
		return res
	}

	bundle := s.generateSections(ctx, res, rep, s.sections.Registry().IDs(true), blob, userID)
	if err := ctx.Err(); err != nil {
		res.addError(fmt.Sprintf("generation cancelled: %v", err))
		return res
	}
	data := s.templateData(blob, bundle)
	for _, tag := range types {
		s.renderDocument(res, rep, tag, data)
	}
	return res
}

// GenerateDocument renders one document type with only the sections its
// template declares.
func (s *Service) GenerateDocument(ctx context.Context, docType string, blob map[string]any, userID string) *Result {
	res, rep := s.begin(docType)
	defer s.finish(res, rep)

	if !s.validate(res, rep, blob) {
		return res
	}
	reg := s.templates.Registry()
	dt, err := reg.DocumentType(docType)
	if err != nil {
		res.addError(err.Error())
		return res
	}

	bundle := s.generateSections(ctx, res, rep, reg.AISectionsFor(dt.TemplateID), blob, userID)
	if err := ctx.Err(); err != nil {
		res.addError(fmt.Sprintf("generation cancelled: %v", err))
		return res
	}
	s.renderDocument(res, rep, docType, s.templateData(blob, bundle))
	return res
}

// GenerateSection produces one section's text without rendering anything.
func (s *Service) GenerateSection(ctx context.Context, id string, blob map[string]any, userID string) *Result {
	res, rep := s.begin("section")
	defer s.finish(res, rep)

	if !s.validate(res, rep, blob) {
		return res
	}
	s.generateSections(ctx, res, rep, []string{id}, blob, userID)
	if out, ok := res.Sections[id]; ok {
		res.Section = &out
	}
	return res
}

// CheckTemplates lints the current template catalog against the current
// section catalog.
func (s *Service) CheckTemplates() lint.Report {
	return lint.New(s.sections.Registry(), s.templates.Registry()).Run()
}

// Reload re-reads every catalog and drops compiled templates. Each catalog
// that fails to load is left empty; the errors are joined.
func (s *Service) Reload() error {
	var errs []error
	if err := s.sections.Load(true); err != nil {
		errs = append(errs, err)
	}
	if err := s.templates.Load(); err != nil {
		errs = append(errs, err)
	}
	if s.checker != nil && s.opts.CompliancePath != "" {
		if err := s.checker.Reload(s.opts.CompliancePath, s.opts.ConceptsPath); err != nil {
			errs = append(errs, err)
		}
	}
	s.engine.Reset()
	return errors.Join(errs...)
}

func (s *Service) begin(mode string) (*Result, *report.RunReport) {
	runID := uuid.NewString()
	res := newResult(runID)
	rep := report.New(runID, mode)
	res.Report = rep
	return res, rep
}

func (s *Service) finish(res *Result, rep *report.RunReport) {
	res.Success = len(res.Errors) == 0
	for _, e := range res.Errors {
		s.logger.Warn("generation error", "run_id", res.RunID, "error", e)
	}
	rep.Finalize()
	if s.opts.ReportDir == "" {
		return
	}
	path := filepath.Join(s.opts.ReportDir, res.RunID+".json")
	if err := rep.Save(path); err != nil {
		s.logger.Error("failed to save run report", "path", path, "error", err)
	}
}

func (s *Service) validate(res *Result, rep *report.RunReport, blob map[string]any) bool {
	stage := rep.BeginStage("validate")
	v := enterprise.Validate(blob, enterprise.ValidationOptions{Strict: s.opts.StrictValidation})
	res.Errors = append(res.Errors, v.Errors...)
	res.Warnings = append(res.Warnings, v.Warnings...)
	status := "ok"
	if !v.OK() {
		status = "rejected"
	}
	rep.EndStage(stage, status, map[string]float64{
		"errors":   float64(len(v.Errors)),
		"warnings": float64(len(v.Warnings)),
	}, nil, nil)
	return v.OK()
}

// generateSections runs the generator for ids, at most Concurrency at a
// time, and returns the id → text bundle. Once ctx is done no further
// section is started.
func (s *Service) generateSections(ctx context.Context, res *Result, rep *report.RunReport, ids []string, blob map[string]any, userID string) map[string]any {
	stage := rep.BeginStage("generate")
	outputs := make([]generator.Output, len(ids))
	started := make([]bool, len(ids))

	g := errgroup.Group{}
	g.SetLimit(s.opts.Concurrency)
	for i, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			started[i] = true
			outputs[i] = s.generator.Generate(ctx, id, blob, userID)
			return nil
		})
	}
	_ = g.Wait()

	bundle := make(map[string]any, len(ids))
	var results []compliance.Result
	skipped := 0
	for i, id := range ids {
		if !started[i] {
			skipped++
			continue
		}
		out := outputs[i]
		res.Sections[id] = out
		res.AISectionsUsed = append(res.AISectionsUsed, id)
		bundle[id] = out.Text
		rep.AddSection(sectionMetric(out))

		if out.Failed() {
			res.addError(fmt.Sprintf("section %s: %s", id, out.Error))
			rep.AddSignal("section_failed", "generate", report.SeverityWarning, id+": "+out.Error, 0)
			continue
		}
		if out.Mock {
			rep.AddSignal("mock_generation", "generate", report.SeverityInfo, id+" used mock text", 0)
		}
		if out.Checked {
			r := compliance.Result{
				SectionID: id,
				Passed:    out.Passed,
				Score:     out.ComplianceScore,
				Issues:    out.Issues,
				Warnings:  out.Warnings,
			}
			res.ComplianceResults[id] = r
			results = append(results, r)
			if !out.Passed {
				res.addWarning(fmt.Sprintf("section %s failed compliance: %s", id, strings.Join(out.Issues, "；")))
			}
		}
	}
	if len(results) > 0 {
		summary := compliance.Aggregate(results)
		res.Compliance = &summary
	}
	sort.Strings(res.AISectionsUsed)

	var stageErr error
	if skipped > 0 {
		stageErr = fmt.Errorf("%d sections not started: %w", skipped, ctx.Err())
	}
	rep.EndStage(stage, "", map[string]float64{
		"requested": float64(len(ids)),
		"generated": float64(len(ids) - skipped),
		"skipped":   float64(skipped),
	}, nil, stageErr)
	return bundle
}

func (s *Service) templateData(blob map[string]any, bundle map[string]any) map[string]any {
	data := PrepareTemplateData(blob, s.opts.Now())
	data["ai_sections"] = bundle
	return data
}

// renderDocument renders document type tag into res. A failure is recorded
// and does not affect other documents.
func (s *Service) renderDocument(res *Result, rep *report.RunReport, tag string, data map[string]any) {
	stage := rep.BeginStage("render:" + tag)
	reg := s.templates.Registry()
	dt, err := reg.DocumentType(tag)
	if err != nil {
		res.addError(err.Error())
		rep.EndStage(stage, "", nil, nil, err)
		return
	}
	path := reg.TemplatePath(dt.TemplateID)
	text, err := s.engine.Render(path, data)
	if err != nil {
		msg := fmt.Sprintf("render %s: %v", dt.OutputName, err)
		res.addError(msg)
		rep.AddSignal("render_failed", "render", report.SeverityCritical, msg, 0)
		rep.EndStage(stage, "", nil, nil, err)
		return
	}
	res.Documents[dt.OutputName] = text
	rep.EndStage(stage, "", map[string]float64{"runes": float64(utf8.RuneCountInString(text))}, nil, nil)
}

func sectionMetric(out generator.Output) report.SectionMetric {
	return report.SectionMetric{
		SectionID:       out.SectionID,
		Model:           out.Model,
		Attempts:        out.Attempts,
		Augmentations:   out.Augmentations,
		Checked:         out.Checked,
		Passed:          out.Passed,
		ComplianceScore: out.ComplianceScore,
		Issues:          out.Issues,
		TextRunes:       utf8.RuneCountInString(out.Text),
		UsedMock:        out.Mock,
		Failed:          out.Failed(),
		DurationMS:      out.Duration.Milliseconds(),
	}
}
