package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"envplan/internal/compliance"
	"envplan/internal/config"
	"envplan/internal/generator"
	"envplan/internal/llm"
	"envplan/internal/logging"
	"envplan/internal/render"
	"envplan/internal/section"
	"envplan/internal/storage"
	"envplan/internal/templates"
)

// app is the fully wired backend the commands operate on.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *storage.SQLiteStore
	gateway *llm.Gateway
	service *render.Service
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	return cfg, logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr), nil
}

// initStore opens the SQLite store named by the config.
func initStore() (*storage.SQLiteStore, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.NewSQLiteStore(cfg.Storage.DBPath)
}

// newApp loads every catalog and wires the generation stack. Catalog
// failures are logged and leave the affected registry empty.
func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sections := section.NewCatalog(cfg.Catalog.Sections, logger)
	_ = sections.Load(true)
	tpls := templates.NewCatalog(cfg.Catalog.Templates, cfg.Catalog.TemplateDir, logger)
	_ = tpls.Load()
	checker, _ := compliance.LoadChecker(cfg.Catalog.Compliance, cfg.Catalog.Concepts, logger)

	loc, err := cfg.AI.Location()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("invalid quota_timezone: %w", err)
	}
	usage := llm.NewUsageTracker(cfg.AI.DailyLimit, cfg.AI.UserDailyLimit, loc)
	day := usage.Stats().Daily.Date
	if total, users, err := store.LoadUsage(ctx, day); err != nil {
		logger.Warn("could not restore usage counters", "day", day, "error", err)
	} else {
		usage.Seed(total, users)
	}

	provider, err := llm.NewProvider(ctx, llm.ProviderOptions{
		Provider:     cfg.AI.Provider,
		APIKey:       cfg.AI.APIKey,
		GeminiAPIKey: cfg.AI.GeminiAPIKey,
		Model:        cfg.AI.Model,
		BaseURL:      cfg.AI.BaseURL,
	}, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create llm provider: %w", err)
	}
	gateway := llm.NewGateway(provider, usage, llm.Options{
		Model:          cfg.AI.Model,
		MaxRetries:     cfg.AI.MaxRetries,
		RequestTimeout: cfg.AI.Timeout(),
		RateLimitWait:  cfg.AI.RateLimitDelay(),
		MockFallback:   cfg.AI.MockOnFailure(),
	}, logger)

	gen := generator.New(sections, gateway, checker, generator.Options{
		EnableChecks: cfg.Generation.ChecksEnabled(),
		MaxRetries:   cfg.Generation.MaxRetries,
	}, logger)

	engine, err := render.NewEngine(cfg.Generation.MaxTemplateBytes)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create template engine: %w", err)
	}
	svc, err := render.NewService(render.Deps{
		Sections:  sections,
		Templates: tpls,
		Generator: gen,
		Checker:   checker,
		Engine:    engine,
		Logger:    logger,
		Options: render.Options{
			StrictValidation: cfg.Generation.StrictValidation,
			Concurrency:      cfg.Generation.Concurrency,
			ReportDir:        cfg.Generation.ReportDir,
			CompliancePath:   cfg.Catalog.Compliance,
			ConceptsPath:     cfg.Catalog.Concepts,
		},
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, store: store, gateway: gateway, service: svc}, nil
}

// Close persists today's usage counters and closes the store.
func (a *app) Close(ctx context.Context) {
	st := a.gateway.UsageStats()
	if err := a.store.SaveUsage(ctx, st.Daily.Date, st.Daily.Total, st.Daily.Users); err != nil {
		a.logger.Warn("failed to persist usage counters", "error", err)
	}
	a.store.Close()
}
