package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"envplan/internal/logging"
)

type Options struct {
	// Model is used when a call does not name one.
	Model          string
	MaxRetries     int
	RequestTimeout time.Duration
	RateLimitWait  time.Duration
	// MockFallback downgrades exhausted retries to mock text instead of
	// returning the last provider error.
	MockFallback bool
}

func DefaultOptions() Options {
	return Options{
		Model:          "gpt-4o-mini",
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
		RateLimitWait:  60 * time.Second,
		MockFallback:   true,
	}
}

// Call is one generation request.
type Call struct {
	Model     string
	System    string
	User      string
	UserID    string
	SectionID string
}

// Generation is the gateway's answer to a Call.
type Generation struct {
	Text     string
	Model    string
	Mock     bool
	Attempts int
	// Reason explains a mock downgrade.
	Reason string
}

// Gateway is the single entry point for model calls.
type Gateway struct {
	provider Provider
	usage    *UsageTracker
	opts     Options
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	realCalls atomic.Int64
}

// NewGateway wires a gateway. A nil provider puts it in mock mode; a nil
// tracker means no quotas.
func NewGateway(provider Provider, usage *UsageTracker, opts Options, logger *slog.Logger) *Gateway {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if usage == nil {
		usage = NewUsageTracker(0, 0, nil)
	}
	return &Gateway{
		provider: provider,
		usage:    usage,
		opts:     opts,
		logger:   logging.OrDiscard(logger),
		sleep:    sleepContext,
	}
}

// SetSleep replaces the back-off sleeper.
func (g *Gateway) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	g.sleep = fn
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Available reports whether a real provider is configured.
func (g *Gateway) Available() bool { return g.provider != nil }

func (g *Gateway) UsageStats() UsageStats { return g.usage.Stats() }

func (g *Gateway) UserUsage(id string) UserUsage { return g.usage.User(id) }

func (g *Gateway) Usage() *UsageTracker { return g.usage }

// ProviderCalls counts provider invocations issued by this gateway.
func (g *Gateway) ProviderCalls() int64 { return g.realCalls.Load() }

// Generate produces text for call. Quota exhaustion and exhausted transient
// retries downgrade to mock text. Authentication failures and caller
// cancellation are returned as errors.
func (g *Gateway) Generate(ctx context.Context, call Call) (Generation, error) {
	model := call.Model
	if strings.TrimSpace(model) == "" {
		model = g.opts.Model
	}
	log := g.logger.With("section", call.SectionID, "model", model)

	if g.provider == nil {
		return g.mock(call, model, "no provider configured"), nil
	}
	if err := ctx.Err(); err != nil {
		return Generation{}, err
	}

	slot, ok := g.usage.Reserve(call.UserID)
	if !ok {
		log.Info("daily model quota reached, using mock text", "user", call.UserID)
		return g.mock(call, model, "quota exhausted"), nil
	}

	req := Request{Model: model, System: call.System, User: call.User}
	var lastErr *ProviderError
	for attempt := 0; attempt < g.opts.MaxRetries; attempt++ {
		text, err := g.attempt(ctx, req)
		if err == nil {
			slot.Commit()
			return Generation{Text: text, Model: model, Attempts: attempt + 1}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			slot.Release()
			return Generation{}, ctxErr
		}

		lastErr = Classify(err)
		if lastErr.Kind == KindAuth {
			slot.Release()
			log.Error("model authentication failed", "error", lastErr)
			return Generation{}, lastErr
		}
		if attempt == g.opts.MaxRetries-1 {
			break
		}

		wait := time.Duration(1<<attempt) * time.Second
		if lastErr.Kind == KindRateLimit {
			wait = g.opts.RateLimitWait
		}
		log.Warn("model call failed, retrying", "attempt", attempt+1, "kind", lastErr.Kind.String(), "wait", wait, "error", lastErr)
		if err := g.sleep(ctx, wait); err != nil {
			slot.Release()
			return Generation{}, err
		}
	}
	slot.Release()

	if !g.opts.MockFallback {
		return Generation{}, lastErr
	}
	log.Warn("model retries exhausted, using mock text", "attempts", g.opts.MaxRetries, "error", lastErr)
	gen := g.mock(call, model, "retries exhausted: "+lastErr.Error())
	gen.Attempts = g.opts.MaxRetries
	return gen, nil
}

func (g *Gateway) attempt(ctx context.Context, req Request) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.opts.RequestTimeout)
	defer cancel()
	g.realCalls.Add(1)
	text, err := g.provider.Complete(attemptCtx, req)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", &ProviderError{Kind: KindTimeout, Err: err}
		}
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", &ProviderError{Kind: KindOther, Err: errors.New("empty completion")}
	}
	return text, nil
}

func (g *Gateway) mock(call Call, model, reason string) Generation {
	return Generation{
		Text:   MockText(call.System, call.User),
		Model:  model,
		Mock:   true,
		Reason: reason,
	}
}
