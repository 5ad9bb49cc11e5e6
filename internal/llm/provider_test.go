package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTimeout},
		{"genai 429", genai.APIError{Code: 429, Message: "quota"}, KindRateLimit},
		{"genai 403", fmt.Errorf("wrapped: %w", genai.APIError{Code: 403}), KindAuth},
		{"genai 500", genai.APIError{Code: 500}, KindOther},
		{"resource exhausted text", errors.New("RESOURCE_EXHAUSTED: try later"), KindRateLimit},
		{"already classified", &ProviderError{Kind: KindAuth}, KindAuth},
		{"plain", errors.New("boom"), KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err).Kind)
		})
	}
	assert.Nil(t, Classify(nil))
}

func TestValidCredential(t *testing.T) {
	assert.True(t, ValidCredential("sk-abcdefgh"))
	assert.False(t, ValidCredential(""))
	assert.False(t, ValidCredential("short"))
	assert.False(t, ValidCredential("sk-abc defgh"))
}

func TestChatEndpoint(t *testing.T) {
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", chatEndpoint(""))
	assert.Equal(t, "http://x/v1/chat/completions", chatEndpoint("http://x/v1/"))
	assert.Equal(t, "http://x/v1/chat/completions", chatEndpoint("http://x"))
	assert.Equal(t, "http://x/api/chat/completions", chatEndpoint("http://x/api/chat/completions"))
}

func TestOpenAI_Complete(t *testing.T) {
	var got openAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"大气环境影响分析"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAI("sk-test-key", "gpt-4o-mini", srv.URL)
	text, err := p.Complete(context.Background(), Request{System: "sys", User: "user"})
	require.NoError(t, err)
	assert.Equal(t, "大气环境影响分析", text)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Content)
}

func TestOpenAI_StatusClassification(t *testing.T) {
	for status, kind := range map[int]Kind{
		http.StatusTooManyRequests:     KindRateLimit,
		http.StatusUnauthorized:        KindAuth,
		http.StatusInternalServerError: KindOther,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", status)
		}))
		p := NewOpenAI("sk-test-key", "m", srv.URL)
		_, err := p.Complete(context.Background(), Request{User: "u"})
		srv.Close()

		var pe *ProviderError
		require.ErrorAs(t, err, &pe, "status %d", status)
		assert.Equal(t, kind, pe.Kind, "status %d", status)
		assert.Equal(t, status, pe.StatusCode)
	}
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	p, err := NewProvider(ctx, ProviderOptions{Provider: "mock"}, nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = NewProvider(ctx, ProviderOptions{Provider: "openai", APIKey: "bad key"}, nil)
	require.NoError(t, err)
	assert.Nil(t, p, "malformed credential means mock mode")

	p, err = NewProvider(ctx, ProviderOptions{Provider: "openai", APIKey: "sk-valid-key", Model: "m"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, p)

	_, err = NewProvider(ctx, ProviderOptions{Provider: "claude"}, nil)
	assert.Error(t, err)
}

func TestUsageTracker_DailyRollover(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	now := time.Date(2024, 5, 1, 23, 59, 0, 0, loc)
	u := NewUsageTracker(2, 0, loc)
	u.SetClock(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		r, ok := u.Reserve("")
		require.True(t, ok)
		r.Commit()
	}
	_, ok := u.Reserve("")
	assert.False(t, ok)
	assert.Equal(t, "2024-05-01", u.Stats().Daily.Date)

	now = now.Add(2 * time.Minute)
	r, ok := u.Reserve("")
	require.True(t, ok, "a new day resets the counters")
	r.Commit()
	stats := u.Stats()
	assert.Equal(t, "2024-05-02", stats.Daily.Date)
	assert.Equal(t, 1, stats.Daily.Total)
}

func TestUsageTracker_ReleaseAndDoubleFinish(t *testing.T) {
	u := NewUsageTracker(1, 0, time.UTC)
	r, ok := u.Reserve("a")
	require.True(t, ok)
	_, ok = u.Reserve("b")
	assert.False(t, ok, "pending reservations count against the cap")

	r.Release()
	r.Commit()
	assert.Equal(t, 0, u.Stats().Daily.Total)

	r2, ok := u.Reserve("b")
	require.True(t, ok)
	r2.Commit()
	assert.Equal(t, UserUsage{Today: 1, Remaining: -1, Limit: 0}, u.User("b"))
}
