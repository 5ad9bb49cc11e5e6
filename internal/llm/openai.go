package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client   *http.Client
	apiKey   string
	model    string
	endpoint string
}

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	Temperature float64             `json:"temperature,omitempty"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIChatMessage `json:"message"`
	} `json:"choices"`
}

func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	return &OpenAI{
		// Per-attempt deadlines come from the gateway's context.
		client:   &http.Client{Timeout: 5 * time.Minute},
		apiKey:   apiKey,
		model:    model,
		endpoint: chatEndpoint(baseURL),
	}
}

func chatEndpoint(baseURL string) string {
	endpoint := strings.TrimSpace(baseURL)
	if endpoint == "" {
		return "https://api.openai.com/v1/chat/completions"
	}
	endpoint = strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(endpoint, "/chat/completions") {
		return endpoint
	}
	if strings.HasSuffix(endpoint, "/v1") {
		return endpoint + "/chat/completions"
	}
	return endpoint + "/v1/chat/completions"
}

func (p *OpenAI) Complete(ctx context.Context, r Request) (string, error) {
	model := r.Model
	if strings.TrimSpace(model) == "" {
		model = p.model
	}
	if strings.TrimSpace(model) == "" {
		return "", fmt.Errorf("openai model is required")
	}

	messages := make([]openAIChatMessage, 0, 2)
	if strings.TrimSpace(r.System) != "" {
		messages = append(messages, openAIChatMessage{Role: "system", Content: r.System})
	}
	messages = append(messages, openAIChatMessage{Role: "user", Content: r.User})
	body, err := json.Marshal(openAIChatRequest{Model: model, Messages: messages, Temperature: 0.3})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ProviderError{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("openai chat request failed: %s", strings.TrimSpace(string(raw))),
		}
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("openai returned an empty completion")
	}
	return parsed.Choices[0].Message.Content, nil
}
