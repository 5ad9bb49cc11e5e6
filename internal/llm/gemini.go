package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini implements Provider using Gemini text generation.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model, baseURL string) (*Gemini, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(baseURL) != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (p *Gemini) Complete(ctx context.Context, r Request) (string, error) {
	model := r.Model
	if strings.TrimSpace(model) == "" || strings.HasPrefix(model, "gpt-") {
		model = p.model
	}
	var config *genai.GenerateContentConfig
	if strings.TrimSpace(r.System) != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(r.System, genai.RoleUser),
		}
	}
	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(r.User), config)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("gemini returned an empty completion")
	}
	return text, nil
}
