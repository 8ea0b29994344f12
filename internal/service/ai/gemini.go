package ai

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/zhouzirui/vettalaw/backend/internal/config"
)

// GeminiModel calls the Gemini API through the genai SDK.
type GeminiModel struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGeminiModel creates a client for cfg.Model authenticated with cfg.APIKey.
func NewGeminiModel(ctx context.Context, cfg config.GeminiConfig) (*GeminiModel, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("gemini api key or model missing")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	genCfg := &genai.GenerateContentConfig{}
	if cfg.Temperature != nil {
		temperature := float32(*cfg.Temperature)
		genCfg.Temperature = &temperature
	}
	if cfg.MaxOutputTokens != nil {
		genCfg.MaxOutputTokens = int32(*cfg.MaxOutputTokens)
	}

	return &GeminiModel{client: client, model: cfg.Model, config: genCfg}, nil
}

func (m *GeminiModel) Name() string { return m.model }

func (m *GeminiModel) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := m.client.Models.GenerateContent(ctx, m.model, genai.Text(prompt), m.config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	return resp.Text(), nil
}
