package ai

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vettalaw/backend/internal/config"
)

// NewGenerator builds the generator for cfg.Provider. Missing credentials or a
// failed client setup yield Unconfigured so the API keeps serving.
func NewGenerator(ctx context.Context, cfg config.AIConfig) Generator {
	var (
		m   Model
		err error
	)

	switch cfg.Provider {
	case "ark":
		if !cfg.Ark.Enabled() {
			log.Warn().Msg("Ark credentials not configured, AI replies disabled")
			return Unconfigured{}
		}
		chatModel, cerr := cfg.Ark.NewChatModel(ctx)
		if cerr != nil {
			err = cerr
			break
		}
		m, err = NewArkModel(ctx, chatModel, cfg.Ark.Model)
	default:
		if !cfg.Gemini.Enabled() {
			log.Warn().Msg("GEMINI_API_KEY not set, AI replies disabled")
			return Unconfigured{}
		}
		m, err = NewGeminiModel(ctx, cfg.Gemini)
	}

	if err != nil {
		log.Warn().Err(err).Str("provider", cfg.Provider).Msg("failed to initialize AI model, continuing without AI")
		return Unconfigured{}
	}

	log.Info().Str("provider", cfg.Provider).Str("model", m.Name()).Dur("timeout", cfg.Timeout).Msg("AI model initialized")
	return NewModelGenerator(m, cfg.Timeout)
}
