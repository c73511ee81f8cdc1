package extractor

import (
	"log/slog"
	"net/http"

	"github.com/iconidentify/tokgrab/internal/config"
	"github.com/iconidentify/tokgrab/internal/metrics"
)

// NewDefaultChain builds the TikWM, SSSTik, fallback chain from configuration.
func NewDefaultChain(cfg config.ProvidersConfig, m *metrics.Metrics, logger *slog.Logger) *Chain {
	client := &http.Client{Timeout: cfg.Timeout}

	return NewChain(cfg.Timeout, m, logger,
		NewTikWM(cfg.TikWMBaseURL, cfg.UserAgent, client),
		NewSSSTik(cfg.SSSTikBaseURL, cfg.SSSTikToken, cfg.UserAgent, client),
		NewFallback(FallbackConfig{
			OEmbedBaseURL: cfg.OEmbedBaseURL,
			UserAgent:     cfg.UserAgent,
			MaxRedirects:  cfg.MaxRedirects,
			StepTimeout:   cfg.FallbackTimeout,
			Placeholder:   cfg.Placeholder,
		}),
	)
}
