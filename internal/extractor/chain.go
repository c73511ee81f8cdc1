// Package extractor resolves TikTok links into media URLs and metadata through an
// ordered chain of third-party providers.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/iconidentify/tokgrab/internal/domain"
	"github.com/iconidentify/tokgrab/internal/metrics"
	"github.com/iconidentify/tokgrab/pkg/tiktok"
)

// DefaultTimeout bounds a single provider attempt when the provider does not set its own.
const DefaultTimeout = 15 * time.Second

// Provider resolves a cleaned source URL into an extraction result.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, sourceURL string) (*domain.ExtractionResult, error)
}

// Resolver is the capability the lifecycle driver depends on.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (*domain.ExtractionResult, error)
}

// timeoutProvider is implemented by providers that need a budget other than the chain default.
type timeoutProvider interface {
	Timeout() time.Duration
}

// Chain tries providers strictly in order and returns the first success as-is.
type Chain struct {
	providers []Provider
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewChain creates a chain over providers in priority order.
func NewChain(timeout time.Duration, m *metrics.Metrics, logger *slog.Logger, providers ...Provider) *Chain {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers: providers,
		timeout:   timeout,
		metrics:   m,
		logger:    logger,
	}
}

// Providers returns the provider names in priority order.
func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Resolve cleans rawURL and walks the chain. A provider failure of any kind only advances
// to the next provider; ErrExtractionFailed is returned once every provider has failed.
func (c *Chain) Resolve(ctx context.Context, rawURL string) (*domain.ExtractionResult, error) {
	sourceURL := tiktok.Clean(rawURL)
	if len(c.providers) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", domain.ErrExtractionFailed)
	}

	var result *multierror.Error
	for _, p := range c.providers {
		res, err := c.attempt(ctx, p, sourceURL)
		if err == nil {
			return res, nil
		}
		result = multierror.Append(result, fmt.Errorf("%s: %w", p.Name(), err))

		if ctx.Err() != nil {
			break
		}
	}

	result.ErrorFormat = inlineFormat
	return nil, fmt.Errorf("%w: %s", domain.ErrExtractionFailed, result.Error())
}

func (c *Chain) attempt(ctx context.Context, p Provider, sourceURL string) (res *domain.ExtractionResult, err error) {
	timeout := c.timeout
	if tp, ok := p.(timeoutProvider); ok && tp.Timeout() > 0 {
		timeout = tp.Timeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := c.logger.With("provider", p.Name(), "url", sourceURL)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("provider panic: %v", r)
		}
		took := time.Since(start)
		if err != nil {
			c.metrics.ProviderAttempt(p.Name(), metrics.OutcomeFailure, took)
			logger.Warn("extraction provider failed", "error", err, "duration", took)
			return
		}
		c.metrics.ProviderAttempt(p.Name(), metrics.OutcomeSuccess, took)
		logger.Info("extraction provider succeeded", "title", res.Title, "duration", took)
	}()

	res, err = p.Resolve(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("provider returned no result")
	}
	complete(res, p.Name())
	return res, nil
}

// complete fills the fields every result must carry.
func complete(res *domain.ExtractionResult, provider string) {
	if res.Provider == "" {
		res.Provider = provider
	}
	if strings.TrimSpace(res.Title) == "" {
		res.Title = domain.PlaceholderTitle
	}
	if res.Duration <= 0 {
		res.Duration = domain.PlaceholderDuration
	}
	if res.Sizes.High <= 0 {
		res.Sizes = domain.EstimateSizes(0)
	}
	if res.Sizes.Standard <= 0 || res.Sizes.Audio <= 0 {
		est := domain.EstimateSizes(res.Sizes.High)
		if res.Sizes.Standard <= 0 {
			res.Sizes.Standard = est.Standard
		}
		if res.Sizes.Audio <= 0 {
			res.Sizes.Audio = est.Audio
		}
	}
}

func inlineFormat(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}
