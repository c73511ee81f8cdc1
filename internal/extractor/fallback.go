package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	"github.com/iconidentify/tokgrab/internal/domain"
	"github.com/iconidentify/tokgrab/pkg/tiktok"
)

// playAddrPattern finds the direct media address embedded in a video page's hydration data.
var playAddrPattern = regexp.MustCompile(`"playAddr":"([^"]+)"`)

// FallbackConfig configures the last-resort provider.
type FallbackConfig struct {
	OEmbedBaseURL string
	UserAgent     string
	MaxRedirects  int
	StepTimeout   time.Duration
	Placeholder   bool
}

// Fallback resolves short links, then tries oEmbed, then page metadata, and finally
// returns a placeholder when enabled.
type Fallback struct {
	cfg    FallbackConfig
	client *http.Client
}

// NewFallback creates the last-resort provider.
func NewFallback(cfg FallbackConfig) *Fallback {
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 10 * time.Second
	}
	cfg.OEmbedBaseURL = strings.TrimRight(cfg.OEmbedBaseURL, "/")

	maxRedirects := cfg.MaxRedirects
	return &Fallback{
		cfg: cfg,
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// Name implements Provider.
func (p *Fallback) Name() string { return "fallback" }

// Timeout covers the short-link, oEmbed and page steps.
func (p *Fallback) Timeout() time.Duration { return 3 * p.cfg.StepTimeout }

// Resolve implements Provider.
func (p *Fallback) Resolve(ctx context.Context, sourceURL string) (*domain.ExtractionResult, error) {
	var errs *multierror.Error

	resolved := sourceURL
	if tiktok.IsShortLink(sourceURL) {
		target, err := p.followShortLink(ctx, sourceURL)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("short link: %w", err))
		} else {
			resolved = target
		}
	}

	res, err := p.fromOEmbed(ctx, resolved)
	if err == nil {
		return res, nil
	}
	errs = multierror.Append(errs, fmt.Errorf("oembed: %w", err))

	res, err = p.fromPage(ctx, resolved)
	if err == nil {
		return res, nil
	}
	errs = multierror.Append(errs, fmt.Errorf("page: %w", err))

	if p.cfg.Placeholder {
		return domain.PlaceholderResult(p.Name(), sourceURL), nil
	}
	errs.ErrorFormat = inlineFormat
	return nil, errs.ErrorOrNil()
}

func (p *Fallback) followShortLink(ctx context.Context, shortURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, shortURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return tiktok.Clean(resp.Request.URL.String()), nil
}

type oembedResponse struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ThumbnailURL string `json:"thumbnail_url"`
}

func (p *Fallback) fromOEmbed(ctx context.Context, pageURL string) (*domain.ExtractionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()

	endpoint := p.cfg.OEmbedBaseURL + "/oembed?url=" + url.QueryEscape(pageURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var body oembedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxAPIBody)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if body.Title == "" && body.ThumbnailURL == "" {
		return nil, fmt.Errorf("empty oembed document")
	}

	res := domain.PlaceholderResult(p.Name(), pageURL)
	if body.Title != "" {
		res.Title = body.Title
	}
	if body.AuthorName != "" {
		res.Author = body.AuthorName
	}
	if body.ThumbnailURL != "" {
		res.Thumbnail = body.ThumbnailURL
	}
	return res, nil
}

func (p *Fallback) fromPage(ctx context.Context, pageURL string) (*domain.ExtractionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxAPIBody))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	title, _ := lo.Coalesce(
		metaContent(doc, `meta[property="og:title"]`),
		metaContent(doc, `meta[name="twitter:title"]`),
		strings.TrimSpace(doc.Find("title").First().Text()),
	)
	thumb, _ := lo.Coalesce(
		metaContent(doc, `meta[property="og:image"]`),
		metaContent(doc, `meta[name="twitter:image"]`),
	)
	if title == "" && thumb == "" {
		return nil, fmt.Errorf("page has no preview metadata")
	}

	res := domain.PlaceholderResult(p.Name(), pageURL)
	if title != "" {
		res.Title = strings.TrimSpace(strings.SplitN(title, " | ", 2)[0])
	}
	if thumb != "" {
		res.Thumbnail = thumb
	}

	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		m := playAddrPattern.FindStringSubmatch(s.Text())
		if m == nil {
			return true
		}
		addr, err := strconv.Unquote(`"` + m[1] + `"`)
		if err != nil || !strings.HasPrefix(addr, "http") {
			return true
		}
		res.VideoURLHigh, res.VideoURLStandard, res.AudioURL = addr, addr, addr
		return false
	})

	return res, nil
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(v)
}
