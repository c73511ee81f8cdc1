package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"github.com/iconidentify/tokgrab/internal/domain"
)

// SSSTik resolves links by posting to the ssstik.io form endpoint and scraping the result fragment.
type SSSTik struct {
	baseURL   string
	token     string
	userAgent string
	client    *http.Client
}

// NewSSSTik creates the secondary provider. The client gets a cookie jar so the
// session cookie set by the form endpoint is replayed.
func NewSSSTik(baseURL, token, userAgent string, client *http.Client) *SSSTik {
	if client == nil {
		client = &http.Client{}
	}
	if client.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err == nil {
			c := *client
			c.Jar = jar
			client = &c
		}
	}
	return &SSSTik{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		userAgent: userAgent,
		client:    client,
	}
}

// Name implements Provider.
func (p *SSSTik) Name() string { return "ssstik" }

// Resolve implements Provider. A response without a download link is a failure.
func (p *SSSTik) Resolve(ctx context.Context, sourceURL string) (*domain.ExtractionResult, error) {
	form := url.Values{
		"id":     {sourceURL},
		"locale": {"en"},
		"tt":     {p.token},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/abc", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Referer", p.baseURL+"/")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxAPIBody))
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	overlay := doc.Find(".result_overlay")
	link, _ := overlay.Find(`a[href*="download"]`).First().Attr("href")
	if link == "" {
		return nil, fmt.Errorf("response has no download link")
	}
	thumb, _ := overlay.Find("img").First().Attr("src")
	title := strings.TrimSpace(doc.Find(".result_overlay_title").First().Text())

	return &domain.ExtractionResult{
		Provider:         p.Name(),
		Title:            title,
		Duration:         domain.PlaceholderDuration,
		Thumbnail:        thumb,
		Author:           domain.PlaceholderAuthor,
		VideoURLHigh:     link,
		VideoURLStandard: link,
		AudioURL:         link,
		Sizes:            domain.EstimateSizes(0),
		Stats:            domain.PlaceholderStats,
	}, nil
}
