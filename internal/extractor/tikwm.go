package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/lo"

	"github.com/iconidentify/tokgrab/internal/domain"
)

// maxAPIBody caps JSON and HTML bodies read from providers.
const maxAPIBody = 5 << 20

// TikWM resolves links through the tikwm.com JSON API.
type TikWM struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewTikWM creates the primary provider.
func NewTikWM(baseURL, userAgent string, client *http.Client) *TikWM {
	if client == nil {
		client = http.DefaultClient
	}
	return &TikWM{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    client,
	}
}

// Name implements Provider.
func (p *TikWM) Name() string { return "tikwm" }

type tikwmResponse struct {
	Code int        `json:"code"`
	Msg  string     `json:"msg"`
	Data *tikwmData `json:"data"`
}

type tikwmData struct {
	Title        string `json:"title"`
	Duration     int    `json:"duration"`
	Cover        string `json:"cover"`
	OriginCover  string `json:"origin_cover"`
	Play         string `json:"play"`
	HDPlay       string `json:"hdplay"`
	Music        string `json:"music"`
	Size         int64  `json:"size"`
	PlayCount    int64  `json:"play_count"`
	DiggCount    int64  `json:"digg_count"`
	CommentCount int64  `json:"comment_count"`
	ShareCount   int64  `json:"share_count"`
	Author       struct {
		Nickname string `json:"nickname"`
	} `json:"author"`
}

// Resolve implements Provider.
func (p *TikWM) Resolve(ctx context.Context, sourceURL string) (*domain.ExtractionResult, error) {
	endpoint := p.baseURL + "/api/?url=" + url.QueryEscape(sourceURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var body tikwmResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxAPIBody)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if body.Code != 0 {
		return nil, fmt.Errorf("api error code %d: %s", body.Code, body.Msg)
	}
	if body.Data == nil || body.Data.Play == "" {
		return nil, fmt.Errorf("response has no playable url")
	}

	d := body.Data
	hd, _ := lo.Coalesce(d.HDPlay, d.Play)
	thumb, _ := lo.Coalesce(d.Cover, d.OriginCover)
	author, _ := lo.Coalesce(d.Author.Nickname, domain.PlaceholderAuthor)
	views, _ := lo.Coalesce(d.PlayCount, domain.PlaceholderStats.Views)
	likes, _ := lo.Coalesce(d.DiggCount, domain.PlaceholderStats.Likes)
	comments, _ := lo.Coalesce(d.CommentCount, domain.PlaceholderStats.Comments)
	shares, _ := lo.Coalesce(d.ShareCount, domain.PlaceholderStats.Shares)

	return &domain.ExtractionResult{
		Provider:         p.Name(),
		Title:            strings.TrimSpace(d.Title),
		Duration:         d.Duration,
		Thumbnail:        thumb,
		Author:           author,
		VideoURLHigh:     hd,
		VideoURLStandard: d.Play,
		AudioURL:         d.Music,
		Sizes:            domain.EstimateSizes(d.Size),
		Stats: domain.Stats{
			Views:    views,
			Likes:    likes,
			Comments: comments,
			Shares:   shares,
		},
	}, nil
}
