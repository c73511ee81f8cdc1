package domain

// DefaultBaseSize is the high-quality size assumed when a provider reports none (15 MiB).
const DefaultBaseSize int64 = 15728640

// Placeholder values used when no provider supplies real metadata.
const (
	PlaceholderTitle     = "TikTok Video"
	PlaceholderAuthor    = "TikTok User"
	PlaceholderThumbnail = "https://images.unsplash.com/photo-1611224923853-80b023f02d71?w=400&h=400&fit=crop"
	PlaceholderDuration  = 30
)

// Stats holds the engagement counters reported for a video.
type Stats struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
}

// PlaceholderStats are reported when a provider has no counters.
var PlaceholderStats = Stats{Views: 1000, Likes: 100, Comments: 10, Shares: 5}

// Sizes are approximate byte sizes per deliverable variant.
type Sizes struct {
	High     int64 `json:"high"`
	Standard int64 `json:"standard"`
	Audio    int64 `json:"audio"`
}

// EstimateSizes derives the standard (60%) and audio (10%) sizes from a high-quality base.
// A non-positive base falls back to DefaultBaseSize.
func EstimateSizes(base int64) Sizes {
	if base <= 0 {
		base = DefaultBaseSize
	}
	return Sizes{
		High:     base,
		Standard: base * 6 / 10,
		Audio:    base / 10,
	}
}

// ExtractionResult is what a provider resolves a source URL into. It is never persisted.
type ExtractionResult struct {
	Provider         string `json:"provider"`
	Title            string `json:"title"`
	Duration         int    `json:"duration"`
	Thumbnail        string `json:"thumbnail"`
	Author           string `json:"author"`
	VideoURLHigh     string `json:"video_url_high"`
	VideoURLStandard string `json:"video_url_standard"`
	AudioURL         string `json:"audio_url"`
	Sizes            Sizes  `json:"sizes"`
	Stats            Stats  `json:"stats"`
}

// Metadata returns the part of the result merged into a download record.
func (r *ExtractionResult) Metadata() Metadata {
	return Metadata{
		Title:     r.Title,
		Duration:  r.Duration,
		Thumbnail: r.Thumbnail,
	}
}

// MediaURL picks the source for a format and quality. High quality falls back to
// the standard URL when no separate high-quality link exists.
func (r *ExtractionResult) MediaURL(format Format, quality Quality) string {
	if format == FormatAudio {
		if r.AudioURL != "" {
			return r.AudioURL
		}
		return r.VideoURLStandard
	}
	if quality == QualityHigh && r.VideoURLHigh != "" {
		return r.VideoURLHigh
	}
	if r.VideoURLStandard != "" {
		return r.VideoURLStandard
	}
	return r.VideoURLHigh
}

// PlaceholderResult is the last-resort result that points every media URL back at the source.
func PlaceholderResult(provider, sourceURL string) *ExtractionResult {
	return &ExtractionResult{
		Provider:         provider,
		Title:            PlaceholderTitle,
		Duration:         PlaceholderDuration,
		Thumbnail:        PlaceholderThumbnail,
		Author:           PlaceholderAuthor,
		VideoURLHigh:     sourceURL,
		VideoURLStandard: sourceURL,
		AudioURL:         sourceURL,
		Sizes:            EstimateSizes(0),
		Stats:            PlaceholderStats,
	}
}
