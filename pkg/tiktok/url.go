// Package tiktok recognises and normalises TikTok video links.
package tiktok

import (
	"regexp"
	"strings"
)

// Supported link shapes. Each pattern captures the video ID or short code.
var (
	canonicalRe = regexp.MustCompile(`^https?://(?:www\.)?tiktok\.com/@[\w.-]+/video/(\d+)`)
	shareRe     = regexp.MustCompile(`^https?://(?:www\.)?tiktok\.com/t/([\w-]+)`)
	vmRe        = regexp.MustCompile(`^https?://vm\.tiktok\.com/([\w-]+)`)
	vtRe        = regexp.MustCompile(`^https?://vt\.tiktok\.com/([\w-]+)`)
	mobileRe    = regexp.MustCompile(`^https?://m\.tiktok\.com/v/(\d+)`)

	patterns   = []*regexp.Regexp{canonicalRe, shareRe, vmRe, vtRe, mobileRe}
	shortLinks = []*regexp.Regexp{shareRe, vmRe, vtRe}
)

// Validate reports whether rawURL is one of the supported TikTok link shapes.
func Validate(rawURL string) bool {
	u := strings.TrimSpace(rawURL)
	if u == "" {
		return false
	}
	for _, re := range patterns {
		if re.MatchString(u) {
			return true
		}
	}
	return false
}

// Clean drops the query string and fragment. Short links are not resolved.
func Clean(rawURL string) string {
	u := strings.TrimSpace(rawURL)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return u
}

// IsShortLink reports whether the URL must be resolved through a redirect
// before it points at a video page.
func IsShortLink(rawURL string) bool {
	u := strings.TrimSpace(rawURL)
	for _, re := range shortLinks {
		if re.MatchString(u) {
			return true
		}
	}
	return false
}

// VideoID extracts the numeric ID or short code, or "" if the URL is not supported.
func VideoID(rawURL string) string {
	u := strings.TrimSpace(rawURL)
	for _, re := range patterns {
		if m := re.FindStringSubmatch(u); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}
