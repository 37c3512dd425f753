package usecase

import (
	"net/url"

	"tg-filestream/internal/domain"
	"tg-filestream/internal/pkg/refcodec"
)

// LinkBuilder constructs the public URLs for a stored file. Shortening is the
// caller's business: ShouldShorten only signals when the configured size
// threshold is crossed.
type LinkBuilder struct {
	baseURL          string
	frontendURL      string
	shortenThreshold int64
}

// NewLinkBuilder creates a builder rooted at baseURL (no trailing slash).
// frontendURL, when set, is the external video player page.
func NewLinkBuilder(baseURL, frontendURL string, shortenThreshold int64) *LinkBuilder {
	return &LinkBuilder{
		baseURL:          baseURL,
		frontendURL:      frontendURL,
		shortenThreshold: shortenThreshold,
	}
}

// Build returns the public links for a message id. Stream and player links are
// produced only for video files.
func (b *LinkBuilder) Build(msgID int64, filename, mime string) domain.PublicLinks {
	ref := refcodec.Encode(msgID)
	links := domain.PublicLinks{
		DownloadURL: b.baseURL + "/dl/" + ref,
	}
	if !domain.IsVideoMime(mime) {
		return links
	}
	links.StreamURL = b.baseURL + "/stream/" + ref
	if b.frontendURL != "" {
		q := url.Values{}
		q.Set("stream", links.StreamURL)
		q.Set("title", filename)
		links.PlayerURL = b.frontendURL + "?" + q.Encode()
	}
	return links
}

// ShouldShorten reports whether a file of the given size crosses the
// URL-shortener threshold.
func (b *LinkBuilder) ShouldShorten(size int64) bool {
	return b.shortenThreshold > 0 && size > b.shortenThreshold
}

// FrontendURL returns the configured player page, empty when disabled.
func (b *LinkBuilder) FrontendURL() string { return b.frontendURL }
