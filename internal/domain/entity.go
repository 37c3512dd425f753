package domain

import (
	"strings"
	"time"
)

// FileLocator is the set of identifiers needed to request raw bytes of a file
// from a media data-center. It is immutable for a given message id for the life
// of the file on the platform. Access hashes are scoped to the identity that
// resolved the locator, so locators must never be shared across identities.
type FileLocator struct {
	DCID          int
	ID            int64
	AccessHash    int64
	FileReference []byte

	// ThumbSize is set for photos only and selects the size variant to fetch.
	ThumbSize string
	IsPhoto   bool

	Size     int64
	MimeType string
	Filename string

	// MessageDate is the timestamp of the message carrying the file, used for
	// link expiry checks.
	MessageDate time.Time
}

// BotInfo describes the authenticated account behind an identity.
type BotInfo struct {
	ID        int64
	Username  string
	FirstName string
}

// Mention returns the @-prefixed username, or the first name when the account
// has no username.
func (b BotInfo) Mention() string {
	if b.Username != "" {
		return "@" + b.Username
	}
	return b.FirstName
}

// PublicLinks are the URLs handed back to the chat surface for a stored file.
// StreamURL and PlayerURL are empty for non-video files.
type PublicLinks struct {
	DownloadURL string
	StreamURL   string
	PlayerURL   string
}

// videoMimeTypes is the set of MIME types the streaming endpoint treats as
// seekable video.
var videoMimeTypes = map[string]struct{}{
	"video/mp4":        {},
	"video/webm":       {},
	"video/ogg":        {},
	"video/quicktime":  {},
	"video/x-msvideo":  {},
	"video/x-matroska": {},
	"video/avi":        {},
	"video/mkv":        {},
}

// IsVideoMime reports whether mime denotes a streamable video format.
func IsVideoMime(mime string) bool {
	_, ok := videoMimeTypes[strings.ToLower(mime)]
	return ok
}

// VideoMimeTypes returns the supported video formats in stable order.
func VideoMimeTypes() []string {
	return []string{
		"video/mp4", "video/webm", "video/ogg", "video/quicktime",
		"video/x-msvideo", "video/x-matroska", "video/avi", "video/mkv",
	}
}
