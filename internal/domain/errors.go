package domain

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Closed set of error kinds produced by the streaming core. Handlers map these
// to HTTP statuses at the boundary; nothing below the web adapter knows about
// status codes.
var (
	// ErrInvalidReference means an opaque reference failed to decode.
	ErrInvalidReference = errors.New("invalid reference")

	// ErrReferenceExpired means the link outlived the configured expiry.
	ErrReferenceExpired = errors.New("reference expired")

	// ErrReferenceNotFound means the underlying message is gone or carries no file.
	ErrReferenceNotFound = errors.New("reference not found")

	// ErrUpstreamTransient marks a retryable upstream failure (network blip,
	// momentary rate limit).
	ErrUpstreamTransient = errors.New("upstream transient failure")

	// ErrUpstreamUnavailable means retries were exhausted or no session could be
	// established.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrNoClientAvailable means the dispatcher found no identity below its
	// concurrency cap with a ready primary session.
	ErrNoClientAvailable = errors.New("no client available")

	// ErrShortChunk means the upstream returned fewer bytes than a full chunk
	// before the final chunk of the requested interval.
	ErrShortChunk = errors.New("short chunk from upstream")

	// ErrBandwidthExceeded means the monthly bandwidth ceiling has been reached.
	ErrBandwidthExceeded = errors.New("bandwidth ceiling reached")

	// ErrRateLimited means the client exceeded the per-IP request rate.
	ErrRateLimited = errors.New("rate limited")

	// ErrRangeNotSatisfiable means the Range header was syntactically invalid or
	// out of bounds for the file.
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
)

// AuthMigrationError signals that the file lives in a different data-center.
// The fetch loop must invalidate the current session and retry against DC.
// It never surfaces to clients.
type AuthMigrationError struct {
	DC int
}

func (e *AuthMigrationError) Error() string {
	return fmt.Sprintf("file migrated to dc %d", e.DC)
}

// AsAuthMigration extracts an AuthMigrationError from an error chain.
func AsAuthMigration(err error) (*AuthMigrationError, bool) {
	var m *AuthMigrationError
	if errors.As(err, &m) {
		return m, true
	}
	return nil, false
}
