package domain

import (
	"context"
)

// UpstreamSession is a long-lived authenticated channel to one media
// data-center. Implementations wrap the platform client; the core never names
// it. A session applies its own cap on outstanding chunk reads.
type UpstreamSession interface {
	// FetchChunk reads up to limit bytes at offset. Offset and limit must be
	// aligned to platform-accepted boundaries; the chunk fetcher guarantees
	// this. Returns an *AuthMigrationError when the file lives in another
	// data-center.
	FetchChunk(ctx context.Context, loc *FileLocator, offset int64, limit int) ([]byte, error)

	// DC returns the data-center id this session is bound to.
	DC() int

	Close(ctx context.Context) error
}

// MediaGateway is one bot identity's view of the messaging platform: metadata
// resolution through its primary session and chunk reads through per-DC
// sessions.
type MediaGateway interface {
	// ID is the stable identity id (stable ordering comes from config order).
	ID() string

	// Ready reports whether the identity's primary session is usable.
	Ready() bool

	// Self describes the authenticated account.
	Self() BotInfo

	// ResolveLocator fetches file metadata for a message id through the
	// identity's primary session. Returns ErrReferenceNotFound when the message
	// is gone or carries no file.
	ResolveLocator(ctx context.Context, msgID int64) (*FileLocator, error)

	// Session returns the identity's session for the given data-center, opening
	// it if absent. Opening is serialized per data-center; concurrent callers
	// share the result.
	Session(ctx context.Context, dc int) (UpstreamSession, error)

	// Invalidate closes and removes the session for the given data-center. The
	// next Session call reopens it.
	Invalidate(dc int)
}

// LedgerStore persists the monthly bandwidth counters. Add increments the
// month's counter ($inc-style, upserting the month record); it is not
// idempotent, so the ledger calls it once per successfully flushed batch entry.
type LedgerStore interface {
	Add(ctx context.Context, month string, bytes int64) error
	Get(ctx context.Context, month string) (int64, error)

	// DeleteBefore removes records older than cutoff, never touching current.
	DeleteBefore(ctx context.Context, cutoff, current string) (int64, error)
}

// UserStore exposes the user count maintained by the command surface. The
// streaming core only reads it for the info endpoint.
type UserStore interface {
	Count(ctx context.Context) (int64, error)
}
