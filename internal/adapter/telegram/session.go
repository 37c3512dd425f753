package telegram

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"golang.org/x/sync/semaphore"

	"tg-filestream/internal/domain"
)

// mediaSession is an authenticated channel to one data-center. It implements
// domain.UpstreamSession. A weighted semaphore caps outstanding chunk reads;
// callers past the cap wait, which is the pool's cooperative back-pressure.
type mediaSession struct {
	dc     int
	api    *tg.Client
	closer telegram.CloseInvoker // nil for the home session
	sem    *semaphore.Weighted

	used atomic.Int64 // unix nanos of last use
}

func newMediaSession(dc int, api *tg.Client, closer telegram.CloseInvoker, reads int64) *mediaSession {
	s := &mediaSession{
		dc:     dc,
		api:    api,
		closer: closer,
		sem:    semaphore.NewWeighted(reads),
	}
	s.touch()
	return s
}

func (s *mediaSession) touch() { s.used.Store(time.Now().UnixNano()) }

func (s *mediaSession) lastUsed() time.Time { return time.Unix(0, s.used.Load()) }

// DC implements domain.UpstreamSession.
func (s *mediaSession) DC() int { return s.dc }

// FetchChunk implements domain.UpstreamSession.
func (s *mediaSession) FetchChunk(ctx context.Context, loc *domain.FileLocator, offset int64, limit int) ([]byte, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)
	s.touch()

	res, err := s.api.UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Precise:  true,
		Location: inputLocation(loc),
		Offset:   offset,
		Limit:    limit,
	})
	if err != nil {
		return nil, classifyFetchError(err)
	}

	switch f := res.(type) {
	case *tg.UploadFile:
		return f.Bytes, nil
	case *tg.UploadFileCDNRedirect:
		// CDN-served files need a separate decryption flow; treat as
		// unavailable rather than serving nothing.
		return nil, errors.Wrap(domain.ErrUpstreamUnavailable, "cdn redirect")
	default:
		return nil, errors.Wrapf(domain.ErrUpstreamTransient, "unexpected upload response %T", res)
	}
}

// Close implements domain.UpstreamSession.
func (s *mediaSession) Close(ctx context.Context) error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close(ctx)
}

// inputLocation builds the platform file location for a locator.
func inputLocation(loc *domain.FileLocator) tg.InputFileLocationClass {
	if loc.IsPhoto {
		return &tg.InputPhotoFileLocation{
			ID:            loc.ID,
			AccessHash:    loc.AccessHash,
			FileReference: loc.FileReference,
			ThumbSize:     loc.ThumbSize,
		}
	}
	return &tg.InputDocumentFileLocation{
		ID:            loc.ID,
		AccessHash:    loc.AccessHash,
		FileReference: loc.FileReference,
	}
}

// classifyFetchError maps platform errors onto the core's closed error set.
func classifyFetchError(err error) error {
	if rpc, ok := tgerr.As(err); ok {
		switch {
		case rpc.IsType("FILE_MIGRATE"):
			return &domain.AuthMigrationError{DC: rpc.Argument}
		case rpc.IsType("FLOOD_WAIT"), rpc.IsType("FLOOD_PREMIUM_WAIT"):
			return errors.Wrapf(domain.ErrUpstreamTransient, "flood wait %ds", rpc.Argument)
		case strings.HasPrefix(rpc.Type, "FILE_REFERENCE"):
			// The cached locator went stale; the reference must be
			// re-resolved before this file can be served again.
			return errors.Wrapf(domain.ErrReferenceNotFound, "stale file reference: %s", rpc.Type)
		case rpc.Code == 401:
			return errors.Wrapf(domain.ErrUpstreamUnavailable, "auth: %s", rpc.Type)
		case rpc.Code >= 500:
			return errors.Wrapf(domain.ErrUpstreamTransient, "server: %s", rpc.Type)
		default:
			return errors.Wrapf(domain.ErrUpstreamUnavailable, "rpc: %s", rpc.Type)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Wrapf(domain.ErrUpstreamTransient, "transport: %v", err)
}
