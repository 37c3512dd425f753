package usecase

import (
	"context"
	"io"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"tg-filestream/internal/domain"
	"tg-filestream/internal/pkg/retry"
)

const (
	// maxChunkAttempts bounds reads of a single chunk on transient upstream
	// errors: the first read plus up to three retries.
	maxChunkAttempts = 4

	// maxMigrations bounds how many auth-migration redirects one request
	// follows before giving up.
	maxMigrations = 3
)

// Fetcher turns a byte interval into a serial sequence of platform-aligned
// chunk reads, trims the ends, and writes the slices to the consumer in
// ascending offset order. The write to the consumer happens before the next
// chunk is requested, so slow consumers throttle upstream fetches.
type Fetcher struct {
	chunkSize int64
	ledger    *Ledger
	log       *zap.Logger
}

// NewFetcher creates a fetcher reading chunkSize-aligned blocks.
func NewFetcher(chunkSize int64, ledger *Ledger, log *zap.Logger) *Fetcher {
	return &Fetcher{chunkSize: chunkSize, ledger: ledger, log: log.Named("fetcher")}
}

// ChunkSize returns the configured upstream read size.
func (f *Fetcher) ChunkSize() int64 { return f.chunkSize }

// Stream fetches the file bytes [from, until] through gw and writes them to w.
// Per chunk it records bytes on st, refreshes activity, and accrues to the
// ledger. It returns the number of bytes written; the concatenation of the
// written slices equals the file bytes of the interval iff err is nil.
func (f *Fetcher) Stream(ctx context.Context, gw domain.MediaGateway, loc *domain.FileLocator, from, until int64, st *Stream, w io.Writer) (int64, error) {
	if from < 0 || until < from {
		return 0, errors.Errorf("invalid interval [%d, %d]", from, until)
	}

	chunk := f.chunkSize
	firstOffset := from - from%chunk
	lastEnd := until + 1
	lastChunkEnd := ((lastEnd + chunk - 1) / chunk) * chunk

	dc := loc.DCID
	migrations := 0
	var written int64

	for offset := firstOffset; offset < lastChunkEnd; offset += chunk {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		data, err := f.fetchChunk(ctx, gw, loc, &dc, &migrations, offset)
		if err != nil {
			return written, err
		}

		last := offset+chunk >= lastChunkEnd
		if int64(len(data)) < chunk && !last {
			return written, errors.Wrapf(domain.ErrShortChunk,
				"offset %d: got %d of %d bytes", offset, len(data), chunk)
		}

		lo := from - offset
		if lo < 0 {
			lo = 0
		}
		hi := int64(len(data))
		if offset+hi > lastEnd {
			hi = lastEnd - offset
		}
		if hi < lo || (last && offset+int64(len(data)) < lastEnd) {
			return written, errors.Wrapf(domain.ErrShortChunk,
				"offset %d: got %d bytes, interval end %d", offset, len(data), lastEnd)
		}

		slice := data[lo:hi]
		if len(slice) == 0 {
			continue
		}
		if _, err := w.Write(slice); err != nil {
			// The consumer is gone; the caller treats this as cancellation.
			return written, errors.Wrap(err, "write to consumer")
		}
		written += int64(len(slice))
		if st != nil {
			st.AddBytes(len(slice))
		}
		f.ledger.Accrue(len(slice))
	}
	return written, nil
}

// fetchChunk reads one aligned chunk, retrying transient errors on the same
// session and following auth-migration redirects to a new data-center.
func (f *Fetcher) fetchChunk(ctx context.Context, gw domain.MediaGateway, loc *domain.FileLocator, dc *int, migrations *int, offset int64) ([]byte, error) {
	for {
		sess, err := gw.Session(ctx, *dc)
		if err != nil {
			return nil, err
		}

		var data []byte
		err = retry.WithBackoff(ctx, f.log, "fetch chunk", maxChunkAttempts, retry.Schedule(), func() error {
			b, ferr := sess.FetchChunk(ctx, loc, offset, int(f.chunkSize))
			if ferr != nil {
				if _, migrated := domain.AsAuthMigration(ferr); migrated {
					return retry.Permanent(ferr)
				}
				if errors.Is(ferr, domain.ErrUpstreamTransient) {
					chunkRetriesTotal.Inc()
					return ferr
				}
				return retry.Permanent(ferr)
			}
			data = b
			return nil
		})
		if err == nil {
			return data, nil
		}

		if mig, ok := domain.AsAuthMigration(err); ok {
			*migrations++
			if *migrations > maxMigrations {
				return nil, errors.Wrapf(domain.ErrUpstreamUnavailable,
					"gave up after %d migrations", *migrations-1)
			}
			dcMigrationsTotal.Inc()
			f.log.Info("following dc migration",
				zap.Int("from_dc", *dc), zap.Int("to_dc", mig.DC))
			gw.Invalidate(*dc)
			*dc = mig.DC
			continue
		}
		if errors.Is(err, domain.ErrUpstreamTransient) {
			return nil, errors.Wrapf(domain.ErrUpstreamUnavailable,
				"retries exhausted at offset %d: %v", offset, err)
		}
		return nil, err
	}
}
