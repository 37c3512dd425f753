package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"tg-filestream/internal/domain"
)

// monthKey formats t as the ledger partition key.
func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Ledger accrues served bytes into per-month counters and flushes them
// periodically to the external store. The month key is computed at accrual
// time, so a stream crossing a month boundary accounts its tail to the new
// month. Counters are monotonically non-decreasing; the cleaner never deletes
// the current month.
type Ledger struct {
	store   domain.LedgerStore // nil disables persistence
	ceiling int64
	log     *zap.Logger

	mu      sync.Mutex
	pending map[string]int64

	now func() time.Time
}

// NewLedger creates a ledger with the given monthly ceiling in bytes
// (0 disables the gate). store may be nil, in which case usage is tracked in
// process memory only.
func NewLedger(store domain.LedgerStore, ceiling int64, log *zap.Logger) *Ledger {
	return &Ledger{
		store:   store,
		ceiling: ceiling,
		log:     log.Named("ledger"),
		pending: make(map[string]int64),
		now:     time.Now,
	}
}

// Accrue records n bytes served at the moment of the call.
func (l *Ledger) Accrue(n int) {
	if n <= 0 {
		return
	}
	key := monthKey(l.now())
	l.mu.Lock()
	l.pending[key] += int64(n)
	l.mu.Unlock()
}

// Usage returns the current month key and the bytes used this month,
// combining the persisted counter with unflushed accruals.
func (l *Ledger) Usage(ctx context.Context) (string, int64, error) {
	key := monthKey(l.now())

	var persisted int64
	if l.store != nil {
		v, err := l.store.Get(ctx, key)
		if err != nil {
			return key, 0, errors.Wrap(err, "ledger get")
		}
		persisted = v
	}

	l.mu.Lock()
	unflushed := l.pending[key]
	l.mu.Unlock()
	return key, persisted + unflushed, nil
}

// Exceeded reports whether the monthly ceiling has been reached. A store
// error fails open: serving traffic is preferred over blocking on accounting.
func (l *Ledger) Exceeded(ctx context.Context) bool {
	if l.ceiling <= 0 {
		return false
	}
	_, used, err := l.Usage(ctx)
	if err != nil {
		l.log.Warn("bandwidth check failed, allowing request", zap.Error(err))
		return false
	}
	return used >= l.ceiling
}

// Ceiling returns the configured monthly ceiling in bytes.
func (l *Ledger) Ceiling() int64 { return l.ceiling }

// Flush writes pending counters to the store. The batch is swapped out under
// the lock and re-credited on failure, so a retried flush adds each byte
// exactly once.
func (l *Ledger) Flush(ctx context.Context) error {
	if l.store == nil {
		return nil
	}

	l.mu.Lock()
	batch := l.pending
	l.pending = make(map[string]int64)
	l.mu.Unlock()

	for key, n := range batch {
		if n == 0 {
			continue
		}
		if err := l.store.Add(ctx, key, n); err != nil {
			// Re-credit the failed key and every key not yet written.
			l.mu.Lock()
			for k, v := range batch {
				l.pending[k] += v
			}
			l.mu.Unlock()
			return errors.Wrapf(err, "flush %s", key)
		}
		delete(batch, key)
	}
	return nil
}

// CleanupOld deletes month records older than keepMonths, never the current
// one.
func (l *Ledger) CleanupOld(ctx context.Context, keepMonths int) (int64, error) {
	if l.store == nil {
		return 0, nil
	}
	now := l.now()
	cutoff := monthKey(now.AddDate(0, -keepMonths, 0))
	return l.store.DeleteBefore(ctx, cutoff, monthKey(now))
}

// Run flushes on the given interval and cleans up old records daily, until
// ctx is cancelled. A final flush runs on shutdown with a short deadline.
func (l *Ledger) Run(ctx context.Context, flushInterval time.Duration) {
	flush := time.NewTicker(flushInterval)
	cleanup := time.NewTicker(24 * time.Hour)
	defer flush.Stop()
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := l.Flush(shutdownCtx); err != nil {
				l.log.Error("final ledger flush failed", zap.Error(err))
			}
			cancel()
			return
		case <-flush.C:
			if err := l.Flush(ctx); err != nil {
				l.log.Warn("ledger flush failed", zap.Error(err))
			}
		case <-cleanup.C:
			if n, err := l.CleanupOld(ctx, 3); err != nil {
				l.log.Warn("ledger cleanup failed", zap.Error(err))
			} else if n > 0 {
				l.log.Info("old bandwidth records removed", zap.Int64("count", n))
			}
		}
	}
}
