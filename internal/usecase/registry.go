package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stream is the in-process record of one live HTTP response.
type Stream struct {
	ID         string
	RefID      int64
	IdentityID string
	StartedAt  time.Time

	lastActivity atomic.Int64 // unix nanos
	bytesSent    atomic.Int64

	cancelOnce sync.Once
	cancel     context.CancelFunc
	release    func()
}

// BytesSent returns the number of body bytes written so far.
func (s *Stream) BytesSent() int64 { return s.bytesSent.Load() }

// LastActivity returns the time of the last chunk written.
func (s *Stream) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// AddBytes records n body bytes written and refreshes activity.
func (s *Stream) AddBytes(n int) {
	s.bytesSent.Add(int64(n))
	s.lastActivity.Store(time.Now().UnixNano())
	streamBytesTotal.Add(float64(n))
}

// Cancel terminates the in-flight fetch loop. Idempotent.
func (s *Stream) Cancel() {
	s.cancelOnce.Do(s.cancel)
}

// Registry is the process-wide map of in-flight streams. It is linearizable:
// a Register followed by Count observes the new entry.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream

	maxAge   time.Duration
	interval time.Duration
	log      *zap.Logger
}

// NewRegistry creates a registry whose reaper cancels streams idle for longer
// than maxAge, checking every interval.
func NewRegistry(maxAge, interval time.Duration, log *zap.Logger) *Registry {
	return &Registry{
		streams:  make(map[string]*Stream),
		maxAge:   maxAge,
		interval: interval,
		log:      log.Named("registry"),
	}
}

// Register records a new stream before its first byte is written. The cancel
// function tears down the fetch loop; release returns the identity slot. Both
// are invoked at most once each.
func (r *Registry) Register(refID int64, identityID string, cancel context.CancelFunc, release func()) *Stream {
	now := time.Now()
	s := &Stream{
		ID:         uuid.NewString(),
		RefID:      refID,
		IdentityID: identityID,
		StartedAt:  now,
		cancel:     cancel,
		release:    release,
	}
	s.lastActivity.Store(now.UnixNano())

	r.mu.Lock()
	r.streams[s.ID] = s
	r.mu.Unlock()
	activeStreamsGauge.Inc()
	return s
}

// Deregister removes the stream and releases its identity slot if still held.
// Safe to call for an already-removed stream.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	s, ok := r.streams[id]
	if ok {
		delete(r.streams, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	activeStreamsGauge.Dec()
	if s.release != nil {
		s.release()
	}
}

// Count returns the number of registered streams.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// CleanupStale cancels and deregisters streams whose last activity is older
// than the configured max age. Applying it twice with no intervening traffic
// has the same effect as once.
func (r *Registry) CleanupStale(now time.Time) int {
	r.mu.RLock()
	var stale []*Stream
	for _, s := range r.streams {
		if now.Sub(s.LastActivity()) > r.maxAge {
			stale = append(stale, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range stale {
		r.log.Warn("reaping stale stream",
			zap.String("stream_id", s.ID),
			zap.String("identity", s.IdentityID),
			zap.Duration("idle", now.Sub(s.LastActivity())))
		s.Cancel()
		r.Deregister(s.ID)
		staleStreamsReaped.Inc()
	}
	return len(stale)
}

// Run drives the reaper until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.CleanupStale(now); n > 0 {
				r.log.Info("stale streams reaped", zap.Int("count", n))
			}
		}
	}
}
