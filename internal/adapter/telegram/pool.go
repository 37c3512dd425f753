package telegram

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"tg-filestream/internal/domain"
)

// maxPooledSessions bounds the number of concurrently open media-DC sessions
// per identity. The platform has a handful of data-centers, so eviction is a
// safety valve rather than a hot path.
const maxPooledSessions = 8

// sessionPool maintains one mediaSession per data-center for an identity.
// Opening a session is slow (connection + auth export), so it is serialized
// per DC and concurrent callers share the result.
type sessionPool struct {
	client *telegram.Client
	reads  int64
	log    *zap.Logger

	// home serves requests for the identity's own data-center over the
	// primary connection.
	home   *mediaSession
	homeDC int

	mu      chanMutex
	entries map[int]*poolEntry
}

type poolEntry struct {
	dc    int
	ready chan struct{}
	sess  *mediaSession
	err   error
}

// chanMutex is a context-aware mutex: pool lookups must remain cancellable
// while another caller holds the lock through a slow open.
type chanMutex chan struct{}

func (m chanMutex) lock(ctx context.Context) error {
	select {
	case m <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m chanMutex) unlock() { <-m }

func newSessionPool(client *telegram.Client, homeAPI *tg.Client, homeDC int, readsPerSession int64, log *zap.Logger) *sessionPool {
	return &sessionPool{
		client:  client,
		reads:   readsPerSession,
		log:     log.Named("pool"),
		home:    newMediaSession(homeDC, homeAPI, nil, readsPerSession),
		homeDC:  homeDC,
		mu:      make(chanMutex, 1),
		entries: make(map[int]*poolEntry),
	}
}

// get returns the session for dc, opening it if absent. dc 0 means the
// identity's home data-center.
func (p *sessionPool) get(ctx context.Context, dc int) (domain.UpstreamSession, error) {
	if dc == 0 || dc == p.homeDC {
		return p.home, nil
	}

	if err := p.mu.lock(ctx); err != nil {
		return nil, err
	}
	e, ok := p.entries[dc]
	if ok {
		p.mu.unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		e.sess.touch()
		return e.sess, nil
	}

	e = &poolEntry{dc: dc, ready: make(chan struct{})}
	p.evictIdleLocked()
	p.entries[dc] = e
	p.mu.unlock()

	e.sess, e.err = p.open(ctx, dc)
	if e.err != nil {
		// Drop the failed entry so the next caller retries the open.
		if lerr := p.mu.lock(context.Background()); lerr == nil {
			if p.entries[dc] == e {
				delete(p.entries, dc)
			}
			p.mu.unlock()
		}
	}
	close(e.ready)

	if e.err != nil {
		return nil, e.err
	}
	e.sess.touch()
	return e.sess, nil
}

// open establishes a pooled connection to dc. gotd transfers authorization
// from the primary session internally.
func (p *sessionPool) open(ctx context.Context, dc int) (*mediaSession, error) {
	p.log.Info("opening media session", zap.Int("dc", dc))
	start := time.Now()

	inv, err := p.client.DC(ctx, dc, 1)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrUpstreamUnavailable, "open dc %d: %v", dc, err)
	}

	p.log.Info("media session ready",
		zap.Int("dc", dc),
		zap.Duration("took", time.Since(start)))
	return newMediaSession(dc, tg.NewClient(inv), inv, p.reads), nil
}

// invalidate closes and removes the session for dc; the next get reopens it.
func (p *sessionPool) invalidate(dc int) {
	if dc == 0 {
		return
	}
	if err := p.mu.lock(context.Background()); err != nil {
		return
	}
	e, ok := p.entries[dc]
	if ok {
		delete(p.entries, dc)
	}
	p.mu.unlock()

	if ok {
		p.log.Info("invalidating media session", zap.Int("dc", dc))
		go p.closeEntry(e)
	}
}

// evictIdleLocked drops the least-recently-used session when the pool is at
// capacity. Caller holds the pool lock.
func (p *sessionPool) evictIdleLocked() {
	if len(p.entries) < maxPooledSessions {
		return
	}
	var (
		oldest     *poolEntry
		oldestUsed time.Time
	)
	for _, e := range p.entries {
		select {
		case <-e.ready:
		default:
			continue // still opening
		}
		if e.sess == nil {
			continue
		}
		used := e.sess.lastUsed()
		if oldest == nil || used.Before(oldestUsed) {
			oldest = e
			oldestUsed = used
		}
	}
	if oldest != nil {
		delete(p.entries, oldest.dc)
		p.log.Info("evicting idle media session", zap.Int("dc", oldest.dc))
		go p.closeEntry(oldest)
	}
}

func (p *sessionPool) closeEntry(e *poolEntry) {
	<-e.ready
	if e.sess == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.sess.Close(ctx); err != nil {
		p.log.Debug("media session close", zap.Int("dc", e.dc), zap.Error(err))
	}
}

// closeAll tears the pool down on shutdown.
func (p *sessionPool) closeAll() {
	if err := p.mu.lock(context.Background()); err != nil {
		return
	}
	entries := p.entries
	p.entries = make(map[int]*poolEntry)
	p.mu.unlock()

	for _, e := range entries {
		p.closeEntry(e)
	}
}
