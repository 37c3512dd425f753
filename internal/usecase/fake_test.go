package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tg-filestream/internal/domain"
)

// testFile returns n deterministic bytes, B[i] = i mod 256.
func testFile(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 256)
	}
	return b
}

// fakeSession serves chunk reads from an in-memory file. An optional
// intercept hook can inject errors per call.
type fakeSession struct {
	dc   int
	file []byte

	mu        sync.Mutex
	calls     int
	intercept func(call int, offset int64) error
}

func (s *fakeSession) FetchChunk(ctx context.Context, loc *domain.FileLocator, offset int64, limit int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls++
	call := s.calls
	hook := s.intercept
	s.mu.Unlock()

	if hook != nil {
		if err := hook(call, offset); err != nil {
			return nil, err
		}
	}

	if offset >= int64(len(s.file)) {
		return nil, nil
	}
	end := offset + int64(limit)
	if end > int64(len(s.file)) {
		end = int64(len(s.file))
	}
	out := make([]byte, end-offset)
	copy(out, s.file[offset:end])
	return out, nil
}

func (s *fakeSession) DC() int { return s.dc }

func (s *fakeSession) Close(context.Context) error { return nil }

func (s *fakeSession) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeGateway is an in-memory MediaGateway over a single file addressable by
// any message id in locators.
type fakeGateway struct {
	id    string
	ready atomic.Bool
	self  domain.BotInfo

	mu          sync.Mutex
	sessions    map[int]*fakeSession
	file        []byte
	locators    map[int64]*domain.FileLocator
	resolves    int
	resolveErr  error
	invalidated []int
	intercept   func(call int, offset int64) error
}

func newFakeGateway(id string, file []byte) *fakeGateway {
	g := &fakeGateway{
		id:       id,
		self:     domain.BotInfo{ID: 1, Username: id, FirstName: id},
		sessions: make(map[int]*fakeSession),
		file:     file,
		locators: make(map[int64]*domain.FileLocator),
	}
	g.ready.Store(true)
	return g
}

func (g *fakeGateway) addFile(msgID int64, mime, name string) *domain.FileLocator {
	loc := &domain.FileLocator{
		DCID:        1,
		ID:          msgID,
		AccessHash:  msgID * 7,
		Size:        int64(len(g.file)),
		MimeType:    mime,
		Filename:    name,
		MessageDate: time.Now(),
	}
	g.mu.Lock()
	g.locators[msgID] = loc
	g.mu.Unlock()
	return loc
}

func (g *fakeGateway) ID() string { return g.id }

func (g *fakeGateway) Ready() bool { return g.ready.Load() }

func (g *fakeGateway) Self() domain.BotInfo { return g.self }

func (g *fakeGateway) ResolveLocator(ctx context.Context, msgID int64) (*domain.FileLocator, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolves++
	if g.resolveErr != nil {
		return nil, g.resolveErr
	}
	loc, ok := g.locators[msgID]
	if !ok {
		return nil, domain.ErrReferenceNotFound
	}
	return loc, nil
}

func (g *fakeGateway) Session(ctx context.Context, dc int) (domain.UpstreamSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[dc]
	if !ok {
		s = &fakeSession{dc: dc, file: g.file, intercept: g.intercept}
		g.sessions[dc] = s
	}
	return s, nil
}

func (g *fakeGateway) Invalidate(dc int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invalidated = append(g.invalidated, dc)
	delete(g.sessions, dc)
}

func (g *fakeGateway) resolveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resolves
}

func (g *fakeGateway) totalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, s := range g.sessions {
		n += s.callCount()
	}
	return n
}
