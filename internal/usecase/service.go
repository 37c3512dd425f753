package usecase

import (
	"context"
	"io"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"tg-filestream/internal/domain"
	"tg-filestream/internal/pkg/refcodec"
)

// maxReselections caps how many times a request abandons a failing identity
// and asks the dispatcher for another.
const maxReselections = 2

// Service is the root object of the streaming core. It owns the dispatcher,
// fetcher, registry, ledger, and gates; handlers receive it at construction
// and hold no other process state.
type Service struct {
	disp     *Dispatcher
	fetcher  *Fetcher
	registry *Registry
	ledger   *Ledger
	gates    *Gates
	links    *LinkBuilder
	users    domain.UserStore // nil when no user store is wired
	log      *zap.Logger

	startedAt time.Time
}

// NewService wires the streaming core together.
func NewService(disp *Dispatcher, fetcher *Fetcher, registry *Registry, ledger *Ledger, gates *Gates, links *LinkBuilder, users domain.UserStore, log *zap.Logger) *Service {
	return &Service{
		disp:      disp,
		fetcher:   fetcher,
		registry:  registry,
		ledger:    ledger,
		gates:     gates,
		links:     links,
		users:     users,
		log:       log.Named("service"),
		startedAt: time.Now(),
	}
}

// Decode resolves an opaque reference to a message id.
func (s *Service) Decode(ref string) (int64, error) {
	return refcodec.Decode(ref)
}

// Download is an admitted request bound to an identity and a resolved
// locator. Either Serve or Close must be called to give the identity slot
// back.
type Download struct {
	svc     *Service
	ident   *Identity
	release func()

	RefID   int64
	Locator *domain.FileLocator
}

// Open admits a request for the given message id: bandwidth gate, identity
// selection, locator resolution, expiry gate. Identity-specific failures
// trigger reselection with the failed identity excluded, at most
// maxReselections times.
func (s *Service) Open(ctx context.Context, msgID int64) (*Download, error) {
	if err := s.gates.CheckBandwidth(ctx); err != nil {
		return nil, err
	}

	excluded := make(map[string]struct{})
	var lastErr error
	for attempt := 0; attempt <= maxReselections; attempt++ {
		ident, release, err := s.disp.Select(excluded)
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		loc, err := ident.Locators().Lookup(ctx, ident.Gateway(), msgID)
		if err != nil {
			release()
			if errors.Is(err, domain.ErrReferenceNotFound) {
				// The file is gone; another identity will not see it either.
				return nil, err
			}
			s.log.Warn("locator lookup failed, excluding identity",
				zap.String("identity", ident.ID()),
				zap.Int64("msg_id", msgID),
				zap.Error(err))
			excluded[ident.ID()] = struct{}{}
			lastErr = err
			continue
		}

		if err := s.gates.CheckExpiry(loc); err != nil {
			release()
			return nil, err
		}

		return &Download{
			svc:     s,
			ident:   ident,
			release: release,
			RefID:   msgID,
			Locator: loc,
		}, nil
	}
	return nil, lastErr
}

// Close releases the identity slot without streaming. Safe after Serve.
func (d *Download) Close() {
	d.release()
}

// Serve registers a stream session, pumps the byte interval [from, until] to
// w, and finalizes: deregistration and slot release happen on every exit
// path. Cancellation of ctx, a write failure, or the stale-stream reaper all
// terminate the pump.
func (d *Download) Serve(ctx context.Context, w io.Writer, from, until int64) (int64, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	st := d.svc.registry.Register(d.RefID, d.ident.ID(), cancel, d.release)
	defer d.svc.registry.Deregister(st.ID)

	written, err := d.svc.fetcher.Stream(streamCtx, d.ident.Gateway(), d.Locator, from, until, st, w)
	switch {
	case err == nil:
		streamsTotal.WithLabelValues("done").Inc()
	case streamCtx.Err() != nil:
		streamsTotal.WithLabelValues("aborted").Inc()
	default:
		streamsTotal.WithLabelValues("failed").Inc()
	}
	return written, err
}

// Links returns the public-link builder.
func (s *Service) Links() *LinkBuilder { return s.links }

// Gates returns the policy gates.
func (s *Service) Gates() *Gates { return s.gates }

// Ledger returns the bandwidth ledger.
func (s *Service) Ledger() *Ledger { return s.ledger }

// Registry returns the active-stream registry.
func (s *Service) Registry() *Registry { return s.registry }

// Dispatcher returns the identity dispatcher.
func (s *Service) Dispatcher() *Dispatcher { return s.disp }

// Uptime returns how long the service has been running.
func (s *Service) Uptime() time.Duration { return time.Since(s.startedAt) }

// PrimaryBot describes the first configured identity's account.
func (s *Service) PrimaryBot() domain.BotInfo {
	ids := s.disp.Identities()
	if len(ids) == 0 {
		return domain.BotInfo{}
	}
	return ids[0].Gateway().Self()
}

// TotalUsers returns the user count from the command surface's store, 0 when
// none is wired.
func (s *Service) TotalUsers(ctx context.Context) int64 {
	if s.users == nil {
		return 0
	}
	n, err := s.users.Count(ctx)
	if err != nil {
		s.log.Warn("user count failed", zap.Error(err))
		return 0
	}
	return n
}
