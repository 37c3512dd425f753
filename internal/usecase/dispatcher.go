package usecase

import (
	"sync"
	"sync/atomic"
	"time"

	"tg-filestream/internal/domain"
)

// Identity is one bot account usable for fetching chunks, together with its
// work-in-progress counter and its locator cache. Access hashes are scoped to
// the identity, so the cache is too.
type Identity struct {
	gw       domain.MediaGateway
	locators *LocatorCache

	wip atomic.Int64
}

// ID returns the stable identity id.
func (i *Identity) ID() string { return i.gw.ID() }

// Gateway returns the identity's platform gateway.
func (i *Identity) Gateway() domain.MediaGateway { return i.gw }

// Locators returns the identity's locator cache.
func (i *Identity) Locators() *LocatorCache { return i.locators }

// WIP returns the number of streams currently assigned to this identity.
func (i *Identity) WIP() int64 { return i.wip.Load() }

// Dispatcher assigns streaming work to the least-loaded ready identity.
type Dispatcher struct {
	mu         sync.Mutex
	identities []*Identity
	maxPerID   int64
}

// NewDispatcher builds a dispatcher over the given gateways. Order is
// significant: ties on load are broken by position, first wins.
func NewDispatcher(gws []domain.MediaGateway, maxStreamsPerIdentity int64, cacheSize int, negTTL time.Duration) *Dispatcher {
	ids := make([]*Identity, 0, len(gws))
	for _, gw := range gws {
		ids = append(ids, &Identity{
			gw:       gw,
			locators: NewLocatorCache(cacheSize, negTTL),
		})
	}
	return &Dispatcher{identities: ids, maxPerID: maxStreamsPerIdentity}
}

// Select picks the ready identity with the smallest work-in-progress count,
// skipping excluded ids and identities at their concurrency cap, and claims a
// slot on it. The returned release function gives the slot back; it is safe to
// call more than once.
func (d *Dispatcher) Select(excluded map[string]struct{}) (*Identity, func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var best *Identity
	for _, ident := range d.identities {
		if _, skip := excluded[ident.ID()]; skip {
			continue
		}
		if !ident.gw.Ready() {
			continue
		}
		if ident.wip.Load() >= d.maxPerID {
			continue
		}
		if best == nil || ident.wip.Load() < best.wip.Load() {
			best = ident
		}
	}
	if best == nil {
		return nil, nil, domain.ErrNoClientAvailable
	}

	best.wip.Add(1)
	var once sync.Once
	release := func() {
		once.Do(func() { best.wip.Add(-1) })
	}
	return best, release, nil
}

// Identities returns the configured identities in stable order.
func (d *Dispatcher) Identities() []*Identity { return d.identities }

// ReadyCount returns how many identities currently have a usable primary
// session.
func (d *Dispatcher) ReadyCount() int {
	n := 0
	for _, ident := range d.identities {
		if ident.gw.Ready() {
			n++
		}
	}
	return n
}

// TotalWIP sums work-in-progress counters across identities.
func (d *Dispatcher) TotalWIP() int64 {
	var total int64
	for _, ident := range d.identities {
		total += ident.wip.Load()
	}
	return total
}
