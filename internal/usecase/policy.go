package usecase

import (
	"context"
	"time"

	"tg-filestream/internal/domain"
)

// Gates holds the pre-stream policy checks: link expiry and the monthly
// bandwidth ceiling. CORS and rate limiting live in the web adapter, where the
// request metadata is.
type Gates struct {
	linkExpiry time.Duration
	ledger     *Ledger

	now func() time.Time
}

// NewGates creates the policy gates. A zero linkExpiry disables expiry.
func NewGates(linkExpiry time.Duration, ledger *Ledger) *Gates {
	return &Gates{linkExpiry: linkExpiry, ledger: ledger, now: time.Now}
}

// LinkExpiry returns the configured expiry, 0 when disabled.
func (g *Gates) LinkExpiry() time.Duration { return g.linkExpiry }

// CheckExpiry returns ErrReferenceExpired when the locator's message is older
// than the configured expiry.
func (g *Gates) CheckExpiry(loc *domain.FileLocator) error {
	if g.linkExpiry <= 0 || loc.MessageDate.IsZero() {
		return nil
	}
	if g.now().After(loc.MessageDate.Add(g.linkExpiry)) {
		return domain.ErrReferenceExpired
	}
	return nil
}

// CheckBandwidth returns ErrBandwidthExceeded when the monthly ceiling has
// been reached.
func (g *Gates) CheckBandwidth(ctx context.Context) error {
	if g.ledger.Exceeded(ctx) {
		return domain.ErrBandwidthExceeded
	}
	return nil
}
