package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alumninet.org/internal/ids"
)

// ConsentTTL is the fixed validity interval of a parental grant.
const ConsentTTL = 365 * 24 * time.Hour

// ConsentState is what the manager observed about a profile's latest
// consent record at a point in time.
type ConsentState string

const (
	ConsentStateNone    ConsentState = "none"
	ConsentStateValid   ConsentState = "valid"
	ConsentStateExpired ConsentState = "expired"
	ConsentStateRevoked ConsentState = "revoked"
)

// Consents manages the grant/revoke/renew lifecycle of parental consent.
// Expiry is evaluated lazily on read; there is no background sweep.
type Consents struct {
	store  Store
	now    func() time.Time
	expire func(ctx context.Context, recordID string)
}

// NewConsents constructs the lifecycle manager. The clock is injectable
// for tests.
func NewConsents(store Store, now func() time.Time) *Consents {
	if now == nil {
		now = time.Now
	}
	c := &Consents{store: store, now: now}
	c.expire = c.markExpired
	return c
}

// GrantRequest carries the signer metadata recorded with a new grant.
type GrantRequest struct {
	ProfileID string
	GrantedBy string
	IP        string
	Endpoint  string
}

// Grant issues a fresh consent record for the profile, superseding any
// active one. It fails for profiles outside the consent age window: an
// adult needs no consent and an under-age profile cannot be consented
// into access.
func (c *Consents) Grant(ctx context.Context, req GrantRequest) (*ConsentRecord, error) {
	if req.ProfileID == "" {
		return nil, fmt.Errorf("%w: profile id is required", ErrInvalidInput)
	}
	profile, err := c.store.Profiles().Find(ctx, req.ProfileID)
	if err != nil {
		return nil, err
	}
	if profile.YearOfBirth == nil {
		return nil, ErrNotConsentAge
	}
	now := c.now().UTC()
	if category, _ := ClassifyAge(*profile.YearOfBirth, now); category != CategoryConsentRequired {
		return nil, ErrNotConsentAge
	}

	rec := &ConsentRecord{
		ID:        ids.New(),
		ProfileID: profile.ID,
		Status:    ConsentActive,
		GrantedBy: req.GrantedBy,
		GrantedAt: now,
		ExpiresAt: now.Add(ConsentTTL),
	}
	if err := c.store.Consents().Grant(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Revoke marks the active record revoked. Takes effect immediately: the
// next authorization check observes it without any propagation step.
func (c *Consents) Revoke(ctx context.Context, profileID, reason string) (*ConsentRecord, error) {
	if profileID == "" {
		return nil, fmt.Errorf("%w: profile id is required", ErrInvalidInput)
	}
	if reason == "" {
		reason = "parent_revoked"
	}
	return c.store.Consents().Revoke(ctx, profileID, reason, c.now().UTC())
}

// Validity reports the consent state for the profile at the given time.
// A record past its expiry is reported invalid on read; the stored status
// flip to "expired" happens best-effort and never fails the read.
func (c *Consents) Validity(ctx context.Context, profileID string, now time.Time) (ConsentState, error) {
	rec, err := c.store.Consents().Latest(ctx, profileID)
	if errors.Is(err, ErrNotFound) {
		return ConsentStateNone, nil
	}
	if err != nil {
		return ConsentStateNone, err
	}
	switch rec.Status {
	case ConsentActive:
		if rec.ExpiresAt.After(now) {
			return ConsentStateValid, nil
		}
		c.expire(ctx, rec.ID)
		return ConsentStateExpired, nil
	case ConsentExpired:
		return ConsentStateExpired, nil
	default:
		return ConsentStateRevoked, nil
	}
}

// IsCurrentlyValid is the boolean view of Validity used by the decision
// engine.
func (c *Consents) IsCurrentlyValid(ctx context.Context, profileID string, now time.Time) (bool, ConsentState, error) {
	state, err := c.Validity(ctx, profileID, now)
	return state == ConsentStateValid, state, err
}

func (c *Consents) markExpired(ctx context.Context, recordID string) {
	// Audit clarity only; the record already reads as invalid.
	_ = c.store.Consents().MarkExpired(ctx, recordID)
}
