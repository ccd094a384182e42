package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantSupersedesActiveRecord(t *testing.T) {
	now := date(2026, 8, 1)
	store := NewMemStore()
	consents := NewConsents(store, func() time.Time { return now })
	p := &Profile{AccountID: "acc-1", YearOfBirth: intPtr(2026 - 16)}
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	first, err := consents.Grant(context.Background(), GrantRequest{ProfileID: p.ID, GrantedBy: "acc-1"})
	require.NoError(t, err)

	// Move the clock so the second grant sorts after the first.
	now = now.Add(time.Hour)
	second, err := consents.Grant(context.Background(), GrantRequest{ProfileID: p.ID, GrantedBy: "acc-1"})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	var active, revoked int
	for _, r := range store.Records(p.ID) {
		switch r.Status {
		case ConsentActive:
			active++
			assert.Equal(t, second.ID, r.ID)
		case ConsentRevoked:
			revoked++
			assert.Equal(t, first.ID, r.ID)
			require.NotNil(t, r.RevokeReason)
			assert.Equal(t, RevokeReasonSuperseded, *r.RevokeReason)
		}
	}
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, revoked)
}

func TestGrantSetsOneYearExpiry(t *testing.T) {
	now := date(2026, 8, 1)
	store := NewMemStore()
	consents := NewConsents(store, func() time.Time { return now })
	p := &Profile{AccountID: "acc-1", YearOfBirth: intPtr(2026 - 16)}
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	rec, err := consents.Grant(context.Background(), GrantRequest{ProfileID: p.ID, GrantedBy: "acc-1"})
	require.NoError(t, err)
	assert.Equal(t, now.UTC().Add(ConsentTTL), rec.ExpiresAt)
	assert.Equal(t, ConsentActive, rec.Status)
}

func TestGrantRejectsAdultProfile(t *testing.T) {
	now := date(2026, 8, 1)
	store := NewMemStore()
	consents := NewConsents(store, func() time.Time { return now })
	p := &Profile{AccountID: "acc-1", YearOfBirth: intPtr(2026 - 25)}
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	_, err := consents.Grant(context.Background(), GrantRequest{ProfileID: p.ID, GrantedBy: "acc-1"})
	assert.ErrorIs(t, err, ErrNotConsentAge)
}

func TestGrantRejectsUnderAgeProfile(t *testing.T) {
	now := date(2026, 8, 1)
	store := NewMemStore()
	consents := NewConsents(store, func() time.Time { return now })
	p := &Profile{AccountID: "acc-1", YearOfBirth: intPtr(2026 - 12)}
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	_, err := consents.Grant(context.Background(), GrantRequest{ProfileID: p.ID, GrantedBy: "acc-1"})
	assert.ErrorIs(t, err, ErrNotConsentAge)
}

func TestGrantRejectsAccountHolderProfile(t *testing.T) {
	now := date(2026, 8, 1)
	store := NewMemStore()
	consents := NewConsents(store, func() time.Time { return now })
	p := &Profile{AccountID: "acc-1"}
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	_, err := consents.Grant(context.Background(), GrantRequest{ProfileID: p.ID, GrantedBy: "acc-1"})
	assert.ErrorIs(t, err, ErrNotConsentAge)
}

func TestRevokeWithoutActiveRecord(t *testing.T) {
	store := NewMemStore()
	consents := NewConsents(store, nil)
	p := &Profile{AccountID: "acc-1", YearOfBirth: intPtr(2026 - 16)}
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	_, err := consents.Revoke(context.Background(), p.ID, "parent_revoked")
	assert.ErrorIs(t, err, ErrNoActiveConsent)
}

func TestValidityStates(t *testing.T) {
	now := date(2026, 8, 1)
	store := NewMemStore()
	consents := NewConsents(store, func() time.Time { return now })
	p := &Profile{AccountID: "acc-1", YearOfBirth: intPtr(2026 - 16)}
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	state, err := consents.Validity(context.Background(), p.ID, now)
	require.NoError(t, err)
	assert.Equal(t, ConsentStateNone, state)

	rec, err := consents.Grant(context.Background(), GrantRequest{ProfileID: p.ID, GrantedBy: "acc-1"})
	require.NoError(t, err)

	state, err = consents.Validity(context.Background(), p.ID, now)
	require.NoError(t, err)
	assert.Equal(t, ConsentStateValid, state)

	// A boundary check: validity requires expiresAt strictly after now.
	state, err = consents.Validity(context.Background(), p.ID, rec.ExpiresAt)
	require.NoError(t, err)
	assert.Equal(t, ConsentStateExpired, state)
}

func TestValidityAfterRevoke(t *testing.T) {
	now := date(2026, 8, 1)
	store := NewMemStore()
	consents := NewConsents(store, func() time.Time { return now })
	p := &Profile{AccountID: "acc-1", YearOfBirth: intPtr(2026 - 16)}
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	_, err := consents.Grant(context.Background(), GrantRequest{ProfileID: p.ID, GrantedBy: "acc-1"})
	require.NoError(t, err)
	_, err = consents.Revoke(context.Background(), p.ID, "")
	require.NoError(t, err)

	state, err := consents.Validity(context.Background(), p.ID, now)
	require.NoError(t, err)
	assert.Equal(t, ConsentStateRevoked, state)

	recs := store.Records(p.ID)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].RevokeReason)
	assert.Equal(t, "parent_revoked", *recs[0].RevokeReason)
	// The revocation timestamp comes from the manager's clock, not the
	// wall clock.
	require.NotNil(t, recs[0].RevokedAt)
	assert.Equal(t, now.UTC(), *recs[0].RevokedAt)
}

func TestGrantSupersedeAtSameInstant(t *testing.T) {
	// Two grants at the same clock reading: the superseding record must
	// win every subsequent read, id order breaking the timestamp tie.
	now := date(2026, 8, 1)
	store := NewMemStore()
	consents := NewConsents(store, func() time.Time { return now })
	p := &Profile{AccountID: "acc-1", YearOfBirth: intPtr(2026 - 16)}
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	_, err := consents.Grant(context.Background(), GrantRequest{ProfileID: p.ID, GrantedBy: "acc-1"})
	require.NoError(t, err)
	second, err := consents.Grant(context.Background(), GrantRequest{ProfileID: p.ID, GrantedBy: "acc-1"})
	require.NoError(t, err)

	latest, err := store.Consents().Latest(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, ConsentActive, latest.Status)

	state, err := consents.Validity(context.Background(), p.ID, now)
	require.NoError(t, err)
	assert.Equal(t, ConsentStateValid, state)
}
