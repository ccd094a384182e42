package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int       { return &v }
func levelPtr(l Level) *Level { return &l }

func newTestEngine(t *testing.T, now time.Time) (*Engine, *Consents, *MemStore) {
	t.Helper()
	store := NewMemStore()
	consents := NewConsents(store, func() time.Time { return now })
	return NewEngine(store, consents), consents, store
}

func TestResolveUnderMinimumAge(t *testing.T) {
	now := date(2026, 8, 1)
	engine, _, store := newTestEngine(t, now)
	p := &Profile{AccountID: "acc-1", YearOfBirth: intPtr(2026 - 12)}
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	d, err := engine.Resolve(context.Background(), p.ID, now)
	require.NoError(t, err)
	assert.Equal(t, LevelBlocked, d.Level)
	assert.Equal(t, ReasonUnderMinimumAge, d.Reason)
	assert.Equal(t, CodeAgeBlocked, d.Code)
	require.NotNil(t, d.Age)
	assert.Equal(t, 11, *d.Age)
}

func TestResolveUnderAgeIgnoresConsent(t *testing.T) {
	// A consent record must never widen access for an under-age profile.
	now := date(2026, 8, 1)
	engine, _, store := newTestEngine(t, now)
	p := &Profile{AccountID: "acc-1", YearOfBirth: intPtr(2026 - 12)}
	require.NoError(t, store.Profiles().Create(context.Background(), p))
	require.NoError(t, store.Consents().Grant(context.Background(), &ConsentRecord{
		ProfileID: p.ID,
		Status:    ConsentActive,
		GrantedAt: now,
		ExpiresAt: now.Add(ConsentTTL),
	}))

	d, err := engine.Resolve(context.Background(), p.ID, now)
	require.NoError(t, err)
	assert.Equal(t, LevelBlocked, d.Level)
	assert.Equal(t, ReasonUnderMinimumAge, d.Reason)
}

func TestResolveMinorWithConsent(t *testing.T) {
	now := date(2026, 8, 1)
	engine, consents, store := newTestEngine(t, now)
	p := &Profile{AccountID: "acc-1", YearOfBirth: intPtr(2026 - 16)}
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	_, err := consents.Grant(context.Background(), GrantRequest{ProfileID: p.ID, GrantedBy: "acc-1"})
	require.NoError(t, err)

	d, err := engine.Resolve(context.Background(), p.ID, now)
	require.NoError(t, err)
	assert.Equal(t, LevelSupervised, d.Level)
	assert.Equal(t, ReasonConsentValid, d.Reason)
	assert.Equal(t, CategoryConsentRequired, d.Category)
}

func TestResolveMinorWithoutConsent(t *testing.T) {
	now := date(2026, 8, 1)
	engine, _, store := newTestEngine(t, now)
	p := &Profile{AccountID: "acc-1", YearOfBirth: intPtr(2026 - 16)}
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	d, err := engine.Resolve(context.Background(), p.ID, now)
	require.NoError(t, err)
	assert.Equal(t, LevelBlocked, d.Level)
	assert.Equal(t, ReasonConsentMissing, d.Reason)
	assert.Equal(t, CodeConsentRequired, d.Code)
}

func TestResolveConsentLazyExpiry(t *testing.T) {
	granted := date(2026, 8, 1)
	engine, consents, store := newTestEngine(t, granted)
	p := &Profile{AccountID: "acc-1", YearOfBirth: intPtr(2026 - 16)}
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	rec, err := consents.Grant(context.Background(), GrantRequest{ProfileID: p.ID, GrantedBy: "acc-1"})
	require.NoError(t, err)

	// 366 days later with no renewal: invalid on read, no sweep needed.
	later := granted.Add(366 * 24 * time.Hour)
	d, err := engine.Resolve(context.Background(), p.ID, later)
	require.NoError(t, err)
	assert.Equal(t, LevelBlocked, d.Level)
	assert.Equal(t, ReasonConsentMissing, d.Reason)
	assert.Equal(t, CodeConsentExpired, d.Code)

	// The lazy read also flipped the stored status for audit clarity.
	recs := store.Records(p.ID)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
	assert.Equal(t, ConsentExpired, recs[0].Status)
}

func TestResolveRevokedConsentImmediate(t *testing.T) {
	now := date(2026, 8, 1)
	engine, consents, store := newTestEngine(t, now)
	p := &Profile{AccountID: "acc-1", YearOfBirth: intPtr(2026 - 16)}
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	_, err := consents.Grant(context.Background(), GrantRequest{ProfileID: p.ID, GrantedBy: "acc-1"})
	require.NoError(t, err)
	d, err := engine.Resolve(context.Background(), p.ID, now)
	require.NoError(t, err)
	require.Equal(t, LevelSupervised, d.Level)

	// Revocation flips the very next resolution, no re-login involved.
	_, err = consents.Revoke(context.Background(), p.ID, "parent_revoked")
	require.NoError(t, err)
	d, err = engine.Resolve(context.Background(), p.ID, now)
	require.NoError(t, err)
	assert.Equal(t, LevelBlocked, d.Level)
	assert.Equal(t, ReasonConsentMissing, d.Reason)
	assert.Equal(t, CodeAccessRevoked, d.Code)
}

func TestResolveAdult(t *testing.T) {
	now := date(2026, 8, 1)
	engine, _, store := newTestEngine(t, now)
	p := &Profile{AccountID: "acc-1", YearOfBirth: intPtr(2026 - 25)}
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	d, err := engine.Resolve(context.Background(), p.ID, now)
	require.NoError(t, err)
	assert.Equal(t, LevelFull, d.Level)
	assert.Equal(t, ReasonAdult, d.Reason)
	assert.Empty(t, d.Code)
}

func TestResolveAccountHolderProfile(t *testing.T) {
	now := date(2026, 8, 1)
	engine, _, store := newTestEngine(t, now)
	p := &Profile{AccountID: "acc-1"} // no year of birth
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	d, err := engine.Resolve(context.Background(), p.ID, now)
	require.NoError(t, err)
	assert.Equal(t, LevelFull, d.Level)
	assert.Equal(t, ReasonAdult, d.Reason)
	assert.Nil(t, d.Age)
}

func TestResolveExplicitBlockWinsOverAdult(t *testing.T) {
	now := date(2026, 8, 1)
	engine, _, store := newTestEngine(t, now)
	p := &Profile{
		AccountID:     "acc-1",
		YearOfBirth:   intPtr(2026 - 25),
		ExplicitLevel: levelPtr(LevelBlocked),
	}
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	d, err := engine.Resolve(context.Background(), p.ID, now)
	require.NoError(t, err)
	assert.Equal(t, LevelBlocked, d.Level)
	assert.Equal(t, ReasonExplicitBlock, d.Reason)
	assert.Equal(t, CodeAccessRevoked, d.Code)
}

func TestResolveSuspendedProfile(t *testing.T) {
	now := date(2026, 8, 1)
	engine, _, store := newTestEngine(t, now)
	p := &Profile{AccountID: "acc-1", YearOfBirth: intPtr(2026 - 25), Status: ProfileSuspended}
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	d, err := engine.Resolve(context.Background(), p.ID, now)
	require.NoError(t, err)
	assert.Equal(t, LevelBlocked, d.Level)
	assert.Equal(t, ReasonAccountSuspended, d.Reason)
	assert.Equal(t, CodeAccountSuspended, d.Code)
}

func TestResolveIdempotent(t *testing.T) {
	now := date(2026, 8, 1)
	engine, consents, store := newTestEngine(t, now)
	p := &Profile{AccountID: "acc-1", YearOfBirth: intPtr(2026 - 16)}
	require.NoError(t, store.Profiles().Create(context.Background(), p))
	_, err := consents.Grant(context.Background(), GrantRequest{ProfileID: p.ID, GrantedBy: "acc-1"})
	require.NoError(t, err)

	first, err := engine.Resolve(context.Background(), p.ID, now)
	require.NoError(t, err)
	second, err := engine.Resolve(context.Background(), p.ID, now)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolveUnknownProfile(t *testing.T) {
	now := date(2026, 8, 1)
	engine, _, _ := newTestEngine(t, now)
	_, err := engine.Resolve(context.Background(), "missing", now)
	assert.ErrorIs(t, err, ErrNotFound)
}

// failingConsentStore makes every consent read fail, to prove the engine
// fails closed instead of defaulting to allow.
type failingConsentStore struct {
	Store
	err error
}

func (f failingConsentStore) Consents() ConsentStore { return failingConsents{err: f.err} }

type failingConsents struct{ err error }

func (f failingConsents) Latest(context.Context, string) (*ConsentRecord, error) {
	return nil, f.err
}
func (f failingConsents) Grant(context.Context, *ConsentRecord) error { return f.err }
func (f failingConsents) Revoke(context.Context, string, string, time.Time) (*ConsentRecord, error) {
	return nil, f.err
}
func (f failingConsents) MarkExpired(context.Context, string) error { return f.err }

func TestResolveFailsClosedOnStoreError(t *testing.T) {
	now := date(2026, 8, 1)
	store := NewMemStore()
	p := &Profile{AccountID: "acc-1", YearOfBirth: intPtr(2026 - 16)}
	require.NoError(t, store.Profiles().Create(context.Background(), p))

	broken := failingConsentStore{Store: store, err: errors.New("store down")}
	consents := NewConsents(broken, func() time.Time { return now })
	engine := NewEngine(broken, consents)

	_, err := engine.Resolve(context.Background(), p.ID, now)
	assert.Error(t, err)
}

func TestAccountDecision(t *testing.T) {
	now := date(2026, 8, 1)
	d := AccountDecision(now)
	assert.Equal(t, LevelFull, d.Level)
	assert.Equal(t, ReasonAccountHolder, d.Reason)
	assert.True(t, d.Allowed())
}

func TestLevelSatisfies(t *testing.T) {
	assert.True(t, LevelFull.Satisfies(LevelSupervised))
	assert.True(t, LevelFull.Satisfies(LevelFull))
	assert.True(t, LevelSupervised.Satisfies(LevelSupervised))
	assert.False(t, LevelSupervised.Satisfies(LevelFull))
	assert.False(t, LevelBlocked.Satisfies(LevelSupervised))
}
