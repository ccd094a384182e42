package access

import (
	"context"
	"time"
)

// Engine resolves a profile's effective access level. The result is pure
// given the store contents and the supplied time: nothing is cached
// between calls, because a birthday or a revoked consent changes a
// profile's legal access level without a new login.
type Engine struct {
	store    Store
	consents *Consents
}

// NewEngine constructs the decision engine around a store and the consent
// lifecycle manager.
func NewEngine(store Store, consents *Consents) *Engine {
	return &Engine{store: store, consents: consents}
}

// Resolve computes the current access decision for the profile.
// Denials are returned as a Decision, not an error; an error means the
// decision could not be computed at all (fail closed, never "allow").
func (e *Engine) Resolve(ctx context.Context, profileID string, now time.Time) (Decision, error) {
	profile, err := e.store.Profiles().Find(ctx, profileID)
	if err != nil {
		return Decision{}, err
	}
	return e.resolveProfile(ctx, profile, now)
}

func (e *Engine) resolveProfile(ctx context.Context, profile *Profile, now time.Time) (Decision, error) {
	d := Decision{ProfileID: profile.ID, ResolvedAt: now}

	if profile.Status == ProfileSuspended {
		d.Level, d.Reason, d.Code = LevelBlocked, ReasonAccountSuspended, CodeAccountSuspended
		return d, nil
	}

	// Administrative block wins over everything, including adulthood.
	if profile.ExplicitLevel != nil && *profile.ExplicitLevel == LevelBlocked {
		d.Level, d.Reason, d.Code = LevelBlocked, ReasonExplicitBlock, CodeAccessRevoked
		return d, nil
	}

	// Account-holder profiles carry no year of birth and are never
	// age-gated. This is an explicit branch so malformed dependent data
	// can't silently widen access.
	if profile.YearOfBirth == nil {
		d.Level, d.Reason, d.Category = LevelFull, ReasonAdult, CategoryFull
		return d, nil
	}

	category, age := ClassifyAge(*profile.YearOfBirth, now)
	d.Category = category
	d.Age = &age

	switch category {
	case CategoryBlocked:
		d.Level, d.Reason, d.Code = LevelBlocked, ReasonUnderMinimumAge, CodeAgeBlocked
		return d, nil
	case CategoryFull:
		d.Level, d.Reason = LevelFull, ReasonAdult
		return d, nil
	}

	valid, state, err := e.consents.IsCurrentlyValid(ctx, profile.ID, now)
	if err != nil {
		return Decision{}, err
	}
	if valid {
		d.Level, d.Reason = LevelSupervised, ReasonConsentValid
		return d, nil
	}
	d.Level, d.Reason = LevelBlocked, ReasonConsentMissing
	switch state {
	case ConsentStateExpired:
		d.Code = CodeConsentExpired
	case ConsentStateRevoked:
		d.Code = CodeAccessRevoked
	default:
		d.Code = CodeConsentRequired
	}
	return d, nil
}

// AccountDecision is the decision for account-level access, when no
// dependent profile is selected. The engine only gates dependent
// profiles, so this is always full.
func AccountDecision(now time.Time) Decision {
	return Decision{
		Level:      LevelFull,
		Reason:     ReasonAccountHolder,
		Category:   CategoryFull,
		ResolvedAt: now,
	}
}
