package access

import (
	"context"
	"time"
)

// Store describes persistence operations required by the access engine.
// Implementations must keep consent mutations transactional: superseding
// the previous active record and inserting the new one commit together.
type Store interface {
	Profiles() ProfileStore
	Consents() ConsentStore
	Audit() AuditStore
}

// ProfileStore reads and creates profiles. Nothing here mutates a
// profile's effective access level; that is always derived.
type ProfileStore interface {
	Create(ctx context.Context, p *Profile) error
	Find(ctx context.Context, id string) (*Profile, error)
	ListByAccount(ctx context.Context, accountID string) ([]*Profile, error)
	SetStatus(ctx context.Context, id string, status ProfileStatus) error
}

// ConsentStore manages consent record lifecycles.
type ConsentStore interface {
	// Latest returns the most recently granted record for the profile,
	// regardless of status, or ErrNotFound.
	Latest(ctx context.Context, profileID string) (*ConsentRecord, error)
	// Grant revokes any active record for the profile with reason
	// "superseded" and inserts rec as the new active record, atomically.
	Grant(ctx context.Context, rec *ConsentRecord) error
	// Revoke marks the active record revoked at the given time and
	// returns it, or ErrNoActiveConsent when none exists.
	Revoke(ctx context.Context, profileID, reason string, at time.Time) (*ConsentRecord, error)
	// MarkExpired transitions a lapsed active record to expired. Used by
	// lazy expiry for audit clarity; callers treat failures as non-fatal.
	MarkExpired(ctx context.Context, recordID string) error
}

// AuditStore appends immutable entries. There is no read, update or
// delete surface: the table is insert-only.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
}
