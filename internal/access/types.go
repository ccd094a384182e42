package access

import "time"

// Level is the engine's output: what a profile may currently do on the
// platform. It is recomputed on every request and never stored.
type Level string

const (
	LevelFull       Level = "full"
	LevelSupervised Level = "supervised"
	LevelBlocked    Level = "blocked"
)

// Satisfies reports whether l meets the target requirement. Full satisfies
// a supervised requirement; supervised does not satisfy full.
func (l Level) Satisfies(target Level) bool {
	return rank(l) >= rank(target)
}

func rank(l Level) int {
	switch l {
	case LevelFull:
		return 2
	case LevelSupervised:
		return 1
	default:
		return 0
	}
}

// AgeCategory classifies a profile by conservative age.
type AgeCategory string

const (
	CategoryBlocked         AgeCategory = "blocked"
	CategoryConsentRequired AgeCategory = "consent_required"
	CategoryFull            AgeCategory = "full"
)

// Reason explains a resolved access level.
type Reason string

const (
	ReasonAccountSuspended Reason = "account_suspended"
	ReasonExplicitBlock    Reason = "explicit_block"
	ReasonUnderMinimumAge  Reason = "under_minimum_age"
	ReasonAdult            Reason = "adult"
	ReasonAccountHolder    Reason = "account_holder"
	ReasonConsentValid     Reason = "consent_valid"
	ReasonConsentMissing   Reason = "consent_missing_or_expired"
)

// DenialCode is the stable machine-readable code clients branch on.
// Codes are part of the external contract and must not be renamed.
type DenialCode string

const (
	CodeAgeBlocked       DenialCode = "AGE_BLOCKED"
	CodeConsentRequired  DenialCode = "CONSENT_REQUIRED"
	CodeConsentExpired   DenialCode = "CONSENT_EXPIRED"
	CodeAccessRevoked    DenialCode = "ACCESS_REVOKED"
	CodeAccountSuspended DenialCode = "ACCOUNT_SUSPENDED"
)

// ProfileStatus is the administrative state of a profile.
type ProfileStatus string

const (
	ProfileActive    ProfileStatus = "active"
	ProfileSuspended ProfileStatus = "suspended"
)

// ConsentStatus tracks a consent record through its lifecycle. A record
// leaves "active" exactly once and never returns.
type ConsentStatus string

const (
	ConsentActive  ConsentStatus = "active"
	ConsentRevoked ConsentStatus = "revoked"
	ConsentExpired ConsentStatus = "expired"
)

// RevokeReasonSuperseded marks a record revoked by a newer grant rather
// than an explicit parental action.
const RevokeReasonSuperseded = "superseded"

// Account is the top-level login identity. It owns zero or more profiles
// and is mutated only by the external auth flows.
type Account struct {
	ID        string
	Email     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Profile is a person operating under an account. YearOfBirth is nil when
// the profile represents the account holder directly; such profiles are
// never age-gated. ExplicitLevel is an administrative override, nil when
// unset.
type Profile struct {
	ID            string
	AccountID     string
	DisplayName   string
	YearOfBirth   *int
	ExplicitLevel *Level
	// RequiresConsent is derived from YearOfBirth but stored for query
	// efficiency; it is never the source of truth for authorization.
	RequiresConsent bool
	Status          ProfileStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ConsentRecord is one grant lifecycle for a profile. At most one active
// record exists per profile at any time.
type ConsentRecord struct {
	ID           string
	ProfileID    string
	Status       ConsentStatus
	GrantedBy    string
	GrantedAt    time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	RevokeReason *string
}

// AuditAction names what an audit entry records.
type AuditAction string

const (
	ActionAllowed               AuditAction = "allowed"
	ActionBlockedAge            AuditAction = "blocked_age"
	ActionBlockedNoConsent      AuditAction = "blocked_no_consent"
	ActionBlockedExpiredConsent AuditAction = "blocked_expired_consent"
	ActionBlockedRevoked        AuditAction = "blocked_revoked"
	ActionConsentGranted        AuditAction = "consent_granted"
	ActionConsentRevoked        AuditAction = "consent_revoked"
)

// AuditEntry is an append-only record of an access decision or consent
// mutation. Entries are never updated or deleted.
type AuditEntry struct {
	ID         string
	ProfileID  string
	AgeAtCheck *int
	Action     AuditAction
	Context    string
	IP         string
	Endpoint   string
	CreatedAt  time.Time
}

// Decision is the result of resolving a profile's current access. It is
// valid only for the request that produced it.
type Decision struct {
	ProfileID string
	Level     Level
	Reason    Reason
	Category  AgeCategory
	// Age is the conservative integer age, nil for account-holder
	// profiles with no recorded year of birth.
	Age *int
	// Code is set only when Level is blocked.
	Code       DenialCode
	ResolvedAt time.Time
}

// Allowed reports whether the decision permits any platform access at all.
func (d Decision) Allowed() bool {
	return d.Level != LevelBlocked
}

// AuditAction maps the decision to its audit log action.
func (d Decision) AuditAction() AuditAction {
	if d.Allowed() {
		return ActionAllowed
	}
	switch d.Code {
	case CodeAgeBlocked:
		return ActionBlockedAge
	case CodeConsentRequired:
		return ActionBlockedNoConsent
	case CodeConsentExpired:
		return ActionBlockedExpiredConsent
	default:
		return ActionBlockedRevoked
	}
}
