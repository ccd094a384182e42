package httpapi

import (
	"net/http"

	"alumninet.org/internal/access"
	"alumninet.org/internal/obs"
)

// User-facing denial messages. Age, consent and administrative denials
// must be distinguishable to the client; a generic message is a
// compliance violation, not a cosmetic shortcut.
var denialMessages = map[access.DenialCode]string{
	access.CodeAgeBlocked:       "You must be at least 14 years old to use this platform.",
	access.CodeConsentRequired:  "A parent or guardian must grant consent before this profile can be used.",
	access.CodeConsentExpired:   "Parental consent has expired and must be renewed by a parent or guardian.",
	access.CodeAccessRevoked:    "Access for this profile has been revoked.",
	access.CodeAccountSuspended: "This profile is currently suspended.",
}

// WithAccess resolves the caller's access decision once and stores it in
// the request context for the checks further down the chain. Resolution
// always reads the profile store: nothing is trusted from the token
// beyond the identity, because age and consent change between requests.
func (a *API) WithAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r2, _, ok := a.resolvedRequest(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r2)
	})
}

// RequirePlatformAccess denies blocked profiles. The response carries the
// specific denial code so the client can explain age versus consent
// versus administrative blocks.
func (a *API) RequirePlatformAccess(next http.Handler) http.Handler {
	return a.check("require_platform_access", next, func(d access.Decision) (bool, access.DenialCode) {
		if d.Level == access.LevelBlocked {
			return false, d.Code
		}
		return true, ""
	})
}

// RequireSupervisedAccess allows full and supervised profiles.
func (a *API) RequireSupervisedAccess(next http.Handler) http.Handler {
	return a.check("require_supervised_access", next, func(d access.Decision) (bool, access.DenialCode) {
		if d.Level.Satisfies(access.LevelSupervised) {
			return true, ""
		}
		return false, d.Code
	})
}

// RequireParentConsent denies consent-window profiles whose consent is
// not currently valid, even where an administrative override would
// otherwise permit access. Used for the most sensitive actions, where an
// override must not substitute for genuine parental consent.
func (a *API) RequireParentConsent(next http.Handler) http.Handler {
	return a.check("require_parent_consent", next, func(d access.Decision) (bool, access.DenialCode) {
		if d.Level == access.LevelBlocked {
			return false, d.Code
		}
		if d.Category == access.CategoryConsentRequired && d.Reason != access.ReasonConsentValid {
			code := d.Code
			if code == "" {
				code = access.CodeConsentRequired
			}
			return false, code
		}
		return true, ""
	})
}

// CheckAccessLevel requires the resolved level to meet target exactly or
// better: full satisfies a supervised requirement, never the reverse.
func (a *API) CheckAccessLevel(target access.Level) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return a.check("check_access_level_"+string(target), next, func(d access.Decision) (bool, access.DenialCode) {
			if d.Level.Satisfies(target) {
				return true, ""
			}
			code := d.Code
			if code == "" {
				// A supervised profile short of a full requirement is
				// in the consent window by construction.
				code = access.CodeConsentRequired
			}
			return false, code
		})
	}
}

// check runs one authorization check against the per-request decision and
// audits the outcome either way. A failed check short-circuits the chain.
func (a *API) check(name string, next http.Handler, verdict func(access.Decision) (bool, access.DenialCode)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r2, d, ok := a.resolvedRequest(w, r)
		if !ok {
			return
		}
		passed, code := verdict(d)
		a.auditCheck(r2, d, name, passed)
		if !passed {
			message := denialMessages[code]
			if message == "" {
				message = "Access denied."
			}
			writeError(w, http.StatusForbidden, string(code), message)
			return
		}
		next.ServeHTTP(w, r2)
	})
}

// resolvedRequest returns the request carrying a resolved decision,
// computing and caching it in the context on first use so a chain of
// checks costs one store read.
func (a *API) resolvedRequest(w http.ResponseWriter, r *http.Request) (*http.Request, access.Decision, bool) {
	if d, ok := access.DecisionFromContext(r.Context()); ok {
		return r, d, true
	}
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return r, access.Decision{}, false
	}

	var (
		d   access.Decision
		err error
	)
	if identity.ActiveProfileID == "" {
		// Account-level access: the engine only gates dependent profiles.
		d = access.AccountDecision(a.now())
	} else {
		d, err = a.engine.Resolve(r.Context(), identity.ActiveProfileID, a.now())
		if err != nil {
			// Fail closed: a resolution failure is a 5xx, never an allow.
			a.decisionError(w, err)
			return r, access.Decision{}, false
		}
	}
	obs.CountAccessDecision(string(d.Level), string(d.Reason))
	r2 := r.WithContext(access.ContextWithDecision(r.Context(), d))
	return r2, d, true
}

func (a *API) auditCheck(r *http.Request, d access.Decision, name string, passed bool) {
	action := d.AuditAction()
	if passed {
		action = access.ActionAllowed
	} else if d.Allowed() {
		// The decision permits some access but not what this check
		// demands; by construction that is a consent-window limitation.
		action = access.ActionBlockedNoConsent
	}
	a.recorder.Record(r.Context(), &access.AuditEntry{
		ProfileID:  d.ProfileID,
		AgeAtCheck: d.Age,
		Action:     action,
		Context:    name,
		IP:         clientIP(r),
		Endpoint:   r.URL.Path,
	})
}
