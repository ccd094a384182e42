// Package audit appends access decisions and consent mutations to the
// append-only audit store. Recording is deliberately non-throwing: an
// unavailable audit trail must not turn into a denial of service against
// legitimate users, so failures go to the operational log and nowhere
// else. This is the only place in the repository that swallows an error.
package audit

import (
	"context"
	"strings"
	"time"

	"alumninet.org/internal/access"
	"alumninet.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context so audit
// failures can be correlated with request logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Recorder writes audit entries best-effort.
type Recorder struct {
	store access.AuditStore
	now   func() time.Time
}

// NewRecorder constructs a Recorder over the given audit store.
func NewRecorder(store access.AuditStore) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record appends the entry. It never fails the caller: a store error is
// written to the operational log and dropped.
func (r *Recorder) Record(ctx context.Context, entry *access.AuditEntry) {
	if r == nil || r.store == nil || entry == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}
	if err := r.store.Append(ctx, entry); err != nil {
		fields := map[string]any{
			"ts":      r.now().UTC().Format(time.RFC3339Nano),
			"level":   "error",
			"msg":     "audit append failed",
			"action":  string(entry.Action),
			"context": entry.Context,
			"error":   err.Error(),
		}
		if entry.ProfileID != "" {
			fields["profile_id"] = entry.ProfileID
		}
		if rid := RequestIDFromContext(ctx); rid != "" {
			fields["request_id"] = rid
		}
		obs.LogRequest(fields)
	}
}

// RecordDecision appends one authorization-check entry for the decision.
// checkContext names the check that ran (for example
// "require_platform_access"); ip and endpoint come from the request.
func (r *Recorder) RecordDecision(ctx context.Context, d access.Decision, checkContext, ip, endpoint string) {
	r.Record(ctx, &access.AuditEntry{
		ProfileID:  d.ProfileID,
		AgeAtCheck: d.Age,
		Action:     d.AuditAction(),
		Context:    checkContext,
		IP:         ip,
		Endpoint:   endpoint,
	})
}

// RecordConsent appends one consent-mutation entry. age is the
// profile's conservative age at mutation time.
func (r *Recorder) RecordConsent(ctx context.Context, action access.AuditAction, rec *access.ConsentRecord, age *int, ip, endpoint string) {
	if rec == nil {
		return
	}
	r.Record(ctx, &access.AuditEntry{
		ProfileID:  rec.ProfileID,
		AgeAtCheck: age,
		Action:     action,
		Context:    "consent_lifecycle",
		IP:         ip,
		Endpoint:   endpoint,
	})
}
