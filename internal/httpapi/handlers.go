package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"alumninet.org/internal/access"
	"alumninet.org/internal/audit"
	"alumninet.org/internal/obs"
)

// ReadyProbe reports readiness, typically by pinging the database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the API's collaborators. Store, Engine, Consents and
// Recorder are required; Verifier may be nil to disable authentication
// (tests only).
type Config struct {
	Store      access.Store
	Engine     *access.Engine
	Consents   *access.Consents
	Recorder   *audit.Recorder
	Verifier   *TokenVerifier
	ReadyProbe ReadyProbe
	Version    string
	Clock      func() time.Time
}

// API is the HTTP layer over the access engine.
type API struct {
	mux        *http.ServeMux
	store      access.Store
	engine     *access.Engine
	consents   *access.Consents
	recorder   *audit.Recorder
	verifier   *TokenVerifier
	readyProbe ReadyProbe
	version    string
	now        func() time.Time
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		store:      cfg.Store,
		engine:     cfg.Engine,
		consents:   cfg.Consents,
		recorder:   cfg.Recorder,
		verifier:   cfg.Verifier,
		readyProbe: cfg.ReadyProbe,
		version:    cfg.Version,
		now:        cfg.Clock,
	}
	if a.now == nil {
		a.now = time.Now
	}

	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReady)
	a.mux.HandleFunc("GET /v1/info", a.handleInfo)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/token", a.handleAuthToken)

	a.mux.Handle("GET /v1/profiles", a.withAuth(http.HandlerFunc(a.handleListProfiles)))
	a.mux.Handle("POST /v1/profiles", a.withAuth(http.HandlerFunc(a.handleCreateProfile)))
	a.mux.Handle("GET /v1/profiles/{id}/access", a.withAuth(http.HandlerFunc(a.handleProfileAccess)))
	a.mux.Handle("GET /v1/me/access", a.withAuth(http.HandlerFunc(a.handleMeAccess)))

	consentLimiter := RateLimit(5, 1)
	a.mux.Handle("POST /v1/profiles/{id}/consent",
		a.withAuth(consentLimiter(http.HandlerFunc(a.handleGrantConsent))))
	a.mux.Handle("DELETE /v1/profiles/{id}/consent",
		a.withAuth(consentLimiter(http.HandlerFunc(a.handleRevokeConsent))))

	return a
}

// Handler returns the outer handler chain: metrics instrumentation,
// request ids, structured request logging and security headers around the
// route table.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Service handlers ---

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "alumninet-access",
		"version": a.version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "alumninet-access",
		"version": a.version,
	})
}

// --- Profile handlers ---

type profileResponse struct {
	ID              string  `json:"id"`
	AccountID       string  `json:"account_id"`
	DisplayName     string  `json:"display_name"`
	YearOfBirth     *int    `json:"year_of_birth,omitempty"`
	RequiresConsent bool    `json:"requires_consent"`
	Status          string  `json:"status"`
	ExplicitLevel   *string `json:"explicit_access_level,omitempty"`
}

func toProfileResponse(p *access.Profile) profileResponse {
	resp := profileResponse{
		ID:              p.ID,
		AccountID:       p.AccountID,
		DisplayName:     p.DisplayName,
		YearOfBirth:     p.YearOfBirth,
		RequiresConsent: p.RequiresConsent,
		Status:          string(p.Status),
	}
	if p.ExplicitLevel != nil {
		v := string(*p.ExplicitLevel)
		resp.ExplicitLevel = &v
	}
	return resp
}

func (a *API) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}
	profiles, err := a.store.Profiles().ListByAccount(r.Context(), identity.AccountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "profile lookup failed")
		return
	}
	out := make([]profileResponse, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, toProfileResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": out})
}

type createProfileRequest struct {
	DisplayName string `json:"display_name"`
	YearOfBirth *int   `json:"year_of_birth"`
}

func (a *API) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}
	var req createProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "display_name is required")
		return
	}
	p := &access.Profile{
		AccountID:   identity.AccountID,
		DisplayName: req.DisplayName,
		YearOfBirth: req.YearOfBirth,
		Status:      access.ProfileActive,
	}
	if req.YearOfBirth != nil {
		category, _ := access.ClassifyAge(*req.YearOfBirth, a.now())
		p.RequiresConsent = category == access.CategoryConsentRequired
	}
	if err := a.store.Profiles().Create(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "profile creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, toProfileResponse(p))
}

// ownedProfile loads the path profile and enforces that it belongs to the
// authenticated account. Foreign profiles are reported as not found so
// profile ids cannot be probed.
func (a *API) ownedProfile(w http.ResponseWriter, r *http.Request) (*access.Profile, bool) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return nil, false
	}
	profile, err := a.store.Profiles().Find(r.Context(), r.PathValue("id"))
	if errors.Is(err, access.ErrNotFound) || (err == nil && profile.AccountID != identity.AccountID) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "profile not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "profile lookup failed")
		return nil, false
	}
	return profile, true
}

// --- Access decision handlers ---

type decisionResponse struct {
	ProfileID  string    `json:"profile_id,omitempty"`
	Level      string    `json:"level"`
	Reason     string    `json:"reason"`
	Category   string    `json:"category,omitempty"`
	Age        *int      `json:"age,omitempty"`
	Code       string    `json:"code,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

func toDecisionResponse(d access.Decision) decisionResponse {
	return decisionResponse{
		ProfileID:  d.ProfileID,
		Level:      string(d.Level),
		Reason:     string(d.Reason),
		Category:   string(d.Category),
		Age:        d.Age,
		Code:       string(d.Code),
		ResolvedAt: d.ResolvedAt,
	}
}

// handleMeAccess returns the raw decision for the caller's active profile
// without halting the request, so clients can render the exact denial
// screen.
func (a *API) handleMeAccess(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}
	var (
		d   access.Decision
		err error
	)
	if identity.ActiveProfileID == "" {
		d = access.AccountDecision(a.now())
	} else {
		d, err = a.engine.Resolve(r.Context(), identity.ActiveProfileID, a.now())
		if err != nil {
			a.decisionError(w, err)
			return
		}
	}
	a.observeDecision(r, d, "resolve_access")
	writeJSON(w, http.StatusOK, toDecisionResponse(d))
}

func (a *API) handleProfileAccess(w http.ResponseWriter, r *http.Request) {
	profile, ok := a.ownedProfile(w, r)
	if !ok {
		return
	}
	d, err := a.engine.Resolve(r.Context(), profile.ID, a.now())
	if err != nil {
		a.decisionError(w, err)
		return
	}
	a.observeDecision(r, d, "resolve_access")
	writeJSON(w, http.StatusOK, toDecisionResponse(d))
}

// --- Consent handlers ---

type consentResponse struct {
	ID        string     `json:"id"`
	ProfileID string     `json:"profile_id"`
	Status    string     `json:"status"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

func toConsentResponse(rec *access.ConsentRecord) consentResponse {
	return consentResponse{
		ID:        rec.ID,
		ProfileID: rec.ProfileID,
		Status:    string(rec.Status),
		GrantedAt: rec.GrantedAt,
		ExpiresAt: rec.ExpiresAt,
		RevokedAt: rec.RevokedAt,
	}
}

func (a *API) handleGrantConsent(w http.ResponseWriter, r *http.Request) {
	profile, ok := a.ownedProfile(w, r)
	if !ok {
		return
	}
	identity, _ := access.IdentityFromContext(r.Context())

	rec, err := a.consents.Grant(r.Context(), access.GrantRequest{
		ProfileID: profile.ID,
		GrantedBy: identity.AccountID,
		IP:        clientIP(r),
		Endpoint:  r.URL.Path,
	})
	switch {
	case errors.Is(err, access.ErrNotConsentAge):
		obs.CountConsentMutation("grant", "rejected")
		writeError(w, http.StatusConflict, "NOT_CONSENT_AGE", "profile is not in the parental consent age window")
		return
	case err != nil:
		obs.CountConsentMutation("grant", "error")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "consent grant failed")
		return
	}
	obs.CountConsentMutation("grant", "ok")
	a.recorder.RecordConsent(r.Context(), access.ActionConsentGranted, rec, a.profileAge(profile), clientIP(r), r.URL.Path)

	// Recompute before responding so the caller sees the state the next
	// authorization check will see.
	d, err := a.engine.Resolve(r.Context(), profile.ID, a.now())
	if err != nil {
		a.decisionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"consent": toConsentResponse(rec),
		"access":  toDecisionResponse(d),
	})
}

type revokeConsentRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleRevokeConsent(w http.ResponseWriter, r *http.Request) {
	profile, ok := a.ownedProfile(w, r)
	if !ok {
		return
	}
	var req revokeConsentRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
	}

	rec, err := a.consents.Revoke(r.Context(), profile.ID, req.Reason)
	switch {
	case errors.Is(err, access.ErrNoActiveConsent):
		obs.CountConsentMutation("revoke", "rejected")
		writeError(w, http.StatusConflict, "NO_ACTIVE_CONSENT", "no active consent record to revoke")
		return
	case err != nil:
		obs.CountConsentMutation("revoke", "error")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "consent revoke failed")
		return
	}
	obs.CountConsentMutation("revoke", "ok")
	a.recorder.RecordConsent(r.Context(), access.ActionConsentRevoked, rec, a.profileAge(profile), clientIP(r), r.URL.Path)

	d, err := a.engine.Resolve(r.Context(), profile.ID, a.now())
	if err != nil {
		a.decisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"consent": toConsentResponse(rec),
		"access":  toDecisionResponse(d),
	})
}

// --- helpers ---

// profileAge is the conservative age at the current clock, nil for
// account-holder profiles.
func (a *API) profileAge(p *access.Profile) *int {
	if p.YearOfBirth == nil {
		return nil
	}
	_, age := access.ClassifyAge(*p.YearOfBirth, a.now())
	return &age
}

func (a *API) observeDecision(r *http.Request, d access.Decision, checkContext string) {
	obs.CountAccessDecision(string(d.Level), string(d.Reason))
	a.recorder.RecordDecision(r.Context(), d, checkContext, clientIP(r), r.URL.Path)
}

// decisionError handles infrastructure failures during resolution. They
// are never treated as allow: the response is a 5xx, not a pass.
func (a *API) decisionError(w http.ResponseWriter, err error) {
	if errors.Is(err, access.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "profile not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", "access resolution failed")
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
