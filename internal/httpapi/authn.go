package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"alumninet.org/internal/access"
)

const (
	authHeader  = "Authorization"
	bearer      = "Bearer "
	tokenIssuer = "alumninet"
	tokenTTL    = 15 * time.Minute
)

// ErrInvalidToken indicates the bearer token failed verification.
var ErrInvalidToken = errors.New("invalid token")

// identityClaims is the sealed shape produced by the external login/OTP
// flow: the account plus the currently selected profile, if any. Nothing
// else from the token is trusted; access levels are always recomputed.
type identityClaims struct {
	ProfileID string `json:"profile_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier is the single verify call that turns a bearer token into
// a request identity. Signing is HS256 with an injected secret; the
// algorithm itself is a black box as far as the engine is concerned.
type TokenVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewTokenVerifier(secret string) (*TokenVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("httpapi: token secret is required")
	}
	return &TokenVerifier{secret: []byte(secret), now: time.Now}, nil
}

// Generate mints a token carrying the identity. Used by the dev token
// endpoint and by tests; production tokens come from the login service.
func (v *TokenVerifier) Generate(accountID, profileID string, ttl time.Duration) (string, time.Time, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", time.Time{}, errors.New("httpapi: account id is required")
	}
	if ttl <= 0 {
		ttl = tokenTTL
	}
	now := v.now().UTC()
	expiresAt := now.Add(ttl)
	claims := identityClaims{
		ProfileID: strings.TrimSpace(profileID),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify validates the token and returns the identity it carries.
func (v *TokenVerifier) Verify(token string) (access.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return access.Identity{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &identityClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return access.Identity{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*identityClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return access.Identity{}, ErrInvalidToken
	}
	return access.Identity{
		AccountID:       claims.Subject,
		ActiveProfileID: claims.ProfileID,
	}, nil
}

// withAuth resolves the bearer token into a request identity. With no
// verifier configured it passes requests through untouched, which lets
// tests inject identities directly into the context.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a.verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}
		identity, err := a.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}
		ctx := access.ContextWithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type tokenRequest struct {
	AccountID string `json:"account_id"`
	ProfileID string `json:"profile_id"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleAuthToken mints a development token. The production login/OTP
// flow lives in a separate service; this endpoint only exists so the
// engine can be exercised end to end.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if a.verifier == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "token minting is not configured")
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if strings.TrimSpace(req.AccountID) == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "account_id is required")
		return
	}
	token, expiresAt, err := a.verifier.Generate(req.AccountID, req.ProfileID, tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
