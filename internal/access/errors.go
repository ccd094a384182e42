package access

import "errors"

var (
	ErrNotFound        = errors.New("access: not found")
	ErrInvalidInput    = errors.New("access: invalid input")
	ErrNoActiveConsent = errors.New("access: no active consent")
	ErrNotConsentAge   = errors.New("access: profile is not in the consent age window")
)
