package access

import "time"

const (
	minimumAge = 14
	adultAge   = 18
)

// ClassifyAge buckets a year of birth into an age category using the
// conservative age: the birthday is assumed not yet to have occurred this
// year, so the reference point is the most recent December 31. A profile
// is therefore never prematurely granted a higher tier.
//
// Callers must handle a missing year of birth themselves: an account
// holder's profile short-circuits to full access before classification,
// as an explicit branch rather than a default.
func ClassifyAge(yearOfBirth int, now time.Time) (AgeCategory, int) {
	age := now.Year() - yearOfBirth - 1
	if age < 0 {
		age = 0
	}
	switch {
	case age < minimumAge:
		return CategoryBlocked, age
	case age < adultAge:
		return CategoryConsentRequired, age
	default:
		return CategoryFull, age
	}
}
