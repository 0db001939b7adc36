// Package storage persists the movie club: roster, rotation config, picks,
// ratings and the admin audit log.
//
// The one-pick-per-period and one-rating-per-rater rules are enforced by the
// backend's unique constraints and surface as ErrConflict. Callers check
// permission first and let the constraint settle races.
package storage
