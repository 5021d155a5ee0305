package models

import "errors"

// Error kinds surfaced by detectors, the aggregator and the case manager.
// Callers match them with errors.Is; the delivery layer maps them to HTTP codes.
var (
	// Degradation: absorbed by the detector that hit them.
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrTimeout             = errors.New("timeout")

	// Rejected before detection runs.
	ErrInvalidInput = errors.New("invalid input")

	// No detector produced a usable signal.
	ErrSystemUnavailable = errors.New("system unavailable")

	// Case manager guards.
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrAppealWindowExpired = errors.New("appeal window expired")
)

// ErrDuplicateCase is returned when a case already exists for a subject.
// It matches ErrConflict as well.
var ErrDuplicateCase = &duplicateCaseError{}

type duplicateCaseError struct{}

func (e *duplicateCaseError) Error() string { return "case already exists for subject" }

func (e *duplicateCaseError) Is(target error) bool {
	return target == ErrConflict
}
