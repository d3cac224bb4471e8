// Domain errors for the points core. These are business-level failures,
// not system errors; the API layer maps each one to a stable error code
// and an HTTP status. Storage error text never reaches a caller.

package models

import "errors"

var (
	// ErrInvalidIdempotencyKey means the caller-supplied key is missing,
	// not a string-shaped identifier, or malformed.
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")

	// ErrValidation covers missing required fields and invalid enum values,
	// rejected before any storage access.
	ErrValidation = errors.New("invalid request field")

	// ErrAmountSignMismatch means the entry amount's sign does not match
	// its type: CREDIT requires a positive amount, DEBIT a negative one.
	ErrAmountSignMismatch = errors.New("amount sign does not match entry type")

	// ErrInvalidStateTransition means the requested bucket transition is
	// not on the allow-list of legal moves.
	ErrInvalidStateTransition = errors.New("illegal balance state transition")

	// ErrPIIDetected means entry metadata contains a recognizable
	// personal-identifying field and the write was rejected outright.
	ErrPIIDetected = errors.New("metadata contains personally identifying data")

	// ErrReservationNotFound means no reservation exists with the given ID.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrReservationAlreadyProcessed means the reservation already reached
	// COMMITTED or RELEASED and cannot transition again.
	ErrReservationAlreadyProcessed = errors.New("reservation already processed")

	// ErrReservationExpired means the reservation's TTL elapsed before the
	// requested transition.
	ErrReservationExpired = errors.New("reservation expired")

	// ErrRequestInProgress means another caller holds the idempotency claim
	// for this (key, scope) pair and has not finished yet.
	ErrRequestInProgress = errors.New("request already in progress")
)
