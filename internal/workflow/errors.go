package workflow

import "errors"

var (
	// ErrPermissionDenied is returned before any store mutation when the
	// actor lacks the required permission, is not in the roster, or is not
	// allowed to act on the target step. A mismatched actor and a
	// nonexistent step both surface as this error so callers cannot probe
	// for workflow existence; logs distinguish the two.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidTransition is the expected no-op failure when a step or
	// document is not in the state the operation requires, including the
	// losing side of a concurrent approve/reject race.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInvalidInput is returned for malformed requests (empty approver
	// identity, missing rejection comment) before any store access.
	ErrInvalidInput = errors.New("invalid input")
)
