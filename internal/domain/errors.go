package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors: compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Lookup errors
var (
	// ErrDealNotFound is returned when no deal matches the given id.
	ErrDealNotFound = errors.New("deal not found")

	// ErrItemNotFound is returned when the catalog has no such item.
	ErrItemNotFound = errors.New("catalog item not found")

	// ErrTokenNotFound is returned when a confirmation token is unknown.
	ErrTokenNotFound = errors.New("confirmation token not found")
)

// State errors
var (
	// ErrInvalidTransition is returned when an operation is attempted from a
	// phase that does not allow it, e.g. settling before approval.
	ErrInvalidTransition = errors.New("operation not allowed in the current deal phase")

	// ErrItemUnavailable is returned when a buyer starts a deal on an item that
	// has already been sold or withdrawn.
	ErrItemUnavailable = errors.New("catalog item is not available")

	// ErrSelfDeal is returned when the buyer owns the item.
	ErrSelfDeal = errors.New("cannot negotiate for your own item")

	// ErrConcurrentUpdate is returned when the stored deal changed between read
	// and write (optimistic version mismatch).
	ErrConcurrentUpdate = errors.New("deal was modified concurrently")
)

// Validation errors
var (
	// ErrInvalidRole is returned when an approval names neither buyer nor seller.
	ErrInvalidRole = errors.New("role must be buyer or seller")

	// ErrInvalidAction is returned when an approval action is neither approve
	// nor reject.
	ErrInvalidAction = errors.New("action must be approve or reject")

	// ErrMissingContact is returned when a deal is started without a buyer contact.
	ErrMissingContact = errors.New("buyer contact is required")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

var notFoundErrors = []error{
	ErrDealNotFound,
	ErrItemNotFound,
	ErrTokenNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict returns true for errors that represent a state conflict.
func IsConflict(err error) bool {
	conflictErrors := []error{
		ErrInvalidTransition,
		ErrItemUnavailable,
		ErrSelfDeal,
		ErrConcurrentUpdate,
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation returns true for malformed caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidRole) ||
		errors.Is(err, ErrInvalidAction) ||
		errors.Is(err, ErrMissingContact)
}
