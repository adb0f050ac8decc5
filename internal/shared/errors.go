package shared

import "errors"

var (
	// ErrNotFound indicates a referenced project, location, material or document is missing.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input rejected at the boundary.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates an operation attempted from a status that does not permit it.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrInsufficientStock indicates a requested quantity exceeds the current balance.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// UserSafeMessage maps domain errors to messages safe to surface to end users.
func UserSafeMessage(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "Cannot issue more than available quantity"
	case errors.Is(err, ErrInvalidState):
		return "This action is not allowed in the document's current status"
	case errors.Is(err, ErrValidation):
		return "The submitted data is invalid"
	case errors.Is(err, ErrNotFound):
		return "The requested record was not found"
	default:
		return "An unexpected error occurred"
	}
}
