package preorders

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrDeliveryDateInPast = errors.New("delivery date is before today")
	ErrDailyLimitReached  = errors.New("customer already has the maximum preorders for this date")
	ErrDuplicateProduct   = errors.New("product already preordered for this date")

	ErrPreorderNotFound  = errors.New("preorder not found")
	ErrNoPreorders       = errors.New("no preorders found for customer")
	ErrNoPendingPreorder = errors.New("no pending preorder for this date")

	ErrVersionConflict   = errors.New("preorder was modified concurrently")
	ErrNotPending        = errors.New("preorder is no longer pending")
	ErrInvalidTransition = errors.New("invalid status transition")
)
