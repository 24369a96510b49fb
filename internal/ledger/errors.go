package ledger

import "errors"

var (
	// ErrInvalidOrder is returned for malformed order requests. These never
	// reach the validator.
	ErrInvalidOrder = errors.New("ledger: invalid order")

	// ErrInsufficientFunds is returned when a buy costs more than the
	// available cash, or a sell's commission exceeds cash plus proceeds.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrUnknownPosition is returned when selling a symbol that is not held.
	ErrUnknownPosition = errors.New("ledger: unknown position")

	// ErrInsufficientPosition is returned when selling more than is held.
	ErrInsufficientPosition = errors.New("ledger: insufficient position")
)

// Rejection reasons surfaced to API callers.
const (
	ReasonInvalidOrder         = "invalid_order"
	ReasonInsufficientFunds    = "insufficient_funds"
	ReasonUnknownPosition      = "unknown_position"
	ReasonInsufficientPosition = "insufficient_position"
)

// Reason maps a validation or settlement error to its stable reason code.
// It returns "" for errors outside the ledger taxonomy.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidOrder):
		return ReasonInvalidOrder
	case errors.Is(err, ErrInsufficientFunds):
		return ReasonInsufficientFunds
	case errors.Is(err, ErrUnknownPosition):
		return ReasonUnknownPosition
	case errors.Is(err, ErrInsufficientPosition):
		return ReasonInsufficientPosition
	default:
		return ""
	}
}

// IsRejection reports whether err is a business rejection of the order
// rather than an infrastructure failure.
func IsRejection(err error) bool {
	return Reason(err) != ""
}
