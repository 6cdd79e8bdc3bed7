package escrow

import "errors"

// Every transition validates all preconditions before touching custody, so a
// caller receiving one of these knows nothing moved and the record did not
// advance.
var (
	// ErrInvalidAmount rejects orders without a positive value.
	ErrInvalidAmount = errors.New("escrow: amount must be positive")
	// ErrShippingDataTooLarge rejects oversized shipping ciphertexts.
	ErrShippingDataTooLarge = errors.New("escrow: shipping ciphertext too large")
	// ErrInvalidState marks transitions attempted from the wrong state,
	// including any attempt to move out of a terminal state.
	ErrInvalidState = errors.New("escrow: invalid state for operation")
	// ErrUnauthorized marks calls from a party the transition does not
	// recognise.
	ErrUnauthorized = errors.New("escrow: unauthorized caller")
	// ErrDeadlineExpired marks operations attempted after their window closed.
	ErrDeadlineExpired = errors.New("escrow: deadline expired")
	// ErrDeadlineNotReached marks operations attempted before their window
	// opened.
	ErrDeadlineNotReached = errors.New("escrow: deadline not reached")
	// ErrInvalidTracking rejects tracking numbers outside 1..64 characters.
	ErrInvalidTracking = errors.New("escrow: invalid tracking number")
	// ErrInvalidReason rejects dispute reasons outside 1..200 characters.
	ErrInvalidReason = errors.New("escrow: invalid dispute reason")
	// ErrInvalidWinner rejects rulings that name neither party.
	ErrInvalidWinner = errors.New("escrow: invalid dispute winner")
	// ErrOrderNotFound marks lookups for unknown records.
	ErrOrderNotFound = errors.New("escrow: order not found")
	// ErrOrderExists rejects creation under an identifier already in use.
	ErrOrderExists = errors.New("escrow: order already exists")

	errNilState        = errors.New("escrow engine: state not configured")
	errNilConfidential = errors.New("escrow engine: confidential ledger not configured")
	errNilReputation   = errors.New("escrow engine: reputation ledger not configured")
	errNilArbiters     = errors.New("escrow engine: arbiter pool not configured")
	errNilTreasury     = errors.New("escrow engine: treasury not configured")
)
