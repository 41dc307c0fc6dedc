package book

import "errors"

var (
	// ErrMarketNotFound is returned when an operation names a market id
	// that does not exist. Engine calls never partially apply.
	ErrMarketNotFound = errors.New("book: market not found")

	// ErrDuplicateMarket is returned when the (base, quote) pair is
	// already registered.
	ErrDuplicateMarket = errors.New("book: market already exists for pair")

	// ErrInvalidArgument covers non-positive prices and amounts and
	// malformed asset names.
	ErrInvalidArgument = errors.New("book: invalid argument")

	// ErrInsufficientBalance is returned when the submitter's available
	// balance does not cover the resting order.
	ErrInsufficientBalance = errors.New("book: insufficient balance")

	// ErrStepBudget is returned when a tree walk or a matching loop
	// exceeds its per-call iteration budget.
	ErrStepBudget = errors.New("book: step budget exceeded")

	// ErrLedgerFailed wraps a ledger rejection during settlement or
	// escrow moves. The whole call rolls back.
	ErrLedgerFailed = errors.New("book: ledger operation failed")
)
