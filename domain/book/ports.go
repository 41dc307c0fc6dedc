package book

// Ledger is the external balance bookkeeper the engine settles against.
// The engine trusts it and treats any non-nil error as a fatal abort of
// the whole call.
type Ledger interface {
	// Available returns the spendable (non-escrowed) balance.
	Available(owner, asset string) int64

	// MoveToEscrow reserves balance while an order rests.
	MoveToEscrow(owner, asset string, amount int64) error

	// MoveFromEscrow releases reserved balance back to the owner.
	MoveFromEscrow(owner, asset string, amount int64) error

	// SettleFill moves funds between taker and maker for one fill at the
	// maker's price. The maker side always pays out of escrow, the taker
	// out of their available balance.
	SettleFill(taker, maker, baseAsset, quoteAsset string, amount, price int64, takerIsBuy bool) error

	// UnwindFill reverses a previously applied SettleFill with the same
	// arguments. The engine calls it only to back out fills when a call
	// fails after settlement.
	UnwindFill(taker, maker, baseAsset, quoteAsset string, amount, price int64, takerIsBuy bool) error
}

// Fill describes one settlement notification. Maker-side fills are
// emitted per consumed slice; a taker that is fully satisfied gets one
// additional summary fill with its cumulative amount.
type Fill struct {
	MarketID     uint64 `json:"market_id"`
	OrderID      uint64 `json:"order_id"`
	Owner        string `json:"owner"`
	Counterparty string `json:"counterparty"`
	Price        int64  `json:"price"`
	Amount       int64  `json:"amount"`
	Filled       int64  `json:"filled"`
	Taker        bool   `json:"taker"`
}

// Sink receives book events. Calls are fire-and-forget: the engine never
// inspects a result and sinks must not block the matching path.
type Sink interface {
	OnOrderCreated(o Order)
	OnFill(f Fill)
	OnLevelRemoved(marketID uint64, side Side, price int64)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) OnOrderCreated(Order) {}

func (NopSink) OnFill(Fill) {}

func (NopSink) OnLevelRemoved(uint64, Side, int64) {}
