package book

import "fmt"

// ledgerStage buffers one call's ledger operations. While a call runs,
// balance checks go through the staged view (base balance adjusted by
// every buffered move); the external ledger is touched only after the
// whole book phase has succeeded, so a failed call never moves funds.
type ledgerStage struct {
	base  Ledger
	ops   []ledgerOp
	avail map[stageAcct]int64
}

type stageAcct struct {
	owner string
	asset string
}

type stageOpKind uint8

const (
	stageEscrow stageOpKind = iota
	stageRelease
	stageSettle
)

type ledgerOp struct {
	kind stageOpKind

	owner  string
	asset  string
	amount int64

	taker      string
	maker      string
	baseAsset  string
	quoteAsset string
	qty        int64
	price      int64
	takerIsBuy bool
}

func newLedgerStage(base Ledger) *ledgerStage {
	return &ledgerStage{base: base, avail: make(map[stageAcct]int64)}
}

func (s *ledgerStage) reset() {
	s.ops = s.ops[:0]
	for k := range s.avail {
		delete(s.avail, k)
	}
}

// available is the base ledger balance adjusted by the staged moves.
func (s *ledgerStage) available(owner, asset string) int64 {
	return s.base.Available(owner, asset) + s.avail[stageAcct{owner: owner, asset: asset}]
}

func (s *ledgerStage) adjust(owner, asset string, delta int64) {
	s.avail[stageAcct{owner: owner, asset: asset}] += delta
}

// escrow stages a reservation. Callers check available first.
func (s *ledgerStage) escrow(owner, asset string, amount int64) {
	s.adjust(owner, asset, -amount)
	s.ops = append(s.ops, ledgerOp{kind: stageEscrow, owner: owner, asset: asset, amount: amount})
}

// release stages an escrow refund.
func (s *ledgerStage) release(owner, asset string, amount int64) {
	s.adjust(owner, asset, amount)
	s.ops = append(s.ops, ledgerOp{kind: stageRelease, owner: owner, asset: asset, amount: amount})
}

// settle stages one fill at the maker's price. The taker pays out of
// their staged available balance; a shortfall fails the call before
// anything has reached the ledger.
func (s *ledgerStage) settle(taker, maker, baseAsset, quoteAsset string, qty, price int64, takerIsBuy bool) error {
	if takerIsBuy {
		cost := qty * price
		if s.available(taker, quoteAsset) < cost {
			return fmt.Errorf("%w: %s/%s cannot cover fill of %d", ErrInsufficientBalance, taker, quoteAsset, cost)
		}
		s.adjust(taker, quoteAsset, -cost)
		s.adjust(taker, baseAsset, qty)
		s.adjust(maker, quoteAsset, cost)
	} else {
		if s.available(taker, baseAsset) < qty {
			return fmt.Errorf("%w: %s/%s cannot cover fill of %d", ErrInsufficientBalance, taker, baseAsset, qty)
		}
		s.adjust(taker, baseAsset, -qty)
		s.adjust(taker, quoteAsset, qty*price)
		s.adjust(maker, baseAsset, qty)
	}
	s.ops = append(s.ops, ledgerOp{
		kind:       stageSettle,
		taker:      taker,
		maker:      maker,
		baseAsset:  baseAsset,
		quoteAsset: quoteAsset,
		qty:        qty,
		price:      price,
		takerIsBuy: takerIsBuy,
	})
	return nil
}

// apply replays the staged operations against the base ledger in order.
// On failure the already-applied prefix is unwound and the error
// returned; the ledger is then exactly as it was before the call.
func (s *ledgerStage) apply() error {
	for i, op := range s.ops {
		if err := s.applyOne(op); err != nil {
			s.unwind(i)
			return err
		}
	}
	return nil
}

func (s *ledgerStage) applyOne(op ledgerOp) error {
	switch op.kind {
	case stageEscrow:
		return s.base.MoveToEscrow(op.owner, op.asset, op.amount)
	case stageRelease:
		return s.base.MoveFromEscrow(op.owner, op.asset, op.amount)
	default:
		return s.base.SettleFill(op.taker, op.maker, op.baseAsset, op.quoteAsset, op.qty, op.price, op.takerIsBuy)
	}
}

// unwind reverses the first n applied operations, newest first. An
// error here means the base ledger no longer honors its own transfers;
// the remaining compensations are still attempted.
func (s *ledgerStage) unwind(n int) {
	for i := n - 1; i >= 0; i-- {
		op := s.ops[i]
		switch op.kind {
		case stageEscrow:
			_ = s.base.MoveFromEscrow(op.owner, op.asset, op.amount)
		case stageRelease:
			_ = s.base.MoveToEscrow(op.owner, op.asset, op.amount)
		default:
			_ = s.base.UnwindFill(op.taker, op.maker, op.baseAsset, op.quoteAsset, op.qty, op.price, op.takerIsBuy)
		}
	}
}

func (s *ledgerStage) unwindAll() {
	s.unwind(len(s.ops))
}
