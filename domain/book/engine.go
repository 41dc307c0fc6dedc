package book

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// maxMatchSteps bounds the number of price levels and resting orders one
// taker may walk in a single call.
const maxMatchSteps = 1 << 10

// ErrInvariant marks a fatal inconsistency between records (a level
// pointing at a missing order, a level without a market). The call that
// hits it rolls back completely.
var ErrInvariant = errors.New("book: invariant violation")

// Engine is the per-market write entry point: market registration, order
// submission and matching, cancellation, and inside-quote maintenance.
// It is the only component that talks to the ledger and the sink.
//
// Every public write runs inside one state transaction. Ledger
// operations are staged during the call and applied only after the book
// phase succeeds, so on any failure both the record tables and the
// ledger are exactly as they were before the call.
type Engine struct {
	st   *State
	tree LimitTree
	list OrderList

	stage  *ledgerStage
	sink   Sink
	commit func([]Mutation) error
	now    func() int64
}

type Option func(*Engine)

// WithCommitFunc installs the hook that persists a call's dirty records.
// If the hook fails the call rolls back.
func WithCommitFunc(fn func([]Mutation) error) Option {
	return func(e *Engine) { e.commit = fn }
}

// WithClock overrides the timestamp source.
func WithClock(now func() int64) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(st *State, ledger Ledger, sink Sink, opts ...Option) *Engine {
	e := &Engine{
		st:    st,
		tree:  NewLimitTree(st),
		list:  NewOrderList(st),
		stage: newLedgerStage(ledger),
		sink:  sink,
		now:   func() int64 { return time.Now().UnixNano() },
	}
	if e.sink == nil {
		e.sink = NopSink{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State exposes the underlying record store for read-only callers.
func (e *Engine) State() *State {
	return e.st
}

// exec wraps one write operation in a transaction. The staged ledger
// moves apply only after the book phase succeeds; a ledger rejection or
// a commit hook failure unwinds whatever was applied and rolls the
// records back.
func (e *Engine) exec(fn func() error) error {
	e.st.Begin()
	e.stage.reset()
	if err := fn(); err != nil {
		e.st.Rollback()
		return err
	}
	if err := e.stage.apply(); err != nil {
		e.st.Rollback()
		return fmt.Errorf("%w: %v", ErrLedgerFailed, err)
	}
	if e.commit != nil {
		if err := e.commit(e.st.Pending()); err != nil {
			e.stage.unwindAll()
			e.st.Rollback()
			return fmt.Errorf("commit: %w", err)
		}
	}
	e.st.Commit()
	return nil
}

// SubmitResult reports the outcome of an order submission. OrderID is 0
// when nothing rested (the taker was fully consumed or the call was
// rejected); Filled is the taker's cumulative filled amount.
type SubmitResult struct {
	Accepted bool   `json:"accepted"`
	OrderID  uint64 `json:"order_id"`
	Filled   int64  `json:"filled"`
}

// ---------------- markets ----------------

// CreateMarket registers a trading pair and allocates its two trees.
func (e *Engine) CreateMarket(base, quote, controller string) (Market, error) {
	if base == "" || quote == "" || base == quote {
		return Market{}, ErrInvalidArgument
	}
	var m Market
	err := e.exec(func() error {
		if _, exists := e.st.MarketByPair(base, quote); exists {
			return ErrDuplicateMarket
		}
		m = Market{
			ID:         e.st.AllocMarketID(),
			BidTreeID:  e.st.AllocTreeID(),
			AskTreeID:  e.st.AllocTreeID(),
			BaseAsset:  base,
			QuoteAsset: quote,
			Controller: controller,
		}
		e.st.PutMarket(m)
		e.st.SetPair(base, quote, m.ID)
		return nil
	})
	if err != nil {
		return Market{}, err
	}
	return m, nil
}

// ---------------- submission ----------------

// SubmitLimitOrder places a resting order, unless its price crosses the
// opposite best, in which case the whole order takes liquidity first and
// only the unfilled remainder rests.
func (e *Engine) SubmitLimitOrder(marketID uint64, owner string, isBuy bool, price, amount int64) (SubmitResult, error) {
	if price <= 0 || amount <= 0 || owner == "" || amount > math.MaxInt64/price {
		return SubmitResult{}, ErrInvalidArgument
	}
	var res SubmitResult
	err := e.exec(func() error {
		m, ok := e.st.Market(marketID)
		if !ok {
			return ErrMarketNotFound
		}

		crosses, err := e.crossesOpposite(&m, isBuy, price)
		if err != nil {
			return err
		}
		if crosses {
			res, err = e.matchAndRest(&m, owner, isBuy, price, amount)
			return err
		}

		orderID, err := e.rest(&m, owner, isBuy, price, amount, 0)
		if err != nil {
			return err
		}
		res = SubmitResult{Accepted: true, OrderID: orderID}
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}
	return res, nil
}

// SubmitMarketOrder takes liquidity from the opposite side up to
// maxPrice. With no resting liquidity at all it is a no-op reporting
// zero filled; a remainder left after matching rests at maxPrice.
func (e *Engine) SubmitMarketOrder(marketID uint64, owner string, isBuy bool, maxPrice, amount int64) (SubmitResult, error) {
	if maxPrice <= 0 || amount <= 0 || owner == "" || amount > math.MaxInt64/maxPrice {
		return SubmitResult{}, ErrInvalidArgument
	}
	var res SubmitResult
	err := e.exec(func() error {
		m, ok := e.st.Market(marketID)
		if !ok {
			return ErrMarketNotFound
		}

		best, err := e.oppositeBest(&m, isBuy)
		if err != nil {
			return err
		}
		if best.IsZero() {
			res = SubmitResult{}
			return nil
		}

		res, err = e.matchAndRest(&m, owner, isBuy, maxPrice, amount)
		return err
	})
	if err != nil {
		return SubmitResult{}, err
	}
	return res, nil
}

// oppositeBest returns the best level the taker would match against.
func (e *Engine) oppositeBest(m *Market, isBuy bool) (Limit, error) {
	if isBuy {
		return e.tree.Min(m.AskTreeID)
	}
	return e.tree.Max(m.BidTreeID)
}

func (e *Engine) crossesOpposite(m *Market, isBuy bool, price int64) (bool, error) {
	best, err := e.oppositeBest(m, isBuy)
	if err != nil || best.IsZero() {
		return false, err
	}
	if isBuy {
		return price >= best.Price, nil
	}
	return price <= best.Price, nil
}

// matchAndRest consumes the opposite side's best level until the taker
// is exhausted or its price bound stops matching, then rests whatever is
// left. One iteration handles one resting order.
func (e *Engine) matchAndRest(m *Market, owner string, isBuy bool, limitPrice, amount int64) (SubmitResult, error) {
	oppTree := m.AskTreeID
	oppSide := Ask
	if !isBuy {
		oppTree = m.BidTreeID
		oppSide = Bid
	}

	var filled, lastPrice int64
	for steps := 0; filled < amount; steps++ {
		if steps >= maxMatchSteps {
			return SubmitResult{}, ErrStepBudget
		}
		remaining := amount - filled

		best, err := e.oppositeBest(m, isBuy)
		if err != nil {
			return SubmitResult{}, err
		}
		if best.IsZero() {
			break
		}
		if isBuy && best.Price > limitPrice {
			break
		}
		if !isBuy && best.Price < limitPrice {
			break
		}

		maker, ok := e.st.Order(best.HeadID)
		if !ok || maker.IsZero() {
			return SubmitResult{}, fmt.Errorf("%w: level %d head %d missing", ErrInvariant, best.ID, best.HeadID)
		}

		if remaining < maker.Remaining() {
			// partial fill of the maker; taker fully satisfied
			maker.Filled += remaining
			e.st.PutOrder(maker)
			e.tree.Update(best.ID, best.TotalVol-remaining, best.Length, best.HeadID, best.TailID)
			if err := e.settle(m, owner, maker, remaining, isBuy); err != nil {
				return SubmitResult{}, err
			}
			filled += remaining
			lastPrice = maker.Price
			e.sink.OnFill(Fill{
				MarketID:     m.ID,
				OrderID:      maker.ID,
				Owner:        maker.Owner,
				Counterparty: owner,
				Price:        maker.Price,
				Amount:       remaining,
				Filled:       maker.Filled,
			})
			break
		}

		// maker fully consumed: unlink it, then retire the level if it
		// was the last order there
		trade := maker.Remaining()
		removed := e.list.Shift(best.ID)
		if removed.IsZero() {
			return SubmitResult{}, fmt.Errorf("%w: level %d shift failed", ErrInvariant, best.ID)
		}
		removed.Filled = removed.Amount
		removed.LimitID = 0
		e.st.PutOrder(removed)

		lvl, _ := e.st.Limit(best.ID)
		if lvl.Length == 0 {
			if _, err := e.tree.Delete(best.Price, oppTree); err != nil {
				return SubmitResult{}, err
			}
			e.sink.OnLevelRemoved(m.ID, oppSide, best.Price)
		}

		if err := e.settle(m, owner, removed, trade, isBuy); err != nil {
			return SubmitResult{}, err
		}
		filled += trade
		lastPrice = removed.Price
		e.sink.OnFill(Fill{
			MarketID:     m.ID,
			OrderID:      removed.ID,
			Owner:        removed.Owner,
			Counterparty: owner,
			Price:        removed.Price,
			Amount:       trade,
			Filled:       removed.Filled,
		})
	}

	res := SubmitResult{Accepted: true, Filled: filled}
	if filled < amount {
		orderID, err := e.rest(m, owner, isBuy, limitPrice, amount, filled)
		if err != nil {
			return SubmitResult{}, err
		}
		res.OrderID = orderID
	} else {
		e.sink.OnFill(Fill{
			MarketID: m.ID,
			Owner:    owner,
			Price:    lastPrice,
			Amount:   filled,
			Filled:   filled,
			Taker:    true,
		})
	}

	if err := e.refreshInsideQuote(m); err != nil {
		return SubmitResult{}, err
	}
	return res, nil
}

// rest parks the unfilled remainder of an order at its limit price:
// balance check, find-or-create the level, list append, escrow move.
func (e *Engine) rest(m *Market, owner string, isBuy bool, price, amount, alreadyFilled int64) (uint64, error) {
	remaining := amount - alreadyFilled

	asset, need := m.BaseAsset, remaining
	if isBuy {
		asset, need = m.QuoteAsset, remaining*price
	}
	if e.stage.available(owner, asset) < need {
		return 0, ErrInsufficientBalance
	}

	treeID := m.BidTreeID
	if !isBuy {
		treeID = m.AskTreeID
	}
	lvl, err := e.tree.Insert(price, treeID, m.ID)
	if err != nil {
		return 0, err
	}

	o := e.list.Push(lvl.ID, Order{
		IsBuy:     isBuy,
		Price:     price,
		Amount:    amount,
		Filled:    alreadyFilled,
		Owner:     owner,
		Timestamp: e.now(),
	})
	if o.IsZero() {
		return 0, fmt.Errorf("%w: push into level %d failed", ErrInvariant, lvl.ID)
	}

	e.stage.escrow(owner, asset, need)

	if err := e.refreshInsideQuote(m); err != nil {
		return 0, err
	}
	e.sink.OnOrderCreated(o)
	return o.ID, nil
}

func (e *Engine) settle(m *Market, taker string, maker Order, qty int64, takerIsBuy bool) error {
	return e.stage.settle(taker, maker.Owner, m.BaseAsset, m.QuoteAsset, qty, maker.Price, takerIsBuy)
}

// refreshInsideQuote recomputes both cached best-order pointers from the
// trees. The cache is never trusted as a source of truth.
func (e *Engine) refreshInsideQuote(m *Market) error {
	minAsk, err := e.tree.Min(m.AskTreeID)
	if err != nil {
		return err
	}
	maxBid, err := e.tree.Max(m.BidTreeID)
	if err != nil {
		return err
	}
	m.LowestAsk = minAsk.HeadID
	m.HighestBid = maxBid.HeadID
	e.st.PutMarket(*m)
	return nil
}

// ---------------- cancellation ----------------

// CancelOrder removes a resting order, releases its remaining escrow and
// retires its level if it was the last order there. Unknown ids, foreign
// owners and already-terminal orders report removed=false.
func (e *Engine) CancelOrder(orderID uint64, owner string) (bool, error) {
	var removed bool
	err := e.exec(func() error {
		o, ok := e.st.Order(orderID)
		if !ok || o.LimitID == 0 || o.Remaining() == 0 {
			return nil
		}
		if owner != "" && o.Owner != owner {
			return nil
		}
		lvl, ok := e.st.Limit(o.LimitID)
		if !ok {
			return fmt.Errorf("%w: order %d points at missing level %d", ErrInvariant, o.ID, o.LimitID)
		}
		m, ok := e.st.Market(lvl.MarketID)
		if !ok {
			return fmt.Errorf("%w: level %d points at missing market %d", ErrInvariant, lvl.ID, lvl.MarketID)
		}

		idx := e.list.IndexOf(lvl.ID, o.ID)
		if idx < 0 {
			return fmt.Errorf("%w: order %d not reachable in level %d", ErrInvariant, o.ID, lvl.ID)
		}
		gone := e.list.Remove(lvl.ID, idx)
		if gone.IsZero() {
			return fmt.Errorf("%w: remove %d from level %d failed", ErrInvariant, o.ID, lvl.ID)
		}
		gone.LimitID = 0
		e.st.PutOrder(gone)

		after, _ := e.st.Limit(lvl.ID)
		if after.Length == 0 {
			if _, err := e.tree.Delete(lvl.Price, lvl.TreeID); err != nil {
				return err
			}
			e.sink.OnLevelRemoved(m.ID, gone.Side(), lvl.Price)
		}

		asset, refund := m.BaseAsset, gone.Remaining()
		if gone.IsBuy {
			asset, refund = m.QuoteAsset, gone.Remaining()*gone.Price
		}
		e.stage.release(gone.Owner, asset, refund)

		removed = true
		return e.refreshInsideQuote(&m)
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// ---------------- quotes and views ----------------

// UpdateInsideQuote unconditionally overwrites the cached best pointers.
func (e *Engine) UpdateInsideQuote(marketID, lowestAsk, highestBid uint64) error {
	return e.exec(func() error {
		m, ok := e.st.Market(marketID)
		if !ok {
			return ErrMarketNotFound
		}
		m.LowestAsk = lowestAsk
		m.HighestBid = highestBid
		e.st.PutMarket(m)
		return nil
	})
}

// ViewBook returns the aggregated (price, volume) rows of one side,
// ascending by price.
func (e *Engine) ViewBook(marketID uint64, side Side) ([]BookLevel, error) {
	m, ok := e.st.Market(marketID)
	if !ok {
		return nil, ErrMarketNotFound
	}
	return e.tree.ViewLevels(m.treeFor(side))
}

// ViewBookOrders returns every live order of one side, ascending by
// price, FIFO within a price.
func (e *Engine) ViewBookOrders(marketID uint64, side Side) ([]BookEntry, error) {
	m, ok := e.st.Market(marketID)
	if !ok {
		return nil, ErrMarketNotFound
	}
	return e.tree.ViewOrders(m.treeFor(side))
}
