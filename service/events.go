package service

import (
	"time"

	"github.com/google/uuid"

	"chainbook/domain/book"
)

// Event is the JSON payload pushed to the outbox and the ws feed.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Time int64  `json:"time"`

	MarketID     uint64 `json:"market_id"`
	OrderID      uint64 `json:"order_id,omitempty"`
	Owner        string `json:"owner,omitempty"`
	Counterparty string `json:"counterparty,omitempty"`
	Side         string `json:"side,omitempty"`
	Price        int64  `json:"price,omitempty"`
	Amount       int64  `json:"amount,omitempty"`
	Filled       int64  `json:"filled,omitempty"`
	Taker        bool   `json:"taker,omitempty"`
}

const (
	EventOrderCreated = "order_created"
	EventFill         = "fill"
	EventLevelRemoved = "level_removed"
)

// eventBuffer collects engine notifications during one call. The service
// publishes the buffer only after the call commits, so a rolled-back call
// leaks no events.
type eventBuffer struct {
	st      *book.State
	pending []Event
}

var _ book.Sink = (*eventBuffer)(nil)

func (b *eventBuffer) reset() {
	b.pending = b.pending[:0]
}

func (b *eventBuffer) add(ev Event) {
	ev.ID = uuid.NewString()
	ev.Time = time.Now().UnixNano()
	b.pending = append(b.pending, ev)
}

func (b *eventBuffer) OnOrderCreated(o book.Order) {
	lim, _ := b.st.Limit(o.LimitID)
	b.add(Event{
		Type:     EventOrderCreated,
		MarketID: lim.MarketID,
		OrderID:  o.ID,
		Owner:    o.Owner,
		Side:     o.Side().String(),
		Price:    o.Price,
		Amount:   o.Amount,
		Filled:   o.Filled,
	})
}

func (b *eventBuffer) OnFill(f book.Fill) {
	b.add(Event{
		Type:         EventFill,
		MarketID:     f.MarketID,
		OrderID:      f.OrderID,
		Owner:        f.Owner,
		Counterparty: f.Counterparty,
		Price:        f.Price,
		Amount:       f.Amount,
		Filled:       f.Filled,
		Taker:        f.Taker,
	})
}

func (b *eventBuffer) OnLevelRemoved(marketID uint64, side book.Side, price int64) {
	b.add(Event{
		Type:     EventLevelRemoved,
		MarketID: marketID,
		Side:     side.String(),
		Price:    price,
	})
}
