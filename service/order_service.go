package service

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chainbook/domain/book"
	"chainbook/domain/ledger"
	"chainbook/infra/metrics"
	"chainbook/infra/outbox"
	"chainbook/infra/store"
)

// FeedPublisher fans a committed event payload out to live subscribers.
type FeedPublisher interface {
	Publish(payload []byte)
}

/*
Service is the ONLY write entry point into the system.

All coordination between:
- domain (book, ledger)
- infra (store, outbox, metrics)
- the ws feed
happens here. Calls are serialized by one mutex; the engine below is
strictly single-writer.
*/
type Service struct {
	mu sync.Mutex

	st     *book.State
	engine *book.Engine
	ledger *ledger.Ledger
	events *eventBuffer

	store   *store.Store
	outbox  *outbox.Outbox
	feed    FeedPublisher
	metrics *metrics.Metrics
	log     *logrus.Entry
}

// Deps wires all dependencies. Store, Outbox, Feed and Metrics are
// optional; a nil Log falls back to the standard logger.
type Deps struct {
	State   *book.State
	Ledger  *ledger.Ledger
	Store   *store.Store
	Outbox  *outbox.Outbox
	Feed    FeedPublisher
	Metrics *metrics.Metrics
	Log     *logrus.Logger
}

func New(d Deps) *Service {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	s := &Service{
		st:      d.State,
		ledger:  d.Ledger,
		events:  &eventBuffer{st: d.State},
		store:   d.Store,
		outbox:  d.Outbox,
		feed:    d.Feed,
		metrics: d.Metrics,
		log:     d.Log.WithField("component", "service"),
	}

	opts := []book.Option{}
	if s.store != nil {
		opts = append(opts, book.WithCommitFunc(s.store.Apply))
	}
	s.engine = book.NewEngine(d.State, d.Ledger, s.events, opts...)
	return s
}

// Restore loads the persisted book into memory. It MUST run before the
// service accepts traffic.
func (s *Service) Restore() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Load(s.st); err != nil {
		return err
	}
	c := s.st.Counters()
	s.log.WithFields(logrus.Fields{
		"markets":    len(s.st.Markets()),
		"next_order": c.NextOrderID + 1,
	}).Info("state restored")
	return nil
}

// ---------------- commands ----------------

func (s *Service) CreateMarket(base, quote, controller string) (book.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.engine.CreateMarket(base, quote, controller)
	if err != nil {
		return book.Market{}, err
	}
	s.log.WithFields(logrus.Fields{
		"market": m.ID,
		"base":   base,
		"quote":  quote,
	}).Info("market created")
	return m, nil
}

func (s *Service) SubmitLimitOrder(marketID uint64, owner string, isBuy bool, price, amount int64) (book.SubmitResult, error) {
	return s.submit(func() (book.SubmitResult, error) {
		return s.engine.SubmitLimitOrder(marketID, owner, isBuy, price, amount)
	})
}

func (s *Service) SubmitMarketOrder(marketID uint64, owner string, isBuy bool, maxPrice, amount int64) (book.SubmitResult, error) {
	return s.submit(func() (book.SubmitResult, error) {
		return s.engine.SubmitMarketOrder(marketID, owner, isBuy, maxPrice, amount)
	})
}

func (s *Service) submit(fn func() (book.SubmitResult, error)) (book.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	s.events.reset()

	res, err := fn()
	if err != nil {
		if s.metrics != nil {
			s.metrics.RejectsTotal.Inc()
		}
		return book.SubmitResult{}, err
	}

	s.publishPending()
	if s.metrics != nil {
		if res.Accepted {
			s.metrics.OrdersTotal.Inc()
		}
		s.metrics.SubmitDuration.Observe(time.Since(start).Seconds())
	}
	return res, nil
}

func (s *Service) CancelOrder(orderID uint64, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events.reset()
	removed, err := s.engine.CancelOrder(orderID, owner)
	if err != nil {
		return false, err
	}
	if removed {
		s.publishPending()
	}
	return removed, nil
}

func (s *Service) UpdateInsideQuote(marketID, lowestAsk, highestBid uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.UpdateInsideQuote(marketID, lowestAsk, highestBid)
}

// Deposit credits an owner's spendable balance on the reference ledger.
func (s *Service) Deposit(owner, asset string, amount int64) error {
	return s.ledger.Deposit(owner, asset, amount)
}

// ---------------- queries ----------------

func (s *Service) ViewBook(marketID uint64, side book.Side) ([]book.BookLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.ViewBook(marketID, side)
}

func (s *Service) ViewBookOrders(marketID uint64, side book.Side) ([]book.BookEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.ViewBookOrders(marketID, side)
}

func (s *Service) Market(marketID uint64) (book.Market, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Market(marketID)
}

func (s *Service) Markets() []book.Market {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Markets()
}

// Snapshot is a best-first aggregate of both sides of one book.
type Snapshot struct {
	MarketID uint64           `json:"market_id"`
	Base     string           `json:"base"`
	Quote    string           `json:"quote"`
	Bids     []book.BookLevel `json:"bids"`
	Asks     []book.BookLevel `json:"asks"`
}

// BookSnapshot returns both sides of a market, bids best-first (highest
// price first), asks best-first (lowest price first).
func (s *Service) BookSnapshot(marketID uint64) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.st.Market(marketID)
	if !ok {
		return Snapshot{}, book.ErrMarketNotFound
	}
	bids, err := s.engine.ViewBook(marketID, book.Bid)
	if err != nil {
		return Snapshot{}, err
	}
	asks, err := s.engine.ViewBook(marketID, book.Ask)
	if err != nil {
		return Snapshot{}, err
	}

	for i, j := 0, len(bids)-1; i < j; i, j = i+1, j-1 {
		bids[i], bids[j] = bids[j], bids[i]
	}
	return Snapshot{
		MarketID: m.ID,
		Base:     m.BaseAsset,
		Quote:    m.QuoteAsset,
		Bids:     bids,
		Asks:     asks,
	}, nil
}

// ---------------- event publication ----------------

// publishPending ships the committed call's events to the outbox and the
// live feed. Failures are logged and dropped: the sink contract is
// fire-and-forget and the book state is already durable.
func (s *Service) publishPending() {
	for _, ev := range s.events.pending {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.log.WithError(err).Error("marshal event")
			continue
		}
		if s.outbox != nil {
			if _, err := s.outbox.Append(payload); err != nil {
				s.log.WithError(err).WithField("type", ev.Type).Error("stage event")
			}
		}
		if s.feed != nil {
			s.feed.Publish(payload)
		}
		if s.metrics != nil {
			switch ev.Type {
			case EventFill:
				s.metrics.FillsTotal.Inc()
			case EventLevelRemoved:
				s.metrics.LevelsRemovedTotal.Inc()
			}
		}
	}
	s.events.reset()
}
