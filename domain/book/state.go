package book

// State is the flat record store the whole engine runs against: four
// key→record tables plus the id counters. Tree and list structures are
// id-linked over these tables, never pointer-linked.
//
// State is single-writer. Every engine call runs inside one transaction:
// the first write to a key journals the value it overwrites, so a failed
// call can restore every record it touched and no partial mutation is
// ever observable.
type State struct {
	orders  map[uint64]Order
	limits  map[uint64]Limit
	markets map[uint64]Market
	roots   map[uint64]uint64
	pairs   map[string]uint64

	counters Counters

	inTxn   bool
	journal []undoEntry
	dirty   map[dirtyKey]struct{}
}

// Counters are the monotonic id allocators. Id 0 is reserved as the
// empty sentinel everywhere, so the first allocation of each kind is 1.
type Counters struct {
	NextOrderID  uint64
	NextLimitID  uint64
	NextMarketID uint64
	NextTreeID   uint64
}

// MutKind identifies which table a Mutation belongs to.
type MutKind uint8

const (
	MutOrder MutKind = iota
	MutLimit
	MutMarket
	MutRoot
	MutPair
	MutCounters
)

// Mutation is one dirty record at commit time. The persistence layer
// applies the full set as a single atomic batch.
type Mutation struct {
	Kind    MutKind
	ID      uint64
	Pair    string
	Deleted bool

	Order    Order
	Limit    Limit
	Market   Market
	Root     uint64
	Counters Counters
}

type dirtyKey struct {
	kind MutKind
	id   uint64
	pair string
}

type undoEntry struct {
	key     dirtyKey
	existed bool

	order    Order
	limit    Limit
	market   Market
	root     uint64
	pairID   uint64
	counters Counters
}

func NewState() *State {
	return &State{
		orders:  make(map[uint64]Order),
		limits:  make(map[uint64]Limit),
		markets: make(map[uint64]Market),
		roots:   make(map[uint64]uint64),
		pairs:   make(map[string]uint64),
		dirty:   make(map[dirtyKey]struct{}),
	}
}

// ---------------- transactions ----------------

func (s *State) Begin() {
	s.inTxn = true
	s.journal = s.journal[:0]
	for k := range s.dirty {
		delete(s.dirty, k)
	}
}

// Commit ends the transaction, keeping all writes.
func (s *State) Commit() {
	s.inTxn = false
	s.journal = s.journal[:0]
	for k := range s.dirty {
		delete(s.dirty, k)
	}
}

// Rollback restores every record touched since Begin, newest first.
func (s *State) Rollback() {
	for i := len(s.journal) - 1; i >= 0; i-- {
		u := s.journal[i]
		switch u.key.kind {
		case MutOrder:
			if u.existed {
				s.orders[u.key.id] = u.order
			} else {
				delete(s.orders, u.key.id)
			}
		case MutLimit:
			if u.existed {
				s.limits[u.key.id] = u.limit
			} else {
				delete(s.limits, u.key.id)
			}
		case MutMarket:
			if u.existed {
				s.markets[u.key.id] = u.market
			} else {
				delete(s.markets, u.key.id)
			}
		case MutRoot:
			if u.existed {
				s.roots[u.key.id] = u.root
			} else {
				delete(s.roots, u.key.id)
			}
		case MutPair:
			if u.existed {
				s.pairs[u.key.pair] = u.pairID
			} else {
				delete(s.pairs, u.key.pair)
			}
		case MutCounters:
			s.counters = u.counters
		}
	}
	s.Commit()
}

// Pending returns the dirty set as mutations for the persistence batch.
func (s *State) Pending() []Mutation {
	muts := make([]Mutation, 0, len(s.dirty))
	for k := range s.dirty {
		m := Mutation{Kind: k.kind, ID: k.id, Pair: k.pair}
		switch k.kind {
		case MutOrder:
			v, ok := s.orders[k.id]
			m.Order, m.Deleted = v, !ok
		case MutLimit:
			v, ok := s.limits[k.id]
			m.Limit, m.Deleted = v, !ok
		case MutMarket:
			v, ok := s.markets[k.id]
			m.Market, m.Deleted = v, !ok
		case MutRoot:
			v, ok := s.roots[k.id]
			m.Root, m.Deleted = v, !ok
		case MutPair:
			v, ok := s.pairs[k.pair]
			m.ID, m.Deleted = v, !ok
		case MutCounters:
			m.Counters = s.counters
		}
		muts = append(muts, m)
	}
	return muts
}

// touch journals the current value of key on its first write in a txn.
func (s *State) touch(key dirtyKey) {
	if !s.inTxn {
		return
	}
	if _, seen := s.dirty[key]; seen {
		return
	}
	s.dirty[key] = struct{}{}

	u := undoEntry{key: key}
	switch key.kind {
	case MutOrder:
		u.order, u.existed = s.orders[key.id]
	case MutLimit:
		u.limit, u.existed = s.limits[key.id]
	case MutMarket:
		u.market, u.existed = s.markets[key.id]
	case MutRoot:
		u.root, u.existed = s.roots[key.id]
	case MutPair:
		u.pairID, u.existed = s.pairs[key.pair]
	case MutCounters:
		u.counters = s.counters
	}
	s.journal = append(s.journal, u)
}

// ---------------- orders ----------------

func (s *State) Order(id uint64) (Order, bool) {
	o, ok := s.orders[id]
	return o, ok
}

func (s *State) PutOrder(o Order) {
	s.touch(dirtyKey{kind: MutOrder, id: o.ID})
	s.orders[o.ID] = o
}

func (s *State) DeleteOrder(id uint64) {
	s.touch(dirtyKey{kind: MutOrder, id: id})
	delete(s.orders, id)
}

// ---------------- limits ----------------

func (s *State) Limit(id uint64) (Limit, bool) {
	l, ok := s.limits[id]
	return l, ok
}

func (s *State) PutLimit(l Limit) {
	s.touch(dirtyKey{kind: MutLimit, id: l.ID})
	s.limits[l.ID] = l
}

func (s *State) DeleteLimit(id uint64) {
	s.touch(dirtyKey{kind: MutLimit, id: id})
	delete(s.limits, id)
}

// ---------------- markets ----------------

func (s *State) Market(id uint64) (Market, bool) {
	m, ok := s.markets[id]
	return m, ok
}

func (s *State) PutMarket(m Market) {
	s.touch(dirtyKey{kind: MutMarket, id: m.ID})
	s.markets[m.ID] = m
}

// Markets returns all registered markets, unordered.
func (s *State) Markets() []Market {
	out := make([]Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	return out
}

// ---------------- tree roots ----------------

// Root returns the root node id of a tree; 0 for an empty or unknown tree.
func (s *State) Root(treeID uint64) uint64 {
	return s.roots[treeID]
}

func (s *State) SetRoot(treeID, rootID uint64) {
	s.touch(dirtyKey{kind: MutRoot, id: treeID})
	if rootID == 0 {
		delete(s.roots, treeID)
		return
	}
	s.roots[treeID] = rootID
}

// ---------------- pair registry ----------------

func PairKey(base, quote string) string {
	return base + "/" + quote
}

func (s *State) MarketByPair(base, quote string) (uint64, bool) {
	id, ok := s.pairs[PairKey(base, quote)]
	return id, ok
}

func (s *State) SetPair(base, quote string, marketID uint64) {
	key := PairKey(base, quote)
	s.touch(dirtyKey{kind: MutPair, pair: key})
	s.pairs[key] = marketID
}

// ---------------- counters ----------------

func (s *State) allocCounter(field *uint64) uint64 {
	s.touch(dirtyKey{kind: MutCounters})
	*field++
	return *field
}

func (s *State) AllocOrderID() uint64  { return s.allocCounter(&s.counters.NextOrderID) }
func (s *State) AllocLimitID() uint64  { return s.allocCounter(&s.counters.NextLimitID) }
func (s *State) AllocMarketID() uint64 { return s.allocCounter(&s.counters.NextMarketID) }
func (s *State) AllocTreeID() uint64   { return s.allocCounter(&s.counters.NextTreeID) }

func (s *State) Counters() Counters {
	return s.counters
}

// ---------------- restore (boot-time load, no journaling) ----------------

func (s *State) RestoreOrder(o Order)          { s.orders[o.ID] = o }
func (s *State) RestoreLimit(l Limit)          { s.limits[l.ID] = l }
func (s *State) RestoreMarket(m Market)        { s.markets[m.ID] = m }
func (s *State) RestoreRoot(treeID, id uint64) { s.roots[treeID] = id }
func (s *State) RestorePair(key string, id uint64) {
	s.pairs[key] = id
}
func (s *State) RestoreCounters(c Counters) { s.counters = c }
