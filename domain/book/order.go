package book

// Side selects one half-book of a market.
type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Ask {
		return "ask"
	}
	return "bid"
}

// Order is one resting (or historical) order. All cross-references are
// record ids; id 0 means "no order".
type Order struct {
	ID     uint64
	NextID uint64
	PrevID uint64

	IsBuy  bool
	Price  int64
	Amount int64
	Filled int64

	Timestamp int64
	Owner     string
	LimitID   uint64
}

func (o Order) Remaining() int64 {
	return o.Amount - o.Filled
}

func (o Order) IsZero() bool {
	return o.ID == 0
}

func (o Order) Side() Side {
	if o.IsBuy {
		return Bid
	}
	return Ask
}

// Limit is one price-level node of a limit tree. It is both a BST node
// (LeftID/RightID keyed by Price) and the anchor of the FIFO order list
// resting at that price (HeadID/TailID/Length/TotalVol).
type Limit struct {
	ID      uint64
	LeftID  uint64
	RightID uint64

	Price    int64
	TotalVol int64
	Length   int64
	HeadID   uint64
	TailID   uint64

	TreeID   uint64
	MarketID uint64
}

func (l Limit) IsZero() bool {
	return l.ID == 0
}
