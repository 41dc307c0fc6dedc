package book

// Market is one trading pair. LowestAsk/HighestBid cache the order id at
// the head of the best level on each side; they are recomputed whenever
// the best level's head changes or the level is deleted.
type Market struct {
	ID        uint64
	BidTreeID uint64
	AskTreeID uint64

	LowestAsk  uint64
	HighestBid uint64

	BaseAsset  string
	QuoteAsset string
	Controller string
}

func (m Market) IsZero() bool {
	return m.ID == 0
}

// treeFor returns the tree holding resting orders for the given side.
func (m Market) treeFor(side Side) uint64 {
	if side == Bid {
		return m.BidTreeID
	}
	return m.AskTreeID
}
