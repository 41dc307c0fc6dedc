package book

import "time"

// OrderList is the FIFO doubly linked list of orders resting at one price
// level. The list endpoints and counts live on the owning Limit record
// (HeadID/TailID/Length/TotalVol); orders link through NextID/PrevID.
//
// Out-of-range access never fails hard: it returns the zero Order (id 0)
// or false and leaves all records untouched.
type OrderList struct {
	st *State
}

func NewOrderList(st *State) OrderList {
	return OrderList{st: st}
}

// Push appends an order at the tail of the level's list, assigning its id,
// and updates the level's endpoints and aggregates. Returns the stored
// order, or the zero Order if the level does not exist.
func (l OrderList) Push(limitID uint64, o Order) Order {
	lim, ok := l.st.Limit(limitID)
	if !ok {
		return Order{}
	}

	o.ID = l.st.AllocOrderID()
	o.LimitID = limitID
	o.NextID = 0
	o.PrevID = lim.TailID
	if o.Timestamp == 0 {
		o.Timestamp = time.Now().UnixNano()
	}

	if lim.TailID != 0 {
		tail, _ := l.st.Order(lim.TailID)
		tail.NextID = o.ID
		l.st.PutOrder(tail)
	} else {
		lim.HeadID = o.ID
	}
	lim.TailID = o.ID
	lim.Length++
	lim.TotalVol += o.Remaining()

	l.st.PutOrder(o)
	l.st.PutLimit(lim)
	return o
}

// Shift removes and returns the head order (oldest).
func (l OrderList) Shift(limitID uint64) Order {
	lim, ok := l.st.Limit(limitID)
	if !ok || lim.HeadID == 0 {
		return Order{}
	}

	o, _ := l.st.Order(lim.HeadID)
	lim.HeadID = o.NextID
	if lim.HeadID != 0 {
		head, _ := l.st.Order(lim.HeadID)
		head.PrevID = 0
		l.st.PutOrder(head)
	} else {
		lim.TailID = 0
	}
	lim.Length--
	lim.TotalVol -= o.Remaining()
	l.st.PutLimit(lim)

	o.NextID = 0
	o.PrevID = 0
	l.st.PutOrder(o)
	return o
}

// Pop removes and returns the tail order (newest).
func (l OrderList) Pop(limitID uint64) Order {
	lim, ok := l.st.Limit(limitID)
	if !ok || lim.TailID == 0 {
		return Order{}
	}

	o, _ := l.st.Order(lim.TailID)
	lim.TailID = o.PrevID
	if lim.TailID != 0 {
		tail, _ := l.st.Order(lim.TailID)
		tail.NextID = 0
		l.st.PutOrder(tail)
	} else {
		lim.HeadID = 0
	}
	lim.Length--
	lim.TotalVol -= o.Remaining()
	l.st.PutLimit(lim)

	o.NextID = 0
	o.PrevID = 0
	l.st.PutOrder(o)
	return o
}

// Get returns the order at 0-based position idx, walking from whichever
// end is closer so the cost is bounded by length/2.
func (l OrderList) Get(limitID uint64, idx int64) Order {
	lim, ok := l.st.Limit(limitID)
	if !ok || idx < 0 || idx >= lim.Length {
		return Order{}
	}

	var o Order
	if idx <= lim.Length/2 {
		o, _ = l.st.Order(lim.HeadID)
		for i := int64(0); i < idx; i++ {
			o, _ = l.st.Order(o.NextID)
		}
	} else {
		o, _ = l.st.Order(lim.TailID)
		for i := lim.Length - 1; i > idx; i-- {
			o, _ = l.st.Order(o.PrevID)
		}
	}
	return o
}

// Set overwrites the mutable fields of the order at idx in place,
// preserving its identity and list links. Returns false out of range.
func (l OrderList) Set(limitID uint64, idx int64, fields Order) bool {
	cur := l.Get(limitID, idx)
	if cur.IsZero() {
		return false
	}

	fields.ID = cur.ID
	fields.NextID = cur.NextID
	fields.PrevID = cur.PrevID
	fields.LimitID = cur.LimitID
	l.st.PutOrder(fields)
	return true
}

// Remove removes the order at idx. Endpoint positions delegate to
// Shift/Pop; interior positions splice the neighbour links directly.
func (l OrderList) Remove(limitID uint64, idx int64) Order {
	lim, ok := l.st.Limit(limitID)
	if !ok || idx < 0 || idx >= lim.Length {
		return Order{}
	}
	if idx == 0 {
		return l.Shift(limitID)
	}
	if idx == lim.Length-1 {
		return l.Pop(limitID)
	}

	o := l.Get(limitID, idx)
	prev, _ := l.st.Order(o.PrevID)
	next, _ := l.st.Order(o.NextID)
	prev.NextID = next.ID
	next.PrevID = prev.ID
	l.st.PutOrder(prev)
	l.st.PutOrder(next)

	lim.Length--
	lim.TotalVol -= o.Remaining()
	l.st.PutLimit(lim)

	o.NextID = 0
	o.PrevID = 0
	l.st.PutOrder(o)
	return o
}

// IndexOf walks the list from the head looking for an order id.
// Returns -1 if the id is not in this level's list.
func (l OrderList) IndexOf(limitID, orderID uint64) int64 {
	lim, ok := l.st.Limit(limitID)
	if !ok {
		return -1
	}
	id := lim.HeadID
	for i := int64(0); id != 0 && i < lim.Length; i++ {
		if id == orderID {
			return i
		}
		o, _ := l.st.Order(id)
		id = o.NextID
	}
	return -1
}
