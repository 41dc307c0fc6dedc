package book

import "testing"

func newListEnv(t *testing.T) (*State, OrderList, uint64) {
	t.Helper()
	st := NewState()
	tree := NewLimitTree(st)
	lvl, err := tree.Insert(100, 1, 1)
	if err != nil {
		t.Fatalf("insert level: %v", err)
	}
	return st, NewOrderList(st), lvl.ID
}

func pushN(t *testing.T, l OrderList, limitID uint64, n int) []Order {
	t.Helper()
	out := make([]Order, 0, n)
	for i := 0; i < n; i++ {
		o := l.Push(limitID, Order{Price: 100, Amount: int64(10 + i), Owner: "alice"})
		if o.IsZero() {
			t.Fatalf("push %d failed", i)
		}
		out = append(out, o)
	}
	return out
}

func TestPushAssignsIDsAndAggregates(t *testing.T) {
	st, l, limitID := newListEnv(t)
	orders := pushN(t, l, limitID, 3)

	if orders[0].ID == 0 || orders[1].ID <= orders[0].ID {
		t.Error("ids should be assigned monotonically")
	}
	lim, _ := st.Limit(limitID)
	if lim.Length != 3 {
		t.Errorf("length = %d, want 3", lim.Length)
	}
	if lim.TotalVol != 10+11+12 {
		t.Errorf("totalVol = %d, want 33", lim.TotalVol)
	}
	if lim.HeadID != orders[0].ID || lim.TailID != orders[2].ID {
		t.Error("head/tail endpoints wrong")
	}
}

func TestPushUnknownLevel(t *testing.T) {
	_, l, _ := newListEnv(t)
	if !l.Push(999, Order{Amount: 1}).IsZero() {
		t.Error("push into unknown level should return zero order")
	}
}

func TestShiftIsFIFO(t *testing.T) {
	st, l, limitID := newListEnv(t)
	orders := pushN(t, l, limitID, 3)

	got := l.Shift(limitID)
	if got.ID != orders[0].ID {
		t.Errorf("shift returned %d, want oldest %d", got.ID, orders[0].ID)
	}
	lim, _ := st.Limit(limitID)
	if lim.HeadID != orders[1].ID || lim.Length != 2 {
		t.Error("head not advanced after shift")
	}

	l.Shift(limitID)
	l.Shift(limitID)
	lim, _ = st.Limit(limitID)
	if lim.HeadID != 0 || lim.TailID != 0 || lim.Length != 0 || lim.TotalVol != 0 {
		t.Error("drained level should be fully zeroed")
	}
	if !l.Shift(limitID).IsZero() {
		t.Error("shift on empty level should return zero order")
	}
}

func TestPopRemovesNewest(t *testing.T) {
	st, l, limitID := newListEnv(t)
	orders := pushN(t, l, limitID, 2)

	got := l.Pop(limitID)
	if got.ID != orders[1].ID {
		t.Errorf("pop returned %d, want newest %d", got.ID, orders[1].ID)
	}
	lim, _ := st.Limit(limitID)
	if lim.TailID != orders[0].ID || lim.Length != 1 {
		t.Error("tail not retreated after pop")
	}
}

func TestGetWalksFromNearerEnd(t *testing.T) {
	_, l, limitID := newListEnv(t)
	orders := pushN(t, l, limitID, 5)

	for i, want := range orders {
		got := l.Get(limitID, int64(i))
		if got.ID != want.ID {
			t.Errorf("get(%d) = %d, want %d", i, got.ID, want.ID)
		}
	}
}

func TestGetOutOfRange(t *testing.T) {
	_, l, limitID := newListEnv(t)
	pushN(t, l, limitID, 3)

	if !l.Get(limitID, 3).IsZero() {
		t.Error("get(length) should return zero order")
	}
	if !l.Get(limitID, -1).IsZero() {
		t.Error("get(-1) should return zero order")
	}
}

func TestSetPreservesIdentityAndLinks(t *testing.T) {
	st, l, limitID := newListEnv(t)
	orders := pushN(t, l, limitID, 3)

	ok := l.Set(limitID, 1, Order{Price: 100, Amount: 10, Filled: 7, Owner: "alice"})
	if !ok {
		t.Fatal("set failed")
	}
	got, _ := st.Order(orders[1].ID)
	if got.Filled != 7 {
		t.Errorf("filled = %d, want 7", got.Filled)
	}
	if got.PrevID != orders[0].ID || got.NextID != orders[2].ID {
		t.Error("set must not disturb list links")
	}
	if l.Set(limitID, 5, Order{}) {
		t.Error("set out of range should report false")
	}
}

func TestRemoveInteriorSplices(t *testing.T) {
	st, l, limitID := newListEnv(t)
	orders := pushN(t, l, limitID, 3)

	gone := l.Remove(limitID, 1)
	if gone.ID != orders[1].ID {
		t.Fatalf("removed %d, want %d", gone.ID, orders[1].ID)
	}
	first, _ := st.Order(orders[0].ID)
	last, _ := st.Order(orders[2].ID)
	if first.NextID != last.ID || last.PrevID != first.ID {
		t.Error("neighbours not spliced")
	}
	lim, _ := st.Limit(limitID)
	if lim.Length != 2 || lim.TotalVol != 10+12 {
		t.Error("aggregates not updated on interior remove")
	}
}

func TestRemoveEndpointsAndOutOfRange(t *testing.T) {
	_, l, limitID := newListEnv(t)
	orders := pushN(t, l, limitID, 3)

	if l.Remove(limitID, 0).ID != orders[0].ID {
		t.Error("remove(0) should behave like shift")
	}
	if l.Remove(limitID, 1).ID != orders[2].ID {
		t.Error("remove(last) should behave like pop")
	}
	if !l.Remove(limitID, 5).IsZero() {
		t.Error("remove out of range should return zero order")
	}
}

func TestIndexOf(t *testing.T) {
	_, l, limitID := newListEnv(t)
	orders := pushN(t, l, limitID, 3)

	if idx := l.IndexOf(limitID, orders[2].ID); idx != 2 {
		t.Errorf("indexOf = %d, want 2", idx)
	}
	if idx := l.IndexOf(limitID, 999); idx != -1 {
		t.Errorf("indexOf unknown = %d, want -1", idx)
	}
	if idx := l.IndexOf(999, orders[0].ID); idx != -1 {
		t.Errorf("indexOf on unknown level = %d, want -1", idx)
	}
}
