package book

import (
	"errors"
	"testing"
)

func insertPrices(t *testing.T, tree LimitTree, treeID uint64, prices ...int64) map[int64]uint64 {
	t.Helper()
	ids := make(map[int64]uint64, len(prices))
	for _, p := range prices {
		lvl, err := tree.Insert(p, treeID, 1)
		if err != nil {
			t.Fatalf("insert %d: %v", p, err)
		}
		ids[p] = lvl.ID
	}
	return ids
}

func levelPrices(t *testing.T, tree LimitTree, treeID uint64) []int64 {
	t.Helper()
	levels, err := tree.ViewLevels(treeID)
	if err != nil {
		t.Fatalf("view levels: %v", err)
	}
	out := make([]int64, len(levels))
	for i, lvl := range levels {
		out[i] = lvl.Price
	}
	return out
}

func samePrices(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// rightChain links n levels with ascending prices 1..n straight down the
// right spine, the worst shape a plain BST can take.
func rightChain(st *State, treeID uint64, n int) {
	var childID uint64
	for i := n; i >= 1; i-- {
		l := Limit{ID: st.AllocLimitID(), Price: int64(i), TreeID: treeID, RightID: childID}
		st.PutLimit(l)
		childID = l.ID
	}
	st.SetRoot(treeID, childID)
}

// leftChain is the mirror shape, descending prices down the left spine.
func leftChain(st *State, treeID uint64, n int) {
	var childID uint64
	for i := 1; i <= n; i++ {
		l := Limit{ID: st.AllocLimitID(), Price: int64(i), TreeID: treeID, LeftID: childID}
		st.PutLimit(l)
		childID = l.ID
	}
	st.SetRoot(treeID, childID)
}

func TestDescendStepBudget(t *testing.T) {
	st := NewState()
	tree := NewLimitTree(st)
	n := maxTreeSteps + 2
	rightChain(st, 1, n)

	// every descent target past the end of the chain walks all of it
	if _, _, err := tree.Find(int64(n+1), 1); !errors.Is(err, ErrStepBudget) {
		t.Errorf("find = %v, want step budget error", err)
	}
	if _, err := tree.Insert(int64(n+1), 1, 1); !errors.Is(err, ErrStepBudget) {
		t.Errorf("insert = %v, want step budget error", err)
	}
	if _, err := tree.Delete(int64(n+1), 1); !errors.Is(err, ErrStepBudget) {
		t.Errorf("delete = %v, want step budget error", err)
	}
}

func TestMinMaxStepBudget(t *testing.T) {
	st := NewState()
	tree := NewLimitTree(st)
	n := maxTreeSteps + 2
	rightChain(st, 1, n)
	leftChain(st, 2, n)

	if _, err := tree.Max(1); !errors.Is(err, ErrStepBudget) {
		t.Errorf("max on right chain = %v, want step budget error", err)
	}
	if _, err := tree.Min(2); !errors.Is(err, ErrStepBudget) {
		t.Errorf("min on left chain = %v, want step budget error", err)
	}
}

func TestViewStepBudget(t *testing.T) {
	st := NewState()
	tree := NewLimitTree(st)
	rightChain(st, 1, maxTreeSteps+2)

	if _, err := tree.ViewLevels(1); !errors.Is(err, ErrStepBudget) {
		t.Errorf("view levels = %v, want step budget error", err)
	}
	if _, err := tree.ViewOrders(1); !errors.Is(err, ErrStepBudget) {
		t.Errorf("view orders = %v, want step budget error", err)
	}
}

func TestInsertAndFind(t *testing.T) {
	st := NewState()
	tree := NewLimitTree(st)
	ids := insertPrices(t, tree, 1, 50, 30, 70, 20, 40, 60, 80)

	node, parent, err := tree.Find(40, 1)
	if err != nil {
		t.Fatal(err)
	}
	if node.ID != ids[40] {
		t.Errorf("find(40) = node %d, want %d", node.ID, ids[40])
	}
	if parent.ID != ids[30] {
		t.Errorf("find(40) parent = %d, want %d", parent.ID, ids[30])
	}

	node, _, err = tree.Find(99, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !node.IsZero() {
		t.Error("find on absent price should return zero node")
	}
}

func TestInsertIdempotentAtQuotedPrice(t *testing.T) {
	st := NewState()
	tree := NewLimitTree(st)
	first, err := tree.Insert(100, 1, 1)
	if err != nil {
		t.Fatal(err)
	}

	again, err := tree.Insert(100, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID {
		t.Errorf("re-insert returned node %d, want existing %d", again.ID, first.ID)
	}
	if got := levelPrices(t, tree, 1); !samePrices(got, []int64{100}) {
		t.Errorf("tree holds %v, want single level", got)
	}
}

func TestMinMax(t *testing.T) {
	st := NewState()
	tree := NewLimitTree(st)

	min, err := tree.Min(1)
	if err != nil || !min.IsZero() {
		t.Error("min of empty tree should be zero")
	}

	insertPrices(t, tree, 1, 50, 30, 70, 20, 80)
	min, _ = tree.Min(1)
	max, _ := tree.Max(1)
	if min.Price != 20 || max.Price != 80 {
		t.Errorf("min/max = %d/%d, want 20/80", min.Price, max.Price)
	}
}

func TestDeleteLeaf(t *testing.T) {
	st := NewState()
	tree := NewLimitTree(st)
	insertPrices(t, tree, 1, 50, 30, 70)

	gone, err := tree.Delete(30, 1)
	if err != nil {
		t.Fatal(err)
	}
	if gone.Price != 30 {
		t.Errorf("deleted price %d, want 30", gone.Price)
	}
	if _, ok := st.Limit(gone.ID); ok {
		t.Error("deleted node record should be gone")
	}
	if got := levelPrices(t, tree, 1); !samePrices(got, []int64{50, 70}) {
		t.Errorf("tree = %v after leaf delete", got)
	}
}

func TestDeleteNodeWithOneChild(t *testing.T) {
	st := NewState()
	tree := NewLimitTree(st)
	insertPrices(t, tree, 1, 50, 30, 20)

	if _, err := tree.Delete(30, 1); err != nil {
		t.Fatal(err)
	}
	if got := levelPrices(t, tree, 1); !samePrices(got, []int64{20, 50}) {
		t.Errorf("tree = %v after one-child delete", got)
	}
}

func TestDeleteNodeWithDirectRightSuccessor(t *testing.T) {
	st := NewState()
	tree := NewLimitTree(st)
	// 50's right child 70 has no left subtree: 70 is the successor itself
	insertPrices(t, tree, 1, 50, 30, 70, 80)

	if _, err := tree.Delete(50, 1); err != nil {
		t.Fatal(err)
	}
	if got := levelPrices(t, tree, 1); !samePrices(got, []int64{30, 70, 80}) {
		t.Errorf("tree = %v after direct-successor delete", got)
	}
	root, _ := st.Limit(st.Root(1))
	if root.Price != 70 {
		t.Errorf("root = %d, want promoted successor 70", root.Price)
	}
}

func TestDeleteNodeWithDeepSuccessor(t *testing.T) {
	st := NewState()
	tree := NewLimitTree(st)
	// successor of 50 is 60, the leftmost node of the right subtree
	insertPrices(t, tree, 1, 50, 30, 80, 60, 90, 70)

	if _, err := tree.Delete(50, 1); err != nil {
		t.Fatal(err)
	}
	if got := levelPrices(t, tree, 1); !samePrices(got, []int64{30, 60, 70, 80, 90}) {
		t.Errorf("tree = %v after deep-successor delete", got)
	}
	root, _ := st.Limit(st.Root(1))
	if root.Price != 60 {
		t.Errorf("root = %d, want promoted successor 60", root.Price)
	}
}

func TestDeleteRootUntilEmpty(t *testing.T) {
	st := NewState()
	tree := NewLimitTree(st)
	insertPrices(t, tree, 1, 50, 30, 70)

	for _, p := range []int64{50, 30, 70} {
		if _, err := tree.Delete(p, 1); err != nil {
			t.Fatal(err)
		}
	}
	if st.Root(1) != 0 {
		t.Error("root should be 0 after deleting every level")
	}
	if got := levelPrices(t, tree, 1); len(got) != 0 {
		t.Errorf("tree = %v, want empty", got)
	}
}

func TestDeleteAbsentPrice(t *testing.T) {
	st := NewState()
	tree := NewLimitTree(st)
	insertPrices(t, tree, 1, 50)

	gone, err := tree.Delete(99, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !gone.IsZero() {
		t.Error("delete of absent price should return zero node")
	}
}

func TestUpdateAggregates(t *testing.T) {
	st := NewState()
	tree := NewLimitTree(st)
	ids := insertPrices(t, tree, 1, 100)

	if !tree.Update(ids[100], 42, 3, 7, 9) {
		t.Fatal("update failed")
	}
	lvl, _ := st.Limit(ids[100])
	if lvl.TotalVol != 42 || lvl.Length != 3 || lvl.HeadID != 7 || lvl.TailID != 9 {
		t.Error("update did not overwrite aggregates")
	}
	if tree.Update(0, 1, 1, 1, 1) {
		t.Error("update of id 0 should report false")
	}
	if tree.Update(999, 1, 1, 1, 1) {
		t.Error("update of unknown id should report false")
	}
}

func TestViewLevelsOrderedByPrice(t *testing.T) {
	st := NewState()
	tree := NewLimitTree(st)
	ids := insertPrices(t, tree, 1, 50, 20, 80, 35, 65)
	for p, id := range ids {
		tree.Update(id, p*10, 1, 0, 0)
	}

	levels, err := tree.ViewLevels(1)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{20, 35, 50, 65, 80}
	for i, lvl := range levels {
		if lvl.Price != want[i] {
			t.Fatalf("levels out of order: %v", levels)
		}
		if lvl.Volume != want[i]*10 {
			t.Errorf("level %d volume = %d, want %d", lvl.Price, lvl.Volume, want[i]*10)
		}
	}
}

func TestViewUnknownTreeIsEmpty(t *testing.T) {
	st := NewState()
	tree := NewLimitTree(st)

	levels, err := tree.ViewLevels(42)
	if err != nil || len(levels) != 0 {
		t.Errorf("unknown tree should read as empty book, got %v (%v)", levels, err)
	}
	entries, err := tree.ViewOrders(42)
	if err != nil || len(entries) != 0 {
		t.Errorf("unknown tree should have no orders, got %v (%v)", entries, err)
	}
}

func TestViewOrdersPriceThenFIFO(t *testing.T) {
	st := NewState()
	tree := NewLimitTree(st)
	list := NewOrderList(st)
	ids := insertPrices(t, tree, 1, 60, 40)

	a := list.Push(ids[40], Order{Price: 40, Amount: 1, Owner: "alice"})
	b := list.Push(ids[40], Order{Price: 40, Amount: 2, Owner: "bob"})
	c := list.Push(ids[60], Order{Price: 60, Amount: 3, Owner: "carol"})

	entries, err := tree.ViewOrders(1)
	if err != nil {
		t.Fatal(err)
	}
	wantIDs := []uint64{a.ID, b.ID, c.ID}
	if len(entries) != len(wantIDs) {
		t.Fatalf("got %d entries, want %d", len(entries), len(wantIDs))
	}
	for i, e := range entries {
		if e.OrderID != wantIDs[i] {
			t.Fatalf("entries out of order: %+v", entries)
		}
	}
	if entries[0].Price != 40 || entries[2].Price != 60 {
		t.Error("entries not ascending by price")
	}
}
