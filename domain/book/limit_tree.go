package book

// maxTreeSteps bounds every descent and traversal. A plain BST can
// degenerate to a chain, so walks carry an explicit budget instead of
// trusting the depth; blowing it surfaces ErrStepBudget.
const maxTreeSteps = 1 << 14

// LimitTree is a binary search tree of price levels, keyed by price, one
// conceptual tree per (market, side). Nodes are Limit records linked by
// id through the state tables; the root id per tree lives in the roots
// table. All walks are iterative id-chasing.
type LimitTree struct {
	st *State
}

func NewLimitTree(st *State) LimitTree {
	return LimitTree{st: st}
}

// descend walks from the root toward price. When found is true, node is
// the match and parent its BST parent (zero for the root). When found is
// false, parent is the node a new child for price would attach under.
func (t LimitTree) descend(price int64, treeID uint64) (node, parent Limit, found bool, err error) {
	id := t.st.Root(treeID)
	for steps := 0; id != 0; steps++ {
		if steps >= maxTreeSteps {
			return Limit{}, Limit{}, false, ErrStepBudget
		}
		n, ok := t.st.Limit(id)
		if !ok {
			break
		}
		if price == n.Price {
			return n, parent, true, nil
		}
		parent = n
		if price < n.Price {
			id = n.LeftID
		} else {
			id = n.RightID
		}
	}
	return Limit{}, parent, false, nil
}

// Find returns the node at price and its parent, both zero if the price
// is not quoted (or the tree is unknown or empty).
func (t LimitTree) Find(price int64, treeID uint64) (Limit, Limit, error) {
	node, parent, found, err := t.descend(price, treeID)
	if err != nil {
		return Limit{}, Limit{}, err
	}
	if !found {
		return Limit{}, Limit{}, nil
	}
	return node, parent, nil
}

// Insert creates an empty level for price, or returns the existing one:
// re-insertion at a quoted price is a no-op, never a duplicate key.
func (t LimitTree) Insert(price int64, treeID, marketID uint64) (Limit, error) {
	node, parent, found, err := t.descend(price, treeID)
	if err != nil {
		return Limit{}, err
	}
	if found {
		return node, nil
	}

	n := Limit{
		ID:       t.st.AllocLimitID(),
		Price:    price,
		TreeID:   treeID,
		MarketID: marketID,
	}
	t.st.PutLimit(n)

	if parent.IsZero() {
		t.st.SetRoot(treeID, n.ID)
		return n, nil
	}
	if price < parent.Price {
		parent.LeftID = n.ID
	} else {
		parent.RightID = n.ID
	}
	t.st.PutLimit(parent)
	return n, nil
}

// Delete removes the level at price and returns its final snapshot (zero
// if absent). Deletion promotes the in-order successor: a node with two
// children is replaced by the minimum of its right subtree, with the
// direct-right-child successor handled separately from a deeper one.
func (t LimitTree) Delete(price int64, treeID uint64) (Limit, error) {
	n, parent, found, err := t.descend(price, treeID)
	if err != nil {
		return Limit{}, err
	}
	if !found {
		return Limit{}, nil
	}

	switch {
	case n.LeftID == 0 && n.RightID == 0:
		t.replaceChild(treeID, parent, n.ID, 0)

	case n.LeftID == 0:
		t.replaceChild(treeID, parent, n.ID, n.RightID)

	case n.RightID == 0:
		t.replaceChild(treeID, parent, n.ID, n.LeftID)

	default:
		succ, succParent, serr := t.minWithParent(n.RightID)
		if serr != nil {
			return Limit{}, serr
		}
		if succParent.IsZero() {
			// successor is the deleted node's own right child: it keeps
			// its right subtree and adopts the left one
			succ.LeftID = n.LeftID
			t.st.PutLimit(succ)
		} else {
			succParent.LeftID = succ.RightID
			t.st.PutLimit(succParent)
			succ.LeftID = n.LeftID
			succ.RightID = n.RightID
			t.st.PutLimit(succ)
		}
		t.replaceChild(treeID, parent, n.ID, succ.ID)
	}

	t.st.DeleteLimit(n.ID)
	return n, nil
}

// replaceChild re-points parent's link from oldID to newID, or the tree
// root when parent is zero.
func (t LimitTree) replaceChild(treeID uint64, parent Limit, oldID, newID uint64) {
	if parent.IsZero() {
		t.st.SetRoot(treeID, newID)
		return
	}
	if parent.LeftID == oldID {
		parent.LeftID = newID
	} else {
		parent.RightID = newID
	}
	t.st.PutLimit(parent)
}

// minWithParent walks the left spine from startID. parent is zero when
// the start node is already the minimum.
func (t LimitTree) minWithParent(startID uint64) (Limit, Limit, error) {
	var parent Limit
	n, ok := t.st.Limit(startID)
	if !ok {
		return Limit{}, Limit{}, nil
	}
	for steps := 0; n.LeftID != 0; steps++ {
		if steps >= maxTreeSteps {
			return Limit{}, Limit{}, ErrStepBudget
		}
		next, ok := t.st.Limit(n.LeftID)
		if !ok {
			break
		}
		parent = n
		n = next
	}
	return n, parent, nil
}

// Min returns the lowest-price level of the tree, zero if empty.
func (t LimitTree) Min(treeID uint64) (Limit, error) {
	n, _, err := t.minWithParent(t.st.Root(treeID))
	return n, err
}

// Max returns the highest-price level of the tree, zero if empty.
func (t LimitTree) Max(treeID uint64) (Limit, error) {
	id := t.st.Root(treeID)
	n, ok := t.st.Limit(id)
	if !ok {
		return Limit{}, nil
	}
	for steps := 0; n.RightID != 0; steps++ {
		if steps >= maxTreeSteps {
			return Limit{}, ErrStepBudget
		}
		next, ok := t.st.Limit(n.RightID)
		if !ok {
			break
		}
		n = next
	}
	return n, nil
}

// Update overwrites the four mutable aggregate fields of a level in
// place. Returns false for id 0 or an unknown id.
func (t LimitTree) Update(limitID uint64, totalVol, length int64, headID, tailID uint64) bool {
	if limitID == 0 {
		return false
	}
	n, ok := t.st.Limit(limitID)
	if !ok {
		return false
	}
	n.TotalVol = totalVol
	n.Length = length
	n.HeadID = headID
	n.TailID = tailID
	t.st.PutLimit(n)
	return true
}
