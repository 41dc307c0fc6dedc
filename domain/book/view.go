package book

// BookLevel is one row of the aggregated book view.
type BookLevel struct {
	Price  int64 `json:"price"`
	Volume int64 `json:"volume"`
}

// BookEntry is one row of the per-order book view.
type BookEntry struct {
	Price   int64  `json:"price"`
	Amount  int64  `json:"amount"`
	Owner   string `json:"owner"`
	OrderID uint64 `json:"order_id"`
}

// subtreeCounts computes, for every node of the tree, the aggregate unit
// count of its subtree (post-order, explicit stack). counts[0] stays 0 so
// missing children contribute nothing.
func (t LimitTree) subtreeCounts(treeID uint64, unit func(Limit) int64) (map[uint64]int64, int64, error) {
	counts := make(map[uint64]int64)
	root := t.st.Root(treeID)
	if root == 0 {
		return counts, 0, nil
	}

	type frame struct {
		id       uint64
		expanded bool
	}
	stack := []frame{{id: root}}
	for steps := 0; len(stack) > 0; steps++ {
		if steps >= 2*maxTreeSteps {
			return nil, 0, ErrStepBudget
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := t.st.Limit(f.id)
		if !ok {
			continue
		}
		if f.expanded {
			counts[f.id] = unit(n) + counts[n.LeftID] + counts[n.RightID]
			continue
		}
		stack = append(stack, frame{id: f.id, expanded: true})
		if n.RightID != 0 {
			stack = append(stack, frame{id: n.RightID})
		}
		if n.LeftID != 0 {
			stack = append(stack, frame{id: n.LeftID})
		}
	}
	return counts, counts[root], nil
}

// assignRanks visits every node with its in-order write index. A node's
// index is its left subtree's aggregate count offset by the index range
// its parent handed down, so each node computes its slot independently of
// any running cursor.
func (t LimitTree) assignRanks(treeID uint64, counts map[uint64]int64, unit func(Limit) int64, visit func(Limit, int64)) error {
	root := t.st.Root(treeID)
	if root == 0 {
		return nil
	}

	type frame struct {
		id     uint64
		offset int64
	}
	stack := []frame{{id: root}}
	for steps := 0; len(stack) > 0; steps++ {
		if steps >= maxTreeSteps {
			return ErrStepBudget
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := t.st.Limit(f.id)
		if !ok {
			continue
		}
		idx := f.offset + counts[n.LeftID]
		visit(n, idx)
		if n.LeftID != 0 {
			stack = append(stack, frame{id: n.LeftID, offset: f.offset})
		}
		if n.RightID != 0 {
			stack = append(stack, frame{id: n.RightID, offset: idx + unit(n)})
		}
	}
	return nil
}

// ViewLevels returns (price, volume) rows for every live level, ascending
// by price. Unknown tree ids read as an empty book.
func (t LimitTree) ViewLevels(treeID uint64) ([]BookLevel, error) {
	unit := func(Limit) int64 { return 1 }
	counts, total, err := t.subtreeCounts(treeID, unit)
	if err != nil {
		return nil, err
	}

	out := make([]BookLevel, total)
	err = t.assignRanks(treeID, counts, unit, func(n Limit, idx int64) {
		out[idx] = BookLevel{Price: n.Price, Volume: n.TotalVol}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ViewOrders returns one row per live order, ascending by price and FIFO
// within a price. Each level writes its own contiguous index range.
func (t LimitTree) ViewOrders(treeID uint64) ([]BookEntry, error) {
	unit := func(n Limit) int64 { return n.Length }
	counts, total, err := t.subtreeCounts(treeID, unit)
	if err != nil {
		return nil, err
	}

	out := make([]BookEntry, total)
	listSteps := 0
	err = t.assignRanks(treeID, counts, unit, func(n Limit, idx int64) {
		id := n.HeadID
		for i := int64(0); id != 0 && i < n.Length; i++ {
			listSteps++
			if listSteps > 2*maxTreeSteps {
				return
			}
			o, ok := t.st.Order(id)
			if !ok {
				return
			}
			out[idx+i] = BookEntry{
				Price:   n.Price,
				Amount:  o.Amount,
				Owner:   o.Owner,
				OrderID: o.ID,
			}
			id = o.NextID
		}
	})
	if err != nil {
		return nil, err
	}
	if listSteps > 2*maxTreeSteps {
		return nil, ErrStepBudget
	}
	return out, nil
}
