// Package store mirrors the engine's record tables into pebble. Each
// engine call hands its dirty records over as one batch; the batch is
// applied synced, so a call is either fully durable or not at all.
package store

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/pebble"

	"chainbook/domain/book"
)

const (
	orderPrefix  = "order/"
	limitPrefix  = "limit/"
	marketPrefix = "market/"
	rootPrefix   = "root/"
	pairPrefix   = "pair/"
	countersKey  = "meta/counters"
)

type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(prefix string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, id))
}

func parseRecordKey(key, prefix string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(key, prefix), 10, 64)
}

func rootValue(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

// Apply writes one engine call's dirty records as a single synced batch.
func (s *Store) Apply(muts []book.Mutation) error {
	if len(muts) == 0 {
		return nil
	}

	b := s.db.NewBatch()
	defer b.Close()

	for _, m := range muts {
		var key, val []byte
		switch m.Kind {
		case book.MutOrder:
			key, val = recordKey(orderPrefix, m.ID), encodeOrder(m.Order)
		case book.MutLimit:
			key, val = recordKey(limitPrefix, m.ID), encodeLimit(m.Limit)
		case book.MutMarket:
			key, val = recordKey(marketPrefix, m.ID), encodeMarket(m.Market)
		case book.MutRoot:
			key, val = recordKey(rootPrefix, m.ID), rootValue(m.Root)
		case book.MutPair:
			key, val = []byte(pairPrefix+m.Pair), rootValue(m.ID)
		case book.MutCounters:
			key, val = []byte(countersKey), encodeCounters(m.Counters)
		default:
			return fmt.Errorf("store: unknown mutation kind %d", m.Kind)
		}

		if m.Deleted {
			if err := b.Delete(key, nil); err != nil {
				return err
			}
			continue
		}
		if err := b.Set(key, val, nil); err != nil {
			return err
		}
	}
	return s.db.Apply(b, pebble.Sync)
}

// Load rebuilds the full in-memory state from the store. It must run
// before the engine accepts traffic.
func (s *Store) Load(st *book.State) error {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		val := iter.Value()

		switch {
		case strings.HasPrefix(key, orderPrefix):
			o, err := decodeOrder(val)
			if err != nil {
				return fmt.Errorf("store: %s: %w", key, err)
			}
			st.RestoreOrder(o)

		case strings.HasPrefix(key, limitPrefix):
			l, err := decodeLimit(val)
			if err != nil {
				return fmt.Errorf("store: %s: %w", key, err)
			}
			st.RestoreLimit(l)

		case strings.HasPrefix(key, marketPrefix):
			m, err := decodeMarket(val)
			if err != nil {
				return fmt.Errorf("store: %s: %w", key, err)
			}
			st.RestoreMarket(m)

		case strings.HasPrefix(key, rootPrefix):
			treeID, err := parseRecordKey(key, rootPrefix)
			if err != nil || len(val) != 8 {
				return fmt.Errorf("store: bad root record %s", key)
			}
			st.RestoreRoot(treeID, binary.BigEndian.Uint64(val))

		case strings.HasPrefix(key, pairPrefix):
			if len(val) != 8 {
				return fmt.Errorf("store: bad pair record %s", key)
			}
			st.RestorePair(strings.TrimPrefix(key, pairPrefix), binary.BigEndian.Uint64(val))

		case key == countersKey:
			c, err := decodeCounters(val)
			if err != nil {
				return fmt.Errorf("store: %s: %w", key, err)
			}
			st.RestoreCounters(c)
		}
	}
	return iter.Error()
}
