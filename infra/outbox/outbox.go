// Package outbox is the durable staging area between the engine and the
// event stream. Events land here in the NEW state as part of handling a
// call, and a background broadcaster walks NEW/SENT records until each
// one is ACKED by the broker.
package outbox

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	default:
		return "UNKNOWN"
	}
}

type Record struct {
	Seq       uint64
	State     State
	Retries   uint32
	CreatedAt int64
	Payload   []byte
}

const eventPrefix = "event/"

// binary encoding: [state:1][retries:4][created:8][payload]
func encodeRecord(r Record) []byte {
	buf := make([]byte, 13+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.CreatedAt))
	copy(buf[13:], r.Payload)
	return buf
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < 13 {
		return Record{}, errors.New("outbox: short record")
	}
	return Record{
		Seq:       seq,
		State:     State(b[0]),
		Retries:   binary.BigEndian.Uint32(b[1:5]),
		CreatedAt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:   append([]byte(nil), b[13:]...),
	}, nil
}

type Outbox struct {
	mu      sync.Mutex
	db      *pebble.DB
	lastSeq uint64
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("outbox: open %s: %w", dir, err)
	}

	ob := &Outbox{db: db}
	if err := ob.recoverLastSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ob, nil
}

func (o *Outbox) recoverLastSeq() error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(eventPrefix),
		UpperBound: []byte(eventPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	if iter.Last() && iter.Valid() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		o.lastSeq = seq
	}
	return iter.Error()
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", eventPrefix, seq))
}

func parseKey(key []byte) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(string(key), eventPrefix), 10, 64)
}

// Append stages a new event durably and returns its sequence number.
func (o *Outbox) Append(payload []byte) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.lastSeq++
	rec := Record{
		Seq:       o.lastSeq,
		State:     StateNew,
		CreatedAt: time.Now().UnixNano(),
		Payload:   payload,
	}
	if err := o.db.Set(keyFor(rec.Seq), encodeRecord(rec), pebble.Sync); err != nil {
		o.lastSeq--
		return 0, err
	}
	return rec.Seq, nil
}

func (o *Outbox) update(seq uint64, state State, bumpRetries bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return err
	}
	rec, derr := decodeRecord(seq, val)
	_ = closer.Close()
	if derr != nil {
		return derr
	}

	rec.State = state
	if bumpRetries {
		rec.Retries++
	}
	return o.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

// MarkSent records a delivery attempt; idempotent.
func (o *Outbox) MarkSent(seq uint64) error {
	return o.update(seq, StateSent, true)
}

// MarkAcked records broker acknowledgement; the record becomes eligible
// for truncation.
func (o *Outbox) MarkAcked(seq uint64) error {
	return o.update(seq, StateAcked, false)
}

// ScanPending visits every record not yet acked, in sequence order.
func (o *Outbox) ScanPending(fn func(*Record) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(eventPrefix),
		UpperBound: []byte(eventPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if rec.State == StateAcked {
			continue
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// TruncateAcked deletes every acked record.
func (o *Outbox) TruncateAcked() error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(eventPrefix),
		UpperBound: []byte(eventPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	b := o.db.NewBatch()
	defer b.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if rec.State != StateAcked {
			continue
		}
		if err := b.Delete(keyFor(seq), nil); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return o.db.Apply(b, pebble.Sync)
}
