package store

import (
	"encoding/binary"
	"errors"
	"hash/crc32"

	"google.golang.org/protobuf/encoding/protowire"

	"chainbook/domain/book"
)

var ErrCorruptRecord = errors.New("store: corrupt record")

// Record bodies are protobuf wire format. Every value is framed with
// [len:4 LE][crc32:4 LE] so a torn or bit-rotted record is detected at
// load time instead of silently corrupting the book.

func frame(body []byte) []byte {
	out := make([]byte, 8, 8+len(body))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(out[4:8], crc32.ChecksumIEEE(body))
	return append(out, body...)
}

func unframe(data []byte) ([]byte, error) {
	if len(data) < 8 {
		return nil, ErrCorruptRecord
	}
	size := binary.LittleEndian.Uint32(data[:4])
	sum := binary.LittleEndian.Uint32(data[4:8])
	body := data[8:]
	if uint32(len(body)) != size || crc32.ChecksumIEEE(body) != sum {
		return nil, ErrCorruptRecord
	}
	return body, nil
}

// walkFields drives a protowire decode loop, dispatching each field to
// the callback and skipping field types the callback has no use for.
func walkFields(body []byte, field func(num protowire.Number, v uint64, bs []byte)) error {
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return ErrCorruptRecord
		}
		body = body[n:]
		switch typ {
		case protowire.VarintType:
			v, vn := protowire.ConsumeVarint(body)
			if vn < 0 {
				return ErrCorruptRecord
			}
			field(num, v, nil)
			body = body[vn:]
		case protowire.BytesType:
			bs, bn := protowire.ConsumeBytes(body)
			if bn < 0 {
				return ErrCorruptRecord
			}
			field(num, 0, bs)
			body = body[bn:]
		default:
			fn := protowire.ConsumeFieldValue(num, typ, body)
			if fn < 0 {
				return ErrCorruptRecord
			}
			body = body[fn:]
		}
	}
	return nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, bs []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, bs)
}

func boolToVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// ---------------- orders ----------------

func encodeOrder(o book.Order) []byte {
	var b []byte
	b = appendVarintField(b, 1, o.ID)
	b = appendVarintField(b, 2, o.NextID)
	b = appendVarintField(b, 3, o.PrevID)
	b = appendVarintField(b, 4, boolToVarint(o.IsBuy))
	b = appendVarintField(b, 5, uint64(o.Price))
	b = appendVarintField(b, 6, uint64(o.Amount))
	b = appendVarintField(b, 7, uint64(o.Filled))
	b = appendVarintField(b, 8, uint64(o.Timestamp))
	b = appendBytesField(b, 9, []byte(o.Owner))
	b = appendVarintField(b, 10, o.LimitID)
	return frame(b)
}

func decodeOrder(data []byte) (book.Order, error) {
	body, err := unframe(data)
	if err != nil {
		return book.Order{}, err
	}
	var o book.Order
	err = walkFields(body, func(num protowire.Number, v uint64, bs []byte) {
		switch num {
		case 1:
			o.ID = v
		case 2:
			o.NextID = v
		case 3:
			o.PrevID = v
		case 4:
			o.IsBuy = v != 0
		case 5:
			o.Price = int64(v)
		case 6:
			o.Amount = int64(v)
		case 7:
			o.Filled = int64(v)
		case 8:
			o.Timestamp = int64(v)
		case 9:
			o.Owner = string(bs)
		case 10:
			o.LimitID = v
		}
	})
	if err != nil {
		return book.Order{}, err
	}
	return o, nil
}

// ---------------- limits ----------------

func encodeLimit(l book.Limit) []byte {
	var b []byte
	b = appendVarintField(b, 1, l.ID)
	b = appendVarintField(b, 2, l.LeftID)
	b = appendVarintField(b, 3, l.RightID)
	b = appendVarintField(b, 4, uint64(l.Price))
	b = appendVarintField(b, 5, uint64(l.TotalVol))
	b = appendVarintField(b, 6, uint64(l.Length))
	b = appendVarintField(b, 7, l.HeadID)
	b = appendVarintField(b, 8, l.TailID)
	b = appendVarintField(b, 9, l.TreeID)
	b = appendVarintField(b, 10, l.MarketID)
	return frame(b)
}

func decodeLimit(data []byte) (book.Limit, error) {
	body, err := unframe(data)
	if err != nil {
		return book.Limit{}, err
	}
	var l book.Limit
	err = walkFields(body, func(num protowire.Number, v uint64, bs []byte) {
		switch num {
		case 1:
			l.ID = v
		case 2:
			l.LeftID = v
		case 3:
			l.RightID = v
		case 4:
			l.Price = int64(v)
		case 5:
			l.TotalVol = int64(v)
		case 6:
			l.Length = int64(v)
		case 7:
			l.HeadID = v
		case 8:
			l.TailID = v
		case 9:
			l.TreeID = v
		case 10:
			l.MarketID = v
		}
	})
	if err != nil {
		return book.Limit{}, err
	}
	return l, nil
}

// ---------------- markets ----------------

func encodeMarket(m book.Market) []byte {
	var b []byte
	b = appendVarintField(b, 1, m.ID)
	b = appendVarintField(b, 2, m.BidTreeID)
	b = appendVarintField(b, 3, m.AskTreeID)
	b = appendVarintField(b, 4, m.LowestAsk)
	b = appendVarintField(b, 5, m.HighestBid)
	b = appendBytesField(b, 6, []byte(m.BaseAsset))
	b = appendBytesField(b, 7, []byte(m.QuoteAsset))
	b = appendBytesField(b, 8, []byte(m.Controller))
	return frame(b)
}

func decodeMarket(data []byte) (book.Market, error) {
	body, err := unframe(data)
	if err != nil {
		return book.Market{}, err
	}
	var m book.Market
	err = walkFields(body, func(num protowire.Number, v uint64, bs []byte) {
		switch num {
		case 1:
			m.ID = v
		case 2:
			m.BidTreeID = v
		case 3:
			m.AskTreeID = v
		case 4:
			m.LowestAsk = v
		case 5:
			m.HighestBid = v
		case 6:
			m.BaseAsset = string(bs)
		case 7:
			m.QuoteAsset = string(bs)
		case 8:
			m.Controller = string(bs)
		}
	})
	if err != nil {
		return book.Market{}, err
	}
	return m, nil
}

// ---------------- counters ----------------

func encodeCounters(c book.Counters) []byte {
	var b []byte
	b = appendVarintField(b, 1, c.NextOrderID)
	b = appendVarintField(b, 2, c.NextLimitID)
	b = appendVarintField(b, 3, c.NextMarketID)
	b = appendVarintField(b, 4, c.NextTreeID)
	return frame(b)
}

func decodeCounters(data []byte) (book.Counters, error) {
	body, err := unframe(data)
	if err != nil {
		return book.Counters{}, err
	}
	var c book.Counters
	err = walkFields(body, func(num protowire.Number, v uint64, bs []byte) {
		switch num {
		case 1:
			c.NextOrderID = v
		case 2:
			c.NextLimitID = v
		case 3:
			c.NextMarketID = v
		case 4:
			c.NextTreeID = v
		}
	})
	if err != nil {
		return book.Counters{}, err
	}
	return c, nil
}
