// Package codec is the binary encoding of order records shared by the
// pebble and SQL store backends and the journal. It writes protobuf wire
// format directly so records stay readable by any protobuf tooling that
// knows the field numbers below.
package codec

import (
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"fundbook/domain/orderbook"
)

// order fields
const (
	fID protowire.Number = iota + 1
	fMaker
	fSide
	fInstrument
	fTokenAmount
	fPricePerToken
	fNonce
	fDeadline
	fStatus
	fCreatedAt
	fSeq
	fMatchedOrderID
	fSettlementTxHash
	fFilledTokenAmount
	fFallback
	fUpdatedAt
)

// timestamp fields, laid out as google.protobuf.Timestamp
const (
	tsSeconds protowire.Number = iota + 1
	tsNanos
)

// fallback fields
const (
	fbRemainder protowire.Number = iota + 1
	fbNotional
	fbSuccess
	fbTxRef
	fbError
	fbAt
)

var ErrCorrupt = errors.New("corrupt order record")

func MarshalOrder(o *orderbook.Order) []byte {
	b := make([]byte, 0, 256)
	b = appendString(b, fID, o.ID)
	b = appendString(b, fMaker, o.Maker)
	b = appendUint(b, fSide, uint64(o.Side))
	b = appendString(b, fInstrument, o.Instrument)
	b = appendUint(b, fTokenAmount, uint64(o.TokenAmount))
	b = appendUint(b, fPricePerToken, uint64(o.PricePerToken))
	b = appendString(b, fNonce, o.Nonce)
	b = appendTime(b, fDeadline, o.Deadline)
	b = appendUint(b, fStatus, uint64(o.Status))
	b = appendTime(b, fCreatedAt, o.CreatedAt)
	b = appendUint(b, fSeq, o.Seq)
	b = appendString(b, fMatchedOrderID, o.MatchedOrderID)
	b = appendString(b, fSettlementTxHash, o.SettlementTxHash)
	b = appendUint(b, fFilledTokenAmount, uint64(o.FilledTokenAmount))
	if f := o.Fallback; f != nil {
		var fb []byte
		fb = appendUint(fb, fbRemainder, uint64(f.Remainder))
		fb = appendUint(fb, fbNotional, uint64(f.Notional))
		fb = appendBool(fb, fbSuccess, f.Success)
		fb = appendString(fb, fbTxRef, f.TxRef)
		fb = appendString(fb, fbError, f.Error)
		fb = appendTime(fb, fbAt, f.At)
		b = protowire.AppendTag(b, fFallback, protowire.BytesType)
		b = protowire.AppendBytes(b, fb)
	}
	b = appendTime(b, fUpdatedAt, o.UpdatedAt)
	return b
}

func UnmarshalOrder(b []byte) (*orderbook.Order, error) {
	o := &orderbook.Order{}
	err := walk(b, func(num protowire.Number, v uint64, raw []byte) (err error) {
		switch num {
		case fID:
			o.ID = string(raw)
		case fMaker:
			o.Maker = string(raw)
		case fSide:
			o.Side = orderbook.Side(v)
		case fInstrument:
			o.Instrument = string(raw)
		case fTokenAmount:
			o.TokenAmount = int64(v)
		case fPricePerToken:
			o.PricePerToken = int64(v)
		case fNonce:
			o.Nonce = string(raw)
		case fDeadline:
			o.Deadline, err = decodeTime(v, raw)
		case fStatus:
			o.Status = orderbook.Status(v)
		case fCreatedAt:
			o.CreatedAt, err = decodeTime(v, raw)
		case fSeq:
			o.Seq = v
		case fMatchedOrderID:
			o.MatchedOrderID = string(raw)
		case fSettlementTxHash:
			o.SettlementTxHash = string(raw)
		case fFilledTokenAmount:
			o.FilledTokenAmount = int64(v)
		case fFallback:
			fb, err := unmarshalFallback(raw)
			if err != nil {
				return err
			}
			o.Fallback = fb
		case fUpdatedAt:
			o.UpdatedAt, err = decodeTime(v, raw)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if o.ID == "" {
		return nil, errors.Wrap(ErrCorrupt, "missing id")
	}
	return o, nil
}

func unmarshalFallback(b []byte) (*orderbook.FallbackOutcome, error) {
	f := &orderbook.FallbackOutcome{}
	err := walk(b, func(num protowire.Number, v uint64, raw []byte) (err error) {
		switch num {
		case fbRemainder:
			f.Remainder = int64(v)
		case fbNotional:
			f.Notional = int64(v)
		case fbSuccess:
			f.Success = protowire.DecodeBool(v)
		case fbTxRef:
			f.TxRef = string(raw)
		case fbError:
			f.Error = string(raw)
		case fbAt:
			f.At, err = decodeTime(v, raw)
		}
		return err
	})
	return f, err
}

// walk decodes every field of a message. Varint fields arrive in v, length
// delimited ones in raw. Unknown fields and wire types are skipped.
func walk(b []byte, fn func(num protowire.Number, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(ErrCorrupt, protowire.ParseError(n).Error())
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.Wrapf(ErrCorrupt, "field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(num, v, nil); err != nil {
				return err
			}
		case protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errors.Wrapf(ErrCorrupt, "field %d: %v", num, protowire.ParseError(n))
			}
			if raw == nil {
				raw = []byte{}
			}
			b = b[n:]
			if err := fn(num, 0, raw); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrapf(ErrCorrupt, "field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

// zero time encodes as absent
func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	var ts []byte
	ts = appendUint(ts, tsSeconds, uint64(t.Unix()))
	ts = appendUint(ts, tsNanos, uint64(t.Nanosecond()))
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, ts)
}

// decodeTime reads a timestamp message. Records written before timestamps
// were messages hold unix nanoseconds as a varint.
func decodeTime(v uint64, raw []byte) (time.Time, error) {
	if raw == nil {
		if v == 0 {
			return time.Time{}, nil
		}
		return time.Unix(0, int64(v)).UTC(), nil
	}
	var secs, nanos int64
	err := walk(raw, func(num protowire.Number, v uint64, _ []byte) error {
		switch num {
		case tsSeconds:
			secs = int64(v)
		case tsNanos:
			nanos = int64(v)
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	if nanos < 0 || nanos >= int64(time.Second) {
		return time.Time{}, errors.Wrapf(ErrCorrupt, "timestamp nanos %d", nanos)
	}
	return time.Unix(secs, nanos).UTC(), nil
}
