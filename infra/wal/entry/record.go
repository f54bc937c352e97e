package entry

import (
	"hash/crc32"
	"time"
)

// RecordType is the order transition a journal record describes.
type RecordType uint8

const (
	RecordSubmitted RecordType = iota + 1
	RecordMatched
	RecordSettled
	RecordSettlementFailed
	RecordCancelled
	RecordExpired
	RecordFallback
)

func (t RecordType) String() string {
	switch t {
	case RecordSubmitted:
		return "SUBMITTED"
	case RecordMatched:
		return "MATCHED"
	case RecordSettled:
		return "SETTLED"
	case RecordSettlementFailed:
		return "SETTLEMENT_FAILED"
	case RecordCancelled:
		return "CANCELLED"
	case RecordExpired:
		return "EXPIRED"
	case RecordFallback:
		return "FALLBACK"
	default:
		return "UNKNOWN"
	}
}

// Record is an immutable journal entry. Seq is the journal's own sequence,
// not the order arrival sequence.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}

func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

func CRC32Valid(data []byte, sum uint32) bool {
	return CRC32(data) == sum
}
