package entry

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

var errCRC = errors.New("crc mismatch")

// MaxRecordSize bounds a record payload. A header claiming more is corrupt.
const MaxRecordSize = 1 << 20

func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	t := RecordType(header[0])
	seq := binary.BigEndian.Uint64(header[1:9])
	ts := binary.BigEndian.Uint64(header[9:17])
	l := binary.BigEndian.Uint32(header[17:21])
	if l > MaxRecordSize {
		return nil, errors.Wrapf(errCRC, "record length %d", l)
	}

	data := make([]byte, l+4)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	payload := data[:l]
	crc := binary.BigEndian.Uint32(data[l:])

	if !CRC32Valid(append(header, payload...), crc) {
		return nil, errCRC
	}

	return &Record{
		Type: t,
		Seq:  seq,
		Time: int64(ts),
		Data: payload,
	}, nil
}

// validPrefix scans a segment and returns the length of its intact prefix
// and the highest seq within it. A torn or corrupt tail ends the prefix.
func validPrefix(path string) (int64, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	var off int64
	var max uint64
	for {
		rec, err := readRecord(f)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF || errors.Is(err, errCRC) {
				return off, max, nil
			}
			return off, max, err
		}
		off += int64(headerSize + len(rec.Data) + 4)
		if rec.Seq > max {
			max = rec.Seq
		}
	}
}

// maxSeqInSegment scans a segment and returns the maximum sequence found.
// It is used for snapshot-based truncation.
func maxSeqInSegment(path string) (uint64, error) {
	_, max, err := validPrefix(path)
	return max, err
}
