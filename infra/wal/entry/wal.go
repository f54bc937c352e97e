package entry

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/pkg/errors"

	"fundbook/infra/memory"
)

// framePool recycles record frames. A frame is written to the segment
// file before Append returns.
var framePool = memory.NewBufferPool(512, 64<<10)

type Config struct {
	Dir         string
	SegmentSize int64
}

// WAL is the append-only order journal. It is safe for concurrent use.
type WAL struct {
	mu      sync.Mutex
	dir     string
	segSize int64
	current *segment
	seq     uint64
}

// Open resumes the newest segment, cutting off any torn tail left by a
// crash, and continues the sequence from the highest seq on disk.
func Open(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 4 << 20
	}

	files, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}

	var lastSeq uint64
	index := 0
	for i, path := range files {
		size, max, err := validPrefix(path)
		if err != nil {
			return nil, errors.Wrapf(err, "scan %s", path)
		}
		if max > lastSeq {
			lastSeq = max
		}
		if i == len(files)-1 {
			if index, err = segmentIndex(path); err != nil {
				return nil, errors.Wrapf(err, "segment name %s", path)
			}
			if err := os.Truncate(path, size); err != nil {
				return nil, errors.Wrap(err, "truncate torn tail")
			}
		}
	}

	seg, err := openSegment(cfg.Dir, index)
	if err != nil {
		return nil, err
	}

	return &WAL{
		dir:     cfg.Dir,
		segSize: cfg.SegmentSize,
		current: seg,
		seq:     lastSeq,
	}, nil
}

// Append writes one record and returns its seq.
func (w *WAL) Append(t RecordType, data []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil {
		return 0, errors.New("journal closed")
	}
	if len(data) > MaxRecordSize {
		return 0, errors.Errorf("record of %d bytes exceeds %d", len(data), MaxRecordSize)
	}

	w.seq++
	r := NewRecord(t, w.seq, data)
	payloadLen := uint32(len(r.Data))

	// Frame:
	// [type:1][seq:8][time:8][len:4][payload][crc:4]
	bp := framePool.Get(int(headerSize + payloadLen + 4))
	defer framePool.Put(bp)
	buf := *bp

	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], payloadLen)
	copy(buf[21:], r.Data)

	crc := CRC32(buf[:headerSize+payloadLen])
	binary.BigEndian.PutUint32(buf[headerSize+payloadLen:], crc)

	if err := w.current.append(buf); err != nil {
		return 0, err
	}

	if w.current.offset >= w.segSize {
		if err := w.rotate(); err != nil {
			return r.Seq, err
		}
	}
	return r.Seq, nil
}

func (w *WAL) rotate() error {
	if err := w.current.close(); err != nil {
		return err
	}
	seg, err := openSegment(w.dir, w.current.index+1)
	if err != nil {
		return err
	}
	w.current = seg
	return nil
}

// LastSeq is the seq of the newest record written or recovered.
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

func (w *WAL) Dir() string {
	return w.dir
}

// TruncateBefore removes closed segments whose records all have seq <= seq.
// The active segment is never removed.
func (w *WAL) TruncateBefore(seq uint64) (int, error) {
	w.mu.Lock()
	active := segmentPath(w.dir, w.current.index)
	w.mu.Unlock()

	files, err := listSegments(w.dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range files {
		if path == active {
			continue
		}
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			continue
		}
		if maxSeq <= seq {
			if err := os.Remove(path); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	err := w.current.close()
	w.current = nil
	return err
}
