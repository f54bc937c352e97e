package entry

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

type ReplayHandler func(*Record) error

// Replay feeds every intact record to fn in seq order. A torn tail in the
// newest segment ends the replay quietly; damage anywhere else is an error.
func Replay(dir string, fn ReplayHandler) (lastSeq uint64, err error) {
	files, err := listSegments(dir)
	if err != nil {
		return 0, err
	}

	for i, path := range files {
		last := i == len(files)-1
		lastSeq, err = replaySegment(path, last, lastSeq, fn)
		if err != nil {
			return lastSeq, err
		}
	}

	return lastSeq, nil
}

func replaySegment(path string, last bool, lastSeq uint64, fn ReplayHandler) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return lastSeq, err
	}
	defer f.Close()

	for {
		rec, err := readRecord(f)
		if err != nil {
			if err == io.EOF {
				return lastSeq, nil
			}
			if last && (err == io.ErrUnexpectedEOF || errors.Is(err, errCRC)) {
				return lastSeq, nil
			}
			return lastSeq, errors.Wrapf(err, "segment %s", path)
		}

		if rec.Seq <= lastSeq {
			return lastSeq, errors.Errorf("non-monotonic seq %d in %s", rec.Seq, path)
		}
		lastSeq = rec.Seq

		if err := fn(rec); err != nil {
			return lastSeq, err
		}
	}
}
