package sequence

import "sync/atomic"

// Sequencer generates strictly monotonic arrival sequence numbers.
// It is deterministic and replay-safe.
type Sequencer struct {
	next atomic.Uint64
}

// New creates a sequencer starting from a given value.
// On fresh start → start = 0
// On recovery → start = highest seq seen in the store or journal
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued sequence.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

// Advance moves the sequencer forward to v. It never moves backwards, so
// feeding it every replayed seq in any order leaves it at the maximum.
func (s *Sequencer) Advance(v uint64) {
	for {
		cur := s.next.Load()
		if v <= cur {
			return
		}
		if s.next.CompareAndSwap(cur, v) {
			return
		}
	}
}
