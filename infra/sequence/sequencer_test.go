package sequence

import (
	"sync"
	"testing"
)

func TestNextIsMonotonic(t *testing.T) {
	s := New(0)
	if got := s.Next(); got != 1 {
		t.Fatalf("Next() = %d, want 1", got)
	}
	if got := s.Next(); got != 2 {
		t.Fatalf("Next() = %d, want 2", got)
	}
	if got := s.Current(); got != 2 {
		t.Errorf("Current() = %d, want 2", got)
	}
}

func TestAdvanceNeverRewinds(t *testing.T) {
	s := New(10)
	s.Advance(4)
	if got := s.Current(); got != 10 {
		t.Errorf("Current() = %d after rewind attempt, want 10", got)
	}
	s.Advance(42)
	if got := s.Next(); got != 43 {
		t.Errorf("Next() = %d, want 43", got)
	}
}

func TestConcurrentNextUnique(t *testing.T) {
	s := New(0)
	const workers, per = 8, 500

	var mu sync.Mutex
	seen := make(map[uint64]bool, workers*per)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < per; j++ {
				v := s.Next()
				mu.Lock()
				if seen[v] {
					t.Errorf("duplicate seq %d", v)
				}
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if s.Current() != workers*per {
		t.Errorf("Current() = %d, want %d", s.Current(), workers*per)
	}
}
