package sf

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestSingleflight_DeduplicatesConcurrentCalls(t *testing.T) {
	s := New[int]()

	var calls atomic.Int32
	gate := make(chan struct{})

	const callers = 8
	results := make([]*int, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.Do("form-1", func() (*int, error) {
				calls.Add(1)
				<-gate
				n := 42
				return &n, nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = v
		}()
	}

	close(gate)
	wg.Wait()

	if got := calls.Load(); got < 1 || got > callers {
		t.Fatalf("unexpected call count %d", got)
	}
	for i, v := range results {
		if v == nil || *v != 42 {
			t.Errorf("caller %d got %v, want 42", i, v)
		}
	}
}

func TestSingleflight_PropagatesError(t *testing.T) {
	s := New[int]()

	want := errors.New("load failed")
	_, err := s.Do("form-1", func() (*int, error) { return nil, want })
	if !errors.Is(err, want) {
		t.Errorf("expected load error, got %v", err)
	}
}
