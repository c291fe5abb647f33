package sf

import "golang.org/x/sync/singleflight"

// Singleflight deduplicates concurrent calls with the same key: only the
// first caller executes fn, the rest wait and share its result.
type Singleflight[T any] struct {
	group singleflight.Group
}

// New creates a new Singleflight instance for type T.
func New[T any]() *Singleflight[T] {
	return &Singleflight[T]{}
}

// Do executes fn for the given key, deduplicating concurrent calls.
// While a call for key is in flight, Do blocks and returns that call's
// result instead of running fn again.
func (s *Singleflight[T]) Do(key string, fn func() (*T, error)) (*T, error) {
	v, err, _ := s.group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}
