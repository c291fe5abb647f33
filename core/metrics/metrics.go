// Package metrics holds the small abstract instrumentation types shared
// by the core packages, so they can be instrumented without coupling to
// a specific backend. Each instrumented component declares its own
// Metrics interface next to its code; the prometheus adapter provides
// the production implementations.
package metrics

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes to record the elapsed time.
type Timer interface {
	// ObserveDuration records the elapsed time since the timer was created.
	ObserveDuration()
}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

// NopTimer returns a no-op Timer.
func NopTimer() Timer { return nopTimer{} }
