// Package circuitbreaker trips per-source breakers when an upstream keeps
// failing, so requests for an uncached resource fail fast instead of
// waiting on a dead upstream for every cache miss.
package circuitbreaker

import (
	"sync"
	"time"

	fastpass "github.com/eugener/fastpass/internal"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows all calls through.
	StateClosed State = iota
	// StateOpen rejects all calls.
	StateOpen
	// StateHalfOpen allows a single probe call.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters.
type Config struct {
	ErrorThreshold float64       // weighted error rate to trip (e.g. 0.5)
	MinSamples     int           // calls in the window before the breaker may open
	Window         time.Duration // sliding window length, whole seconds up to maxBuckets
	OpenTimeout    time.Duration // time in OPEN before a probe is let through
}

// DefaultConfig returns defaults sized for a handful of upstream calls per
// minute, which is all a warm cache produces.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold: 0.5,
		MinSamples:     5,
		Window:         60 * time.Second,
		OpenTimeout:    30 * time.Second,
	}
}

const maxBuckets = 60

// bucket holds weighted errors and call count for one second.
type bucket struct {
	errors float64
	total  int
}

// window is a ring of one-second buckets.
type window struct {
	buckets [maxBuckets]bucket
	size    int
	head    int
	headSec int64
}

func newWindow(d time.Duration) window {
	n := int(d / time.Second)
	if n <= 0 || n > maxBuckets {
		n = maxBuckets
	}
	return window{size: n}
}

// advance rotates the head to sec, zeroing every bucket skipped over.
func (w *window) advance(sec int64) {
	if w.headSec == 0 {
		w.headSec = sec
		return
	}
	gap := sec - w.headSec
	if gap <= 0 {
		return
	}
	for i := range min(int(gap), w.size) {
		w.buckets[(w.head+1+i)%w.size] = bucket{}
	}
	w.head = (w.head + int(gap%int64(w.size))) % w.size
	w.headSec = sec
}

func (w *window) record(weight float64, now time.Time) {
	w.advance(now.Unix())
	w.buckets[w.head].total++
	w.buckets[w.head].errors += weight
}

func (w *window) rate(now time.Time) (float64, int) {
	w.advance(now.Unix())
	var errs float64
	var total int
	for i := range w.size {
		errs += w.buckets[i].errors
		total += w.buckets[i].total
	}
	if total == 0 {
		return 0, 0
	}
	return errs / float64(total), total
}

func (w *window) reset() {
	*w = window{size: w.size}
}

// Breaker is the state machine guarding one upstream source.
type Breaker struct {
	mu       sync.Mutex
	clock    fastpass.Clock
	cfg      Config
	state    State
	win      window
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(clock fastpass.Clock, cfg Config) *Breaker {
	return &Breaker{clock: clock, cfg: cfg, win: newWindow(cfg.Window)}
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. Once the open timeout passes,
// exactly one caller is let through as the probe.
func (b *Breaker) Allow() bool {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) < b.cfg.OpenTimeout {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Record feeds a call outcome into the breaker. Errors are weighted with
// Weight; zero-weight errors count as successes.
func (b *Breaker) Record(err error) {
	weight := Weight(err)
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.win.record(weight, now)

	if weight == 0 {
		if b.state == StateHalfOpen {
			b.state = StateClosed
			b.probing = false
			b.win.reset()
		}
		return
	}

	switch b.state {
	case StateClosed:
		rate, samples := b.win.rate(now)
		if samples >= b.cfg.MinSamples && rate >= b.cfg.ErrorThreshold {
			b.state = StateOpen
			b.openedAt = now
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.probing = false
	}
}
