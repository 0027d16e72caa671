package redirect

import (
	"sync"
	"time"

	"github.com/itskum47/FleetForge/control_plane/observability"
)

// CircuitState represents the state of a node breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitHalfOpen                     // One probe in flight
	CircuitOpen                         // Short-circuiting forwards
)

func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half_open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Breaker stops forwarding to a node after repeated transport failures.
// Open breakers fail fast with ErrUnreachable until the cooldown passes, then a
// single probe decides whether to close again.
type Breaker struct {
	node string
	mu   sync.Mutex

	// Configuration
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	// State tracking
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed breaker for node.
func NewBreaker(node string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	b := &Breaker{
		node:      node,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
	b.publish()
	return b
}

// Allow reports whether a forward may be attempted now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Open -> HalfOpen once the cooldown elapsed
	if b.state == CircuitOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = CircuitHalfOpen
		b.probing = false
		b.publish()
	}

	switch b.state {
	case CircuitClosed:
		return true
	case CircuitHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// RecordSuccess closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	if b.state != CircuitClosed {
		b.state = CircuitClosed
		b.publish()
	}
}

// RecordFailure counts a transport failure. A failed probe re-opens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if b.state == CircuitHalfOpen {
		b.trip()
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.trip()
	}
}

// Abandon gives back a permit whose call ended without saying anything about the
// node, such as a caller cancellation. An abandoned probe returns the breaker to
// open with its original openedAt, so the next Allow may probe again.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitHalfOpen && b.probing {
		b.state = CircuitOpen
		b.publish()
	}
	b.probing = false
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) trip() {
	b.state = CircuitOpen
	b.openedAt = b.now()
	b.failures = 0
	b.publish()
}

func (b *Breaker) publish() {
	observability.BreakerState.WithLabelValues(b.node).Set(float64(b.state))
}
