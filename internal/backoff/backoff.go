// Package backoff decides when a failed outbound address is eligible for
// another dial attempt. It wraps github.com/cenkalti/backoff/v4's
// exponential backoff, generalizing the teacher's hand-rolled
// nextBackoffDuration (daemon/connman.go, per-node-id failure counter)
// into the same policy keyed by address, backed by the ecosystem's
// standard implementation of base/multiplier/jitter/cap instead of a
// bespoke loop.
package backoff

import (
	"sync"
	"time"

	extbackoff "github.com/cenkalti/backoff/v4"
)

// Policy tracks one exponential backoff state per key and the time at
// which that key next becomes eligible for a retry.
type Policy struct {
	mu       sync.Mutex
	base     time.Duration
	max      time.Duration
	states   map[string]*extbackoff.ExponentialBackOff
	nextTry  map[string]time.Time
	nowFn    func() time.Time
}

// New returns a policy whose first failure waits base and whose delay
// never exceeds max.
func New(base, max time.Duration) *Policy {
	if base <= 0 {
		base = 2 * time.Second
	}
	if max <= 0 {
		max = 300 * time.Second
	}
	return &Policy{
		base:    base,
		max:     max,
		states:  make(map[string]*extbackoff.ExponentialBackOff),
		nextTry: make(map[string]time.Time),
		nowFn:   time.Now,
	}
}

func (p *Policy) newState() *extbackoff.ExponentialBackOff {
	b := extbackoff.NewExponentialBackOff()
	b.InitialInterval = p.base
	b.MaxInterval = p.max
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Fail records a failed attempt for key and returns the delay before the
// next attempt is due. The delay grows geometrically up to the policy's
// cap.
func (p *Policy) Fail(key string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[key]
	if !ok {
		st = p.newState()
		p.states[key] = st
	}
	d := st.NextBackOff()
	if d == extbackoff.Stop || d > p.max {
		d = p.max
	}
	p.nextTry[key] = p.nowFn().Add(d)
	return d
}

// Succeed clears any backoff state for key: the next failure starts from
// the base delay again.
func (p *Policy) Succeed(key string) {
	p.mu.Lock()
	delete(p.states, key)
	delete(p.nextTry, key)
	p.mu.Unlock()
}

// Ready reports whether key is currently eligible for a dial attempt:
// either it has never failed, or its backoff window has elapsed.
func (p *Policy) Ready(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	until, ok := p.nextTry[key]
	if !ok {
		return true
	}
	return !p.nowFn().Before(until)
}
