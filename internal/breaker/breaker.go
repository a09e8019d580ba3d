// Package breaker trips after consecutive remote failures so a down remote
// store is probed once per window instead of being hammered by every worker.
package breaker

import (
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type MicroBreaker struct {
	mu               sync.Mutex
	st               State
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool

	now func() time.Time
}

// New returns a breaker that opens after threshold consecutive failures and
// lets one probe through after openFor. threshold <= 0 disables tripping.
func New(threshold int, openFor time.Duration) *MicroBreaker {
	return &MicroBreaker{failThreshold: threshold, openFor: openFor, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (b *MicroBreaker) WithClock(now func() time.Time) *MicroBreaker {
	b.now = now
	return b
}

func (b *MicroBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st
}

// Ready reports whether a call would currently be admitted, without taking
// the half-open probe slot.
func (b *MicroBreaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.st {
	case Open:
		return b.now().After(b.nextTryAt) && !b.probeInFlight
	case HalfOpen:
		return !b.probeInFlight
	default:
		return true
	}
}

// TryAcquire admits a call. Every admitted call must be followed by exactly
// one of OnSuccess, OnFailure or Release.
func (b *MicroBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case Open:
		if b.now().After(b.nextTryAt) && !b.probeInFlight {
			b.st = HalfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case HalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *MicroBreaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = Closed
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *MicroBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == HalfOpen {
		b.st = Open
		b.nextTryAt = b.now().Add(b.openFor)
		b.probeInFlight = false
		return
	}

	b.consecutiveFails++
	if b.failThreshold > 0 && b.consecutiveFails >= b.failThreshold {
		b.st = Open
		b.nextTryAt = b.now().Add(b.openFor)
	}
}

// Release gives back an admitted slot without counting an outcome, e.g. when
// the caller itself cancelled the call.
func (b *MicroBreaker) Release() {
	b.mu.Lock()
	if b.st == HalfOpen {
		b.st = Open
	}
	b.probeInFlight = false
	b.mu.Unlock()
}
