// Package clock isolates wall-clock time and id allocation so the
// tracking engine's deterministic tests never depend on real time.
package clock

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Clock provides the current time and a strictly increasing monotonic
// counter, plus id allocation for ETASample, Advisory, and Reroute.
type Clock interface {
	Now() time.Time
	Monotonic() int64
	NewID() uuid.UUID
}

// System is the production Clock backed by the real wall clock.
type System struct {
	counter int64
}

// NewSystem creates a System clock.
func NewSystem() *System {
	return &System{}
}

// Now returns the current UTC instant.
func (c *System) Now() time.Time {
	return time.Now().UTC()
}

// Monotonic returns a strictly increasing value derived from an atomic
// counter, safe for concurrent callers.
func (c *System) Monotonic() int64 {
	return atomic.AddInt64(&c.counter, 1)
}

// NewID allocates a new random identifier.
func (c *System) NewID() uuid.UUID {
	return uuid.New()
}

// Fake is a settable Clock for deterministic tests.
type Fake struct {
	now     time.Time
	counter int64
	nextID  []uuid.UUID
}

// NewFake creates a Fake clock starting at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake clock's current instant.
func (f *Fake) Now() time.Time {
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.now = t
}

// Monotonic returns a strictly increasing counter value.
func (f *Fake) Monotonic() int64 {
	f.counter++
	return f.counter
}

// SetNextIDs queues deterministic ids for successive NewID calls; once
// exhausted, NewID falls back to random generation.
func (f *Fake) SetNextIDs(ids ...uuid.UUID) {
	f.nextID = append(f.nextID, ids...)
}

// NewID returns the next queued id, or a random one if none are queued.
func (f *Fake) NewID() uuid.UUID {
	if len(f.nextID) == 0 {
		return uuid.New()
	}
	id := f.nextID[0]
	f.nextID = f.nextID[1:]
	return id
}
