// Package clock provides the monotonic "now" source and the job
// scheduler. A single clock is shared by ingestion, the scheduler, and
// the risk engine so paper, live and tests all agree on time.
package clock

import "time"

// Clock is the shared time source.
type Clock interface {
	Now() time.Time
}

// Real wraps time.Now().
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fake is a manually-advanced clock for tests.
type Fake struct {
	t time.Time
}

func NewFake(t time.Time) *Fake { return &Fake{t: t} }

func (f *Fake) Now() time.Time { return f.t }

func (f *Fake) Advance(d time.Duration) { f.t = f.t.Add(d) }

func (f *Fake) Set(t time.Time) { f.t = t }
