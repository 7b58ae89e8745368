// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package alarm defines the timeout scheduling contract used by the call
// coordinator: run a callback no earlier than a given time, cancellable
// by an opaque handle.
//
// The in-process Timers implementation satisfies the contract for a
// single process lifetime; surviving a restart is the coordinator's job,
// which re-schedules alarms from its persistent pending records on
// recovery.
package alarm

import (
	"sort"
	"sync"
	"time"
)

// A Handle cancels a scheduled callback.
type Handle interface {
	// Cancel stops the callback if it has not already fired, and reports
	// whether it did so.
	Cancel() bool
}

// A Scheduler schedules callbacks for future execution.
type Scheduler interface {
	// Schedule arranges for f to run no earlier than at. A time in the
	// past schedules f to run immediately. The callback runs on an
	// unspecified goroutine.
	Schedule(at time.Time, f func()) Handle
}

// Timers is a Scheduler backed by the runtime timer heap.
type Timers struct{}

// NewTimers constructs a timer-backed scheduler.
func NewTimers() Timers { return Timers{} }

// Schedule implements a method of the [Scheduler] interface.
func (Timers) Schedule(at time.Time, f func()) Handle {
	return timerHandle{t: time.AfterFunc(time.Until(at), f)}
}

type timerHandle struct{ t *time.Timer }

func (h timerHandle) Cancel() bool { return h.t.Stop() }

// A Fake is a manually advanced Scheduler for deterministic tests.
// Callbacks fire synchronously inside Advance, in deadline order.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeAlarm
}

type fakeAlarm struct {
	f  *Fake
	at time.Time
	fn func()
}

// NewFake constructs a fake scheduler whose clock starts at now.
func NewFake(now time.Time) *Fake { return &Fake{now: now} }

// Now reports the fake clock's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Schedule implements a method of the [Scheduler] interface.
func (f *Fake) Schedule(at time.Time, fn func()) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &fakeAlarm{f: f, at: at, fn: fn}
	f.pending = append(f.pending, a)
	return a
}

// Cancel implements a method of the [Handle] interface.
func (a *fakeAlarm) Cancel() bool {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	for i, p := range a.f.pending {
		if p == a {
			a.f.pending = append(a.f.pending[:i], a.f.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Advance moves the clock forward by d, firing all alarms whose deadlines
// were reached, in deadline order. It returns after every fired callback
// has completed.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	var due []*fakeAlarm
	var rest []*fakeAlarm
	for _, a := range f.pending {
		if !a.at.After(f.now) {
			due = append(due, a)
		} else {
			rest = append(rest, a)
		}
	}
	f.pending = rest
	f.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, a := range due {
		a.fn()
	}
}
