// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package alarm_test

import (
	"testing"
	"time"

	"github.com/creachadair/chaincall/alarm"
)

func TestTimers(t *testing.T) {
	s := alarm.NewTimers()

	t.Run("Fires", func(t *testing.T) {
		done := make(chan struct{})
		s.Schedule(time.Now().Add(5*time.Millisecond), func() { close(done) })
		select {
		case <-done:
			// ok
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for alarm")
		}
	})

	t.Run("PastDeadlineFires", func(t *testing.T) {
		done := make(chan struct{})
		s.Schedule(time.Now().Add(-time.Minute), func() { close(done) })
		select {
		case <-done:
			// ok
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for alarm")
		}
	})

	t.Run("Cancel", func(t *testing.T) {
		h := s.Schedule(time.Now().Add(time.Hour), func() {
			t.Error("Cancelled alarm fired")
		})
		if !h.Cancel() {
			t.Error("Cancel: got false, want true")
		}
		if h.Cancel() {
			t.Error("Second cancel: got true, want false")
		}
	})
}

func TestFake(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f := alarm.NewFake(base)

	var fired []string
	f.Schedule(base.Add(10*time.Second), func() { fired = append(fired, "b") })
	f.Schedule(base.Add(5*time.Second), func() { fired = append(fired, "a") })
	hc := f.Schedule(base.Add(7*time.Second), func() { fired = append(fired, "c") })

	f.Advance(3 * time.Second)
	if len(fired) != 0 {
		t.Errorf("After 3s: fired %v, want none", fired)
	}
	if got := f.Now(); !got.Equal(base.Add(3 * time.Second)) {
		t.Errorf("Now: got %v", got)
	}

	if !hc.Cancel() {
		t.Error("Cancel pending alarm: got false, want true")
	}

	// Both remaining alarms come due here, and must fire in deadline
	// order regardless of scheduling order.
	f.Advance(7 * time.Second)
	if got, want := len(fired), 2; got != want {
		t.Fatalf("After 10s: fired %d alarms, want %d", got, want)
	}
	if fired[0] != "a" || fired[1] != "b" {
		t.Errorf("Firing order: got %v, want [a b]", fired)
	}

	if hc.Cancel() {
		t.Error("Cancel after advance: got true, want false")
	}

	f.Advance(time.Hour)
	if len(fired) != 2 {
		t.Errorf("After advance past all: fired %v", fired)
	}
}
