// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFakeNow(t *testing.T) {
	fake := Fake(testEpoch)
	if got := fake.Now(); !got.Equal(testEpoch) {
		t.Errorf("Now() = %v, want %v", got, testEpoch)
	}
	fake.Advance(90 * time.Second)
	if got := fake.Now(); !got.Equal(testEpoch.Add(90 * time.Second)) {
		t.Errorf("Now() after Advance = %v, want %v", got, testEpoch.Add(90*time.Second))
	}
}

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	fake := Fake(testEpoch)
	ch := fake.After(time.Minute)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	fake.Advance(time.Minute)

	select {
	case fired := <-ch:
		if !fired.Equal(testEpoch.Add(time.Minute)) {
			t.Errorf("fired at %v, want %v", fired, testEpoch.Add(time.Minute))
		}
	default:
		t.Fatal("After did not fire after Advance")
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	fake := Fake(testEpoch)
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeTicker(t *testing.T) {
	fake := Fake(testEpoch)
	ticker := fake.NewTicker(10 * time.Second)
	defer ticker.Stop()

	// Advancing by three intervals with a capacity-1 channel delivers
	// at least the first tick; later ticks are dropped if undrained.
	fake.Advance(10 * time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire on first interval")
	}

	fake.Advance(10 * time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire on second interval")
	}
}

func TestFakeTickerStop(t *testing.T) {
	fake := Fake(testEpoch)
	ticker := fake.NewTicker(time.Second)
	ticker.Stop()
	fake.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeSleepUnblocksOnAdvance(t *testing.T) {
	fake := Fake(testEpoch)
	done := make(chan struct{})
	go func() {
		fake.Sleep(time.Hour)
		close(done)
	}()

	fake.BlockUntil(1)
	fake.Advance(time.Hour)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}

func TestFakeMultipleWaitersFireInOrder(t *testing.T) {
	fake := Fake(testEpoch)
	first := fake.After(time.Second)
	second := fake.After(2 * time.Second)

	fake.Advance(3 * time.Second)

	firstTime := <-first
	secondTime := <-second
	if !firstTime.Before(secondTime) {
		t.Errorf("waiters fired out of order: %v then %v", firstTime, secondTime)
	}
}
