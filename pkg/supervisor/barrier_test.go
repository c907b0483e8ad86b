package supervisor

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestBarrierReleasesAllAtQuota(t *testing.T) {
	b := NewBarrier(3)

	var released atomic.Int32
	done := make(chan struct{}, 3)

	for i := 0; i < 3; i++ {
		go func() {
			b.Await()
			released.Add(1)
			done <- struct{}{}
		}()
	}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("waiter not released after quota reached")
		}
	}

	if got := released.Load(); got != 3 {
		t.Errorf("expected 3 released waiters, got %d", got)
	}
}

func TestBarrierHoldsBelowQuota(t *testing.T) {
	b := NewBarrier(3)

	released := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			b.Await()
			released <- struct{}{}
		}()
	}

	// Only 2 of 3 arrivals: nobody may pass.
	select {
	case <-released:
		t.Fatal("waiter released before quota reached")
	case <-time.After(200 * time.Millisecond):
	}

	// Third arrival releases everyone, including the late arriver itself.
	go func() {
		b.Await()
		released <- struct{}{}
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-released:
		case <-time.After(time.Second):
			t.Fatal("waiter not released after third arrival")
		}
	}
}

func TestBarrierQuotaOne(t *testing.T) {
	b := NewBarrier(1)

	done := make(chan struct{})
	go func() {
		b.Await()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("single-party barrier did not release")
	}
}

func TestBarrierInvalidQuotaPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for quota 0")
		}
	}()
	NewBarrier(0)
}
