package redis

import (
	"errors"
	"testing"
	"time"
)

var errWrite = errors.New("redis write failed")

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Execute(func() error { return errWrite })
	}
}

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)
	if got := cb.CurrentState(); got != StateClosed {
		t.Errorf("initial state = %v, want closed", got)
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("closed breaker returned %v", err)
	}
}

func TestCircuitBreakerTripsOnFailureStreak(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)

	trip(cb, 2)
	if got := cb.CurrentState(); got != StateClosed {
		t.Fatalf("state after 2 failures = %v, want closed", got)
	}

	trip(cb, 1)
	if got := cb.CurrentState(); got != StateOpen {
		t.Fatalf("state after 3 failures = %v, want open", got)
	}

	// Open breaker fails fast without calling the write.
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("open breaker returned %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("open breaker still invoked the write")
	}
}

func TestCircuitBreakerProbeClosesOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(2, 30*time.Millisecond)
	trip(cb, 2)

	time.Sleep(40 * time.Millisecond)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe returned %v", err)
	}
	if got := cb.CurrentState(); got != StateClosed {
		t.Errorf("state after successful probe = %v, want closed", got)
	}
}

func TestCircuitBreakerProbeReopensOnFailure(t *testing.T) {
	cb := NewCircuitBreaker(2, 30*time.Millisecond)
	trip(cb, 2)

	time.Sleep(40 * time.Millisecond)
	trip(cb, 1)

	if got := cb.CurrentState(); got != StateOpen {
		t.Errorf("state after failed probe = %v, want open", got)
	}
}

func TestCircuitBreakerSuccessResetsStreak(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)

	trip(cb, 2)
	cb.Execute(func() error { return nil })
	trip(cb, 2)

	if got := cb.CurrentState(); got != StateClosed {
		t.Errorf("state = %v, want closed after streak was broken", got)
	}
}

func TestCircuitBreakerStateChangeCallback(t *testing.T) {
	var got []State
	cb := NewCircuitBreaker(1, 30*time.Millisecond)
	cb.OnStateChange = func(from, to State) { got = append(got, to) }

	trip(cb, 1)
	time.Sleep(40 * time.Millisecond)
	cb.Execute(func() error { return nil })

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
}
