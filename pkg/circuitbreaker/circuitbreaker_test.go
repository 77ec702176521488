package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	apperrors "acqbridge/pkg/errors"
)

var (
	errTestError = errors.New("test error")
	errIgnored   = errors.New("ignored")
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := New("runs", Config{
		FailureThreshold: threshold,
		SuccessThreshold: 2,
		Cooldown:         time.Second,
		MaxProbes:        1,
	})
	b.now = clock.now
	return b, clock
}

func fail() error    { return errTestError }
func succeed() error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(2)

	if err := b.Do(fail); err != errTestError {
		t.Fatalf("expected the call's own error, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after one failure, got %v", b.State())
	}
	b.Do(fail)
	if b.State() != StateOpen {
		t.Fatalf("expected open after two failures, got %v", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if called {
		t.Error("open breaker must not run the call")
	}
	if !apperrors.HasCode(err, apperrors.ErrCodeUnavailable) {
		t.Errorf("expected unavailable error, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(2)

	b.Do(fail)
	b.Do(succeed)
	b.Do(fail)
	if b.State() != StateClosed {
		t.Errorf("non-consecutive failures must not open the breaker, got %v", b.State())
	}
}

func TestBreaker_HalfOpenClosesAfterProbes(t *testing.T) {
	b, clock := newTestBreaker(1)
	b.Do(fail)

	clock.advance(2 * time.Second)
	if err := b.Do(succeed); err != nil {
		t.Fatalf("probe should pass after cooldown: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open after one probe, got %v", b.State())
	}
	b.Do(succeed)
	if b.State() != StateClosed {
		t.Errorf("expected closed after two probes, got %v", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1)
	b.Do(fail)

	clock.advance(2 * time.Second)
	b.Do(fail)
	if b.State() != StateOpen {
		t.Fatalf("expected open after failed probe, got %v", b.State())
	}
	if err := b.Do(succeed); !apperrors.HasCode(err, apperrors.ErrCodeUnavailable) {
		t.Errorf("cooldown restarts on reopen, got %v", err)
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	b, clock := newTestBreaker(1)
	b.Do(fail)
	clock.advance(2 * time.Second)

	err := b.Do(func() error {
		// a second caller while the probe is in flight
		return b.Do(succeed)
	})
	if !apperrors.HasCode(err, apperrors.ErrCodeUnavailable) {
		t.Errorf("expected concurrent probe to be rejected, got %v", err)
	}
}

func TestBreaker_IsFailureFilter(t *testing.T) {
	b := New("runs", Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return err != errIgnored },
	})

	if err := b.Do(func() error { return errIgnored }); err != errIgnored {
		t.Fatalf("expected errIgnored, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("filtered error must not count, got %v", b.State())
	}
}

func TestCall_ReturnsValue(t *testing.T) {
	b, _ := newTestBreaker(1)

	v, err := Call(b, func() (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Fatalf("expected 42, got %d (%v)", v, err)
	}

	b.Do(fail)
	v, err = Call(b, func() (int, error) { return 7, nil })
	if err == nil || v != 0 {
		t.Errorf("expected rejection with zero value, got %d (%v)", v, err)
	}
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	b, clock := newTestBreaker(1)

	var transitions []string
	b.OnStateChange(func(name string, from, to State) {
		transitions = append(transitions, name+":"+from.String()+"->"+to.String())
	})

	b.Do(fail)
	clock.advance(2 * time.Second)
	b.Do(succeed)
	b.Do(succeed)
	b.Do(fail)
	b.Reset()

	want := []string{
		"runs:closed->open",
		"runs:open->half-open",
		"runs:half-open->closed",
		"runs:closed->open",
		"runs:open->closed",
	}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("expected %s, got %s", want, s.String())
		}
	}
}
