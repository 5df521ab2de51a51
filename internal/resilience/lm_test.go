package resilience

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/MrWong99/ctcdecode/pkg/lm/mock"
)

func TestLanguageModel_PassesThrough(t *testing.T) {
	inner := &mock.Model{Scores: map[string]float64{"cat": -1.5}, EOS: -0.5}
	l := NewLanguageModel(inner, CircuitBreakerConfig{})

	if l.Breaker().Name() != "language_model" {
		t.Errorf("default breaker name = %q", l.Breaker().Name())
	}
	start := l.Start()
	if !reflect.TypeOf(start).Comparable() {
		t.Fatal("state type is not comparable")
	}
	st, lp, err := l.Score(start, "cat")
	if err != nil || lp != -1.5 {
		t.Fatalf("Score = %v, %v", lp, err)
	}
	if eos, err := l.Finish(st); err != nil || eos != -0.5 {
		t.Fatalf("Finish = %v, %v", eos, err)
	}
	if got := inner.Words(); len(got) != 1 || got[0] != "cat" {
		t.Errorf("inner scored %v", got)
	}
}

func TestLanguageModel_OpensAndFailsFast(t *testing.T) {
	boom := errors.New("boom")
	inner := &mock.Model{ScoreErr: boom}
	l := NewLanguageModel(inner, CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	for range 2 {
		if _, _, err := l.Score(l.Start(), "x"); !errors.Is(err, boom) {
			t.Fatalf("err = %v, want boom", err)
		}
	}
	if l.Breaker().State() != StateOpen {
		t.Fatalf("state = %v, want open", l.Breaker().State())
	}

	_, _, err := l.Score(l.Start(), "x")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if _, err := l.Finish(l.Start()); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Finish err = %v, want ErrCircuitOpen", err)
	}
	if got := len(inner.Words()); got != 2 {
		t.Errorf("inner called %d times, want 2", got)
	}
}
