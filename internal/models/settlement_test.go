package models

import (
	"errors"
	"math"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StatePending, StateInitiated, true},
		{StatePending, StateExecuting, false},
		{StateInitiated, StateExecuting, true},
		{StateInitiated, StateFinalized, true},
		{StateExecuting, StateFinalized, true},
		{StateExecuting, StatePending, false},
		{StateDisputed, StateInitiated, true},
		{StateDisputed, StateFailed, true},
		{StateFinalized, StateFailed, false},
		{StateFailed, StatePending, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []State{StateFinalized, StateFailed} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []State{StatePending, StateInitiated, StateExecuting, StateDisputed} {
		if s.Terminal() {
			t.Errorf("expected %s not to be terminal", s)
		}
	}
}

func TestAddAmount(t *testing.T) {
	sum, err := AddAmount(40, 60)
	if err != nil || sum != 100 {
		t.Errorf("AddAmount(40, 60) = %d, %v", sum, err)
	}

	if _, err := AddAmount(math.MaxInt64, 1); !errors.Is(err, ErrAmountOverflow) {
		t.Errorf("expected ErrAmountOverflow, got %v", err)
	}
	if _, err := AddAmount(math.MinInt64, -1); !errors.Is(err, ErrAmountOverflow) {
		t.Errorf("expected ErrAmountOverflow, got %v", err)
	}
}

func TestFullyFundedAndDeadline(t *testing.T) {
	s := &Settlement{TotalAmount: 100, TotalDeposited: 99, CreatedAt: 1000, Timeout: 3600}
	if s.FullyFunded() {
		t.Error("expected not fully funded at 99/100")
	}
	s.TotalDeposited = 100
	if !s.FullyFunded() {
		t.Error("expected fully funded at 100/100")
	}
	if s.RefundDeadline() != 4600 {
		t.Errorf("expected deadline 4600, got %d", s.RefundDeadline())
	}
}
