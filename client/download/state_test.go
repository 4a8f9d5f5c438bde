package download

import "testing"

func TestState_Transitions(t *testing.T) {
	testCases := []struct {
		from, to State
		ok       bool
	}{
		{StateCreated, StateProbing, true},
		{StateProbing, StateResuming, true},
		{StateProbing, StateRestarting, true},
		{StateResuming, StateTransferring, true},
		{StateRestarting, StateTransferring, true},
		{StateTransferring, StateVerifying, true},
		{StateVerifying, StateFinalizing, true},
		{StateFinalizing, StateSucceeded, true},

		{StateCreated, StateFailed, true},
		{StateProbing, StateFailed, true},
		{StateVerifying, StateFailed, true},
		{StateFinalizing, StateFailed, true},
		{StateTransferring, StateCancelled, true},

		{StateCreated, StateTransferring, false},
		{StateProbing, StateCancelled, false},
		{StateVerifying, StateCancelled, false},
		{StateTransferring, StateProbing, false},
		{StateSucceeded, StateFailed, false},
		{StateFailed, StateFailed, false},
		{StateCancelled, StateSucceeded, false},
	}

	for _, tc := range testCases {
		if got := tc.from.canTransition(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: got %t, want %t", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestState_String(t *testing.T) {
	if got := StateTransferring.String(); got != "transferring" {
		t.Errorf("got %q", got)
	}
	if got := State(42).String(); got != "state(42)" {
		t.Errorf("got %q", got)
	}
}

func TestTask_IllegalTransitionPanics(t *testing.T) {
	task := newTask("id", nil)

	defer func() {
		if recover() == nil {
			t.Error("expected panic for an illegal transition")
		}
	}()

	task.enter(StateFinalizing)
}
