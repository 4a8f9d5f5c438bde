package download

import "fmt"

// State is a stage of the download pipeline.
//
//	Created → Probing → (Resuming | Restarting) → Transferring → Verifying → Finalizing → Succeeded
//
// Failed is reachable from every non-terminal state, Cancelled only from
// Transferring. No state is entered twice.
type State int32

const (
	StateCreated State = iota
	StateProbing
	StateResuming
	StateRestarting
	StateTransferring
	StateVerifying
	StateFinalizing
	StateSucceeded
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StateCreated:      "created",
	StateProbing:      "probing",
	StateResuming:     "resuming",
	StateRestarting:   "restarting",
	StateTransferring: "transferring",
	StateVerifying:    "verifying",
	StateFinalizing:   "finalizing",
	StateSucceeded:    "succeeded",
	StateFailed:       "failed",
	StateCancelled:    "cancelled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int32(s))
	}

	return stateNames[s]
}

// Terminal reports whether s ends the pipeline.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

var transitions = map[State][]State{
	StateCreated:      {StateProbing},
	StateProbing:      {StateResuming, StateRestarting},
	StateResuming:     {StateTransferring},
	StateRestarting:   {StateTransferring},
	StateTransferring: {StateVerifying, StateCancelled},
	StateVerifying:    {StateFinalizing},
	StateFinalizing:   {StateSucceeded},
}

// canTransition reports whether the pipeline may move from s to next.
func (s State) canTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}

	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}
