// Package models provides data structures and state management for trading positions.
package models

import "fmt"

// PositionState represents the lifecycle state of a position.
type PositionState string

const (
	// StateOpen means the condor is live and being managed
	StateOpen PositionState = "open"
	// StateClosed means the position was exited explicitly before expiration
	StateClosed PositionState = "closed"
	// StateExpired means the position was held through expiration and settled
	// at intrinsic value
	StateExpired PositionState = "expired"
	// StateStopped means a risk-triggered exit closed the position
	StateStopped PositionState = "stopped"
)

// Transition conditions. Each terminal transition records why it happened.
const (
	// ConditionExitFilled marks a profit-target or discretionary close fill
	ConditionExitFilled = "exit_filled"
	// ConditionManualClose marks a close detected at the broker but not
	// initiated by the bot
	ConditionManualClose = "manual_close"
	// ConditionHeldToExpiration marks settlement at expiration
	ConditionHeldToExpiration = "held_to_expiration"
	// ConditionStopTriggered marks a stop-loss exit
	ConditionStopTriggered = "stop_triggered"
)

// StateTransition defines a valid lifecycle transition.
type StateTransition struct {
	From      PositionState
	To        PositionState
	Condition string
}

// ValidTransitions enumerates every legal lifecycle move. All transitions are
// one-way; no position re-opens.
var ValidTransitions = []StateTransition{
	{StateOpen, StateClosed, ConditionExitFilled},
	{StateOpen, StateClosed, ConditionManualClose},
	{StateOpen, StateExpired, ConditionHeldToExpiration},
	{StateOpen, StateStopped, ConditionStopTriggered},
}

// IsTerminal reports whether a state admits no further transitions.
func (s PositionState) IsTerminal() bool {
	return s == StateClosed || s == StateExpired || s == StateStopped
}

// Valid reports whether s is one of the defined lifecycle states.
func (s PositionState) Valid() bool {
	switch s {
	case StateOpen, StateClosed, StateExpired, StateStopped:
		return true
	default:
		return false
	}
}

// ValidateTransition checks that from -> to under condition is a defined
// lifecycle move.
func ValidateTransition(from, to PositionState, condition string) error {
	if from.IsTerminal() {
		return fmt.Errorf("position in terminal state %s cannot transition to %s", from, to)
	}
	for _, tr := range ValidTransitions {
		if tr.From == from && tr.To == to && tr.Condition == condition {
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s with condition %q", from, to, condition)
}
