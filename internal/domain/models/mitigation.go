package models

import "fmt"

// MitigationState tracks how price has revisited a zone.
type MitigationState string

const (
	Untested    MitigationState = "UNTESTED"
	Tested      MitigationState = "TESTED"
	Invalidated MitigationState = "INVALIDATED"
)

var mitigationOrder = map[MitigationState]int{Untested: 0, Tested: 1, Invalidated: 2}

// CanTransition allows only forward single steps: UNTESTED -> TESTED -> INVALIDATED.
func (s MitigationState) CanTransition(to MitigationState) bool {
	from, ok := mitigationOrder[s]
	if !ok {
		return false
	}
	next, ok := mitigationOrder[to]
	return ok && next == from+1
}

// Mitigate moves the event to the given state. Moving to the current state is a no-op.
// A jump from UNTESTED to INVALIDATED passes through TESTED since a close through a
// zone implies price traded inside it.
func (e *PatternEvent) Mitigate(to MitigationState) error {
	if e.Mitigation == "" {
		e.Mitigation = Untested
	}
	if e.Mitigation == to {
		return nil
	}
	if e.Mitigation == Untested && to == Invalidated {
		if err := e.Mitigate(Tested); err != nil {
			return err
		}
	}
	if e.Mitigation == to {
		return nil
	}
	if !e.Mitigation.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Mitigation, to)
	}
	e.Mitigation = to
	e.SetMeta(MetaMitigationState, string(to))
	return nil
}

// InitMitigation puts a fresh zone event in UNTESTED.
func (e *PatternEvent) InitMitigation() {
	e.Mitigation = Untested
	e.SetMeta(MetaMitigationState, string(Untested))
}
