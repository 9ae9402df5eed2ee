// Package escalation drives a unit of work through the retry and escalation
// states of one stage until every item is resolved or both model tiers have
// failed.
package escalation

// State is a controller state.
type State string

const (
	StatePrimary           State = "ATTEMPT_PRIMARY"
	StatePrimarySimplified State = "ATTEMPT_PRIMARY_SIMPLIFIED"
	StateSplitBatch        State = "ATTEMPT_SPLIT_BATCH"
	StateIndividual        State = "ATTEMPT_INDIVIDUAL"
	StateEscalated         State = "ATTEMPT_ESCALATED_MODEL"
	StateSucceeded         State = "SUCCEEDED"
	StateFailedBothTiers   State = "FAILED_BOTH_TIERS"
)

// transitions is the fixed failure path. Any state moves to StateSucceeded
// once no items remain.
var transitions = map[State]State{
	StatePrimary:           StatePrimarySimplified,
	StatePrimarySimplified: StateSplitBatch,
	StateSplitBatch:        StateIndividual,
	StateIndividual:        StateEscalated,
	StateEscalated:         StateFailedBothTiers,
}

// Next returns the state that follows s on failure.
func (s State) Next() State {
	if n, ok := transitions[s]; ok {
		return n
	}
	return s
}

// Terminal reports whether s ends the unit.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailedBothTiers
}

// Simplified reports whether attempts in s use the simplified prompt.
func (s State) Simplified() bool {
	return s != StatePrimary
}
