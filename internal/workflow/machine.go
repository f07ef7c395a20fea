package workflow

import "fmt"

// OwnerEffect describes how a transition changes the current owner.
type OwnerEffect int

const (
	// OwnerUnchanged keeps the current owner.
	OwnerUnchanged OwnerEffect = iota
	// OwnerTarget moves ownership to the action's target role.
	OwnerTarget
	// OwnerPrior moves ownership back to the previous holder.
	OwnerPrior
)

// Outcome is the result of applying an action to a state.
type Outcome struct {
	To    State
	Owner OwnerEffect
	// RestorePrior is set when To must be replaced by the state held before
	// the current red flag.
	RestorePrior bool
}

type rule struct {
	from  []State
	to    State
	owner OwnerEffect
}

var rules = map[Kind]rule{
	KindSubmit: {
		from: []State{StateDraft},
		to:   StateSubmitted,
	},
	KindStartReview: {
		from: []State{StateSubmitted, StateForwarded, StateReturned},
		to:   StateUnderReview,
	},
	KindForward: {
		from:  []State{StateSubmitted, StateUnderReview, StateForwarded, StateReturned},
		to:    StateForwarded,
		owner: OwnerTarget,
	},
	KindReturn: {
		from:  []State{StateUnderReview, StateForwarded},
		to:    StateReturned,
		owner: OwnerPrior,
	},
	KindApprove: {
		from: []State{StateForwarded, StateUnderReview},
		to:   StateDisposedApproved,
	},
	KindReject: {
		from: []State{StateForwarded, StateUnderReview, StateRedFlagged},
		to:   StateDisposedRejected,
	},
	KindDispose: {
		from: []State{StateDisposedApproved, StateDisposedRejected},
		to:   StateFinalDisposal,
	},
}

// Next returns the outcome of applying action in state from.
func Next(from State, action Action) (Outcome, error) {
	switch action.Kind {
	case KindRedFlag:
		if from.IsTerminal() {
			return Outcome{}, invalid(from, action)
		}
		if from == StateRedFlagged {
			return Outcome{To: from, RestorePrior: true}, nil
		}
		return Outcome{To: StateRedFlagged}, nil
	case KindClearFlag:
		if from != StateRedFlagged {
			return Outcome{}, invalid(from, action)
		}
		return Outcome{To: from, RestorePrior: true}, nil
	}
	r, ok := rules[action.Kind]
	if !ok {
		return Outcome{}, invalid(from, action)
	}
	for _, s := range r.from {
		if s == from {
			return Outcome{To: r.to, Owner: r.owner}, nil
		}
	}
	return Outcome{}, invalid(from, action)
}

// Allowed reports whether action is legal in state from.
func Allowed(from State, action Action) bool {
	_, err := Next(from, action)
	return err == nil
}

func invalid(from State, action Action) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action.Code, from)
}
