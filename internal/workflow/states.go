// Package workflow holds the application lifecycle state machine.
package workflow

import (
	"errors"
	"strings"

	"github.com/armslicense/armslicense/internal/catalog"
)

// ErrInvalidTransition is returned when an action is not legal from a state.
var ErrInvalidTransition = errors.New("workflow: invalid transition")

// State is a lifecycle state of an application.
type State string

const (
	StateDraft            State = "DRAFT"
	StateSubmitted        State = "SUBMITTED"
	StateUnderReview      State = "UNDER_REVIEW"
	StateForwarded        State = "FORWARDED"
	StateReturned         State = "RETURNED"
	StateRedFlagged       State = "RED_FLAGGED"
	StateDisposedApproved State = "DISPOSED_APPROVED"
	StateDisposedRejected State = "DISPOSED_REJECTED"
	StateFinalDisposal    State = "FINAL_DISPOSAL"
)

// States lists every lifecycle state in display order.
func States() []State {
	return []State{
		StateDraft,
		StateSubmitted,
		StateUnderReview,
		StateForwarded,
		StateReturned,
		StateRedFlagged,
		StateDisposedApproved,
		StateDisposedRejected,
		StateFinalDisposal,
	}
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, known := range States() {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further review can happen in s.
func (s State) IsTerminal() bool {
	switch s {
	case StateDisposedApproved, StateDisposedRejected, StateFinalDisposal:
		return true
	}
	return false
}

// Kind groups action codes sharing a transition rule.
type Kind string

const (
	KindSubmit      Kind = "SUBMIT"
	KindStartReview Kind = "START_REVIEW"
	KindForward     Kind = "FORWARD"
	KindReturn      Kind = "RETURN"
	KindRedFlag     Kind = "RED_FLAG"
	KindClearFlag   Kind = "CLEAR_RED_FLAG"
	KindApprove     Kind = "APPROVE"
	KindReject      Kind = "REJECT"
	KindDispose     Kind = "DISPOSE"
)

// Action is a parsed action code.
type Action struct {
	Code   string
	Kind   Kind
	Target string
}

// ParseAction resolves an action code such as FORWARD_TO_ACP or RED_FLAG.
func ParseAction(code string) (Action, error) {
	code = catalog.NormalizeCode(code)
	if strings.HasPrefix(code, catalog.ForwardPrefix) {
		target := strings.TrimPrefix(code, catalog.ForwardPrefix)
		if target == "" {
			return Action{}, ErrUnknownAction
		}
		return Action{Code: code, Kind: KindForward, Target: target}, nil
	}
	kind, ok := actionKinds[code]
	if !ok {
		return Action{}, ErrUnknownAction
	}
	return Action{Code: code, Kind: kind}, nil
}

// ForwardAction builds the action that forwards to target.
func ForwardAction(target string) Action {
	target = catalog.NormalizeCode(target)
	return Action{Code: catalog.ForwardPermission(target), Kind: KindForward, Target: target}
}

// ErrUnknownAction indicates an action code outside the catalogue of actions.
var ErrUnknownAction = errors.New("workflow: unknown action")

var actionKinds = map[string]Kind{
	catalog.PermSubmitApplication:  KindSubmit,
	catalog.PermStartReview:        KindStartReview,
	catalog.PermReturnApplication:  KindReturn,
	catalog.PermRedFlag:            KindRedFlag,
	catalog.PermClearRedFlag:       KindClearFlag,
	catalog.PermApproveTA:          KindApprove,
	catalog.PermApproveAI:          KindApprove,
	catalog.PermReject:             KindReject,
	catalog.PermDisposeApplication: KindDispose,
}

// ActionCodes lists the non-forward action codes.
func ActionCodes() []string {
	return []string{
		catalog.PermSubmitApplication,
		catalog.PermStartReview,
		catalog.PermReturnApplication,
		catalog.PermRedFlag,
		catalog.PermClearRedFlag,
		catalog.PermApproveTA,
		catalog.PermApproveAI,
		catalog.PermReject,
		catalog.PermDisposeApplication,
	}
}
