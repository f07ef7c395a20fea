// Package transitions stores the append-only history of routing actions.
package transitions

import (
	"errors"
	"time"

	"github.com/armslicense/armslicense/internal/workflow"
)

var (
	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errors.New("transitions: record not found")
	// ErrDuplicateRequestKey is returned when a request key was already recorded.
	ErrDuplicateRequestKey = errors.New("transitions: duplicate request key")
)

// Record captures one successful routing action. Records are never updated.
type Record struct {
	ID            int64          `json:"id"`
	ApplicationID int64          `json:"application_id"`
	Seq           int            `json:"seq"`
	FromRole      string         `json:"from_role"`
	ToRole        string         `json:"to_role"`
	ToUserID      *int64         `json:"to_user_id,omitempty"`
	FromState     workflow.State `json:"from_state"`
	ToState       workflow.State `json:"to_state"`
	ActorUserID   int64          `json:"actor_user_id"`
	ActorRole     string         `json:"actor_role"`
	Action        string         `json:"action"`
	Remarks       string         `json:"remarks,omitempty"`
	RequestKey    string         `json:"request_key,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// IsForward reports whether the record moved a case through a forward action.
func (r Record) IsForward() bool {
	a, err := workflow.ParseAction(r.Action)
	return err == nil && a.Kind == workflow.KindForward
}

// OpensFlag reports whether the record raised a red flag.
func (r Record) OpensFlag() bool {
	return r.ToState == workflow.StateRedFlagged && r.FromState != workflow.StateRedFlagged
}
