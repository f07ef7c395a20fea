// Package routing moves applications between roles. It is the only writer of
// an application's state and owner.
package routing

import (
	"context"
	"errors"
	"time"

	"github.com/armslicense/armslicense/internal/assignment"
	"github.com/armslicense/armslicense/internal/transitions"
	"github.com/armslicense/armslicense/internal/workflow"
)

var (
	// ErrPermissionDenied indicates the actor lacks the permission or ownership for an action.
	ErrPermissionDenied = errors.New("routing: permission denied")
	// ErrIllegalHierarchyEdge indicates a forward the hierarchy does not allow.
	ErrIllegalHierarchyEdge = errors.New("routing: illegal hierarchy edge")
	// ErrConcurrentModification indicates another actor moved the case first.
	ErrConcurrentModification = errors.New("routing: concurrent modification")
	// ErrInvalidRequest indicates a malformed routing request.
	ErrInvalidRequest = errors.New("routing: invalid request")
)

// Request asks the engine to apply one action to one application. Action is
// either a full code such as FORWARD_TO_ACP, or FORWARD together with
// TargetRole.
type Request struct {
	ApplicationID int64
	ActorRole     string
	ActorUserID   int64
	Action        string
	TargetRole    string
	Remarks       string
	RequestKey    string
}

// Actor identifies who is looking at or acting on a case.
type Actor struct {
	UserID int64
	Role   string
}

// AvailableAction is an action the actor may currently take on a case.
type AvailableAction struct {
	Code       string `json:"code"`
	TargetRole string `json:"target_role,omitempty"`
}

// Event is emitted after a route commits.
type Event struct {
	ID            string         `json:"id"`
	ApplicationID int64          `json:"application_id"`
	Seq           int            `json:"seq"`
	Action        string         `json:"action"`
	FromRole      string         `json:"from_role"`
	ToRole        string         `json:"to_role"`
	ToUserID      *int64         `json:"to_user_id,omitempty"`
	FromState     workflow.State `json:"from_state"`
	ToState       workflow.State `json:"to_state"`
	ActorUserID   int64          `json:"actor_user_id"`
	ActorRole     string         `json:"actor_role"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// TxRepository exposes the operations available inside a routing transaction.
type TxRepository interface {
	GetCase(ctx context.Context, id int64) (assignment.Case, error)
	Reassign(ctx context.Context, r assignment.Reassignment) (assignment.Case, error)
	AppendTransition(ctx context.Context, rec transitions.Record) (transitions.Record, error)
	LatestForwardInto(ctx context.Context, applicationID int64, role string) (transitions.Record, error)
	LatestFlag(ctx context.Context, applicationID int64) (transitions.Record, error)
}

// Repository is the persistence port of the engine.
type Repository interface {
	GetCase(ctx context.Context, id int64) (assignment.Case, error)
	TransitionByRequestKey(ctx context.Context, key string) (transitions.Record, error)
	History(ctx context.Context, applicationID int64) ([]transitions.Record, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// EventPublisher fans routing events out to notification channels.
type EventPublisher interface {
	PublishRoutingEvent(ctx context.Context, evt Event) error
}

// Invalidator drops cached queue views after a route.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// MetricsRecorder records routing outcomes.
type MetricsRecorder interface {
	ObserveRoute(action, outcome string, elapsed time.Duration)
	IncRetry()
}
