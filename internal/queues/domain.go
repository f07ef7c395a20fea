// Package queues resolves the permission-gated work queues each officer sees.
package queues

import (
	"context"
	"errors"
	"time"

	"github.com/armslicense/armslicense/internal/catalog"
	"github.com/armslicense/armslicense/internal/workflow"
)

// ErrUnknownQueue indicates a queue name outside the known set.
var ErrUnknownQueue = errors.New("queues: unknown queue")

// Queue names a view over applications.
type Queue string

const (
	QueueFresh         Queue = "FRESH"
	QueueForwarded     Queue = "FORWARDED"
	QueueReturned      Queue = "RETURNED"
	QueueRedFlagged    Queue = "RED_FLAGGED"
	QueueSent          Queue = "SENT"
	QueueDisposed      Queue = "DISPOSED"
	QueueFinalDisposal Queue = "FINAL_DISPOSAL"
)

var queuePermissions = map[Queue]string{
	QueueFresh:         catalog.PermViewFreshForm,
	QueueForwarded:     catalog.PermViewForwarded,
	QueueReturned:      catalog.PermViewReturned,
	QueueRedFlagged:    catalog.PermViewRedFlagged,
	QueueSent:          catalog.PermViewSent,
	QueueDisposed:      catalog.PermViewDisposed,
	QueueFinalDisposal: catalog.PermViewFinalDisposal,
}

// All lists every queue in display order.
func All() []Queue {
	return []Queue{QueueFresh, QueueForwarded, QueueReturned, QueueRedFlagged, QueueSent, QueueDisposed, QueueFinalDisposal}
}

// Parse resolves a queue name case-insensitively.
func Parse(name string) (Queue, error) {
	q := Queue(catalog.NormalizeCode(name))
	if _, ok := queuePermissions[q]; !ok {
		return "", ErrUnknownQueue
	}
	return q, nil
}

// Permission returns the VIEW permission gating q.
func (q Queue) Permission() string {
	return queuePermissions[q]
}

// OwnedStates returns the state matched by owner-scoped queues. SENT and the
// disposal queues are not owner-scoped and return nil.
func (q Queue) OwnedStates() []workflow.State {
	switch q {
	case QueueFresh:
		return []workflow.State{workflow.StateSubmitted}
	case QueueForwarded:
		return []workflow.State{workflow.StateForwarded}
	case QueueReturned:
		return []workflow.State{workflow.StateReturned}
	case QueueRedFlagged:
		return []workflow.State{workflow.StateRedFlagged}
	}
	return nil
}

// GlobalStates returns the states listed by queues visible regardless of owner.
func (q Queue) GlobalStates() []workflow.State {
	switch q {
	case QueueDisposed:
		return []workflow.State{workflow.StateDisposedApproved, workflow.StateDisposedRejected}
	case QueueFinalDisposal:
		return []workflow.State{workflow.StateFinalDisposal}
	}
	return nil
}

// Viewer is the officer a queue is resolved for. UserID zero means the whole role.
type Viewer struct {
	Role   string
	UserID int64
}

// Filter selects the rows of one queue.
type Filter struct {
	Queue  Queue
	Role   string
	UserID int64
	Limit  int
	Offset int
}

// Item is one row in a queue.
type Item struct {
	ApplicationID int64          `json:"application_id"`
	ApplicantID   int64          `json:"applicant_id"`
	ApplicantName string         `json:"applicant_name"`
	State         workflow.State `json:"state"`
	OwnerRole     string         `json:"owner_role"`
	OwnerUserID   *int64         `json:"owner_user_id,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Page bounds a listing.
type Page struct {
	Limit  int
	Offset int
}

// Repository reads queue rows.
type Repository interface {
	ListQueue(ctx context.Context, f Filter) ([]Item, error)
	CountQueue(ctx context.Context, f Filter) (int, error)
}
