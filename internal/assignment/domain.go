// Package assignment persists the current owner of each application and
// moves ownership with a compare-and-swap on the row version.
package assignment

import (
	"errors"
	"time"

	"github.com/armslicense/armslicense/internal/workflow"
)

var (
	// ErrNotFound is returned when the application does not exist.
	ErrNotFound = errors.New("assignment: application not found")
	// ErrStaleOwnership is returned when the expected owner or version no longer holds.
	ErrStaleOwnership = errors.New("assignment: stale ownership")
)

// Owner is the role holding a case, optionally narrowed to one user.
type Owner struct {
	Role   string
	UserID *int64
}

// Equal reports whether o and other name the same holder.
func (o Owner) Equal(other Owner) bool {
	if o.Role != other.Role {
		return false
	}
	if o.UserID == nil || other.UserID == nil {
		return o.UserID == nil && other.UserID == nil
	}
	return *o.UserID == *other.UserID
}

// Case is the mutable routing state of an application.
type Case struct {
	ApplicationID int64
	ApplicantID   int64
	State         workflow.State
	Owner         Owner
	Version       int64
	IsSubmitted   bool
	UpdatedAt     time.Time
}

// Reassignment describes a guarded ownership and state change.
type Reassignment struct {
	ApplicationID   int64
	ExpectedRole    string
	ExpectedVersion int64
	NewOwner        Owner
	NewState        workflow.State
	Submitted       bool
}
