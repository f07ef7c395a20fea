// Package applications owns intake of arms license applications.
package applications

import (
	"errors"
	"time"

	"github.com/armslicense/armslicense/internal/workflow"
)

var (
	// ErrNotFound is returned when an application does not exist.
	ErrNotFound = errors.New("applications: not found")
	// ErrInvalidInput wraps validation failures.
	ErrInvalidInput = errors.New("applications: invalid input")
)

// PersonalDetails is the applicant data captured at intake.
type PersonalDetails struct {
	FullName      string `json:"full_name" validate:"required,max=200"`
	FatherName    string `json:"father_name" validate:"omitempty,max=200"`
	DateOfBirth   string `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	Gender        string `json:"gender" validate:"omitempty,oneof=MALE FEMALE OTHER"`
	Address       string `json:"address" validate:"required,max=500"`
	PoliceStation string `json:"police_station" validate:"omitempty,max=120"`
	Phone         string `json:"phone" validate:"omitempty,max=20"`
	Email         string `json:"email" validate:"omitempty,email"`
	WeaponType    string `json:"weapon_type" validate:"omitempty,max=80"`
	Purpose       string `json:"purpose" validate:"required,max=1000"`
}

// Application is the stored intake record together with its routing state.
type Application struct {
	ID          int64           `json:"id"`
	ApplicantID int64           `json:"applicant_id"`
	State       workflow.State  `json:"state"`
	OwnerRole   string          `json:"owner_role"`
	OwnerUserID *int64          `json:"owner_user_id,omitempty"`
	Version     int64           `json:"version"`
	IsSubmitted bool            `json:"is_submitted"`
	Details     PersonalDetails `json:"personal_details"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewApplication is the row inserted for a fresh draft.
type NewApplication struct {
	ApplicantID int64
	OwnerRole   string
	Details     PersonalDetails
}

// CreateDraftInput carries the intake request.
type CreateDraftInput struct {
	ApplicantID int64
	Details     PersonalDetails
}
