package applications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/armslicense/armslicense/internal/catalog"
)

// Repository persists applications.
type Repository interface {
	CreateApplication(ctx context.Context, in NewApplication) (Application, error)
	GetApplication(ctx context.Context, id int64) (Application, error)
}

// Service handles intake.
type Service struct {
	repo       Repository
	intakeRole string
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewService constructs a Service. New drafts are owned by intakeRole.
func NewService(repo Repository, intakeRole string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(intakeRole) == "" {
		intakeRole = catalog.RoleZS
	}
	return &Service{
		repo:       repo,
		intakeRole: catalog.NormalizeCode(intakeRole),
		validate:   validator.New(),
		logger:     logger,
	}
}

// IntakeRole reports which role receives new drafts.
func (s *Service) IntakeRole() string {
	return s.intakeRole
}

// CreateDraft validates the personal details and stores a DRAFT application.
func (s *Service) CreateDraft(ctx context.Context, in CreateDraftInput) (Application, error) {
	if in.ApplicantID <= 0 {
		return Application{}, fmt.Errorf("%w: applicant required", ErrInvalidInput)
	}
	in.Details = normalizeDetails(in.Details)
	if err := s.validate.Struct(in.Details); err != nil {
		return Application{}, fmt.Errorf("%w: %s", ErrInvalidInput, describeValidation(err))
	}
	app, err := s.repo.CreateApplication(ctx, NewApplication{
		ApplicantID: in.ApplicantID,
		OwnerRole:   s.intakeRole,
		Details:     in.Details,
	})
	if err != nil {
		return Application{}, err
	}
	s.logger.Info("application drafted",
		slog.Int64("application_id", app.ID),
		slog.Int64("applicant_id", app.ApplicantID),
		slog.String("owner_role", app.OwnerRole),
	)
	return app, nil
}

// Get loads one application.
func (s *Service) Get(ctx context.Context, id int64) (Application, error) {
	return s.repo.GetApplication(ctx, id)
}

func normalizeDetails(d PersonalDetails) PersonalDetails {
	d.FullName = strings.TrimSpace(d.FullName)
	d.FatherName = strings.TrimSpace(d.FatherName)
	d.DateOfBirth = strings.TrimSpace(d.DateOfBirth)
	d.Gender = strings.ToUpper(strings.TrimSpace(d.Gender))
	d.Address = strings.TrimSpace(d.Address)
	d.PoliceStation = strings.TrimSpace(d.PoliceStation)
	d.Phone = strings.TrimSpace(d.Phone)
	d.Email = strings.TrimSpace(d.Email)
	d.WeaponType = strings.TrimSpace(d.WeaponType)
	d.Purpose = strings.TrimSpace(d.Purpose)
	return d
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
