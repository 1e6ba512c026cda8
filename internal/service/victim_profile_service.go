package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dueb-project/dueb-api/internal/models"
	appErrors "github.com/dueb-project/dueb-api/pkg/errors"
)

type victimProfileRepository interface {
	List(ctx context.Context, filter models.VictimProfileFilter) ([]models.VictimProfile, int, error)
	FindByID(ctx context.Context, id string) (*models.VictimProfile, error)
	Create(ctx context.Context, profile *models.VictimProfile) error
	Update(ctx context.Context, profile *models.VictimProfile) error
	Delete(ctx context.Context, id string) error
}

// UpsertVictimProfileRequest carries the catalog fields of a profile.
type UpsertVictimProfileRequest struct {
	ProfileNumber     *string `json:"profile_number,omitempty" validate:"omitempty,max=50"`
	Category          *string `json:"category,omitempty" validate:"omitempty,max=200"`
	Diagnosis         *string `json:"diagnosis,omitempty"`
	ExpectedMedAction *string `json:"expected_med_action,omitempty"`
	Comment           *string `json:"comment,omitempty"`
}

// VictimProfileService manages the simulated-patient catalog.
type VictimProfileService struct {
	profiles  victimProfileRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewVictimProfileService creates a service instance.
func NewVictimProfileService(profiles victimProfileRepository, validate *validator.Validate, logger *zap.Logger) *VictimProfileService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VictimProfileService{profiles: profiles, validator: validate, logger: logger}
}

// List returns catalog entries matching the filter.
func (s *VictimProfileService) List(ctx context.Context, filter models.VictimProfileFilter) ([]models.VictimProfile, *models.Pagination, error) {
	profiles, total, err := s.profiles.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list victim profiles")
	}
	return profiles, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get loads one profile.
func (s *VictimProfileService) Get(ctx context.Context, id string) (*models.VictimProfile, error) {
	profile, err := s.profiles.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "victim profile not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load victim profile")
	}
	return profile, nil
}

// Create adds a profile to the catalog.
func (s *VictimProfileService) Create(ctx context.Context, req UpsertVictimProfileRequest) (*models.VictimProfile, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}
	profile := &models.VictimProfile{
		ProfileNumber:     req.ProfileNumber,
		Category:          req.Category,
		Diagnosis:         req.Diagnosis,
		ExpectedMedAction: req.ExpectedMedAction,
		Comment:           req.Comment,
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create victim profile")
	}
	return profile, nil
}

// Update rewrites catalog fields.
func (s *VictimProfileService) Update(ctx context.Context, id string, req UpsertVictimProfileRequest) (*models.VictimProfile, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}
	profile, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	profile.ProfileNumber = req.ProfileNumber
	profile.Category = req.Category
	profile.Diagnosis = req.Diagnosis
	profile.ExpectedMedAction = req.ExpectedMedAction
	profile.Comment = req.Comment
	if err := s.profiles.Update(ctx, profile); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "victim profile not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update victim profile")
	}
	return profile, nil
}

// Delete removes a profile from the catalog.
func (s *VictimProfileService) Delete(ctx context.Context, id string) error {
	if err := s.profiles.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "victim profile not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete victim profile")
	}
	return nil
}
