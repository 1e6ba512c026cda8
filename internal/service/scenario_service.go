package service

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dueb-project/dueb-api/internal/models"
	appErrors "github.com/dueb-project/dueb-api/pkg/errors"
)

type scenarioRepository interface {
	List(ctx context.Context) ([]models.Scenario, error)
	FindByID(ctx context.Context, id string) (*models.Scenario, error)
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, scenario *models.Scenario) error
	Update(ctx context.Context, scenario *models.Scenario) error
	Delete(ctx context.Context, id string) error
	CategoryStats(ctx context.Context, scenarioID string) ([]models.CategoryStat, error)
}

type unassignedLister interface {
	ListUnassigned(ctx context.Context, scenarioID string) ([]models.VictimProfile, error)
}

// CreateScenarioRequest describes a new drill scenario.
type CreateScenarioRequest struct {
	Name        string     `json:"name" validate:"required,max=200"`
	Date        *time.Time `json:"date,omitempty"`
	Description *string    `json:"description,omitempty"`
}

// UpdateScenarioRequest rewrites scenario attributes.
type UpdateScenarioRequest struct {
	Name        string     `json:"name" validate:"required,max=200"`
	Date        *time.Time `json:"date,omitempty"`
	Description *string    `json:"description,omitempty"`
}

// ScenarioService manages drill scenarios. The application supports at most
// one scenario at a time; creation enforces that here, at the store's edge,
// rather than scattering checks across callers.
type ScenarioService struct {
	scenarios scenarioRepository
	profiles  unassignedLister
	validator *validator.Validate
	logger    *zap.Logger
}

// NewScenarioService creates a service instance.
func NewScenarioService(scenarios scenarioRepository, profiles unassignedLister, validate *validator.Validate, logger *zap.Logger) *ScenarioService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScenarioService{
		scenarios: scenarios,
		profiles:  profiles,
		validator: validate,
		logger:    logger,
	}
}

// List returns all scenarios (at most one in practice).
func (s *ScenarioService) List(ctx context.Context) ([]models.Scenario, error) {
	scenarios, err := s.scenarios.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list scenarios")
	}
	return scenarios, nil
}

// Get loads one scenario.
func (s *ScenarioService) Get(ctx context.Context, id string) (*models.Scenario, error) {
	scenario, err := s.scenarios.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "scenario not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scenario")
	}
	return scenario, nil
}

// Create registers the scenario, rejecting a second one outright.
func (s *ScenarioService) Create(ctx context.Context, req CreateScenarioRequest) (*models.Scenario, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scenario payload")
	}

	count, err := s.scenarios.Count(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count scenarios")
	}
	if count > 0 {
		return nil, appErrors.ErrScenarioExists
	}

	scenario := &models.Scenario{
		Name:        strings.TrimSpace(req.Name),
		Date:        req.Date,
		Description: req.Description,
	}
	if err := s.scenarios.Create(ctx, scenario); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create scenario")
	}
	return scenario, nil
}

// Update rewrites scenario attributes.
func (s *ScenarioService) Update(ctx context.Context, id string, req UpdateScenarioRequest) (*models.Scenario, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scenario payload")
	}
	scenario, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	scenario.Name = strings.TrimSpace(req.Name)
	scenario.Date = req.Date
	scenario.Description = req.Description
	if err := s.scenarios.Update(ctx, scenario); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "scenario not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update scenario")
	}
	return scenario, nil
}

// Delete removes the scenario together with all of its assignments.
func (s *ScenarioService) Delete(ctx context.Context, id string) error {
	if err := s.scenarios.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "scenario not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete scenario")
	}
	return nil
}

// UnassignedProfiles lists catalog entries not yet attached to the scenario.
func (s *ScenarioService) UnassignedProfiles(ctx context.Context, scenarioID string) ([]models.VictimProfile, error) {
	if _, err := s.Get(ctx, scenarioID); err != nil {
		return nil, err
	}
	profiles, err := s.profiles.ListUnassigned(ctx, scenarioID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list unassigned profiles")
	}
	return profiles, nil
}

// Stats returns the distribution of assigned profile categories.
func (s *ScenarioService) Stats(ctx context.Context, scenarioID string) ([]models.CategoryStat, error) {
	if _, err := s.Get(ctx, scenarioID); err != nil {
		return nil, err
	}
	stats, err := s.scenarios.CategoryStats(ctx, scenarioID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scenario stats")
	}
	return stats, nil
}
