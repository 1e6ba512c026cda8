package service

import (
	"context"
	"database/sql"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dueb-project/dueb-api/internal/models"
	appErrors "github.com/dueb-project/dueb-api/pkg/errors"
)

type organizationRepository interface {
	List(ctx context.Context, filter models.OrganizationFilter) ([]models.Organization, int, error)
	FindByID(ctx context.Context, id string) (*models.Organization, error)
	ExistsByName(ctx context.Context, name, excludeID string) (bool, error)
	ExistsByShortCode(ctx context.Context, shortCode, excludeID string) (bool, error)
	Create(ctx context.Context, organization *models.Organization) error
	Update(ctx context.Context, organization *models.Organization) error
	Delete(ctx context.Context, id string) error
}

type assignmentCounter interface {
	CountByOrganization(ctx context.Context, organizationID string) (int, error)
}

// CreateOrganizationRequest describes a new participating organization.
type CreateOrganizationRequest struct {
	Name      string `json:"name" validate:"required,max=100"`
	ShortCode string `json:"short_code" validate:"required,max=10"`
}

// UpdateOrganizationRequest rewrites organization attributes.
type UpdateOrganizationRequest struct {
	Name      string `json:"name" validate:"required,max=100"`
	ShortCode string `json:"short_code" validate:"required,max=10"`
}

// OrganizationService manages the registry of participating organizations.
type OrganizationService struct {
	organizations organizationRepository
	assignments   assignmentCounter
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewOrganizationService creates a service instance.
func NewOrganizationService(organizations organizationRepository, assignments assignmentCounter, validate *validator.Validate, logger *zap.Logger) *OrganizationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrganizationService{
		organizations: organizations,
		assignments:   assignments,
		validator:     validate,
		logger:        logger,
	}
}

// List returns organizations matching the filter.
func (s *OrganizationService) List(ctx context.Context, filter models.OrganizationFilter) ([]models.Organization, *models.Pagination, error) {
	organizations, total, err := s.organizations.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list organizations")
	}
	return organizations, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get loads one organization.
func (s *OrganizationService) Get(ctx context.Context, id string) (*models.Organization, error) {
	organization, err := s.organizations.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "organization not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load organization")
	}
	return organization, nil
}

// Create registers a new organization after checking the short-code shape
// and both uniqueness rules.
func (s *OrganizationService) Create(ctx context.Context, req CreateOrganizationRequest) (*models.Organization, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid organization payload")
	}
	shortCode := strings.TrimSpace(req.ShortCode)
	if !isAlphabetic(shortCode) {
		return nil, appErrors.ErrInvalidShortCode
	}

	if err := s.ensureUnique(ctx, req.Name, shortCode, ""); err != nil {
		return nil, err
	}

	organization := &models.Organization{
		Name:      strings.TrimSpace(req.Name),
		ShortCode: shortCode,
	}
	if err := s.organizations.Create(ctx, organization); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create organization")
	}
	return organization, nil
}

// Update rewrites name and short code. Changing the short code is rejected
// outright once any assignment references the organization: issued button
// codes are printed on physical badges and must stay valid.
func (s *OrganizationService) Update(ctx context.Context, id string, req UpdateOrganizationRequest) (*models.Organization, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid organization payload")
	}
	shortCode := strings.TrimSpace(req.ShortCode)
	if !isAlphabetic(shortCode) {
		return nil, appErrors.ErrInvalidShortCode
	}

	organization, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(organization.ShortCode, shortCode) {
		referenced, err := s.assignments.CountByOrganization(ctx, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check organization references")
		}
		if referenced > 0 {
			return nil, appErrors.ErrShortCodeImmutable
		}
	}

	if err := s.ensureUnique(ctx, req.Name, shortCode, id); err != nil {
		return nil, err
	}

	organization.Name = strings.TrimSpace(req.Name)
	organization.ShortCode = shortCode
	if err := s.organizations.Update(ctx, organization); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "organization not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update organization")
	}
	return organization, nil
}

// Delete removes an organization without assignments.
func (s *OrganizationService) Delete(ctx context.Context, id string) error {
	referenced, err := s.assignments.CountByOrganization(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check organization references")
	}
	if referenced > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "organization still has assignments")
	}
	if err := s.organizations.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "organization not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete organization")
	}
	return nil
}

func (s *OrganizationService) ensureUnique(ctx context.Context, name, shortCode, excludeID string) error {
	nameTaken, err := s.organizations.ExistsByName(ctx, strings.TrimSpace(name), excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check organization name")
	}
	if nameTaken {
		return appErrors.Clone(appErrors.ErrConflict, "organization name already exists")
	}
	codeTaken, err := s.organizations.ExistsByShortCode(ctx, shortCode, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check organization short code")
	}
	if codeTaken {
		return appErrors.Clone(appErrors.ErrConflict, "organization short code already exists")
	}
	return nil
}

func isAlphabetic(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
