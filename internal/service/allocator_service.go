package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dueb-project/dueb-api/internal/models"
	"github.com/dueb-project/dueb-api/internal/repository"
	appErrors "github.com/dueb-project/dueb-api/pkg/errors"
)

const defaultMaxAllocationRetries = 5

type allocatorStore interface {
	ReserveBlock(ctx context.Context, scenarioID, organizationID string, n int) (int, int, error)
	ApplyAllocation(ctx context.Context, inserts []*models.Assignment, promotions []repository.Promotion) error
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	FindByScenarioAndProfile(ctx context.Context, scenarioID, profileID string) (*models.Assignment, error)
	ListByScenario(ctx context.Context, scenarioID string, filter models.AssignmentFilter) ([]models.AssignmentDetail, error)
	Delete(ctx context.Context, id string) error
}

type scenarioReader interface {
	FindByID(ctx context.Context, id string) (*models.Scenario, error)
}

type organizationReader interface {
	FindByID(ctx context.Context, id string) (*models.Organization, error)
}

type profileReader interface {
	FindByID(ctx context.Context, id string) (*models.VictimProfile, error)
	ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
}

type rosterCache interface {
	Get(ctx context.Context, scenarioID string) ([]models.AssignmentDetail, error)
	Set(ctx context.Context, scenarioID string, roster []models.AssignmentDetail) error
	Invalidate(ctx context.Context, scenarioID string)
}

type allocationObserver interface {
	ObserveAllocation(outcome string, count int)
	ObserveAllocationConflict()
}

// AllocateOneRequest asks for a single profile to be assigned to an organization.
type AllocateOneRequest struct {
	ScenarioID      string `json:"scenario_id" validate:"required"`
	OrganizationID  string `json:"organization_id" validate:"required"`
	VictimProfileID string `json:"victim_profile_id" validate:"required"`
}

// AllocateBatchRequest assigns many profiles to one organization at once.
type AllocateBatchRequest struct {
	ScenarioID       string   `json:"scenario_id" validate:"required"`
	OrganizationID   string   `json:"organization_id" validate:"required"`
	VictimProfileIDs []string `json:"victim_profile_ids" validate:"required,min=1"`
}

// QueueRequest attaches profiles to a scenario without an organization.
// No numbering happens until promotion.
type QueueRequest struct {
	ScenarioID       string   `json:"scenario_id" validate:"required"`
	VictimProfileIDs []string `json:"victim_profile_ids" validate:"required,min=1"`
}

// AllocatorService issues collision-free sequential numbers and button codes.
//
// Numbering is backed by a per-(scenario, organization) counter the store
// reserves blocks from atomically; the store's unique indexes act as a second
// line of defense, and any violation they report is retried here up to the
// configured bound before AllocationContention is surfaced.
type AllocatorService struct {
	store         allocatorStore
	scenarios     scenarioReader
	organizations organizationReader
	profiles      profileReader
	cache         rosterCache
	metrics       allocationObserver
	maxRetries    int
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewAllocatorService creates the allocator.
func NewAllocatorService(
	store allocatorStore,
	scenarios scenarioReader,
	organizations organizationReader,
	profiles profileReader,
	cache rosterCache,
	metrics allocationObserver,
	maxRetries int,
	validate *validator.Validate,
	logger *zap.Logger,
) *AllocatorService {
	if maxRetries <= 0 {
		maxRetries = defaultMaxAllocationRetries
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocatorService{
		store:         store,
		scenarios:     scenarios,
		organizations: organizations,
		profiles:      profiles,
		cache:         cache,
		metrics:       metrics,
		maxRetries:    maxRetries,
		validator:     validate,
		logger:        logger,
	}
}

// FormatButtonNumber renders the human-readable badge identifier: the
// organization short code followed by the sequential number zero-padded to
// at least two digits. Larger numbers are never truncated.
func FormatButtonNumber(shortCode string, number int) string {
	return fmt.Sprintf("%s%02d", shortCode, number)
}

// AllocateOne assigns a single profile to an organization and issues the next
// number for the pair. An existing queued placeholder for the profile is
// promoted instead of duplicated; an already assigned profile is rejected.
func (s *AllocatorService) AllocateOne(ctx context.Context, req AllocateOneRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid allocation payload")
	}

	if _, err := s.scenarios.FindByID(ctx, req.ScenarioID); err != nil {
		return nil, notFoundOrInternal(err, "scenario not found", "failed to load scenario")
	}
	organization, err := s.organizations.FindByID(ctx, req.OrganizationID)
	if err != nil {
		return nil, notFoundOrInternal(err, "organization not found", "failed to load organization")
	}
	if _, err := s.profiles.FindByID(ctx, req.VictimProfileID); err != nil {
		return nil, notFoundOrInternal(err, "victim profile not found", "failed to load victim profile")
	}

	// The duplicate precondition runs inside the loop: a conflict caused by a
	// racing allocation of the same profile must surface as DUPLICATE_PROFILE
	// on the next attempt, not as exhausted contention.
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		existing, err := s.store.FindByScenarioAndProfile(ctx, req.ScenarioID, req.VictimProfileID)
		switch {
		case err == sql.ErrNoRows:
			// fresh insert below
		case err != nil:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check profile assignment")
		case existing.Assigned():
			return nil, appErrors.ErrDuplicateProfile
		default:
			return s.promote(ctx, existing, organization)
		}

		first, _, err := s.store.ReserveBlock(ctx, req.ScenarioID, req.OrganizationID, 1)
		if err != nil {
			if errors.Is(err, repository.ErrSequenceConflict) {
				s.observeConflict(req.ScenarioID, req.OrganizationID, attempt)
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve sequence number")
		}

		button := FormatButtonNumber(organization.ShortCode, first)
		assignment := &models.Assignment{
			ScenarioID:       req.ScenarioID,
			OrganizationID:   &req.OrganizationID,
			VictimProfileID:  req.VictimProfileID,
			SequentialNumber: &first,
			ButtonNumber:     &button,
		}
		if err := s.store.ApplyAllocation(ctx, []*models.Assignment{assignment}, nil); err != nil {
			if errors.Is(err, repository.ErrSequenceConflict) {
				s.observeConflict(req.ScenarioID, req.OrganizationID, attempt)
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist assignment")
		}

		s.afterWrite(ctx, req.ScenarioID, "allocate_one", 1)
		return assignment, nil
	}

	return nil, appErrors.ErrAllocationContention
}

// AllocateBatch issues a contiguous, gap-free run of numbers for the whole
// batch in one unit of work. Invalid or already assigned profile ids reject
// the entire batch before any number is reserved.
func (s *AllocatorService) AllocateBatch(ctx context.Context, req AllocateBatchRequest) ([]models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}
	if hasDuplicates(req.VictimProfileIDs) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "batch contains duplicate profile ids")
	}

	if _, err := s.scenarios.FindByID(ctx, req.ScenarioID); err != nil {
		return nil, notFoundOrInternal(err, "scenario not found", "failed to load scenario")
	}
	organization, err := s.organizations.FindByID(ctx, req.OrganizationID)
	if err != nil {
		return nil, notFoundOrInternal(err, "organization not found", "failed to load organization")
	}

	existing, err := s.profiles.ExistingIDs(ctx, req.VictimProfileIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate profile ids")
	}

	var invalid []string
	placeholders := make(map[string]*models.Assignment)
	for _, profileID := range req.VictimProfileIDs {
		if _, ok := existing[profileID]; !ok {
			invalid = append(invalid, profileID)
			continue
		}
		row, err := s.store.FindByScenarioAndProfile(ctx, req.ScenarioID, profileID)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check profile assignment")
		case row.Assigned():
			invalid = append(invalid, profileID)
		default:
			placeholders[profileID] = row
		}
	}
	if len(invalid) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrBatchAllocationFailed, map[string]interface{}{
			"invalid_profile_ids": invalid,
		})
	}

	n := len(req.VictimProfileIDs)
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		first, _, err := s.store.ReserveBlock(ctx, req.ScenarioID, req.OrganizationID, n)
		if err != nil {
			if errors.Is(err, repository.ErrSequenceConflict) {
				s.observeConflict(req.ScenarioID, req.OrganizationID, attempt)
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve sequence block")
		}

		inserts := make([]*models.Assignment, 0, n)
		promotions := make([]repository.Promotion, 0)
		results := make([]models.Assignment, 0, n)
		for i, profileID := range req.VictimProfileIDs {
			number := first + i
			button := FormatButtonNumber(organization.ShortCode, number)
			if placeholder, ok := placeholders[profileID]; ok {
				promotions = append(promotions, repository.Promotion{
					AssignmentID:     placeholder.ID,
					OrganizationID:   req.OrganizationID,
					SequentialNumber: number,
					ButtonNumber:     button,
				})
				promoted := *placeholder
				promoted.OrganizationID = &req.OrganizationID
				promoted.SequentialNumber = &number
				promoted.ButtonNumber = &button
				results = append(results, promoted)
				continue
			}
			assignment := &models.Assignment{
				ScenarioID:       req.ScenarioID,
				OrganizationID:   &req.OrganizationID,
				VictimProfileID:  profileID,
				SequentialNumber: &number,
				ButtonNumber:     &button,
			}
			inserts = append(inserts, assignment)
		}

		if err := s.store.ApplyAllocation(ctx, inserts, promotions); err != nil {
			if errors.Is(err, repository.ErrSequenceConflict) {
				s.observeConflict(req.ScenarioID, req.OrganizationID, attempt)
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist batch")
		}

		for _, assignment := range inserts {
			results = append(results, *assignment)
		}
		sort.Slice(results, func(i, j int) bool {
			return *results[i].SequentialNumber < *results[j].SequentialNumber
		})
		s.afterWrite(ctx, req.ScenarioID, "allocate_batch", n)
		return results, nil
	}

	return nil, appErrors.ErrAllocationContention
}

// PromoteToOrganization attaches an organization to a queued placeholder and
// issues its number. Promotion is one-way: a row that already carries a
// number is rejected.
func (s *AllocatorService) PromoteToOrganization(ctx context.Context, assignmentID, organizationID string) (*models.Assignment, error) {
	if assignmentID == "" || organizationID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assignment id and organization id are required")
	}

	assignment, err := s.store.FindByID(ctx, assignmentID)
	if err != nil {
		return nil, notFoundOrInternal(err, "assignment not found", "failed to load assignment")
	}
	if assignment.Assigned() {
		return nil, appErrors.ErrAlreadyAssigned
	}
	organization, err := s.organizations.FindByID(ctx, organizationID)
	if err != nil {
		return nil, notFoundOrInternal(err, "organization not found", "failed to load organization")
	}

	return s.promote(ctx, assignment, organization)
}

func (s *AllocatorService) promote(ctx context.Context, assignment *models.Assignment, organization *models.Organization) (*models.Assignment, error) {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		first, _, err := s.store.ReserveBlock(ctx, assignment.ScenarioID, organization.ID, 1)
		if err != nil {
			if errors.Is(err, repository.ErrSequenceConflict) {
				s.observeConflict(assignment.ScenarioID, organization.ID, attempt)
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve sequence number")
		}

		button := FormatButtonNumber(organization.ShortCode, first)
		err = s.store.ApplyAllocation(ctx, nil, []repository.Promotion{{
			AssignmentID:     assignment.ID,
			OrganizationID:   organization.ID,
			SequentialNumber: first,
			ButtonNumber:     button,
		}})
		if err != nil {
			if errors.Is(err, repository.ErrSequenceConflict) {
				s.observeConflict(assignment.ScenarioID, organization.ID, attempt)
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to promote assignment")
		}

		promoted := *assignment
		orgID := organization.ID
		promoted.OrganizationID = &orgID
		promoted.SequentialNumber = &first
		promoted.ButtonNumber = &button
		s.afterWrite(ctx, assignment.ScenarioID, "promote", 1)
		return &promoted, nil
	}

	return nil, appErrors.ErrAllocationContention
}

// Queue attaches profiles to the scenario as unassigned placeholders.
// Profiles already part of the scenario are skipped, making the operation
// safe to repeat.
func (s *AllocatorService) Queue(ctx context.Context, req QueueRequest) ([]models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid queue payload")
	}
	if hasDuplicates(req.VictimProfileIDs) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "queue contains duplicate profile ids")
	}

	if _, err := s.scenarios.FindByID(ctx, req.ScenarioID); err != nil {
		return nil, notFoundOrInternal(err, "scenario not found", "failed to load scenario")
	}
	existing, err := s.profiles.ExistingIDs(ctx, req.VictimProfileIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate profile ids")
	}
	var missing []string
	for _, id := range req.VictimProfileIDs {
		if _, ok := existing[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrNotFound, "unknown victim profile ids"), map[string]interface{}{
			"missing_profile_ids": missing,
		})
	}

	inserts := make([]*models.Assignment, 0, len(req.VictimProfileIDs))
	for _, profileID := range req.VictimProfileIDs {
		_, err := s.store.FindByScenarioAndProfile(ctx, req.ScenarioID, profileID)
		switch {
		case err == sql.ErrNoRows:
			inserts = append(inserts, &models.Assignment{
				ScenarioID:      req.ScenarioID,
				VictimProfileID: profileID,
			})
		case err != nil:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check profile assignment")
		default:
			// already queued or assigned, leave untouched
		}
	}

	if len(inserts) > 0 {
		if err := s.store.ApplyAllocation(ctx, inserts, nil); err != nil {
			if errors.Is(err, repository.ErrSequenceConflict) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "profile queued concurrently, retry")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue profiles")
		}
		s.cacheInvalidate(ctx, req.ScenarioID)
	}

	queued := make([]models.Assignment, 0, len(inserts))
	for _, assignment := range inserts {
		queued = append(queued, *assignment)
	}
	return queued, nil
}

// List returns the scenario roster ordered by organization, then sequential
// number. Unfiltered listings are served from the roster cache when enabled.
func (s *AllocatorService) List(ctx context.Context, scenarioID string, filter models.AssignmentFilter) ([]models.AssignmentDetail, error) {
	if _, err := s.scenarios.FindByID(ctx, scenarioID); err != nil {
		return nil, notFoundOrInternal(err, "scenario not found", "failed to load scenario")
	}

	unfiltered := filter.OrganizationID == "" && filter.Search == ""
	if unfiltered && s.cache != nil {
		if roster, err := s.cache.Get(ctx, scenarioID); err == nil {
			return roster, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("roster cache read failed", zap.String("scenario_id", scenarioID), zap.Error(err))
		}
	}

	roster, err := s.store.ListByScenario(ctx, scenarioID, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}

	if unfiltered && s.cache != nil {
		if err := s.cache.Set(ctx, scenarioID, roster); err != nil {
			s.logger.Warn("roster cache write failed", zap.String("scenario_id", scenarioID), zap.Error(err))
		}
	}
	return roster, nil
}

// Remove deletes an assignment. Its number is burned for good: the
// allocation counter keeps the high-water mark.
func (s *AllocatorService) Remove(ctx context.Context, assignmentID string) error {
	assignment, err := s.store.FindByID(ctx, assignmentID)
	if err != nil {
		return notFoundOrInternal(err, "assignment not found", "failed to load assignment")
	}
	if err := s.store.Delete(ctx, assignmentID); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete assignment")
	}
	s.cacheInvalidate(ctx, assignment.ScenarioID)
	return nil
}

// Snapshot produces immutable value objects of every assigned row for the
// reporting collaborators. Queued placeholders carry no badge yet and are
// left out.
func (s *AllocatorService) Snapshot(ctx context.Context, scenarioID string) ([]models.AssignmentSnapshot, error) {
	roster, err := s.List(ctx, scenarioID, models.AssignmentFilter{})
	if err != nil {
		return nil, err
	}
	snapshots := make([]models.AssignmentSnapshot, 0, len(roster))
	for _, row := range roster {
		if !row.Assigned() {
			continue
		}
		snapshot := models.AssignmentSnapshot{
			SequentialNumber: *row.SequentialNumber,
		}
		if row.ButtonNumber != nil {
			snapshot.ButtonNumber = *row.ButtonNumber
		}
		if row.OrganizationName != nil {
			snapshot.OrganizationName = *row.OrganizationName
		}
		if row.ShortCode != nil {
			snapshot.ShortCode = *row.ShortCode
		}
		if row.ProfileNumber != nil {
			snapshot.ProfileNumber = *row.ProfileNumber
		}
		if row.ProfileCategory != nil {
			snapshot.ProfileCategory = *row.ProfileCategory
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func (s *AllocatorService) afterWrite(ctx context.Context, scenarioID, outcome string, count int) {
	s.cacheInvalidate(ctx, scenarioID)
	if s.metrics != nil {
		s.metrics.ObserveAllocation(outcome, count)
	}
}

func (s *AllocatorService) cacheInvalidate(ctx context.Context, scenarioID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, scenarioID)
	}
}

func (s *AllocatorService) observeConflict(scenarioID, organizationID string, attempt int) {
	if s.metrics != nil {
		s.metrics.ObserveAllocationConflict()
	}
	s.logger.Warn("allocation conflict, retrying",
		zap.String("scenario_id", scenarioID),
		zap.String("organization_id", organizationID),
		zap.Int("attempt", attempt))
}

func notFoundOrInternal(err error, notFoundMsg, internalMsg string) error {
	if err == sql.ErrNoRows {
		return appErrors.Clone(appErrors.ErrNotFound, notFoundMsg)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internalMsg)
}

func hasDuplicates(ids []string) bool {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}
