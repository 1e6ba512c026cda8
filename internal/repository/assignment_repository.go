package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/dueb-project/dueb-api/internal/models"
)

// ErrSequenceConflict marks a write rejected by one of the allocator's
// unique indexes (scenario+organization+number or scenario+button).
// The allocator treats it as retryable; it never reaches a caller raw.
var ErrSequenceConflict = errors.New("sequence conflict")

const pqUniqueViolation = "23505"

// Promotion describes the one-way transition of a queued placeholder
// into the assigned state.
type Promotion struct {
	AssignmentID     string
	OrganizationID   string
	SequentialNumber int
	ButtonNumber     string
}

// AssignmentRepository persists scenario assignments and owns the
// per-(scenario, organization) allocation counters.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// ReserveBlock atomically reserves n consecutive sequential numbers for the
// (scenario, organization) pair and returns the first and last of the run.
//
// The counter row is created lazily, seeded from the current maximum of the
// existing assignments, and only ever grows. Concurrent callers serialize on
// the row lock the upsert takes, so reserved runs never overlap. Deleting
// assignments leaves the counter untouched, which is what keeps issued
// numbers from ever being reused.
func (r *AssignmentRepository) ReserveBlock(ctx context.Context, scenarioID, organizationID string, n int) (int, int, error) {
	if n <= 0 {
		return 0, 0, fmt.Errorf("reserve block: non-positive size %d", n)
	}
	const query = `
INSERT INTO allocation_counters (scenario_id, organization_id, last_number)
VALUES ($1, $2, (
    SELECT COALESCE(MAX(sequential_number), 0) + $3
    FROM scenario_assignments
    WHERE scenario_id = $1 AND organization_id = $2))
ON CONFLICT (scenario_id, organization_id)
DO UPDATE SET last_number = allocation_counters.last_number + $3
RETURNING last_number`
	var last int
	if err := r.db.GetContext(ctx, &last, query, scenarioID, organizationID, n); err != nil {
		return 0, 0, fmt.Errorf("reserve allocation block: %w", translateConflict(err))
	}
	return last - n + 1, last, nil
}

// ApplyAllocation commits inserts and promotions as one transaction.
// Either every row lands or none does; a unique-index violation rolls the
// whole unit back and surfaces ErrSequenceConflict.
func (r *AssignmentRepository) ApplyAllocation(ctx context.Context, inserts []*models.Assignment, promotions []Promotion) error {
	if len(inserts) == 0 && len(promotions) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin allocation tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	const insertQuery = `INSERT INTO scenario_assignments
    (id, scenario_id, organization_id, victim_profile_id, sequential_number, button_number, created_at)
    VALUES (:id, :scenario_id, :organization_id, :victim_profile_id, :sequential_number, :button_number, :created_at)`
	for _, assignment := range inserts {
		if assignment.ID == "" {
			assignment.ID = uuid.NewString()
		}
		if assignment.CreatedAt.IsZero() {
			assignment.CreatedAt = now
		}
		if _, err := tx.NamedExecContext(ctx, insertQuery, assignment); err != nil {
			return fmt.Errorf("insert assignment: %w", translateConflict(err))
		}
	}

	// The guard on sequential_number keeps promotion one-way even when a
	// concurrent promoter slipped in between read and write.
	const promoteQuery = `UPDATE scenario_assignments
    SET organization_id = $2, sequential_number = $3, button_number = $4
    WHERE id = $1 AND sequential_number IS NULL`
	for _, p := range promotions {
		result, err := tx.ExecContext(ctx, promoteQuery, p.AssignmentID, p.OrganizationID, p.SequentialNumber, p.ButtonNumber)
		if err != nil {
			return fmt.Errorf("promote assignment: %w", translateConflict(err))
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check promoted assignment rows: %w", err)
		}
		if affected == 0 {
			return ErrSequenceConflict
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit allocation tx: %w", translateConflict(err))
	}
	return nil
}

// FindByID loads a single assignment.
func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	const query = `SELECT id, scenario_id, organization_id, victim_profile_id, sequential_number, button_number, created_at
FROM scenario_assignments WHERE id = $1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find assignment: %w", err)
	}
	return &assignment, nil
}

// FindByScenarioAndProfile returns the assignment binding the profile in the
// scenario, or sql.ErrNoRows when the profile is not part of it.
func (r *AssignmentRepository) FindByScenarioAndProfile(ctx context.Context, scenarioID, profileID string) (*models.Assignment, error) {
	const query = `SELECT id, scenario_id, organization_id, victim_profile_id, sequential_number, button_number, created_at
FROM scenario_assignments WHERE scenario_id = $1 AND victim_profile_id = $2`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, scenarioID, profileID); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find assignment by profile: %w", err)
	}
	return &assignment, nil
}

// ListByScenario returns the scenario roster ordered by organization, then
// sequential number. The search term matches button numbers and profile
// numbers, the two identifiers printed on badges.
func (r *AssignmentRepository) ListByScenario(ctx context.Context, scenarioID string, filter models.AssignmentFilter) ([]models.AssignmentDetail, error) {
	query := `
SELECT sa.id, sa.scenario_id, sa.organization_id, sa.victim_profile_id, sa.sequential_number, sa.button_number, sa.created_at,
       o.name AS organization_name, o.short_code AS short_code,
       vp.profile_number AS profile_number, vp.category AS profile_category
FROM scenario_assignments sa
LEFT JOIN organizations o ON o.id = sa.organization_id
JOIN victim_profiles vp ON vp.id = sa.victim_profile_id
WHERE sa.scenario_id = $1`
	args := []interface{}{scenarioID}
	if filter.OrganizationID != "" {
		args = append(args, filter.OrganizationID)
		query += fmt.Sprintf(" AND sa.organization_id = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += fmt.Sprintf(" AND (sa.button_number ILIKE $%d OR vp.profile_number ILIKE $%d)", len(args), len(args))
	}
	query += " ORDER BY sa.organization_id NULLS LAST, sa.sequential_number"

	var assignments []models.AssignmentDetail
	if err := r.db.SelectContext(ctx, &assignments, query, args...); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return assignments, nil
}

// MaxSequential reports the highest issued number for the pair, 0 when none.
func (r *AssignmentRepository) MaxSequential(ctx context.Context, scenarioID, organizationID string) (int, error) {
	const query = `SELECT COALESCE(MAX(sequential_number), 0) FROM scenario_assignments
WHERE scenario_id = $1 AND organization_id = $2`
	var max int
	if err := r.db.GetContext(ctx, &max, query, scenarioID, organizationID); err != nil {
		return 0, fmt.Errorf("max sequential number: %w", err)
	}
	return max, nil
}

// Delete removes an assignment. The allocation counter is left alone, so the
// freed number is never reissued.
func (r *AssignmentRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM scenario_assignments WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check deleted assignment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountByOrganization counts assignments referencing the organization across
// all scenarios. Used to freeze short codes once badges may exist.
func (r *AssignmentRepository) CountByOrganization(ctx context.Context, organizationID string) (int, error) {
	const query = `SELECT COUNT(*) FROM scenario_assignments WHERE organization_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, organizationID); err != nil {
		return 0, fmt.Errorf("count assignments by organization: %w", err)
	}
	return count, nil
}

func translateConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return ErrSequenceConflict
	}
	return err
}
