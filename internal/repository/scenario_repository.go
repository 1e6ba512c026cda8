package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/dueb-project/dueb-api/internal/models"
)

// ScenarioRepository persists drill scenarios.
type ScenarioRepository struct {
	db *sqlx.DB
}

// NewScenarioRepository constructs the repository.
func NewScenarioRepository(db *sqlx.DB) *ScenarioRepository {
	return &ScenarioRepository{db: db}
}

// List returns all scenarios, newest first. In practice there is at most one.
func (r *ScenarioRepository) List(ctx context.Context) ([]models.Scenario, error) {
	const query = `SELECT id, name, date, description, created_at, updated_at FROM scenarios ORDER BY created_at DESC`
	var scenarios []models.Scenario
	if err := r.db.SelectContext(ctx, &scenarios, query); err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	return scenarios, nil
}

// FindByID loads one scenario.
func (r *ScenarioRepository) FindByID(ctx context.Context, id string) (*models.Scenario, error) {
	const query = `SELECT id, name, date, description, created_at, updated_at FROM scenarios WHERE id = $1`
	var scenario models.Scenario
	if err := r.db.GetContext(ctx, &scenario, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find scenario: %w", err)
	}
	return &scenario, nil
}

// Count reports how many scenarios exist. The creation path uses it to
// enforce the single-scenario rule.
func (r *ScenarioRepository) Count(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM scenarios`
	var count int
	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("count scenarios: %w", err)
	}
	return count, nil
}

// Create inserts a new scenario.
func (r *ScenarioRepository) Create(ctx context.Context, scenario *models.Scenario) error {
	if scenario.ID == "" {
		scenario.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if scenario.CreatedAt.IsZero() {
		scenario.CreatedAt = now
	}
	scenario.UpdatedAt = now
	const query = `INSERT INTO scenarios (id, name, date, description, created_at, updated_at)
		VALUES (:id, :name, :date, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, scenario); err != nil {
		return fmt.Errorf("create scenario: %w", err)
	}
	return nil
}

// Update rewrites scenario attributes.
func (r *ScenarioRepository) Update(ctx context.Context, scenario *models.Scenario) error {
	scenario.UpdatedAt = time.Now().UTC()
	const query = `UPDATE scenarios SET name = :name, date = :date, description = :description, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, scenario)
	if err != nil {
		return fmt.Errorf("update scenario: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check updated scenario rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a scenario. Assignments and allocation counters go with it
// via ON DELETE CASCADE.
func (r *ScenarioRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM scenarios WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete scenario: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check deleted scenario rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CategoryStats counts assignments per profile category within the scenario.
func (r *ScenarioRepository) CategoryStats(ctx context.Context, scenarioID string) ([]models.CategoryStat, error) {
	const query = `
SELECT COALESCE(vp.category, '') AS category, COUNT(sa.id) AS count
FROM scenario_assignments sa
JOIN victim_profiles vp ON vp.id = sa.victim_profile_id
WHERE sa.scenario_id = $1
GROUP BY vp.category
ORDER BY vp.category`
	var stats []models.CategoryStat
	if err := r.db.SelectContext(ctx, &stats, query, scenarioID); err != nil {
		return nil, fmt.Errorf("scenario category stats: %w", err)
	}
	return stats, nil
}
