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

// VictimProfileRepository persists the simulated-patient catalog.
type VictimProfileRepository struct {
	db *sqlx.DB
}

// NewVictimProfileRepository constructs the repository.
func NewVictimProfileRepository(db *sqlx.DB) *VictimProfileRepository {
	return &VictimProfileRepository{db: db}
}

const victimProfileColumns = `id, profile_number, category, diagnosis, expected_med_action, comment, created_at, updated_at`

// List returns catalog entries matching the filter plus the total count.
func (r *VictimProfileRepository) List(ctx context.Context, filter models.VictimProfileFilter) ([]models.VictimProfile, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where += fmt.Sprintf(" AND (profile_number ILIKE $%d OR diagnosis ILIKE $%d)", len(args), len(args))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where += fmt.Sprintf(" AND category = $%d", len(args))
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM victim_profiles"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count victim profiles: %w", err)
	}

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	args = append(args, size, (page-1)*size)
	query := fmt.Sprintf(`SELECT %s FROM victim_profiles%s ORDER BY profile_number NULLS LAST LIMIT $%d OFFSET $%d`,
		victimProfileColumns, where, len(args)-1, len(args))

	var profiles []models.VictimProfile
	if err := r.db.SelectContext(ctx, &profiles, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list victim profiles: %w", err)
	}
	return profiles, total, nil
}

// FindByID loads one profile.
func (r *VictimProfileRepository) FindByID(ctx context.Context, id string) (*models.VictimProfile, error) {
	query := fmt.Sprintf(`SELECT %s FROM victim_profiles WHERE id = $1`, victimProfileColumns)
	var profile models.VictimProfile
	if err := r.db.GetContext(ctx, &profile, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find victim profile: %w", err)
	}
	return &profile, nil
}

// ExistingIDs returns which of the given profile ids are present in the
// catalog. The allocator uses it to validate batches up front.
func (r *VictimProfileRepository) ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}
	query, args, err := sqlx.In(`SELECT id FROM victim_profiles WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build profile id query: %w", err)
	}
	query = r.db.Rebind(query)
	var found []string
	if err := r.db.SelectContext(ctx, &found, query, args...); err != nil {
		return nil, fmt.Errorf("check profile ids: %w", err)
	}
	for _, id := range found {
		existing[id] = struct{}{}
	}
	return existing, nil
}

// ListUnassigned returns catalog entries not yet attached to the scenario.
func (r *VictimProfileRepository) ListUnassigned(ctx context.Context, scenarioID string) ([]models.VictimProfile, error) {
	query := fmt.Sprintf(`SELECT %s FROM victim_profiles
WHERE id NOT IN (SELECT victim_profile_id FROM scenario_assignments WHERE scenario_id = $1)
ORDER BY profile_number NULLS LAST`, victimProfileColumns)
	var profiles []models.VictimProfile
	if err := r.db.SelectContext(ctx, &profiles, query, scenarioID); err != nil {
		return nil, fmt.Errorf("list unassigned profiles: %w", err)
	}
	return profiles, nil
}

// Create inserts a new profile.
func (r *VictimProfileRepository) Create(ctx context.Context, profile *models.VictimProfile) error {
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	const query = `INSERT INTO victim_profiles (id, profile_number, category, diagnosis, expected_med_action, comment, created_at, updated_at)
		VALUES (:id, :profile_number, :category, :diagnosis, :expected_med_action, :comment, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, profile); err != nil {
		return fmt.Errorf("create victim profile: %w", err)
	}
	return nil
}

// Update rewrites mutable catalog fields.
func (r *VictimProfileRepository) Update(ctx context.Context, profile *models.VictimProfile) error {
	profile.UpdatedAt = time.Now().UTC()
	const query = `UPDATE victim_profiles
		SET profile_number = :profile_number, category = :category, diagnosis = :diagnosis,
		    expected_med_action = :expected_med_action, comment = :comment, updated_at = :updated_at
		WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, profile)
	if err != nil {
		return fmt.Errorf("update victim profile: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check updated profile rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a profile from the catalog.
func (r *VictimProfileRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM victim_profiles WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete victim profile: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check deleted profile rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
