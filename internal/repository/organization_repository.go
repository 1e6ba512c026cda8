package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/dueb-project/dueb-api/internal/models"
)

// OrganizationRepository persists participating organizations.
type OrganizationRepository struct {
	db *sqlx.DB
}

// NewOrganizationRepository constructs the repository.
func NewOrganizationRepository(db *sqlx.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// List returns organizations matching the filter plus the total count.
func (r *OrganizationRepository) List(ctx context.Context, filter models.OrganizationFilter) ([]models.Organization, int, error) {
	where := ""
	args := []interface{}{}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = " WHERE (name ILIKE $1 OR short_code ILIKE $1)"
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM organizations"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count organizations: %w", err)
	}

	order := "name ASC"
	if filter.SortBy == "short_code" {
		order = "short_code ASC"
	}
	if strings.EqualFold(filter.SortOrder, "desc") {
		order = strings.Replace(order, "ASC", "DESC", 1)
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
	query := fmt.Sprintf(`SELECT id, name, short_code, created_at, updated_at FROM organizations%s ORDER BY %s LIMIT $%d OFFSET $%d`,
		where, order, len(args)-1, len(args))

	var organizations []models.Organization
	if err := r.db.SelectContext(ctx, &organizations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list organizations: %w", err)
	}
	return organizations, total, nil
}

// FindByID loads one organization.
func (r *OrganizationRepository) FindByID(ctx context.Context, id string) (*models.Organization, error) {
	const query = `SELECT id, name, short_code, created_at, updated_at FROM organizations WHERE id = $1`
	var organization models.Organization
	if err := r.db.GetContext(ctx, &organization, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find organization: %w", err)
	}
	return &organization, nil
}

// ExistsByName checks name uniqueness, optionally excluding a record.
func (r *OrganizationRepository) ExistsByName(ctx context.Context, name, excludeID string) (bool, error) {
	const query = `SELECT 1 FROM organizations WHERE LOWER(name) = LOWER($1) AND id <> $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, name, excludeID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check organization name: %w", err)
	}
	return true, nil
}

// ExistsByShortCode checks short-code uniqueness, optionally excluding a record.
func (r *OrganizationRepository) ExistsByShortCode(ctx context.Context, shortCode, excludeID string) (bool, error) {
	const query = `SELECT 1 FROM organizations WHERE UPPER(short_code) = UPPER($1) AND id <> $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, shortCode, excludeID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check organization short code: %w", err)
	}
	return true, nil
}

// Create inserts a new organization.
func (r *OrganizationRepository) Create(ctx context.Context, organization *models.Organization) error {
	if organization.ID == "" {
		organization.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if organization.CreatedAt.IsZero() {
		organization.CreatedAt = now
	}
	organization.UpdatedAt = now
	const query = `INSERT INTO organizations (id, name, short_code, created_at, updated_at)
		VALUES (:id, :name, :short_code, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, organization); err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

// Update rewrites name and short code. The service layer rejects short-code
// changes once assignments reference the organization.
func (r *OrganizationRepository) Update(ctx context.Context, organization *models.Organization) error {
	organization.UpdatedAt = time.Now().UTC()
	const query = `UPDATE organizations SET name = :name, short_code = :short_code, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, organization)
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check updated organization rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes an organization.
func (r *OrganizationRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM organizations WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete organization: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check deleted organization rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
