package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dueb-project/dueb-api/internal/models"
)

func newOrganizationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestOrganizationRepositoryList(t *testing.T) {
	db, mock, cleanup := newOrganizationRepoMock(t)
	defer cleanup()
	repo := NewOrganizationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM organizations")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	rows := sqlmock.NewRows([]string{"id", "name", "short_code", "created_at", "updated_at"}).
		AddRow("org1", "Red Cross", "DRK", time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, short_code, created_at, updated_at FROM organizations ORDER BY name ASC LIMIT $1 OFFSET $2")).
		WithArgs(20, 0).
		WillReturnRows(rows)

	organizations, total, err := repo.List(context.Background(), models.OrganizationFilter{})
	require.NoError(t, err)
	assert.Len(t, organizations, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrganizationRepositoryExistsByShortCode(t *testing.T) {
	db, mock, cleanup := newOrganizationRepoMock(t)
	defer cleanup()
	repo := NewOrganizationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM organizations WHERE UPPER(short_code) = UPPER($1) AND id <> $2 LIMIT 1")).
		WithArgs("DRK", "").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	exists, err := repo.ExistsByShortCode(context.Background(), "DRK", "")
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM organizations WHERE UPPER(short_code) = UPPER($1) AND id <> $2 LIMIT 1")).
		WithArgs("NEW", "").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	exists, err = repo.ExistsByShortCode(context.Background(), "NEW", "")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrganizationRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newOrganizationRepoMock(t)
	defer cleanup()
	repo := NewOrganizationRepository(db)

	mock.ExpectExec("INSERT INTO organizations").
		WillReturnResult(sqlmock.NewResult(0, 1))

	organization := &models.Organization{Name: "Red Cross", ShortCode: "DRK"}
	require.NoError(t, repo.Create(context.Background(), organization))
	assert.NotEmpty(t, organization.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
