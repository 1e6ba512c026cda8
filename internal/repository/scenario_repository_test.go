package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScenarioRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestScenarioRepositoryCount(t *testing.T) {
	db, mock, cleanup := newScenarioRepoMock(t)
	defer cleanup()
	repo := NewScenarioRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM scenarios")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScenarioRepositoryCategoryStats(t *testing.T) {
	db, mock, cleanup := newScenarioRepoMock(t)
	defer cleanup()
	repo := NewScenarioRepository(db)

	rows := sqlmock.NewRows([]string{"category", "count"}).
		AddRow("green", 9).
		AddRow("red", 4)
	mock.ExpectQuery("FROM scenario_assignments sa").
		WithArgs("scn1").
		WillReturnRows(rows)

	stats, err := repo.CategoryStats(context.Background(), "scn1")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "green", stats[0].Category)
	assert.Equal(t, 9, stats[0].Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
