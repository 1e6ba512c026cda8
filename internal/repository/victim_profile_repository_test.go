package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVictimProfileRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestVictimProfileRepositoryExistingIDs(t *testing.T) {
	db, mock, cleanup := newVictimProfileRepoMock(t)
	defer cleanup()
	repo := NewVictimProfileRepository(db)

	rows := sqlmock.NewRows([]string{"id"}).AddRow("vp1").AddRow("vp3")
	mock.ExpectQuery("SELECT id FROM victim_profiles WHERE id IN").
		WithArgs("vp1", "vp2", "vp3").
		WillReturnRows(rows)

	existing, err := repo.ExistingIDs(context.Background(), []string{"vp1", "vp2", "vp3"})
	require.NoError(t, err)
	assert.Len(t, existing, 2)
	_, ok := existing["vp2"]
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVictimProfileRepositoryExistingIDsEmptyInput(t *testing.T) {
	db, mock, cleanup := newVictimProfileRepoMock(t)
	defer cleanup()
	repo := NewVictimProfileRepository(db)

	existing, err := repo.ExistingIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, existing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVictimProfileRepositoryListUnassigned(t *testing.T) {
	db, mock, cleanup := newVictimProfileRepoMock(t)
	defer cleanup()
	repo := NewVictimProfileRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "profile_number", "category", "diagnosis", "expected_med_action", "comment", "created_at", "updated_at"}).
		AddRow("vp1", "P-001", "red", nil, nil, nil, now, now)
	mock.ExpectQuery("WHERE id NOT IN").
		WithArgs("scn1").
		WillReturnRows(rows)

	profiles, err := repo.ListUnassigned(context.Background(), "scn1")
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "vp1", profiles[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
