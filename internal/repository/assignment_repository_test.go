package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dueb-project/dueb-api/internal/models"
)

func newAssignmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestAssignmentRepositoryReserveBlock(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	mock.ExpectQuery("INSERT INTO allocation_counters").
		WithArgs("scn1", "org1", 3).
		WillReturnRows(sqlmock.NewRows([]string{"last_number"}).AddRow(7))

	first, last, err := repo.ReserveBlock(context.Background(), "scn1", "org1", 3)
	require.NoError(t, err)
	assert.Equal(t, 5, first)
	assert.Equal(t, 7, last)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryReserveBlockRejectsNonPositive(t *testing.T) {
	db, _, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	_, _, err := repo.ReserveBlock(context.Background(), "scn1", "org1", 0)
	require.Error(t, err)
}

func TestAssignmentRepositoryReserveBlockTranslatesUniqueViolation(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	mock.ExpectQuery("INSERT INTO allocation_counters").
		WithArgs("scn1", "org1", 1).
		WillReturnError(&pq.Error{Code: "23505"})

	_, _, err := repo.ReserveBlock(context.Background(), "scn1", "org1", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSequenceConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryApplyAllocationInsertsAndPromotes(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	orgID := "org1"
	number := 4
	button := "DRK04"

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO scenario_assignments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE scenario_assignments").
		WithArgs("a-queued", "org1", 5, "DRK05").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inserts := []*models.Assignment{{
		ScenarioID:       "scn1",
		OrganizationID:   &orgID,
		VictimProfileID:  "vp1",
		SequentialNumber: &number,
		ButtonNumber:     &button,
	}}
	promotions := []Promotion{{
		AssignmentID:     "a-queued",
		OrganizationID:   "org1",
		SequentialNumber: 5,
		ButtonNumber:     "DRK05",
	}}

	err := repo.ApplyAllocation(context.Background(), inserts, promotions)
	require.NoError(t, err)
	assert.NotEmpty(t, inserts[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryApplyAllocationRollsBackLostPromotion(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	// a concurrent promoter already set the number, the guard matches no rows
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE scenario_assignments").
		WithArgs("a-queued", "org1", 5, "DRK05").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ApplyAllocation(context.Background(), nil, []Promotion{{
		AssignmentID:     "a-queued",
		OrganizationID:   "org1",
		SequentialNumber: 5,
		ButtonNumber:     "DRK05",
	}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSequenceConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryApplyAllocationNoopOnEmptyInput(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	require.NoError(t, repo.ApplyAllocation(context.Background(), nil, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryFindByScenarioAndProfile(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "scenario_id", "organization_id", "victim_profile_id", "sequential_number", "button_number", "created_at"}).
		AddRow("a1", "scn1", nil, "vp1", nil, nil, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, scenario_id, organization_id, victim_profile_id, sequential_number, button_number, created_at\nFROM scenario_assignments WHERE scenario_id = $1 AND victim_profile_id = $2")).
		WithArgs("scn1", "vp1").
		WillReturnRows(rows)

	assignment, err := repo.FindByScenarioAndProfile(context.Background(), "scn1", "vp1")
	require.NoError(t, err)
	assert.Equal(t, "a1", assignment.ID)
	assert.False(t, assignment.Assigned())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryListByScenarioFilters(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	orgID := "org1"
	number := 1
	rows := sqlmock.NewRows([]string{
		"id", "scenario_id", "organization_id", "victim_profile_id", "sequential_number", "button_number", "created_at",
		"organization_name", "short_code", "profile_number", "profile_category",
	}).AddRow("a1", "scn1", orgID, "vp1", number, "DRK01", time.Now(), "Red Cross", "DRK", "P-001", "red")

	mock.ExpectQuery("FROM scenario_assignments sa").
		WithArgs("scn1", "org1", "%DRK%").
		WillReturnRows(rows)

	roster, err := repo.ListByScenario(context.Background(), "scn1", models.AssignmentFilter{
		OrganizationID: "org1",
		Search:         "DRK",
	})
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "DRK01", *roster[0].ButtonNumber)
	assert.Equal(t, "Red Cross", *roster[0].OrganizationName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryDeleteMissingRow(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM scenario_assignments WHERE id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "missing")
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryCountByOrganization(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM scenario_assignments WHERE organization_id = $1")).
		WithArgs("org1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.CountByOrganization(context.Background(), "org1")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
