package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dueb-project/dueb-api/internal/models"
	appErrors "github.com/dueb-project/dueb-api/pkg/errors"
)

type mockScenarioRepo struct {
	items map[string]*models.Scenario
	stats []models.CategoryStat
}

func (m *mockScenarioRepo) List(ctx context.Context) ([]models.Scenario, error) {
	scenarios := make([]models.Scenario, 0, len(m.items))
	for _, scenario := range m.items {
		scenarios = append(scenarios, *scenario)
	}
	return scenarios, nil
}

func (m *mockScenarioRepo) FindByID(ctx context.Context, id string) (*models.Scenario, error) {
	if scenario, ok := m.items[id]; ok {
		cp := *scenario
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockScenarioRepo) Count(ctx context.Context) (int, error) {
	return len(m.items), nil
}

func (m *mockScenarioRepo) Create(ctx context.Context, scenario *models.Scenario) error {
	if m.items == nil {
		m.items = make(map[string]*models.Scenario)
	}
	if scenario.ID == "" {
		scenario.ID = "generated"
	}
	cp := *scenario
	m.items[scenario.ID] = &cp
	return nil
}

func (m *mockScenarioRepo) Update(ctx context.Context, scenario *models.Scenario) error {
	if _, ok := m.items[scenario.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *scenario
	m.items[scenario.ID] = &cp
	return nil
}

func (m *mockScenarioRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.items[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.items, id)
	return nil
}

func (m *mockScenarioRepo) CategoryStats(ctx context.Context, scenarioID string) ([]models.CategoryStat, error) {
	return m.stats, nil
}

type mockUnassignedLister struct {
	profiles []models.VictimProfile
}

func (m *mockUnassignedLister) ListUnassigned(ctx context.Context, scenarioID string) ([]models.VictimProfile, error) {
	return m.profiles, nil
}

func TestScenarioServiceCreateEnforcesSingleton(t *testing.T) {
	repo := &mockScenarioRepo{}
	svc := NewScenarioService(repo, &mockUnassignedLister{}, validator.New(), zap.NewNop())

	first, err := svc.Create(context.Background(), CreateScenarioRequest{Name: "Drill A"})
	require.NoError(t, err)
	assert.Equal(t, "Drill A", first.Name)

	_, err = svc.Create(context.Background(), CreateScenarioRequest{Name: "Drill B"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrScenarioExists.Code, appErrors.FromError(err).Code)
	assert.Len(t, repo.items, 1)
}

func TestScenarioServiceCreateAfterDelete(t *testing.T) {
	repo := &mockScenarioRepo{}
	svc := NewScenarioService(repo, &mockUnassignedLister{}, validator.New(), zap.NewNop())

	first, err := svc.Create(context.Background(), CreateScenarioRequest{Name: "Drill A"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(context.Background(), first.ID))

	_, err = svc.Create(context.Background(), CreateScenarioRequest{Name: "Drill B"})
	require.NoError(t, err)
}

func TestScenarioServiceStats(t *testing.T) {
	repo := &mockScenarioRepo{
		items: map[string]*models.Scenario{"scn1": {ID: "scn1", Name: "Drill"}},
		stats: []models.CategoryStat{{Category: "red", Count: 4}, {Category: "green", Count: 9}},
	}
	svc := NewScenarioService(repo, &mockUnassignedLister{}, validator.New(), zap.NewNop())

	stats, err := svc.Stats(context.Background(), "scn1")
	require.NoError(t, err)
	assert.Len(t, stats, 2)

	_, err = svc.Stats(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestScenarioServiceUnassignedProfiles(t *testing.T) {
	number := "P-001"
	repo := &mockScenarioRepo{items: map[string]*models.Scenario{"scn1": {ID: "scn1", Name: "Drill"}}}
	lister := &mockUnassignedLister{profiles: []models.VictimProfile{{ID: "vp1", ProfileNumber: &number}}}
	svc := NewScenarioService(repo, lister, validator.New(), zap.NewNop())

	profiles, err := svc.UnassignedProfiles(context.Background(), "scn1")
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "vp1", profiles[0].ID)
}
