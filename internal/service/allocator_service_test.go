package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dueb-project/dueb-api/internal/models"
	"github.com/dueb-project/dueb-api/internal/repository"
	appErrors "github.com/dueb-project/dueb-api/pkg/errors"
)

type fakeAllocatorStore struct {
	mu       sync.Mutex
	counters map[string]int
	rows     map[string]*models.Assignment
	orgs     map[string]*models.Organization
	profiles map[string]*models.VictimProfile
	nextID   int

	reserveConflicts int
	applyConflicts   int

	// beforeApply runs under the store lock right before ApplyAllocation
	// proceeds, letting a test interleave a competing writer.
	beforeApply func(*fakeAllocatorStore)
}

func newFakeStore() *fakeAllocatorStore {
	return &fakeAllocatorStore{
		counters: make(map[string]int),
		rows:     make(map[string]*models.Assignment),
		orgs:     make(map[string]*models.Organization),
		profiles: make(map[string]*models.VictimProfile),
	}
}

func pairKey(scenarioID, organizationID string) string {
	return scenarioID + "|" + organizationID
}

func (f *fakeAllocatorStore) ReserveBlock(ctx context.Context, scenarioID, organizationID string, n int) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveConflicts > 0 {
		f.reserveConflicts--
		return 0, 0, repository.ErrSequenceConflict
	}
	key := pairKey(scenarioID, organizationID)
	if _, ok := f.counters[key]; !ok {
		max := 0
		for _, row := range f.rows {
			if row.ScenarioID == scenarioID && row.OrganizationID != nil && *row.OrganizationID == organizationID &&
				row.SequentialNumber != nil && *row.SequentialNumber > max {
				max = *row.SequentialNumber
			}
		}
		f.counters[key] = max
	}
	f.counters[key] += n
	last := f.counters[key]
	return last - n + 1, last, nil
}

func (f *fakeAllocatorStore) ApplyAllocation(ctx context.Context, inserts []*models.Assignment, promotions []repository.Promotion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beforeApply != nil {
		f.beforeApply(f)
	}
	if f.applyConflicts > 0 {
		f.applyConflicts--
		return repository.ErrSequenceConflict
	}
	for _, insert := range inserts {
		for _, row := range f.rows {
			if row.ScenarioID == insert.ScenarioID && row.VictimProfileID == insert.VictimProfileID {
				return repository.ErrSequenceConflict
			}
		}
		f.nextID++
		insert.ID = fmt.Sprintf("a%d", f.nextID)
		cp := *insert
		f.rows[insert.ID] = &cp
	}
	for _, p := range promotions {
		row, ok := f.rows[p.AssignmentID]
		if !ok || row.SequentialNumber != nil {
			return repository.ErrSequenceConflict
		}
		orgID := p.OrganizationID
		number := p.SequentialNumber
		button := p.ButtonNumber
		row.OrganizationID = &orgID
		row.SequentialNumber = &number
		row.ButtonNumber = &button
	}
	return nil
}

func (f *fakeAllocatorStore) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *row
	return &cp, nil
}

func (f *fakeAllocatorStore) FindByScenarioAndProfile(ctx context.Context, scenarioID, profileID string) (*models.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.ScenarioID == scenarioID && row.VictimProfileID == profileID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeAllocatorStore) ListByScenario(ctx context.Context, scenarioID string, filter models.AssignmentFilter) ([]models.AssignmentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var details []models.AssignmentDetail
	for _, row := range f.rows {
		if row.ScenarioID != scenarioID {
			continue
		}
		if filter.OrganizationID != "" && (row.OrganizationID == nil || *row.OrganizationID != filter.OrganizationID) {
			continue
		}
		detail := models.AssignmentDetail{Assignment: *row}
		if row.OrganizationID != nil {
			if org, ok := f.orgs[*row.OrganizationID]; ok {
				detail.OrganizationName = &org.Name
				detail.ShortCode = &org.ShortCode
			}
		}
		if profile, ok := f.profiles[row.VictimProfileID]; ok {
			detail.ProfileNumber = profile.ProfileNumber
			detail.ProfileCategory = profile.Category
		}
		details = append(details, detail)
	}
	sort.Slice(details, func(i, j int) bool {
		a, b := details[i], details[j]
		if a.SequentialNumber == nil {
			return false
		}
		if b.SequentialNumber == nil {
			return true
		}
		return *a.SequentialNumber < *b.SequentialNumber
	})
	return details, nil
}

func (f *fakeAllocatorStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.rows, id)
	return nil
}

type fakeScenarios struct {
	items map[string]*models.Scenario
}

func (f *fakeScenarios) FindByID(ctx context.Context, id string) (*models.Scenario, error) {
	if scenario, ok := f.items[id]; ok {
		cp := *scenario
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

type fakeOrganizations struct {
	items map[string]*models.Organization
}

func (f *fakeOrganizations) FindByID(ctx context.Context, id string) (*models.Organization, error) {
	if org, ok := f.items[id]; ok {
		cp := *org
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

type fakeProfiles struct {
	items map[string]*models.VictimProfile
}

func (f *fakeProfiles) FindByID(ctx context.Context, id string) (*models.VictimProfile, error) {
	if profile, ok := f.items[id]; ok {
		cp := *profile
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeProfiles) ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := f.items[id]; ok {
			existing[id] = struct{}{}
		}
	}
	return existing, nil
}

type countingObserver struct {
	mu          sync.Mutex
	allocations map[string]int
	conflicts   int
}

func (c *countingObserver) ObserveAllocation(outcome string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.allocations == nil {
		c.allocations = make(map[string]int)
	}
	c.allocations[outcome] += count
}

func (c *countingObserver) ObserveAllocationConflict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts++
}

type allocatorFixture struct {
	store     *fakeAllocatorStore
	scenarios *fakeScenarios
	orgs      *fakeOrganizations
	profiles  *fakeProfiles
	metrics   *countingObserver
	service   *AllocatorService
}

func newAllocatorFixture(profileCount int) *allocatorFixture {
	store := newFakeStore()
	scenarios := &fakeScenarios{items: map[string]*models.Scenario{
		"scn1": {ID: "scn1", Name: "Mass Casualty Drill"},
	}}
	orgs := &fakeOrganizations{items: map[string]*models.Organization{
		"org-drk":  {ID: "org-drk", Name: "Red Cross", ShortCode: "DRK"},
		"org-hosp": {ID: "org-hosp", Name: "City Hospital", ShortCode: "HOSP"},
	}}
	profiles := &fakeProfiles{items: map[string]*models.VictimProfile{}}
	for i := 1; i <= profileCount; i++ {
		id := fmt.Sprintf("vp%d", i)
		number := fmt.Sprintf("P-%03d", i)
		category := "red"
		profiles.items[id] = &models.VictimProfile{ID: id, ProfileNumber: &number, Category: &category}
	}
	store.orgs = orgs.items
	store.profiles = profiles.items

	metrics := &countingObserver{}
	svc := NewAllocatorService(store, scenarios, orgs, profiles, nil, metrics, 5, validator.New(), zap.NewNop())
	return &allocatorFixture{store: store, scenarios: scenarios, orgs: orgs, profiles: profiles, metrics: metrics, service: svc}
}

func TestFormatButtonNumber(t *testing.T) {
	assert.Equal(t, "DRK07", FormatButtonNumber("DRK", 7))
	assert.Equal(t, "DRK01", FormatButtonNumber("DRK", 1))
	assert.Equal(t, "DRK123", FormatButtonNumber("DRK", 123))
	assert.Equal(t, "HOSP05", FormatButtonNumber("HOSP", 5))
}

func TestAllocateOneIssuesSequentialNumbers(t *testing.T) {
	fx := newAllocatorFixture(3)

	for i := 1; i <= 3; i++ {
		assignment, err := fx.service.AllocateOne(context.Background(), AllocateOneRequest{
			ScenarioID:      "scn1",
			OrganizationID:  "org-drk",
			VictimProfileID: fmt.Sprintf("vp%d", i),
		})
		require.NoError(t, err)
		require.NotNil(t, assignment.SequentialNumber)
		assert.Equal(t, i, *assignment.SequentialNumber)
		assert.Equal(t, fmt.Sprintf("DRK%02d", i), *assignment.ButtonNumber)
	}
	assert.Equal(t, 3, fx.metrics.allocations["allocate_one"])
}

func TestAllocateOneRejectsAssignedProfile(t *testing.T) {
	fx := newAllocatorFixture(1)
	req := AllocateOneRequest{ScenarioID: "scn1", OrganizationID: "org-drk", VictimProfileID: "vp1"}

	_, err := fx.service.AllocateOne(context.Background(), req)
	require.NoError(t, err)

	_, err = fx.service.AllocateOne(context.Background(), req)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrDuplicateProfile.Code, appErr.Code)
	assert.Len(t, fx.store.rows, 1)
}

func TestAllocateOnePromotesQueuedPlaceholder(t *testing.T) {
	fx := newAllocatorFixture(1)

	queued, err := fx.service.Queue(context.Background(), QueueRequest{
		ScenarioID:       "scn1",
		VictimProfileIDs: []string{"vp1"},
	})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	require.Nil(t, queued[0].SequentialNumber)

	assignment, err := fx.service.AllocateOne(context.Background(), AllocateOneRequest{
		ScenarioID:      "scn1",
		OrganizationID:  "org-drk",
		VictimProfileID: "vp1",
	})
	require.NoError(t, err)
	assert.Equal(t, queued[0].ID, assignment.ID)
	assert.Equal(t, 1, *assignment.SequentialNumber)
	assert.Equal(t, "DRK01", *assignment.ButtonNumber)
	assert.Len(t, fx.store.rows, 1)
}

func TestAllocateBatchIssuesContiguousRun(t *testing.T) {
	fx := newAllocatorFixture(5)

	results, err := fx.service.AllocateBatch(context.Background(), AllocateBatchRequest{
		ScenarioID:       "scn1",
		OrganizationID:   "org-drk",
		VictimProfileIDs: []string{"vp1", "vp2", "vp3", "vp4"},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, result := range results {
		assert.Equal(t, i+1, *result.SequentialNumber)
	}

	single, err := fx.service.AllocateOne(context.Background(), AllocateOneRequest{
		ScenarioID:      "scn1",
		OrganizationID:  "org-drk",
		VictimProfileID: "vp5",
	})
	require.NoError(t, err)
	assert.Equal(t, 5, *single.SequentialNumber)
}

func TestAllocateBatchRejectsInvalidIDsAtomically(t *testing.T) {
	fx := newAllocatorFixture(2)

	_, err := fx.service.AllocateOne(context.Background(), AllocateOneRequest{
		ScenarioID:      "scn1",
		OrganizationID:  "org-drk",
		VictimProfileID: "vp1",
	})
	require.NoError(t, err)

	_, err = fx.service.AllocateBatch(context.Background(), AllocateBatchRequest{
		ScenarioID:       "scn1",
		OrganizationID:   "org-drk",
		VictimProfileIDs: []string{"vp1", "vp2", "ghost"},
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrBatchAllocationFailed.Code, appErr.Code)
	details, ok := appErr.Details.(map[string]interface{})
	require.True(t, ok)
	invalid, ok := details["invalid_profile_ids"].([]string)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"vp1", "ghost"}, invalid)
	// only the single allocation from the setup landed
	assert.Len(t, fx.store.rows, 1)
	assert.Equal(t, 1, fx.store.counters[pairKey("scn1", "org-drk")])
}

func TestAllocateBatchRejectsDuplicateIDs(t *testing.T) {
	fx := newAllocatorFixture(2)

	_, err := fx.service.AllocateBatch(context.Background(), AllocateBatchRequest{
		ScenarioID:       "scn1",
		OrganizationID:   "org-drk",
		VictimProfileIDs: []string{"vp1", "vp1"},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAllocateBatchPromotesQueuedPlaceholders(t *testing.T) {
	fx := newAllocatorFixture(3)

	queued, err := fx.service.Queue(context.Background(), QueueRequest{
		ScenarioID:       "scn1",
		VictimProfileIDs: []string{"vp2"},
	})
	require.NoError(t, err)
	require.Len(t, queued, 1)

	results, err := fx.service.AllocateBatch(context.Background(), AllocateBatchRequest{
		ScenarioID:       "scn1",
		OrganizationID:   "org-drk",
		VictimProfileIDs: []string{"vp1", "vp2", "vp3"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Len(t, fx.store.rows, 3)

	numbers := make([]int, 0, 3)
	for _, result := range results {
		numbers = append(numbers, *result.SequentialNumber)
	}
	assert.Equal(t, []int{1, 2, 3}, numbers)
}

func TestPromoteIsOneWay(t *testing.T) {
	fx := newAllocatorFixture(1)

	assignment, err := fx.service.AllocateOne(context.Background(), AllocateOneRequest{
		ScenarioID:      "scn1",
		OrganizationID:  "org-drk",
		VictimProfileID: "vp1",
	})
	require.NoError(t, err)

	_, err = fx.service.PromoteToOrganization(context.Background(), assignment.ID, "org-hosp")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyAssigned.Code, appErrors.FromError(err).Code)

	stored := fx.store.rows[assignment.ID]
	assert.Equal(t, "org-drk", *stored.OrganizationID)
	assert.Equal(t, 1, *stored.SequentialNumber)
}

func TestQueueIsIdempotent(t *testing.T) {
	fx := newAllocatorFixture(2)

	first, err := fx.service.Queue(context.Background(), QueueRequest{
		ScenarioID:       "scn1",
		VictimProfileIDs: []string{"vp1", "vp2"},
	})
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := fx.service.Queue(context.Background(), QueueRequest{
		ScenarioID:       "scn1",
		VictimProfileIDs: []string{"vp1", "vp2"},
	})
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, fx.store.rows, 2)
}

func TestRemoveNeverFreesNumbers(t *testing.T) {
	fx := newAllocatorFixture(4)

	var last *models.Assignment
	for i := 1; i <= 3; i++ {
		assignment, err := fx.service.AllocateOne(context.Background(), AllocateOneRequest{
			ScenarioID:      "scn1",
			OrganizationID:  "org-drk",
			VictimProfileID: fmt.Sprintf("vp%d", i),
		})
		require.NoError(t, err)
		last = assignment
	}

	require.NoError(t, fx.service.Remove(context.Background(), last.ID))

	next, err := fx.service.AllocateOne(context.Background(), AllocateOneRequest{
		ScenarioID:      "scn1",
		OrganizationID:  "org-drk",
		VictimProfileID: "vp4",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, *next.SequentialNumber)
	assert.Equal(t, "DRK04", *next.ButtonNumber)
}

func TestOrganizationsNumberIndependently(t *testing.T) {
	fx := newAllocatorFixture(4)

	a1, err := fx.service.AllocateOne(context.Background(), AllocateOneRequest{
		ScenarioID: "scn1", OrganizationID: "org-drk", VictimProfileID: "vp1"})
	require.NoError(t, err)
	a2, err := fx.service.AllocateOne(context.Background(), AllocateOneRequest{
		ScenarioID: "scn1", OrganizationID: "org-drk", VictimProfileID: "vp2"})
	require.NoError(t, err)
	b1, err := fx.service.AllocateOne(context.Background(), AllocateOneRequest{
		ScenarioID: "scn1", OrganizationID: "org-hosp", VictimProfileID: "vp3"})
	require.NoError(t, err)

	assert.Equal(t, 1, *a1.SequentialNumber)
	assert.Equal(t, 2, *a2.SequentialNumber)
	assert.Equal(t, 1, *b1.SequentialNumber)
	assert.Equal(t, "HOSP01", *b1.ButtonNumber)
}

func TestAllocationContentionExhaustsRetries(t *testing.T) {
	fx := newAllocatorFixture(1)
	fx.store.reserveConflicts = 5

	_, err := fx.service.AllocateOne(context.Background(), AllocateOneRequest{
		ScenarioID:      "scn1",
		OrganizationID:  "org-drk",
		VictimProfileID: "vp1",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAllocationContention.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 5, fx.metrics.conflicts)
	assert.Empty(t, fx.store.rows)
}

func TestAllocationRecoversFromTransientConflict(t *testing.T) {
	fx := newAllocatorFixture(1)
	fx.store.reserveConflicts = 2

	assignment, err := fx.service.AllocateOne(context.Background(), AllocateOneRequest{
		ScenarioID:      "scn1",
		OrganizationID:  "org-drk",
		VictimProfileID: "vp1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, *assignment.SequentialNumber)
	assert.Equal(t, 2, fx.metrics.conflicts)
}

func TestAllocateOneReportsDuplicateAfterLostRace(t *testing.T) {
	fx := newAllocatorFixture(1)
	// A competing allocation for the same profile lands between the
	// duplicate check and the insert.
	fx.store.beforeApply = func(f *fakeAllocatorStore) {
		f.beforeApply = nil
		orgID := "org-hosp"
		number := 1
		button := "HOSP01"
		f.nextID++
		id := fmt.Sprintf("a%d", f.nextID)
		f.rows[id] = &models.Assignment{
			ID:               id,
			ScenarioID:       "scn1",
			OrganizationID:   &orgID,
			VictimProfileID:  "vp1",
			SequentialNumber: &number,
			ButtonNumber:     &button,
		}
	}

	_, err := fx.service.AllocateOne(context.Background(), AllocateOneRequest{
		ScenarioID:      "scn1",
		OrganizationID:  "org-drk",
		VictimProfileID: "vp1",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateProfile.Code, appErrors.FromError(err).Code)
	// only the winner's row exists; the loser stopped after one burned number
	assert.Len(t, fx.store.rows, 1)
	assert.Equal(t, 1, fx.store.counters[pairKey("scn1", "org-drk")])
}

func TestConcurrentAllocationsGetDisjointNumbers(t *testing.T) {
	const workers = 20
	fx := newAllocatorFixture(workers)

	var wg sync.WaitGroup
	numbers := make(chan int, workers)
	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assignment, err := fx.service.AllocateOne(context.Background(), AllocateOneRequest{
				ScenarioID:      "scn1",
				OrganizationID:  "org-drk",
				VictimProfileID: fmt.Sprintf("vp%d", n),
			})
			if err == nil {
				numbers <- *assignment.SequentialNumber
			}
		}(i)
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int]bool)
	for number := range numbers {
		assert.False(t, seen[number], "number %d issued twice", number)
		seen[number] = true
	}
	require.Len(t, seen, workers)
	for i := 1; i <= workers; i++ {
		assert.True(t, seen[i], "number %d missing from the run", i)
	}
}

func TestSnapshotSkipsQueuedPlaceholders(t *testing.T) {
	fx := newAllocatorFixture(3)

	_, err := fx.service.AllocateOne(context.Background(), AllocateOneRequest{
		ScenarioID: "scn1", OrganizationID: "org-drk", VictimProfileID: "vp1"})
	require.NoError(t, err)
	_, err = fx.service.Queue(context.Background(), QueueRequest{
		ScenarioID: "scn1", VictimProfileIDs: []string{"vp2"}})
	require.NoError(t, err)

	snapshots, err := fx.service.Snapshot(context.Background(), "scn1")
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, "DRK01", snapshots[0].ButtonNumber)
	assert.Equal(t, "Red Cross", snapshots[0].OrganizationName)
	assert.Equal(t, "P-001", snapshots[0].ProfileNumber)
}

func TestListFiltersByOrganization(t *testing.T) {
	fx := newAllocatorFixture(3)

	for i, org := range []string{"org-drk", "org-drk", "org-hosp"} {
		_, err := fx.service.AllocateOne(context.Background(), AllocateOneRequest{
			ScenarioID:      "scn1",
			OrganizationID:  org,
			VictimProfileID: fmt.Sprintf("vp%d", i+1),
		})
		require.NoError(t, err)
	}

	roster, err := fx.service.List(context.Background(), "scn1", models.AssignmentFilter{OrganizationID: "org-drk"})
	require.NoError(t, err)
	assert.Len(t, roster, 2)
}
