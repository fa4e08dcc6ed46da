package service

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-signup-api/internal/models"
	appErrors "github.com/noah-isme/course-signup-api/pkg/errors"
)

type memoryCache struct {
	values  map[string]interface{}
	deleted []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: make(map[string]interface{})}
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	value, ok := c.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	if target, ok := dest.(*[]models.CourseOverview); ok {
		*target = value.([]models.CourseOverview)
	}
	return nil
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.values[key] = value
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(c.values, key)
	}
	c.deleted = append(c.deleted, keys...)
	return nil
}

type stubRunner struct {
	policies []models.PopulatePolicyName
	fail     models.PopulatePolicyName
}

func (r *stubRunner) Run(ctx context.Context, at time.Time, policy PopulatePolicy) (*models.PopulateReport, error) {
	r.policies = append(r.policies, policy.Name())
	report := &models.PopulateReport{Policy: policy.Name(), StartedAt: at}
	if policy.Name() == r.fail {
		return report, appErrors.Clone(appErrors.ErrPersistence, "boom")
	}
	return report, nil
}

func TestRunGlobalPopulateIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	store.addLanguage(openLanguage("en"))
	store.addCourse("c1", "en", "B1", 2)
	store.addApplicant("a")
	store.addApplicant("b")
	store.addApplicant("c")
	store.addAttendance("a", "c1", true, signupBegin.Add(time.Hour))
	store.addAttendance("b", "c1", true, signupBegin.Add(2*time.Hour))
	store.addAttendance("c", "c1", true, rndWindowEnd.Add(2*time.Hour))

	tx, mock := newTxProviderMock(t)
	notifier := &recordingNotifier{}
	audit := &recordingAudit{}
	cacheRepo := newMemoryCache()
	cacheRepo.values[CourseOverviewCacheKey] = []models.CourseOverview{{ID: "stale"}}
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)

	populate := NewPopulateService(store, tx, audit, notifier, nil, zap.NewNop(), PopulateConfig{SelfSignoffPeriod: 72 * time.Hour})
	svc := NewAllocationService(populate, store, tx, audit, cache, nil, zap.NewNop())
	svc.newRand = func() *rand.Rand { return rand.New(rand.NewSource(3)) }

	// rnd, fcfs, waiting list refresh
	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}

	report, err := svc.RunGlobalPopulate(context.Background(), afterRnd)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Rnd.Activated)
	assert.Equal(t, 0, report.Rnd.Rejected)
	assert.Equal(t, 1, report.Fcfs.Rejected)
	assert.Equal(t, 1, report.WaitingListChanges)
	assert.True(t, store.hasWaitingList("c1"))
	assert.Equal(t, []string{CourseOverviewCacheKey}, cacheRepo.deleted)
	assert.NotContains(t, cacheRepo.values, CourseOverviewCacheKey)

	kinds := notifier.kinds()
	assert.Equal(t, models.NotificationActivated, kinds["a:c1"])
	assert.Equal(t, models.NotificationActivated, kinds["b:c1"])
	assert.Equal(t, models.NotificationRejectedWaiting, kinds["c:c1"])

	var waitingListAudits int
	for _, log := range audit.logs {
		if log.Action == models.AuditActionWaitingListChanged {
			waitingListAudits++
		}
	}
	assert.Equal(t, 1, waitingListAudits)

	events, saves, flags := len(notifier.events), store.saves, store.flagUpdates
	again, err := svc.RunGlobalPopulate(context.Background(), afterRnd.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, again.Rnd.Mutations)
	assert.Zero(t, again.Fcfs.Mutations)
	assert.Zero(t, again.WaitingListChanges)
	assert.Len(t, notifier.events, events)
	assert.Equal(t, saves, store.saves)
	assert.Equal(t, flags, store.flagUpdates)
	assert.Len(t, cacheRepo.deleted, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunGlobalPopulateAbortsWhenLotteryFails(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	runner := &stubRunner{fail: models.PopulatePolicyRnd}
	store := newMemoryStore()
	svc := NewAllocationService(runner, store, tx, nil, nil, nil, nil)

	report, err := svc.RunGlobalPopulate(context.Background(), afterRnd)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrPersistence))
	assert.Equal(t, []models.PopulatePolicyName{models.PopulatePolicyRnd}, runner.policies)
	assert.Nil(t, report.Fcfs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunGlobalPopulateRunsLotteryBeforeFcfs(t *testing.T) {
	tx, _ := newTxProviderMock(t)
	runner := &stubRunner{}
	svc := NewAllocationService(runner, newMemoryStore(), tx, nil, nil, nil, nil)

	_, err := svc.RunGlobalPopulate(context.Background(), duringRnd)
	require.NoError(t, err)
	assert.Equal(t, []models.PopulatePolicyName{models.PopulatePolicyRnd, models.PopulatePolicyFcfs}, runner.policies)
}

func TestRefreshWaitingListsClearsStaleFlags(t *testing.T) {
	store := newMemoryStore()
	store.addLanguage(openLanguage("en"))
	store.addCourse("open", "en", "A1", 2)
	store.addCourse("full", "en", "A2", 1)
	store.courses[0].HasWaitingList = true
	store.courses[1].HasWaitingList = true
	store.addApplicant("a")
	store.addAttendance("a", "full", false, signupBegin)

	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()
	audit := &recordingAudit{}
	svc := NewAllocationService(&stubRunner{}, store, tx, audit, nil, nil, nil)

	changed, err := svc.RefreshWaitingLists(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.False(t, store.hasWaitingList("open"))
	assert.True(t, store.hasWaitingList("full"))
	require.Len(t, audit.logs, 1)
	assert.Equal(t, "open", *audit.logs[0].ResourceID)
	assert.JSONEq(t, `{"has_waiting_list":true}`, string(audit.logs[0].OldValues))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshWaitingListsRollsBackOnCommitError(t *testing.T) {
	store := newMemoryStore()
	store.addLanguage(openLanguage("en"))
	store.addCourse("full", "en", "A2", 1)
	store.addApplicant("a")
	store.addAttendance("a", "full", false, signupBegin)

	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))
	audit := &recordingAudit{}
	svc := NewAllocationService(&stubRunner{}, store, tx, audit, nil, nil, nil)

	_, err := svc.RefreshWaitingLists(context.Background())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrPersistence))
	assert.Empty(t, audit.logs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulerStopsWithContext(t *testing.T) {
	tx, _ := newTxProviderMock(t)
	runner := &stubRunner{}
	svc := NewAllocationService(runner, newMemoryStore(), tx, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	svc.StartScheduler(ctx, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(runner.policies) >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
}
