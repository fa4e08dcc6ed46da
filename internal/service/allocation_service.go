package service

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-signup-api/internal/models"
	appErrors "github.com/noah-isme/course-signup-api/pkg/errors"
)

type waitingListStore interface {
	List(ctx context.Context) ([]*models.Course, error)
	UpdateWaitingListFlags(ctx context.Context, exec sqlx.ExtContext, courses []*models.Course) error
}

type populateRunner interface {
	Run(ctx context.Context, at time.Time, policy PopulatePolicy) (*models.PopulateReport, error)
}

// AllocationService sequences the lottery pass, the first-come pass and the
// waiting list refresh into one global run.
type AllocationService struct {
	populate populateRunner
	courses  waitingListStore
	tx       txProvider
	audit    auditWriter
	cache    *CacheService
	metrics  *MetricsService
	logger   *zap.Logger

	mu      sync.Mutex
	newRand func() *rand.Rand
	now     func() time.Time
}

// NewAllocationService constructs the orchestrator.
func NewAllocationService(populate populateRunner, courses waitingListStore, tx txProvider, audit auditWriter, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *AllocationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocationService{
		populate: populate,
		courses:  courses,
		tx:       tx,
		audit:    audit,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		newRand: func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
		now: time.Now,
	}
}

// RunGlobalPopulate runs RND, then FCFS, then recomputes waiting list flags.
// Runs within the process are serialised. A failing pass aborts the run; the
// allocation of an earlier pass stays committed.
func (s *AllocationService) RunGlobalPopulate(ctx context.Context, at time.Time) (*models.GlobalPopulateReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &models.GlobalPopulateReport{At: at}
	defer s.invalidateCourses(ctx, report)

	rnd, err := s.populate.Run(ctx, at, NewRndPolicy(s.newRand()))
	report.Rnd = rnd
	if err != nil {
		return report, err
	}

	fcfs, err := s.populate.Run(ctx, at, FcfsPolicy{})
	report.Fcfs = fcfs
	if err != nil {
		return report, err
	}

	changes, err := s.RefreshWaitingLists(ctx)
	report.WaitingListChanges = changes
	if err != nil {
		return report, err
	}
	return report, nil
}

// RefreshWaitingLists sets has_waiting_list = is_full for every course whose
// flag is stale and returns the number of updated courses.
func (s *AllocationService) RefreshWaitingLists(ctx context.Context) (count int, err error) {
	courses, err := s.courses.List(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load courses")
	}

	var changed []*models.Course
	for _, course := range courses {
		if full := course.IsFull(); course.HasWaitingList != full {
			course.HasWaitingList = full
			changed = append(changed, course)
		}
	}
	if len(changed) == 0 {
		return 0, nil
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.courses.UpdateWaitingListFlags(ctx, tx, changed); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to update waiting list flags")
	}
	if err = tx.Commit(); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to commit waiting list flags")
	}

	s.metrics.ObserveWaitingListChanges(len(changed))
	s.recordWaitingListAudit(ctx, changed)
	return len(changed), nil
}

func (s *AllocationService) recordWaitingListAudit(ctx context.Context, changed []*models.Course) {
	if s.audit == nil {
		return
	}
	logs := make([]*models.AuditLog, 0, len(changed))
	for _, course := range changed {
		id := course.ID
		old, _ := json.Marshal(map[string]bool{"has_waiting_list": !course.HasWaitingList})
		updated, _ := json.Marshal(map[string]interface{}{
			"has_waiting_list": course.HasWaitingList,
			"active":           course.ActiveCount,
			"limit":            course.Limit,
		})
		logs = append(logs, &models.AuditLog{
			Action:     models.AuditActionWaitingListChanged,
			Resource:   "course",
			ResourceID: &id,
			OldValues:  old,
			NewValues:  updated,
		})
	}
	if err := s.audit.CreateAuditLogs(ctx, logs); err != nil {
		s.logger.Warn("failed to write waiting list audit logs", zap.Error(err))
	}
}

func (s *AllocationService) invalidateCourses(ctx context.Context, report *models.GlobalPopulateReport) {
	mutated := report.WaitingListChanges > 0
	for _, r := range []*models.PopulateReport{report.Rnd, report.Fcfs} {
		if r != nil && r.Mutations > 0 {
			mutated = true
		}
	}
	if mutated {
		s.cache.Invalidate(ctx, CourseOverviewCacheKey)
	}
}

// StartScheduler runs a global populate every interval until ctx is cancelled.
func (s *AllocationService) StartScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		s.logger.Info("populate scheduler started", zap.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("populate scheduler stopped")
				return
			case <-ticker.C:
				s.runScheduled(ctx)
			}
		}
	}()
}

func (s *AllocationService) runScheduled(ctx context.Context) {
	report, err := s.RunGlobalPopulate(ctx, s.now())
	if err != nil {
		s.logger.Error("scheduled populate failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled populate finished",
		zap.Time("at", report.At),
		zap.Int("waiting_list_changes", report.WaitingListChanges))
}
