package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-signup-api/internal/models"
	appErrors "github.com/noah-isme/course-signup-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type populateStore interface {
	ListWaiting(ctx context.Context) ([]*models.Attendance, error)
	SaveAllocation(ctx context.Context, exec sqlx.ExtContext, attendances []*models.Attendance) error
}

type auditWriter interface {
	CreateAuditLogs(ctx context.Context, logs []*models.AuditLog) error
}

type notificationEnqueuer interface {
	Enqueue(notification models.Notification) error
}

// PopulateConfig holds the engine settings.
type PopulateConfig struct {
	SelfSignoffPeriod time.Duration
}

// PopulateService moves waiting attendances into free seats.
//
// A run loads a snapshot of all waiting attendances, processes the ones the
// policy admits one by one and persists every change in a single
// transaction. Notifications and audit entries are emitted only after the
// commit succeeded.
type PopulateService struct {
	store    populateStore
	tx       txProvider
	audit    auditWriter
	notifier notificationEnqueuer
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      PopulateConfig
}

// NewPopulateService constructs the engine.
func NewPopulateService(store populateStore, tx txProvider, audit auditWriter, notifier notificationEnqueuer, metrics *MetricsService, logger *zap.Logger, cfg PopulateConfig) *PopulateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SelfSignoffPeriod <= 0 {
		cfg.SelfSignoffPeriod = 72 * time.Hour
	}
	return &PopulateService{
		store:    store,
		tx:       tx,
		audit:    audit,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

type populateOutcome struct {
	changed   []*models.Attendance
	activated []*models.Attendance
	restocked map[*models.Attendance]bool
	events    []models.Notification
}

// Run executes one populate pass at the given instant using policy.
func (s *PopulateService) Run(ctx context.Context, at time.Time, policy PopulatePolicy) (*models.PopulateReport, error) {
	started := time.Now()
	report := &models.PopulateReport{Policy: policy.Name(), StartedAt: at}

	err := s.run(ctx, at, policy, report)
	report.Duration = time.Since(started)
	s.metrics.ObservePopulateRun(report, err)
	if err != nil {
		s.logger.Error("populate run failed", zap.String("policy", string(report.Policy)), zap.Error(err))
		return report, err
	}

	s.logger.Info("populate run finished",
		zap.String("policy", string(report.Policy)),
		zap.Int("candidates", report.Candidates),
		zap.Int("activated", report.Activated),
		zap.Int("restocked", report.Restocked),
		zap.Int("rejected", report.Rejected),
		zap.Int("parallel_skipped", report.ParallelSkipped),
		zap.Int("mutations", report.Mutations),
		zap.Int("dispatch_failures", report.DispatchFailures),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (s *PopulateService) run(ctx context.Context, at time.Time, policy PopulatePolicy, report *models.PopulateReport) error {
	waiting, err := s.store.ListWaiting(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load waiting attendances")
	}

	candidates := s.candidates(waiting, at, policy)
	report.Candidates = len(candidates)
	policy.Prepare(candidates)

	outcome, err := s.allocate(at, policy, candidates, report)
	if err != nil {
		return err
	}
	report.Mutations = len(outcome.changed)
	if len(outcome.changed) == 0 {
		return nil
	}

	if err := s.commit(ctx, outcome.changed); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to persist populate run")
	}

	s.recordAudit(ctx, policy.Name(), outcome)
	s.dispatch(outcome.events, report)
	return nil
}

func (s *PopulateService) candidates(waiting []*models.Attendance, at time.Time, policy PopulatePolicy) []PopulateCandidate {
	candidates := make([]PopulateCandidate, 0, len(waiting))
	for _, attendance := range waiting {
		if !attendance.Waiting {
			continue
		}
		if attendance.Applicant == nil || attendance.Course == nil || attendance.Course.Language == nil {
			s.logger.Warn("populate: incomplete attendance graph",
				zap.String("applicant_id", attendance.ApplicantID),
				zap.String("course_id", attendance.CourseID))
			continue
		}
		if attendance.Course.Language.IsInManualMode(at) {
			continue
		}
		if !policy.Filter(attendance) {
			continue
		}
		candidates = append(candidates, PopulateCandidate{Attendance: attendance, Weight: 1})
	}
	return candidates
}

func (s *PopulateService) allocate(at time.Time, policy PopulatePolicy, candidates []PopulateCandidate, report *models.PopulateReport) (*populateOutcome, error) {
	outcome := &populateOutcome{restocked: make(map[*models.Attendance]bool)}
	changed := make(map[*models.Attendance]struct{})
	markChanged := func(a *models.Attendance) {
		if _, ok := changed[a]; !ok {
			changed[a] = struct{}{}
			outcome.changed = append(outcome.changed, a)
		}
	}

	for len(candidates) > 0 {
		idx, err := policy.Select(candidates)
		if err != nil {
			return nil, err
		}
		attendance := candidates[idx].Attendance
		candidates = append(candidates[:idx], candidates[idx+1:]...)

		applicant, course := attendance.Applicant, attendance.Course
		switch {
		case applicant.ActiveInParallelCourse(course):
			// a colliding attendance of this applicant was activated earlier in this run
			s.logger.Warn("populate: applicant already active in a colliding course",
				zap.String("policy", string(policy.Name())),
				zap.String("applicant_id", attendance.ApplicantID),
				zap.String("course_id", attendance.CourseID))
			report.ParallelSkipped++
			if !attendance.InformedAboutRejection {
				attendance.InformedAboutRejection = true
				markChanged(attendance)
			}

		case course.IsFull():
			if attendance.InformedAboutRejection {
				continue
			}
			event := models.NewNotification(rejectionKind(course.Language, at), attendance)
			event.FirstRejection = true
			outcome.events = append(outcome.events, event)
			attendance.InformedAboutRejection = true
			markChanged(attendance)
			report.Rejected++

		default:
			restocked := attendance.InformedAboutRejection
			attendance.Discount = applicant.CurrentDiscount()
			attendance.SetWaitingStatus(false, at, s.cfg.SelfSignoffPeriod)
			course.ActiveCount++
			attendance.InformedAboutRejection = true

			kind := models.NotificationActivated
			if restocked {
				kind = models.NotificationRestocked
				report.Restocked++
			} else {
				report.Activated++
			}
			outcome.events = append(outcome.events, models.NewNotification(kind, attendance))
			outcome.activated = append(outcome.activated, attendance)
			outcome.restocked[attendance] = restocked
			markChanged(attendance)
		}
	}
	return outcome, nil
}

// rejectionKind tells applicants rejected during the lottery window that they
// stay in the pool, everyone else that they are on the waiting list.
func rejectionKind(language *models.Language, at time.Time) models.NotificationKind {
	if language.IsOpenForSignupRnd(at) {
		return models.NotificationRejectedPool
	}
	return models.NotificationRejectedWaiting
}

func (s *PopulateService) commit(ctx context.Context, changed []*models.Attendance) (err error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.store.SaveAllocation(ctx, tx, changed); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

func (s *PopulateService) recordAudit(ctx context.Context, policy models.PopulatePolicyName, outcome *populateOutcome) {
	if s.audit == nil || len(outcome.activated) == 0 {
		return
	}
	logs := make([]*models.AuditLog, 0, len(outcome.activated))
	for _, attendance := range outcome.activated {
		payload, err := json.Marshal(map[string]interface{}{
			"policy":         policy,
			"waiting":        attendance.Waiting,
			"discount":       attendance.Discount,
			"signoff_window": attendance.SignoffWindow,
			"restocked":      outcome.restocked[attendance],
		})
		if err != nil {
			continue
		}
		resourceID := models.AttendanceKey(attendance.ApplicantID, attendance.CourseID)
		logs = append(logs, &models.AuditLog{
			Action:     models.AuditActionAttendanceActivated,
			Resource:   "attendance",
			ResourceID: &resourceID,
			OldValues:  []byte(`{"waiting":true}`),
			NewValues:  payload,
		})
	}
	if err := s.audit.CreateAuditLogs(ctx, logs); err != nil {
		s.logger.Warn("populate: failed to write audit logs", zap.Int("entries", len(logs)), zap.Error(err))
	}
}

func (s *PopulateService) dispatch(events []models.Notification, report *models.PopulateReport) {
	for _, event := range events {
		if err := s.notifier.Enqueue(event); err != nil {
			report.DispatchFailures++
			s.logger.Warn("populate: failed to enqueue notification",
				zap.String("kind", string(event.Kind)),
				zap.String("applicant_id", event.ApplicantID),
				zap.String("course_id", event.CourseID),
				zap.Error(err))
			continue
		}
		report.Notifications++
	}
}
