package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-signup-api/internal/models"
	appErrors "github.com/noah-isme/course-signup-api/pkg/errors"
)

type adminAttendanceStore interface {
	Find(ctx context.Context, applicantID, courseID string) (*models.Attendance, error)
	ListByApplicant(ctx context.Context, applicantID string) ([]*models.Attendance, error)
	Update(ctx context.Context, exec sqlx.ExtContext, attendance *models.Attendance) error
}

type adminApplicantStore interface {
	FindByID(ctx context.Context, id string) (*models.Applicant, error)
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
	SetDiscounted(ctx context.Context, exec sqlx.ExtContext, id string, discounted bool) error
}

// UpdateAttendanceRequest carries the administratively editable fields. Nil
// fields stay untouched.
type UpdateAttendanceRequest struct {
	Waiting     *bool      `json:"waiting"`
	Discount    *int       `json:"discount" validate:"omitempty,min=0,max=100"`
	AmountPaid  *int64     `json:"amount_paid" validate:"omitempty,min=0"`
	PaymentDate *time.Time `json:"payment_date"`
}

// UpdateApplicantRequest carries the applicant fields only staff may change.
type UpdateApplicantRequest struct {
	Discounted *bool `json:"discounted" validate:"required"`
}

// AttendanceService implements administrative edits of attendances and applicants.
type AttendanceService struct {
	attendances adminAttendanceStore
	applicants  adminApplicantStore
	audit       auditWriter
	cache       *CacheService
	validator   *validator.Validate
	logger      *zap.Logger
	grace       time.Duration
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(attendances adminAttendanceStore, applicants adminApplicantStore, audit auditWriter, cache *CacheService, validate *validator.Validate, logger *zap.Logger, selfSignoffPeriod time.Duration) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if selfSignoffPeriod <= 0 {
		selfSignoffPeriod = 72 * time.Hour
	}
	return &AttendanceService{
		attendances: attendances,
		applicants:  applicants,
		audit:       audit,
		cache:       cache,
		validator:   validate,
		logger:      logger,
		grace:       selfSignoffPeriod,
	}
}

// UpdateAttendance applies a manual override. Moving an attendance out of the
// waiting state freezes its signoff window like an engine activation does.
func (s *AttendanceService) UpdateAttendance(ctx context.Context, applicantID, courseID string, req UpdateAttendanceRequest, actorID string, now time.Time) (*models.Attendance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}

	attendance, err := s.attendances.Find(ctx, applicantID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
	}
	before := *attendance

	if req.Waiting != nil {
		attendance.SetWaitingStatus(*req.Waiting, now, s.grace)
	}
	if req.Discount != nil {
		attendance.Discount = *req.Discount
	}
	if req.AmountPaid != nil {
		attendance.AmountPaid = *req.AmountPaid
	}
	if req.PaymentDate != nil {
		paid := req.PaymentDate.UTC()
		attendance.PaymentDate = &paid
	}

	if err := s.attendances.Update(ctx, nil, attendance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update attendance")
	}
	if before.Waiting != attendance.Waiting {
		s.cache.Invalidate(ctx, CourseOverviewCacheKey)
	}

	recordAudit(ctx, s.audit, s.logger, &actorID, models.AuditActionAttendanceUpdated, "attendance",
		models.AttendanceKey(applicantID, courseID), before, attendance)
	return attendance, nil
}

// UpdateApplicant sets the general discount flag after staff checked the
// applicant's proof of eligibility. Discounts already frozen on active
// attendances are not touched.
func (s *AttendanceService) UpdateApplicant(ctx context.Context, id string, req UpdateApplicantRequest, actorID string) (*models.Applicant, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid applicant payload")
	}
	applicant, err := s.applicants.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "applicant not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load applicant")
	}
	if applicant.Discounted == *req.Discounted {
		return applicant, nil
	}

	if err := s.applicants.SetDiscounted(ctx, nil, id, *req.Discounted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "applicant not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update applicant")
	}
	before := map[string]interface{}{"discounted": applicant.Discounted}
	applicant.Discounted = *req.Discounted
	recordAudit(ctx, s.audit, s.logger, &actorID, models.AuditActionApplicantUpdated, "applicant", id,
		before, map[string]interface{}{"discounted": applicant.Discounted})
	return applicant, nil
}

// DeleteApplicant removes an applicant together with all attendances.
func (s *AttendanceService) DeleteApplicant(ctx context.Context, id, actorID string) error {
	applicant, err := s.applicants.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "applicant not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load applicant")
	}
	attendances, err := s.attendances.ListByApplicant(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendances")
	}

	if err := s.applicants.Delete(ctx, nil, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "applicant not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete applicant")
	}

	freed := false
	courses := make([]string, 0, len(attendances))
	for _, attendance := range attendances {
		courses = append(courses, attendance.CourseID)
		freed = freed || !attendance.Waiting
	}
	if freed {
		s.cache.Invalidate(ctx, CourseOverviewCacheKey)
	}

	recordAudit(ctx, s.audit, s.logger, &actorID, models.AuditActionApplicantDelete, "applicant", id,
		map[string]interface{}{"mail": applicant.Mail, "courses": courses}, nil)
	s.logger.Info("applicant deleted", zap.String("applicant_id", id), zap.String("actor_id", actorID), zap.Int("attendances", len(attendances)))
	return nil
}
