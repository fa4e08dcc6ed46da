package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/course-signup-api/internal/models"
	appErrors "github.com/noah-isme/course-signup-api/pkg/errors"
)

const uniqueViolation = "23505"

type courseFinder interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type signupApplicantStore interface {
	FindByMail(ctx context.Context, mail string) (*models.Applicant, error)
	Create(ctx context.Context, exec sqlx.ExtContext, applicant *models.Applicant) error
}

type signupAttendanceStore interface {
	Find(ctx context.Context, applicantID, courseID string) (*models.Attendance, error)
	ListByApplicant(ctx context.Context, applicantID string) ([]*models.Attendance, error)
	Create(ctx context.Context, exec sqlx.ExtContext, attendance *models.Attendance) error
	Delete(ctx context.Context, exec sqlx.ExtContext, applicantID, courseID string) error
}

type pretermValidator interface {
	ValidatePretermToken(token, mail string) bool
}

// SignupRequest is the public registration payload.
type SignupRequest struct {
	CourseID     string  `json:"course_id" validate:"required"`
	Mail         string  `json:"mail" validate:"required,email,max=254"`
	FirstName    string  `json:"first_name" validate:"required,max=100"`
	LastName     string  `json:"last_name" validate:"required,max=100"`
	Tag          *string `json:"tag" validate:"omitempty,alphanum,max=32"`
	Degree       string  `json:"degree" validate:"omitempty,max=100"`
	Semester     int     `json:"semester" validate:"omitempty,min=1,max=40"`
	Origin       string  `json:"origin" validate:"omitempty,max=100"`
	PretermToken string  `json:"-"`
}

// SignupResult describes the created attendance.
type SignupResult struct {
	ApplicantID   string     `json:"applicant_id"`
	CourseID      string     `json:"course_id"`
	Waiting       bool       `json:"waiting"`
	Discount      int        `json:"discount"`
	AmountDue     int64      `json:"amount_due"`
	SignoffWindow *time.Time `json:"signoff_window,omitempty"`
	SignoffSecret string     `json:"signoff_secret,omitempty"`
}

// SignoffRequest cancels an attendance with the applicant's signoff secret.
type SignoffRequest struct {
	Mail     string `json:"mail" validate:"required,email"`
	CourseID string `json:"course_id" validate:"required"`
	Secret   string `json:"secret" validate:"required"`
}

// SignupConfig holds the registration guards.
type SignupConfig struct {
	RandomWindowClosedFor time.Duration
	SelfSignoffPeriod     time.Duration
	MaxAttendances        int
	OverbookingFactor     float64
}

// SignupService handles public registrations and self signoffs.
type SignupService struct {
	courses     courseFinder
	applicants  signupApplicantStore
	attendances signupAttendanceStore
	tx          txProvider
	preterm     pretermValidator
	notifier    notificationEnqueuer
	audit       auditWriter
	cache       *CacheService
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         SignupConfig
}

// NewSignupService constructs a SignupService.
func NewSignupService(courses courseFinder, applicants signupApplicantStore, attendances signupAttendanceStore, tx txProvider, preterm pretermValidator, notifier notificationEnqueuer, audit auditWriter, cache *CacheService, validate *validator.Validate, logger *zap.Logger, cfg SignupConfig) *SignupService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttendances <= 0 {
		cfg.MaxAttendances = 3
	}
	if cfg.SelfSignoffPeriod <= 0 {
		cfg.SelfSignoffPeriod = 72 * time.Hour
	}
	return &SignupService{
		courses:     courses,
		applicants:  applicants,
		attendances: attendances,
		tx:          tx,
		preterm:     preterm,
		notifier:    notifier,
		audit:       audit,
		cache:       cache,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
}

// Signup registers the applicant for a course. New attendances wait for the
// next populate run unless a valid preterm token activates them right away.
func (s *SignupService) Signup(ctx context.Context, req SignupRequest, now time.Time) (*SignupResult, error) {
	req.Mail = normalizeMail(req.Mail)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid signup payload")
	}

	course, err := s.loadCourse(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	applicant, isNew, err := s.loadApplicant(ctx, req)
	if err != nil {
		return nil, err
	}

	preterm := s.preterm != nil && s.preterm.ValidatePretermToken(req.PretermToken, req.Mail)
	if !preterm {
		if !course.Language.IsOpenForSignup(now, s.cfg.RandomWindowClosedFor) {
			return nil, appErrors.Clone(appErrors.ErrSignupClosed, "signup is not open for this course")
		}
		if course.IsOverbooked(s.cfg.OverbookingFactor) {
			return nil, appErrors.Clone(appErrors.ErrSignupClosed, "course is fully booked")
		}
	}
	if applicant.AttendanceFor(course.ID) != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "already registered for this course")
	}
	if len(applicant.Attendances) >= s.cfg.MaxAttendances {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "maximum number of attendances reached")
	}
	if !course.AllowsRating(applicant.Rating) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "applicant rating does not fit the course level")
	}

	var secret string
	if isNew {
		secret, applicant.SignoffHash, err = newSignoffSecret()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create signoff secret")
		}
	}

	attendance := &models.Attendance{
		ApplicantID: applicant.ID,
		CourseID:    course.ID,
		Waiting:     true,
		Registered:  now.UTC(),
		Applicant:   applicant,
		Course:      course,
	}
	if preterm && !applicant.ActiveInParallelCourse(course) {
		attendance.Discount = applicant.CurrentDiscount()
		attendance.SetWaitingStatus(false, now, s.cfg.SelfSignoffPeriod)
		attendance.InformedAboutRejection = true
	}

	if err := s.persistSignup(ctx, applicant, isNew, attendance); err != nil {
		return nil, err
	}
	applicant.Attendances = append(applicant.Attendances, attendance)

	kind := models.NotificationRegistered
	if !attendance.Waiting {
		kind = models.NotificationActivated
		s.cache.Invalidate(ctx, CourseOverviewCacheKey)
	}
	notification := models.NewNotification(kind, attendance)
	notification.SignoffSecret = secret
	if err := s.notifier.Enqueue(notification); err != nil {
		s.logger.Warn("signup: failed to enqueue notification", zap.String("applicant_id", applicant.ID), zap.Error(err))
	}

	s.logger.Info("signup accepted",
		zap.String("applicant_id", applicant.ID),
		zap.String("course_id", course.ID),
		zap.Bool("waiting", attendance.Waiting),
		zap.Bool("preterm", preterm))

	return &SignupResult{
		ApplicantID:   applicant.ID,
		CourseID:      course.ID,
		Waiting:       attendance.Waiting,
		Discount:      attendance.Discount,
		AmountDue:     attendance.AmountDue(),
		SignoffWindow: attendance.SignoffWindow,
		SignoffSecret: secret,
	}, nil
}

func (s *SignupService) loadCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.Language == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "course has no language")
	}
	return course, nil
}

// loadApplicant returns the stored applicant with its attendances and their
// courses, or a new unsaved applicant built from the request.
func (s *SignupService) loadApplicant(ctx context.Context, req SignupRequest) (*models.Applicant, bool, error) {
	applicant, err := s.applicants.FindByMail(ctx, req.Mail)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Applicant{
			Mail:      req.Mail,
			FirstName: strings.TrimSpace(req.FirstName),
			LastName:  strings.TrimSpace(req.LastName),
			Tag:       req.Tag,
			Degree:    req.Degree,
			Semester:  req.Semester,
			Origin:    req.Origin,
		}, true, nil
	}
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load applicant")
	}

	attendances, err := s.attendances.ListByApplicant(ctx, applicant.ID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendances")
	}
	for _, attendance := range attendances {
		course, err := s.courses.FindByID(ctx, attendance.CourseID)
		if err != nil {
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attended course")
		}
		attendance.Course = course
		attendance.Applicant = applicant
	}
	applicant.Attendances = attendances
	return applicant, false, nil
}

func (s *SignupService) persistSignup(ctx context.Context, applicant *models.Applicant, isNew bool, attendance *models.Attendance) (err error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if isNew {
		if err = s.applicants.Create(ctx, tx, applicant); err != nil {
			return signupWriteError(err, "failed to create applicant")
		}
		attendance.ApplicantID = applicant.ID
	}
	if err = s.attendances.Create(ctx, tx, attendance); err != nil {
		return signupWriteError(err, "failed to create attendance")
	}
	if err = tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit signup")
	}
	return nil
}

// signupWriteError maps unique violations from concurrent signups to conflicts.
func signupWriteError(err error, message string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "already registered")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

// Signoff removes an attendance on the applicant's own request.
func (s *SignupService) Signoff(ctx context.Context, req SignoffRequest, now time.Time) error {
	req.Mail = normalizeMail(req.Mail)
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid signoff payload")
	}

	applicant, err := s.applicants.FindByMail(ctx, req.Mail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrUnauthorized, "invalid mail or secret")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load applicant")
	}
	if applicant.SignoffHash == "" || bcrypt.CompareHashAndPassword([]byte(applicant.SignoffHash), []byte(req.Secret)) != nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "invalid mail or secret")
	}

	attendance, err := s.attendances.Find(ctx, applicant.ID, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "attendance not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
	}
	if !attendance.CanSignoff(now) {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "the self signoff period has ended")
	}

	if err := s.attendances.Delete(ctx, nil, applicant.ID, req.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "attendance not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete attendance")
	}
	if !attendance.Waiting {
		s.cache.Invalidate(ctx, CourseOverviewCacheKey)
	}

	recordAudit(ctx, s.audit, s.logger, nil, models.AuditActionAttendanceSignoff, "attendance",
		models.AttendanceKey(applicant.ID, req.CourseID), attendance, nil)
	s.logger.Info("self signoff", zap.String("applicant_id", applicant.ID), zap.String("course_id", req.CourseID))
	return nil
}

func newSignoffSecret() (secret, hash string, err error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	secret = base64.RawURLEncoding.EncodeToString(buf)
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return secret, string(hashed), nil
}

// recordAudit writes a single audit entry. Failures are logged only.
func recordAudit(ctx context.Context, audit auditWriter, logger *zap.Logger, actorID *string, action, resource, resourceID string, oldValues, newValues interface{}) {
	if audit == nil {
		return
	}
	entry := &models.AuditLog{UserID: actorID, Action: action, Resource: resource, ResourceID: &resourceID}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := audit.CreateAuditLogs(ctx, []*models.AuditLog{entry}); err != nil {
		logger.Warn("failed to write audit log", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}
