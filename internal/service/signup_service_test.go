package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/course-signup-api/internal/models"
	appErrors "github.com/noah-isme/course-signup-api/pkg/errors"
)

type fakeCourses map[string]*models.Course

func (f fakeCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	course, ok := f[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *course
	return &clone, nil
}

func (f fakeCourses) List(ctx context.Context) ([]*models.Course, error) {
	out := make([]*models.Course, 0, len(f))
	for _, course := range f {
		clone := *course
		out = append(out, &clone)
	}
	return out, nil
}

type fakeApplicants struct {
	byMail    map[string]*models.Applicant
	createErr error
	deleted   []string
}

func newFakeApplicants() *fakeApplicants {
	return &fakeApplicants{byMail: make(map[string]*models.Applicant)}
}

func (f *fakeApplicants) FindByMail(ctx context.Context, mail string) (*models.Applicant, error) {
	applicant, ok := f.byMail[mail]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *applicant
	return &clone, nil
}

func (f *fakeApplicants) FindByID(ctx context.Context, id string) (*models.Applicant, error) {
	for _, applicant := range f.byMail {
		if applicant.ID == id {
			clone := *applicant
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeApplicants) Create(ctx context.Context, exec sqlx.ExtContext, applicant *models.Applicant) error {
	if f.createErr != nil {
		return f.createErr
	}
	if applicant.ID == "" {
		applicant.ID = "app-" + applicant.Mail
	}
	clone := *applicant
	clone.Attendances = nil
	f.byMail[applicant.Mail] = &clone
	return nil
}

func (f *fakeApplicants) SetDiscounted(ctx context.Context, exec sqlx.ExtContext, id string, discounted bool) error {
	for _, applicant := range f.byMail {
		if applicant.ID == id {
			applicant.Discounted = discounted
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeApplicants) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	for mail, applicant := range f.byMail {
		if applicant.ID == id {
			delete(f.byMail, mail)
			f.deleted = append(f.deleted, id)
			return nil
		}
	}
	return sql.ErrNoRows
}

type fakeAttendances struct {
	rows []*models.Attendance
}

func (f *fakeAttendances) Find(ctx context.Context, applicantID, courseID string) (*models.Attendance, error) {
	for _, row := range f.rows {
		if row.ApplicantID == applicantID && row.CourseID == courseID {
			clone := *row
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeAttendances) ListByApplicant(ctx context.Context, applicantID string) ([]*models.Attendance, error) {
	var out []*models.Attendance
	for _, row := range f.rows {
		if row.ApplicantID == applicantID {
			clone := *row
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeAttendances) Create(ctx context.Context, exec sqlx.ExtContext, attendance *models.Attendance) error {
	clone := *attendance
	clone.Applicant, clone.Course = nil, nil
	f.rows = append(f.rows, &clone)
	return nil
}

func (f *fakeAttendances) Update(ctx context.Context, exec sqlx.ExtContext, attendance *models.Attendance) error {
	for i, row := range f.rows {
		if row.ApplicantID == attendance.ApplicantID && row.CourseID == attendance.CourseID {
			clone := *attendance
			f.rows[i] = &clone
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeAttendances) Delete(ctx context.Context, exec sqlx.ExtContext, applicantID, courseID string) error {
	for i, row := range f.rows {
		if row.ApplicantID == applicantID && row.CourseID == courseID {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

type stubPreterm struct{ mail string }

func (p stubPreterm) ValidatePretermToken(token, mail string) bool {
	return token == "valid" && mail == p.mail
}

type signupFixture struct {
	svc         *SignupService
	courses     fakeCourses
	applicants  *fakeApplicants
	attendances *fakeAttendances
	notifier    *recordingNotifier
	audit       *recordingAudit
}

func newSignupFixture(t *testing.T, expectTx bool) *signupFixture {
	tx, mock := newTxProviderMock(t)
	if expectTx {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
	t.Cleanup(func() { assert.NoError(t, mock.ExpectationsWereMet()) })

	language := openLanguage("en")
	courses := fakeCourses{
		"b1":  {ID: "b1", LanguageID: "en", Level: "B1", Limit: 2, Price: 8000, RatingHighest: 100, Language: language},
		"b1e": {ID: "b1e", LanguageID: "en", Level: "B1", Alternative: "evening", Limit: 2, Price: 8000, RatingHighest: 100, Language: language},
		"c1":  {ID: "c1", LanguageID: "en", Level: "C1", Limit: 2, Price: 8000, RatingLowest: 60, RatingHighest: 100, Language: language},
	}
	f := &signupFixture{
		courses:     courses,
		applicants:  newFakeApplicants(),
		attendances: &fakeAttendances{},
		notifier:    &recordingNotifier{},
		audit:       &recordingAudit{},
	}
	f.svc = NewSignupService(courses, f.applicants, f.attendances, tx, stubPreterm{mail: "vip@example.org"}, f.notifier, f.audit, nil, nil, nil, SignupConfig{
		RandomWindowClosedFor: 2 * time.Hour,
		SelfSignoffPeriod:     72 * time.Hour,
		MaxAttendances:        2,
		OverbookingFactor:     1.5,
	})
	return f
}

func signupRequest(mail, course string) SignupRequest {
	return SignupRequest{CourseID: course, Mail: mail, FirstName: "Ada", LastName: "Lovelace"}
}

func TestSignupCreatesWaitingAttendanceForNewApplicant(t *testing.T) {
	f := newSignupFixture(t, true)

	result, err := f.svc.Signup(context.Background(), signupRequest(" Ada@Example.org", "b1"), duringRnd)
	require.NoError(t, err)
	assert.True(t, result.Waiting)
	assert.NotEmpty(t, result.SignoffSecret)
	assert.Nil(t, result.SignoffWindow)

	stored := f.applicants.byMail["ada@example.org"]
	require.NotNil(t, stored)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.SignoffHash), []byte(result.SignoffSecret)))
	require.Len(t, f.attendances.rows, 1)
	assert.Equal(t, stored.ID, f.attendances.rows[0].ApplicantID)
	assert.Equal(t, duringRnd, f.attendances.rows[0].Registered)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, models.NotificationRegistered, f.notifier.events[0].Kind)
	assert.Equal(t, result.SignoffSecret, f.notifier.events[0].SignoffSecret)
}

func TestSignupRejectsBetweenLotteryAndFcfs(t *testing.T) {
	f := newSignupFixture(t, false)

	_, err := f.svc.Signup(context.Background(), signupRequest("ada@example.org", "b1"), rndWindowEnd.Add(time.Hour))
	assert.True(t, appErrors.Is(err, appErrors.ErrSignupClosed))
	assert.Empty(t, f.attendances.rows)
}

func TestSignupPretermTokenActivatesImmediately(t *testing.T) {
	f := newSignupFixture(t, true)
	req := signupRequest("vip@example.org", "b1")
	req.PretermToken = "valid"
	closed := rndWindowEnd.Add(time.Hour)

	result, err := f.svc.Signup(context.Background(), req, closed)
	require.NoError(t, err)
	assert.False(t, result.Waiting)
	require.NotNil(t, result.SignoffWindow)
	assert.Equal(t, closed.Add(72*time.Hour).Truncate(time.Hour), *result.SignoffWindow)
	assert.EqualValues(t, 8000, result.AmountDue)
	assert.True(t, f.attendances.rows[0].InformedAboutRejection)
	assert.Equal(t, models.NotificationActivated, f.notifier.events[0].Kind)
}

func TestSignupPretermStaysWaitingWhenParallelCourseActive(t *testing.T) {
	f := newSignupFixture(t, true)
	f.applicants.byMail["vip@example.org"] = &models.Applicant{ID: "vip", Mail: "vip@example.org", FirstName: "V"}
	f.attendances.rows = append(f.attendances.rows, &models.Attendance{ApplicantID: "vip", CourseID: "b1", Waiting: false, Registered: signupBegin})

	req := signupRequest("vip@example.org", "b1e")
	req.PretermToken = "valid"
	result, err := f.svc.Signup(context.Background(), req, duringRnd)
	require.NoError(t, err)
	assert.True(t, result.Waiting)
	assert.Empty(t, result.SignoffSecret, "existing applicants keep their secret")
}

func TestSignupGuards(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		f := newSignupFixture(t, false)
		f.applicants.byMail["ada@example.org"] = &models.Applicant{ID: "ada", Mail: "ada@example.org"}
		f.attendances.rows = append(f.attendances.rows, &models.Attendance{ApplicantID: "ada", CourseID: "b1", Waiting: true})
		_, err := f.svc.Signup(context.Background(), signupRequest("ada@example.org", "b1"), duringRnd)
		assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	})

	t.Run("max attendances", func(t *testing.T) {
		f := newSignupFixture(t, false)
		f.applicants.byMail["ada@example.org"] = &models.Applicant{ID: "ada", Mail: "ada@example.org", Rating: intPtr(80)}
		f.attendances.rows = append(f.attendances.rows,
			&models.Attendance{ApplicantID: "ada", CourseID: "b1", Waiting: true},
			&models.Attendance{ApplicantID: "ada", CourseID: "b1e", Waiting: true})
		_, err := f.svc.Signup(context.Background(), signupRequest("ada@example.org", "c1"), duringRnd)
		assert.True(t, appErrors.Is(err, appErrors.ErrPreconditionFailed))
	})

	t.Run("rating", func(t *testing.T) {
		f := newSignupFixture(t, false)
		_, err := f.svc.Signup(context.Background(), signupRequest("ada@example.org", "c1"), duringRnd)
		assert.True(t, appErrors.Is(err, appErrors.ErrPreconditionFailed))
	})

	t.Run("overbooked", func(t *testing.T) {
		f := newSignupFixture(t, false)
		f.courses["b1"].AttendanceCount = 3
		_, err := f.svc.Signup(context.Background(), signupRequest("ada@example.org", "b1"), duringRnd)
		assert.True(t, appErrors.Is(err, appErrors.ErrSignupClosed))
	})

	t.Run("unknown course", func(t *testing.T) {
		f := newSignupFixture(t, false)
		_, err := f.svc.Signup(context.Background(), signupRequest("ada@example.org", "zz"), duringRnd)
		assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	})

	t.Run("invalid payload", func(t *testing.T) {
		f := newSignupFixture(t, false)
		_, err := f.svc.Signup(context.Background(), signupRequest("not-a-mail", "b1"), duringRnd)
		assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	})
}

func TestSignupMapsUniqueViolationToConflict(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	f := newSignupFixture(t, false)
	f.svc.tx = tx
	f.applicants.createErr = &pq.Error{Code: "23505"}

	_, err := f.svc.Signup(context.Background(), signupRequest("ada@example.org", "b1"), duringRnd)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	assert.Empty(t, f.notifier.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignoff(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	window := afterRnd.Add(24 * time.Hour)

	setup := func(t *testing.T) *signupFixture {
		f := newSignupFixture(t, false)
		f.applicants.byMail["ada@example.org"] = &models.Applicant{ID: "ada", Mail: "ada@example.org", SignoffHash: string(hash)}
		f.attendances.rows = append(f.attendances.rows, &models.Attendance{ApplicantID: "ada", CourseID: "b1", Waiting: false, SignoffWindow: &window})
		return f
	}

	t.Run("within window", func(t *testing.T) {
		f := setup(t)
		err := f.svc.Signoff(context.Background(), SignoffRequest{Mail: "ADA@example.org", CourseID: "b1", Secret: "s3cret"}, afterRnd)
		require.NoError(t, err)
		assert.Empty(t, f.attendances.rows)
		require.Len(t, f.audit.logs, 1)
		assert.Equal(t, models.AuditActionAttendanceSignoff, f.audit.logs[0].Action)
	})

	t.Run("wrong secret", func(t *testing.T) {
		f := setup(t)
		err := f.svc.Signoff(context.Background(), SignoffRequest{Mail: "ada@example.org", CourseID: "b1", Secret: "guess"}, afterRnd)
		assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
		assert.Len(t, f.attendances.rows, 1)
	})

	t.Run("window passed", func(t *testing.T) {
		f := setup(t)
		err := f.svc.Signoff(context.Background(), SignoffRequest{Mail: "ada@example.org", CourseID: "b1", Secret: "s3cret"}, window)
		assert.True(t, appErrors.Is(err, appErrors.ErrPreconditionFailed))
		assert.Len(t, f.attendances.rows, 1)
	})

	t.Run("unknown applicant", func(t *testing.T) {
		f := setup(t)
		err := f.svc.Signoff(context.Background(), SignoffRequest{Mail: "eve@example.org", CourseID: "b1", Secret: "s3cret"}, afterRnd)
		assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
	})
}
