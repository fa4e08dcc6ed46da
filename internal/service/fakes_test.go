package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-signup-api/internal/models"
	"github.com/noah-isme/course-signup-api/pkg/jobs"
)

var (
	signupBegin  = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	rndWindowEnd = signupBegin.Add(48 * time.Hour)
	duringRnd    = signupBegin.Add(24*time.Hour + 37*time.Minute)
	afterRnd     = rndWindowEnd.Add(3*time.Hour + 15*time.Minute)
)

func openLanguage(id string) *models.Language {
	return &models.Language{
		ID:                 id,
		Name:               "English",
		SignupBegin:        signupBegin,
		SignupRndWindowEnd: rndWindowEnd,
		SignupManualEnd:    signupBegin,
		SignupEnd:          signupBegin.Add(30 * 24 * time.Hour),
		SignupAutoEnd:      signupBegin.Add(60 * 24 * time.Hour),
	}
}

type txProviderMock struct {
	db   *sqlx.DB
	mock sqlmock.Sqlmock
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlxdb, mock: mock}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

// memoryStore keeps persisted rows and hands out fresh object graphs the way
// the SQL repositories do.
type memoryStore struct {
	mu          sync.Mutex
	languages   map[string]*models.Language
	courses     []*models.Course
	applicants  []*models.Applicant
	attendances []models.Attendance
	saveErr     error
	saves       int
	flagUpdates int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{languages: make(map[string]*models.Language)}
}

func (m *memoryStore) addLanguage(language *models.Language) {
	m.languages[language.ID] = language
}

func (m *memoryStore) addCourse(id, languageID, level string, limit int, collision ...string) {
	m.courses = append(m.courses, &models.Course{
		ID:         id,
		LanguageID: languageID,
		Level:      level,
		Limit:      limit,
		Price:      10000,
		Collision:  collision,
	})
}

func (m *memoryStore) addApplicant(id string, opts ...func(*models.Applicant)) {
	applicant := &models.Applicant{ID: id, Mail: id + "@example.org", FirstName: id}
	for _, opt := range opts {
		opt(applicant)
	}
	m.applicants = append(m.applicants, applicant)
}

func (m *memoryStore) addAttendance(applicantID, courseID string, waiting bool, registered time.Time) {
	m.attendances = append(m.attendances, models.Attendance{
		ApplicantID: applicantID,
		CourseID:    courseID,
		Waiting:     waiting,
		Registered:  registered,
	})
}

func (m *memoryStore) remove(applicantID, courseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.attendances {
		if a.ApplicantID == applicantID && a.CourseID == courseID {
			m.attendances = append(m.attendances[:i], m.attendances[i+1:]...)
			return
		}
	}
}

func (m *memoryStore) attendance(applicantID, courseID string) models.Attendance {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attendances {
		if a.ApplicantID == applicantID && a.CourseID == courseID {
			return a
		}
	}
	return models.Attendance{}
}

func (m *memoryStore) activeCount(courseID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attendances {
		if a.CourseID == courseID && !a.Waiting {
			n++
		}
	}
	return n
}

func (m *memoryStore) snapshot() (map[string]*models.Course, []*models.Attendance) {
	courses := make(map[string]*models.Course, len(m.courses))
	for _, tpl := range m.courses {
		course := *tpl
		course.Language = m.languages[course.LanguageID]
		for _, a := range m.attendances {
			if a.CourseID != course.ID {
				continue
			}
			course.AttendanceCount++
			if !a.Waiting {
				course.ActiveCount++
			}
		}
		courses[course.ID] = &course
	}

	applicants := make(map[string]*models.Applicant, len(m.applicants))
	for _, tpl := range m.applicants {
		applicant := *tpl
		applicant.Attendances = nil
		applicants[applicant.ID] = &applicant
	}

	rows := make([]models.Attendance, len(m.attendances))
	copy(rows, m.attendances)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Registered.Before(rows[j].Registered) })

	all := make([]*models.Attendance, 0, len(rows))
	for i := range rows {
		a := rows[i]
		a.Applicant = applicants[a.ApplicantID]
		a.Course = courses[a.CourseID]
		a.Applicant.Attendances = append(a.Applicant.Attendances, &a)
		all = append(all, &a)
	}
	return courses, all
}

func (m *memoryStore) ListWaiting(ctx context.Context) ([]*models.Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, all := m.snapshot()
	waiting := make([]*models.Attendance, 0, len(all))
	for _, a := range all {
		if a.Waiting {
			waiting = append(waiting, a)
		}
	}
	return waiting, nil
}

func (m *memoryStore) SaveAllocation(ctx context.Context, exec sqlx.ExtContext, attendances []*models.Attendance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	for _, changed := range attendances {
		for i := range m.attendances {
			row := &m.attendances[i]
			if row.ApplicantID == changed.ApplicantID && row.CourseID == changed.CourseID {
				row.Waiting = changed.Waiting
				row.Discount = changed.Discount
				row.SignoffWindow = changed.SignoffWindow
				row.InformedAboutRejection = changed.InformedAboutRejection
			}
		}
	}
	m.saves++
	return nil
}

func (m *memoryStore) List(ctx context.Context) ([]*models.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	courses, _ := m.snapshot()
	out := make([]*models.Course, 0, len(courses))
	for _, tpl := range m.courses {
		out = append(out, courses[tpl.ID])
	}
	return out, nil
}

func (m *memoryStore) UpdateWaitingListFlags(ctx context.Context, exec sqlx.ExtContext, courses []*models.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, changed := range courses {
		for _, tpl := range m.courses {
			if tpl.ID == changed.ID {
				tpl.HasWaitingList = changed.HasWaitingList
			}
		}
	}
	m.flagUpdates += len(courses)
	return nil
}

func (m *memoryStore) hasWaitingList(courseID string) bool {
	for _, tpl := range m.courses {
		if tpl.ID == courseID {
			return tpl.HasWaitingList
		}
	}
	return false
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.Notification
	err    error
}

func (r *recordingNotifier) Enqueue(notification models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, notification)
	return nil
}

func (r *recordingNotifier) kinds() map[string]models.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]models.NotificationKind, len(r.events))
	for _, e := range r.events {
		out[models.AttendanceKey(e.ApplicantID, e.CourseID)] = e.Kind
	}
	return out
}

type recordingAudit struct {
	logs []*models.AuditLog
	err  error
}

func (r *recordingAudit) CreateAuditLogs(ctx context.Context, logs []*models.AuditLog) error {
	if r.err != nil {
		return r.err
	}
	r.logs = append(r.logs, logs...)
	return nil
}

type recordingQueue struct {
	jobs []jobs.Job
	err  error
}

func (q *recordingQueue) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }
