package service

import (
	"context"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-signup-api/internal/models"
	appErrors "github.com/noah-isme/course-signup-api/pkg/errors"
	"github.com/noah-isme/course-signup-api/pkg/export"
	"github.com/noah-isme/course-signup-api/pkg/storage"
)

type attendeeStub map[string][]models.Attendee

func (s attendeeStub) ListByCourse(ctx context.Context, courseID string) ([]models.Attendee, error) {
	return s[courseID], nil
}

func newExportServiceForTest(t *testing.T) (*ExportService, *storage.LocalStorage, *recordingAudit) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	language := openLanguage("en")
	courses := fakeCourses{"b1": {ID: "b1", LanguageID: "en", Level: "B1", Alternative: "(evening)", Limit: 10, Price: 12000, Language: language}}
	paid := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	attendees := attendeeStub{"b1": {
		{Attendance: models.Attendance{ApplicantID: "a", CourseID: "b1", Discount: 50, AmountPaid: 6000, PaymentDate: &paid, Registered: signupBegin}, Mail: "ada@example.org", FirstName: "Ada", LastName: "Lovelace", Tag: strPtr("100001")},
		{Attendance: models.Attendance{ApplicantID: "b", CourseID: "b1", Waiting: true, Registered: signupBegin.Add(time.Hour)}, Mail: "bob@example.org", FirstName: "Bob"},
	}}

	audit := &recordingAudit{}
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	svc := NewExportService(courses, attendees, store, signer, nil, audit, zap.NewNop(), ExportConfig{APIPrefix: "/api/v1/", ResultTTL: time.Hour})
	return svc, store, audit
}

func tokenFromURL(t *testing.T, raw string) string {
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	return parsed.Query().Get("token")
}

func TestExportCourseCSV(t *testing.T) {
	svc, _, audit := newExportServiceForTest(t)

	result, err := svc.ExportCourse(context.Background(), "b1", "", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, export.FormatCSV, result.Format)
	assert.Equal(t, 2, result.Rows)
	assert.True(t, strings.HasPrefix(result.URL, "/api/v1/exports/download?token="))

	download, err := svc.ResolveDownload(tokenFromURL(t, result.URL))
	require.NoError(t, err)
	defer download.File.Close()
	assert.True(t, strings.HasSuffix(download.Filename, ".csv"))
	assert.Equal(t, "text/csv; charset=utf-8", download.ContentType)

	content, err := io.ReadAll(download.File)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Name;Mail;Tag;Status;Discount (%);Amount due;Paid;Payment date;Registered", lines[0])
	assert.Equal(t, "Ada Lovelace;ada@example.org;100001;active;50;60.00;60.00;2026-03-10;2026-03-02 08:00", lines[1])
	assert.Contains(t, lines[2], "Bob;bob@example.org;;waiting;0;120.00;0.00;;")
	assert.Equal(t, "Total;;;1 active / 1 waiting;;180.00;60.00;;", lines[3])

	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionCourseExport, audit.logs[0].Action)
}

func TestExportCoursePDF(t *testing.T) {
	svc, _, _ := newExportServiceForTest(t)

	result, err := svc.ExportCourse(context.Background(), "b1", "PDF", "admin-1")
	require.NoError(t, err)

	download, err := svc.ResolveDownload(tokenFromURL(t, result.URL))
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, "application/pdf", download.ContentType)
	head := make([]byte, 4)
	_, err = io.ReadFull(download.File, head)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(head))
}

func TestExportCourseErrors(t *testing.T) {
	svc, _, _ := newExportServiceForTest(t)

	_, err := svc.ExportCourse(context.Background(), "b1", "xlsx", "admin-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.ExportCourse(context.Background(), "missing", "csv", "admin-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestResolveDownloadRejectsBadTokens(t *testing.T) {
	svc, store, _ := newExportServiceForTest(t)

	result, err := svc.ExportCourse(context.Background(), "b1", "csv", "admin-1")
	require.NoError(t, err)
	token := tokenFromURL(t, result.URL)

	_, err = svc.ResolveDownload(token + "0")
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.ResolveDownload(token)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	svc.now = time.Now

	removed, err := store.CleanupOlderThan(-time.Minute)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	_, err = svc.ResolveDownload(token)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}
