package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-signup-api/internal/models"
	appErrors "github.com/noah-isme/course-signup-api/pkg/errors"
	"github.com/noah-isme/course-signup-api/pkg/export"
	"github.com/noah-isme/course-signup-api/pkg/storage"
)

type attendeeLister interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Attendee, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type datasetRenderer interface {
	Render(format export.Format, data export.Dataset) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	ID        string        `json:"id"`
	URL       string        `json:"url"`
	Format    export.Format `json:"format"`
	Rows      int           `json:"rows"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// ExportDownload is an opened export file. Callers close File.
type ExportDownload struct {
	File        *os.File
	Filename    string
	ContentType string
}

var attendeeHeaders = []string{"Name", "Mail", "Tag", "Status", "Discount (%)", "Amount due", "Paid", "Payment date", "Registered"}

// ExportService renders course attendee lists and hands out signed download links.
type ExportService struct {
	courses   courseFinder
	attendees attendeeLister
	storage   fileStorage
	renderer  datasetRenderer
	signer    *storage.SignedURLSigner
	audit     auditWriter
	logger    *zap.Logger
	cfg       ExportConfig
	now       func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(courses courseFinder, attendees attendeeLister, files fileStorage, signer *storage.SignedURLSigner, renderer datasetRenderer, audit auditWriter, logger *zap.Logger, cfg ExportConfig) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if renderer == nil {
		renderer = export.NewRenderer()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		courses:   courses,
		attendees: attendees,
		storage:   files,
		renderer:  renderer,
		signer:    signer,
		audit:     audit,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ExportCourse renders the attendee list of a course and stores it.
func (s *ExportService) ExportCourse(ctx context.Context, courseID, rawFormat, actorID string) (*ExportResult, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unsupported export format")
	}

	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	attendees, err := s.attendees.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendees")
	}

	payload, err := s.renderer.Render(format, buildAttendeeDataset(course, attendees))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	id := uuid.NewString()
	relPath, err := s.storage.Save(s.buildFilename(course, id, format), payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expiresAt, err := s.signer.Sign(id, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export")
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	recordAudit(ctx, s.audit, s.logger, &actorID, models.AuditActionCourseExport, "course", course.ID, nil, map[string]interface{}{
		"export_id": id,
		"format":    format,
		"rows":      len(attendees),
	})
	return &ExportResult{
		ID:        id,
		URL:       fmt.Sprintf("%s/exports/download?token=%s", prefix, token),
		Format:    format,
		Rows:      len(attendees),
		ExpiresAt: expiresAt,
	}, nil
}

// ResolveDownload validates a download token and opens the referenced file.
func (s *ExportService) ResolveDownload(token string) (*ExportDownload, error) {
	_, relPath, _, err := s.signer.Verify(token, s.now())
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "download link expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export no longer available")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export")
	}
	format := export.FormatCSV
	if strings.EqualFold(filepath.Ext(relPath), export.FormatPDF.Extension()) {
		format = export.FormatPDF
	}
	return &ExportDownload{File: file, Filename: filepath.Base(relPath), ContentType: format.ContentType()}, nil
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ExportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}

// Cleanup removes export files older than the configured result TTL.
func (s *ExportService) Cleanup() []string {
	removed, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL)
	if err != nil {
		s.logger.Sugar().Warnw("export cleanup failed", "error", err)
	}
	if len(removed) > 0 {
		s.logger.Sugar().Infow("expired exports removed", "count", len(removed))
	}
	return removed
}

func (s *ExportService) buildFilename(course *models.Course, id string, format export.Format) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	return fmt.Sprintf("%s/%s_%s_%s%s", timestamp[:8], sanitizeFilename(course.FullName()), timestamp, id[:8], format.Extension())
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "(", "", ")", "")
	result := strings.ToLower(replacer.Replace(raw))
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func buildAttendeeDataset(course *models.Course, attendees []models.Attendee) export.Dataset {
	rows := make([]map[string]string, 0, len(attendees))
	var due, paid int64
	var active, waiting int
	for i := range attendees {
		attendee := attendees[i]
		attendance := attendee.Attendance
		attendance.Course = course

		status := "active"
		if attendance.Waiting {
			status = "waiting"
			waiting++
		} else {
			active++
		}
		due += attendance.AmountDue()
		paid += attendance.AmountPaid
		tag := ""
		if attendee.Tag != nil {
			tag = *attendee.Tag
		}
		rows = append(rows, map[string]string{
			"Name":         strings.TrimSpace(attendee.FirstName + " " + attendee.LastName),
			"Mail":         attendee.Mail,
			"Tag":          tag,
			"Status":       status,
			"Discount (%)": fmt.Sprintf("%d", attendance.Discount),
			"Amount due":   formatCents(attendance.AmountDue()),
			"Paid":         formatCents(attendance.AmountPaid),
			"Payment date": formatExportTime(attendance.PaymentDate),
			"Registered":   attendance.Registered.UTC().Format("2006-01-02 15:04"),
		})
	}
	return export.Dataset{
		Title:   fmt.Sprintf("Attendees %s", course.FullName()),
		Headers: attendeeHeaders,
		Rows:    rows,
		Footer: map[string]string{
			"Name":       "Total",
			"Status":     fmt.Sprintf("%d active / %d waiting", active, waiting),
			"Amount due": formatCents(due),
			"Paid":       formatCents(paid),
		},
	}
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func formatExportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
