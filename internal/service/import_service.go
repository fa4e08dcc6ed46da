package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-signup-api/internal/models"
	appErrors "github.com/noah-isme/course-signup-api/pkg/errors"
)

const (
	importKindScores        = "scores"
	importKindRegistrations = "registrations"

	maxImportSize = 8 << 20
)

type approvalStore interface {
	UpdateRatingByTag(ctx context.Context, exec sqlx.ExtContext, tag string, rating int) (int64, error)
	VerifyTags(ctx context.Context, exec sqlx.ExtContext, tags []string) (int64, error)
}

type globalPopulator interface {
	RunGlobalPopulate(ctx context.Context, at time.Time) (*models.GlobalPopulateReport, error)
}

// ImportService applies externally supplied approval data: test scores and
// the registration roster that verifies student tags.
type ImportService struct {
	store         approvalStore
	tx            txProvider
	audit         auditWriter
	allocation    globalPopulator
	populateAfter bool
	logger        *zap.Logger
}

// NewImportService constructs an ImportService. When populateAfter is set every
// successful import is followed by a global populate run.
func NewImportService(store approvalStore, tx txProvider, audit auditWriter, allocation globalPopulator, populateAfter bool, logger *zap.Logger) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportService{
		store:         store,
		tx:            tx,
		audit:         audit,
		allocation:    allocation,
		populateAfter: populateAfter,
		logger:        logger,
	}
}

type scoreRow struct {
	tag    string
	rating int
}

// ImportScores reads "tag,rating" records and updates applicant ratings.
// Malformed lines are reported and skipped; valid lines are applied atomically.
func (s *ImportService) ImportScores(ctx context.Context, r io.Reader, actorID string, now time.Time) (*models.ImportReport, error) {
	records, err := readImportRecords(r)
	if err != nil {
		return nil, err
	}

	report := &models.ImportReport{Kind: importKindScores}
	rows := make([]scoreRow, 0, len(records))
	for _, rec := range records {
		report.Rows++
		if len(rec.fields) < 2 {
			report.Errors = append(report.Errors, models.ImportRowError{Line: rec.line, Message: "expected tag and rating"})
			continue
		}
		tag := strings.TrimSpace(rec.fields[0])
		rating, convErr := strconv.Atoi(strings.TrimSpace(rec.fields[1]))
		switch {
		case tag == "":
			report.Errors = append(report.Errors, models.ImportRowError{Line: rec.line, Message: "tag is empty"})
		case convErr != nil:
			report.Errors = append(report.Errors, models.ImportRowError{Line: rec.line, Message: "rating is not a number"})
		case rating < models.RatingMin || rating > models.RatingMax:
			report.Errors = append(report.Errors, models.ImportRowError{Line: rec.line, Message: fmt.Sprintf("rating must be between %d and %d", models.RatingMin, models.RatingMax)})
		default:
			rows = append(rows, scoreRow{tag: tag, rating: rating})
		}
	}

	if len(rows) == 0 {
		return report, nil
	}
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, row := range rows {
			affected, err := s.store.UpdateRatingByTag(ctx, tx, row.tag, row.rating)
			if err != nil {
				return err
			}
			if affected == 0 {
				report.Skipped++
			}
			report.Applied += affected
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.finish(ctx, report, actorID, now)
	return report, nil
}

// ImportRegistrations reads the complete roster of enrolled student tags, one
// per line. Listed tags become verified, all others lose verification.
func (s *ImportService) ImportRegistrations(ctx context.Context, r io.Reader, actorID string, now time.Time) (*models.ImportReport, error) {
	records, err := readImportRecords(r)
	if err != nil {
		return nil, err
	}

	report := &models.ImportReport{Kind: importKindRegistrations}
	seen := make(map[string]struct{}, len(records))
	tags := make([]string, 0, len(records))
	for _, rec := range records {
		report.Rows++
		tag := ""
		if len(rec.fields) > 0 {
			tag = strings.TrimSpace(rec.fields[0])
		}
		if tag == "" {
			report.Errors = append(report.Errors, models.ImportRowError{Line: rec.line, Message: "tag is empty"})
			continue
		}
		if _, dup := seen[tag]; dup {
			report.Skipped++
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "registration roster contains no tags")
	}

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		affected, err := s.store.VerifyTags(ctx, tx, tags)
		report.Applied = affected
		return err
	})
	if err != nil {
		return nil, err
	}

	s.finish(ctx, report, actorID, now)
	return report, nil
}

func (s *ImportService) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to apply import")
	}
	if err = tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to commit import")
	}
	return nil
}

// finish records the import and triggers the follow-up populate run. A failing
// run does not undo the import; it is logged and left to the scheduler.
func (s *ImportService) finish(ctx context.Context, report *models.ImportReport, actorID string, now time.Time) {
	recordAudit(ctx, s.audit, s.logger, &actorID, models.AuditActionApprovalImport, "approval", report.Kind, nil, map[string]interface{}{
		"rows":    report.Rows,
		"applied": report.Applied,
		"skipped": report.Skipped,
		"errors":  len(report.Errors),
	})
	s.logger.Info("approval import applied",
		zap.String("kind", report.Kind),
		zap.Int("rows", report.Rows),
		zap.Int64("applied", report.Applied),
		zap.Int("errors", len(report.Errors)))

	if !s.populateAfter || s.allocation == nil {
		return
	}
	populate, err := s.allocation.RunGlobalPopulate(ctx, now)
	if err != nil {
		s.logger.Error("populate after import failed", zap.String("kind", report.Kind), zap.Error(err))
		return
	}
	report.Populate = populate
}

type importRecord struct {
	line   int
	fields []string
}

// readImportRecords parses a comma or semicolon separated upload. A first line
// without any digit is treated as header.
func readImportRecords(r io.Reader) ([]importRecord, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxImportSize+1))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read upload")
	}
	if len(raw) > maxImportSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, "upload is too large")
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = detectComma(raw)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records []importRecord
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed csv")
		}
		line, _ := reader.FieldPos(0)
		if len(records) == 0 && line == 1 && isHeader(fields) {
			continue
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		records = append(records, importRecord{line: line, fields: fields})
	}
	return records, nil
}

func detectComma(raw []byte) rune {
	first, _ := bufio.NewReader(bytes.NewReader(raw)).ReadString('\n')
	if strings.Count(first, ";") > strings.Count(first, ",") {
		return ';'
	}
	return ','
}

func isHeader(fields []string) bool {
	for _, field := range fields {
		if strings.ContainsAny(field, "0123456789") {
			return false
		}
	}
	return true
}
