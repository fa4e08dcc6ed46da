package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-signup-api/internal/models"
	appErrors "github.com/noah-isme/course-signup-api/pkg/errors"
)

type fakeApprovalStore struct {
	ratings  map[string]int
	known    map[string]bool
	verified []string
	err      error
}

func (f *fakeApprovalStore) UpdateRatingByTag(ctx context.Context, exec sqlx.ExtContext, tag string, rating int) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if !f.known[tag] {
		return 0, nil
	}
	f.ratings[tag] = rating
	return 1, nil
}

func (f *fakeApprovalStore) VerifyTags(ctx context.Context, exec sqlx.ExtContext, tags []string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.verified = append(f.verified, tags...)
	return int64(len(tags)), nil
}

type recordingPopulator struct {
	calls []time.Time
	err   error
}

func (p *recordingPopulator) RunGlobalPopulate(ctx context.Context, at time.Time) (*models.GlobalPopulateReport, error) {
	p.calls = append(p.calls, at)
	if p.err != nil {
		return nil, p.err
	}
	return &models.GlobalPopulateReport{At: at}, nil
}

func TestImportScores(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	store := &fakeApprovalStore{ratings: map[string]int{}, known: map[string]bool{"100001": true, "100002": true}}
	audit := &recordingAudit{}
	populator := &recordingPopulator{}
	svc := NewImportService(store, tx, audit, populator, true, nil)

	upload := "tag;rating\n100001;75\n100002; 40\n100003;90\n100004;abc\n;50\n100005;101\n"
	report, err := svc.ImportScores(context.Background(), strings.NewReader(upload), "admin-1", afterRnd)
	require.NoError(t, err)

	assert.Equal(t, 6, report.Rows)
	assert.EqualValues(t, 2, report.Applied)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Errors, 3)
	assert.Equal(t, 5, report.Errors[0].Line)
	assert.Equal(t, map[string]int{"100001": 75, "100002": 40}, store.ratings)

	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionApprovalImport, audit.logs[0].Action)
	assert.Equal(t, []time.Time{afterRnd}, populator.calls)
	require.NotNil(t, report.Populate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportScoresRollsBackOnStoreError(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	store := &fakeApprovalStore{err: errors.New("deadlock")}
	populator := &recordingPopulator{}
	svc := NewImportService(store, tx, nil, populator, true, nil)

	_, err := svc.ImportScores(context.Background(), strings.NewReader("100001,75\n"), "admin-1", afterRnd)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrPersistence))
	assert.Empty(t, populator.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportRegistrations(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	store := &fakeApprovalStore{}
	populator := &recordingPopulator{err: errors.New("busy")}
	svc := NewImportService(store, tx, nil, populator, true, nil)

	report, err := svc.ImportRegistrations(context.Background(), strings.NewReader("\xef\xbb\xbftag\n100001\n100002\n100001\n\n"), "admin-1", afterRnd)
	require.NoError(t, err)
	assert.Equal(t, []string{"100001", "100002"}, store.verified)
	assert.EqualValues(t, 2, report.Applied)
	assert.Equal(t, 1, report.Skipped)
	assert.Nil(t, report.Populate, "failed populate runs do not fail the import")
	assert.Len(t, populator.calls, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportRegistrationsRequiresTags(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	svc := NewImportService(&fakeApprovalStore{}, tx, nil, nil, false, nil)

	_, err := svc.ImportRegistrations(context.Background(), strings.NewReader("tag\n"), "admin-1", afterRnd)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadImportRecordsRejectsMalformedCSV(t *testing.T) {
	_, err := readImportRecords(strings.NewReader("100001,\"75\n"))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
