package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-signup-api/internal/models"
)

// ApplicantRepository manages applicants.
type ApplicantRepository struct {
	db *sqlx.DB
}

// NewApplicantRepository constructs an ApplicantRepository.
func NewApplicantRepository(db *sqlx.DB) *ApplicantRepository {
	return &ApplicantRepository{db: db}
}

const applicantColumns = `id, mail, first_name, last_name, tag, tag_verified, degree, semester, origin, discounted, rating, signoff_hash, created_at`

// FindByMail loads an applicant by mail, case-insensitively.
func (r *ApplicantRepository) FindByMail(ctx context.Context, mail string) (*models.Applicant, error) {
	query := `SELECT ` + applicantColumns + ` FROM applicants WHERE LOWER(mail) = LOWER($1)`
	var applicant models.Applicant
	if err := r.db.GetContext(ctx, &applicant, query, strings.TrimSpace(mail)); err != nil {
		return nil, err
	}
	return &applicant, nil
}

// FindByID loads an applicant by id.
func (r *ApplicantRepository) FindByID(ctx context.Context, id string) (*models.Applicant, error) {
	query := `SELECT ` + applicantColumns + ` FROM applicants WHERE id = $1`
	var applicant models.Applicant
	if err := r.db.GetContext(ctx, &applicant, query, id); err != nil {
		return nil, err
	}
	return &applicant, nil
}

// Create inserts a new applicant, assigning id and creation time when missing.
func (r *ApplicantRepository) Create(ctx context.Context, ext sqlx.ExtContext, applicant *models.Applicant) error {
	if applicant.ID == "" {
		applicant.ID = uuid.NewString()
	}
	if applicant.CreatedAt.IsZero() {
		applicant.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO applicants (` + applicantColumns + `)
VALUES (:id, :mail, :first_name, :last_name, :tag, :tag_verified, :degree, :semester, :origin, :discounted, :rating, :signoff_hash, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec(r.db, ext), query, applicant); err != nil {
		return fmt.Errorf("create applicant: %w", err)
	}
	return nil
}

// Delete removes an applicant. Attendances cascade in the schema.
func (r *ApplicantRepository) Delete(ctx context.Context, ext sqlx.ExtContext, id string) error {
	result, err := exec(r.db, ext).ExecContext(ctx, `DELETE FROM applicants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete applicant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("applicant rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetDiscounted changes the general discount eligibility of an applicant.
func (r *ApplicantRepository) SetDiscounted(ctx context.Context, ext sqlx.ExtContext, id string, discounted bool) error {
	result, err := exec(r.db, ext).ExecContext(ctx, `UPDATE applicants SET discounted = $1 WHERE id = $2`, discounted, id)
	if err != nil {
		return fmt.Errorf("update applicant discount: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("applicant rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateRatingByTag sets the rating of the applicant holding tag and returns the affected rows.
func (r *ApplicantRepository) UpdateRatingByTag(ctx context.Context, ext sqlx.ExtContext, tag string, rating int) (int64, error) {
	result, err := exec(r.db, ext).ExecContext(ctx, `UPDATE applicants SET rating = $1 WHERE tag = $2`, rating, tag)
	if err != nil {
		return 0, fmt.Errorf("update applicant rating: %w", err)
	}
	return result.RowsAffected()
}

// VerifyTags marks the given registration tags as verified. Unlisted tags lose
// their verification since the import is the complete registration roster.
func (r *ApplicantRepository) VerifyTags(ctx context.Context, ext sqlx.ExtContext, tags []string) (int64, error) {
	target := exec(r.db, ext)
	if _, err := target.ExecContext(ctx, `UPDATE applicants SET tag_verified = FALSE WHERE tag_verified AND NOT (tag = ANY($1))`, pq.Array(tags)); err != nil {
		return 0, fmt.Errorf("reset applicant tags: %w", err)
	}
	result, err := target.ExecContext(ctx, `UPDATE applicants SET tag_verified = TRUE WHERE tag = ANY($1)`, pq.Array(tags))
	if err != nil {
		return 0, fmt.Errorf("verify applicant tags: %w", err)
	}
	return result.RowsAffected()
}
