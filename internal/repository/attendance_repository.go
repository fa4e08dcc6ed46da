package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-signup-api/internal/models"
)

// AttendanceRepository persists attendances and loads the populate snapshot.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

const attendanceColumns = `a.applicant_id, a.course_id, a.waiting, a.discount, a.amountpaid, a.payment_date,
       a.registered, a.signoff_window, a.informed_about_rejection`

// attendanceGraphRow is one attendance with its applicant, course and language flattened.
type attendanceGraphRow struct {
	models.Attendance
	ApplicantMail        string         `db:"applicant_mail"`
	ApplicantFirstName   string         `db:"applicant_first_name"`
	ApplicantLastName    string         `db:"applicant_last_name"`
	ApplicantTag         *string        `db:"applicant_tag"`
	ApplicantTagVerified bool           `db:"applicant_tag_verified"`
	ApplicantDiscounted  bool           `db:"applicant_discounted"`
	ApplicantRating      *int           `db:"applicant_rating"`
	CourseLanguageID     string         `db:"course_language_id"`
	CourseLevel          string         `db:"course_level"`
	CourseAlternative    string         `db:"course_alternative"`
	CourseLimit          int            `db:"course_seat_limit"`
	CoursePrice          int64          `db:"course_price"`
	CourseRatingLowest   int            `db:"course_rating_lowest"`
	CourseRatingHighest  int            `db:"course_rating_highest"`
	CourseCollision      pq.StringArray `db:"course_collision"`
	CourseOverbooking    float64        `db:"course_overbooking_factor"`
	CourseHasWaitingList bool           `db:"course_has_waiting_list"`
	CourseActiveCount    int            `db:"course_active_count"`
	CourseAttendanceCnt  int            `db:"course_attendance_count"`
	languageFields
}

// ListWaiting returns all waiting attendances ordered by registration time.
// Each attendance carries its applicant with the applicant's full attendance
// collection, and every course carries its language and materialized seat counts.
// Courses and applicants are shared between attendances so in-memory changes
// made during a run are visible to later candidates.
func (r *AttendanceRepository) ListWaiting(ctx context.Context) ([]*models.Attendance, error) {
	query := `SELECT ` + attendanceColumns + `,
       p.mail AS applicant_mail, p.first_name AS applicant_first_name, p.last_name AS applicant_last_name,
       p.tag AS applicant_tag, p.tag_verified AS applicant_tag_verified, p.discounted AS applicant_discounted,
       p.rating AS applicant_rating,
       c.language_id AS course_language_id, c.level AS course_level, c.alternative AS course_alternative,
       c.seat_limit AS course_seat_limit, c.price AS course_price, c.rating_lowest AS course_rating_lowest,
       c.rating_highest AS course_rating_highest, c.collision AS course_collision,
       c.overbooking_factor AS course_overbooking_factor, c.has_waiting_list AS course_has_waiting_list,
       (SELECT COUNT(*) FROM attendances x WHERE x.course_id = c.id AND NOT x.waiting) AS course_active_count,
       (SELECT COUNT(*) FROM attendances x WHERE x.course_id = c.id) AS course_attendance_count,
       ` + languageSelect + `
FROM attendances a
JOIN applicants p ON p.id = a.applicant_id
JOIN courses c ON c.id = a.course_id
JOIN languages l ON l.id = c.language_id
WHERE a.applicant_id IN (SELECT applicant_id FROM attendances WHERE waiting)
ORDER BY a.registered ASC, a.applicant_id, a.course_id`

	var rows []attendanceGraphRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list waiting attendances: %w", err)
	}
	return buildAttendanceGraph(rows), nil
}

func buildAttendanceGraph(rows []attendanceGraphRow) []*models.Attendance {
	languages := make(map[string]*models.Language)
	courses := make(map[string]*models.Course)
	applicants := make(map[string]*models.Applicant)
	waiting := make([]*models.Attendance, 0, len(rows))

	for i := range rows {
		row := rows[i]

		language, ok := languages[row.CourseLanguageID]
		if !ok {
			language = row.languageFields.toModel(row.CourseLanguageID)
			languages[language.ID] = language
		}

		course, ok := courses[row.CourseID]
		if !ok {
			course = &models.Course{
				ID:                row.CourseID,
				LanguageID:        row.CourseLanguageID,
				Level:             row.CourseLevel,
				Alternative:       row.CourseAlternative,
				Limit:             row.CourseLimit,
				Price:             row.CoursePrice,
				RatingLowest:      row.CourseRatingLowest,
				RatingHighest:     row.CourseRatingHighest,
				Collision:         row.CourseCollision,
				OverbookingFactor: row.CourseOverbooking,
				HasWaitingList:    row.CourseHasWaitingList,
				ActiveCount:       row.CourseActiveCount,
				AttendanceCount:   row.CourseAttendanceCnt,
				Language:          language,
			}
			courses[course.ID] = course
		}

		applicant, ok := applicants[row.ApplicantID]
		if !ok {
			applicant = &models.Applicant{
				ID:          row.ApplicantID,
				Mail:        row.ApplicantMail,
				FirstName:   row.ApplicantFirstName,
				LastName:    row.ApplicantLastName,
				Tag:         row.ApplicantTag,
				TagVerified: row.ApplicantTagVerified,
				Discounted:  row.ApplicantDiscounted,
				Rating:      row.ApplicantRating,
			}
			applicants[applicant.ID] = applicant
		}

		attendance := row.Attendance
		attendance.Applicant = applicant
		attendance.Course = course
		applicant.Attendances = append(applicant.Attendances, &attendance)
		if attendance.Waiting {
			waiting = append(waiting, &attendance)
		}
	}
	return waiting
}

// SaveAllocation writes the allocation fields of the given attendances.
func (r *AttendanceRepository) SaveAllocation(ctx context.Context, ext sqlx.ExtContext, attendances []*models.Attendance) error {
	const query = `UPDATE attendances SET waiting = $1, discount = $2, signoff_window = $3, informed_about_rejection = $4
WHERE applicant_id = $5 AND course_id = $6`
	target := exec(r.db, ext)
	for _, a := range attendances {
		result, err := target.ExecContext(ctx, query, a.Waiting, a.Discount, a.SignoffWindow, a.InformedAboutRejection, a.ApplicantID, a.CourseID)
		if err != nil {
			return fmt.Errorf("update attendance %s: %w", models.AttendanceKey(a.ApplicantID, a.CourseID), err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("attendance rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("attendance %s vanished during allocation: %w", models.AttendanceKey(a.ApplicantID, a.CourseID), sql.ErrNoRows)
		}
	}
	return nil
}

// Find loads a single attendance.
func (r *AttendanceRepository) Find(ctx context.Context, applicantID, courseID string) (*models.Attendance, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendances a WHERE a.applicant_id = $1 AND a.course_id = $2`
	var attendance models.Attendance
	if err := r.db.GetContext(ctx, &attendance, query, applicantID, courseID); err != nil {
		return nil, err
	}
	return &attendance, nil
}

// ListByApplicant returns all attendances of an applicant with their courses.
func (r *AttendanceRepository) ListByApplicant(ctx context.Context, applicantID string) ([]*models.Attendance, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendances a WHERE a.applicant_id = $1 ORDER BY a.registered ASC`
	var rows []models.Attendance
	if err := r.db.SelectContext(ctx, &rows, query, applicantID); err != nil {
		return nil, fmt.Errorf("list applicant attendances: %w", err)
	}
	result := make([]*models.Attendance, 0, len(rows))
	for i := range rows {
		result = append(result, &rows[i])
	}
	return result, nil
}

// Create inserts a new attendance.
func (r *AttendanceRepository) Create(ctx context.Context, ext sqlx.ExtContext, attendance *models.Attendance) error {
	if attendance.Registered.IsZero() {
		attendance.Registered = time.Now().UTC()
	}
	const query = `INSERT INTO attendances (applicant_id, course_id, waiting, discount, amountpaid, payment_date, registered, signoff_window, informed_about_rejection)
VALUES (:applicant_id, :course_id, :waiting, :discount, :amountpaid, :payment_date, :registered, :signoff_window, :informed_about_rejection)`
	if _, err := sqlx.NamedExecContext(ctx, exec(r.db, ext), query, attendance); err != nil {
		return fmt.Errorf("create attendance: %w", err)
	}
	return nil
}

// Update writes all administratively editable fields.
func (r *AttendanceRepository) Update(ctx context.Context, ext sqlx.ExtContext, attendance *models.Attendance) error {
	const query = `UPDATE attendances SET waiting = :waiting, discount = :discount, amountpaid = :amountpaid,
payment_date = :payment_date, signoff_window = :signoff_window, informed_about_rejection = :informed_about_rejection
WHERE applicant_id = :applicant_id AND course_id = :course_id`
	result, err := sqlx.NamedExecContext(ctx, exec(r.db, ext), query, attendance)
	if err != nil {
		return fmt.Errorf("update attendance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("attendance rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes an attendance.
func (r *AttendanceRepository) Delete(ctx context.Context, ext sqlx.ExtContext, applicantID, courseID string) error {
	const query = `DELETE FROM attendances WHERE applicant_id = $1 AND course_id = $2`
	result, err := exec(r.db, ext).ExecContext(ctx, query, applicantID, courseID)
	if err != nil {
		return fmt.Errorf("delete attendance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("attendance rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListByCourse returns every attendance of a course joined with the applicant.
func (r *AttendanceRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Attendee, error) {
	query := `SELECT ` + attendanceColumns + `, p.mail, p.first_name, p.last_name, p.tag
FROM attendances a JOIN applicants p ON p.id = a.applicant_id
WHERE a.course_id = $1 ORDER BY a.waiting ASC, p.last_name ASC, p.first_name ASC`
	var rows []models.Attendee
	if err := r.db.SelectContext(ctx, &rows, query, courseID); err != nil {
		return nil, fmt.Errorf("list course attendees: %w", err)
	}
	return rows, nil
}
