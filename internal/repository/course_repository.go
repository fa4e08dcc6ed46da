package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-signup-api/internal/models"
)

// CourseRepository reads courses with their language and seat counts.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs a CourseRepository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

const courseSelect = `SELECT c.id, c.language_id, c.level, c.alternative, c.seat_limit, c.price, c.rating_lowest,
       c.rating_highest, c.collision, c.overbooking_factor, c.has_waiting_list, c.created_at,
       ` + courseCountsSelect + `,
       ` + languageSelect + `
FROM courses c
JOIN languages l ON l.id = c.language_id`

// List returns all courses ordered by language and level.
func (r *CourseRepository) List(ctx context.Context) ([]*models.Course, error) {
	query := courseSelect + ` ORDER BY l.name ASC, c.level ASC, c.alternative ASC`
	var rows []courseRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	courses := make([]*models.Course, 0, len(rows))
	for _, row := range rows {
		courses = append(courses, row.toModel())
	}
	return courses, nil
}

// FindByID loads one course. The language and seat counts are populated.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := courseSelect + ` WHERE c.id = $1`
	var row courseRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// UpdateWaitingListFlags persists has_waiting_list for the given courses.
func (r *CourseRepository) UpdateWaitingListFlags(ctx context.Context, ext sqlx.ExtContext, courses []*models.Course) error {
	const query = `UPDATE courses SET has_waiting_list = $1 WHERE id = $2`
	target := exec(r.db, ext)
	for _, course := range courses {
		if _, err := target.ExecContext(ctx, query, course.HasWaitingList, course.ID); err != nil {
			return fmt.Errorf("update waiting list flag for %s: %w", course.ID, err)
		}
	}
	return nil
}
