package models

import (
	"time"

	"github.com/lib/pq"
)

// Rating bounds used for score based eligibility.
const (
	RatingMin = 0
	RatingMax = 100
)

// Course is a bookable course of a language. ActiveCount and AttendanceCount are
// materialized by the repository and kept current in memory during a populate run.
type Course struct {
	ID                string         `db:"id" json:"id"`
	LanguageID        string         `db:"language_id" json:"language_id"`
	Level             string         `db:"level" json:"level"`
	Alternative       string         `db:"alternative" json:"alternative,omitempty"`
	Limit             int            `db:"seat_limit" json:"limit"`
	Price             int64          `db:"price" json:"price"`
	RatingLowest      int            `db:"rating_lowest" json:"rating_lowest"`
	RatingHighest     int            `db:"rating_highest" json:"rating_highest"`
	Collision         pq.StringArray `db:"collision" json:"collision"`
	OverbookingFactor float64        `db:"overbooking_factor" json:"overbooking_factor"`
	HasWaitingList    bool           `db:"has_waiting_list" json:"has_waiting_list"`
	ActiveCount       int            `db:"active_count" json:"active_count"`
	AttendanceCount   int            `db:"attendance_count" json:"attendance_count"`
	CreatedAt         time.Time      `db:"created_at" json:"-"`

	Language *Language `db:"-" json:"language,omitempty"`
}

// FullName combines level and alternative, e.g. "B1 (evening)".
func (c *Course) FullName() string {
	name := c.Level
	if c.Language != nil && c.Language.Name != "" {
		name = c.Language.Name + " " + name
	}
	if c.Alternative != "" {
		name += " " + c.Alternative
	}
	return name
}

// IsFull reports whether all seats are taken by non-waiting attendances.
func (c *Course) IsFull() bool {
	return c.ActiveCount >= c.Limit
}

// Vacancies returns the number of free seats, never negative.
func (c *Course) Vacancies() int {
	if free := c.Limit - c.ActiveCount; free > 0 {
		return free
	}
	return 0
}

// IsOverbooked reports whether the total number of attendances reached the soft
// ceiling limit * factor. The course factor wins over defaultFactor when set.
func (c *Course) IsOverbooked(defaultFactor float64) bool {
	factor := c.OverbookingFactor
	if factor <= 0 {
		factor = defaultFactor
	}
	if factor <= 0 {
		factor = 1
	}
	return float64(c.AttendanceCount) >= float64(c.Limit)*factor
}

// RestrictsRating reports whether the course has score based eligibility bounds.
func (c *Course) RestrictsRating() bool {
	return c.RatingLowest > RatingMin || c.RatingHighest < RatingMax
}

// AllowsRating reports whether an applicant with the given rating may sign up.
func (c *Course) AllowsRating(rating *int) bool {
	if !c.RestrictsRating() {
		return true
	}
	if rating == nil {
		return false
	}
	return *rating >= c.RatingLowest && *rating <= c.RatingHighest
}

// CollidesWith reports whether both courses belong to the same language and
// share a level or cross-list each other's level as colliding.
func (c *Course) CollidesWith(other *Course) bool {
	if other == nil || c.LanguageID != other.LanguageID {
		return false
	}
	if c.Level == other.Level {
		return true
	}
	return containsLevel(c.Collision, other.Level) || containsLevel(other.Collision, c.Level)
}

func containsLevel(levels []string, level string) bool {
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

// CourseOverview is the public, cacheable view of a course.
type CourseOverview struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Language       string    `json:"language"`
	Level          string    `json:"level"`
	Limit          int       `json:"limit"`
	Vacancies      int       `json:"vacancies"`
	HasWaitingList bool      `json:"has_waiting_list"`
	Price          int64     `json:"price"`
	SignupBegin    time.Time `json:"signup_begin"`
	SignupEnd      time.Time `json:"signup_end"`
}
