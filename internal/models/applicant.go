package models

import "time"

// MaxDiscount is the discount percentage for a free course.
const MaxDiscount = 100

// Applicant is a person signing up for courses. The applicant exclusively owns
// its attendances.
type Applicant struct {
	ID          string    `db:"id" json:"id"`
	Mail        string    `db:"mail" json:"mail"`
	FirstName   string    `db:"first_name" json:"first_name"`
	LastName    string    `db:"last_name" json:"last_name"`
	Tag         *string   `db:"tag" json:"tag,omitempty"`
	TagVerified bool      `db:"tag_verified" json:"tag_verified"`
	Degree      string    `db:"degree" json:"degree,omitempty"`
	Semester    int       `db:"semester" json:"semester,omitempty"`
	Origin      string    `db:"origin" json:"origin,omitempty"`
	Discounted  bool      `db:"discounted" json:"discounted"`
	Rating      *int      `db:"rating" json:"rating,omitempty"`
	SignoffHash string    `db:"signoff_hash" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`

	Attendances []*Attendance `db:"-" json:"attendances,omitempty"`
}

// FullName joins first and last name.
func (a *Applicant) FullName() string {
	if a.LastName == "" {
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}

// HasValidTag reports whether the applicant holds a verified registration tag.
func (a *Applicant) HasValidTag() bool {
	return a.Tag != nil && *a.Tag != "" && a.TagVerified
}

// ActiveAttendances counts the non-waiting attendances.
func (a *Applicant) ActiveAttendances() int {
	n := 0
	for _, at := range a.Attendances {
		if !at.Waiting {
			n++
		}
	}
	return n
}

// AttendanceFor returns the attendance for courseID, if any.
func (a *Applicant) AttendanceFor(courseID string) *Attendance {
	for _, at := range a.Attendances {
		if at.CourseID == courseID {
			return at
		}
	}
	return nil
}

// ActiveInParallelCourse reports whether the applicant holds a non-waiting
// attendance in another course of the same language that collides with course.
func (a *Applicant) ActiveInParallelCourse(course *Course) bool {
	for _, at := range a.Attendances {
		if at.Waiting || at.CourseID == course.ID || at.Course == nil {
			continue
		}
		if course.CollidesWith(at.Course) {
			return true
		}
	}
	return false
}

// CurrentDiscount returns the discount an attendance would receive if it became
// active now: the first course is free for verified students.
func (a *Applicant) CurrentDiscount() int {
	if a.HasValidTag() && a.ActiveAttendances() == 0 {
		return MaxDiscount
	}
	if a.Discounted {
		return MaxDiscount / 2
	}
	return 0
}
