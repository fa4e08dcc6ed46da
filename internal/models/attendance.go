package models

import "time"

// Attendance joins an applicant and a course. Its identity is (applicant, course).
type Attendance struct {
	ApplicantID            string     `db:"applicant_id" json:"applicant_id"`
	CourseID               string     `db:"course_id" json:"course_id"`
	Waiting                bool       `db:"waiting" json:"waiting"`
	Discount               int        `db:"discount" json:"discount"`
	AmountPaid             int64      `db:"amountpaid" json:"amount_paid"`
	PaymentDate            *time.Time `db:"payment_date" json:"payment_date,omitempty"`
	Registered             time.Time  `db:"registered" json:"registered"`
	SignoffWindow          *time.Time `db:"signoff_window" json:"signoff_window,omitempty"`
	InformedAboutRejection bool       `db:"informed_about_rejection" json:"informed_about_rejection"`

	Applicant *Applicant `db:"-" json:"-"`
	Course    *Course    `db:"-" json:"-"`
}

// SetWaitingStatus moves the attendance between Waiting and Active. Every
// activation freezes a fresh self signoff deadline at now+grace, rounded down
// to the full hour (in absolute time, which equals the local hour for zones
// with whole-hour offsets). Moving back to waiting leaves the deadline alone.
func (a *Attendance) SetWaitingStatus(waiting bool, now time.Time, grace time.Duration) {
	if a.Waiting == waiting {
		return
	}
	a.Waiting = waiting
	if !waiting {
		deadline := now.Add(grace).Truncate(time.Hour)
		a.SignoffWindow = &deadline
	}
}

// CanSignoff reports whether the applicant may still cancel on their own at t.
func (a *Attendance) CanSignoff(t time.Time) bool {
	if a.Waiting || a.SignoffWindow == nil {
		return true
	}
	return t.Before(*a.SignoffWindow)
}

// AmountDue is the course price after the snapshotted discount.
func (a *Attendance) AmountDue() int64 {
	if a.Course == nil {
		return 0
	}
	return a.Course.Price * int64(MaxDiscount-a.Discount) / MaxDiscount
}

// Outstanding is what remains to be paid.
func (a *Attendance) Outstanding() int64 {
	if rest := a.AmountDue() - a.AmountPaid; rest > 0 {
		return rest
	}
	return 0
}

// AttendanceKey identifies an attendance.
func AttendanceKey(applicantID, courseID string) string {
	return applicantID + ":" + courseID
}

// Attendee is an attendance joined with its applicant's contact data.
type Attendee struct {
	Attendance
	Mail      string  `db:"mail" json:"mail"`
	FirstName string  `db:"first_name" json:"first_name"`
	LastName  string  `db:"last_name" json:"last_name"`
	Tag       *string `db:"tag" json:"tag,omitempty"`
}
