package models

import "time"

// NotificationKind selects the mail flavour sent to an applicant.
type NotificationKind string

const (
	NotificationActivated       NotificationKind = "activated"
	NotificationRestocked       NotificationKind = "restocked"
	NotificationRejectedWaiting NotificationKind = "rejected_waiting"
	NotificationRejectedPool    NotificationKind = "rejected_pool"
	NotificationRegistered      NotificationKind = "registered"
)

// Notification is an outcome event queued for asynchronous mail delivery.
type Notification struct {
	Kind           NotificationKind `json:"kind"`
	ApplicantID    string           `json:"applicant_id"`
	Mail           string           `json:"mail"`
	ApplicantName  string           `json:"applicant_name"`
	CourseID       string           `json:"course_id"`
	CourseName     string           `json:"course_name"`
	Waiting        bool             `json:"waiting"`
	AmountDue      int64            `json:"amount_due"`
	SignoffWindow  *time.Time       `json:"signoff_window,omitempty"`
	FirstRejection bool             `json:"first_rejection,omitempty"`
	SignoffSecret  string           `json:"-"`
}

// NewNotification builds a notification for an attendance in its current state.
func NewNotification(kind NotificationKind, a *Attendance) Notification {
	n := Notification{
		Kind:          kind,
		ApplicantID:   a.ApplicantID,
		CourseID:      a.CourseID,
		Waiting:       a.Waiting,
		AmountDue:     a.AmountDue(),
		SignoffWindow: a.SignoffWindow,
	}
	if a.Applicant != nil {
		n.Mail = a.Applicant.Mail
		n.ApplicantName = a.Applicant.FullName()
	}
	if a.Course != nil {
		n.CourseName = a.Course.FullName()
	}
	return n
}
