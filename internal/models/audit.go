package models

import "time"

// Audit actions recorded by allocation and administration flows.
const (
	AuditActionAttendanceActivated = "ATTENDANCE_ACTIVATED"
	AuditActionAttendanceUpdated   = "ATTENDANCE_UPDATED"
	AuditActionAttendanceSignoff   = "ATTENDANCE_SIGNOFF"
	AuditActionApplicantDelete     = "APPLICANT_DELETE"
	AuditActionApplicantUpdated    = "APPLICANT_UPDATED"
	AuditActionWaitingListChanged  = "COURSE_WAITING_LIST_CHANGED"
	AuditActionApprovalImport      = "APPROVAL_IMPORT"
	AuditActionCourseExport        = "COURSE_EXPORT"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
