package submission

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/assignment"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusAcknowledged Status = "acknowledged"
	StatusSubmitted    Status = "submitted"
	StatusGraded       Status = "graded"
)

// ConfirmedStatuses are the statuses of submissions the owner has confirmed.
var ConfirmedStatuses = []Status{StatusAcknowledged, StatusSubmitted, StatusGraded}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusAcknowledged, StatusSubmitted, StatusGraded:
		return true
	}
	return false
}

func (s Status) IsConfirmed() bool {
	switch s {
	case StatusAcknowledged, StatusSubmitted, StatusGraded:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// Submission is owned by exactly one of a student or a group, depending on its assignment's type.
type Submission struct {
	ID             string       `json:"id"`
	AssignmentID   string       `json:"assignment_id"`
	StudentID      null.String  `json:"student_id"`
	GroupID        null.String  `json:"group_id"`
	Status         Status       `json:"status"`
	SubmissionLink string       `json:"submission_link"`
	Marks          null.Float64 `json:"marks"`
	Feedback       string       `json:"feedback"`
	AcknowledgedBy null.String  `json:"acknowledged_by"`
	AcknowledgedAt null.Time    `json:"acknowledged_at"` // UTC
	SubmittedAt    null.Time    `json:"submitted_at"`    // UTC
	GradedBy       null.String  `json:"graded_by"`
	GradedAt       null.Time    `json:"graded_at"` // UTC
	CreatedAt      time.Time    `json:"created_at"` // UTC
	UpdatedAt      time.Time    `json:"updated_at"` // UTC
}

func (s Submission) IsGroup() bool { return s.GroupID.Valid }

func (s Submission) Key() Key {
	return Key{AssignmentID: s.AssignmentID, StudentID: s.StudentID.String, GroupID: s.GroupID.String}
}

// checkShape verifies that exactly one owner is set, matching the assignment's type.
func (s Submission) checkShape(a assignment.Assignment) error {
	if s.StudentID.Valid == s.GroupID.Valid {
		return errInvalidShape
	}
	if s.GroupID.Valid != a.IsGroup() {
		return errInvalidShape
	}
	return nil
}

// transition moves the submission to status, stamping the confirmation fields on the way in.
func (s *Submission) transition(status Status, actorID string, now time.Time) {
	if status == "" || status == s.Status {
		return
	}
	switch status {
	case StatusAcknowledged:
		s.AcknowledgedBy = null.StringFrom(actorID)
		s.AcknowledgedAt = null.TimeFrom(now)
		s.SubmittedAt = null.TimeFrom(now)
	case StatusSubmitted:
		s.SubmittedAt = null.TimeFrom(now)
	}
	s.Status = status
}

// Key identifies a submission by its owner. Exactly one of StudentID and GroupID is set.
type Key struct {
	AssignmentID string
	StudentID    string
	GroupID      string
}

// UpsertSubmission contains information provided by a student to create or update their submission.
// An empty Status leaves an existing submission's status as is, and defaults to pending for a new one.
type UpsertSubmission struct {
	AssignmentID   string `json:"assignment_id" validate:"required,uuid"`
	GroupID        string `json:"group_id" validate:"omitempty,uuid"`
	Status         Status `json:"status" validate:"omitempty,oneof=pending acknowledged submitted"`
	SubmissionLink string `json:"submission_link" validate:"omitempty,url"`
}

func (us *UpsertSubmission) Validate(validate *validator.Validate) error {
	us.AssignmentID = core.CleanString(us.AssignmentID, true /* lower */)
	us.GroupID = core.CleanString(us.GroupID, true /* lower */)
	us.Status = Status(core.CleanString(string(us.Status), true /* lower */))
	us.SubmissionLink = core.CleanString(us.SubmissionLink)
	return validate.Struct(us)
}

// GradeSubmission contains information provided by the course owner to grade a submission.
type GradeSubmission struct {
	Marks    *float64 `json:"marks" validate:"omitempty,min=0"`
	Feedback *string  `json:"feedback"`
	Status   *Status  `json:"status" validate:"omitempty,oneof=acknowledged submitted graded"`
}

func (gs *GradeSubmission) Validate(validate *validator.Validate) error {
	if gs.Feedback != nil {
		*gs.Feedback = core.CleanString(*gs.Feedback)
	}
	if gs.Status != nil {
		*gs.Status = Status(core.CleanString(string(*gs.Status), true /* lower */))
	}
	return validate.Struct(gs)
}

// ListFilter narrows down the submissions an actor can see.
type ListFilter struct {
	AssignmentID string `query:"assignment_id"`
	CourseID     string `query:"course_id"`
	Status       Status `query:"status"`
}

func (lf *ListFilter) Clean() {
	lf.AssignmentID = core.CleanString(lf.AssignmentID, true /* lower */)
	lf.CourseID = core.CleanString(lf.CourseID, true /* lower */)
	lf.Status = Status(core.CleanString(string(lf.Status), true /* lower */))
}

// QueryFilter applies AND operation on its set fields, except for
// StudentID and GroupIDs which match submissions owned by either.
type QueryFilter struct {
	AssignmentIDs []string
	StudentID     string
	GroupIDs      []string
	Statuses      []Status
	IDs           []string
}

// Orderable fields; timestamps that are not set sort last.
var (
	OrderingFields      = []string{"submitted_at", "acknowledged_at", "created_at"}
	DefaultOrdering     = []core.DBOrdering{{Field: "submitted_at"}, {Field: "created_at"}}
	AcknowledgeOrdering = []core.DBOrdering{{Field: "acknowledged_at"}, {Field: "created_at"}}
)

func UpsertMessage(status Status) string {
	if status == StatusAcknowledged {
		return "Submission acknowledged successfully"
	}
	return "Submission recorded successfully"
}
