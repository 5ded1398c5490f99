package assignment

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/coursehub/core"
)

// Type determines who owns the assignment's submissions: one per student, or one per group.
type Type string

const (
	TypeIndividual Type = "individual"
	TypeGroup      Type = "group"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeIndividual, TypeGroup:
		return true
	}
	return false
}

func (t Type) String() string { return string(t) }

const DefaultMaxMarks float64 = 100

type Assignment struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	CourseID     string    `json:"course_id"`
	Type         Type      `json:"type"`
	DueDate      time.Time `json:"due_date"` // UTC
	ExternalLink string    `json:"external_link"`
	MaxMarks     float64   `json:"max_marks"`
	Instructions string    `json:"instructions"`
	ProfessorID  string    `json:"professor_id"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC

	// computed
	Overdue         bool `json:"is_overdue"`
	SubmissionCount int  `json:"submission_count"`
}

func (a Assignment) IsOverdue(now time.Time) bool { return now.After(a.DueDate) }

func (a Assignment) IsGroup() bool { return a.Type == TypeGroup }

// NewAssignment contains information needed to create a new Assignment.
type NewAssignment struct {
	Title        string    `json:"title" validate:"required,max=255"`
	Description  string    `json:"description"`
	CourseID     string    `json:"course_id" validate:"required,uuid"`
	Type         Type      `json:"type" validate:"required,oneof=individual group"`
	DueDate      time.Time `json:"due_date" validate:"required"`
	ExternalLink string    `json:"external_link" validate:"omitempty,url"`
	MaxMarks     *float64  `json:"max_marks" validate:"omitempty,gt=0"`
	Instructions string    `json:"instructions"`
}

func (na *NewAssignment) Validate(validate *validator.Validate) error {
	na.Title = core.CleanString(na.Title)
	na.Description = core.CleanString(na.Description)
	na.CourseID = core.CleanString(na.CourseID, true /* lower */)
	na.Type = Type(core.CleanString(string(na.Type), true /* lower */))
	na.ExternalLink = core.CleanString(na.ExternalLink)
	na.Instructions = core.CleanString(na.Instructions)
	return validate.Struct(na)
}

// UpdateAssignment defines what information may be provided to modify an existing Assignment.
// The type of an assignment cannot change once created.
type UpdateAssignment struct {
	Title        *string    `json:"title" validate:"omitempty,min=1,max=255"`
	Description  *string    `json:"description"`
	DueDate      *time.Time `json:"due_date"`
	ExternalLink *string    `json:"external_link" validate:"omitempty,url"`
	MaxMarks     *float64   `json:"max_marks" validate:"omitempty,gt=0"`
	Instructions *string    `json:"instructions"`
	IsActive     *bool      `json:"is_active"`
}

func (ua *UpdateAssignment) Validate(validate *validator.Validate) error {
	for _, s := range []*string{ua.Title, ua.Description, ua.ExternalLink, ua.Instructions} {
		if s != nil {
			*s = core.CleanString(*s)
		}
	}
	return validate.Struct(ua)
}

type QueryFilter struct {
	CourseIDs []string
	IDs       []string
}
