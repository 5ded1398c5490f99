package course

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/coursehub/core"
)

type Course struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	ProfessorID string    `json:"professor_id"`
	Semester    string    `json:"semester"`
	Year        int       `json:"year"`
	IsActive    bool      `json:"is_active"`
	StudentIDs  []string  `json:"student_ids"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

func (c Course) IsOwnedBy(userID string) bool { return c.ProfessorID == userID }

func (c Course) HasStudent(userID string) bool { return core.ContainsString(c.StudentIDs, userID) }

// Enrollment associates a student with a course.
type Enrollment struct {
	CourseID   string    `json:"course_id"`
	StudentID  string    `json:"student_id"`
	EnrolledAt time.Time `json:"enrolled_at"` // UTC
}

// NewCourse contains information needed to create a new Course.
type NewCourse struct {
	Name        string `json:"name" validate:"required"`
	Code        string `json:"code" validate:"required,max=32,coursecode"`
	Description string `json:"description"`
	Semester    string `json:"semester" validate:"required"`
	Year        int    `json:"year" validate:"required,min=2000,max=2100"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Code = CleanCode(nc.Code)
	nc.Description = core.CleanString(nc.Description)
	nc.Semester = core.CleanString(nc.Semester)
	return validate.Struct(nc)
}

// UpdateCourse defines what information may be provided to modify an existing Course.
type UpdateCourse struct {
	Name        *string `json:"name" validate:"omitempty,min=1"`
	Code        *string `json:"code" validate:"omitempty,max=32,coursecode"`
	Description *string `json:"description"`
	Semester    *string `json:"semester" validate:"omitempty,min=1"`
	Year        *int    `json:"year" validate:"omitempty,min=2000,max=2100"`
	IsActive    *bool   `json:"is_active"`
}

func (uc *UpdateCourse) Validate(validate *validator.Validate) error {
	cleanPtr := func(s *string) {
		if s != nil {
			*s = core.CleanString(*s)
		}
	}
	cleanPtr(uc.Name)
	cleanPtr(uc.Description)
	cleanPtr(uc.Semester)
	if uc.Code != nil {
		code := CleanCode(*uc.Code)
		uc.Code = &code
	}
	return validate.Struct(uc)
}

// Enroll names the student to enroll.
type Enroll struct {
	StudentEmail string `json:"student_email" validate:"required,email"`
}

func (e *Enroll) Validate(validate *validator.Validate) error {
	e.StudentEmail = core.CleanString(e.StudentEmail, true /* lower */)
	return validate.Struct(e)
}

// CleanCode normalizes a course code: trimmed & uppercased.
func CleanCode(code string) string {
	return strings.ToUpper(core.CleanString(code))
}

func SuggestCode(code string, n int) string {
	return fmt.Sprintf("%s-%d", code, n)
}

type QueryFilter struct {
	ProfessorID string
	StudentID   string
	IDs         []string
}
