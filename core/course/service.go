package course

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/authz"
	"github.com/trezcool/coursehub/core/user"
)

var (
	// errors
	ErrNotFound        = core.NewNotFoundError(errors.New("course not found"))
	ErrCodeExists      = errors.New("course code already exists")
	ErrAlreadyEnrolled = core.NewConflictError(errors.New("student is already enrolled in this course"))
	ErrStudentNotFound = core.NewNotFoundError(errors.New("student not found"))
	ErrNotAStudent     = core.NewValidationError(
		errors.New("only students can be enrolled"),
		core.FieldError{Field: "student_email", Error: "only students can be enrolled"},
	)
	ErrEnrollOthers = core.NewPermissionError(errors.New("students can only enroll themselves"))

	maxCodeSuggestions = 100
)

type (
	Repository interface {
		CreateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		// GetCourse returns the course with its enrolled StudentIDs.
		GetCourse(ctx context.Context, id string, exec ...core.DBExecutor) (Course, error)
		// QueryCourses returns the courses matching all set QueryFilter fields, most recent first.
		QueryCourses(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]Course, error)
		UpdateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		// DeleteCourse deletes the course with its enrollments, groups, assignments & submissions.
		DeleteCourse(ctx context.Context, id string, exec ...core.DBExecutor) error
		CodeExists(ctx context.Context, code string, exec ...core.DBExecutor) (bool, error)
		CreateEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) error
		IsEnrolled(ctx context.Context, courseID, studentID string, exec ...core.DBExecutor) (bool, error)
	}

	Service interface {
		Create(ctx context.Context, actor user.User, nc NewCourse) (Course, error)
		List(ctx context.Context, actor user.User) ([]Course, error)
		Get(ctx context.Context, actor user.User, id string) (Course, error)
		// Find returns the course, without any authorization check.
		Find(ctx context.Context, id string) (Course, error)
		FindMany(ctx context.Context, filter QueryFilter) ([]Course, error)
		Update(ctx context.Context, actor user.User, id string, uc UpdateCourse) (Course, error)
		Delete(ctx context.Context, actor user.User, id string) error
		Enroll(ctx context.Context, actor user.User, id string, e Enroll) (Course, error)
		ListStudents(ctx context.Context, actor user.User, id string) ([]user.User, error)
		IsEnrolled(ctx context.Context, id, studentID string) (bool, error)
	}

	service struct {
		tx      core.Transactor
		repo    Repository
		usrSvc  user.Service
		authz   *authz.Authorizer
		mailSvc core.EmailService
		conf    *core.Config
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(
	tx core.Transactor,
	repo Repository,
	usrSvc user.Service,
	az *authz.Authorizer,
	mailSvc core.EmailService,
	conf *core.Config,
) Service {
	return &service{
		tx:      tx,
		repo:    repo,
		usrSvc:  usrSvc,
		authz:   az,
		mailSvc: mailSvc,
		conf:    conf,
	}
}

// Facts returns the actor's standing towards the course.
func Facts(c Course, actor user.User) authz.Facts {
	return authz.Facts{
		CourseOwnerID: c.ProfessorID,
		Enrolled:      c.HasStudent(actor.ID),
	}
}

func (svc *service) checkCode(ctx context.Context, code string) error {
	exists, err := svc.repo.CodeExists(ctx, code)
	if err != nil {
		return errors.Wrap(err, "checking course code")
	}
	if exists {
		return svc.codeConflict(ctx, code)
	}
	return nil
}

// codeConflict reports ErrCodeExists with the first free `<code>-<n>` suggestion.
func (svc *service) codeConflict(ctx context.Context, code string) error {
	detail := map[string]interface{}{}
	for n := 1; n <= maxCodeSuggestions; n++ {
		suggestion := SuggestCode(code, n)
		exists, err := svc.repo.CodeExists(ctx, suggestion)
		if err != nil {
			return errors.Wrap(err, "checking course code")
		}
		if !exists {
			detail["suggestion"] = suggestion
			break
		}
	}
	return core.NewConflictError(ErrCodeExists, detail)
}

func (svc *service) Create(ctx context.Context, actor user.User, nc NewCourse) (Course, error) {
	if err := svc.authz.Authorize(actor, authz.ObjCourse, authz.ActCreate, authz.Facts{}); err != nil {
		return Course{}, err
	}
	nc.Code = CleanCode(nc.Code)
	if err := svc.checkCode(ctx, nc.Code); err != nil {
		return Course{}, err
	}

	now := time.Now().UTC()
	c := Course{
		ID:          core.NewID(),
		Name:        nc.Name,
		Code:        nc.Code,
		Description: nc.Description,
		ProfessorID: actor.ID,
		Semester:    nc.Semester,
		Year:        nc.Year,
		IsActive:    true,
		StudentIDs:  []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	c, err := svc.repo.CreateCourse(ctx, c)
	if err != nil {
		if core.IsConflict(err) { // lost a race on the code
			return Course{}, svc.codeConflict(ctx, nc.Code)
		}
		return Course{}, errors.Wrap(err, "creating course")
	}
	return c, nil
}

func (svc *service) List(ctx context.Context, actor user.User) ([]Course, error) {
	var filter QueryFilter
	switch actor.Role {
	case user.RoleAdmin:
		filter.ProfessorID = actor.ID
	case user.RoleStudent:
		filter.StudentID = actor.ID
	default:
		return nil, core.ErrForbidden
	}
	return svc.repo.QueryCourses(ctx, filter)
}

func (svc *service) Find(ctx context.Context, id string) (Course, error) {
	if !core.IsValidID(id) {
		return Course{}, ErrNotFound
	}
	return svc.repo.GetCourse(ctx, id)
}

func (svc *service) FindMany(ctx context.Context, filter QueryFilter) ([]Course, error) {
	return svc.repo.QueryCourses(ctx, filter)
}

// get finds the course and authorizes act on it.
func (svc *service) get(ctx context.Context, actor user.User, id string, act authz.Action) (Course, error) {
	c, err := svc.Find(ctx, id)
	if err != nil {
		return Course{}, err
	}
	if err = svc.authz.Authorize(actor, authz.ObjCourse, act, Facts(c, actor)); err != nil {
		return Course{}, err
	}
	return c, nil
}

func (svc *service) Get(ctx context.Context, actor user.User, id string) (Course, error) {
	return svc.get(ctx, actor, id, authz.ActRead)
}

func (svc *service) Update(ctx context.Context, actor user.User, id string, uc UpdateCourse) (Course, error) {
	c, err := svc.get(ctx, actor, id, authz.ActUpdate)
	if err != nil {
		return Course{}, err
	}

	if uc.Code != nil && CleanCode(*uc.Code) != c.Code {
		code := CleanCode(*uc.Code)
		if err = svc.checkCode(ctx, code); err != nil {
			return Course{}, err
		}
		c.Code = code
	}
	if uc.Name != nil {
		c.Name = *uc.Name
	}
	if uc.Description != nil {
		c.Description = *uc.Description
	}
	if uc.Semester != nil {
		c.Semester = *uc.Semester
	}
	if uc.Year != nil {
		c.Year = *uc.Year
	}
	if uc.IsActive != nil {
		c.IsActive = *uc.IsActive
	}
	c.UpdatedAt = time.Now().UTC()

	updated, err := svc.repo.UpdateCourse(ctx, c)
	if err != nil {
		if core.IsConflict(err) {
			return Course{}, svc.codeConflict(ctx, c.Code)
		}
		return Course{}, errors.Wrap(err, "updating course")
	}
	return updated, nil
}

func (svc *service) Delete(ctx context.Context, actor user.User, id string) error {
	if _, err := svc.get(ctx, actor, id, authz.ActDelete); err != nil {
		return err
	}
	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		return svc.repo.DeleteCourse(ctx, id, exec)
	})
	return errors.Wrap(err, "deleting course")
}

// Enroll enrolls the student with the given email.
// The course owner may enroll any student; a student may only enroll themselves.
func (svc *service) Enroll(ctx context.Context, actor user.User, id string, e Enroll) (Course, error) {
	c, err := svc.Find(ctx, id)
	if err != nil {
		return Course{}, err
	}
	if err = svc.authz.Authorize(actor, authz.ObjCourse, authz.ActEnroll, Facts(c, actor)); err != nil {
		if err = svc.authz.AuthorizeWith(ErrEnrollOthers, actor, authz.ObjCourse, authz.ActEnrollSelf, authz.Facts{}); err != nil {
			return Course{}, err
		}
		if core.CleanString(e.StudentEmail, true /* lower */) != actor.Email {
			return Course{}, ErrEnrollOthers
		}
	}

	student, err := svc.usrSvc.GetByEmail(ctx, e.StudentEmail)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Course{}, ErrStudentNotFound
		}
		return Course{}, errors.Wrap(err, "finding student by email")
	}
	if !student.IsStudent() {
		return Course{}, ErrNotAStudent
	}

	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		enrolled, err := svc.repo.IsEnrolled(ctx, c.ID, student.ID, exec)
		if err != nil {
			return errors.Wrap(err, "checking enrollment")
		}
		if enrolled {
			return ErrAlreadyEnrolled
		}
		enrollment := Enrollment{CourseID: c.ID, StudentID: student.ID, EnrolledAt: time.Now().UTC()}
		if err = svc.repo.CreateEnrollment(ctx, enrollment, exec); err != nil {
			if core.IsConflict(err) {
				return ErrAlreadyEnrolled
			}
			return errors.Wrap(err, "creating enrollment")
		}
		return nil
	})
	if err != nil {
		return Course{}, err
	}

	svc.sendEnrollmentMail(c, student)
	return svc.repo.GetCourse(ctx, c.ID)
}

func (svc *service) sendEnrollmentMail(c Course, student user.User) {
	data := struct {
		StudentName string
		CourseID    string
		CourseCode  string
		CourseName  string
		Semester    string
		Year        int
	}{
		StudentName: student.Name,
		CourseID:    c.ID,
		CourseCode:  c.Code,
		CourseName:  c.Name,
		Semester:    c.Semester,
		Year:        c.Year,
	}
	msg := core.NewEmailMessage(svc.conf, "Enrolled in "+c.Code, "course_enrollment", data, student.MailAddress())
	svc.mailSvc.SendMessages(msg)
}

func (svc *service) ListStudents(ctx context.Context, actor user.User, id string) ([]user.User, error) {
	c, err := svc.get(ctx, actor, id, authz.ActListStudents)
	if err != nil {
		return nil, err
	}
	return svc.usrSvc.GetManyByID(ctx, c.StudentIDs)
}

func (svc *service) IsEnrolled(ctx context.Context, id, studentID string) (bool, error) {
	if !core.IsValidID(id) || !core.IsValidID(studentID) {
		return false, nil
	}
	return svc.repo.IsEnrolled(ctx, id, studentID)
}
