package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/course"
)

const courseColumns = "id, name, code, description, professor_id, semester, year, is_active, created_at, updated_at"

type courseRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Code        string    `db:"code"`
	Description string    `db:"description"`
	ProfessorID string    `db:"professor_id"`
	Semester    string    `db:"semester"`
	Year        int       `db:"year"`
	IsActive    bool      `db:"is_active"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func toCourseRow(c course.Course) courseRow {
	return courseRow{
		ID:          c.ID,
		Name:        c.Name,
		Code:        c.Code,
		Description: c.Description,
		ProfessorID: c.ProfessorID,
		Semester:    c.Semester,
		Year:        c.Year,
		IsActive:    c.IsActive,
		CreatedAt:   c.CreatedAt.UTC(),
		UpdatedAt:   c.UpdatedAt.UTC(),
	}
}

func (r courseRow) toCourse(studentIDs []string) course.Course {
	if studentIDs == nil {
		studentIDs = []string{}
	}
	return course.Course{
		ID:          r.ID,
		Name:        r.Name,
		Code:        r.Code,
		Description: r.Description,
		ProfessorID: r.ProfessorID,
		Semester:    r.Semester,
		Year:        r.Year,
		IsActive:    r.IsActive,
		StudentIDs:  studentIDs,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type courseRepository struct {
	db *sqlx.DB
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *sqlx.DB) course.Repository {
	return &courseRepository{db: db}
}

// studentIDs maps course IDs to their students, in enrollment order.
func (repo *courseRepository) studentIDs(ctx context.Context, ext sqlx.ExtContext, courseIDs []string) (map[string][]string, error) {
	var rows []struct {
		CourseID  string `db:"course_id"`
		StudentID string `db:"student_id"`
	}
	var w where
	w.in("course_id", courseIDs, len(courseIDs))
	if w.none {
		return map[string][]string{}, nil
	}
	q := "SELECT course_id, student_id FROM enrollments"
	if err := selectWhere(ctx, ext, &rows, q, w, " ORDER BY enrolled_at, student_id"); err != nil {
		return nil, errors.Wrap(err, "selecting enrollments")
	}
	ids := make(map[string][]string, len(courseIDs))
	for _, r := range rows {
		ids[r.CourseID] = append(ids[r.CourseID], r.StudentID)
	}
	return ids, nil
}

func (repo *courseRepository) CreateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	q := `INSERT INTO courses (` + courseColumns + `)
		VALUES (:id, :name, :code, :description, :professor_id, :semester, :year, :is_active, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, getExec(repo.db, exec), q, toCourseRow(c)); err != nil {
		if isUniqueViolation(err) {
			return course.Course{}, core.NewConflictError(course.ErrCodeExists)
		}
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return toCourseRow(c).toCourse(nil), nil
}

func (repo *courseRepository) GetCourse(ctx context.Context, id string, exec ...core.DBExecutor) (course.Course, error) {
	ext := getExec(repo.db, exec)
	var row courseRow
	q := "SELECT " + courseColumns + " FROM courses WHERE id = $1"
	if err := sqlx.GetContext(ctx, ext, &row, q, id); err != nil {
		return course.Course{}, trapNoRowsErr(err, course.ErrNotFound, "selecting course")
	}
	students, err := repo.studentIDs(ctx, ext, []string{id})
	if err != nil {
		return course.Course{}, err
	}
	return row.toCourse(students[id]), nil
}

func (repo *courseRepository) QueryCourses(ctx context.Context, filter course.QueryFilter, exec ...core.DBExecutor) ([]course.Course, error) {
	var w where
	if filter.ProfessorID != "" {
		w.add("professor_id = ?", filter.ProfessorID)
	}
	if filter.StudentID != "" {
		w.add("id IN (SELECT course_id FROM enrollments WHERE student_id = ?)", filter.StudentID)
	}
	if filter.IDs != nil {
		w.in("id", filter.IDs, len(filter.IDs))
	}
	if w.none {
		return []course.Course{}, nil
	}

	ext := getExec(repo.db, exec)
	var rows []courseRow
	if err := selectWhere(ctx, ext, &rows, "SELECT "+courseColumns+" FROM courses", w, " ORDER BY created_at DESC, id"); err != nil {
		return nil, errors.Wrap(err, "selecting courses")
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	students, err := repo.studentIDs(ctx, ext, ids)
	if err != nil {
		return nil, err
	}
	courses := make([]course.Course, 0, len(rows))
	for _, r := range rows {
		courses = append(courses, r.toCourse(students[r.ID]))
	}
	return courses, nil
}

func (repo *courseRepository) UpdateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	ext := getExec(repo.db, exec)
	q := `UPDATE courses SET
		name = :name, code = :code, description = :description, semester = :semester, year = :year,
		is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, ext, q, toCourseRow(c))
	if err != nil {
		if isUniqueViolation(err) {
			return course.Course{}, core.NewConflictError(course.ErrCodeExists)
		}
		return course.Course{}, errors.Wrap(err, "updating course")
	}
	if err = checkAffected(res, course.ErrNotFound); err != nil {
		return course.Course{}, err
	}
	return repo.GetCourse(ctx, c.ID, exec...)
}

// DeleteCourse relies on ON DELETE CASCADE for enrollments, groups, assignments & submissions.
func (repo *courseRepository) DeleteCourse(ctx context.Context, id string, exec ...core.DBExecutor) error {
	res, err := getExec(repo.db, exec).ExecContext(ctx, "DELETE FROM courses WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting course")
	}
	return checkAffected(res, course.ErrNotFound)
}

func (repo *courseRepository) CodeExists(ctx context.Context, code string, exec ...core.DBExecutor) (bool, error) {
	var exists bool
	q := "SELECT EXISTS (SELECT 1 FROM courses WHERE code = $1)"
	if err := sqlx.GetContext(ctx, getExec(repo.db, exec), &exists, q, code); err != nil {
		return false, errors.Wrap(err, "checking course code")
	}
	return exists, nil
}

func (repo *courseRepository) CreateEnrollment(ctx context.Context, e course.Enrollment, exec ...core.DBExecutor) error {
	q := "INSERT INTO enrollments (course_id, student_id, enrolled_at) VALUES ($1, $2, $3)"
	if _, err := getExec(repo.db, exec).ExecContext(ctx, q, e.CourseID, e.StudentID, e.EnrolledAt.UTC()); err != nil {
		switch {
		case isUniqueViolation(err):
			return course.ErrAlreadyEnrolled
		case isForeignKeyViolation(err):
			return course.ErrNotFound
		}
		return errors.Wrap(err, "inserting enrollment")
	}
	return nil
}

func (repo *courseRepository) IsEnrolled(ctx context.Context, courseID, studentID string, exec ...core.DBExecutor) (bool, error) {
	var enrolled bool
	q := "SELECT EXISTS (SELECT 1 FROM enrollments WHERE course_id = $1 AND student_id = $2)"
	if err := sqlx.GetContext(ctx, getExec(repo.db, exec), &enrolled, q, courseID, studentID); err != nil {
		return false, errors.Wrap(err, "checking enrollment")
	}
	return enrolled, nil
}
