package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/course"
)

type courseRepository struct {
	db *DB
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *DB) course.Repository {
	return &courseRepository{db: db}
}

// withStudents returns a copy of the course with its enrolled students, in enrollment order.
func (repo *courseRepository) withStudents(c course.Course) course.Course {
	enrollments := repo.db.enrollments[c.ID]
	c.StudentIDs = make([]string, 0, len(enrollments))
	for _, e := range enrollments {
		c.StudentIDs = append(c.StudentIDs, e.StudentID)
	}
	return c
}

func (repo *courseRepository) codeTaken(code, exclID string) bool {
	for _, c := range repo.db.courses {
		if c.Code == code && c.ID != exclID {
			return true
		}
	}
	return false
}

func (repo *courseRepository) CreateCourse(_ context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	defer repo.db.lock(exec)()

	if repo.codeTaken(c.Code, "") {
		return course.Course{}, core.NewConflictError(course.ErrCodeExists)
	}
	c.StudentIDs = nil
	repo.db.courses[c.ID] = c
	return repo.withStudents(c), nil
}

func (repo *courseRepository) GetCourse(_ context.Context, id string, exec ...core.DBExecutor) (course.Course, error) {
	defer repo.db.rlock(exec)()

	c, ok := repo.db.courses[id]
	if !ok {
		return course.Course{}, course.ErrNotFound
	}
	return repo.withStudents(c), nil
}

func (repo *courseRepository) QueryCourses(_ context.Context, filter course.QueryFilter, exec ...core.DBExecutor) ([]course.Course, error) {
	defer repo.db.rlock(exec)()

	courses := make([]course.Course, 0)
	for _, c := range repo.db.courses {
		c = repo.withStudents(c)
		if filter.ProfessorID != "" && c.ProfessorID != filter.ProfessorID {
			continue
		}
		if filter.StudentID != "" && !c.HasStudent(filter.StudentID) {
			continue
		}
		if filter.IDs != nil && !core.ContainsString(filter.IDs, c.ID) {
			continue
		}
		courses = append(courses, c)
	}
	sort.Slice(courses, func(i, j int) bool {
		if !courses[i].CreatedAt.Equal(courses[j].CreatedAt) {
			return courses[i].CreatedAt.After(courses[j].CreatedAt)
		}
		return courses[i].ID < courses[j].ID
	})
	return courses, nil
}

func (repo *courseRepository) UpdateCourse(_ context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	defer repo.db.lock(exec)()

	if _, ok := repo.db.courses[c.ID]; !ok {
		return course.Course{}, course.ErrNotFound
	}
	if repo.codeTaken(c.Code, c.ID) {
		return course.Course{}, core.NewConflictError(course.ErrCodeExists)
	}
	c.StudentIDs = nil
	repo.db.courses[c.ID] = c
	return repo.withStudents(c), nil
}

func (repo *courseRepository) DeleteCourse(_ context.Context, id string, exec ...core.DBExecutor) error {
	defer repo.db.lock(exec)()

	if _, ok := repo.db.courses[id]; !ok {
		return course.ErrNotFound
	}
	repo.db.deleteCourse(id)
	return nil
}

func (repo *courseRepository) CodeExists(_ context.Context, code string, exec ...core.DBExecutor) (bool, error) {
	defer repo.db.rlock(exec)()
	return repo.codeTaken(code, ""), nil
}

func (repo *courseRepository) CreateEnrollment(_ context.Context, e course.Enrollment, exec ...core.DBExecutor) error {
	defer repo.db.lock(exec)()

	if _, ok := repo.db.courses[e.CourseID]; !ok {
		return course.ErrNotFound
	}
	for _, existing := range repo.db.enrollments[e.CourseID] {
		if existing.StudentID == e.StudentID {
			return course.ErrAlreadyEnrolled
		}
	}
	repo.db.enrollments[e.CourseID] = append(repo.db.enrollments[e.CourseID], e)
	return nil
}

func (repo *courseRepository) IsEnrolled(_ context.Context, courseID, studentID string, exec ...core.DBExecutor) (bool, error) {
	defer repo.db.rlock(exec)()

	for _, e := range repo.db.enrollments[courseID] {
		if e.StudentID == studentID {
			return true, nil
		}
	}
	return false, nil
}
