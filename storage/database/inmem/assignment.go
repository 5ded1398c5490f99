package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/assignment"
	"github.com/trezcool/coursehub/core/course"
)

type assignmentRepository struct {
	db *DB
}

var _ assignment.Repository = (*assignmentRepository)(nil) // interface compliance check

func NewAssignmentRepository(db *DB) assignment.Repository {
	return &assignmentRepository{db: db}
}

func (repo *assignmentRepository) CreateAssignment(
	_ context.Context,
	a assignment.Assignment,
	exec ...core.DBExecutor,
) (assignment.Assignment, error) {
	defer repo.db.lock(exec)()

	if _, ok := repo.db.courses[a.CourseID]; !ok {
		return assignment.Assignment{}, course.ErrNotFound
	}
	a.SubmissionCount = 0
	repo.db.assignments[a.ID] = a
	return a, nil
}

func (repo *assignmentRepository) GetAssignment(_ context.Context, id string, exec ...core.DBExecutor) (assignment.Assignment, error) {
	defer repo.db.rlock(exec)()

	a, ok := repo.db.assignments[id]
	if !ok {
		return assignment.Assignment{}, assignment.ErrNotFound
	}
	return a, nil
}

func (repo *assignmentRepository) QueryAssignments(
	_ context.Context,
	filter assignment.QueryFilter,
	exec ...core.DBExecutor,
) ([]assignment.Assignment, error) {
	defer repo.db.rlock(exec)()

	asgmts := make([]assignment.Assignment, 0)
	for _, a := range repo.db.assignments {
		if filter.CourseIDs != nil && !core.ContainsString(filter.CourseIDs, a.CourseID) {
			continue
		}
		if filter.IDs != nil && !core.ContainsString(filter.IDs, a.ID) {
			continue
		}
		asgmts = append(asgmts, a)
	}
	sort.Slice(asgmts, func(i, j int) bool {
		if !asgmts[i].DueDate.Equal(asgmts[j].DueDate) {
			return asgmts[i].DueDate.Before(asgmts[j].DueDate)
		}
		return asgmts[i].ID < asgmts[j].ID
	})
	return asgmts, nil
}

func (repo *assignmentRepository) UpdateAssignment(
	_ context.Context,
	a assignment.Assignment,
	exec ...core.DBExecutor,
) (assignment.Assignment, error) {
	defer repo.db.lock(exec)()

	if _, ok := repo.db.assignments[a.ID]; !ok {
		return assignment.Assignment{}, assignment.ErrNotFound
	}
	a.SubmissionCount = 0
	repo.db.assignments[a.ID] = a
	return a, nil
}

func (repo *assignmentRepository) DeleteAssignment(_ context.Context, id string, exec ...core.DBExecutor) error {
	defer repo.db.lock(exec)()

	if _, ok := repo.db.assignments[id]; !ok {
		return assignment.ErrNotFound
	}
	repo.db.deleteAssignment(id)
	return nil
}

func (repo *assignmentRepository) ConfirmedSubmissionCounts(
	_ context.Context,
	ids []string,
	exec ...core.DBExecutor,
) (map[string]int, error) {
	defer repo.db.rlock(exec)()

	counts := make(map[string]int, len(ids))
	for _, s := range repo.db.submissions {
		if s.Status.IsConfirmed() && core.ContainsString(ids, s.AssignmentID) {
			counts[s.AssignmentID]++
		}
	}
	return counts, nil
}
