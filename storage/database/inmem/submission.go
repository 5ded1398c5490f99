package inmemdb

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/assignment"
	"github.com/trezcool/coursehub/core/submission"
)

type submissionRepository struct {
	db *DB
}

var _ submission.Repository = (*submissionRepository)(nil) // interface compliance check

func NewSubmissionRepository(db *DB) submission.Repository {
	return &submissionRepository{db: db}
}

func matchesKey(s submission.Submission, key submission.Key) bool {
	if s.AssignmentID != key.AssignmentID {
		return false
	}
	if key.GroupID != "" {
		return s.GroupID.Valid && s.GroupID.String == key.GroupID
	}
	return s.StudentID.Valid && s.StudentID.String == key.StudentID
}

func (repo *submissionRepository) byKey(key submission.Key) (submission.Submission, bool) {
	for _, s := range repo.db.submissions {
		if matchesKey(s, key) {
			return s, true
		}
	}
	return submission.Submission{}, false
}

func (repo *submissionRepository) CreateSubmission(
	_ context.Context,
	s submission.Submission,
	exec ...core.DBExecutor,
) (submission.Submission, error) {
	defer repo.db.lock(exec)()

	if s.StudentID.Valid == s.GroupID.Valid {
		return submission.Submission{}, errors.New("submission must have exactly one of student_id and group_id")
	}
	if _, ok := repo.db.assignments[s.AssignmentID]; !ok {
		return submission.Submission{}, assignment.ErrNotFound
	}
	if _, exists := repo.byKey(s.Key()); exists {
		return submission.Submission{}, core.NewConflictError(submission.ErrExists)
	}
	repo.db.submissions[s.ID] = s
	return s, nil
}

func (repo *submissionRepository) GetSubmission(_ context.Context, id string, exec ...core.DBExecutor) (submission.Submission, error) {
	defer repo.db.rlock(exec)()

	s, ok := repo.db.submissions[id]
	if !ok {
		return submission.Submission{}, submission.ErrNotFound
	}
	return s, nil
}

func (repo *submissionRepository) GetSubmissionByKey(
	_ context.Context,
	key submission.Key,
	exec ...core.DBExecutor,
) (submission.Submission, error) {
	defer repo.db.rlock(exec)()

	if s, ok := repo.byKey(key); ok {
		return s, nil
	}
	return submission.Submission{}, submission.ErrNotFound
}

func matchesFilter(s submission.Submission, filter submission.QueryFilter) bool {
	if filter.AssignmentIDs != nil && !core.ContainsString(filter.AssignmentIDs, s.AssignmentID) {
		return false
	}
	if filter.IDs != nil && !core.ContainsString(filter.IDs, s.ID) {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if s.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.StudentID != "" || filter.GroupIDs != nil {
		ownedByStudent := filter.StudentID != "" && s.StudentID.String == filter.StudentID
		ownedByGroup := s.GroupID.Valid && core.ContainsString(filter.GroupIDs, s.GroupID.String)
		if !ownedByStudent && !ownedByGroup {
			return false
		}
	}
	return true
}

func orderTime(s submission.Submission, field string) null.Time {
	switch field {
	case "submitted_at":
		return s.SubmittedAt
	case "acknowledged_at":
		return s.AcknowledgedAt
	default:
		return null.TimeFrom(s.CreatedAt)
	}
}

func (repo *submissionRepository) QuerySubmissions(
	_ context.Context,
	filter submission.QueryFilter,
	orderings []core.DBOrdering,
	exec ...core.DBExecutor,
) ([]submission.Submission, error) {
	defer repo.db.rlock(exec)()

	subs := make([]submission.Submission, 0)
	for _, s := range repo.db.submissions {
		if matchesFilter(s, filter) {
			subs = append(subs, s)
		}
	}

	sort.SliceStable(subs, func(i, j int) bool {
		for _, ord := range orderings {
			a, b := orderTime(subs[i], ord.Field), orderTime(subs[j], ord.Field)
			switch {
			case a.Valid != b.Valid: // nulls last
				return a.Valid
			case a.Valid && !a.Time.Equal(b.Time):
				return lessTime(a.Time, b.Time, ord.Ascending)
			}
		}
		return subs[i].ID < subs[j].ID
	})
	return subs, nil
}

func (repo *submissionRepository) UpdateSubmission(
	_ context.Context,
	s submission.Submission,
	exec ...core.DBExecutor,
) (submission.Submission, error) {
	defer repo.db.lock(exec)()

	if _, ok := repo.db.submissions[s.ID]; !ok {
		return submission.Submission{}, submission.ErrNotFound
	}
	if other, exists := repo.byKey(s.Key()); exists && other.ID != s.ID {
		return submission.Submission{}, core.NewConflictError(submission.ErrExists)
	}
	repo.db.submissions[s.ID] = s
	return s, nil
}

func (repo *submissionRepository) DeleteSubmission(_ context.Context, id string, exec ...core.DBExecutor) error {
	defer repo.db.lock(exec)()

	if _, ok := repo.db.submissions[id]; !ok {
		return submission.ErrNotFound
	}
	delete(repo.db.submissions, id)
	return nil
}
