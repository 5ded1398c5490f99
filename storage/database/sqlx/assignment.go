package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/assignment"
	"github.com/trezcool/coursehub/core/course"
	"github.com/trezcool/coursehub/core/submission"
)

const assignmentColumns = "id, title, description, course_id, type, due_date, external_link, max_marks, " +
	"instructions, professor_id, is_active, created_at, updated_at"

type assignmentRow struct {
	ID           string    `db:"id"`
	Title        string    `db:"title"`
	Description  string    `db:"description"`
	CourseID     string    `db:"course_id"`
	Type         string    `db:"type"`
	DueDate      time.Time `db:"due_date"`
	ExternalLink string    `db:"external_link"`
	MaxMarks     float64   `db:"max_marks"`
	Instructions string    `db:"instructions"`
	ProfessorID  string    `db:"professor_id"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func toAssignmentRow(a assignment.Assignment) assignmentRow {
	return assignmentRow{
		ID:           a.ID,
		Title:        a.Title,
		Description:  a.Description,
		CourseID:     a.CourseID,
		Type:         a.Type.String(),
		DueDate:      a.DueDate.UTC(),
		ExternalLink: a.ExternalLink,
		MaxMarks:     a.MaxMarks,
		Instructions: a.Instructions,
		ProfessorID:  a.ProfessorID,
		IsActive:     a.IsActive,
		CreatedAt:    a.CreatedAt.UTC(),
		UpdatedAt:    a.UpdatedAt.UTC(),
	}
}

func (r assignmentRow) toAssignment() assignment.Assignment {
	return assignment.Assignment{
		ID:           r.ID,
		Title:        r.Title,
		Description:  r.Description,
		CourseID:     r.CourseID,
		Type:         assignment.Type(r.Type),
		DueDate:      r.DueDate.UTC(),
		ExternalLink: r.ExternalLink,
		MaxMarks:     r.MaxMarks,
		Instructions: r.Instructions,
		ProfessorID:  r.ProfessorID,
		IsActive:     r.IsActive,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

type assignmentRepository struct {
	db *sqlx.DB
}

var _ assignment.Repository = (*assignmentRepository)(nil) // interface compliance check

func NewAssignmentRepository(db *sqlx.DB) assignment.Repository {
	return &assignmentRepository{db: db}
}

func (repo *assignmentRepository) CreateAssignment(
	ctx context.Context,
	a assignment.Assignment,
	exec ...core.DBExecutor,
) (assignment.Assignment, error) {
	q := `INSERT INTO assignments (` + assignmentColumns + `)
		VALUES (:id, :title, :description, :course_id, :type, :due_date, :external_link, :max_marks,
			:instructions, :professor_id, :is_active, :created_at, :updated_at)`
	row := toAssignmentRow(a)
	if _, err := sqlx.NamedExecContext(ctx, getExec(repo.db, exec), q, row); err != nil {
		if isForeignKeyViolation(err) {
			return assignment.Assignment{}, course.ErrNotFound
		}
		return assignment.Assignment{}, errors.Wrap(err, "inserting assignment")
	}
	return row.toAssignment(), nil
}

func (repo *assignmentRepository) GetAssignment(ctx context.Context, id string, exec ...core.DBExecutor) (assignment.Assignment, error) {
	var row assignmentRow
	q := "SELECT " + assignmentColumns + " FROM assignments WHERE id = $1"
	if err := sqlx.GetContext(ctx, getExec(repo.db, exec), &row, q, id); err != nil {
		return assignment.Assignment{}, trapNoRowsErr(err, assignment.ErrNotFound, "selecting assignment")
	}
	return row.toAssignment(), nil
}

func (repo *assignmentRepository) QueryAssignments(
	ctx context.Context,
	filter assignment.QueryFilter,
	exec ...core.DBExecutor,
) ([]assignment.Assignment, error) {
	var w where
	if filter.CourseIDs != nil {
		w.in("course_id", filter.CourseIDs, len(filter.CourseIDs))
	}
	if filter.IDs != nil {
		w.in("id", filter.IDs, len(filter.IDs))
	}
	if w.none {
		return []assignment.Assignment{}, nil
	}

	var rows []assignmentRow
	q := "SELECT " + assignmentColumns + " FROM assignments"
	if err := selectWhere(ctx, getExec(repo.db, exec), &rows, q, w, " ORDER BY due_date, id"); err != nil {
		return nil, errors.Wrap(err, "selecting assignments")
	}
	asgmts := make([]assignment.Assignment, 0, len(rows))
	for _, r := range rows {
		asgmts = append(asgmts, r.toAssignment())
	}
	return asgmts, nil
}

func (repo *assignmentRepository) UpdateAssignment(
	ctx context.Context,
	a assignment.Assignment,
	exec ...core.DBExecutor,
) (assignment.Assignment, error) {
	q := `UPDATE assignments SET
		title = :title, description = :description, due_date = :due_date, external_link = :external_link,
		max_marks = :max_marks, instructions = :instructions, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`
	row := toAssignmentRow(a)
	res, err := sqlx.NamedExecContext(ctx, getExec(repo.db, exec), q, row)
	if err != nil {
		return assignment.Assignment{}, errors.Wrap(err, "updating assignment")
	}
	if err = checkAffected(res, assignment.ErrNotFound); err != nil {
		return assignment.Assignment{}, err
	}
	return row.toAssignment(), nil
}

// DeleteAssignment relies on ON DELETE CASCADE for submissions.
func (repo *assignmentRepository) DeleteAssignment(ctx context.Context, id string, exec ...core.DBExecutor) error {
	res, err := getExec(repo.db, exec).ExecContext(ctx, "DELETE FROM assignments WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting assignment")
	}
	return checkAffected(res, assignment.ErrNotFound)
}

func (repo *assignmentRepository) ConfirmedSubmissionCounts(
	ctx context.Context,
	ids []string,
	exec ...core.DBExecutor,
) (map[string]int, error) {
	counts := make(map[string]int, len(ids))
	var w where
	w.in("assignment_id", ids, len(ids))
	if w.none {
		return counts, nil
	}
	statuses := make([]string, 0, len(submission.ConfirmedStatuses))
	for _, s := range submission.ConfirmedStatuses {
		statuses = append(statuses, s.String())
	}
	w.in("status", statuses, len(statuses))

	var rows []struct {
		AssignmentID string `db:"assignment_id"`
		Count        int    `db:"count"`
	}
	q := "SELECT assignment_id, COUNT(*) AS count FROM submissions"
	if err := selectWhere(ctx, getExec(repo.db, exec), &rows, q, w, " GROUP BY assignment_id"); err != nil {
		return nil, errors.Wrap(err, "counting submissions")
	}
	for _, r := range rows {
		counts[r.AssignmentID] = r.Count
	}
	return counts, nil
}
