package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/assignment"
	"github.com/trezcool/coursehub/core/submission"
)

const submissionColumns = "id, assignment_id, student_id, group_id, status, submission_link, marks, feedback, " +
	"acknowledged_by, acknowledged_at, submitted_at, graded_by, graded_at, created_at, updated_at"

type submissionRow struct {
	ID             string       `db:"id"`
	AssignmentID   string       `db:"assignment_id"`
	StudentID      null.String  `db:"student_id"`
	GroupID        null.String  `db:"group_id"`
	Status         string       `db:"status"`
	SubmissionLink string       `db:"submission_link"`
	Marks          null.Float64 `db:"marks"`
	Feedback       string       `db:"feedback"`
	AcknowledgedBy null.String  `db:"acknowledged_by"`
	AcknowledgedAt null.Time    `db:"acknowledged_at"`
	SubmittedAt    null.Time    `db:"submitted_at"`
	GradedBy       null.String  `db:"graded_by"`
	GradedAt       null.Time    `db:"graded_at"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

func utcTime(t null.Time) null.Time {
	if t.Valid {
		t.Time = t.Time.UTC()
	}
	return t
}

func toSubmissionRow(s submission.Submission) submissionRow {
	return submissionRow{
		ID:             s.ID,
		AssignmentID:   s.AssignmentID,
		StudentID:      s.StudentID,
		GroupID:        s.GroupID,
		Status:         s.Status.String(),
		SubmissionLink: s.SubmissionLink,
		Marks:          s.Marks,
		Feedback:       s.Feedback,
		AcknowledgedBy: s.AcknowledgedBy,
		AcknowledgedAt: utcTime(s.AcknowledgedAt),
		SubmittedAt:    utcTime(s.SubmittedAt),
		GradedBy:       s.GradedBy,
		GradedAt:       utcTime(s.GradedAt),
		CreatedAt:      s.CreatedAt.UTC(),
		UpdatedAt:      s.UpdatedAt.UTC(),
	}
}

func (r submissionRow) toSubmission() submission.Submission {
	return submission.Submission{
		ID:             r.ID,
		AssignmentID:   r.AssignmentID,
		StudentID:      r.StudentID,
		GroupID:        r.GroupID,
		Status:         submission.Status(r.Status),
		SubmissionLink: r.SubmissionLink,
		Marks:          r.Marks,
		Feedback:       r.Feedback,
		AcknowledgedBy: r.AcknowledgedBy,
		AcknowledgedAt: utcTime(r.AcknowledgedAt),
		SubmittedAt:    utcTime(r.SubmittedAt),
		GradedBy:       r.GradedBy,
		GradedAt:       utcTime(r.GradedAt),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

type submissionRepository struct {
	db *sqlx.DB
}

var _ submission.Repository = (*submissionRepository)(nil) // interface compliance check

func NewSubmissionRepository(db *sqlx.DB) submission.Repository {
	return &submissionRepository{db: db}
}

// the partial unique indexes on (assignment_id, student_id) & (assignment_id, group_id) back up Key uniqueness.
func trapSubmissionErr(err error, msg string) error {
	switch {
	case isUniqueViolation(err):
		return core.NewConflictError(submission.ErrExists)
	case isForeignKeyViolation(err):
		return assignment.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo *submissionRepository) CreateSubmission(
	ctx context.Context,
	s submission.Submission,
	exec ...core.DBExecutor,
) (submission.Submission, error) {
	q := `INSERT INTO submissions (` + submissionColumns + `)
		VALUES (:id, :assignment_id, :student_id, :group_id, :status, :submission_link, :marks, :feedback,
			:acknowledged_by, :acknowledged_at, :submitted_at, :graded_by, :graded_at, :created_at, :updated_at)`
	row := toSubmissionRow(s)
	if _, err := sqlx.NamedExecContext(ctx, getExec(repo.db, exec), q, row); err != nil {
		return submission.Submission{}, trapSubmissionErr(err, "inserting submission")
	}
	return row.toSubmission(), nil
}

func (repo *submissionRepository) GetSubmission(ctx context.Context, id string, exec ...core.DBExecutor) (submission.Submission, error) {
	var row submissionRow
	q := "SELECT " + submissionColumns + " FROM submissions WHERE id = $1"
	if err := sqlx.GetContext(ctx, getExec(repo.db, exec), &row, q, id); err != nil {
		return submission.Submission{}, trapNoRowsErr(err, submission.ErrNotFound, "selecting submission")
	}
	return row.toSubmission(), nil
}

// GetSubmissionByKey locks the row when run in a transaction.
func (repo *submissionRepository) GetSubmissionByKey(
	ctx context.Context,
	key submission.Key,
	exec ...core.DBExecutor,
) (submission.Submission, error) {
	var w where
	w.add("assignment_id = ?", key.AssignmentID)
	if key.GroupID != "" {
		w.add("group_id = ?", key.GroupID)
	} else {
		w.add("student_id = ?", key.StudentID)
	}

	ext := getExec(repo.db, exec)
	suffix := ""
	if _, ok := ext.(*sqlx.Tx); ok {
		suffix = " FOR UPDATE"
	}
	var row submissionRow
	q := ext.Rebind("SELECT " + submissionColumns + " FROM submissions" + w.String() + suffix)
	if err := sqlx.GetContext(ctx, ext, &row, q, w.args...); err != nil {
		return submission.Submission{}, trapNoRowsErr(err, submission.ErrNotFound, "selecting submission")
	}
	return row.toSubmission(), nil
}

func (repo *submissionRepository) QuerySubmissions(
	ctx context.Context,
	filter submission.QueryFilter,
	orderings []core.DBOrdering,
	exec ...core.DBExecutor,
) ([]submission.Submission, error) {
	var w where
	if filter.AssignmentIDs != nil {
		w.in("assignment_id", filter.AssignmentIDs, len(filter.AssignmentIDs))
	}
	if filter.IDs != nil {
		w.in("id", filter.IDs, len(filter.IDs))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, s.String())
		}
		w.in("status", statuses, len(statuses))
	}
	switch {
	case filter.StudentID != "" && len(filter.GroupIDs) > 0:
		w.add("(student_id = ? OR group_id IN (?))", filter.StudentID, filter.GroupIDs)
	case filter.StudentID != "":
		w.add("student_id = ?", filter.StudentID)
	case filter.GroupIDs != nil:
		w.in("group_id", filter.GroupIDs, len(filter.GroupIDs))
	}
	if w.none {
		return []submission.Submission{}, nil
	}

	var rows []submissionRow
	suffix := orderBy(orderings, submission.OrderingFields, "id")
	if err := selectWhere(ctx, getExec(repo.db, exec), &rows, "SELECT "+submissionColumns+" FROM submissions", w, suffix); err != nil {
		return nil, errors.Wrap(err, "selecting submissions")
	}
	subs := make([]submission.Submission, 0, len(rows))
	for _, r := range rows {
		subs = append(subs, r.toSubmission())
	}
	return subs, nil
}

func (repo *submissionRepository) UpdateSubmission(
	ctx context.Context,
	s submission.Submission,
	exec ...core.DBExecutor,
) (submission.Submission, error) {
	q := `UPDATE submissions SET
		status = :status, submission_link = :submission_link, marks = :marks, feedback = :feedback,
		acknowledged_by = :acknowledged_by, acknowledged_at = :acknowledged_at, submitted_at = :submitted_at,
		graded_by = :graded_by, graded_at = :graded_at, updated_at = :updated_at
		WHERE id = :id`
	row := toSubmissionRow(s)
	res, err := sqlx.NamedExecContext(ctx, getExec(repo.db, exec), q, row)
	if err != nil {
		return submission.Submission{}, trapSubmissionErr(err, "updating submission")
	}
	if err = checkAffected(res, submission.ErrNotFound); err != nil {
		return submission.Submission{}, err
	}
	return row.toSubmission(), nil
}

func (repo *submissionRepository) DeleteSubmission(ctx context.Context, id string, exec ...core.DBExecutor) error {
	res, err := getExec(repo.db, exec).ExecContext(ctx, "DELETE FROM submissions WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting submission")
	}
	return checkAffected(res, submission.ErrNotFound)
}
