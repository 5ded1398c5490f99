package inmemdb

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/assignment"
	"github.com/trezcool/coursehub/core/course"
	"github.com/trezcool/coursehub/core/group"
	"github.com/trezcool/coursehub/core/submission"
	"github.com/trezcool/coursehub/core/user"
)

type repos struct {
	db     *DB
	users  user.Repository
	course course.Repository
	groups group.Repository
	asgmts assignment.Repository
	subs   submission.Repository
}

func newRepos() repos {
	db := Open()
	return repos{
		db:     db,
		users:  NewUserRepository(db),
		course: NewCourseRepository(db),
		groups: NewGroupRepository(db),
		asgmts: NewAssignmentRepository(db),
		subs:   NewSubmissionRepository(db),
	}
}

func (r repos) seed(t *testing.T) (course.Course, group.Group, assignment.Assignment) {
	ctx := context.Background()
	now := time.Now().UTC()
	c, err := r.course.CreateCourse(ctx, course.Course{ID: core.NewID(), Code: "CS101", ProfessorID: core.NewID(), CreatedAt: now})
	require.NoError(t, err)
	student := core.NewID()
	require.NoError(t, r.course.CreateEnrollment(ctx, course.Enrollment{CourseID: c.ID, StudentID: student, EnrolledAt: now}))
	g, err := r.groups.CreateGroup(ctx, group.Group{ID: core.NewID(), CourseID: c.ID, LeaderID: student, MemberIDs: []string{student}, CreatedAt: now})
	require.NoError(t, err)
	a, err := r.asgmts.CreateAssignment(ctx, assignment.Assignment{ID: core.NewID(), CourseID: c.ID, Type: assignment.TypeGroup, DueDate: now})
	require.NoError(t, err)
	return c, g, a
}

func TestDB_RunInTx_rollback(t *testing.T) {
	r := newRepos()
	ctx := context.Background()
	boom := errors.New("boom")

	err := r.db.RunInTx(ctx, func(exec core.DBExecutor) error {
		_, err := r.users.CreateUser(ctx, user.User{ID: core.NewID(), Email: "ada@test.cd"}, exec)
		require.NoError(t, err)
		return boom
	})
	assert.Equal(t, boom, err)

	_, err = r.users.GetUser(ctx, user.GetFilter{Email: "ada@test.cd"})
	assert.Equal(t, user.ErrNotFound, err)
}

func TestDB_RunInTx_canceled(t *testing.T) {
	r := newRepos()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := r.db.RunInTx(ctx, func(core.DBExecutor) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestUserRepository_uniqueEmail(t *testing.T) {
	r := newRepos()
	ctx := context.Background()

	_, err := r.users.CreateUser(ctx, user.User{ID: core.NewID(), Email: "ada@test.cd"})
	require.NoError(t, err)
	_, err = r.users.CreateUser(ctx, user.User{ID: core.NewID(), Email: "ada@test.cd"})
	assert.True(t, core.IsConflict(err))
}

func TestCourseRepository_DeleteCourse_cascades(t *testing.T) {
	r := newRepos()
	ctx := context.Background()
	c, g, a := r.seed(t)
	s, err := r.subs.CreateSubmission(ctx, submission.Submission{ID: core.NewID(), AssignmentID: a.ID, GroupID: null.StringFrom(g.ID)})
	require.NoError(t, err)

	require.NoError(t, r.course.DeleteCourse(ctx, c.ID))

	_, err = r.groups.GetGroup(ctx, g.ID)
	assert.Equal(t, group.ErrNotFound, err)
	_, err = r.asgmts.GetAssignment(ctx, a.ID)
	assert.Equal(t, assignment.ErrNotFound, err)
	_, err = r.subs.GetSubmission(ctx, s.ID)
	assert.Equal(t, submission.ErrNotFound, err)
	enrolled, err := r.course.IsEnrolled(ctx, c.ID, g.LeaderID)
	require.NoError(t, err)
	assert.False(t, enrolled)
}

func TestSubmissionRepository_oneSubmissionPerOwner(t *testing.T) {
	r := newRepos()
	ctx := context.Background()
	_, g, a := r.seed(t)

	_, err := r.subs.CreateSubmission(ctx, submission.Submission{ID: core.NewID(), AssignmentID: a.ID, GroupID: null.StringFrom(g.ID)})
	require.NoError(t, err)
	_, err = r.subs.CreateSubmission(ctx, submission.Submission{ID: core.NewID(), AssignmentID: a.ID, GroupID: null.StringFrom(g.ID)})
	assert.True(t, core.IsConflict(err))

	_, err = r.subs.CreateSubmission(ctx, submission.Submission{
		ID:           core.NewID(),
		AssignmentID: a.ID,
		GroupID:      null.StringFrom(g.ID),
		StudentID:    null.StringFrom(g.LeaderID),
	})
	assert.Error(t, err, "exactly one owner")

	_, err = r.subs.CreateSubmission(ctx, submission.Submission{ID: core.NewID(), AssignmentID: core.NewID(), StudentID: null.StringFrom(g.LeaderID)})
	assert.Equal(t, assignment.ErrNotFound, err)
}

func TestSubmissionRepository_QuerySubmissions(t *testing.T) {
	r := newRepos()
	ctx := context.Background()
	_, g, a := r.seed(t)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	create := func(s submission.Submission) submission.Submission {
		s.ID = core.NewID()
		s.AssignmentID = a.ID
		s, err := r.subs.CreateSubmission(ctx, s)
		require.NoError(t, err)
		return s
	}
	alice, bob := core.NewID(), core.NewID()
	unsubmitted := create(submission.Submission{StudentID: null.StringFrom(alice), Status: submission.StatusPending, CreatedAt: t0.Add(3 * time.Hour)})
	early := create(submission.Submission{StudentID: null.StringFrom(bob), Status: submission.StatusSubmitted, SubmittedAt: null.TimeFrom(t0), CreatedAt: t0})
	late := create(submission.Submission{GroupID: null.StringFrom(g.ID), Status: submission.StatusGraded, SubmittedAt: null.TimeFrom(t0.Add(time.Hour)), CreatedAt: t0})

	ids := func(subs []submission.Submission) []string {
		out := make([]string, 0, len(subs))
		for _, s := range subs {
			out = append(out, s.ID)
		}
		return out
	}

	tests := []struct {
		name      string
		filter    submission.QueryFilter
		orderings []core.DBOrdering
		want      []string
	}{
		{name: "submitted desc, nulls last", orderings: submission.DefaultOrdering, want: []string{late.ID, early.ID, unsubmitted.ID}},
		{name: "submitted asc, nulls last", orderings: []core.DBOrdering{{Field: "submitted_at", Ascending: true}}, want: []string{early.ID, late.ID, unsubmitted.ID}},
		{name: "student or group", filter: submission.QueryFilter{StudentID: bob, GroupIDs: []string{g.ID}}, orderings: submission.DefaultOrdering, want: []string{late.ID, early.ID}},
		{name: "student only", filter: submission.QueryFilter{StudentID: alice}, want: []string{unsubmitted.ID}},
		{name: "no groups", filter: submission.QueryFilter{GroupIDs: []string{}}, want: []string{}},
		{name: "no assignments", filter: submission.QueryFilter{AssignmentIDs: []string{}}, want: []string{}},
		{
			name:      "confirmed",
			filter:    submission.QueryFilter{Statuses: submission.ConfirmedStatuses},
			orderings: submission.DefaultOrdering,
			want:      []string{late.ID, early.ID},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.subs.QuerySubmissions(ctx, tt.filter, tt.orderings)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}

	counts, err := r.asgmts.ConfirmedSubmissionCounts(ctx, []string{a.ID})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{a.ID: 2}, counts)
}

func TestGroupRepository_members(t *testing.T) {
	r := newRepos()
	ctx := context.Background()
	_, g, _ := r.seed(t)
	other := core.NewID()

	require.NoError(t, r.groups.AddGroupMember(ctx, g.ID, other))
	assert.Equal(t, group.ErrAlreadyMember, r.groups.AddGroupMember(ctx, g.ID, other))
	assert.Equal(t, group.ErrNotFound, r.groups.AddGroupMember(ctx, core.NewID(), other))

	got, err := r.groups.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{g.LeaderID, other}, got.MemberIDs)

	got.MemberIDs = append(got.MemberIDs, "mutated")
	again, err := r.groups.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, again.MemberIDs, 2, "returned groups do not alias the store")

	require.NoError(t, r.groups.RemoveGroupMember(ctx, g.ID, other))
	mine, err := r.groups.QueryGroups(ctx, group.QueryFilter{MemberID: other})
	require.NoError(t, err)
	assert.Empty(t, mine)
}
