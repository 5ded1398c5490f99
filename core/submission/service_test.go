package submission_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/assignment"
	"github.com/trezcool/coursehub/core/course"
	"github.com/trezcool/coursehub/core/group"
	"github.com/trezcool/coursehub/core/submission"
	"github.com/trezcool/coursehub/core/user"
	"github.com/trezcool/coursehub/tests"
)

type countingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (m *countingMetrics) SubmissionUpserted(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[outcome]++
}

func (m *countingMetrics) count(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[outcome]
}

type fixture struct {
	app                *testutil.App
	metrics            *countingMetrics
	prof, other        user.User
	ada, bob, cyd, out user.User
	course, otherC     course.Course
	team               group.Group // ada (leader), bob
	indiv, grp         assignment.Assignment
}

func newFixture(t *testing.T) fixture {
	m := &countingMetrics{}
	app := testutil.NewApp(t, m)
	f := fixture{
		app:     app,
		metrics: m,
		prof:    app.Professor(t, "Prof", "prof@test.cd"),
		other:   app.Professor(t, "Other", "other@test.cd"),
		ada:     app.Student(t, "Ada", "ada@test.cd"),
		bob:     app.Student(t, "Bob", "bob@test.cd"),
		cyd:     app.Student(t, "Cyd", "cyd@test.cd"),
		out:     app.Student(t, "Out", "out@test.cd"),
	}
	f.course = app.CreateCourse(t, f.prof, "CS101", f.ada, f.bob, f.cyd)
	f.otherC = app.CreateCourse(t, f.other, "CS201", f.out)
	f.team = app.CreateGroup(t, f.ada, f.course, "Team", f.bob)
	due := time.Now().Add(48 * time.Hour)
	f.indiv = app.CreateAssignment(t, f.prof, f.course, "Essay", assignment.TypeIndividual, due)
	f.grp = app.CreateAssignment(t, f.prof, f.course, "Project", assignment.TypeGroup, due)
	return f
}

func TestService_Upsert_validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	foreign := f.app.CreateGroup(t, f.out, f.otherC, "Foreign")

	tests := []struct {
		name     string
		actor    user.User
		us       submission.UpsertSubmission
		wantErr  error
		checkErr func(error) bool
	}{
		{
			name:     "unknown assignment",
			actor:    f.ada,
			us:       submission.UpsertSubmission{AssignmentID: core.NewID()},
			checkErr: core.IsNotFound,
		},
		{
			name:    "group required",
			actor:   f.ada,
			us:      submission.UpsertSubmission{AssignmentID: f.grp.ID},
			wantErr: submission.ErrGroupRequired,
		},
		{
			name:    "group not allowed",
			actor:   f.ada,
			us:      submission.UpsertSubmission{AssignmentID: f.indiv.ID, GroupID: f.team.ID},
			wantErr: submission.ErrGroupNotAllowed,
		},
		{
			name:     "unknown group",
			actor:    f.ada,
			us:       submission.UpsertSubmission{AssignmentID: f.grp.ID, GroupID: core.NewID()},
			checkErr: core.IsNotFound,
		},
		{
			name:    "group of another course",
			actor:   f.out,
			us:      submission.UpsertSubmission{AssignmentID: f.grp.ID, GroupID: foreign.ID},
			wantErr: submission.ErrGroupCourseMismatch,
		},
		{
			name:     "not enrolled",
			actor:    f.out,
			us:       submission.UpsertSubmission{AssignmentID: f.indiv.ID},
			checkErr: core.IsPermission,
		},
		{
			name:     "not a group member",
			actor:    f.cyd,
			us:       submission.UpsertSubmission{AssignmentID: f.grp.ID, GroupID: f.team.ID},
			checkErr: core.IsPermission,
		},
		{
			name:     "professor cannot submit",
			actor:    f.prof,
			us:       submission.UpsertSubmission{AssignmentID: f.indiv.ID},
			checkErr: core.IsPermission,
		},
		{
			name:     "only the leader acknowledges",
			actor:    f.bob,
			us:       submission.UpsertSubmission{AssignmentID: f.grp.ID, GroupID: f.team.ID, Status: submission.StatusAcknowledged},
			checkErr: core.IsPermission,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.app.SubmissionSvc.Upsert(ctx, tt.actor, tt.us)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			} else {
				assert.True(t, tt.checkErr(err), "unexpected error: %v", err)
			}
		})
	}

	subs, err := f.app.SubmissionSvc.FindMany(ctx, submission.QueryFilter{}, nil)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestService_Upsert_individual(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, created, err := f.app.SubmissionSvc.Upsert(ctx, f.ada, submission.UpsertSubmission{AssignmentID: f.indiv.ID})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, submission.StatusPending, s.Status)
	assert.Equal(t, f.ada.ID, s.StudentID.String)
	assert.False(t, s.GroupID.Valid)
	assert.False(t, s.SubmittedAt.Valid)

	updated, created, err := f.app.SubmissionSvc.Upsert(ctx, f.ada, submission.UpsertSubmission{
		AssignmentID:   f.indiv.ID,
		Status:         submission.StatusSubmitted,
		SubmissionLink: "https://example.com/essay",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, s.ID, updated.ID)
	assert.Equal(t, submission.StatusSubmitted, updated.Status)
	assert.True(t, updated.SubmittedAt.Valid)
	assert.Equal(t, "https://example.com/essay", updated.SubmissionLink)

	// an empty status or link leaves them as is
	again, _, err := f.app.SubmissionSvc.Upsert(ctx, f.ada, submission.UpsertSubmission{AssignmentID: f.indiv.ID})
	require.NoError(t, err)
	assert.Equal(t, submission.StatusSubmitted, again.Status)
	assert.Equal(t, "https://example.com/essay", again.SubmissionLink)
	assert.Equal(t, updated.SubmittedAt, again.SubmittedAt)

	_, _, err = f.app.SubmissionSvc.Upsert(ctx, f.ada, submission.UpsertSubmission{AssignmentID: f.indiv.ID, Status: submission.StatusPending})
	assert.Equal(t, submission.ErrRevertToPending, errors.Cause(err))

	assert.Equal(t, 1, f.metrics.count(submission.OutcomeCreated))
	assert.Equal(t, 2, f.metrics.count(submission.OutcomeUpdated))
}

func TestService_Upsert_groupAcknowledge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.app.Upsert(t, f.bob, f.grp, f.team.ID, submission.StatusPending)
	assert.Equal(t, f.team.ID, s.GroupID.String)
	assert.False(t, s.StudentID.Valid)

	acked, created, err := f.app.SubmissionSvc.Upsert(ctx, f.ada, submission.UpsertSubmission{
		AssignmentID: f.grp.ID,
		GroupID:      f.team.ID,
		Status:       submission.StatusAcknowledged,
	})
	require.NoError(t, err)
	assert.False(t, created, "members share the group's submission")
	assert.Equal(t, s.ID, acked.ID)
	assert.Equal(t, submission.StatusAcknowledged, acked.Status)
	assert.Equal(t, f.ada.ID, acked.AcknowledgedBy.String)
	assert.True(t, acked.AcknowledgedAt.Valid)
	assert.True(t, acked.SubmittedAt.Valid)
	assert.Equal(t, "Submission acknowledged successfully", submission.UpsertMessage(acked.Status))
}

func TestService_Upsert_graded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.app.Upsert(t, f.ada, f.indiv, "", submission.StatusSubmitted)

	graded := submission.StatusGraded
	_, err := f.app.SubmissionSvc.Grade(ctx, f.prof, s.ID, submission.GradeSubmission{Status: &graded})
	require.NoError(t, err)

	_, _, err = f.app.SubmissionSvc.Upsert(ctx, f.ada, submission.UpsertSubmission{AssignmentID: f.indiv.ID, SubmissionLink: "https://example.com/late"})
	assert.Equal(t, submission.ErrAlreadyGraded, errors.Cause(err))
}

func TestService_Upsert_concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]struct{}{}
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(actor user.User) {
			defer wg.Done()
			s, ok, err := f.app.SubmissionSvc.Upsert(ctx, actor, submission.UpsertSubmission{
				AssignmentID: f.grp.ID,
				GroupID:      f.team.ID,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if ok {
				created++
			}
			ids[s.ID] = struct{}{}
		}([]user.User{f.ada, f.bob}[i%2])
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
	subs, err := f.app.SubmissionSvc.FindMany(ctx, submission.QueryFilter{AssignmentIDs: []string{f.grp.ID}}, nil)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
	assert.Equal(t, 1, f.metrics.count(submission.OutcomeCreated))
	assert.Equal(t, n-1, f.metrics.count(submission.OutcomeUpdated))
}

func TestService_Grade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.app.Upsert(t, f.ada, f.grp, f.team.ID, submission.StatusAcknowledged)

	marks := 85.5
	tooMany := 101.0
	feedback := "Well done"

	_, err := f.app.SubmissionSvc.Grade(ctx, f.ada, s.ID, submission.GradeSubmission{Marks: &marks})
	assert.True(t, core.IsPermission(err))
	_, err = f.app.SubmissionSvc.Grade(ctx, f.other, s.ID, submission.GradeSubmission{Marks: &marks})
	assert.True(t, core.IsPermission(err))
	_, err = f.app.SubmissionSvc.Grade(ctx, f.prof, s.ID, submission.GradeSubmission{Marks: &tooMany})
	assert.True(t, core.IsValidation(err))
	assert.Empty(t, f.app.Mail.SentMessages())

	got, err := f.app.SubmissionSvc.Grade(ctx, f.prof, s.ID, submission.GradeSubmission{Marks: &marks, Feedback: &feedback})
	require.NoError(t, err)
	assert.Equal(t, marks, got.Marks.Float64)
	assert.Equal(t, feedback, got.Feedback)
	assert.Equal(t, f.prof.ID, got.GradedBy.String)
	assert.True(t, got.GradedAt.Valid)
	assert.Equal(t, submission.StatusAcknowledged, got.Status, "grading marks does not change the status")

	sent := f.app.Mail.SentMessages()
	require.Len(t, sent, 2) // every group member
	var to []string
	for _, msg := range sent {
		require.Len(t, msg.To, 1)
		to = append(to, msg.To[0].Address)
		assert.Contains(t, msg.TextContent, "85.5 / 100")
		assert.Contains(t, msg.TextContent, feedback)
	}
	assert.ElementsMatch(t, []string{f.ada.Email, f.bob.Email}, to)

	// feedback only: no mail
	f.app.Mail.Reset()
	more := "See comments"
	_, err = f.app.SubmissionSvc.Grade(ctx, f.prof, s.ID, submission.GradeSubmission{Feedback: &more})
	require.NoError(t, err)
	assert.Empty(t, f.app.Mail.SentMessages())
}

func TestService_Grade_status(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.app.Upsert(t, f.ada, f.indiv, "", submission.StatusSubmitted)
	require.True(t, s.SubmittedAt.Valid)

	status := submission.StatusAcknowledged
	got, err := f.app.SubmissionSvc.Grade(ctx, f.prof, s.ID, submission.GradeSubmission{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, submission.StatusAcknowledged, got.Status)
	assert.False(t, got.AcknowledgedBy.Valid, "the professor does not acknowledge for the student")
	assert.False(t, got.AcknowledgedAt.Valid)
	assert.Equal(t, s.SubmittedAt.Time.Unix(), got.SubmittedAt.Time.Unix())

	graded := submission.StatusGraded
	got, err = f.app.SubmissionSvc.Grade(ctx, f.prof, s.ID, submission.GradeSubmission{Status: &graded})
	require.NoError(t, err)
	assert.Equal(t, submission.StatusGraded, got.Status)
	assert.False(t, got.AcknowledgedBy.Valid)
}

func TestService_Get(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	indiv := f.app.Upsert(t, f.ada, f.indiv, "", submission.StatusSubmitted)
	grp := f.app.Upsert(t, f.bob, f.grp, f.team.ID, submission.StatusPending)

	tests := []struct {
		name  string
		actor user.User
		id    string
		allow bool
	}{
		{name: "owner", actor: f.ada, id: indiv.ID, allow: true},
		{name: "course owner", actor: f.prof, id: indiv.ID, allow: true},
		{name: "classmate", actor: f.bob, id: indiv.ID},
		{name: "other professor", actor: f.other, id: indiv.ID},
		{name: "group member", actor: f.ada, id: grp.ID, allow: true},
		{name: "non-member", actor: f.cyd, id: grp.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.app.SubmissionSvc.Get(ctx, tt.actor, tt.id)
			if !tt.allow {
				assert.True(t, core.IsPermission(err), "unexpected error: %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, got.ID)
		})
	}

	_, err := f.app.SubmissionSvc.Get(ctx, f.prof, core.NewID())
	assert.True(t, core.IsNotFound(err))
}

func TestService_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := f.app.Upsert(t, f.ada, f.indiv, "", submission.StatusPending)
	grp := f.app.Upsert(t, f.ada, f.grp, f.team.ID, submission.StatusSubmitted)

	assert.True(t, core.IsPermission(f.app.SubmissionSvc.Delete(ctx, f.bob, pending.ID)))
	require.NoError(t, f.app.SubmissionSvc.Delete(ctx, f.ada, pending.ID))

	assert.True(t, core.IsPermission(f.app.SubmissionSvc.Delete(ctx, f.ada, grp.ID)))
	require.NoError(t, f.app.SubmissionSvc.Delete(ctx, f.prof, grp.ID))

	confirmed := f.app.Upsert(t, f.ada, f.indiv, "", submission.StatusSubmitted)
	assert.True(t, core.IsPermission(f.app.SubmissionSvc.Delete(ctx, f.ada, confirmed.ID)))
}

func subIDs(subs []submission.Submission) []string {
	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.ID)
	}
	return ids
}

func TestService_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	otherAsgmt := f.app.CreateAssignment(t, f.other, f.otherC, "Other", assignment.TypeIndividual, time.Now().Add(time.Hour))

	adaIndiv := f.app.Upsert(t, f.ada, f.indiv, "", submission.StatusSubmitted)
	team := f.app.Upsert(t, f.bob, f.grp, f.team.ID, submission.StatusPending)
	cydIndiv := f.app.Upsert(t, f.cyd, f.indiv, "", submission.StatusPending)
	outIndiv := f.app.Upsert(t, f.out, otherAsgmt, "", submission.StatusSubmitted)

	tests := []struct {
		name   string
		actor  user.User
		filter submission.ListFilter
		want   []string
	}{
		{name: "professor", actor: f.prof, want: []string{adaIndiv.ID, team.ID, cydIndiv.ID}},
		{name: "professor by status", actor: f.prof, filter: submission.ListFilter{Status: "PENDING"}, want: []string{team.ID, cydIndiv.ID}},
		{name: "professor by assignment", actor: f.prof, filter: submission.ListFilter{AssignmentID: f.grp.ID}, want: []string{team.ID}},
		{name: "professor, another's course", actor: f.prof, filter: submission.ListFilter{CourseID: f.otherC.ID}, want: []string{}},
		{name: "other professor", actor: f.other, want: []string{outIndiv.ID}},
		{name: "student sees own and group's", actor: f.ada, want: []string{adaIndiv.ID, team.ID}},
		{name: "student by course", actor: f.bob, filter: submission.ListFilter{CourseID: f.course.ID}, want: []string{team.ID}},
		{name: "student outside groups", actor: f.cyd, want: []string{cydIndiv.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.app.SubmissionSvc.List(ctx, tt.actor, tt.filter)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, subIDs(got))
		})
	}

	mine, err := f.app.SubmissionSvc.ListMine(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, []string{team.ID}, subIDs(mine))
	mine, err = f.app.SubmissionSvc.ListMine(ctx, f.prof)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestService_List_ordering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.app.Upsert(t, f.cyd, f.indiv, "", submission.StatusPending)
	first := f.app.Upsert(t, f.ada, f.indiv, "", submission.StatusSubmitted)
	time.Sleep(time.Millisecond)
	second := f.app.Upsert(t, f.ada, f.grp, f.team.ID, submission.StatusAcknowledged)

	got, err := f.app.SubmissionSvc.List(ctx, f.prof, submission.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID, first.ID, pending.ID}, subIDs(got), "most recently submitted first, unsubmitted last")

	got, err = f.app.SubmissionSvc.ListByAssignment(ctx, f.prof, f.indiv.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first.ID, pending.ID}, subIDs(got))

	_, err = f.app.SubmissionSvc.ListByAssignment(ctx, f.ada, f.indiv.ID)
	assert.True(t, core.IsPermission(err))
}

func TestService_ListByGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.app.Upsert(t, f.bob, f.grp, f.team.ID, submission.StatusPending)
	f.app.Upsert(t, f.ada, f.indiv, "", submission.StatusPending)

	for _, actor := range []user.User{f.prof, f.ada, f.bob} {
		got, err := f.app.SubmissionSvc.ListByGroup(ctx, actor, f.team.ID)
		require.NoError(t, err, actor.Name)
		assert.Equal(t, []string{s.ID}, subIDs(got))
	}
	_, err := f.app.SubmissionSvc.ListByGroup(ctx, f.cyd, f.team.ID)
	assert.True(t, core.IsPermission(err))
}

func TestService_FindForActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.app.SubmissionSvc.FindForActor(ctx, f.ada, f.indiv)
	require.NoError(t, err)
	assert.Nil(t, got)

	mine := f.app.Upsert(t, f.ada, f.indiv, "", submission.StatusPending)
	team := f.app.Upsert(t, f.bob, f.grp, f.team.ID, submission.StatusPending)

	got, err = f.app.SubmissionSvc.FindForActor(ctx, f.ada, f.indiv)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, mine.ID, got.ID)

	got, err = f.app.SubmissionSvc.FindForActor(ctx, f.ada, f.grp)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, team.ID, got.ID)

	got, err = f.app.SubmissionSvc.FindForActor(ctx, f.cyd, f.grp)
	require.NoError(t, err)
	assert.Nil(t, got, "no group in the course")
}

func TestService_FindForActor_severalGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	second := f.app.CreateGroup(t, f.cyd, f.course, "Second", f.ada)

	f.app.Upsert(t, f.bob, f.grp, f.team.ID, submission.StatusPending)
	acked := f.app.Upsert(t, f.cyd, f.grp, second.ID, submission.StatusAcknowledged)

	for i := 0; i < 3; i++ {
		got, err := f.app.SubmissionSvc.FindForActor(ctx, f.ada, f.grp)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, acked.ID, got.ID, "confirmed submission preferred")
	}
}
