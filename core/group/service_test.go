package group_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/course"
	"github.com/trezcool/coursehub/core/group"
	"github.com/trezcool/coursehub/core/user"
	"github.com/trezcool/coursehub/tests"
)

type fixture struct {
	app                   *testutil.App
	prof, other           user.User
	ada, bob, cyd, outsdr user.User
	course                course.Course
}

func newFixture(t *testing.T) fixture {
	app := testutil.NewApp(t, nil)
	f := fixture{
		app:    app,
		prof:   app.Professor(t, "Prof", "prof@test.cd"),
		other:  app.Professor(t, "Other", "other@test.cd"),
		ada:    app.Student(t, "Ada", "ada@test.cd"),
		bob:    app.Student(t, "Bob", "bob@test.cd"),
		cyd:    app.Student(t, "Cyd", "cyd@test.cd"),
		outsdr: app.Student(t, "Out", "out@test.cd"),
	}
	f.course = app.CreateCourse(t, f.prof, "CS101", f.ada, f.bob, f.cyd)
	return f
}

func TestService_Create(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		actor       user.User
		ng          group.NewGroup
		wantErr     error
		checkErr    func(error) bool
		wantLeader  string
		wantMembers []string
	}{
		{
			name:     "unknown course",
			actor:    f.ada,
			ng:       group.NewGroup{Name: "Team", CourseID: core.NewID()},
			checkErr: core.IsNotFound,
		},
		{
			name:     "student not enrolled",
			actor:    f.outsdr,
			ng:       group.NewGroup{Name: "Team", CourseID: f.course.ID},
			checkErr: core.IsPermission,
		},
		{
			name:     "other professor",
			actor:    f.other,
			ng:       group.NewGroup{Name: "Team", CourseID: f.course.ID, MemberIDs: []string{f.ada.ID}},
			checkErr: core.IsPermission,
		},
		{
			name:    "member not enrolled",
			actor:   f.ada,
			ng:      group.NewGroup{Name: "Team", CourseID: f.course.ID, MemberIDs: []string{f.outsdr.ID}},
			wantErr: group.ErrNotEnrolled,
		},
		{
			name:    "professor without members",
			actor:   f.prof,
			ng:      group.NewGroup{Name: "Team", CourseID: f.course.ID},
			wantErr: group.ErrNoMembers,
		},
		{
			name:        "student leads their group",
			actor:       f.ada,
			ng:          group.NewGroup{Name: "Team A", CourseID: f.course.ID, MemberIDs: []string{f.bob.ID, f.bob.ID}},
			wantLeader:  f.ada.ID,
			wantMembers: []string{f.ada.ID, f.bob.ID},
		},
		{
			name:        "professor picks the first member as leader",
			actor:       f.prof,
			ng:          group.NewGroup{Name: "Team B", CourseID: f.course.ID, MemberIDs: []string{f.cyd.ID, f.ada.ID}},
			wantLeader:  f.cyd.ID,
			wantMembers: []string{f.cyd.ID, f.ada.ID},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := f.app.GroupSvc.Create(ctx, tt.actor, tt.ng)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			case tt.checkErr != nil:
				assert.True(t, tt.checkErr(err), "unexpected error: %v", err)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantLeader, g.LeaderID)
				assert.Equal(t, tt.wantMembers, g.MemberIDs)
				assert.Equal(t, tt.actor.ID, g.CreatedBy)
				assert.True(t, g.HasMember(g.LeaderID))
			}
		})
	}
}

func TestService_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.app.CreateCourse(t, f.other, "CS201", f.outsdr)

	g1 := f.app.CreateGroup(t, f.ada, f.course, "Team A")
	g2 := f.app.CreateGroup(t, f.bob, f.course, "Team B")
	g3 := f.app.CreateGroup(t, f.outsdr, other, "Team C")

	ids := func(groups []group.Group) []string {
		out := make([]string, 0, len(groups))
		for _, g := range groups {
			out = append(out, g.ID)
		}
		return out
	}

	got, err := f.app.GroupSvc.List(ctx, f.prof, f.course.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{g1.ID, g2.ID}, ids(got))

	got, err = f.app.GroupSvc.List(ctx, f.prof, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{g1.ID, g2.ID}, ids(got))

	got, err = f.app.GroupSvc.List(ctx, f.outsdr, "")
	require.NoError(t, err)
	assert.Equal(t, []string{g3.ID}, ids(got))

	_, err = f.app.GroupSvc.List(ctx, f.outsdr, f.course.ID)
	assert.True(t, core.IsPermission(err))

	got, err = f.app.GroupSvc.ListMine(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, []string{g2.ID}, ids(got))
}

func TestService_Get(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.app.CreateGroup(t, f.ada, f.course, "Team A")

	for _, actor := range []user.User{f.prof, f.ada, f.cyd} {
		got, err := f.app.GroupSvc.Get(ctx, actor, g.ID)
		require.NoError(t, err, actor.Name)
		assert.Equal(t, g.ID, got.ID)
	}
	for _, actor := range []user.User{f.other, f.outsdr} {
		_, err := f.app.GroupSvc.Get(ctx, actor, g.ID)
		assert.True(t, core.IsPermission(err), actor.Name)
	}
	_, err := f.app.GroupSvc.Get(ctx, f.prof, "lol")
	assert.True(t, core.IsNotFound(err))
}

func TestService_AddMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.app.CreateGroup(t, f.ada, f.course, "Team A")

	tests := []struct {
		name     string
		actor    user.User
		am       group.AddMember
		wantErr  error
		checkErr func(error) bool
	}{
		{name: "member is not leader", actor: f.bob, am: group.AddMember{UserID: f.cyd.ID}, checkErr: core.IsPermission},
		{name: "course owner cannot manage a student group", actor: f.prof, am: group.AddMember{UserID: f.cyd.ID}, checkErr: core.IsPermission},
		{name: "unknown user", actor: f.ada, am: group.AddMember{UserEmail: "nobody@test.cd"}, wantErr: group.ErrUserNotFound},
		{name: "not enrolled", actor: f.ada, am: group.AddMember{UserID: f.outsdr.ID}, wantErr: group.ErrNotEnrolled},
		{name: "already member", actor: f.ada, am: group.AddMember{UserID: f.ada.ID}, wantErr: group.ErrAlreadyMember},
		{name: "by email", actor: f.ada, am: group.AddMember{UserEmail: f.bob.Email}},
		{name: "by id", actor: f.ada, am: group.AddMember{UserID: f.cyd.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.app.GroupSvc.AddMember(ctx, tt.actor, g.ID, tt.am)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			case tt.checkErr != nil:
				assert.True(t, tt.checkErr(err), "unexpected error: %v", err)
			default:
				require.NoError(t, err)
			}
		})
	}

	got, err := f.app.GroupSvc.Find(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{f.ada.ID, f.bob.ID, f.cyd.ID}, got.MemberIDs)
}

func TestService_AddMember_byCreator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.app.GroupSvc.Create(ctx, f.prof, group.NewGroup{Name: "Team", CourseID: f.course.ID, MemberIDs: []string{f.ada.ID}})
	require.NoError(t, err)

	got, err := f.app.GroupSvc.AddMember(ctx, f.prof, g.ID, group.AddMember{UserID: f.bob.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{f.ada.ID, f.bob.ID}, got.MemberIDs)
	assert.Equal(t, f.ada.ID, got.LeaderID)
}

func TestService_RemoveMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.app.CreateGroup(t, f.ada, f.course, "Team A", f.bob)

	tests := []struct {
		name     string
		actor    user.User
		userID   string
		wantErr  error
		checkErr func(error) bool
	}{
		{name: "only the leader", actor: f.bob, userID: f.bob.ID, checkErr: core.IsPermission},
		{name: "cannot remove leader", actor: f.ada, userID: f.ada.ID, wantErr: group.ErrCannotRemoveLeader},
		{name: "not a member", actor: f.ada, userID: f.cyd.ID, wantErr: group.ErrNotAMember},
		{name: "removed", actor: f.ada, userID: f.bob.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.app.GroupSvc.RemoveMember(ctx, tt.actor, g.ID, tt.userID)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			case tt.checkErr != nil:
				assert.True(t, tt.checkErr(err), "unexpected error: %v", err)
			default:
				require.NoError(t, err)
				assert.Equal(t, []string{f.ada.ID}, got.MemberIDs)
			}
		})
	}
}

func TestService_TransferLeader(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.app.CreateGroup(t, f.ada, f.course, "Team A", f.bob)

	_, err := f.app.GroupSvc.TransferLeader(ctx, f.bob, g.ID, group.TransferLeader{NewLeaderID: f.bob.ID})
	assert.True(t, core.IsPermission(err))

	_, err = f.app.GroupSvc.TransferLeader(ctx, f.ada, g.ID, group.TransferLeader{NewLeaderID: f.cyd.ID})
	assert.Equal(t, group.ErrNotAMember, errors.Cause(err))

	got, err := f.app.GroupSvc.TransferLeader(ctx, f.ada, g.ID, group.TransferLeader{NewLeaderID: f.bob.ID})
	require.NoError(t, err)
	assert.Equal(t, f.bob.ID, got.LeaderID)
	assert.Equal(t, []string{f.ada.ID, f.bob.ID}, got.MemberIDs)

	// the former leader is now a plain member
	got, err = f.app.GroupSvc.RemoveMember(ctx, f.bob, g.ID, f.ada.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{f.bob.ID}, got.MemberIDs)
}

func TestService_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.app.CreateGroup(t, f.ada, f.course, "Team A", f.bob)

	assert.True(t, core.IsPermission(f.app.GroupSvc.Delete(ctx, f.bob, g.ID)))
	assert.True(t, core.IsPermission(f.app.GroupSvc.Delete(ctx, f.prof, g.ID)))
	require.NoError(t, f.app.GroupSvc.Delete(ctx, f.ada, g.ID))

	_, err := f.app.GroupSvc.Find(ctx, g.ID)
	assert.True(t, core.IsNotFound(err))
}

// handoverRepo hands the group's leadership over once the service has read it outside a transaction.
type handoverRepo struct {
	group.Repository
	newLeaderID string
	done        bool
}

func (r *handoverRepo) GetGroup(ctx context.Context, id string, exec ...core.DBExecutor) (group.Group, error) {
	g, err := r.Repository.GetGroup(ctx, id, exec...)
	if err != nil || len(exec) > 0 || r.done {
		return g, err
	}
	r.done = true
	updated := g
	updated.LeaderID = r.newLeaderID
	if err = r.Repository.UpdateGroup(ctx, updated); err != nil {
		return group.Group{}, err
	}
	return g, nil // stale
}

func TestService_mutate_reauthorizes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func(svc group.Service, g group.Group) error
	}{
		{
			name: "remove member",
			run: func(svc group.Service, g group.Group) error {
				_, err := svc.RemoveMember(ctx, f.ada, g.ID, f.cyd.ID)
				return err
			},
		},
		{
			name: "transfer leader",
			run: func(svc group.Service, g group.Group) error {
				_, err := svc.TransferLeader(ctx, f.ada, g.ID, group.TransferLeader{NewLeaderID: f.cyd.ID})
				return err
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := f.app.CreateGroup(t, f.ada, f.course, "Team "+tt.name, f.bob, f.cyd)
			repo := &handoverRepo{Repository: f.app.GroupRepo, newLeaderID: f.bob.ID}
			svc := group.NewService(f.app.DB, repo, f.app.CourseSvc, f.app.UserSvc, f.app.Authz)

			err := tt.run(svc, g)
			assert.True(t, core.IsPermission(err), "unexpected error: %v", err)
			require.True(t, repo.done)

			got, err := f.app.GroupSvc.Find(ctx, g.ID)
			require.NoError(t, err)
			assert.Equal(t, g.MemberIDs, got.MemberIDs)
			assert.Equal(t, f.bob.ID, got.LeaderID)
		})
	}
}
