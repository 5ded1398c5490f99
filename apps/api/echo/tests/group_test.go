package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/group"
)

func Test_groupApi_create(t *testing.T) {
	ta := setup(t)
	prof := ta.Professor(t, "Prof", "prof@test.cd")
	s1 := ta.Student(t, "S1", "s1@test.cd")
	s2 := ta.Student(t, "S2", "s2@test.cd")
	outsider := ta.Student(t, "Outsider", "outsider@test.cd")
	c := ta.CreateCourse(t, prof, "CS101", s1, s2)

	newGroup := func(name, courseID string, members ...string) []byte {
		return marchallObj(t, group.NewGroup{Name: name, CourseID: courseID, MemberIDs: members})
	}
	s1Token := getToken(t, ta.Conf, s1)

	runHTTPTests(t, ta, []httpTest{
		{name: "name required", method: http.MethodPost, path: "/api/groups", body: newGroup("", c.ID), token: s1Token, wantCode: http.StatusBadRequest},
		{
			name: "unknown course", method: http.MethodPost, path: "/api/groups", body: newGroup("G", core.NewID()), token: s1Token,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "course not found"}),
		},
		{
			name: "not enrolled", method: http.MethodPost, path: "/api/groups", body: newGroup("G", c.ID),
			token: getToken(t, ta.Conf, outsider), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "member not enrolled", method: http.MethodPost, path: "/api/groups", body: newGroup("G", c.ID, outsider.ID), token: s1Token,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "user is not enrolled in the group's course"}),
		},
		{
			name: "professor must name members", method: http.MethodPost, path: "/api/groups", body: newGroup("G", c.ID),
			token: getToken(t, ta.Conf, prof), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"member_ids": "at least one member is required"}),
		},
	})

	t.Run("student leads the group they create", func(t *testing.T) {
		rec := ta.serve(httpTest{method: http.MethodPost, path: "/api/groups", body: newGroup("Alpha", c.ID, s2.ID), token: s1Token})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		data := decode(t, rec)
		assert.Equal(t, "Group created successfully", data["message"])
		g := data["group"].(map[string]interface{})
		assert.Equal(t, s1.ID, g["leader_id"])
		assert.Equal(t, s1.ID, g["created_by"])
		assert.Equal(t, []interface{}{s1.ID, s2.ID}, g["member_ids"])
	})

	t.Run("professor's first member leads", func(t *testing.T) {
		rec := ta.serve(httpTest{
			method: http.MethodPost, path: "/api/groups", body: newGroup("Beta", c.ID, s2.ID, s1.ID), token: getToken(t, ta.Conf, prof),
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		g := decode(t, rec)["group"].(map[string]interface{})
		assert.Equal(t, s2.ID, g["leader_id"])
		assert.Equal(t, prof.ID, g["created_by"])
	})
}

func Test_groupApi_list(t *testing.T) {
	ta := setup(t)
	prof := ta.Professor(t, "Prof", "prof@test.cd")
	s1 := ta.Student(t, "S1", "s1@test.cd")
	s2 := ta.Student(t, "S2", "s2@test.cd")
	s3 := ta.Student(t, "S3", "s3@test.cd")
	c1 := ta.CreateCourse(t, prof, "CS101", s1, s2, s3)
	c2 := ta.CreateCourse(t, prof, "CS102", s1)

	g1 := ta.CreateGroup(t, s1, c1, "Alpha", s2)
	g2 := ta.CreateGroup(t, s3, c1, "Beta")
	g3 := ta.CreateGroup(t, s1, c2, "Gamma")

	runHTTPTests(t, ta, []httpTest{
		{name: "owner sees all", path: "/api/groups", token: getToken(t, ta.Conf, prof), wantData: marchallList(t, g1, g2, g3)},
		{name: "filtered by course", path: "/api/groups?course_id=" + c2.ID, token: getToken(t, ta.Conf, prof), wantData: marchallList(t, g3)},
		{name: "student sees enrolled courses", path: "/api/groups", token: getToken(t, ta.Conf, s2), wantData: marchallList(t, g1, g2)},
		{name: "my groups", path: "/api/groups/my-groups", token: getToken(t, ta.Conf, s1), wantData: marchallList(t, g1, g3)},
		{name: "no groups", path: "/api/groups/my-groups", token: getToken(t, ta.Conf, prof), wantData: marchallList(t)},
		{
			name: "course not enrolled", path: "/api/groups?course_id=" + c2.ID, token: getToken(t, ta.Conf, s2),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "retrieve", path: "/api/groups/" + g2.ID, token: getToken(t, ta.Conf, s1), wantData: marchallObj(t, g2)},
		{
			name: "retrieve unknown", path: "/api/groups/" + core.NewID(), token: getToken(t, ta.Conf, s1),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "group not found"}),
		},
	})
}

func Test_groupApi_members(t *testing.T) {
	ta := setup(t)
	prof := ta.Professor(t, "Prof", "prof@test.cd")
	leader := ta.Student(t, "Leader", "leader@test.cd")
	s2 := ta.Student(t, "S2", "s2@test.cd")
	s3 := ta.Student(t, "S3", "s3@test.cd")
	outsider := ta.Student(t, "Outsider", "outsider@test.cd")
	c := ta.CreateCourse(t, prof, "CS101", leader, s2, s3)
	g := ta.CreateGroup(t, leader, c, "Alpha")

	leaderToken := getToken(t, ta.Conf, leader)
	membersPath := "/api/groups/" + g.ID + "/members"

	t.Run("add by email", func(t *testing.T) {
		rec := ta.serve(httpTest{method: http.MethodPost, path: membersPath, body: []byte(`{"user_email": "S2@test.cd"}`), token: leaderToken})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		data := decode(t, rec)
		assert.Equal(t, "Member added successfully", data["message"])
		assert.Equal(t, []interface{}{leader.ID, s2.ID}, data["group"].(map[string]interface{})["member_ids"])
	})

	runHTTPTests(t, ta, []httpTest{
		{name: "user required", method: http.MethodPost, path: membersPath, body: []byte(`{}`), token: leaderToken, wantCode: http.StatusBadRequest},
		{
			name: "already a member", method: http.MethodPost, path: membersPath, body: marchallObj(t, group.AddMember{UserID: s2.ID}),
			token: leaderToken, wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: "user is already a member of this group"}),
		},
		{
			name: "unknown user", method: http.MethodPost, path: membersPath, body: marchallObj(t, group.AddMember{UserID: core.NewID()}),
			token: leaderToken, wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "user not found"}),
		},
		{
			name: "not enrolled", method: http.MethodPost, path: membersPath, body: marchallObj(t, group.AddMember{UserID: outsider.ID}),
			token: leaderToken, wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "user is not enrolled in the group's course"}),
		},
		{
			name: "plain member cannot add", method: http.MethodPost, path: membersPath, body: marchallObj(t, group.AddMember{UserID: s3.ID}),
			token: getToken(t, ta.Conf, s2), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "cannot remove the leader", method: http.MethodDelete, path: membersPath + "/" + leader.ID, token: leaderToken,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "cannot remove the group leader; transfer leadership first"}),
		},
		{
			name: "remove a non member", method: http.MethodDelete, path: membersPath + "/" + s3.ID, token: leaderToken,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "user is not a member of this group"}),
		},
	})

	t.Run("transfer leadership then remove the former leader", func(t *testing.T) {
		leaderPath := "/api/groups/" + g.ID + "/leader"
		rec := ta.serve(httpTest{method: http.MethodPut, path: leaderPath, body: marchallObj(t, group.TransferLeader{NewLeaderID: s2.ID}), token: leaderToken})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		data := decode(t, rec)
		assert.Equal(t, "Group leader updated successfully", data["message"])
		assert.Equal(t, s2.ID, data["group"].(map[string]interface{})["leader_id"])

		// the former leader lost the right
		rec = ta.serve(httpTest{method: http.MethodPut, path: leaderPath, body: marchallObj(t, group.TransferLeader{NewLeaderID: leader.ID}), token: leaderToken})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = ta.serve(httpTest{method: http.MethodDelete, path: membersPath + "/" + leader.ID, token: getToken(t, ta.Conf, s2)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		data = decode(t, rec)
		assert.Equal(t, "Member removed successfully", data["message"])
		assert.Equal(t, []interface{}{s2.ID}, data["group"].(map[string]interface{})["member_ids"])
	})
}

func Test_groupApi_delete(t *testing.T) {
	ta := setup(t)
	prof := ta.Professor(t, "Prof", "prof@test.cd")
	leader := ta.Student(t, "Leader", "leader@test.cd")
	member := ta.Student(t, "Member", "member@test.cd")
	c := ta.CreateCourse(t, prof, "CS101", leader, member)
	g := ta.CreateGroup(t, leader, c, "Alpha", member)

	path := "/api/groups/" + g.ID
	runHTTPTests(t, ta, []httpTest{
		{
			name: "members cannot delete", method: http.MethodDelete, path: path, token: getToken(t, ta.Conf, member),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "leader deletes", method: http.MethodDelete, path: path, token: getToken(t, ta.Conf, leader),
			wantData: marchallObj(t, map[string]string{"message": "Group deleted successfully"}),
		},
		{
			name: "gone", path: path, token: getToken(t, ta.Conf, leader),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "group not found"}),
		},
	})
}
