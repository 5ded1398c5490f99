package group

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/coursehub/core"
)

// Group is a course-scoped team. Its leader is always one of its members.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CourseID  string    `json:"course_id"`
	LeaderID  string    `json:"leader_id"`
	MemberIDs []string  `json:"member_ids"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func (g Group) HasMember(userID string) bool { return core.ContainsString(g.MemberIDs, userID) }

func (g Group) IsLeader(userID string) bool { return g.LeaderID == userID }

func (g Group) checkInvariant() error {
	if g.LeaderID == "" || !g.HasMember(g.LeaderID) {
		return errLeaderNotMember
	}
	return nil
}

func (g *Group) removeMember(userID string) {
	members := make([]string, 0, len(g.MemberIDs))
	for _, id := range g.MemberIDs {
		if id != userID {
			members = append(members, id)
		}
	}
	g.MemberIDs = members
}

// NewGroup contains information needed to create a new Group.
// When a student creates the group they lead it; when the course owner does, the first member leads it.
type NewGroup struct {
	Name      string   `json:"name" validate:"required,max=255"`
	CourseID  string   `json:"course_id" validate:"required,uuid"`
	MemberIDs []string `json:"member_ids" validate:"dive,uuid"`
}

func (ng *NewGroup) Validate(validate *validator.Validate) error {
	ng.Name = core.CleanString(ng.Name)
	ng.CourseID = core.CleanString(ng.CourseID, true /* lower */)
	ng.MemberIDs = uniqueIDs(ng.MemberIDs)
	return validate.Struct(ng)
}

// AddMember names the user to add, by ID or by email.
type AddMember struct {
	UserID    string `json:"user_id" validate:"required_without=UserEmail,omitempty,uuid"`
	UserEmail string `json:"user_email" validate:"required_without=UserID,omitempty,email"`
}

func (am *AddMember) Validate(validate *validator.Validate) error {
	am.UserID = core.CleanString(am.UserID, true /* lower */)
	am.UserEmail = core.CleanString(am.UserEmail, true /* lower */)
	return validate.Struct(am)
}

type TransferLeader struct {
	NewLeaderID string `json:"new_leader_id" validate:"required,uuid"`
}

func (tl *TransferLeader) Validate(validate *validator.Validate) error {
	tl.NewLeaderID = core.CleanString(tl.NewLeaderID, true /* lower */)
	return validate.Struct(tl)
}

// QueryFilter applies AND operation on its set fields.
type QueryFilter struct {
	CourseIDs []string
	MemberID  string
	IDs       []string
}

func uniqueIDs(ids []string) []string {
	uniq := make([]string, 0, len(ids))
	for _, id := range ids {
		id = core.CleanString(id, true /* lower */)
		if id != "" && !core.ContainsString(uniq, id) {
			uniq = append(uniq, id)
		}
	}
	return uniq
}
