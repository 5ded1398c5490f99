// Package authz decides whether an actor may perform an action on a resource.
//
// Rules are expressed over relations rather than users: a relation is what the
// actor is to the resource at hand (the course owner, an enrolled student, the
// group leader, ...). Relations are derived from Facts, and the embedded casbin
// policy lists which relations may perform which (object, action) pairs.
package authz

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/pkg/errors"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/user"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

type (
	Relation string
	Object   string
	Action   string
)

// Relations
const (
	RelAdmin                  Relation = "admin"
	RelStudent                Relation = "student"
	RelSelf                   Relation = "self"
	RelCourseOwner            Relation = "course_owner"
	RelEnrolled               Relation = "enrolled"
	RelGroupLeader            Relation = "group_leader"
	RelGroupCreator           Relation = "group_creator"
	RelGroupMember            Relation = "group_member"
	RelSubmissionOwner        Relation = "submission_owner"
	RelPendingSubmissionOwner Relation = "pending_submission_owner"
)

// Objects
const (
	ObjUser                 Object = "user"
	ObjCourse               Object = "course"
	ObjGroup                Object = "group"
	ObjAssignment           Object = "assignment"
	ObjSubmission           Object = "submission"
	ObjIndividualSubmission Object = "individual_submission"
	ObjGroupSubmission      Object = "group_submission"
	ObjAnalytics            Object = "analytics"
)

// Actions
const (
	ActCreate           Action = "create"
	ActRead             Action = "read"
	ActList             Action = "list"
	ActUpdate           Action = "update"
	ActDelete           Action = "delete"
	ActEnroll           Action = "enroll"
	ActEnrollSelf       Action = "enroll_self"
	ActListStudents     Action = "list_students"
	ActAddMember        Action = "add_member"
	ActRemoveMember     Action = "remove_member"
	ActTransferLeader   Action = "transfer_leader"
	ActListSubmissions  Action = "list_submissions"
	ActSubmit           Action = "submit"
	ActAcknowledge      Action = "acknowledge"
	ActGrade            Action = "grade"
	ActOverview         Action = "overview"
	ActCourseAnalytics  Action = "course"
	ActStudentDashboard Action = "student_dashboard"
)

// Facts describe the actor's standing towards a resource. Unset fields are ignored.
type Facts struct {
	UserID              string   // the user resource being accessed
	CourseOwnerID       string   // professor of the course the resource belongs to
	Enrolled            bool     // actor is enrolled in that course
	GroupLeaderID       string   //
	GroupCreatorID      string   //
	GroupMemberIDs      []string //
	SubmissionStudentID string   // student owning an individual submission
	SubmissionPending   bool     //
}

// Relations derives the actor's relations from facts.
func Relations(actor user.User, facts Facts) []Relation {
	rels := make([]Relation, 0, 4)
	switch actor.Role {
	case user.RoleAdmin:
		rels = append(rels, RelAdmin)
		if facts.CourseOwnerID != "" && facts.CourseOwnerID == actor.ID {
			rels = append(rels, RelCourseOwner)
		}
	case user.RoleStudent:
		rels = append(rels, RelStudent)
		if facts.Enrolled {
			rels = append(rels, RelEnrolled)
		}
		if facts.SubmissionStudentID != "" && facts.SubmissionStudentID == actor.ID {
			rels = append(rels, RelSubmissionOwner)
			if facts.SubmissionPending {
				rels = append(rels, RelPendingSubmissionOwner)
			}
		}
	}
	if facts.UserID != "" && facts.UserID == actor.ID {
		rels = append(rels, RelSelf)
	}
	if facts.GroupLeaderID != "" && facts.GroupLeaderID == actor.ID {
		rels = append(rels, RelGroupLeader)
	}
	if facts.GroupCreatorID != "" && facts.GroupCreatorID == actor.ID {
		rels = append(rels, RelGroupCreator)
	}
	if core.ContainsString(facts.GroupMemberIDs, actor.ID) {
		rels = append(rels, RelGroupMember)
	}
	return rels
}

// Authorizer enforces the embedded policy.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewAuthorizer builds an Authorizer from the embedded model and policy.
func NewAuthorizer() (*Authorizer, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, errors.Wrap(err, "loading authorization model")
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, errors.Wrap(err, "creating enforcer")
	}
	if err = loadPolicy(enforcer, embeddedPolicy); err != nil {
		return nil, errors.Wrap(err, "loading authorization policy")
	}
	return &Authorizer{enforcer: enforcer}, nil
}

func loadPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch rule := parts[1:]; parts[0] {
		case "p":
			if len(rule) != 3 {
				return fmt.Errorf("malformed policy %q", line)
			}
			if _, err := enforcer.AddPolicy(rule[0], rule[1], rule[2]); err != nil {
				return errors.Wrapf(err, "adding policy %v", rule)
			}
		case "g":
			if len(rule) != 2 {
				return fmt.Errorf("malformed grouping policy %q", line)
			}
			if _, err := enforcer.AddGroupingPolicy(rule[0], rule[1]); err != nil {
				return errors.Wrapf(err, "adding grouping policy %v", rule)
			}
		}
	}
	return nil
}

// Allowed reports whether any of the relations may perform act on obj.
func (a *Authorizer) Allowed(obj Object, act Action, relations ...Relation) (bool, error) {
	for _, rel := range relations {
		ok, err := a.enforcer.Enforce(string(rel), string(obj), string(act))
		if err != nil {
			return false, errors.Wrap(err, "enforcing policy")
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Authorize returns core.ErrForbidden unless the actor, given facts, may perform act on obj.
func (a *Authorizer) Authorize(actor user.User, obj Object, act Action, facts Facts) error {
	ok, err := a.Allowed(obj, act, Relations(actor, facts)...)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrForbidden
	}
	return nil
}

// AuthorizeWith is Authorize, failing with denied instead of core.ErrForbidden.
func (a *Authorizer) AuthorizeWith(denied error, actor user.User, obj Object, act Action, facts Facts) error {
	if err := a.Authorize(actor, obj, act, facts); err != nil {
		if errors.Cause(err) == core.ErrForbidden {
			return denied
		}
		return err
	}
	return nil
}
