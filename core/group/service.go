package group

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/authz"
	"github.com/trezcool/coursehub/core/course"
	"github.com/trezcool/coursehub/core/user"
)

var (
	// errors
	ErrNotFound       = core.NewNotFoundError(errors.New("group not found"))
	ErrUserNotFound   = core.NewNotFoundError(errors.New("user not found"))
	ErrAlreadyMember  = core.NewConflictError(errors.New("user is already a member of this group"))
	ErrNotEnrolled    = core.NewValidationError(errors.New("user is not enrolled in the group's course"))
	ErrNotAMember     = core.NewValidationError(errors.New("user is not a member of this group"))
	ErrNoMembers      = core.NewValidationError(
		errors.New("at least one member is required"),
		core.FieldError{Field: "member_ids", Error: "at least one member is required"},
	)
	ErrCannotRemoveLeader = core.NewValidationError(
		errors.New("cannot remove the group leader; transfer leadership first"),
	)

	errLeaderNotMember = errors.New("group leader must be a member")
)

type (
	Repository interface {
		// CreateGroup inserts the group with its members.
		CreateGroup(ctx context.Context, g Group, exec ...core.DBExecutor) (Group, error)
		// GetGroup returns the group with its MemberIDs.
		GetGroup(ctx context.Context, id string, exec ...core.DBExecutor) (Group, error)
		QueryGroups(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]Group, error)
		// UpdateGroup saves the group's name, leader and UpdatedAt. Members are left untouched.
		UpdateGroup(ctx context.Context, g Group, exec ...core.DBExecutor) error
		AddGroupMember(ctx context.Context, groupID, userID string, exec ...core.DBExecutor) error
		RemoveGroupMember(ctx context.Context, groupID, userID string, exec ...core.DBExecutor) error
		// DeleteGroup deletes the group with its memberships & submissions.
		DeleteGroup(ctx context.Context, id string, exec ...core.DBExecutor) error
	}

	Service interface {
		Create(ctx context.Context, actor user.User, ng NewGroup) (Group, error)
		// List returns the groups of a course, or of all the actor's courses if courseID is empty.
		List(ctx context.Context, actor user.User, courseID string) ([]Group, error)
		ListMine(ctx context.Context, actor user.User) ([]Group, error)
		Get(ctx context.Context, actor user.User, id string) (Group, error)
		// Find returns the group, without any authorization check.
		Find(ctx context.Context, id string) (Group, error)
		FindMany(ctx context.Context, filter QueryFilter) ([]Group, error)
		AddMember(ctx context.Context, actor user.User, id string, am AddMember) (Group, error)
		RemoveMember(ctx context.Context, actor user.User, id, userID string) (Group, error)
		TransferLeader(ctx context.Context, actor user.User, id string, tl TransferLeader) (Group, error)
		Delete(ctx context.Context, actor user.User, id string) error
	}

	service struct {
		tx        core.Transactor
		repo      Repository
		courseSvc course.Service
		usrSvc    user.Service
		authz     *authz.Authorizer
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(
	tx core.Transactor,
	repo Repository,
	courseSvc course.Service,
	usrSvc user.Service,
	az *authz.Authorizer,
) Service {
	return &service{
		tx:        tx,
		repo:      repo,
		courseSvc: courseSvc,
		usrSvc:    usrSvc,
		authz:     az,
	}
}

// Facts returns the actor's standing towards the group and its course.
func Facts(g Group, c course.Course, actor user.User) authz.Facts {
	facts := course.Facts(c, actor)
	facts.GroupLeaderID = g.LeaderID
	facts.GroupCreatorID = g.CreatedBy
	facts.GroupMemberIDs = g.MemberIDs
	return facts
}

func (svc *service) Create(ctx context.Context, actor user.User, ng NewGroup) (Group, error) {
	c, err := svc.courseSvc.Find(ctx, ng.CourseID)
	if err != nil {
		return Group{}, err
	}
	if err = svc.authz.Authorize(actor, authz.ObjGroup, authz.ActCreate, course.Facts(c, actor)); err != nil {
		return Group{}, err
	}

	members := uniqueIDs(ng.MemberIDs)
	var leaderID string
	if actor.IsStudent() {
		leaderID = actor.ID
		if !core.ContainsString(members, actor.ID) {
			members = append([]string{actor.ID}, members...)
		}
	} else {
		if len(members) == 0 {
			return Group{}, ErrNoMembers
		}
		leaderID = members[0]
	}
	for _, id := range members {
		if !c.HasStudent(id) {
			return Group{}, ErrNotEnrolled
		}
	}

	now := time.Now().UTC()
	g := Group{
		ID:        core.NewID(),
		Name:      ng.Name,
		CourseID:  c.ID,
		LeaderID:  leaderID,
		MemberIDs: members,
		CreatedBy: actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err = g.checkInvariant(); err != nil {
		return Group{}, err
	}

	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		g, err = svc.repo.CreateGroup(ctx, g, exec)
		return err
	})
	if err != nil {
		return Group{}, errors.Wrap(err, "creating group")
	}
	return g, nil
}

func (svc *service) List(ctx context.Context, actor user.User, courseID string) ([]Group, error) {
	if courseID != "" {
		c, err := svc.courseSvc.Find(ctx, courseID)
		if err != nil {
			return nil, err
		}
		if err = svc.authz.Authorize(actor, authz.ObjGroup, authz.ActRead, course.Facts(c, actor)); err != nil {
			return nil, err
		}
		return svc.repo.QueryGroups(ctx, QueryFilter{CourseIDs: []string{c.ID}})
	}

	courses, err := svc.courseSvc.List(ctx, actor)
	if err != nil {
		return nil, err
	}
	if len(courses) == 0 {
		return []Group{}, nil
	}
	ids := make([]string, 0, len(courses))
	for _, c := range courses {
		ids = append(ids, c.ID)
	}
	return svc.repo.QueryGroups(ctx, QueryFilter{CourseIDs: ids})
}

func (svc *service) ListMine(ctx context.Context, actor user.User) ([]Group, error) {
	return svc.repo.QueryGroups(ctx, QueryFilter{MemberID: actor.ID})
}

func (svc *service) Find(ctx context.Context, id string) (Group, error) {
	if !core.IsValidID(id) {
		return Group{}, ErrNotFound
	}
	return svc.repo.GetGroup(ctx, id)
}

func (svc *service) FindMany(ctx context.Context, filter QueryFilter) ([]Group, error) {
	return svc.repo.QueryGroups(ctx, filter)
}

// get finds the group & its course and authorizes act on it.
func (svc *service) get(ctx context.Context, actor user.User, id string, act authz.Action) (Group, course.Course, error) {
	g, err := svc.Find(ctx, id)
	if err != nil {
		return Group{}, course.Course{}, err
	}
	c, err := svc.courseSvc.Find(ctx, g.CourseID)
	if err != nil {
		return Group{}, course.Course{}, errors.Wrap(err, "finding group course")
	}
	if err = svc.authz.Authorize(actor, authz.ObjGroup, act, Facts(g, c, actor)); err != nil {
		return Group{}, course.Course{}, err
	}
	return g, c, nil
}

func (svc *service) Get(ctx context.Context, actor user.User, id string) (Group, error) {
	g, _, err := svc.get(ctx, actor, id, authz.ActRead)
	return g, err
}

func (svc *service) findTarget(ctx context.Context, am AddMember) (user.User, error) {
	var (
		usr user.User
		err error
	)
	if am.UserID != "" {
		usr, err = svc.usrSvc.GetByID(ctx, am.UserID)
	} else {
		usr, err = svc.usrSvc.GetByEmail(ctx, am.UserEmail)
	}
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return user.User{}, ErrUserNotFound
		}
		return user.User{}, errors.Wrap(err, "finding user")
	}
	return usr, nil
}

// mutate reloads the group within a transaction, authorizes act on it again, applies fn and persists the result.
func (svc *service) mutate(
	ctx context.Context,
	actor user.User,
	act authz.Action,
	c course.Course,
	id string,
	fn func(g *Group, exec core.DBExecutor) error,
) (Group, error) {
	var g Group
	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if g, err = svc.repo.GetGroup(ctx, id, exec); err != nil {
			return err
		}
		if err = svc.authz.Authorize(actor, authz.ObjGroup, act, Facts(g, c, actor)); err != nil {
			return err
		}
		if err = fn(&g, exec); err != nil {
			return err
		}
		if err = g.checkInvariant(); err != nil {
			return err
		}
		g.UpdatedAt = time.Now().UTC()
		return svc.repo.UpdateGroup(ctx, g, exec)
	})
	if err != nil {
		return Group{}, err
	}
	return g, nil
}

func (svc *service) AddMember(ctx context.Context, actor user.User, id string, am AddMember) (Group, error) {
	_, c, err := svc.get(ctx, actor, id, authz.ActAddMember)
	if err != nil {
		return Group{}, err
	}
	target, err := svc.findTarget(ctx, am)
	if err != nil {
		return Group{}, err
	}
	if !c.HasStudent(target.ID) {
		return Group{}, ErrNotEnrolled
	}

	return svc.mutate(ctx, actor, authz.ActAddMember, c, id, func(g *Group, exec core.DBExecutor) error {
		if g.HasMember(target.ID) {
			return ErrAlreadyMember
		}
		if err := svc.repo.AddGroupMember(ctx, g.ID, target.ID, exec); err != nil {
			if core.IsConflict(err) {
				return ErrAlreadyMember
			}
			return errors.Wrap(err, "adding group member")
		}
		g.MemberIDs = append(g.MemberIDs, target.ID)
		return nil
	})
}

func (svc *service) RemoveMember(ctx context.Context, actor user.User, id, userID string) (Group, error) {
	_, c, err := svc.get(ctx, actor, id, authz.ActRemoveMember)
	if err != nil {
		return Group{}, err
	}
	userID = core.CleanString(userID, true /* lower */)

	return svc.mutate(ctx, actor, authz.ActRemoveMember, c, id, func(g *Group, exec core.DBExecutor) error {
		if g.IsLeader(userID) {
			return ErrCannotRemoveLeader
		}
		if !g.HasMember(userID) {
			return ErrNotAMember
		}
		if err := svc.repo.RemoveGroupMember(ctx, g.ID, userID, exec); err != nil {
			return errors.Wrap(err, "removing group member")
		}
		g.removeMember(userID)
		return nil
	})
}

func (svc *service) TransferLeader(ctx context.Context, actor user.User, id string, tl TransferLeader) (Group, error) {
	_, c, err := svc.get(ctx, actor, id, authz.ActTransferLeader)
	if err != nil {
		return Group{}, err
	}

	return svc.mutate(ctx, actor, authz.ActTransferLeader, c, id, func(g *Group, _ core.DBExecutor) error {
		if !g.HasMember(tl.NewLeaderID) {
			return ErrNotAMember
		}
		g.LeaderID = tl.NewLeaderID
		return nil
	})
}

func (svc *service) Delete(ctx context.Context, actor user.User, id string) error {
	if _, _, err := svc.get(ctx, actor, id, authz.ActDelete); err != nil {
		return err
	}
	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		return svc.repo.DeleteGroup(ctx, id, exec)
	})
	return errors.Wrap(err, "deleting group")
}
