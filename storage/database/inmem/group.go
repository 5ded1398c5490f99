package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/course"
	"github.com/trezcool/coursehub/core/group"
)

type groupRepository struct {
	db *DB
}

var _ group.Repository = (*groupRepository)(nil) // interface compliance check

func NewGroupRepository(db *DB) group.Repository {
	return &groupRepository{db: db}
}

func (repo *groupRepository) withMembers(g group.Group) group.Group {
	g.MemberIDs = copyStrings(repo.db.members[g.ID])
	return g
}

func (repo *groupRepository) CreateGroup(_ context.Context, g group.Group, exec ...core.DBExecutor) (group.Group, error) {
	defer repo.db.lock(exec)()

	if _, ok := repo.db.courses[g.CourseID]; !ok {
		return group.Group{}, course.ErrNotFound
	}
	repo.db.members[g.ID] = copyStrings(g.MemberIDs)
	g.MemberIDs = nil
	repo.db.groups[g.ID] = g
	return repo.withMembers(g), nil
}

func (repo *groupRepository) GetGroup(_ context.Context, id string, exec ...core.DBExecutor) (group.Group, error) {
	defer repo.db.rlock(exec)()

	g, ok := repo.db.groups[id]
	if !ok {
		return group.Group{}, group.ErrNotFound
	}
	return repo.withMembers(g), nil
}

func (repo *groupRepository) QueryGroups(_ context.Context, filter group.QueryFilter, exec ...core.DBExecutor) ([]group.Group, error) {
	defer repo.db.rlock(exec)()

	groups := make([]group.Group, 0)
	for _, g := range repo.db.groups {
		g = repo.withMembers(g)
		if filter.CourseIDs != nil && !core.ContainsString(filter.CourseIDs, g.CourseID) {
			continue
		}
		if filter.MemberID != "" && !g.HasMember(filter.MemberID) {
			continue
		}
		if filter.IDs != nil && !core.ContainsString(filter.IDs, g.ID) {
			continue
		}
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if !groups[i].CreatedAt.Equal(groups[j].CreatedAt) {
			return groups[i].CreatedAt.Before(groups[j].CreatedAt)
		}
		return groups[i].ID < groups[j].ID
	})
	return groups, nil
}

func (repo *groupRepository) UpdateGroup(_ context.Context, g group.Group, exec ...core.DBExecutor) error {
	defer repo.db.lock(exec)()

	orig, ok := repo.db.groups[g.ID]
	if !ok {
		return group.ErrNotFound
	}
	orig.Name = g.Name
	orig.LeaderID = g.LeaderID
	orig.UpdatedAt = g.UpdatedAt
	repo.db.groups[g.ID] = orig
	return nil
}

func (repo *groupRepository) AddGroupMember(_ context.Context, groupID, userID string, exec ...core.DBExecutor) error {
	defer repo.db.lock(exec)()

	if _, ok := repo.db.groups[groupID]; !ok {
		return group.ErrNotFound
	}
	if core.ContainsString(repo.db.members[groupID], userID) {
		return group.ErrAlreadyMember
	}
	repo.db.members[groupID] = append(repo.db.members[groupID], userID)
	return nil
}

func (repo *groupRepository) RemoveGroupMember(_ context.Context, groupID, userID string, exec ...core.DBExecutor) error {
	defer repo.db.lock(exec)()

	members := repo.db.members[groupID]
	kept := make([]string, 0, len(members))
	for _, id := range members {
		if id != userID {
			kept = append(kept, id)
		}
	}
	repo.db.members[groupID] = kept
	return nil
}

func (repo *groupRepository) DeleteGroup(_ context.Context, id string, exec ...core.DBExecutor) error {
	defer repo.db.lock(exec)()

	if _, ok := repo.db.groups[id]; !ok {
		return group.ErrNotFound
	}
	repo.db.deleteGroup(id)
	return nil
}
