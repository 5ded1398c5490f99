package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/course"
	"github.com/trezcool/coursehub/core/group"
)

const groupColumns = "id, name, course_id, leader_id, created_by, created_at, updated_at"

type groupRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	CourseID  string    `db:"course_id"`
	LeaderID  string    `db:"leader_id"`
	CreatedBy string    `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func toGroupRow(g group.Group) groupRow {
	return groupRow{
		ID:        g.ID,
		Name:      g.Name,
		CourseID:  g.CourseID,
		LeaderID:  g.LeaderID,
		CreatedBy: g.CreatedBy,
		CreatedAt: g.CreatedAt.UTC(),
		UpdatedAt: g.UpdatedAt.UTC(),
	}
}

func (r groupRow) toGroup(memberIDs []string) group.Group {
	if memberIDs == nil {
		memberIDs = []string{}
	}
	return group.Group{
		ID:        r.ID,
		Name:      r.Name,
		CourseID:  r.CourseID,
		LeaderID:  r.LeaderID,
		MemberIDs: memberIDs,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type groupRepository struct {
	db *sqlx.DB
}

var _ group.Repository = (*groupRepository)(nil) // interface compliance check

func NewGroupRepository(db *sqlx.DB) group.Repository {
	return &groupRepository{db: db}
}

func (repo *groupRepository) memberIDs(ctx context.Context, ext sqlx.ExtContext, groupIDs []string) (map[string][]string, error) {
	var rows []struct {
		GroupID string `db:"group_id"`
		UserID  string `db:"user_id"`
	}
	var w where
	w.in("group_id", groupIDs, len(groupIDs))
	if w.none {
		return map[string][]string{}, nil
	}
	q := "SELECT group_id, user_id FROM group_members"
	if err := selectWhere(ctx, ext, &rows, q, w, " ORDER BY joined_at, user_id"); err != nil {
		return nil, errors.Wrap(err, "selecting group members")
	}
	ids := make(map[string][]string, len(groupIDs))
	for _, r := range rows {
		ids[r.GroupID] = append(ids[r.GroupID], r.UserID)
	}
	return ids, nil
}

func (repo *groupRepository) insertMember(ctx context.Context, ext sqlx.ExtContext, groupID, userID string, joinedAt time.Time) error {
	q := "INSERT INTO group_members (group_id, user_id, joined_at) VALUES ($1, $2, $3)"
	if _, err := ext.ExecContext(ctx, q, groupID, userID, joinedAt.UTC()); err != nil {
		switch {
		case isUniqueViolation(err):
			return group.ErrAlreadyMember
		case isForeignKeyViolation(err):
			return group.ErrUserNotFound
		}
		return errors.Wrap(err, "inserting group member")
	}
	return nil
}

// CreateGroup must run in a transaction to keep the group and its members consistent.
func (repo *groupRepository) CreateGroup(ctx context.Context, g group.Group, exec ...core.DBExecutor) (group.Group, error) {
	ext := getExec(repo.db, exec)
	q := `INSERT INTO groups (` + groupColumns + `)
		VALUES (:id, :name, :course_id, :leader_id, :created_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, q, toGroupRow(g)); err != nil {
		if isForeignKeyViolation(err) {
			return group.Group{}, course.ErrNotFound
		}
		return group.Group{}, errors.Wrap(err, "inserting group")
	}
	for _, userID := range g.MemberIDs {
		if err := repo.insertMember(ctx, ext, g.ID, userID, g.CreatedAt); err != nil {
			return group.Group{}, err
		}
	}
	return toGroupRow(g).toGroup(g.MemberIDs), nil
}

func (repo *groupRepository) GetGroup(ctx context.Context, id string, exec ...core.DBExecutor) (group.Group, error) {
	ext := getExec(repo.db, exec)
	var row groupRow
	q := "SELECT " + groupColumns + " FROM groups WHERE id = $1"
	if err := sqlx.GetContext(ctx, ext, &row, q, id); err != nil {
		return group.Group{}, trapNoRowsErr(err, group.ErrNotFound, "selecting group")
	}
	members, err := repo.memberIDs(ctx, ext, []string{id})
	if err != nil {
		return group.Group{}, err
	}
	return row.toGroup(members[id]), nil
}

func (repo *groupRepository) QueryGroups(ctx context.Context, filter group.QueryFilter, exec ...core.DBExecutor) ([]group.Group, error) {
	var w where
	if filter.CourseIDs != nil {
		w.in("course_id", filter.CourseIDs, len(filter.CourseIDs))
	}
	if filter.MemberID != "" {
		w.add("id IN (SELECT group_id FROM group_members WHERE user_id = ?)", filter.MemberID)
	}
	if filter.IDs != nil {
		w.in("id", filter.IDs, len(filter.IDs))
	}
	if w.none {
		return []group.Group{}, nil
	}

	ext := getExec(repo.db, exec)
	var rows []groupRow
	if err := selectWhere(ctx, ext, &rows, "SELECT "+groupColumns+" FROM groups", w, " ORDER BY created_at, id"); err != nil {
		return nil, errors.Wrap(err, "selecting groups")
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	members, err := repo.memberIDs(ctx, ext, ids)
	if err != nil {
		return nil, err
	}
	groups := make([]group.Group, 0, len(rows))
	for _, r := range rows {
		groups = append(groups, r.toGroup(members[r.ID]))
	}
	return groups, nil
}

func (repo *groupRepository) UpdateGroup(ctx context.Context, g group.Group, exec ...core.DBExecutor) error {
	q := "UPDATE groups SET name = :name, leader_id = :leader_id, updated_at = :updated_at WHERE id = :id"
	res, err := sqlx.NamedExecContext(ctx, getExec(repo.db, exec), q, toGroupRow(g))
	if err != nil {
		return errors.Wrap(err, "updating group")
	}
	return checkAffected(res, group.ErrNotFound)
}

func (repo *groupRepository) AddGroupMember(ctx context.Context, groupID, userID string, exec ...core.DBExecutor) error {
	err := repo.insertMember(ctx, getExec(repo.db, exec), groupID, userID, time.Now().UTC())
	if errors.Is(err, group.ErrUserNotFound) {
		// either FK may fail: tell which
		if _, gErr := repo.GetGroup(ctx, groupID, exec...); gErr != nil {
			return gErr
		}
	}
	return err
}

func (repo *groupRepository) RemoveGroupMember(ctx context.Context, groupID, userID string, exec ...core.DBExecutor) error {
	q := "DELETE FROM group_members WHERE group_id = $1 AND user_id = $2"
	if _, err := getExec(repo.db, exec).ExecContext(ctx, q, groupID, userID); err != nil {
		return errors.Wrap(err, "deleting group member")
	}
	return nil
}

// DeleteGroup relies on ON DELETE CASCADE for memberships & submissions.
func (repo *groupRepository) DeleteGroup(ctx context.Context, id string, exec ...core.DBExecutor) error {
	res, err := getExec(repo.db, exec).ExecContext(ctx, "DELETE FROM groups WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting group")
	}
	return checkAffected(res, group.ErrNotFound)
}
