package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) emailTaken(email, exclID string) bool {
	for _, u := range repo.db.users {
		if u.Email == email && u.ID != exclID {
			return true
		}
	}
	return false
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	defer repo.db.lock(exec)()

	if repo.emailTaken(usr.Email, "") {
		return user.User{}, core.NewConflictError(user.ErrEmailExists)
	}
	repo.db.users[usr.ID] = usr
	return usr, nil
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	defer repo.db.rlock(exec)()

	if filter.ID == "" && filter.Email == "" {
		return user.User{}, user.ErrNotFound
	}
	for _, u := range repo.db.users {
		if (filter.ID == "" || u.ID == filter.ID) && (filter.Email == "" || u.Email == filter.Email) {
			return u, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) QueryUsers(
	_ context.Context,
	filter user.QueryFilter,
	orderings []core.DBOrdering,
	exec ...core.DBExecutor,
) ([]user.User, error) {
	defer repo.db.rlock(exec)()

	search := strings.ToLower(filter.Search)
	users := make([]user.User, 0)
	for _, u := range repo.db.users {
		if search != "" && !strings.Contains(strings.ToLower(u.Name), search) && !strings.Contains(u.Email, search) {
			continue
		}
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.IsActive != nil && u.IsActive != *filter.IsActive {
			continue
		}
		if filter.IDs != nil && !core.ContainsString(filter.IDs, u.ID) {
			continue
		}
		users = append(users, u)
	}

	sort.SliceStable(users, func(i, j int) bool {
		for _, ord := range orderings {
			a, b := users[i], users[j]
			switch ord.Field {
			case "name", "email":
				va, vb := a.Name, b.Name
				if ord.Field == "email" {
					va, vb = a.Email, b.Email
				}
				if va != vb {
					return (va < vb) == ord.Ascending
				}
			case "created_at":
				if !a.CreatedAt.Equal(b.CreatedAt) {
					return lessTime(a.CreatedAt, b.CreatedAt, ord.Ascending)
				}
			case "last_login":
				if !a.LastLogin.Equal(b.LastLogin) {
					return lessTime(a.LastLogin, b.LastLogin, ord.Ascending)
				}
			}
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	defer repo.db.lock(exec)()

	if _, ok := repo.db.users[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	if repo.emailTaken(usr.Email, usr.ID) {
		return user.User{}, core.NewConflictError(user.ErrEmailExists)
	}
	repo.db.users[usr.ID] = usr
	return usr, nil
}
