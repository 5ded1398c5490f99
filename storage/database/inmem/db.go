package inmemdb

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/assignment"
	"github.com/trezcool/coursehub/core/course"
	"github.com/trezcool/coursehub/core/group"
	"github.com/trezcool/coursehub/core/submission"
	"github.com/trezcool/coursehub/core/user"
)

var errNoSQL = errors.New("inmemdb: no SQL executor")

type (
	// DB is an in-memory store enforcing the same uniqueness & cascade rules as the relational schema.
	DB struct {
		mu sync.RWMutex
		tables
	}

	tables struct {
		users       map[string]user.User
		courses     map[string]course.Course         // StudentIDs are not stored here
		enrollments map[string][]course.Enrollment   // {courseID: enrollments}
		groups      map[string]group.Group           // MemberIDs are not stored here
		members     map[string][]string              // {groupID: memberIDs}
		assignments map[string]assignment.Assignment //
		submissions map[string]submission.Submission //
	}

	// txExec marks repository calls made within RunInTx, which already holds the DB lock.
	txExec struct{}
)

func Open() *DB {
	return &DB{tables: newTables()}
}

func newTables() tables {
	return tables{
		users:       make(map[string]user.User),
		courses:     make(map[string]course.Course),
		enrollments: make(map[string][]course.Enrollment),
		groups:      make(map[string]group.Group),
		members:     make(map[string][]string),
		assignments: make(map[string]assignment.Assignment),
		submissions: make(map[string]submission.Submission),
	}
}

func (t tables) clone() tables {
	c := newTables()
	for k, v := range t.users {
		c.users[k] = v
	}
	for k, v := range t.courses {
		c.courses[k] = v
	}
	for k, v := range t.enrollments {
		c.enrollments[k] = append([]course.Enrollment(nil), v...)
	}
	for k, v := range t.groups {
		c.groups[k] = v
	}
	for k, v := range t.members {
		c.members[k] = append([]string(nil), v...)
	}
	for k, v := range t.assignments {
		c.assignments[k] = v
	}
	for k, v := range t.submissions {
		c.submissions[k] = v
	}
	return c
}

// Reset empties every table.
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables = newTables()
}

func inTx(exec []core.DBExecutor) bool {
	if len(exec) == 0 {
		return false
	}
	_, ok := exec[0].(txExec)
	return ok
}

// lock write-locks the DB unless called within RunInTx, and returns the matching unlock.
func (db *DB) lock(exec []core.DBExecutor) func() {
	if inTx(exec) {
		return func() {}
	}
	db.mu.Lock()
	return db.mu.Unlock
}

func (db *DB) rlock(exec []core.DBExecutor) func() {
	if inTx(exec) {
		return func() {}
	}
	db.mu.RLock()
	return db.mu.RUnlock
}

// RunInTx serializes fn against every other DB access. Changes made by fn are discarded if it fails.
func (db *DB) RunInTx(ctx context.Context, fn func(exec core.DBExecutor) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	snapshot := db.tables.clone()
	if err := fn(txExec{}); err != nil {
		db.tables = snapshot
		return err
	}
	return nil
}

var _ core.Transactor = (*DB)(nil) // interface compliance check

func (txExec) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errNoSQL
}

func (txExec) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, errNoSQL
}

func (txExec) QueryRowContext(context.Context, string, ...interface{}) *sql.Row { return nil }

// cascade deletes

func (t tables) deleteGroup(id string) {
	delete(t.groups, id)
	delete(t.members, id)
	for sid, s := range t.submissions {
		if s.GroupID.String == id {
			delete(t.submissions, sid)
		}
	}
}

func (t tables) deleteAssignment(id string) {
	delete(t.assignments, id)
	for sid, s := range t.submissions {
		if s.AssignmentID == id {
			delete(t.submissions, sid)
		}
	}
}

func (t tables) deleteCourse(id string) {
	delete(t.courses, id)
	delete(t.enrollments, id)
	for gid, g := range t.groups {
		if g.CourseID == id {
			t.deleteGroup(gid)
		}
	}
	for aid, a := range t.assignments {
		if a.CourseID == id {
			t.deleteAssignment(aid)
		}
	}
}

func copyStrings(s []string) []string {
	return append(make([]string, 0, len(s)), s...)
}

func lessTime(a, b time.Time, asc bool) bool {
	if asc {
		return a.Before(b)
	}
	return a.After(b)
}
