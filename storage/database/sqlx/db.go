package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/coursehub/core"
)

// postgres error codes
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// getExec returns the transaction passed down by the service, or db.
func getExec(db *sqlx.DB, svcExec []core.DBExecutor) sqlx.ExtContext {
	if len(svcExec) > 0 {
		if tx, ok := svcExec[0].(*sqlx.Tx); ok {
			return tx
		}
	}
	return db
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isUniqueViolation(err error) bool { return pqCode(err) == uniqueViolation }

func isForeignKeyViolation(err error) bool { return pqCode(err) == foreignKeyViolation }

// trapNoRowsErr maps the "no rows" error to notFound.
func trapNoRowsErr(err, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// checkAffected returns notFound if res affected no rows.
func checkAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading affected rows")
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// where builds a WHERE clause with `?` bindvars, expanded by sqlx.In and rebound per driver.
type where struct {
	clauses []string
	args    []interface{}
	none    bool // an IN list is empty: nothing can match
}

func (w *where) add(clause string, args ...interface{}) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

// in adds `column IN (values)`. values must be a slice of n elements.
func (w *where) in(column string, values interface{}, n int) {
	if n == 0 {
		w.none = true
		return
	}
	w.add(column+" IN (?)", values)
}

func (w where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// selectWhere runs `query + w + suffix` into dest.
func selectWhere(ctx context.Context, ext sqlx.ExtContext, dest interface{}, query string, w where, suffix string) error {
	q, args, err := sqlx.In(query+w.String()+suffix, w.args...)
	if err != nil {
		return errors.Wrap(err, "expanding query")
	}
	return sqlx.SelectContext(ctx, ext, dest, ext.Rebind(q), args...)
}

// orderBy returns the ORDER BY clause of the allowed orderings, nulls last.
func orderBy(orderings []core.DBOrdering, allowed []string, tieBreaker string) string {
	orderings = core.CleanOrderings(orderings, allowed...)
	parts := make([]string, 0, len(orderings)+1)
	for _, ord := range orderings {
		parts = append(parts, ord.String()+" NULLS LAST")
	}
	parts = append(parts, tieBreaker)
	return " ORDER BY " + strings.Join(parts, ", ")
}
