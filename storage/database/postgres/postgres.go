// Package pgrepos implements the domain repositories with hand-written SQL
// against PostgreSQL.
package pgrepos

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/trezcool/academia/core"
)

const uniqueViolation = "23505"

// validUUID reports whether id can be bound to a uuid column; binding an
// arbitrary string raises a pq syntax error rather than "no rows".
func validUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && string(pqErr.Code) == uniqueViolation
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}

func getExec(dflt core.DBExecutor, svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 {
		return svcExec[0]
	}
	return dflt
}
