package session

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the commands react to.
const (
	CodeUndefinedFunction = "42883"
	CodeLockNotAvailable  = "55P03"
)

// ServerError is an error reported by PostgreSQL while running a statement.
type ServerError struct {
	Severity string
	Code     string
	Message  string
	Detail   string
	err      error
}

func (e *ServerError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Severity, e.Code, e.Message)
	if e.Detail != "" {
		msg += "\nDETAIL: " + e.Detail
	}
	return msg
}

func (e *ServerError) Unwrap() error {
	return e.err
}

// translate converts a *pgconn.PgError into a *ServerError and leaves
// other errors untouched.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &ServerError{
			Severity: pgErr.Severity,
			Code:     pgErr.Code,
			Message:  pgErr.Message,
			Detail:   pgErr.Detail,
			err:      err,
		}
	}
	return err
}

// HasCode reports whether err is a server error with the given SQLSTATE.
func HasCode(err error, code string) bool {
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr.Code == code
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
