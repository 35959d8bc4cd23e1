package executor

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/printshop-ops/rlsctl/internal/policy"
)

// SQLSTATE codes that mean the object is already in the desired state.
var alreadyExistsCodes = map[string]bool{
	"42710": true, // duplicate_object
	"42P07": true, // duplicate_table
	"42P06": true, // duplicate_schema
	"42723": true, // duplicate_function
}

// SQLSTATE codes that are harmless only when dropping.
var notFoundCodes = map[string]bool{
	"42704": true, // undefined_object
	"42P01": true, // undefined_table
}

type sqlStater interface {
	SQLState() string
}

type diagnoser interface {
	Diagnostics() (detail, hint string)
}

// SQLState extracts the five-character SQLSTATE from a driver or transport
// error. It returns "" when none is available.
func SQLState(err error) string {
	if err == nil {
		return ""
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var st sqlStater
	if errors.As(err, &st) {
		return st.SQLState()
	}
	return ""
}

// Classify maps a statement error to an outcome status using SQLSTATE only.
func Classify(kind policy.Kind, err error) Status {
	if err == nil {
		return StatusApplied
	}
	code := SQLState(err)
	if alreadyExistsCodes[code] {
		return StatusAlreadyApplied
	}
	if kind == policy.KindDropPolicy && notFoundCodes[code] {
		return StatusAlreadyApplied
	}
	return StatusFailed
}

// describe pulls message, detail and hint out of err.
func describe(err error) (msg, detail, hint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Message, pgErr.Detail, pgErr.Hint
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Message, pqErr.Detail, pqErr.Hint
	}
	var d diagnoser
	if errors.As(err, &d) {
		detail, hint = d.Diagnostics()
	}
	return err.Error(), detail, hint
}
