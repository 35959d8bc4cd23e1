// Package executor runs a policy statement list against a database session
// and records one outcome per statement.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/printshop-ops/rlsctl/internal/logger"
	"github.com/printshop-ops/rlsctl/internal/policy"
)

// Execer is the subset of *sql.Conn, *sql.DB and *sql.Tx the executor needs.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Tx is an open transaction.
type Tx interface {
	Execer
	Commit() error
	Rollback() error
}

// Beginner is required for transaction mode.
type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// Session adapts a pinned *sql.Conn so it can run in either mode.
type Session struct {
	*sql.Conn
}

// Begin starts a transaction on the pinned connection.
func (s Session) Begin(ctx context.Context) (Tx, error) {
	return s.Conn.BeginTx(ctx, nil)
}

// Mode selects how statements are grouped.
type Mode string

const (
	// ModeStatement commits every statement on its own.
	ModeStatement Mode = "statement"
	// ModeTransaction wraps each table's statements in one transaction.
	ModeTransaction Mode = "transaction"
)

// ParseMode validates a mode flag value.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStatement, ModeTransaction:
		return Mode(s), nil
	case "":
		return ModeStatement, nil
	}
	return "", fmt.Errorf("invalid mode %q: must be %q or %q", s, ModeStatement, ModeTransaction)
}

// Status is the result of a single statement.
type Status string

const (
	StatusApplied        Status = "applied"
	StatusAlreadyApplied Status = "already_applied"
	StatusFailed         Status = "failed"
	StatusRolledBack     Status = "rolled_back"
)

const savepointName = "rlsctl_stmt"

// Outcome records what happened to one statement.
type Outcome struct {
	Statement policy.Statement `json:"statement"`
	Status    Status           `json:"status"`
	SQLState  string           `json:"sqlstate,omitempty"`
	Message   string           `json:"message,omitempty"`
	Detail    string           `json:"detail,omitempty"`
	Hint      string           `json:"hint,omitempty"`
	Duration  time.Duration    `json:"duration_ns"`
}

// Options configures an Executor.
type Options struct {
	Mode Mode
	// LockTimeout is applied with SET lock_timeout before the first statement.
	// Empty leaves the server default.
	LockTimeout string
	RunID       string
}

// Executor applies statements strictly in order.
type Executor struct {
	opts Options
	log  *slog.Logger
}

// New creates an Executor.
func New(opts Options) *Executor {
	if opts.Mode == "" {
		opts.Mode = ModeStatement
	}
	log := logger.Get()
	if opts.RunID != "" {
		log = logger.WithRun(opts.RunID)
	}
	return &Executor{opts: opts, log: log}
}

// Mode returns the configured mode.
func (e *Executor) Mode() Mode {
	return e.opts.Mode
}

// Run executes stmts on db. Statement failures never stop the run; they are
// recorded in the returned outcomes. The error is reserved for session-level
// problems such as a rejected lock_timeout, a transaction that cannot be
// started, or a cancelled context.
func (e *Executor) Run(ctx context.Context, db Execer, stmts []policy.Statement) ([]Outcome, error) {
	if e.opts.LockTimeout != "" {
		q := "SET lock_timeout = " + pq.QuoteLiteral(e.opts.LockTimeout)
		if err := execWithLogging(ctx, e.log, db, q, "set lock timeout"); err != nil {
			return nil, fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	switch e.opts.Mode {
	case ModeTransaction:
		beginner, ok := db.(Beginner)
		if !ok {
			return nil, fmt.Errorf("transaction mode is not supported by this connection")
		}
		return e.runTransactions(ctx, beginner, stmts)
	default:
		return e.runStatements(ctx, db, stmts)
	}
}

func (e *Executor) runStatements(ctx context.Context, db Execer, stmts []policy.Statement) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(stmts))
	for i, stmt := range stmts {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, e.execOne(ctx, db, stmt, i+1, len(stmts)))
	}
	return outcomes, nil
}

func (e *Executor) execOne(ctx context.Context, db Execer, stmt policy.Statement, n, total int) Outcome {
	start := time.Now()
	err := execWithLogging(ctx, e.log, db, stmt.SQL, fmt.Sprintf("statement %d/%d", n, total))
	out := outcomeFor(stmt, err)
	out.Duration = time.Since(start)
	e.logOutcome(out)
	return out
}

func (e *Executor) logOutcome(out Outcome) {
	attrs := []any{
		"table", out.Statement.QualifiedTable(),
		"kind", out.Statement.Kind,
		"status", out.Status,
	}
	if out.SQLState != "" {
		attrs = append(attrs, "sqlstate", out.SQLState)
	}
	switch out.Status {
	case StatusFailed:
		e.log.Warn("statement failed", append(attrs, "message", out.Message)...)
	default:
		e.log.Debug("statement finished", attrs...)
	}
}

func outcomeFor(stmt policy.Statement, err error) Outcome {
	out := Outcome{Statement: stmt, Status: Classify(stmt.Kind, err)}
	if err != nil {
		out.SQLState = SQLState(err)
		out.Message, out.Detail, out.Hint = describe(err)
	}
	return out
}

// runTransactions groups consecutive statements for the same table into one
// transaction. Each statement runs under a savepoint so that an expected
// "already exists" error leaves the transaction usable. A hard failure rolls
// back the whole group.
func (e *Executor) runTransactions(ctx context.Context, db Beginner, stmts []policy.Statement) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(stmts))
	for _, group := range groupByTable(stmts) {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		groupOutcomes, err := e.runGroup(ctx, db, group, len(outcomes), len(stmts))
		outcomes = append(outcomes, groupOutcomes...)
		if err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

func (e *Executor) runGroup(ctx context.Context, db Beginner, group []policy.Statement, offset, total int) ([]Outcome, error) {
	table := group[0].QualifiedTable()
	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for %s: %w", table, err)
	}

	outcomes := make([]Outcome, 0, len(group))
	failed := false
	for i, stmt := range group {
		if failed {
			outcomes = append(outcomes, Outcome{
				Statement: stmt,
				Status:    StatusRolledBack,
				Message:   "not executed: transaction for " + table + " was rolled back",
			})
			continue
		}

		if err := execWithLogging(ctx, e.log, tx, "SAVEPOINT "+savepointName, "savepoint"); err != nil {
			_ = tx.Rollback()
			return outcomes, fmt.Errorf("failed to create savepoint for %s: %w", table, err)
		}

		out := e.execOne(ctx, tx, stmt, offset+i+1, total)
		outcomes = append(outcomes, out)

		switch out.Status {
		case StatusFailed:
			failed = true
		case StatusAlreadyApplied:
			if err := execWithLogging(ctx, e.log, tx, "ROLLBACK TO SAVEPOINT "+savepointName, "rollback to savepoint"); err != nil {
				_ = tx.Rollback()
				return outcomes, fmt.Errorf("failed to roll back savepoint for %s: %w", table, err)
			}
		default:
			if err := execWithLogging(ctx, e.log, tx, "RELEASE SAVEPOINT "+savepointName, "release savepoint"); err != nil {
				_ = tx.Rollback()
				return outcomes, fmt.Errorf("failed to release savepoint for %s: %w", table, err)
			}
		}
	}

	if failed {
		if err := tx.Rollback(); err != nil {
			e.log.Warn("rollback failed", "table", table, "error", err)
		}
		for i := range outcomes {
			if outcomes[i].Status == StatusApplied || outcomes[i].Status == StatusAlreadyApplied {
				outcomes[i].Status = StatusRolledBack
				outcomes[i].Message = "rolled back with the rest of " + table
			}
		}
		e.log.Warn("transaction rolled back", "table", table)
		return outcomes, nil
	}

	if err := tx.Commit(); err != nil {
		for i := range outcomes {
			outcomes[i].Status = StatusRolledBack
		}
		last := &outcomes[len(outcomes)-1]
		last.Status = StatusFailed
		last.SQLState = SQLState(err)
		last.Message = "commit failed: " + err.Error()
		e.log.Warn("commit failed", "table", table, "error", err)
	}
	return outcomes, nil
}

// groupByTable splits stmts into runs of consecutive statements that target
// the same table, preserving order.
func groupByTable(stmts []policy.Statement) [][]policy.Statement {
	var groups [][]policy.Statement
	for _, s := range stmts {
		n := len(groups)
		if n > 0 && groups[n-1][0].Schema == s.Schema && groups[n-1][0].Table == s.Table {
			groups[n-1] = append(groups[n-1], s)
			continue
		}
		groups = append(groups, []policy.Statement{s})
	}
	return groups
}

// Summary counts outcomes by status.
type Summary struct {
	Total          int `json:"total"`
	Applied        int `json:"applied"`
	AlreadyApplied int `json:"already_applied"`
	Failed         int `json:"failed"`
	RolledBack     int `json:"rolled_back"`
}

// Summarize tallies outcomes.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		switch o.Status {
		case StatusApplied:
			s.Applied++
		case StatusAlreadyApplied:
			s.AlreadyApplied++
		case StatusFailed:
			s.Failed++
		case StatusRolledBack:
			s.RolledBack++
		}
	}
	return s
}

// HasFailures reports whether the run must exit non-zero. A rolled back
// statement always has a failed sibling, so Failed alone decides.
func (s Summary) HasFailures() bool {
	return s.Failed > 0
}
