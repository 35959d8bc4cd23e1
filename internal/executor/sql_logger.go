package executor

import (
	"context"
	"log/slog"

	"github.com/printshop-ops/rlsctl/internal/logger"
)

// execWithLogging executes SQL with debug logging if debug mode is enabled.
// It logs the SQL statement before execution and the result/error after execution.
func execWithLogging(ctx context.Context, log *slog.Logger, db Execer, sqlStmt string, description string) error {
	isDebug := logger.IsDebug()
	if isDebug {
		log.Debug("Executing SQL", "description", description, "sql", sqlStmt)
	}

	_, err := db.ExecContext(ctx, sqlStmt)

	if isDebug {
		if err != nil {
			log.Debug("SQL execution failed", "description", description, "sqlstate", SQLState(err), "error", err)
		} else {
			log.Debug("SQL execution succeeded", "description", description)
		}
	}
	return err
}
