package util

import (
	"context"
	"fmt"

	"github.com/printshop-ops/rlsctl/internal/catalog"
)

// MinServerVersion is the oldest supported major version. CREATE POLICY ...
// AS RESTRICTIVE arrived in PostgreSQL 10.
const MinServerVersion = 10

// DetectServerVersion queries the major version of the connected server and
// rejects servers older than MinServerVersion.
func DetectServerVersion(ctx context.Context, db catalog.Querier) (int, error) {
	// e.g. 170005 for 17.5
	var versionNum int
	if err := db.QueryRowContext(ctx, "SHOW server_version_num").Scan(&versionNum); err != nil {
		return 0, fmt.Errorf("failed to query PostgreSQL version: %w", err)
	}
	return checkServerVersion(versionNum)
}

func checkServerVersion(versionNum int) (int, error) {
	majorVersion := versionNum / 10000
	if majorVersion < MinServerVersion {
		return majorVersion, fmt.Errorf("unsupported PostgreSQL version %d (server_version_num %d): rlsctl needs %d or later",
			majorVersion, versionNum, MinServerVersion)
	}
	return majorVersion, nil
}
