package upsert

import (
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/zeebo/xxh3"
)

const stageInfix = "_stage_"

// stageSuffix returns the random part of a staging table name. Tests replace
// it to get stable names.
var stageSuffix = func() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// stageName derives a staging table name from the destination's base name.
// The base is shortened so the random suffix always survives Postgres'
// identifier length limit.
func stageName(dest pgx.Identifier) string {
	base := "upsert"
	if len(dest) > 0 {
		base = dest[len(dest)-1]
	}
	suffix := stageInfix + stageSuffix()
	return truncateIdent(base, maxIdentLen-len(suffix)) + suffix
}

// lockKey maps a destination to a pg_advisory_xact_lock key.
func lockKey(dest pgx.Identifier) int64 {
	return int64(xxh3.HashString(dest.Sanitize()))
}
