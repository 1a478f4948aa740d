package persistence

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// PostgresIdempotencyChecker is the cold dedup tier, backed by the event
// log itself: an action ref that already produced a lifecycle event has
// been processed.
type PostgresIdempotencyChecker struct {
	db *sql.DB
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db}
}

// IsDuplicate reports whether the ref already reached the log under the
// given scope. Creation scopes look for OrderCreated, execution scopes
// ("execute:<kind>") for OrderRemoved.
func (pic *PostgresIdempotencyChecker) IsDuplicate(scope string, ref string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	eventType := "OrderCreated"
	if strings.HasPrefix(scope, "execute:") {
		eventType = "OrderRemoved"
	}

	query := `
        SELECT 1
        FROM event_log.events
        WHERE event_type = $1 AND action_ref = $2
        LIMIT 1
    `

	var exists int
	err := pic.db.QueryRowContext(ctx, query, eventType, ref).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
