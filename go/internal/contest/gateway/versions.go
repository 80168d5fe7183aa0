package gateway

import (
	"context"
	"database/sql"
	"fmt"
)

// DBVersionSource derives an opaque version per collection from row counts
// and the newest modification timestamp. Cheap enough to run on every poll
// tick.
type DBVersionSource struct {
	db *sql.DB
}

func NewDBVersionSource(db *sql.DB) *DBVersionSource {
	return &DBVersionSource{db: db}
}

var collectionVersionQueries = map[string]string{
	CollectionEvent:       `SELECT COUNT(*), MAX(updated_at) FROM events`,
	CollectionPhases:      `SELECT COUNT(*), MAX(updated_at) FROM phases`,
	CollectionQuests:      `SELECT COUNT(*), MAX(updated_at) FROM quests`,
	CollectionSubmissions: `SELECT COUNT(*), MAX(updated_at) FROM submissions`,
	CollectionEvaluations: `SELECT COUNT(*), MAX(updated_at) FROM evaluations`,
	// Standings derive from evaluated submissions and penalty rows;
	// penalties are immutable so created_at suffices.
	CollectionStandings: `
		SELECT COUNT(*), MAX(ts) FROM (
			SELECT updated_at AS ts FROM submissions
			UNION ALL
			SELECT created_at AS ts FROM penalties
		) changes`,
}

func (v *DBVersionSource) Version(ctx context.Context, collection string) (string, error) {
	query, ok := collectionVersionQueries[collection]
	if !ok {
		return "", fmt.Errorf("unknown collection %q", collection)
	}

	var count int
	var latest sql.NullTime
	if err := v.db.QueryRowContext(ctx, query).Scan(&count, &latest); err != nil {
		return "", fmt.Errorf("failed to fetch %s version: %w", collection, err)
	}
	if !latest.Valid {
		return fmt.Sprintf("%d:0", count), nil
	}
	return fmt.Sprintf("%d:%d", count, latest.Time.UTC().UnixNano()), nil
}
