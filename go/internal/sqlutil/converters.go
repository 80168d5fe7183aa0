package sqlutil

import (
	"database/sql"
	"time"
)

// Helper functions for converting sql.Null* columns to Go pointers.
// Timestamps are always normalized to UTC on the way out of the store;
// deadline arithmetic on a timestamp read in local time drifts by the
// zone offset.

// FromSqlInt32 converts sql.NullInt32 to Go int pointer
func FromSqlInt32(val sql.NullInt32) *int {
	if !val.Valid {
		return nil
	}
	i := int(val.Int32)
	return &i
}

// FromSqlTime converts sql.NullTime to a UTC Go time pointer
func FromSqlTime(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}
