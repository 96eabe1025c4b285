package db

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Rejection Audit Operations
// =============================================================================

// InsertRejection appends a rejection audit row. Only the reason code and
// (when known) the unit id are recorded; the envelope payload never is.
func (db *DB) InsertRejection(reason string, unitID *string) error {
	query := `
		INSERT INTO rejections (id, reason, unit_id, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := db.Exec(query, uuid.NewString(), reason, unitID, time.Now().UTC())
	return err
}

// ListRejections returns recent rejection rows, newest first
func (db *DB) ListRejections(limit int) ([]Rejection, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, reason, unit_id, created_at
		FROM rejections
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rejections []Rejection
	for rows.Next() {
		var r Rejection
		if err := rows.Scan(&r.ID, &r.Reason, &r.UnitID, &r.CreatedAt); err != nil {
			return nil, err
		}
		rejections = append(rejections, r)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	if rejections == nil {
		rejections = []Rejection{}
	}

	return rejections, nil
}
