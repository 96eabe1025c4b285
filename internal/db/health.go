package db

import "time"

// =============================================================================
// Derived Health Record Operations
// =============================================================================

// UpsertHealthRecord writes the full derived health record for a unit in
// one statement. The record is a value keyed by unit id; recomputing from
// the same event history always produces the same row, so replaying a job
// is harmless.
func (db *DB) UpsertHealthRecord(record *HealthRecord) error {
	record.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO health_records (unit_id, status, confidence, uptime_pct, quality, anomaly, anomaly_at, last_seen_at, last_reported_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(unit_id) DO UPDATE SET
			status = excluded.status,
			confidence = excluded.confidence,
			uptime_pct = excluded.uptime_pct,
			quality = excluded.quality,
			anomaly = excluded.anomaly,
			anomaly_at = excluded.anomaly_at,
			last_seen_at = excluded.last_seen_at,
			last_reported_at = excluded.last_reported_at,
			updated_at = excluded.updated_at
	`

	_, err := db.Exec(query,
		record.UnitID,
		record.Status,
		record.Confidence,
		record.UptimePct,
		record.Quality,
		record.Anomaly,
		record.AnomalyAt,
		record.LastSeenAt,
		record.LastReportedAt,
		record.UpdatedAt,
	)
	return err
}

// GetHealthRecord retrieves the derived health record for a unit
func (db *DB) GetHealthRecord(unitID string) (*HealthRecord, error) {
	record := &HealthRecord{}

	query := `
		SELECT unit_id, status, confidence, uptime_pct, quality, anomaly, anomaly_at, last_seen_at, last_reported_at, updated_at
		FROM health_records
		WHERE unit_id = ?
	`

	err := db.QueryRow(query, unitID).Scan(
		&record.UnitID,
		&record.Status,
		&record.Confidence,
		&record.UptimePct,
		&record.Quality,
		&record.Anomaly,
		&record.AnomalyAt,
		&record.LastSeenAt,
		&record.LastReportedAt,
		&record.UpdatedAt,
	)

	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return record, nil
}
