package db

import "time"

// =============================================================================
// Heartbeat Event Operations
// =============================================================================

// InsertHeartbeat appends an accepted heartbeat event. The (unit_id,
// event_id) pair is unique; a second insert with the same pair returns
// ErrDuplicate, which the ingest pipeline treats as a replay, not a
// failure. Events are never updated or deleted by normal operation.
func (db *DB) InsertHeartbeat(event *HeartbeatEvent) error {
	query := `
		INSERT INTO heartbeat_events (unit_id, event_id, received_at, reported_at, status, map_name, player_count, agent_version, diagnostics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.Exec(query,
		event.UnitID,
		event.EventID,
		event.ReceivedAt,
		event.ReportedAt,
		event.Status,
		event.MapName,
		event.PlayerCount,
		event.AgentVersion,
		event.Diagnostics,
	)
	if err != nil {
		if IsDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}

	event.ID, err = result.LastInsertId()
	return err
}

// GetHeartbeat retrieves a single event by unit and event id
func (db *DB) GetHeartbeat(unitID, eventID string) (*HeartbeatEvent, error) {
	event := &HeartbeatEvent{}

	query := `
		SELECT id, unit_id, event_id, received_at, reported_at, status, map_name, player_count, agent_version, diagnostics
		FROM heartbeat_events
		WHERE unit_id = ? AND event_id = ?
	`

	err := db.QueryRow(query, unitID, eventID).Scan(
		&event.ID,
		&event.UnitID,
		&event.EventID,
		&event.ReceivedAt,
		&event.ReportedAt,
		&event.Status,
		&event.MapName,
		&event.PlayerCount,
		&event.AgentVersion,
		&event.Diagnostics,
	)

	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return event, nil
}

// ListHeartbeatsSince returns a unit's events received at or after the
// given time, oldest first. This is the derive engines' input window;
// engines only ever read it, so concurrent reads during processing are
// always safe.
func (db *DB) ListHeartbeatsSince(unitID string, since time.Time) ([]HeartbeatEvent, error) {
	query := `
		SELECT id, unit_id, event_id, received_at, reported_at, status, map_name, player_count, agent_version, diagnostics
		FROM heartbeat_events
		WHERE unit_id = ? AND received_at >= ?
		ORDER BY received_at ASC, id ASC
	`

	rows, err := db.Query(query, unitID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []HeartbeatEvent
	for rows.Next() {
		var event HeartbeatEvent
		err := rows.Scan(
			&event.ID,
			&event.UnitID,
			&event.EventID,
			&event.ReceivedAt,
			&event.ReportedAt,
			&event.Status,
			&event.MapName,
			&event.PlayerCount,
			&event.AgentVersion,
			&event.Diagnostics,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	// Return empty slice instead of nil
	if events == nil {
		events = []HeartbeatEvent{}
	}

	return events, nil
}

// CountHeartbeats returns the number of events stored for a unit
func (db *DB) CountHeartbeats(unitID string) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM heartbeat_events WHERE unit_id = ?`, unitID).Scan(&count)
	return count, err
}
