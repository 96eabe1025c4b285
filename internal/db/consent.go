package db

import "time"

// =============================================================================
// Consent Policy Operations
// =============================================================================

// SetConsent records an explicit consent decision for a unit and data class
func (db *DB) SetConsent(unitID, dataClass string, allowed bool) error {
	query := `
		INSERT INTO consents (unit_id, data_class, allowed, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(unit_id, data_class) DO UPDATE SET
			allowed = excluded.allowed,
			updated_at = excluded.updated_at
	`

	_, err := db.Exec(query, unitID, dataClass, allowed, time.Now().UTC())
	return err
}

// ConsentAllowed answers whether a data class is currently permitted for
// a unit. Units with no row are allowed; denial is an explicit
// revocation row written by the (external) owner-facing policy surface.
func (db *DB) ConsentAllowed(unitID, dataClass string) (bool, error) {
	var allowed bool

	query := `
		SELECT allowed
		FROM consents
		WHERE unit_id = ? AND data_class = ?
	`

	err := db.QueryRow(query, unitID, dataClass).Scan(&allowed)
	if IsNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	return allowed, nil
}
