package db

import (
	"database/sql"
	"time"
)

// =============================================================================
// Cluster Identity Operations
// =============================================================================

// CreateClusterIdentity creates a new cluster identity
func (db *DB) CreateClusterIdentity(identity *ClusterIdentity) error {
	now := time.Now().UTC()
	identity.CreatedAt = now
	identity.UpdatedAt = now

	query := `
		INSERT INTO cluster_identities (id, public_key, key_version, grace_override_secs, disabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		identity.ID,
		identity.PublicKey,
		identity.KeyVersion,
		identity.GraceOverrideSecs,
		identity.Disabled,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	return err
}

// GetClusterIdentity retrieves a cluster identity by ID
func (db *DB) GetClusterIdentity(id string) (*ClusterIdentity, error) {
	identity := &ClusterIdentity{}

	query := `
		SELECT id, public_key, key_version, grace_override_secs, disabled, created_at, updated_at
		FROM cluster_identities
		WHERE id = ?
	`

	err := db.QueryRow(query, id).Scan(
		&identity.ID,
		&identity.PublicKey,
		&identity.KeyVersion,
		&identity.GraceOverrideSecs,
		&identity.Disabled,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return identity, nil
}

// RotateClusterKey replaces the active public key and bumps the key
// version in one statement. Signatures made under the old version become
// invalid the moment this commits.
func (db *DB) RotateClusterKey(id string, newPublicKey string) (int, error) {
	query := `
		UPDATE cluster_identities
		SET public_key = ?, key_version = key_version + 1, updated_at = ?
		WHERE id = ?
	`

	result, err := db.Exec(query, newPublicKey, time.Now().UTC(), id)
	if err != nil {
		return 0, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if rows == 0 {
		return 0, ErrNotFound
	}

	var version int
	err = db.QueryRow(`SELECT key_version FROM cluster_identities WHERE id = ?`, id).Scan(&version)
	if err != nil {
		return 0, err
	}

	return version, nil
}

// SetClusterDisabled soft-disables (or re-enables) a cluster identity.
// Identities are never deleted while events referencing their units exist.
func (db *DB) SetClusterDisabled(id string, disabled bool) error {
	query := `
		UPDATE cluster_identities
		SET disabled = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := db.Exec(query, disabled, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// =============================================================================
// Reporting Unit Operations
// =============================================================================

// CreateReportingUnit creates a new reporting unit under a cluster
func (db *DB) CreateReportingUnit(unit *ReportingUnit) error {
	unit.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO reporting_units (id, cluster_id, name, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := db.Exec(query, unit.ID, unit.ClusterID, unit.Name, unit.CreatedAt)
	return err
}

// GetReportingUnit retrieves a reporting unit by ID
func (db *DB) GetReportingUnit(id string) (*ReportingUnit, error) {
	unit := &ReportingUnit{}

	query := `
		SELECT id, cluster_id, name, created_at
		FROM reporting_units
		WHERE id = ?
	`

	err := db.QueryRow(query, id).Scan(
		&unit.ID,
		&unit.ClusterID,
		&unit.Name,
		&unit.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return unit, nil
}

// GetUnitWithIdentity resolves a reporting unit together with its owning
// cluster identity in one round trip. This is the identity-resolution
// step of every ingest call.
func (db *DB) GetUnitWithIdentity(unitID string) (*ReportingUnit, *ClusterIdentity, error) {
	unit := &ReportingUnit{}
	identity := &ClusterIdentity{}

	query := `
		SELECT u.id, u.cluster_id, u.name, u.created_at,
		       c.id, c.public_key, c.key_version, c.grace_override_secs, c.disabled, c.created_at, c.updated_at
		FROM reporting_units u
		JOIN cluster_identities c ON c.id = u.cluster_id
		WHERE u.id = ?
	`

	err := db.QueryRow(query, unitID).Scan(
		&unit.ID,
		&unit.ClusterID,
		&unit.Name,
		&unit.CreatedAt,
		&identity.ID,
		&identity.PublicKey,
		&identity.KeyVersion,
		&identity.GraceOverrideSecs,
		&identity.Disabled,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}

	if err != nil {
		return nil, nil, err
	}

	return unit, identity, nil
}
