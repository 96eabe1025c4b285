package migrator

import (
	"database/sql"
	"fmt"
	"strings"
)

// RunMigrations applies all pending migrations from the specified directory.
// Migrations apply strictly in version order; applying a version lower than
// the highest already-applied version is an error.
func RunMigrations(db *sql.DB, migrationsDir string) error {
	// Detect driver
	driver := detectDriver(db)

	// Create schema_migrations table if not exists
	if err := createSchemaTable(db); err != nil {
		return fmt.Errorf("failed to create schema table: %w", err)
	}

	// Acquire lock
	if err := acquireLock(db, driver); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer releaseLock(db, driver)

	// Load all migrations
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	// Get already applied migrations
	applied, err := GetAppliedMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	appliedSet := make(map[int]bool)
	maxApplied := 0
	for _, v := range applied {
		appliedSet[v] = true
		if v > maxApplied {
			maxApplied = v
		}
	}

	// Apply each pending migration in order
	for _, migration := range migrations {
		if appliedSet[migration.Version] {
			continue
		}

		if migration.Version < maxApplied {
			return fmt.Errorf("cannot apply migration %d: version %d is already applied (migrations must be applied in order)", migration.Version, maxApplied)
		}

		if err := applyMigration(db, driver, migration); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}

		maxApplied = migration.Version
	}

	return nil
}

// GetCurrentVersion returns the highest applied migration version.
// Returns 0 if no migrations have been applied.
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	query := "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"

	err := db.QueryRow(query).Scan(&version)
	if err != nil {
		// If table doesn't exist, return 0
		if isMissingTableErr(err) {
			return 0, nil
		}
		return 0, err
	}

	return version, nil
}

// GetAppliedMigrations returns a slice of all applied migration versions, sorted.
func GetAppliedMigrations(db *sql.DB) ([]int, error) {
	query := "SELECT version FROM schema_migrations ORDER BY version"

	rows, err := db.Query(query)
	if err != nil {
		// If table doesn't exist, return empty slice
		if isMissingTableErr(err) {
			return []int{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return versions, nil
}

func isMissingTableErr(err error) bool {
	return strings.Contains(err.Error(), "no such table") ||
		strings.Contains(err.Error(), "does not exist")
}

// createSchemaTable creates the schema_migrations table if it doesn't exist.
func createSchemaTable(db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	_, err := db.Exec(query)
	return err
}

// applyMigration executes a single migration and records it in schema_migrations.
func applyMigration(db *sql.DB, driver string, migration Migration) error {
	if migration.NoTransaction {
		// Execute without transaction
		if _, err := db.Exec(migration.UpSQL); err != nil {
			return fmt.Errorf("failed to execute SQL: %w", err)
		}

		// Record migration
		recordQuery := "INSERT INTO schema_migrations (version) VALUES (" + placeholder(driver, 1) + ")"
		if _, err := db.Exec(recordQuery, migration.Version); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}

		return nil
	}

	// Execute in transaction
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Execute migration SQL
	if _, err := tx.Exec(migration.UpSQL); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to execute SQL: %w", err)
	}

	// Record migration
	recordQuery := "INSERT INTO schema_migrations (version) VALUES (" + placeholder(driver, 1) + ")"
	if _, err := tx.Exec(recordQuery, migration.Version); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration: %w", err)
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// placeholder returns the appropriate SQL placeholder for the given driver.
func placeholder(driver string, n int) string {
	switch driver {
	case "postgres", "postgresql":
		return fmt.Sprintf("$%d", n)
	default:
		return "?"
	}
}

// acquireLock acquires a database-specific advisory lock.
func acquireLock(db *sql.DB, driver string) error {
	switch driver {
	case "postgres", "postgresql":
		_, err := db.Exec("SELECT pg_advisory_lock(981273645)")
		return err
	default:
		// SQLite uses automatic file-level locking
		return nil
	}
}

// releaseLock releases the database-specific advisory lock.
func releaseLock(db *sql.DB, driver string) error {
	switch driver {
	case "postgres", "postgresql":
		_, err := db.Exec("SELECT pg_advisory_unlock(981273645)")
		return err
	default:
		return nil
	}
}

// detectDriver attempts to detect the database driver being used.
// This is a best-effort heuristic since sql.DB doesn't expose the driver name.
func detectDriver(db *sql.DB) string {
	// Try SQLite-specific query
	var result string
	err := db.QueryRow("SELECT sqlite_version()").Scan(&result)
	if err == nil {
		return "sqlite3"
	}

	// Try PostgreSQL-specific query
	err = db.QueryRow("SELECT version()").Scan(&result)
	if err == nil && strings.Contains(strings.ToLower(result), "postgresql") {
		return "postgres"
	}

	// Default to SQLite (most common for tests)
	return "sqlite3"
}
