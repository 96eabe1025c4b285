package migrator

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Migration represents a database migration.
type Migration struct {
	Version       int
	Name          string
	UpSQL         string
	NoTransaction bool
}

var (
	filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_-]+)\.sql$`)
	upMarkerRegex = regexp.MustCompile(`^--\s*\+migrate\s+Up(\s+notransaction)?\s*$`)
)

// ParseMigrationFile parses a single migration file and returns a Migration struct.
func ParseMigrationFile(path string) (*Migration, error) {
	// Parse filename
	filename := filepath.Base(path)
	matches := filenameRegex.FindStringSubmatch(filename)
	if matches == nil {
		return nil, fmt.Errorf("invalid migration filename format: %s (expected NNN_name.sql)", filename)
	}

	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid version number in filename: %s", matches[1])
	}

	name := matches[2]

	// Read file content
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration file: %w", err)
	}

	lines := strings.Split(string(content), "\n")

	// Find Up marker
	upMarkerFound := false
	noTransaction := false
	upMarkerLine := -1

	for i, line := range lines {
		if upMarkerRegex.MatchString(line) {
			upMarkerFound = true
			upMarkerLine = i
			matches := upMarkerRegex.FindStringSubmatch(line)
			if len(matches) > 1 && strings.TrimSpace(matches[1]) == "notransaction" {
				noTransaction = true
			}
			break
		}
	}

	if !upMarkerFound {
		return nil, fmt.Errorf("missing '-- +migrate Up' marker in migration file: %s", filename)
	}

	// Extract SQL content
	sqlLines := lines[upMarkerLine+1:]
	sql := strings.TrimSpace(strings.Join(sqlLines, "\n"))

	if sql == "" {
		return nil, fmt.Errorf("migration file contains no SQL statements: %s", filename)
	}

	return &Migration{
		Version:       version,
		Name:          name,
		UpSQL:         sql,
		NoTransaction: noTransaction,
	}, nil
}

// LoadMigrations loads all migrations from a directory, validates them, and returns them sorted by version.
func LoadMigrations(dir string) ([]Migration, error) {
	// Read directory
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	// Parse all SQL files
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		// Only process files matching the migration pattern
		if !filenameRegex.MatchString(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		migration, err := ParseMigrationFile(path)
		if err != nil {
			return nil, err
		}

		migrations = append(migrations, *migration)
	}

	// Sort by version
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	// Validate sequence (no gaps, no duplicates)
	expectedVersion := 1
	for _, m := range migrations {
		if m.Version != expectedVersion {
			if m.Version < expectedVersion {
				return nil, fmt.Errorf("duplicate migration version: %d", m.Version)
			}
			return nil, fmt.Errorf("gap in migration versions: expected %d, found %d", expectedVersion, m.Version)
		}
		expectedVersion++
	}

	return migrations, nil
}
