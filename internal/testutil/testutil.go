// Package testutil provides shared fixtures for package tests: a
// migrated throwaway database, key generation, and seeded identities.
package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/pulsedir/beacon/internal/db"
	"github.com/pulsedir/beacon/tools/migrator"
)

// MigrationsDir returns the absolute path of the repository's migrations
// directory, located relative to this source file.
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// OpenTestDB opens a fully migrated SQLite database in a per-test temp
// directory. The file is removed with the test's temp dir; Close is
// registered as a cleanup.
func OpenTestDB(t *testing.T) *db.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "beacon_test.db")
	database, err := db.Open("sqlite3", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, migrator.RunMigrations(database.DB, MigrationsDir()))

	return database
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// GenerateKeys returns a fresh Ed25519 keypair with the public key
// hex-encoded the way identities store it.
func GenerateKeys(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return hex.EncodeToString(pub), priv
}

// SeedUnit creates a cluster identity with the given public key and one
// reporting unit under it, returning both.
func SeedUnit(t *testing.T, database *db.DB, clusterID, unitID, publicKey string) (*db.ClusterIdentity, *db.ReportingUnit) {
	t.Helper()

	identity := &db.ClusterIdentity{
		ID:         clusterID,
		PublicKey:  publicKey,
		KeyVersion: 1,
	}
	require.NoError(t, database.CreateClusterIdentity(identity))

	unit := &db.ReportingUnit{
		ID:        unitID,
		ClusterID: clusterID,
		Name:      unitID,
	}
	require.NoError(t, database.CreateReportingUnit(unit))

	return identity, unit
}
