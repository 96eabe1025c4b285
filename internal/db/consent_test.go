package db_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsedir/beacon/internal/testutil"
)

func TestConsentDefaultsToAllowed(t *testing.T) {
	database := testutil.OpenTestDB(t)

	// No row means no revocation
	allowed, err := database.ConsentAllowed("unit-1", "heartbeat")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestConsentRevocationAndRestore(t *testing.T) {
	database := testutil.OpenTestDB(t)

	require.NoError(t, database.SetConsent("unit-1", "heartbeat", false))

	allowed, err := database.ConsentAllowed("unit-1", "heartbeat")
	require.NoError(t, err)
	assert.False(t, allowed)

	// Other data classes are unaffected
	allowed, err = database.ConsentAllowed("unit-1", "diagnostics")
	require.NoError(t, err)
	assert.True(t, allowed)

	require.NoError(t, database.SetConsent("unit-1", "heartbeat", true))
	allowed, err = database.ConsentAllowed("unit-1", "heartbeat")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestInsertAndListRejections(t *testing.T) {
	database := testutil.OpenTestDB(t)

	unitID := "unit-1"
	require.NoError(t, database.InsertRejection("invalid_signature", &unitID))
	require.NoError(t, database.InsertRejection("malformed_envelope", nil))

	rejections, err := database.ListRejections(10)
	require.NoError(t, err)
	require.Len(t, rejections, 2)

	reasons := []string{rejections[0].Reason, rejections[1].Reason}
	assert.Contains(t, reasons, "invalid_signature")
	assert.Contains(t, reasons, "malformed_envelope")
}

func TestListRejectionsEmpty(t *testing.T) {
	database := testutil.OpenTestDB(t)

	rejections, err := database.ListRejections(10)
	require.NoError(t, err)
	assert.NotNil(t, rejections)
	assert.Empty(t, rejections)
}
