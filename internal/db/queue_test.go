package db_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsedir/beacon/internal/db"
	"github.com/pulsedir/beacon/internal/testutil"
)

// expiredTTL makes every existing claim count as already expired, so
// tests can exercise reclaim without sleeping.
const expiredTTL = -time.Second

func TestEnqueueJobCoalesces(t *testing.T) {
	database := testutil.OpenTestDB(t)
	unitID := seedTestUnit(t, database)

	first, err := database.EnqueueJob(unitID)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	// A pending job already exists, so this is a no-op
	second, err := database.EnqueueJob(unitID)
	require.NoError(t, err)
	assert.Empty(t, second)

	count, err := database.CountPendingJobs()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestClaimJobs(t *testing.T) {
	database := testutil.OpenTestDB(t)
	unitID := seedTestUnit(t, database)

	jobID, err := database.EnqueueJob(unitID)
	require.NoError(t, err)

	claimed, err := database.ClaimJobs(10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, jobID, claimed[0].ID)
	assert.Equal(t, unitID, claimed[0].UnitID)
	assert.Equal(t, 1, claimed[0].Attempts)
	assert.NotNil(t, claimed[0].ClaimedAt)

	// The claim is held, a second claimer gets nothing
	again, err := database.ClaimJobs(10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestClaimJobsWhileClaimedAllowsNewEnqueue(t *testing.T) {
	database := testutil.OpenTestDB(t)
	unitID := seedTestUnit(t, database)

	_, err := database.EnqueueJob(unitID)
	require.NoError(t, err)

	claimed, err := database.ClaimJobs(1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Claimed jobs do not block a fresh enqueue for the same unit
	newID, err := database.EnqueueJob(unitID)
	require.NoError(t, err)
	assert.NotEmpty(t, newID)
}

func TestClaimJobsReclaimsExpired(t *testing.T) {
	database := testutil.OpenTestDB(t)
	unitID := seedTestUnit(t, database)

	_, err := database.EnqueueJob(unitID)
	require.NoError(t, err)

	first, err := database.ClaimJobs(1, time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// The crashed worker's claim is past its TTL
	second, err := database.ClaimJobs(1, expiredTTL)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 2, second[0].Attempts)
}

func TestMarkJobProcessed(t *testing.T) {
	database := testutil.OpenTestDB(t)
	unitID := seedTestUnit(t, database)

	_, err := database.EnqueueJob(unitID)
	require.NoError(t, err)
	claimed, err := database.ClaimJobs(1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, database.MarkJobProcessed(claimed[0].ID))

	job, err := database.GetJob(claimed[0].ID)
	require.NoError(t, err)
	assert.NotNil(t, job.ProcessedAt)
	assert.Nil(t, job.ClaimedAt)
	assert.Nil(t, job.LastError)
	assert.False(t, job.DeadLettered())

	// Double completion is rejected
	assert.ErrorIs(t, database.MarkJobProcessed(claimed[0].ID), db.ErrNotFound)

	count, err := database.CountPendingJobs()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMarkJobFailedRetries(t *testing.T) {
	database := testutil.OpenTestDB(t)
	unitID := seedTestUnit(t, database)

	_, err := database.EnqueueJob(unitID)
	require.NoError(t, err)
	claimed, err := database.ClaimJobs(1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	deadLettered, err := database.MarkJobFailed(claimed[0].ID, errors.New("boom"), 5)
	require.NoError(t, err)
	assert.False(t, deadLettered)

	job, err := database.GetJob(claimed[0].ID)
	require.NoError(t, err)
	assert.Nil(t, job.ClaimedAt)
	assert.Nil(t, job.ProcessedAt)
	require.NotNil(t, job.LastError)
	assert.Equal(t, "boom", *job.LastError)

	// Reclaimable immediately after the claim is cleared
	again, err := database.ClaimJobs(1, time.Minute)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 2, again[0].Attempts)
}

func TestMarkJobFailedDeadLetters(t *testing.T) {
	database := testutil.OpenTestDB(t)
	unitID := seedTestUnit(t, database)

	_, err := database.EnqueueJob(unitID)
	require.NoError(t, err)
	claimed, err := database.ClaimJobs(1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Attempt budget of 1 is already spent by the claim
	deadLettered, err := database.MarkJobFailed(claimed[0].ID, errors.New("still broken"), 1)
	require.NoError(t, err)
	assert.True(t, deadLettered)

	job, err := database.GetJob(claimed[0].ID)
	require.NoError(t, err)
	assert.True(t, job.DeadLettered())
	require.NotNil(t, job.LastError)
	assert.Equal(t, "still broken", *job.LastError)

	// Dead-lettered jobs are never claimable again
	again, err := database.ClaimJobs(1, expiredTTL)
	require.NoError(t, err)
	assert.Empty(t, again)

	letters, err := database.ListDeadLetters(10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, claimed[0].ID, letters[0].ID)
}

func TestMarkJobFailedDropsSupersededJob(t *testing.T) {
	database := testutil.OpenTestDB(t)
	unitID := seedTestUnit(t, database)

	_, err := database.EnqueueJob(unitID)
	require.NoError(t, err)
	claimed, err := database.ClaimJobs(1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// A newer pending job arrives while the first is claimed
	newID, err := database.EnqueueJob(unitID)
	require.NoError(t, err)
	require.NotEmpty(t, newID)

	// Releasing the claim would collide with the pending job, so the
	// superseded row is dropped instead
	deadLettered, err := database.MarkJobFailed(claimed[0].ID, errors.New("boom"), 5)
	require.NoError(t, err)
	assert.False(t, deadLettered)

	_, err = database.GetJob(claimed[0].ID)
	assert.ErrorIs(t, err, db.ErrNotFound)

	count, err := database.CountPendingJobs()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestClaimJobsOrdersByEnqueueTime(t *testing.T) {
	database := testutil.OpenTestDB(t)
	pub, _ := testutil.GenerateKeys(t)
	testutil.SeedUnit(t, database, "cluster-1", "unit-a", pub)

	unitB := &db.ReportingUnit{ID: "unit-b", ClusterID: "cluster-1", Name: "unit-b"}
	require.NoError(t, database.CreateReportingUnit(unitB))

	firstID, err := database.EnqueueJob("unit-a")
	require.NoError(t, err)
	secondID, err := database.EnqueueJob("unit-b")
	require.NoError(t, err)

	claimed, err := database.ClaimJobs(1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, firstID, claimed[0].ID)

	claimed, err = database.ClaimJobs(1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, secondID, claimed[0].ID)
}
