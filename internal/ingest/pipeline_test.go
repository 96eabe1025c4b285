package ingest

import (
	"crypto/ed25519"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsedir/beacon/internal/db"
	"github.com/pulsedir/beacon/internal/envelope"
	"github.com/pulsedir/beacon/internal/testutil"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type pipelineFixture struct {
	pipeline *Pipeline
	database *db.DB
	priv     ed25519.PrivateKey
}

func newPipelineFixture(t *testing.T, config Config) *pipelineFixture {
	t.Helper()

	database := testutil.OpenTestDB(t)
	pub, priv := testutil.GenerateKeys(t)
	testutil.SeedUnit(t, database, "cluster-1", "unit-1", pub)

	pipeline := NewPipeline(database, &DBConsentGate{DB: database}, config, testutil.Logger())
	pipeline.now = func() time.Time { return testNow }

	return &pipelineFixture{pipeline: pipeline, database: database, priv: priv}
}

func (f *pipelineFixture) signedEnvelope(eventID string) *envelope.Envelope {
	players := 12
	env := &envelope.Envelope{
		UnitID:       "unit-1",
		KeyVersion:   1,
		EventID:      eventID,
		ReportedAt:   testNow.Add(-5 * time.Second),
		Status:       envelope.StatusOnline,
		PlayerCount:  &players,
		AgentVersion: "1.2.0",
	}
	env.Signature = env.Sign(f.priv)
	return env
}

func requireRejection(t *testing.T, err error, reason Reason) {
	t.Helper()
	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, reason, rejection.Reason)
}

func lastRejectionReason(t *testing.T, database *db.DB) string {
	t.Helper()
	rejections, err := database.ListRejections(1)
	require.NoError(t, err)
	require.NotEmpty(t, rejections)
	return rejections[0].Reason
}

func TestSubmitAccepts(t *testing.T) {
	f := newPipelineFixture(t, DefaultConfig())

	result, err := f.pipeline.Submit(f.signedEnvelope("evt-1"))
	require.NoError(t, err)
	assert.False(t, result.Duplicate)

	event, err := f.database.GetHeartbeat("unit-1", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusOnline, event.Status)
	assert.Equal(t, testNow, event.ReceivedAt.UTC())

	// A recompute job was enqueued
	pending, err := f.database.CountPendingJobs()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestSubmitReplayIsDuplicateAccept(t *testing.T) {
	f := newPipelineFixture(t, DefaultConfig())

	env := f.signedEnvelope("evt-1")
	_, err := f.pipeline.Submit(env)
	require.NoError(t, err)

	result, err := f.pipeline.Submit(env)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)

	count, err := f.database.CountHeartbeats("unit-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The replay did not enqueue a second job
	pending, err := f.database.CountPendingJobs()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestSubmitMalformed(t *testing.T) {
	f := newPipelineFixture(t, DefaultConfig())

	tests := []struct {
		name   string
		mutate func(*envelope.Envelope)
	}{
		{"missing unit id", func(e *envelope.Envelope) { e.UnitID = "" }},
		{"missing event id", func(e *envelope.Envelope) { e.EventID = "" }},
		{"invalid status", func(e *envelope.Envelope) { e.Status = "degraded" }},
		{"missing agent version", func(e *envelope.Envelope) { e.AgentVersion = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := f.signedEnvelope("evt-bad")
			tt.mutate(env)
			_, err := f.pipeline.Submit(env)
			requireRejection(t, err, ReasonMalformedEnvelope)
		})
	}
}

func TestSubmitUnknownUnit(t *testing.T) {
	f := newPipelineFixture(t, DefaultConfig())

	env := f.signedEnvelope("evt-1")
	env.UnitID = "unit-unknown"
	env.Signature = env.Sign(f.priv)

	_, err := f.pipeline.Submit(env)
	requireRejection(t, err, ReasonServerNotFound)
	assert.Equal(t, string(ReasonServerNotFound), lastRejectionReason(t, f.database))
}

func TestSubmitDisabledIdentity(t *testing.T) {
	f := newPipelineFixture(t, DefaultConfig())
	require.NoError(t, f.database.SetClusterDisabled("cluster-1", true))

	_, err := f.pipeline.Submit(f.signedEnvelope("evt-1"))
	requireRejection(t, err, ReasonClusterMissingPublicKey)
}

func TestSubmitKeyVersionMismatchAfterRotation(t *testing.T) {
	f := newPipelineFixture(t, DefaultConfig())

	newPub, _ := testutil.GenerateKeys(t)
	_, err := f.database.RotateClusterKey("cluster-1", newPub)
	require.NoError(t, err)

	// The agent still signs under version 1 with the old key
	_, err = f.pipeline.Submit(f.signedEnvelope("evt-1"))
	requireRejection(t, err, ReasonKeyVersionMismatch)
}

func TestSubmitInvalidSignature(t *testing.T) {
	f := newPipelineFixture(t, DefaultConfig())

	// Tampered after signing
	env := f.signedEnvelope("evt-1")
	players := 9999
	env.PlayerCount = &players

	_, err := f.pipeline.Submit(env)
	requireRejection(t, err, ReasonInvalidSignature)

	// The event was never persisted
	_, err = f.database.GetHeartbeat("unit-1", "evt-1")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestSubmitStaleTimestamp(t *testing.T) {
	f := newPipelineFixture(t, DefaultConfig())

	env := f.signedEnvelope("evt-1")
	env.ReportedAt = testNow.Add(-time.Hour)
	env.Signature = env.Sign(f.priv)

	_, err := f.pipeline.Submit(env)
	requireRejection(t, err, ReasonStaleTimestamp)
}

func TestSubmitGraceOverrideAcceptsStale(t *testing.T) {
	f := newPipelineFixture(t, DefaultConfig())

	// The cluster is allowed two hours of lag
	grace := 2 * 60 * 60
	_, err := f.database.Exec(
		`UPDATE cluster_identities SET grace_override_secs = ? WHERE id = ?`, grace, "cluster-1")
	require.NoError(t, err)

	env := f.signedEnvelope("evt-1")
	env.ReportedAt = testNow.Add(-time.Hour)
	env.Signature = env.Sign(f.priv)

	_, err = f.pipeline.Submit(env)
	require.NoError(t, err)
}

func TestSubmitClockSkew(t *testing.T) {
	f := newPipelineFixture(t, DefaultConfig())

	env := f.signedEnvelope("evt-1")
	env.ReportedAt = testNow.Add(5 * time.Minute)
	env.Signature = env.Sign(f.priv)

	_, err := f.pipeline.Submit(env)
	requireRejection(t, err, ReasonClockSkewViolation)
}

func TestSubmitAgentVersionFloor(t *testing.T) {
	config := DefaultConfig()
	config.MinAgentVersion = "1.2.0"
	f := newPipelineFixture(t, config)

	env := f.signedEnvelope("evt-1")
	env.AgentVersion = "1.1.9"
	env.Signature = env.Sign(f.priv)

	_, err := f.pipeline.Submit(env)
	requireRejection(t, err, ReasonAgentVersionTooOld)

	// Blocked before persistence: no event, no job
	count, err := f.database.CountHeartbeats("unit-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	pending, err := f.database.CountPendingJobs()
	require.NoError(t, err)
	assert.Equal(t, 0, pending)

	// Exactly the floor passes
	_, err = f.pipeline.Submit(f.signedEnvelope("evt-2"))
	require.NoError(t, err)
}

func TestSubmitConsentDenied(t *testing.T) {
	f := newPipelineFixture(t, DefaultConfig())
	require.NoError(t, f.database.SetConsent("unit-1", DataClassHeartbeat, false))

	_, err := f.pipeline.Submit(f.signedEnvelope("evt-1"))
	requireRejection(t, err, ReasonConsentDenied)
}

func TestSubmitRateLimited(t *testing.T) {
	config := DefaultConfig()
	config.RateLimitPerMinute = 2
	f := newPipelineFixture(t, config)

	_, err := f.pipeline.Submit(f.signedEnvelope("evt-1"))
	require.NoError(t, err)
	_, err = f.pipeline.Submit(f.signedEnvelope("evt-2"))
	require.NoError(t, err)

	_, err = f.pipeline.Submit(f.signedEnvelope("evt-3"))
	requireRejection(t, err, ReasonRateLimited)
}

func TestSubmitPersistsDiagnostics(t *testing.T) {
	f := newPipelineFixture(t, DefaultConfig())

	env := f.signedEnvelope("evt-1")
	env.Diagnostics = json.RawMessage(`{"cpu_pct":42.5}`)
	// Diagnostics are outside the signed fields, no re-sign needed

	_, err := f.pipeline.Submit(env)
	require.NoError(t, err)

	event, err := f.database.GetHeartbeat("unit-1", "evt-1")
	require.NoError(t, err)
	require.NotNil(t, event.Diagnostics)
	assert.JSONEq(t, `{"cpu_pct":42.5}`, *event.Diagnostics)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.2.0", "1.2.0", 0},
		{"1.2.0", "1.2.1", -1},
		{"1.10.0", "1.9.0", 1},
		{"2.0", "2.0.0", 0},
		{"1.2", "1.2.3", -1},
		{"0.9.9", "1.0.0", -1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, compareVersions(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}
