package envelope

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func testEnvelope() *Envelope {
	mapName := "dust2"
	players := 14
	return &Envelope{
		UnitID:       "unit-1",
		KeyVersion:   1,
		EventID:      "evt-abc",
		ReportedAt:   time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Status:       StatusOnline,
		MapName:      &mapName,
		PlayerCount:  &players,
		AgentVersion: "1.2.0",
	}
}

func TestCanonicalBytes(t *testing.T) {
	env := testEnvelope()

	want := `{"agent_version":"1.2.0","event_id":"evt-abc","key_version":1,` +
		`"map_name":"dust2","player_count":14,"reported_at":"2026-03-14T09:26:53Z",` +
		`"status":"online","unit_id":"unit-1"}`
	assert.Equal(t, want, string(env.CanonicalBytes()))

	// Same envelope always produces the same bytes
	assert.Equal(t, env.CanonicalBytes(), env.CanonicalBytes())
}

func TestCanonicalBytesExplicitNulls(t *testing.T) {
	env := testEnvelope()
	env.MapName = nil
	env.PlayerCount = nil

	canonical := string(env.CanonicalBytes())
	assert.Contains(t, canonical, `"map_name":null`)
	assert.Contains(t, canonical, `"player_count":null`)
}

func TestCanonicalBytesNormalizesTimezone(t *testing.T) {
	env := testEnvelope()
	loc := time.FixedZone("UTC+2", 2*60*60)

	other := testEnvelope()
	other.ReportedAt = env.ReportedAt.In(loc)

	assert.Equal(t, env.CanonicalBytes(), other.CanonicalBytes())
}

func TestSignAndVerify(t *testing.T) {
	pub, priv := testKeys(t)

	env := testEnvelope()
	env.Signature = env.Sign(priv)

	assert.True(t, env.Verify(pub))
}

func TestVerifyRejectsTampering(t *testing.T) {
	pub, priv := testKeys(t)

	tests := []struct {
		name   string
		mutate func(*Envelope)
	}{
		{"status changed", func(e *Envelope) { e.Status = StatusOffline }},
		{"player count changed", func(e *Envelope) { n := 99; e.PlayerCount = &n }},
		{"player count cleared", func(e *Envelope) { e.PlayerCount = nil }},
		{"unit id changed", func(e *Envelope) { e.UnitID = "unit-2" }},
		{"key version changed", func(e *Envelope) { e.KeyVersion = 2 }},
		{"timestamp shifted", func(e *Envelope) { e.ReportedAt = e.ReportedAt.Add(time.Second) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testEnvelope()
			env.Signature = env.Sign(priv)
			tt.mutate(env)
			assert.False(t, env.Verify(pub))
		})
	}
}

func TestVerifyMalformedInput(t *testing.T) {
	pub, priv := testKeys(t)

	env := testEnvelope()
	env.Signature = env.Sign(priv)

	t.Run("truncated public key", func(t *testing.T) {
		assert.False(t, env.Verify(pub[:16]))
	})

	t.Run("signature not hex", func(t *testing.T) {
		bad := testEnvelope()
		bad.Signature = "zznothex"
		assert.False(t, bad.Verify(pub))
	})

	t.Run("signature wrong length", func(t *testing.T) {
		bad := testEnvelope()
		bad.Signature = hex.EncodeToString([]byte("short"))
		assert.False(t, bad.Verify(pub))
	})

	t.Run("empty signature", func(t *testing.T) {
		bad := testEnvelope()
		assert.False(t, bad.Verify(pub))
	})

	t.Run("wrong key", func(t *testing.T) {
		otherPub, _ := testKeys(t)
		assert.False(t, env.Verify(otherPub))
	})
}

func TestParsePublicKey(t *testing.T) {
	pub, _ := testKeys(t)

	parsed, err := ParsePublicKey(hex.EncodeToString(pub))
	require.NoError(t, err)
	assert.Equal(t, pub, parsed)

	_, err = ParsePublicKey("nothex")
	assert.Error(t, err)

	_, err = ParsePublicKey(hex.EncodeToString(pub[:8]))
	assert.ErrorContains(t, err, "wrong length")
}

func TestValidStatus(t *testing.T) {
	assert.True(t, ValidStatus(StatusOnline))
	assert.True(t, ValidStatus(StatusOffline))
	assert.True(t, ValidStatus(StatusUnknown))
	assert.False(t, ValidStatus(""))
	assert.False(t, ValidStatus("ONLINE"))
	assert.False(t, ValidStatus("degraded"))
}
