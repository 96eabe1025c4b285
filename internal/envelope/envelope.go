// Package envelope defines the signed heartbeat message exchanged between
// reporting agents and the ingest endpoint, its canonical byte encoding,
// and Ed25519 signature creation and verification over those bytes.
package envelope

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Status values a heartbeat may report.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusUnknown = "unknown"
)

// ValidStatus reports whether s is one of the allowed status values.
func ValidStatus(s string) bool {
	return s == StatusOnline || s == StatusOffline || s == StatusUnknown
}

// Envelope is a heartbeat report as it arrives on the wire. All fields
// except Diagnostics and Signature are covered by the signature.
type Envelope struct {
	UnitID       string          `json:"unit_id"`
	KeyVersion   int             `json:"key_version"`
	EventID      string          `json:"event_id"`
	ReportedAt   time.Time       `json:"reported_at"`
	Status       string          `json:"status"`
	MapName      *string         `json:"map_name"`
	PlayerCount  *int            `json:"player_count"`
	AgentVersion string          `json:"agent_version"`
	Diagnostics  json.RawMessage `json:"diagnostics,omitempty"`
	Signature    string          `json:"signature"`
}

// CanonicalBytes returns the deterministic serialization of the signed
// fields: a JSON object with keys in fixed sorted order, no insignificant
// whitespace, explicit nulls for absent optional fields (omission and
// null must be distinguishable, so nothing is ever omitted), and the
// reported timestamp normalized to RFC3339 UTC.
func (e *Envelope) CanonicalBytes() []byte {
	var buf bytes.Buffer

	buf.WriteByte('{')

	writeStringField(&buf, "agent_version", e.AgentVersion)
	buf.WriteByte(',')

	writeStringField(&buf, "event_id", e.EventID)
	buf.WriteByte(',')

	buf.WriteString(`"key_version":`)
	buf.WriteString(strconv.Itoa(e.KeyVersion))
	buf.WriteByte(',')

	buf.WriteString(`"map_name":`)
	if e.MapName == nil {
		buf.WriteString("null")
	} else {
		writeJSONString(&buf, *e.MapName)
	}
	buf.WriteByte(',')

	buf.WriteString(`"player_count":`)
	if e.PlayerCount == nil {
		buf.WriteString("null")
	} else {
		buf.WriteString(strconv.Itoa(*e.PlayerCount))
	}
	buf.WriteByte(',')

	writeStringField(&buf, "reported_at", e.ReportedAt.UTC().Format(time.RFC3339))
	buf.WriteByte(',')

	writeStringField(&buf, "status", e.Status)
	buf.WriteByte(',')

	writeStringField(&buf, "unit_id", e.UnitID)

	buf.WriteByte('}')

	return buf.Bytes()
}

// Sign computes the hex-encoded Ed25519 signature over the canonical bytes.
func (e *Envelope) Sign(priv ed25519.PrivateKey) string {
	return hex.EncodeToString(ed25519.Sign(priv, e.CanonicalBytes()))
}

// Verify checks the envelope's signature against a public key. Malformed
// input of any kind (wrong key length, bad hex, wrong signature length)
// yields false, never a panic.
func (e *Envelope) Verify(pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}

	sig, err := hex.DecodeString(e.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(pub, e.CanonicalBytes(), sig)
}

// ParsePublicKey decodes a hex-encoded Ed25519 public key, validating
// that the decoded key is exactly the expected length.
func ParsePublicKey(hexKey string) (ed25519.PublicKey, error) {
	keyBytes, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("hex-decoding public key: %w", err)
	}

	if len(keyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has wrong length: got %d bytes, want %d", len(keyBytes), ed25519.PublicKeySize)
	}

	return ed25519.PublicKey(keyBytes), nil
}

func writeStringField(buf *bytes.Buffer, key, value string) {
	writeJSONString(buf, key)
	buf.WriteByte(':')
	writeJSONString(buf, value)
}

// writeJSONString writes s as a JSON string literal. json.Marshal on a
// string cannot fail; it is used here for correct escaping.
func writeJSONString(buf *bytes.Buffer, s string) {
	encoded, _ := json.Marshal(s)
	buf.Write(encoded)
}
