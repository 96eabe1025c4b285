package ingest

import "net/http"

// Reason is the closed set of rejection reason codes. Every validation
// failure maps to exactly one reason, and every reason maps to exactly
// one HTTP response class; string matching never decides behavior.
type Reason string

const (
	ReasonMalformedEnvelope       Reason = "malformed_envelope"
	ReasonRateLimited             Reason = "rate_limited"
	ReasonServerNotFound          Reason = "server_not_found"
	ReasonClusterMissingPublicKey Reason = "cluster_missing_public_key"
	ReasonKeyVersionMismatch      Reason = "key_version_mismatch"
	ReasonInvalidSignature        Reason = "invalid_signature"
	ReasonStaleTimestamp          Reason = "stale_timestamp"
	ReasonClockSkewViolation      Reason = "clock_skew_violation"
	ReasonAgentVersionTooOld      Reason = "agent_version_too_old"
	ReasonConsentDenied           Reason = "consent_denied"
)

// HTTPStatus returns the response code for a rejection reason. The
// mapping lets a well-behaved client distinguish "fix your key" (401/409)
// from "stop sending, upgrade" (426) from "try again later" (429).
func (r Reason) HTTPStatus() int {
	switch r {
	case ReasonMalformedEnvelope:
		return http.StatusBadRequest
	case ReasonRateLimited:
		return http.StatusTooManyRequests
	case ReasonServerNotFound:
		return http.StatusNotFound
	case ReasonClusterMissingPublicKey:
		return http.StatusUnauthorized
	case ReasonKeyVersionMismatch:
		return http.StatusConflict
	case ReasonInvalidSignature:
		return http.StatusUnauthorized
	case ReasonStaleTimestamp:
		return http.StatusBadRequest
	case ReasonClockSkewViolation:
		return http.StatusBadRequest
	case ReasonAgentVersionTooOld:
		return http.StatusUpgradeRequired
	case ReasonConsentDenied:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

// RejectionError is the typed failure returned by Submit for every
// terminal validation failure. Infrastructure problems are returned as
// plain errors instead, so callers can tell "do not retry this payload"
// from "retry later".
type RejectionError struct {
	Reason Reason
}

func (e *RejectionError) Error() string {
	return "heartbeat rejected: " + string(e.Reason)
}
