package db

import "time"

// ClusterIdentity is the keypair-holding owner of one or more reporting
// units. Exactly one active public key exists per identity per key version;
// rotating the key bumps the version and invalidates old signatures.
type ClusterIdentity struct {
	ID                string
	PublicKey         string // hex-encoded 32-byte Ed25519 public key
	KeyVersion        int
	GraceOverrideSecs *int // optional per-cluster freshness grace, seconds
	Disabled          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ReportingUnit is a single server process sending heartbeats, scoped
// under an owning cluster identity.
type ReportingUnit struct {
	ID        string
	ClusterID string
	Name      string
	CreatedAt time.Time
}

// HeartbeatEvent is an accepted, persisted report. Append-only; the pair
// (unit_id, event_id) is unique and a second insert with the same pair is
// a replay, not an error.
type HeartbeatEvent struct {
	ID           int64
	UnitID       string
	EventID      string
	ReceivedAt   time.Time // server clock
	ReportedAt   time.Time // client clock
	Status       string    // 'online', 'offline', 'unknown'
	MapName      *string
	PlayerCount  *int
	AgentVersion string
	Diagnostics  *string // opaque JSON payload, never interpreted
}

// Job is one unit of deferred work: recompute derived state for a
// reporting unit. At most one unclaimed, unprocessed job exists per unit.
type Job struct {
	ID          string
	UnitID      string
	EnqueuedAt  time.Time
	ClaimedAt   *time.Time
	ProcessedAt *time.Time
	Attempts    int
	LastError   *string
}

// DeadLettered reports whether the job reached its terminal failure
// state: processed with an error still attached.
func (j *Job) DeadLettered() bool {
	return j.ProcessedAt != nil && j.LastError != nil
}

// HealthRecord is the derived, public-facing health state for one
// reporting unit. Written only by the derive engines, one row per unit.
type HealthRecord struct {
	UnitID         string
	Status         string // 'online', 'offline', 'unknown'
	Confidence     string // 'green', 'yellow', 'red'
	UptimePct      float64
	Quality        *int // 0-100, nil when insufficient data
	Anomaly        bool
	AnomalyAt      *time.Time
	LastSeenAt     *time.Time // server-received time of newest event
	LastReportedAt *time.Time // client-reported time of newest event
	UpdatedAt      time.Time
}

// Rejection is an append-only audit row for a validation failure.
// Carries the reason code and at most the unit id; never the payload.
type Rejection struct {
	ID        string
	Reason    string
	UnitID    *string
	CreatedAt time.Time
}

// Consent is a policy row read by the consent gate. Units without a row
// for a data class are allowed; denial is an explicit revocation.
type Consent struct {
	UnitID    string
	DataClass string
	Allowed   bool
	UpdatedAt time.Time
}
