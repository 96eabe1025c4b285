// Package ingest implements the heartbeat ingestion pipeline: a
// short-circuiting validation chain over signed envelopes, idempotent
// persistence of accepted events, and coalesced enqueueing of recompute
// jobs. Every terminal failure is audited as a PII-free rejection row.
package ingest

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pulsedir/beacon/internal/db"
	"github.com/pulsedir/beacon/internal/envelope"
)

// DataClassHeartbeat is the consent data class checked for every submission.
const DataClassHeartbeat = "heartbeat"

// ConsentGate answers whether a data class is currently permitted for a
// reporting unit. The policy store behind it is owned elsewhere; the
// pipeline treats it as an opaque synchronous predicate.
type ConsentGate interface {
	IsAllowed(unitID, dataClass string) (bool, error)
}

// DBConsentGate reads consent policy rows from the shared database.
type DBConsentGate struct {
	DB *db.DB
}

// IsAllowed implements ConsentGate
func (g *DBConsentGate) IsAllowed(unitID, dataClass string) (bool, error) {
	return g.DB.ConsentAllowed(unitID, dataClass)
}

// Config holds ingest pipeline settings
type Config struct {
	RateLimitPerMinute int           `toml:"rate_limit_per_minute"`
	FreshnessGrace     time.Duration `toml:"freshness_grace"`
	FutureTolerance    time.Duration `toml:"future_tolerance"`
	MinAgentVersion    string        `toml:"min_agent_version"`
}

// DefaultConfig returns ingest settings with sensible defaults
func DefaultConfig() Config {
	return Config{
		RateLimitPerMinute: 12,
		FreshnessGrace:     10 * time.Minute,
		FutureTolerance:    60 * time.Second,
		MinAgentVersion:    "",
	}
}

// Result is a successful submission outcome. Duplicate marks a replay of
// an already-accepted event id, which is a harmless no-op, not an error.
type Result struct {
	Duplicate bool
}

// Pipeline validates, persists, and enqueues heartbeat submissions
type Pipeline struct {
	db      *db.DB
	gate    ConsentGate
	limiter *rateLimiter
	config  Config
	logger  *slog.Logger

	// now is replaceable for deterministic tests
	now func() time.Time
}

// NewPipeline creates an ingest pipeline
func NewPipeline(database *db.DB, gate ConsentGate, config Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		db:      database,
		gate:    gate,
		limiter: newRateLimiter(config.RateLimitPerMinute, time.Minute),
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// Submit runs the full validation chain over one envelope. Each check
// short-circuits: the first failure is audited and returned as a
// *RejectionError. Plain errors are transient infrastructure failures
// and safe to retry (a retried accept replays as a duplicate).
//
// Order: malformed fields, rate limit, identity resolution, key version,
// signature, freshness, agent version floor (must block before persist),
// consent, persist (replay = duplicate accept), enqueue (fresh only).
func (p *Pipeline) Submit(env *envelope.Envelope) (Result, error) {
	now := p.now().UTC()

	// Structurally invalid envelopes carry no trustworthy unit id, so they
	// are audited without one.
	if env.UnitID == "" || env.EventID == "" || !envelope.ValidStatus(env.Status) || env.AgentVersion == "" {
		return Result{}, p.reject(ReasonMalformedEnvelope, nil)
	}

	unitID := env.UnitID

	// 1. Rate limit
	if !p.limiter.allow(unitID, now) {
		return Result{}, p.reject(ReasonRateLimited, &unitID)
	}

	// 2. Identity resolution
	_, identity, err := p.db.GetUnitWithIdentity(unitID)
	if db.IsNotFound(err) {
		return Result{}, p.reject(ReasonServerNotFound, &unitID)
	}
	if err != nil {
		return Result{}, fmt.Errorf("resolve unit %s: %w", unitID, err)
	}

	// A soft-disabled identity behaves exactly like one with no active key.
	if identity.Disabled || identity.PublicKey == "" {
		return Result{}, p.reject(ReasonClusterMissingPublicKey, &unitID)
	}

	// 3. Key version: a stale agent signing under a revoked key is a
	// conflict, checked before the signature so rotation is diagnosable.
	if env.KeyVersion != identity.KeyVersion {
		return Result{}, p.reject(ReasonKeyVersionMismatch, &unitID)
	}

	// 4. Signature
	pub, err := envelope.ParsePublicKey(identity.PublicKey)
	if err != nil {
		p.logger.Error("stored public key is unparseable",
			"cluster_id", identity.ID,
			"error", err)
		return Result{}, p.reject(ReasonInvalidSignature, &unitID)
	}
	if !env.Verify(pub) {
		return Result{}, p.reject(ReasonInvalidSignature, &unitID)
	}

	// 5. Freshness window
	grace := p.config.FreshnessGrace
	if identity.GraceOverrideSecs != nil {
		grace = time.Duration(*identity.GraceOverrideSecs) * time.Second
	}
	reportedAt := env.ReportedAt.UTC()
	if reportedAt.Before(now.Add(-grace)) {
		return Result{}, p.reject(ReasonStaleTimestamp, &unitID)
	}
	if reportedAt.After(now.Add(p.config.FutureTolerance)) {
		return Result{}, p.reject(ReasonClockSkewViolation, &unitID)
	}

	// 6. Agent version floor: rejected before persistence so obsolete
	// client behavior is never silently normalized into the event history.
	if p.config.MinAgentVersion != "" && compareVersions(env.AgentVersion, p.config.MinAgentVersion) < 0 {
		return Result{}, p.reject(ReasonAgentVersionTooOld, &unitID)
	}

	// 7. Consent gate
	allowed, err := p.gate.IsAllowed(unitID, DataClassHeartbeat)
	if err != nil {
		return Result{}, fmt.Errorf("consent check for unit %s: %w", unitID, err)
	}
	if !allowed {
		return Result{}, p.reject(ReasonConsentDenied, &unitID)
	}

	// 8. Persist. The single commit point: a duplicate (unit, event id)
	// pair signals a replay and is accepted without re-deriving state.
	event := &db.HeartbeatEvent{
		UnitID:       unitID,
		EventID:      env.EventID,
		ReceivedAt:   now,
		ReportedAt:   reportedAt,
		Status:       env.Status,
		MapName:      env.MapName,
		PlayerCount:  env.PlayerCount,
		AgentVersion: env.AgentVersion,
		Diagnostics:  diagnosticsString(env),
	}

	err = p.db.InsertHeartbeat(event)
	if db.IsDuplicate(err) {
		p.logger.Debug("duplicate heartbeat replayed",
			"unit_id", unitID,
			"event_id", env.EventID)
		return Result{Duplicate: true}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("persist heartbeat for unit %s: %w", unitID, err)
	}

	// 9. Enqueue a recompute job, coalesced with any pending one
	if _, err := p.db.EnqueueJob(unitID); err != nil {
		return Result{}, fmt.Errorf("enqueue recompute for unit %s: %w", unitID, err)
	}

	p.logger.Debug("heartbeat accepted",
		"unit_id", unitID,
		"event_id", env.EventID,
		"status", env.Status)

	return Result{}, nil
}

// Audit writes a rejection row for a failure detected outside Submit
// (e.g. an undecodable request body). Never includes payload data.
func (p *Pipeline) Audit(reason Reason, unitID *string) {
	if err := p.db.InsertRejection(string(reason), unitID); err != nil {
		p.logger.Error("failed to audit rejection",
			"reason", string(reason),
			"error", err)
	}
}

// reject audits the failure and wraps the reason as a typed error
func (p *Pipeline) reject(reason Reason, unitID *string) error {
	p.Audit(reason, unitID)

	attrs := []any{"reason", string(reason)}
	if unitID != nil {
		attrs = append(attrs, "unit_id", *unitID)
	}
	p.logger.Info("heartbeat rejected", attrs...)

	return &RejectionError{Reason: reason}
}

func diagnosticsString(env *envelope.Envelope) *string {
	if len(env.Diagnostics) == 0 {
		return nil
	}
	s := string(env.Diagnostics)
	return &s
}

// compareVersions compares two dotted numeric versions ("1.4.2").
// Returns -1, 0, or 1. Non-numeric segments compare as zero.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}

	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}

	return 0
}
