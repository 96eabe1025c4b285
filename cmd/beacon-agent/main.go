// beacon-agent is a reference reporting agent: it signs heartbeat
// envelopes with a local Ed25519 key and posts them to a beacond ingest
// endpoint on a fixed cadence, attaching basic host diagnostics.
package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/pulsedir/beacon/internal/envelope"
)

const agentVersion = "1.2.0"

func main() {
	serverURL := flag.String("server", "http://127.0.0.1:8080", "Base URL of the beacond ingest endpoint")
	unitID := flag.String("unit", "", "Reporting unit id (required)")
	keyFile := flag.String("key", "", "Path to hex-encoded Ed25519 private key file (required)")
	keyVersion := flag.Int("key-version", 1, "Key version the identity is registered under")
	interval := flag.Duration("interval", time.Minute, "Heartbeat interval")
	mapName := flag.String("map", "", "Current map name, if any")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if *unitID == "" || *keyFile == "" {
		slog.Error("both -unit and -key are required")
		os.Exit(1)
	}

	priv, err := loadPrivateKey(*keyFile)
	if err != nil {
		slog.Error("failed to load private key", "path", *keyFile, "error", err)
		os.Exit(1)
	}

	agent := &agent{
		endpoint:   strings.TrimRight(*serverURL, "/") + "/v1/heartbeat",
		unitID:     *unitID,
		keyVersion: *keyVersion,
		mapName:    *mapName,
		priv:       priv,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("beacon-agent started",
		"unit_id", *unitID,
		"endpoint", agent.endpoint,
		"interval", *interval)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		agent.report(ctx)

		select {
		case <-ctx.Done():
			slog.Info("beacon-agent stopped")
			return
		case <-ticker.C:
		}
	}
}

type agent struct {
	endpoint   string
	unitID     string
	keyVersion int
	mapName    string
	priv       ed25519.PrivateKey
	client     *http.Client
	logger     *slog.Logger
}

// report builds, signs, and posts one heartbeat. Failures are logged and
// retried on the next tick; the server deduplicates by event id, so a
// response lost in transit is safe to resend.
func (a *agent) report(ctx context.Context) {
	env := &envelope.Envelope{
		UnitID:       a.unitID,
		KeyVersion:   a.keyVersion,
		EventID:      uuid.NewString(),
		ReportedAt:   time.Now().UTC(),
		Status:       envelope.StatusOnline,
		AgentVersion: agentVersion,
		Diagnostics:  collectDiagnostics(ctx),
	}
	if a.mapName != "" {
		env.MapName = &a.mapName
	}
	env.Signature = env.Sign(a.priv)

	body, err := json.Marshal(env)
	if err != nil {
		a.logger.Error("failed to encode envelope", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		a.logger.Error("failed to build request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn("heartbeat delivery failed", "error", err)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		a.logger.Debug("heartbeat accepted", "event_id", env.EventID)
	case http.StatusTooManyRequests:
		// Backpressure: skip until the next tick, the server has enough.
		a.logger.Warn("rate limited, backing off", "retry_after", resp.Header.Get("Retry-After"))
	case http.StatusUpgradeRequired:
		// The server will never accept this agent version again.
		a.logger.Error("agent version rejected as too old, upgrade required", "version", agentVersion)
		os.Exit(1)
	case http.StatusConflict:
		a.logger.Error("key version mismatch, the identity key was rotated", "key_version", a.keyVersion)
		os.Exit(1)
	default:
		a.logger.Warn("heartbeat rejected", "status", resp.StatusCode)
	}
}

// collectDiagnostics gathers best-effort host stats. Any probe failure
// just drops that field; diagnostics are opaque to the server anyway.
func collectDiagnostics(ctx context.Context) json.RawMessage {
	diag := make(map[string]any)

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		diag["cpu_pct"] = pcts[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		diag["mem_used_pct"] = vm.UsedPercent
	}
	if up, err := host.UptimeWithContext(ctx); err == nil {
		diag["host_uptime_secs"] = up
	}

	if len(diag) == 0 {
		return nil
	}

	raw, err := json.Marshal(diag)
	if err != nil {
		return nil
	}
	return raw
}

func loadPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("hex-decoding private key: %w", err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key has wrong length: got %d bytes, want %d", len(keyBytes), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(keyBytes), nil
}
