// Package softlive enforces the channel's soft-live publishing policy:
// while soft-live is on, uploads may only run in a restricted visibility
// mode so nothing goes public without the gate and a human having had
// their say.
package softlive

import (
	"fmt"
	"strings"
	"time"
)

const SchemaVersion = "v1"

// Allowed publish modes while soft-live is enabled.
const (
	ModeDryRun   = "dry_run"
	ModeUnlisted = "unlisted"
	ModePrivate  = "private"
)

const (
	ReasonInvalidConfig   = "INVALID_CONFIG"
	ReasonFallbackDryRun  = "FALLBACK_DRY_RUN"
)

type Config struct {
	Enabled bool
	Mode    string
	// FailClosed makes an invalid mode a hard error instead of falling
	// back to dry_run.
	FailClosed bool
}

type Summary struct {
	SchemaVersion  string   `json:"schema_version"`
	RunID          string   `json:"run_id"`
	TimestampUTC   string   `json:"timestamp_utc"`
	SoftLiveStatus string   `json:"soft_live_status"`
	EnforcedMode   string   `json:"enforced_mode,omitempty"`
	ReasonCodes    []string `json:"reason_codes"`
}

// Enforce validates the configured mode and returns the summary recording
// what was enforced. With FailClosed set, an invalid mode is a hard error.
func Enforce(cfg Config, runID string, now time.Time) (Summary, error) {
	ts := now.UTC().Format(time.RFC3339)

	if !cfg.Enabled {
		return Summary{
			SchemaVersion:  SchemaVersion,
			RunID:          runID,
			TimestampUTC:   ts,
			SoftLiveStatus: "disabled",
			ReasonCodes:    []string{},
		}, nil
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case ModeDryRun, ModeUnlisted, ModePrivate:
		return Summary{
			SchemaVersion:  SchemaVersion,
			RunID:          runID,
			TimestampUTC:   ts,
			SoftLiveStatus: "enabled",
			EnforcedMode:   mode,
			ReasonCodes:    []string{},
		}, nil
	}

	if cfg.FailClosed {
		return Summary{}, fmt.Errorf("invalid soft-live mode %q (allowed: %s, %s, %s)",
			cfg.Mode, ModeDryRun, ModeUnlisted, ModePrivate)
	}

	return Summary{
		SchemaVersion:  SchemaVersion,
		RunID:          runID,
		TimestampUTC:   ts,
		SoftLiveStatus: "enabled",
		EnforcedMode:   ModeDryRun,
		ReasonCodes:    []string{ReasonInvalidConfig, ReasonFallbackDryRun},
	}, nil
}
