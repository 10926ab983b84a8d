package softlive

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

func TestEnforce(t *testing.T) {
	cases := []struct {
		name       string
		cfg        Config
		wantStatus string
		wantMode   string
		wantCodes  []string
		wantErr    bool
	}{
		{
			name:       "disabled",
			cfg:        Config{Enabled: false, Mode: "whatever"},
			wantStatus: "disabled",
		},
		{
			name:       "dry_run",
			cfg:        Config{Enabled: true, Mode: "dry_run"},
			wantStatus: "enabled",
			wantMode:   ModeDryRun,
		},
		{
			name:       "unlisted_case_insensitive",
			cfg:        Config{Enabled: true, Mode: " Unlisted "},
			wantStatus: "enabled",
			wantMode:   ModeUnlisted,
		},
		{
			name:       "private",
			cfg:        Config{Enabled: true, Mode: "private"},
			wantStatus: "enabled",
			wantMode:   ModePrivate,
		},
		{
			name:    "invalid_fail_closed",
			cfg:     Config{Enabled: true, Mode: "public", FailClosed: true},
			wantErr: true,
		},
		{
			name:       "invalid_fail_open_falls_back",
			cfg:        Config{Enabled: true, Mode: "public", FailClosed: false},
			wantStatus: "enabled",
			wantMode:   ModeDryRun,
			wantCodes:  []string{ReasonInvalidConfig, ReasonFallbackDryRun},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Enforce(tc.cfg, "run-1", t0)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Enforce error = %v, wantErr=%v", err, tc.wantErr)
			}
			if tc.wantErr {
				return
			}
			if got.SoftLiveStatus != tc.wantStatus {
				t.Fatalf("status = %q, want %q", got.SoftLiveStatus, tc.wantStatus)
			}
			if got.EnforcedMode != tc.wantMode {
				t.Fatalf("mode = %q, want %q", got.EnforcedMode, tc.wantMode)
			}
			if len(tc.wantCodes) != len(got.ReasonCodes) {
				t.Fatalf("reason codes = %v, want %v", got.ReasonCodes, tc.wantCodes)
			}
			for i := range tc.wantCodes {
				if got.ReasonCodes[i] != tc.wantCodes[i] {
					t.Fatalf("reason codes = %v, want %v", got.ReasonCodes, tc.wantCodes)
				}
			}
			if got.TimestampUTC != "2026-08-27T10:00:00Z" {
				t.Fatalf("timestamp = %q", got.TimestampUTC)
			}
		})
	}
}
