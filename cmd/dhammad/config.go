package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhammalab/dhammachannel/gate"
	"github.com/dhammalab/dhammachannel/internal/pathutil"
	"github.com/dhammalab/dhammachannel/notify"
	"github.com/dhammalab/dhammachannel/softlive"
	"github.com/spf13/viper"
)

func gateConfigFromViper() gate.Config {
	return gate.Config{
		Enabled:         strings.TrimSpace(viper.GetString("gate.enabled")) == "true",
		GraceMinutesRaw: viper.GetString("gate.grace_minutes"),
	}
}

// gateForRun assembles a gate for one run directory. The returned cleanup
// closes the audit sink and any sqlite handle.
func gateForRun(runDir string, log *slog.Logger) (*gate.Gate, func(), error) {
	if log == nil {
		log = slog.Default()
	}
	fs := gate.NewFileStore(runDir)

	var store gate.SummaryStore = fs
	var closers []func()
	if strings.EqualFold(viper.GetString("gate.store"), "sqlite") {
		dsn := pathutil.ExpandHomePath(viper.GetString("db.dsn"))
		st, err := gate.NewSQLiteSummaryStore(dsn)
		if err != nil {
			return nil, nil, err
		}
		// The file artifact stays the contract with downstream readers
		// (notify step, status, HTTP API); sqlite only adds the index.
		store = gate.NewTeeStore(st, fs)
		closers = append(closers, func() { _ = st.Close() })
	}

	var sink gate.AuditSink
	jsonlPath := strings.TrimSpace(viper.GetString("gate.audit.jsonl_path"))
	if jsonlPath == "" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			jsonlPath = filepath.Join(home, ".dhammad", "gate_audit.jsonl")
		}
	}
	jsonlPath = pathutil.ExpandHomePath(jsonlPath)
	if jsonlPath != "" {
		s, err := gate.NewJSONLAuditSink(jsonlPath, viper.GetInt64("gate.audit.rotate_max_bytes"))
		if err != nil {
			log.Warn("gate_audit_sink_error", "error", err.Error())
		} else {
			sink = s
			closers = append(closers, func() { _ = s.Close() })
		}
	}

	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	return gate.New(gateConfigFromViper(), store, fs, sink, log), cleanup, nil
}

func softliveFromViper() softlive.Config {
	return softlive.Config{
		Enabled:    viper.GetBool("softlive.enabled"),
		Mode:       viper.GetString("softlive.mode"),
		FailClosed: viper.GetBool("softlive.fail_closed"),
	}
}

func notifierFromViper(log *slog.Logger) *notify.Notifier {
	cfg := notify.Config{
		Enabled:  viper.GetBool("notify.enabled"),
		FailOpen: viper.GetBool("notify.fail_open"),
		Timeout:  time.Duration(viper.GetInt("notify.timeout_seconds")) * time.Second,
		Targets:  notifyTargetsFromViper(log),
	}
	return notify.New(cfg, log)
}

func notifyTargetsFromViper(log *slog.Logger) []notify.Target {
	if log == nil {
		log = slog.Default()
	}

	// Operators can supply targets either as structured config or as the
	// NOTIFY_WEBHOOKS_JSON environment value.
	var targets []notify.Target
	_ = viper.UnmarshalKey("notify.targets", &targets)
	if len(targets) > 0 {
		return targets
	}

	raw := strings.TrimSpace(viper.GetString("notify.webhooks_json"))
	if raw == "" {
		return nil
	}
	var fromJSON []struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	if err := json.Unmarshal([]byte(raw), &fromJSON); err != nil {
		log.Warn("notify_webhooks_json_invalid", "error", err.Error())
		return nil
	}
	for _, t := range fromJSON {
		targets = append(targets, notify.Target{Name: t.Name, URL: t.URL})
	}
	return targets
}

func runDirFor(runID string) string {
	return pathutil.RunDir(viper.GetString("output.root"), runID)
}
