// Package notify delivers gate-decision webhooks to operator channels
// (chat bridges, dashboards) and records the attempt in a summary artifact.
// Delivery is best-effort by default: a dead webhook must not block the
// pipeline unless the operator configured fail-closed behavior.
package notify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dhammalab/dhammachannel/gate"
)

const SchemaVersion = "v1"

// MaxTargets caps the fan-out per notification.
const MaxTargets = 10

const (
	ReasonWebhookDisabled = "WEBHOOK_DISABLED"
	ReasonNoTargets       = "NO_TARGETS"
	ReasonInvalidConfig   = "INVALID_CONFIG"
	ReasonSendFailed      = "SEND_FAILED"
)

type Target struct {
	Name string
	URL  string
}

type TargetResult struct {
	Name        string `json:"name"`
	URLRedacted string `json:"url_redacted"`
	Result      string `json:"result"` // success | error | timeout
	HTTPStatus  int    `json:"http_status,omitempty"`
}

type Summary struct {
	SchemaVersion      string         `json:"schema_version"`
	RunID              string         `json:"run_id"`
	TimestampUTC       string         `json:"timestamp_utc"`
	NotificationStatus string         `json:"notification_status"` // sent | failed | skipped
	TargetsAttempted   []TargetResult `json:"targets_attempted"`
	MessageDigest      string         `json:"message_digest"`
	ReasonCodes        []string       `json:"reason_codes"`
}

type Config struct {
	Enabled bool
	// FailOpen suppresses delivery failures: the summary records them but
	// Send returns nil.
	FailOpen bool
	Timeout  time.Duration
	Targets  []Target
}

type Notifier struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

// message is the webhook payload describing a gate decision.
type message struct {
	RunID          string   `json:"run_id"`
	Status         string   `json:"status"`
	DecisionSource string   `json:"decision_source"`
	ReasonCodes    []string `json:"reason_codes"`
	HumanActor     string   `json:"human_actor,omitempty"`
	HumanReason    string   `json:"human_reason,omitempty"`
	ResolvedAtUTC  string   `json:"resolved_at_utc"`
}

// Send posts the gate decision to every configured target and returns the
// delivery summary. An error is returned only when delivery failed and the
// notifier is configured fail-closed.
func (n *Notifier) Send(ctx context.Context, runID string, decision gate.Summary, now time.Time) (Summary, error) {
	sum := Summary{
		SchemaVersion:    SchemaVersion,
		RunID:            runID,
		TimestampUTC:     now.UTC().Format(time.RFC3339),
		TargetsAttempted: []TargetResult{},
		ReasonCodes:      []string{},
	}

	if !n.cfg.Enabled {
		sum.NotificationStatus = "skipped"
		sum.ReasonCodes = append(sum.ReasonCodes, ReasonWebhookDisabled)
		return sum, nil
	}

	targets, invalid := sanitizeTargets(n.cfg.Targets, n.log)
	if invalid {
		sum.ReasonCodes = append(sum.ReasonCodes, ReasonInvalidConfig)
	}
	if len(targets) == 0 {
		sum.NotificationStatus = "skipped"
		if !invalid {
			sum.ReasonCodes = append(sum.ReasonCodes, ReasonNoTargets)
		}
		return sum, nil
	}

	body, err := json.Marshal(message{
		RunID:          runID,
		Status:         string(decision.Status),
		DecisionSource: string(decision.DecisionSource),
		ReasonCodes:    decision.ReasonCodes,
		HumanActor:     decision.HumanActor,
		HumanReason:    decision.HumanReason,
		ResolvedAtUTC:  decision.ResolvedAtUTC,
	})
	if err != nil {
		return sum, err
	}
	digest := sha256.Sum256(body)
	sum.MessageDigest = hex.EncodeToString(digest[:])

	failed := 0
	for _, target := range targets {
		res := n.post(ctx, target, body)
		sum.TargetsAttempted = append(sum.TargetsAttempted, res)
		if res.Result != "success" {
			failed++
			n.log.Warn("notify_target_failed",
				"run_id", runID,
				"target", target.Name,
				"url", res.URLRedacted,
				"result", res.Result,
			)
		}
	}

	if failed == 0 {
		sum.NotificationStatus = "sent"
		return sum, nil
	}
	sum.NotificationStatus = "failed"
	sum.ReasonCodes = append(sum.ReasonCodes, ReasonSendFailed)
	if n.cfg.FailOpen {
		return sum, nil
	}
	return sum, fmt.Errorf("%d of %d webhook targets failed", failed, len(targets))
}

func (n *Notifier) post(ctx context.Context, target Target, body []byte) TargetResult {
	res := TargetResult{
		Name:        target.Name,
		URLRedacted: RedactURL(target.URL),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		res.Result = "error"
		return res
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			res.Result = "timeout"
		} else {
			res.Result = "error"
		}
		return res
	}
	defer resp.Body.Close()

	res.HTTPStatus = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.Result = "success"
	} else {
		res.Result = "error"
	}
	return res
}

func sanitizeTargets(in []Target, log *slog.Logger) (out []Target, invalid bool) {
	seen := make(map[string]bool, len(in))
	for _, t := range in {
		if len(out) >= MaxTargets {
			log.Warn("notify_max_targets_reached", "max", MaxTargets)
			break
		}
		name := strings.TrimSpace(t.Name)
		url := strings.TrimSpace(t.URL)
		if name == "" || url == "" {
			invalid = true
			continue
		}
		if seen[name] {
			log.Warn("notify_duplicate_target", "name", name)
			continue
		}
		seen[name] = true
		out = append(out, Target{Name: name, URL: url})
	}
	return out, invalid
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
