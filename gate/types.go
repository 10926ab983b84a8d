package gate

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// SchemaVersion identifies the approval_gate_summary.json format.
const SchemaVersion = "v1"

// CancelAction is the only action literal accepted in a cancel file.
const CancelAction = "cancel_publish"

// MaxCancelFileBytes is the size ceiling for the operator cancel file.
// Anything larger is treated as untrusted input and rejected.
const MaxCancelFileBytes = 4096

type Status string

const (
	StatusPending           Status = "pending"
	StatusApprovedByTimeout Status = "approved_by_timeout"
	StatusRejected          Status = "rejected"
)

// Terminal reports whether the status never changes on later evaluations.
func (s Status) Terminal() bool {
	return s == StatusApprovedByTimeout || s == StatusRejected
}

type DecisionSource string

const (
	SourceHuman    DecisionSource = "human"
	SourceTimeout  DecisionSource = "timeout"
	SourceConfig   DecisionSource = "config"
	SourceFailsafe DecisionSource = "failsafe"
)

// Reason codes recorded for non-human outcomes.
const (
	ReasonGatingBypassed    = "GATING_BYPASSED"
	ReasonInvalidConfig     = "INVALID_CONFIG"
	ReasonCancelFileInvalid = "CANCEL_FILE_INVALID"
	ReasonFailsafeReject    = "FAILSAFE_REJECT"
	ReasonInvalidTimestamp  = "INVALID_TIMESTAMP"
)

// Summary is the persisted gate artifact, one snapshot per run.
// opened_at_utc is set on the first evaluation and never changes;
// resolved_at_utc and evaluation_count move on every call.
type Summary struct {
	SchemaVersion      string         `json:"schema_version"`
	RunID              string         `json:"run_id"`
	OpenedAtUTC        string         `json:"opened_at_utc"`
	ResolvedAtUTC      string         `json:"resolved_at_utc"`
	Status             Status         `json:"status"`
	DecisionSource     DecisionSource `json:"decision_source"`
	GracePeriodMinutes int            `json:"grace_period_minutes"`
	HumanAction        string         `json:"human_action,omitempty"`
	HumanActor         string         `json:"human_actor,omitempty"`
	HumanReason        string         `json:"human_reason,omitempty"`
	ReasonCodes        []string       `json:"reason_codes"`
	EvaluationCount    int            `json:"evaluation_count"`
}

// Validate checks that a loaded summary is structurally usable. A summary
// failing validation is treated as corrupt by the gate.
func (s Summary) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version: %q", s.SchemaVersion)
	}
	if strings.TrimSpace(s.RunID) == "" {
		return fmt.Errorf("missing run_id")
	}
	switch s.Status {
	case StatusPending, StatusApprovedByTimeout, StatusRejected:
	default:
		return fmt.Errorf("unknown status: %q", s.Status)
	}
	switch s.DecisionSource {
	case SourceHuman, SourceTimeout, SourceConfig, SourceFailsafe:
	default:
		return fmt.Errorf("unknown decision_source: %q", s.DecisionSource)
	}
	if s.EvaluationCount < 1 {
		return fmt.Errorf("evaluation_count must be >= 1, got %d", s.EvaluationCount)
	}
	return nil
}

// RejectionReason renders the stored rejection cause for callers. Failsafe
// rejections carry reason codes; human rejections carry the operator reason.
func (s Summary) RejectionReason() string {
	if len(s.ReasonCodes) > 0 {
		return strings.Join(s.ReasonCodes, " ")
	}
	return s.HumanReason
}

// CancelPublishAction is the operator-authored cancellation signal read from
// control/cancel_publish.json.
type CancelPublishAction struct {
	Action string `json:"action"`
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (a CancelPublishAction) Validate() error {
	if a.Action != CancelAction {
		return fmt.Errorf("action must be %q, got %q", CancelAction, a.Action)
	}
	if n := utf8.RuneCountInString(a.Actor); n < 1 || n > 100 {
		return fmt.Errorf("actor must be 1-100 characters, got %d", n)
	}
	if n := utf8.RuneCountInString(a.Reason); n < 1 || n > 500 {
		return fmt.Errorf("reason must be 1-500 characters, got %d", n)
	}
	return nil
}
