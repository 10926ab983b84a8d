package gate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// AuditEvent is one line in the gate decision trail.
type AuditEvent struct {
	EventID         string         `json:"event_id"`
	RunID           string         `json:"run_id"`
	Timestamp       time.Time      `json:"ts"`
	EvaluationCount int            `json:"evaluation_count"`
	Outcome         OutcomeState   `json:"outcome"`
	Status          Status         `json:"status"`
	DecisionSource  DecisionSource `json:"decision_source"`
	ReasonCodes     []string       `json:"reason_codes,omitempty"`
	Actor           string         `json:"actor,omitempty"`
}

type AuditSink interface {
	Emit(ctx context.Context, e AuditEvent) error
}

func newEventID(runID string, count int, ts time.Time) string {
	seed := fmt.Sprintf("%s|%d|%s", runID, count, ts.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(seed))
	return "gev_" + hex.EncodeToString(sum[:8])
}
