package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dhammalab/dhammachannel/gate"
)

var t0 = time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rejectedDecision() gate.Summary {
	return gate.Summary{
		SchemaVersion:   gate.SchemaVersion,
		RunID:           "run-1",
		Status:          gate.StatusRejected,
		DecisionSource:  gate.SourceHuman,
		HumanActor:      "ops",
		HumanReason:     "hold",
		ReasonCodes:     []string{},
		ResolvedAtUTC:   "2026-08-27T10:00:00Z",
		EvaluationCount: 2,
	}
}

func TestSend_Disabled(t *testing.T) {
	n := New(Config{Enabled: false}, nil)
	sum, err := n.Send(context.Background(), "run-1", rejectedDecision(), t0)
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if sum.NotificationStatus != "skipped" {
		t.Fatalf("status = %q", sum.NotificationStatus)
	}
	if len(sum.ReasonCodes) != 1 || sum.ReasonCodes[0] != ReasonWebhookDisabled {
		t.Fatalf("reason codes = %v", sum.ReasonCodes)
	}
}

func TestSend_NoTargets(t *testing.T) {
	n := New(Config{Enabled: true}, nil)
	sum, err := n.Send(context.Background(), "run-1", rejectedDecision(), t0)
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if sum.NotificationStatus != "skipped" || sum.ReasonCodes[0] != ReasonNoTargets {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestSend_Success(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := New(Config{Enabled: true, Targets: []Target{{Name: "main", URL: srv.URL}}}, nil)
	sum, err := n.Send(context.Background(), "run-1", rejectedDecision(), t0)
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if sum.NotificationStatus != "sent" {
		t.Fatalf("status = %q", sum.NotificationStatus)
	}
	if len(sum.TargetsAttempted) != 1 || sum.TargetsAttempted[0].Result != "success" {
		t.Fatalf("targets = %+v", sum.TargetsAttempted)
	}
	if sum.TargetsAttempted[0].HTTPStatus != http.StatusNoContent {
		t.Fatalf("http status = %d", sum.TargetsAttempted[0].HTTPStatus)
	}
	if sum.MessageDigest == "" {
		t.Fatal("missing message digest")
	}

	var msg map[string]any
	if err := json.Unmarshal(gotBody, &msg); err != nil {
		t.Fatalf("payload does not parse: %v", err)
	}
	if msg["run_id"] != "run-1" || msg["status"] != "rejected" || msg["human_actor"] != "ops" {
		t.Fatalf("payload = %v", msg)
	}
}

func TestSend_FailureModes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	t.Run("fail_open", func(t *testing.T) {
		n := New(Config{Enabled: true, FailOpen: true, Targets: []Target{{Name: "a", URL: srv.URL}}}, nil)
		sum, err := n.Send(context.Background(), "run-1", rejectedDecision(), t0)
		if err != nil {
			t.Fatalf("fail-open Send must not error, got: %v", err)
		}
		if sum.NotificationStatus != "failed" {
			t.Fatalf("status = %q", sum.NotificationStatus)
		}
		if sum.ReasonCodes[len(sum.ReasonCodes)-1] != ReasonSendFailed {
			t.Fatalf("reason codes = %v", sum.ReasonCodes)
		}
	})

	t.Run("fail_closed", func(t *testing.T) {
		n := New(Config{Enabled: true, FailOpen: false, Targets: []Target{{Name: "a", URL: srv.URL}}}, nil)
		if _, err := n.Send(context.Background(), "run-1", rejectedDecision(), t0); err == nil {
			t.Fatal("expected error when fail-closed and target fails")
		}
	})
}

func TestSanitizeTargets(t *testing.T) {
	in := []Target{
		{Name: "a", URL: "https://example.com/1"},
		{Name: "a", URL: "https://example.com/dup"},
		{Name: "", URL: "https://example.com/2"},
		{Name: "b", URL: ""},
		{Name: "c", URL: "https://example.com/3"},
	}
	out, invalid := sanitizeTargets(in, discardLogger())
	if !invalid {
		t.Fatal("expected invalid flag for incomplete entries")
	}
	if len(out) != 2 || out[0].Name != "a" || out[1].Name != "c" {
		t.Fatalf("sanitized = %+v", out)
	}

	many := make([]Target, 0, 15)
	for i := 0; i < 15; i++ {
		many = append(many, Target{Name: string(rune('a' + i)), URL: "https://example.com/x"})
	}
	out, _ = sanitizeTargets(many, discardLogger())
	if len(out) != MaxTargets {
		t.Fatalf("expected %d targets, got %d", MaxTargets, len(out))
	}
}
