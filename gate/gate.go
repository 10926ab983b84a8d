// Package gate implements the approval gate that holds a pipeline run at
// the human-review checkpoint until the grace period expires or an operator
// cancels publication.
//
// The gate is a deterministic function of (prior summary, cancel signal,
// config, clock). It is safe to re-invoke arbitrarily often: terminal
// decisions are permanent, the open timestamp never moves, and the summary
// artifact is rewritten on every evaluation so the persisted state always
// reflects the last completed call.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config is the gate's full configuration surface, assembled by the caller.
// The gate never reads process environment itself.
type Config struct {
	// Enabled gates the run when true. False is the operator emergency
	// bypass and wins over everything, including a stored terminal state.
	Enabled bool

	// GraceMinutesRaw is the unparsed grace period. Anything outside
	// 1..1440 minutes fails safe to a terminal rejection.
	GraceMinutesRaw string
}

const (
	// DefaultGraceMinutes is used only for the bookkeeping field on the
	// bypass path, where the configured value may itself be invalid.
	DefaultGraceMinutes = 120

	minGraceMinutes = 1
	maxGraceMinutes = 1440
)

type Gate struct {
	cfg     Config
	store   SummaryStore
	cancels CancelReader
	sink    AuditSink
	log     *slog.Logger

	mu       sync.Mutex
	runLocks map[string]*sync.Mutex
}

// New builds a gate. sink may be nil (no audit trail); log may be nil.
func New(cfg Config, store SummaryStore, cancels CancelReader, sink AuditSink, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		cfg:      cfg,
		store:    store,
		cancels:  cancels,
		sink:     sink,
		log:      log,
		runLocks: make(map[string]*sync.Mutex),
	}
}

// EvaluateDir runs one evaluation against the standard run-directory layout
// (artifacts/approval_gate_summary.json, control/cancel_publish.json).
func EvaluateDir(ctx context.Context, cfg Config, runID, runDir string, now time.Time) (Outcome, error) {
	fs := NewFileStore(runDir)
	return New(cfg, fs, fs, nil, nil).Evaluate(ctx, runID, now)
}

// Evaluate performs one evaluation for the run and persists the summary
// artifact before returning, on every path. The conditions are checked in
// strict priority order:
//
//  1. gating disabled (config bypass; overrides even a stored terminal
//     state, see below)
//  2. prior terminal state (replayed unchanged, bookkeeping only)
//  3. grace-period config validity (invalid fails safe to rejection)
//  4. operator cancel signal (invalid signal also fails safe to rejection)
//  5. grace-period expiry (auto-approve)
//  6. still pending
//
// The disabled-gate check deliberately runs before the terminal
// short-circuit so that switching the gate off un-blocks runs that were
// already decided. Everything else is pinned once terminal.
//
// An error return means the evaluation could not be durably recorded; the
// caller must not treat it as any of the three outcomes.
func (g *Gate) Evaluate(ctx context.Context, runID string, now time.Time) (Outcome, error) {
	lock := g.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	now = now.UTC()
	nowISO := formatUTC(now)

	prior, havePrior, err := g.store.Load(ctx, runID)
	if err != nil {
		// Lenient recovery: an unreadable prior artifact restarts the
		// run's evaluation history instead of wedging the pipeline.
		g.log.Warn("gate_prior_summary_unreadable", "run_id", runID, "error", err.Error())
		havePrior = false
	}

	if !g.cfg.Enabled {
		grace := DefaultGraceMinutes
		if v, perr := parseGraceMinutes(g.cfg.GraceMinutesRaw); perr == nil {
			grace = v
		}
		sum := Summary{
			SchemaVersion:      SchemaVersion,
			RunID:              runID,
			OpenedAtUTC:        nowISO,
			ResolvedAtUTC:      nowISO,
			Status:             StatusApprovedByTimeout,
			DecisionSource:     SourceConfig,
			GracePeriodMinutes: grace,
			ReasonCodes:        []string{ReasonGatingBypassed},
			EvaluationCount:    1,
		}
		if havePrior {
			sum.OpenedAtUTC = prior.OpenedAtUTC
			sum.EvaluationCount = prior.EvaluationCount + 1
		}
		return g.persist(ctx, runID, now, Outcome{State: OutcomeApproved, Summary: sum})
	}

	if havePrior && prior.Status.Terminal() {
		sum := prior
		sum.EvaluationCount++
		sum.ResolvedAtUTC = nowISO
		out := Outcome{State: OutcomeApproved, Summary: sum}
		if sum.Status == StatusRejected {
			out = Outcome{
				State:   OutcomeRejected,
				Reason:  "approval previously rejected: " + sum.RejectionReason(),
				Summary: sum,
			}
		}
		return g.persist(ctx, runID, now, out)
	}

	openedISO := nowISO
	openedAt := now
	evalCount := 1
	if havePrior {
		openedISO = prior.OpenedAtUTC
		evalCount = prior.EvaluationCount + 1
		t, terr := parseUTC(prior.OpenedAtUTC)
		if terr != nil {
			sum := Summary{
				SchemaVersion:      SchemaVersion,
				RunID:              runID,
				OpenedAtUTC:        openedISO,
				ResolvedAtUTC:      nowISO,
				Status:             StatusRejected,
				DecisionSource:     SourceFailsafe,
				GracePeriodMinutes: 0,
				ReasonCodes:        []string{ReasonFailsafeReject, ReasonInvalidTimestamp},
				EvaluationCount:    evalCount,
			}
			return g.persist(ctx, runID, now, Outcome{
				State:   OutcomeRejected,
				Reason:  fmt.Sprintf("invalid opened_at timestamp in artifact: %v", terr),
				Summary: sum,
			})
		}
		openedAt = t
	}

	grace, perr := parseGraceMinutes(g.cfg.GraceMinutesRaw)
	if perr != nil {
		sum := Summary{
			SchemaVersion:      SchemaVersion,
			RunID:              runID,
			OpenedAtUTC:        openedISO,
			ResolvedAtUTC:      nowISO,
			Status:             StatusRejected,
			DecisionSource:     SourceFailsafe,
			GracePeriodMinutes: 0,
			ReasonCodes:        []string{ReasonInvalidConfig, ReasonFailsafeReject},
			EvaluationCount:    evalCount,
		}
		return g.persist(ctx, runID, now, Outcome{
			State:   OutcomeRejected,
			Reason:  fmt.Sprintf("invalid grace period config: %v", perr),
			Summary: sum,
		})
	}

	raw, haveCancel, rerr := g.cancels.Read(ctx, runID)
	if haveCancel {
		action, verr := decodeCancel(raw, rerr)
		if verr != nil {
			sum := Summary{
				SchemaVersion:      SchemaVersion,
				RunID:              runID,
				OpenedAtUTC:        openedISO,
				ResolvedAtUTC:      nowISO,
				Status:             StatusRejected,
				DecisionSource:     SourceFailsafe,
				GracePeriodMinutes: grace,
				ReasonCodes:        []string{ReasonCancelFileInvalid, ReasonFailsafeReject},
				EvaluationCount:    evalCount,
			}
			return g.persist(ctx, runID, now, Outcome{
				State:   OutcomeRejected,
				Reason:  fmt.Sprintf("invalid cancel file: %v", verr),
				Summary: sum,
			})
		}
		sum := Summary{
			SchemaVersion:      SchemaVersion,
			RunID:              runID,
			OpenedAtUTC:        openedISO,
			ResolvedAtUTC:      nowISO,
			Status:             StatusRejected,
			DecisionSource:     SourceHuman,
			GracePeriodMinutes: grace,
			HumanAction:        action.Action,
			HumanActor:         action.Actor,
			HumanReason:        action.Reason,
			ReasonCodes:        []string{},
			EvaluationCount:    evalCount,
		}
		return g.persist(ctx, runID, now, Outcome{
			State:   OutcomeRejected,
			Reason:  fmt.Sprintf("rejected by human: %s - %s", action.Actor, action.Reason),
			Summary: sum,
		})
	}

	deadline := openedAt.Add(time.Duration(grace) * time.Minute)
	if !now.Before(deadline) {
		sum := Summary{
			SchemaVersion:      SchemaVersion,
			RunID:              runID,
			OpenedAtUTC:        openedISO,
			ResolvedAtUTC:      nowISO,
			Status:             StatusApprovedByTimeout,
			DecisionSource:     SourceTimeout,
			GracePeriodMinutes: grace,
			ReasonCodes:        []string{},
			EvaluationCount:    evalCount,
		}
		return g.persist(ctx, runID, now, Outcome{State: OutcomeApproved, Summary: sum})
	}

	sum := Summary{
		SchemaVersion:      SchemaVersion,
		RunID:              runID,
		OpenedAtUTC:        openedISO,
		ResolvedAtUTC:      nowISO,
		Status:             StatusPending,
		DecisionSource:     SourceTimeout,
		GracePeriodMinutes: grace,
		ReasonCodes:        []string{},
		EvaluationCount:    evalCount,
	}
	return g.persist(ctx, runID, now, Outcome{
		State:   OutcomePending,
		Wait:    deadline.Sub(now),
		Summary: sum,
	})
}

func (g *Gate) persist(ctx context.Context, runID string, now time.Time, out Outcome) (Outcome, error) {
	if err := g.store.Save(ctx, runID, out.Summary); err != nil {
		return Outcome{}, fmt.Errorf("save gate summary: %w", err)
	}
	if g.sink != nil {
		ev := AuditEvent{
			EventID:         newEventID(runID, out.Summary.EvaluationCount, now),
			RunID:           runID,
			Timestamp:       now,
			EvaluationCount: out.Summary.EvaluationCount,
			Outcome:         out.State,
			Status:          out.Summary.Status,
			DecisionSource:  out.Summary.DecisionSource,
			ReasonCodes:     out.Summary.ReasonCodes,
			Actor:           out.Summary.HumanActor,
		}
		if err := g.sink.Emit(ctx, ev); err != nil {
			g.log.Warn("gate_audit_emit_error", "run_id", runID, "error", err.Error())
		}
	}
	return out, nil
}

func (g *Gate) runLock(runID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.runLocks[runID]
	if !ok {
		l = &sync.Mutex{}
		g.runLocks[runID] = l
	}
	return l
}

func decodeCancel(raw []byte, readErr error) (CancelPublishAction, error) {
	if readErr != nil {
		return CancelPublishAction{}, fmt.Errorf("read cancel file: %w", readErr)
	}
	if len(raw) > MaxCancelFileBytes {
		return CancelPublishAction{}, fmt.Errorf("cancel file exceeds %d bytes", MaxCancelFileBytes)
	}
	var a CancelPublishAction
	if err := json.Unmarshal(raw, &a); err != nil {
		return CancelPublishAction{}, fmt.Errorf("malformed cancel file: %w", err)
	}
	if err := a.Validate(); err != nil {
		return CancelPublishAction{}, err
	}
	return a, nil
}

func parseGraceMinutes(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("grace minutes not set")
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("grace minutes not an integer: %q", raw)
	}
	if n < minGraceMinutes || n > maxGraceMinutes {
		return 0, fmt.Errorf("grace minutes %d outside [%d, %d]", n, minGraceMinutes, maxGraceMinutes)
	}
	return n, nil
}

func formatUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseUTC(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
