package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dhammalab/dhammachannel/gate"
	"github.com/dhammalab/dhammachannel/internal/clifmt"
	"github.com/dhammalab/dhammachannel/internal/jsonutil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gate HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.Default()
			srv := &server{
				log:     log,
				runDir:  runDirFor,
				gateFor: func(runDir string) (*gate.Gate, func(), error) { return gateForRun(runDir, log) },
			}

			hs := &http.Server{
				Addr:              addr,
				Handler:           srv.routes(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				fmt.Println(clifmt.Success("listening"), clifmt.Dim(addr))
				errCh <- hs.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

type server struct {
	log     *slog.Logger
	runDir  func(runID string) string
	gateFor func(runDir string) (*gate.Gate, func(), error)
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/runs/{runID}", func(r chi.Router) {
		r.Get("/gate", s.handleGetGate)
		r.Post("/evaluate", s.handleEvaluate)
		r.Post("/cancel", s.handleCancel)
	})
	return r
}

// evaluateResponse is what callers of the evaluate endpoint get back. Wait
// is minutes remaining while the gate is still pending.
type evaluateResponse struct {
	Outcome     gate.OutcomeState `json:"outcome"`
	WaitMinutes float64           `json:"wait_minutes,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Summary     gate.Summary      `json:"summary"`
}

func (s *server) handleGetGate(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if !validRunID(runID) {
		s.writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	var sum gate.Summary
	path := filepath.Join(s.runDir(runID), "artifacts", gate.SummaryFileName)
	found, err := jsonutil.ReadFile(path, &sum)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "summary unreadable")
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "no gate summary for run")
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if !validRunID(runID) {
		s.writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	g, cleanup, err := s.gateFor(s.runDir(runID))
	if err != nil {
		s.log.Error("gate_build_error", "run_id", runID, "error", err.Error())
		s.writeError(w, http.StatusInternalServerError, "gate unavailable")
		return
	}
	defer cleanup()

	out, err := g.Evaluate(r.Context(), runID, time.Now().UTC())
	if err != nil {
		s.log.Error("gate_evaluate_error", "run_id", runID, "error", err.Error())
		s.writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	resp := evaluateResponse{Outcome: out.State, Summary: out.Summary}
	switch out.State {
	case gate.OutcomePending:
		resp.WaitMinutes = out.WaitMinutes()
	case gate.OutcomeRejected:
		resp.Reason = out.Reason
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if !validRunID(runID) {
		s.writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, gate.MaxCancelFileBytes)
	var action gate.CancelPublishAction
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&action); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed cancel action")
		return
	}
	if err := action.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	fs := gate.NewFileStore(s.runDir(runID))
	path := fs.CancelPath()
	if _, err := os.Stat(path); err == nil {
		s.writeError(w, http.StatusConflict, "cancel file already exists")
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		s.writeError(w, http.StatusInternalServerError, "cannot create control directory")
		return
	}
	if err := jsonutil.WriteFileAtomic(path, action); err != nil {
		s.writeError(w, http.StatusInternalServerError, "cannot write cancel file")
		return
	}

	s.log.Info("cancel_recorded", "run_id", runID, "actor", action.Actor)
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "recorded",
		"note":   "rejection takes effect on the next gate evaluation",
	})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response_encode_error", "error", err.Error())
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// validRunID rejects identifiers that could escape the run directory.
func validRunID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, "/\\")
}
