package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/engine"
	"carbon-ledger/internal/ledger"
	"carbon-ledger/internal/observability"
	"carbon-ledger/internal/storage"
	"carbon-ledger/internal/verification"
)

var errVerificationRunning = errors.New("verification already running")

// Server holds the live engine and the state of the background jobs.
type Server struct {
	engine      *engine.Engine
	verifier    verification.Verifier
	checkpoints storage.CheckpointStore
	snapshots   storage.SupplySnapshotStore
	logger      *zap.Logger
	now         func() time.Time
	started     time.Time

	mu           sync.Mutex
	lastReport   *verification.VerificationReport
	lastError    string
	verifying    bool
	verifyRuns   int
	snapshotRuns int
}

// ServerOptions configures a Server.
type ServerOptions struct {
	Engine      *engine.Engine
	Verifier    verification.Verifier
	Checkpoints storage.CheckpointStore
	Snapshots   storage.SupplySnapshotStore
	Logger      *zap.Logger
}

// NewServer creates a new Server.
func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		engine:      opts.Engine,
		verifier:    opts.Verifier,
		checkpoints: opts.Checkpoints,
		snapshots:   opts.Snapshots,
		logger:      opts.Logger,
		now:         time.Now,
		started:     time.Now(),
	}
}

// Handler returns the admin router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Minute))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", observability.Handler())
	r.Get("/status", s.handleStatus)

	r.Get("/conservation", s.handleConservation)
	r.Route("/supply", func(r chi.Router) {
		r.Get("/", s.handleSupplyList)
		r.Get("/{batchID}", s.handleSupply)
		r.Get("/{batchID}/history", s.handleSupplyHistory)
	})
	r.Get("/batches", s.handleBatchList)
	r.Get("/batches/{batchID}", s.handleBatch)
	r.Get("/portfolio/{holder}", s.handlePortfolio)
	r.Get("/positions/{positionID}", s.handlePosition)
	r.Get("/certificates/{certificateID}", s.handleCertificate)
	r.Get("/leaderboard", s.handleLeaderboard)

	r.Route("/verify", func(r chi.Router) {
		r.Get("/last", s.handleLastVerification)
		r.Post("/", s.handleVerify)
	})

	return r
}

// RunVerification verifies the journal against the live engine. Only one
// run is in flight at a time.
func (s *Server) RunVerification(ctx context.Context) (*verification.VerificationReport, error) {
	s.mu.Lock()
	if s.verifying {
		s.mu.Unlock()
		return nil, errVerificationRunning
	}
	s.verifying = true
	s.mu.Unlock()

	report, err := s.verifier.Verify(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifying = false
	s.verifyRuns++
	if err != nil {
		s.lastError = err.Error()
		return nil, err
	}
	s.lastError = ""
	s.lastReport = report
	return report, nil
}

// TakeSnapshots stores the current supply of every batch and refreshes the
// supply and position gauges. Returns the number of snapshots written.
func (s *Server) TakeSnapshots(ctx context.Context) (int, error) {
	snap := s.engine.Snapshot(ctx)
	at := s.now().UnixMilli()

	rows := make([]*domain.SupplySnapshot, 0, len(snap.Supplies))
	for _, supply := range snap.Supplies {
		rows = append(rows, supply.Snapshot(at))
		observability.UpdateSupply(supply.BatchID, supply.Free, supply.Staked, supply.Retired)
	}

	open := 0
	for _, p := range snap.Positions {
		if p.Status != domain.PositionClosed {
			open++
		}
	}
	observability.UpdateOpenPositions(open)

	if err := s.snapshots.InsertBulk(ctx, rows); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.snapshotRuns++
	s.mu.Unlock()
	return len(rows), nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	batches := len(s.engine.ListBatches(r.Context()))

	s.mu.Lock()
	defer s.mu.Unlock()

	writeJSON(w, http.StatusOK, StatusView{
		Status:       "running",
		Uptime:       time.Since(s.started).Truncate(time.Second).String(),
		Seq:          s.engine.Seq(),
		Batches:      batches,
		Verifying:    s.verifying,
		VerifyRuns:   s.verifyRuns,
		SnapshotRuns: s.snapshotRuns,
		LastError:    s.lastError,
	})
}

func (s *Server) handleConservation(w http.ResponseWriter, r *http.Request) {
	supplies, err := s.engine.CheckConservation(r.Context())
	if err != nil && !errors.Is(err, ledger.ErrConservationViolated) {
		writeError(w, err)
		return
	}

	resp := ConservationView{
		Seq:       s.engine.Seq(),
		Conserved: err == nil,
		Batches:   make([]SupplyView, 0, len(supplies)),
	}
	for _, supply := range supplies {
		resp.Batches = append(resp.Batches, supplyView(supply))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSupplyList(w http.ResponseWriter, r *http.Request) {
	supplies, _ := s.engine.CheckConservation(r.Context())
	out := make([]SupplyView, 0, len(supplies))
	for _, supply := range supplies {
		out = append(out, supplyView(supply))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	supply, err := s.engine.Supply(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, supplyView(supply))
}

func (s *Server) handleSupplyHistory(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	end := s.now().UnixMilli()
	start := end - 7*24*time.Hour.Milliseconds()
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if start, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from: " + err.Error()})
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if end, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to: " + err.Error()})
			return
		}
	}

	snaps, err := s.snapshots.GetByBatch(r.Context(), batchID, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]SnapshotView, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, SnapshotView{TakenAt: snap.TakenAt, Free: snap.Free, Staked: snap.Staked, Retired: snap.Retired})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBatchList(w http.ResponseWriter, r *http.Request) {
	batches := s.engine.ListBatches(r.Context())
	out := make([]BatchView, 0, len(batches))
	for _, b := range batches {
		out = append(out, batchView(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.engine.GetBatch(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batchView(b))
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	p := s.engine.Portfolio(r.Context(), chi.URLParam(r, "holder"))
	writeJSON(w, http.StatusOK, portfolioView(p))
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.GetPosition(r.Context(), chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionView(p))
}

func (s *Server) handleCertificate(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.GetCertificate(r.Context(), chi.URLParam(r, "certificateID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, certificateView(c))
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, leaderboardView(s.engine.Leaderboard(r.Context(), limit)))
}

func (s *Server) handleLastVerification(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	report := s.lastReport
	s.mu.Unlock()

	if report != nil {
		writeJSON(w, http.StatusOK, verificationView(report))
		return
	}

	if s.checkpoints != nil {
		cp, err := s.checkpoints.GetLast(r.Context())
		if err == nil {
			writeJSON(w, http.StatusOK, checkpointView(cp))
			return
		}
		if !errors.Is(err, storage.ErrNotFound) {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "no verification has run yet"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	report, err := s.RunVerification(r.Context())
	if err != nil {
		if errors.Is(err, errVerificationRunning) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verificationView(report))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps ledger and storage errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
