// Package httpapi exposes backtests and sessions as a JSON API for the
// presentation layer.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/amirphl/quant-terminal/internal/backtest"
	"github.com/amirphl/quant-terminal/internal/db"
	"github.com/amirphl/quant-terminal/internal/marketdata"
	"github.com/amirphl/quant-terminal/internal/metrics"
	"github.com/amirphl/quant-terminal/internal/session"
	"github.com/amirphl/quant-terminal/internal/strategy"
)

// BacktestRunner runs one backtest request.
type BacktestRunner interface {
	Run(ctx context.Context, req backtest.Request) (*backtest.Result, error)
}

type Server struct {
	runner   BacktestRunner
	runs     db.RunStorage
	sessions *session.Store
	timeout  time.Duration
}

// NewServer wires the handlers. runs may be nil, in which case run lookups
// answer 404.
func NewServer(runner BacktestRunner, runs db.RunStorage, sessions *session.Store, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Server{runner: runner, runs: runs, sessions: sessions, timeout: timeout}
}

// Router returns the mux with every route registered.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/strategies", s.handleStrategies).Methods(http.MethodGet)
	api.HandleFunc("/backtests", s.handleCreateBacktest).Methods(http.MethodPost)
	api.HandleFunc("/backtests", s.handleListBacktests).Methods(http.MethodGet)
	api.HandleFunc("/backtests/{id}", s.handleGetBacktest).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleUpdateSession).Methods(http.MethodPatch)
	api.HandleFunc("/sessions/{id}/backtests", s.handleSessionBacktest).Methods(http.MethodPost)
	router.Use(logRequests)
	return router
}

type errorResponse struct {
	Type string `json:"type"`
	Msg  string `json:"message"`
}

func setResponse(w http.ResponseWriter, status int, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

// setErrorResponse maps domain errors onto HTTP status codes.
func setErrorResponse(w http.ResponseWriter, err error) {
	status, errType := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, strategy.ErrInvalidStrategy):
		status, errType = http.StatusBadRequest, "invalid_strategy"
	case errors.Is(err, strategy.ErrInvalidParams):
		status, errType = http.StatusBadRequest, "invalid_params"
	case errors.Is(err, backtest.ErrInvalidRequest), errors.Is(err, session.ErrInvalidSession), errors.Is(err, errBadBody):
		status, errType = http.StatusBadRequest, "validation"
	case errors.Is(err, marketdata.ErrUnsupportedProvider):
		status, errType = http.StatusBadRequest, "unsupported"
	case errors.Is(err, marketdata.ErrDataUnavailable):
		status, errType = http.StatusNotFound, "data_unavailable"
	case errors.Is(err, db.ErrNotFound), errors.Is(err, session.ErrNotFound):
		status, errType = http.StatusNotFound, "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		status, errType = http.StatusGatewayTimeout, "timeout"
	}
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
	}
	setResponse(w, status, &errorResponse{Type: errType, Msg: err.Error()})
}

var errBadBody = errors.New("malformed request body")

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	setResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

type strategyInfo struct {
	Kind     strategy.Kind   `json:"kind"`
	Name     string          `json:"name"`
	Defaults strategy.Params `json:"defaults"`
	Warmup   int             `json:"warmup_bars"`
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	var out []strategyInfo
	for _, kind := range strategy.Kinds() {
		strat, err := strategy.New(kind, strategy.Params{})
		if err != nil {
			setErrorResponse(w, err)
			return
		}
		out = append(out, strategyInfo{Kind: kind, Name: strat.Name(), Defaults: strat.Params(), Warmup: strat.WarmupPeriod()})
	}
	setResponse(w, http.StatusOK, out)
}

type backtestRequest struct {
	Symbol      string          `json:"symbol"`
	Strategy    string          `json:"strategy"`
	Params      strategy.Params `json:"params"`
	Lookback    string          `json:"lookback"`
	Timeframe   string          `json:"timeframe"`
	InitialCash float64         `json:"initial_cash"`
	FeeRate     *float64        `json:"fee_rate"`
}

func (s *Server) run(r *http.Request, req backtest.Request) (*backtest.Result, error) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	return s.runner.Run(ctx, req)
}

func (s *Server) handleCreateBacktest(w http.ResponseWriter, r *http.Request) {
	var body backtestRequest
	if err := decode(r, &body); err != nil {
		setErrorResponse(w, err)
		return
	}
	kind, err := strategy.ParseKind(body.Strategy)
	if err != nil {
		setErrorResponse(w, err)
		return
	}
	req := backtest.Request{
		Symbol:      body.Symbol,
		Strategy:    kind,
		Params:      body.Params,
		Lookback:    body.Lookback,
		Timeframe:   body.Timeframe,
		InitialCash: body.InitialCash,
		FeeRate:     0.001,
	}
	if body.FeeRate != nil {
		req.FeeRate = *body.FeeRate
	}

	res, err := s.run(r, req)
	if err != nil {
		setErrorResponse(w, err)
		return
	}
	setResponse(w, http.StatusCreated, res)
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.runs == nil {
		setErrorResponse(w, fmt.Errorf("%w: run %s", db.ErrNotFound, id))
		return
	}
	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		setErrorResponse(w, err)
		return
	}
	res, err := backtest.FromRun(*run)
	if err != nil {
		setErrorResponse(w, err)
		return
	}
	setResponse(w, http.StatusOK, res)
}

type runListItem struct {
	ID        string           `json:"id"`
	Symbol    string           `json:"symbol"`
	Strategy  string           `json:"strategy"`
	Timeframe string           `json:"timeframe"`
	Lookback  string           `json:"lookback"`
	CreatedAt time.Time        `json:"created_at"`
	Summary   backtest.Summary `json:"summary"`
}

func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	out := []runListItem{}
	if s.runs == nil {
		setResponse(w, http.StatusOK, out)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			setErrorResponse(w, fmt.Errorf("%w: limit %q", errBadBody, v))
			return
		}
		limit = n
	}
	runs, err := s.runs.ListRuns(r.Context(), r.URL.Query().Get("symbol"), limit)
	if err != nil {
		setErrorResponse(w, err)
		return
	}
	for _, run := range runs {
		item := runListItem{
			ID:        run.ID,
			Symbol:    run.Symbol,
			Strategy:  run.Strategy,
			Timeframe: run.Timeframe,
			Lookback:  run.Lookback,
			CreatedAt: run.CreatedAt,
		}
		if len(run.Summary) > 0 {
			if err := json.Unmarshal(run.Summary, &item.Summary); err != nil {
				setErrorResponse(w, fmt.Errorf("decoding summary of run %s: %w", run.ID, err))
				return
			}
		}
		out = append(out, item)
	}
	setResponse(w, http.StatusOK, out)
}

type createSessionRequest struct {
	Symbol string `json:"symbol"`
	session.Update
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionRequest
	if err := decode(r, &body); err != nil {
		setErrorResponse(w, err)
		return
	}
	sess, err := s.sessions.Create(body.Symbol, body.Update)
	if err != nil {
		setErrorResponse(w, err)
		return
	}
	setResponse(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		setErrorResponse(w, err)
		return
	}
	setResponse(w, http.StatusOK, sess)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var u session.Update
	if err := decode(r, &u); err != nil {
		setErrorResponse(w, err)
		return
	}
	sess, err := s.sessions.Update(mux.Vars(r)["id"], u)
	if err != nil {
		setErrorResponse(w, err)
		return
	}
	setResponse(w, http.StatusOK, sess)
}

func (s *Server) handleSessionBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.sessions.Get(id)
	if err != nil {
		setErrorResponse(w, err)
		return
	}
	res, err := s.run(r, sess.Request())
	if err != nil {
		setErrorResponse(w, err)
		return
	}
	if err := s.sessions.AddRun(id, res.ID); err != nil {
		log.WithError(err).WithField("session_id", id).Warn("failed to record run on session")
	}
	setResponse(w, http.StatusCreated, res)
}
