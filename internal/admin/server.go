package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/AMDEPYC/cluster-plug/internal/scaling"
)

const (
	maxRequestBodyBytes = 4 << 10
	shutdownTimeout     = 5 * time.Second

	defaultWriteRate  rate.Limit = 20
	defaultWriteBurst int        = 10
)

// Controller is the part of the cluster plug manager exposed over HTTP.
type Controller interface {
	ParamNames() []string
	GetParam(name string) (string, error)
	SetParam(name, value string) error
	Status() scaling.Status
	Suspend()
	Resume()
}

// Server provides the HTTP admin API: runtime tunables, status and
// suspend/resume notifications.
type Server struct {
	ctrl    Controller
	limiter *rate.Limiter
	logger  logr.Logger
}

type ServerOption func(*Server)

// WithWriteLimit bounds how often state changing requests are accepted.
func WithWriteLimit(limit rate.Limit, burst int) ServerOption {
	return func(s *Server) { s.limiter = rate.NewLimiter(limit, burst) }
}

func NewServer(ctrl Controller, logger logr.Logger, opts ...ServerOption) *Server {
	s := &Server{
		ctrl:    ctrl,
		limiter: rate.NewLimiter(defaultWriteRate, defaultWriteBurst),
		logger:  logger.WithName("admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /params", s.handleListParams)
	mux.HandleFunc("GET /params/{name}", s.handleGetParam)
	mux.Handle("PUT /params/{name}", s.limitWrites(http.HandlerFunc(s.handleSetParam)))
	mux.HandleFunc("GET /status", s.handleGetStatus)
	mux.Handle("POST /suspend", s.limitWrites(http.HandlerFunc(s.handleSuspend)))
	mux.Handle("POST /resume", s.limitWrites(http.HandlerFunc(s.handleResume)))

	return mux
}

// ListenAndServe serves the admin API on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving admin api", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) limitWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// errorStatus maps controller errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, scaling.ErrUnknownParameter):
		return http.StatusNotFound
	case errors.Is(err, scaling.ErrInvalidArgument):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error string `json:"error"`
}

type paramResponse struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (s *Server) handleListParams(w http.ResponseWriter, r *http.Request) {
	params := make(map[string]string)
	for _, name := range s.ctrl.ParamNames() {
		value, err := s.ctrl.GetParam(name)
		if err != nil {
			s.logger.Error(err, "reading parameter failed", "param", name)
			writeError(w, errorStatus(err), err.Error())
			return
		}
		params[name] = value
	}

	writeJSON(w, http.StatusOK, params)
}

func (s *Server) handleGetParam(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	value, err := s.ctrl.GetParam(name)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, paramResponse{Name: name, Value: value})
}

// handleSetParam takes the new value as the plain text request body.
func (s *Server) handleSetParam(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if err := s.ctrl.SetParam(name, string(body)); err != nil {
		s.logger.V(4).Info("rejected parameter write", "param", name, "value", strings.TrimSpace(string(body)), "error", err.Error())
		writeError(w, errorStatus(err), err.Error())
		return
	}
	value, _ := s.ctrl.GetParam(name)
	s.logger.Info("parameter updated", "param", name, "value", value)

	writeJSON(w, http.StatusOK, paramResponse{Name: name, Value: value})
}

type statusResponse struct {
	Active          bool        `json:"active"`
	LowPower        bool        `json:"low_power"`
	Suspended       bool        `json:"suspended"`
	VoteUp          int         `json:"vote_up"`
	VoteDown        int         `json:"vote_down"`
	LittleDesired   bool        `json:"little_desired"`
	LastTick        time.Time   `json:"last_tick"`
	Loaded          int         `json:"loaded"`
	Unloaded        int         `json:"unloaded"`
	Loads           map[int]int `json:"loads"`
	LastVetoed      bool        `json:"last_vetoed"`
	Ticks           uint64      `json:"ticks"`
	StaleResets     uint64      `json:"stale_resets"`
	Vetoes          uint64      `json:"vetoes"`
	OfflineFailures uint64      `json:"offline_failures"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	status := s.ctrl.Status()

	writeJSON(w, http.StatusOK, statusResponse{
		Active:          status.Active,
		LowPower:        status.LowPower,
		Suspended:       status.Suspended,
		VoteUp:          status.Engine.VoteUp,
		VoteDown:        status.Engine.VoteDown,
		LittleDesired:   status.Engine.LittleDesired,
		LastTick:        status.Engine.LastTick,
		Loaded:          status.LastSummary.Loaded,
		Unloaded:        status.LastSummary.Unloaded,
		Loads:           status.LastSummary.Loads,
		LastVetoed:      status.LastPlug.Vetoed,
		Ticks:           status.Counters.Ticks,
		StaleResets:     status.Counters.StaleResets,
		Vetoes:          status.Counters.Vetoes,
		OfflineFailures: status.Counters.OfflineFailures,
	})
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Suspend()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Resume()
	w.WriteHeader(http.StatusNoContent)
}
