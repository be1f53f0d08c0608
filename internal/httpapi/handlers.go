package httpapi

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tickvault/internal/batch"
	"github.com/sawpanic/tickvault/internal/orderbook"
	"github.com/sawpanic/tickvault/internal/scheduler"
)

// HealthResponse is the /health body.
type HealthResponse struct {
	Status        string                 `json:"status"` // "healthy", "degraded"
	Timestamp     time.Time              `json:"timestamp"`
	Uptime        string                 `json:"uptime"`
	NumGoroutines int                    `json:"num_goroutines"`
	Checks        map[string]CheckResult `json:"checks"`
	Scheduler     *scheduler.Status      `json:"scheduler,omitempty"`
}

// CheckResult represents one dependency probe.
type CheckResult struct {
	Status   string        `json:"status"` // "pass", "fail"
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// VWAPResponse is the /book/vwap body.
type VWAPResponse struct {
	Side            string           `json:"side"`
	Size            float64          `json:"size"`
	RequireFullFill bool             `json:"require_full_fill"`
	VWAP            orderbook.Metric `json:"vwap"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     time.Now().UTC(),
		Uptime:        time.Since(s.startTime).Round(time.Second).String(),
		NumGoroutines: runtime.NumGoroutine(),
		Checks:        make(map[string]CheckResult, len(s.deps.Checks)),
	}
	for name, check := range s.deps.Checks {
		start := time.Now()
		res := CheckResult{Status: "pass"}
		if err := check(r.Context()); err != nil {
			res.Status = "fail"
			res.Message = err.Error()
			resp.Status = "degraded"
		}
		res.Duration = time.Since(start)
		resp.Checks[name] = res
	}
	if s.deps.Scheduler != nil {
		st := s.deps.Scheduler.GetStatus()
		resp.Scheduler = &st
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) streamStats() []batch.Stats {
	out := make([]batch.Stats, 0, len(s.deps.Streams))
	for _, src := range s.deps.Streams {
		out = append(out, src.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out
}

func (s *Server) listStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.streamStats())
}

func (s *Server) getStream(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	for _, st := range s.streamStats() {
		if st.Stream == name {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown stream "+name)
}

func (s *Server) book(w http.ResponseWriter, r *http.Request) {
	if s.deps.Book == nil {
		writeError(w, http.StatusNotFound, "live book is disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Book.View())
}

func (s *Server) bookVWAP(w http.ResponseWriter, r *http.Request) {
	if s.deps.Book == nil {
		writeError(w, http.StatusNotFound, "live book is disabled")
		return
	}
	q := r.URL.Query()
	side, err := orderbook.ParseSide(q.Get("side"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	size, err := strconv.ParseFloat(q.Get("size"), 64)
	if err != nil || !(size > 0) {
		writeError(w, http.StatusBadRequest, "size must be a positive number")
		return
	}
	full := true
	if v := q.Get("full"); v != "" {
		if full, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "full must be a boolean")
			return
		}
	}
	writeJSON(w, http.StatusOK, VWAPResponse{
		Side:            side.String(),
		Size:            size,
		RequireFullFill: full,
		VWAP:            s.deps.Book.VWAP(side, size, full),
	})
}
