package server

import (
	"encoding/json"
	"html"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jpalmerr/reachboard/internal/model"
)

// lastCheckedLayout is the local-time format of Last_checked.
const lastCheckedLayout = "2006-01-02 15:04:05"

const (
	titlePlaceholder     = "{{.Title}}"
	thresholdPlaceholder = "{{.ThresholdMs}}"
)

// statusEntry is the per-target shape served by /status and /get-data.
type statusEntry struct {
	Status       bool     `json:"Status"`
	ResponseTime *float64 `json:"Response_time"`
	LastChecked  string   `json:"Last_checked"`
}

func toStatusEntry(obs model.Observation) statusEntry {
	return statusEntry{
		Status:       obs.Reachable,
		ResponseTime: obs.Clone().LatencyMs,
		LastChecked:  obs.ObservedAt.Local().Format(lastCheckedLayout),
	}
}

// statusMap renders a snapshot keyed by target name.
func statusMap(snap model.Snapshot) map[string]statusEntry {
	out := make(map[string]statusEntry, len(snap.Observations))
	for name, obs := range snap.Observations {
		out[name] = toStatusEntry(obs)
	}
	return out
}

type historyEntry struct {
	Reachable  bool     `json:"reachable"`
	LatencyMs  *float64 `json:"latency_ms"`
	ObservedAt string   `json:"observed_at"`
	Class      string   `json:"class"`
}

type historyResponse struct {
	Name     string         `json:"name"`
	Capacity int            `json:"capacity"`
	Entries  []historyEntry `json:"entries"`
}

type intervalBody struct {
	Interval string `json:"interval"`
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// handlePage serves an embedded HTML page with the title and latency
// threshold substituted.
func (s *Server) handlePage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Assets == nil {
			http.Error(w, "Dashboard not found", http.StatusInternalServerError)
			return
		}

		content, err := fs.ReadFile(s.cfg.Assets, name)
		if err != nil {
			http.Error(w, "Dashboard not found", http.StatusInternalServerError)
			return
		}

		threshold := strconv.FormatInt(s.cfg.Threshold.Milliseconds(), 10)
		rendered := strings.NewReplacer(
			titlePlaceholder, html.EscapeString(s.cfg.Title),
			thresholdPlaceholder, threshold,
		).Replace(string(content))

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write([]byte(rendered)); err != nil {
			s.logger.Error("failed to write page", "page", name, "error", err)
		}
	}
}

// handleStatus returns the latest published round.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusMap(s.monitor.Snapshot()))
}

// handleGetData returns every persisted record with the store id removed.
func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	records, err := s.records.ListAll(r.Context())
	if err != nil {
		s.logger.Warn("list records failed", "error", err.Error())
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	out := make([]map[string]statusEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, map[string]statusEntry{
			rec.Observation.TargetName: toStatusEntry(rec.Observation),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.knownTarget(name) {
		writeError(w, http.StatusNotFound, "unknown target "+strconv.Quote(name))
		return
	}

	obs := s.history.Get(name)
	resp := historyResponse{
		Name:     name,
		Capacity: s.history.Capacity(),
		Entries:  make([]historyEntry, 0, len(obs)),
	}
	for _, o := range obs {
		resp.Entries = append(resp.Entries, historyEntry{
			Reachable:  o.Reachable,
			LatencyMs:  o.LatencyMs,
			ObservedAt: o.ObservedAt.UTC().Format(time.RFC3339Nano),
			Class:      model.Classify(o, s.cfg.Threshold).String(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) knownTarget(name string) bool {
	for _, t := range s.monitor.Targets() {
		if t.Name == name {
			return true
		}
	}
	return false
}

func (s *Server) handleGetInterval(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, intervalBody{Interval: s.monitor.Interval().String()})
}

func (s *Server) handleSetInterval(w http.ResponseWriter, r *http.Request) {
	var body intervalBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := time.ParseDuration(body.Interval)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid interval "+strconv.Quote(body.Interval))
		return
	}
	if d < s.cfg.MinInterval {
		writeError(w, http.StatusBadRequest, "interval must be at least "+s.cfg.MinInterval.String())
		return
	}
	if err := s.monitor.SetInterval(d); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("interval updated via api", "interval", d.String())
	writeJSON(w, http.StatusOK, intervalBody{Interval: s.monitor.Interval().String()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
