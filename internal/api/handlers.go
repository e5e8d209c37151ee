package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hass/internal/audit"
	"github.com/nerrad567/gray-logic-hass/internal/entity"
	"github.com/nerrad567/gray-logic-hass/internal/scheduler"
)

// handleHealth reports liveness and whether the hub link is up.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	connected := s.link != nil && s.link.Connected()
	status := "ok"
	if !connected {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"version":       s.version,
		"hub_connected": connected,
		"entities":      s.store.Len(),
	})
}

// handleStats returns connection, relay, telemetry and WebSocket counters.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{
		"websocket_clients": s.hub.ClientCount(),
	}
	if s.link != nil {
		out["hub"] = s.link.Stats()
	}
	if s.relay != nil {
		out["relay"] = s.relay.Stats()
	}
	if s.telemetry != nil {
		out["influxdb"] = s.telemetry.Stats()
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListEntities returns every mirrored entity, optionally by domain.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	all := s.store.All()
	out := make([]entity.State, 0, len(all))
	for _, st := range all {
		if domain == "" || st.Domain() == domain {
			out = append(out, st)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": out,
		"count":    len(out),
	})
}

// handleGetEntity returns one entity's mirrored state.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := entity.ValidateID(id); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	st, ok := s.store.Get(id)
	if !ok {
		writeNotFound(w, "entity not reported by hub: "+id)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleEntityHistory returns recorded states, newest first.
func (s *Server) handleEntityHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "state history is disabled")
		return
	}
	id := chi.URLParam(r, "id")
	if err := entity.ValidateID(id); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.History(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("reading state history failed", "entity_id", id, "error", err)
		writeInternalError(w, "failed to read state history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entity_id": id,
		"history":   entries,
		"count":     len(entries),
	})
}

// handleListTasks returns live scheduled tasks.
func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	tasks := []scheduler.TaskInfo{}
	if s.scheduler != nil {
		tasks = s.scheduler.Tasks()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// handleListCalls returns the service-call audit log.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		writeUnavailable(w, "service call log is disabled")
		return
	}
	q := r.URL.Query()
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	res, err := s.calls.List(r.Context(), audit.Filter{
		Domain:   q.Get("domain"),
		EntityID: q.Get("entity_id"),
		Origin:   q.Get("origin"),
		Failed:   q.Get("failed") == "true",
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.logger.Error("listing service calls failed", "error", err)
		writeInternalError(w, "failed to list service calls")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &queryError{key: key, value: raw}
	}
	return n, nil
}

type queryError struct {
	key, value string
}

func (e *queryError) Error() string {
	return "invalid " + e.key + ": " + strconv.Quote(e.value)
}
