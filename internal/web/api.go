package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rdeforest/ClodWeave/internal/component"
	"github.com/rdeforest/ClodWeave/internal/connection"
	"github.com/rdeforest/ClodWeave/internal/coordinator"
	"github.com/rdeforest/ClodWeave/internal/host"
	"github.com/rdeforest/ClodWeave/internal/registry"
	"github.com/rdeforest/ClodWeave/internal/schedule"
	"github.com/rdeforest/ClodWeave/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.getStatus)
	mux.HandleFunc("GET /api/types", s.listTypes)

	// Components
	mux.HandleFunc("GET /api/components", s.listComponents)
	mux.HandleFunc("POST /api/components", s.createComponent)
	mux.HandleFunc("GET /api/components/{id}", s.getComponent)
	mux.HandleFunc("DELETE /api/components/{id}", s.deleteComponent)
	mux.HandleFunc("POST /api/components/{id}/start", s.startComponent)
	mux.HandleFunc("POST /api/components/{id}/stop", s.stopComponent)

	// Connections
	mux.HandleFunc("GET /api/connections", s.listConnections)
	mux.HandleFunc("POST /api/connections", s.createConnection)
	mux.HandleFunc("DELETE /api/connections", s.deleteConnection)

	// Coordinators and their runs
	mux.HandleFunc("POST /api/coordinators/{id}/execute", s.executeCoordinator)
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)

	// Schedules
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/schedules", s.createSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/pause", s.pauseSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/resume", s.resumeSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteSchedule)

	// Secrets
	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("POST /api/secrets", s.createSecret)
	mux.HandleFunc("DELETE /api/secrets/{name}", s.deleteSecret)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	byStatus := map[component.Status]int{}
	for _, rep := range s.host.Health() {
		byStatus[rep.Status]++
	}

	active := 0
	if schedules, err := s.store.ListSchedules(); err == nil {
		for _, sc := range schedules {
			if sc.Status == store.ScheduleActive {
				active++
			}
		}
	}

	jsonResponse(w, map[string]any{
		"status":           "ok",
		"version":          s.version,
		"uptime":           time.Since(s.startedAt).Round(time.Second).String(),
		"components":       len(s.host.IDs()),
		"health":           byStatus,
		"connections":      s.host.Connections().Len(),
		"active_schedules": active,
		"ws_clients":       s.hub.Len(),
	})
}

func (s *Server) listTypes(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.host.Types().Descriptors())
}

type componentView struct {
	component.Report
	Type    string         `json:"type"`
	Targets []string       `json:"targets"`
	Config  map[string]any `json:"config,omitempty"`
}

func (s *Server) view(id string, withConfig bool) (componentView, bool) {
	rt, ok := s.host.Get(id)
	if !ok {
		return componentView{}, false
	}
	v := componentView{
		Report:  rt.Health(),
		Type:    rt.Descriptor().Type,
		Targets: rt.Targets(),
	}
	if v.Targets == nil {
		v.Targets = []string{}
	}
	if withConfig {
		v.Config = rt.Config()
	}
	return v, true
}

func (s *Server) listComponents(w http.ResponseWriter, r *http.Request) {
	ids := s.host.IDs()
	out := make([]componentView, 0, len(ids))
	for _, id := range ids {
		if v, ok := s.view(id, false); ok {
			out = append(out, v)
		}
	}
	jsonResponse(w, out)
}

func (s *Server) createComponent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID     string         `json:"id"`
		Type   string         `json:"type"`
		Config map[string]any `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.ID == "" || body.Type == "" {
		jsonError(w, "id and type are required", http.StatusBadRequest)
		return
	}
	if body.Config == nil {
		body.Config = map[string]any{}
	}

	if _, err := s.host.Add(r.Context(), body.ID, body.Type, body.Config); err != nil {
		var cfgErr *component.ConfigurationError
		if errors.As(err, &cfgErr) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]any{"error": err.Error(), "problems": cfgErr.Problems})
			return
		}
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	v, _ := s.view(body.ID, false)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) getComponent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	v, ok := s.view(id, true)
	if !ok {
		jsonError(w, "component not found", http.StatusNotFound)
		return
	}

	events, err := s.store.ListComponentEvents(id, 20)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []store.ComponentEvent{}
	}
	jsonResponse(w, map[string]any{"component": v, "events": events})
}

func (s *Server) deleteComponent(w http.ResponseWriter, r *http.Request) {
	if err := s.host.Remove(r.Context(), r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	jsonResponse(w, map[string]string{"status": "removed"})
}

func (s *Server) startComponent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.host.Start(r.Context(), id); err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	v, _ := s.view(id, false)
	jsonResponse(w, v)
}

func (s *Server) stopComponent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.host.Stop(r.Context(), id); err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	v, _ := s.view(id, false)
	jsonResponse(w, v)
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	conns := s.host.Connections().List()
	if conns == nil {
		conns = []connection.Connection{}
	}
	jsonResponse(w, conns)
}

func (s *Server) createConnection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Source   string `json:"source"`
		Target   string `json:"target"`
		Protocol string `json:"protocol"`
		Pattern  string `json:"pattern"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := s.host.Connect(body.Source, body.Target, body.Protocol, connection.Pattern(body.Pattern))
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	c, _ := s.host.Connections().Resolve(body.Source, body.Target)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(c)
}

func (s *Server) deleteConnection(w http.ResponseWriter, r *http.Request) {
	source, target := r.URL.Query().Get("source"), r.URL.Query().Get("target")
	if source == "" || target == "" {
		jsonError(w, "source and target are required", http.StatusBadRequest)
		return
	}
	if !s.host.Disconnect(source, target) {
		jsonError(w, "connection not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "removed"})
}

func (s *Server) executeCoordinator(w http.ResponseWriter, r *http.Request) {
	var req coordinator.Request
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	res, err := s.host.Execute(r.Context(), r.PathValue("id"), req)
	if err != nil {
		if res == nil {
			jsonError(w, err.Error(), statusFor(err))
			return
		}
		// A failed chain still reports how far it got.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]any{"error": err.Error(), "result": res})
		return
	}
	jsonResponse(w, res)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	runs, err := s.store.ListCoordinatorRuns(r.URL.Query().Get("coordinator"), limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.CoordinatorRun{}
	}
	jsonResponse(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetCoordinatorRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

type scheduleView struct {
	store.ScheduledRun
	Description string `json:"description"`
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedules()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]scheduleView, 0, len(schedules))
	for _, sc := range schedules {
		out = append(out, scheduleView{ScheduledRun: sc, Description: schedule.Describe(sc.Schedule)})
	}
	jsonResponse(w, out)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Coordinator string          `json:"coordinator"`
		Name        string          `json:"name"`
		Schedule    string          `json:"schedule"`
		Mode        string          `json:"mode"`
		Method      string          `json:"method"`
		Params      json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Coordinator == "" || body.Schedule == "" {
		jsonError(w, "coordinator and schedule are required", http.StatusBadRequest)
		return
	}
	if body.Mode != "" {
		if _, err := coordinator.ParseMode(body.Mode); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	normalized, err := schedule.Normalize(body.Schedule)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	next := schedule.Next(normalized, time.Now())
	if next == nil {
		jsonError(w, "schedule never fires", http.StatusBadRequest)
		return
	}
	if body.Name == "" {
		body.Name = body.Coordinator + " " + schedule.Describe(normalized)
	}

	run := &store.ScheduledRun{
		ID:          uuid.New().String(),
		Coordinator: body.Coordinator,
		Name:        body.Name,
		Schedule:    normalized,
		Mode:        body.Mode,
		Method:      body.Method,
		Params:      body.Params,
		Status:      store.ScheduleActive,
		NextRunAt:   next,
	}
	if err := s.store.SaveSchedule(run); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(scheduleView{ScheduledRun: *run, Description: schedule.Describe(normalized)})
}

func (s *Server) pauseSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleStatus(w, r.PathValue("id"), store.SchedulePaused)
}

func (s *Server) resumeSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleStatus(w, r.PathValue("id"), store.ScheduleActive)
}

func (s *Server) setScheduleStatus(w http.ResponseWriter, id, status string) {
	sc, err := s.store.GetSchedule(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sc == nil {
		jsonError(w, "schedule not found", http.StatusNotFound)
		return
	}

	sc.Status = status
	if status == store.ScheduleActive {
		sc.NextRunAt = schedule.Next(sc.Schedule, time.Now())
		if sc.NextRunAt == nil {
			sc.Status = store.ScheduleCompleted
		}
	}
	if err := s.store.SaveSchedule(sc); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, scheduleView{ScheduledRun: *sc, Description: schedule.Describe(sc.Schedule)})
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSchedule(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	var modeErr *coordinator.UnknownModeError
	switch {
	case errors.Is(err, host.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, host.ErrExists), errors.Is(err, connection.ErrExists):
		return http.StatusConflict
	case errors.Is(err, registry.ErrUnknownType),
		errors.Is(err, host.ErrNotCoordinator),
		errors.Is(err, connection.ErrInvalid),
		errors.Is(err, component.ErrConfiguration),
		errors.Is(err, component.ErrInvalidID),
		errors.As(err, &modeErr):
		return http.StatusBadRequest
	case errors.Is(err, component.ErrLifecycle):
		return http.StatusConflict
	case errors.Is(err, component.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
