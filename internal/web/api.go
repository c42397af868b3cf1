package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.getHealth)
	mux.HandleFunc("GET /api/session", s.getSession)
	mux.HandleFunc("GET /api/session/agents", s.listConnectedAgents)
	mux.HandleFunc("GET /api/session/events", s.listSessionEvents)
	mux.HandleFunc("GET /api/session/agents/{id}/lines", s.getAgentLines)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess := s.registry.Current()
	if sess == nil {
		jsonError(w, "no session", http.StatusNotFound)
		return
	}
	jsonResponse(w, sess.Snapshot())
}

func (s *Server) listConnectedAgents(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.tracker.List())
}

func (s *Server) listSessionEvents(w http.ResponseWriter, r *http.Request) {
	sess := s.registry.Current()
	if sess == nil {
		jsonError(w, "no session", http.StatusNotFound)
		return
	}
	if s.store == nil {
		jsonError(w, "journal disabled", http.StatusServiceUnavailable)
		return
	}
	events, err := s.store.ListEvents(sess.ID())
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, events)
}

func (s *Server) getAgentLines(w http.ResponseWriter, r *http.Request) {
	agentID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		jsonError(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	sess := s.registry.Current()
	if sess == nil {
		jsonError(w, "no session", http.StatusNotFound)
		return
	}
	if s.store == nil {
		jsonError(w, "journal disabled", http.StatusServiceUnavailable)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	lines, err := s.store.GetLines(sess.ID(), agentID, limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, lines)
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
