package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"

	"github.com/treesync/treesync/internal/core/component"
	"github.com/treesync/treesync/internal/core/service"
	"github.com/treesync/treesync/internal/core/session"
	"github.com/treesync/treesync/internal/core/uidl"
)

func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/session", s.handleCreateSession)
		r.Delete("/session/{session}", s.handleCloseSession)
		r.Post("/session/{session}/ui", s.handleCreateUI)
		r.Post("/uidl", s.handleSync)
		r.Get("/stats", s.handleStats)
	})

	r.Get("/ws", s.handleWebSocket)

	if s.static != nil {
		r.Handle("/static/*", http.StripPrefix("/static/", s.static))
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleCreateSession starts a session, or brings a checkpointed one
// back when the body names a session to resume.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resume string `json:"resume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.Resume != "" {
		sess, err := s.svc.ResumeSession(req.Resume)
		if err != nil {
			if errors.Is(err, service.ErrUnknownSession) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sess.ID(), "resumed": true})
		return
	}

	sess := s.svc.CreateSession()
	writeJSON(w, http.StatusCreated, map[string]any{"session": sess.ID()})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")
	if err := s.svc.CloseSession(id); err != nil {
		if errors.Is(err, service.ErrUnknownSession) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session": id, "status": "closed"})
}

// handleCreateUI instantiates a registered component type as the root
// of a new UI. An empty body (or component) falls back to the
// configured root component.
func (s *Server) handleCreateUI(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")

	var req struct {
		Component string `json:"component"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Component == "" {
		req.Component = s.cfg.RootComponent
	}

	u, err := s.svc.CreateUI(id, req.Component)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownSession):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, component.ErrUnknownType), errors.Is(err, service.ErrNotInstantiable):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ui": u.ID(), "component": req.Component})
}

// handleSync runs one request/response sync cycle: the body
// acknowledges what the client processed, the response is the next
// message.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	req, err := uidl.DecodeRequest(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err = req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	msg, err := s.svc.HandleSync(req.SessionID, req.UI, req.ClientID, req.Resynchronize)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownSession), errors.Is(err, session.ErrUnknownUI):
			writeError(w, http.StatusNotFound, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	body := map[string]any{"sessions": stats}
	if events := s.svc.Events(); events != nil {
		body["events"] = events.Metrics()
	}
	writeJSON(w, http.StatusOK, body)
}
