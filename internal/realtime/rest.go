package realtime

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/tessro/atelier/internal/backend"
	"github.com/tessro/atelier/internal/output"
	"github.com/tessro/atelier/internal/session"
	"github.com/tessro/atelier/internal/version"
)

type createSessionRequest struct {
	Backend        string `json:"backend"`
	ProjectPath    string `json:"project_path"`
	Model          string `json:"model"`
	PermissionMode string `json:"permission_mode"`
	MaxTurns       int    `json:"max_turns"`
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

type flagValue struct {
	Value string `json:"value"`
}

type healthResponse struct {
	Alive bool `json:"alive"`
}

type outputResponse struct {
	Raw    []string       `json:"raw"`
	Events []output.Event `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, backend.ErrSessionNotFound),
		errors.Is(err, backend.ErrPluginNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrUnknownBackend),
		errors.Is(err, session.ErrInvalidProject),
		errors.Is(err, backend.ErrInvalidSettings),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	infos := s.plugins.List()
	if infos == nil {
		infos = []backend.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleListFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := s.plugins.Flags(r.PathValue("name"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if flags == nil {
		flags = []backend.Flag{}
	}
	writeJSON(w, http.StatusOK, flags)
}

func (s *Server) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	v, err := s.plugins.GetFlag(r.PathValue("name"), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, flagValue{Value: v})
}

func (s *Server) handleSetFlag(w http.ResponseWriter, r *http.Request) {
	var req flagValue
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.plugins.SetFlag(r.Context(), r.PathValue("name"), r.PathValue("id"), req.Value); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Backend == "" || req.ProjectPath == "" {
		writeError(w, http.StatusBadRequest, "backend and project_path are required")
		return
	}

	snap, err := s.sessions.Start(r.Context(), req.ProjectPath, req.Backend, session.Options{
		Model:          req.Model,
		PermissionMode: req.PermissionMode,
		MaxTurns:       req.MaxTurns,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	var snaps []session.Snapshot
	if project := r.URL.Query().Get("project"); project != "" {
		snaps = s.sessions.ListForProject(project)
	} else {
		snaps = s.sessions.List()
	}
	if snaps == nil {
		snaps = []session.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Alive: s.sessions.Health(r.PathValue("id"))})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if err := s.sessions.Send(r.Context(), r.PathValue("id"), req.Message); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleReadOutput(w http.ResponseWriter, r *http.Request) {
	raw, events, err := s.sessions.ReadBoth(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if raw == nil {
		raw = []string{}
	}
	if events == nil {
		events = []output.Event{}
	}
	writeJSON(w, http.StatusOK, outputResponse{Raw: raw, Events: events})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Stop(r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
