package api

import (
	"encoding/json"
	"net/http"

	"github.com/litehook/litehook/pkg/config"
	"github.com/litehook/litehook/pkg/version"
)

func (s *Server) HandleGetAllListeners(w http.ResponseWriter, r *http.Request) {
	rows, err := s.sup.GetAllListeners()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list listeners", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) HandleAddListener(w http.ResponseWriter, r *http.Request) {
	var cfg config.ListenerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid body", err.Error())
		return
	}

	id, err := s.sup.AddListener(cfg)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to add listener", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) HandleGetListener(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	row, err := s.sup.GetListener(id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to get listener", err.Error())
		return
	}
	// row may be nil; the client receives "null" for unknown ids.
	s.writeJSON(w, http.StatusOK, row)
}

func (s *Server) HandleUpdateListener(w http.ResponseWriter, r *http.Request) {
	var cfg config.ListenerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid body", err.Error())
		return
	}
	cfg.ID = r.PathValue("id")

	if err := s.sup.UpdateListener(cfg); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to update listener", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": cfg.ID})
}

func (s *Server) HandleRemoveListener(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.sup.RemoveListener(id)
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version.Version,
	})
}
