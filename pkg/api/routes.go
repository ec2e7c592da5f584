package api

import (
	"net/http"
)

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// API routes with method-specific routing
	mux.HandleFunc("GET /listeners", s.HandleGetAllListeners)
	mux.HandleFunc("POST /listeners", s.HandleAddListener)
	mux.HandleFunc("GET /listeners/{id}", s.HandleGetListener)
	mux.HandleFunc("PUT /listeners/{id}", s.HandleUpdateListener)
	mux.HandleFunc("DELETE /listeners/{id}", s.HandleRemoveListener)
	mux.HandleFunc("GET /health", s.HandleHealth)

	// Dashboard static files for everything else
	mux.Handle("/", http.FileServer(http.Dir("./static")))
}
