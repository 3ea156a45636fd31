package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type addLocationRequest struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type reorderRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) listLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := s.locations.ListLocations(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, locs)
}

func (s *Server) addLocation(w http.ResponseWriter, r *http.Request) {
	var req addLocationRequest
	if !decode(w, r, &req) {
		return
	}
	loc, err := s.locations.AddLocation(r.Context(), req.Name, req.Latitude, req.Longitude)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loc)
}

func (s *Server) getLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := s.locations.GetLocation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) defaultLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := s.locations.GetDefault(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) setDefaultLocation(w http.ResponseWriter, r *http.Request) {
	if err := s.locations.SetDefault(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeLocation(w http.ResponseWriter, r *http.Request) {
	if err := s.locations.RemoveLocation(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reorderLocations(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.locations.Reorder(r.Context(), req.IDs); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
