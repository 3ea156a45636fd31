package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type settingValue struct {
	Value string `json:"value"`
}

func (s *Server) listSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.vault.ListSettings(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) getSetting(w http.ResponseWriter, r *http.Request) {
	v, err := s.vault.GetSetting(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settingValue{Value: v})
}

func (s *Server) putSetting(w http.ResponseWriter, r *http.Request) {
	var req settingValue
	if !decode(w, r, &req) {
		return
	}
	if err := s.vault.SetSetting(r.Context(), chi.URLParam(r, "key"), req.Value); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteSetting(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.DeleteSetting(r.Context(), chi.URLParam(r, "key")); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
