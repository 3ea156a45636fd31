package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) listTrash(w http.ResponseWriter, r *http.Request) {
	entries, err := s.vault.ListTrash(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) restoreTrash(w http.ResponseWriter, r *http.Request) {
	res, err := s.vault.RestoreTrash(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) purgeTrash(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.PurgeTrash(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) emptyTrash(w http.ResponseWriter, r *http.Request) {
	n, err := s.vault.EmptyTrash(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}
