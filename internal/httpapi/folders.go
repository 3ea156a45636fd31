package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type createFolderRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id"`
}

type updateFolderRequest struct {
	Name       *string `json:"name"`
	OrderIndex *int    `json:"order_index"`
}

// listFolders returns the whole tree, or the children of ?parent= ("root"
// for top-level folders).
func (s *Server) listFolders(w http.ResponseWriter, r *http.Request) {
	var (
		out any
		err error
	)
	switch parent := r.URL.Query().Get("parent"); parent {
	case "":
		out, err = s.vault.ListAllFolders(r.Context())
	case "root":
		out, err = s.vault.ListFolders(r.Context(), nil)
	default:
		out, err = s.vault.ListFolders(r.Context(), &parent)
	}
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createFolder(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.vault.CreateFolder(r.Context(), req.Name, optionalID(req.ParentID))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	f, err := s.vault.GetFolder(r.Context(), id)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) getFolder(w http.ResponseWriter, r *http.Request) {
	f, err := s.vault.GetFolder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) updateFolder(w http.ResponseWriter, r *http.Request) {
	var req updateFolderRequest
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if req.Name != nil {
		if err := s.vault.RenameFolder(r.Context(), id, *req.Name); err != nil {
			s.handleError(w, r, err)
			return
		}
	}
	if req.OrderIndex != nil {
		if err := s.vault.SetFolderOrder(r.Context(), id, *req.OrderIndex); err != nil {
			s.handleError(w, r, err)
			return
		}
	}
	s.getFolder(w, r)
}

func (s *Server) deleteFolder(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.DeleteFolder(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) moveFolder(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.vault.MoveFolder(r.Context(), chi.URLParam(r, "id"), optionalID(req.FolderID)); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) trashFolder(w http.ResponseWriter, r *http.Request) {
	id, err := s.vault.TrashFolder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trashResponse{TrashID: id})
}
