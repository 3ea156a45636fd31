package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/forest6511/nimbusvault/pkg/vault"
)

type createItemRequest struct {
	Type     string  `json:"type"`
	Title    string  `json:"title"`
	Payload  []byte  `json:"payload"`
	FolderID *string `json:"folder_id"`
	Starred  bool    `json:"starred"`
}

type updateItemRequest struct {
	Title   *string `json:"title"`
	Type    *string `json:"type"`
	Payload *[]byte `json:"payload"`
}

type moveRequest struct {
	FolderID *string `json:"folder_id"`
}

type trashResponse struct {
	TrashID string `json:"trash_id"`
}

// filterFromQuery reads type, folder ("root" for root only), starred and
// limit.
func filterFromQuery(r *http.Request) (vault.Filter, error) {
	var f vault.Filter
	q := r.URL.Query()
	if t := q.Get("type"); t != "" {
		typ, err := vault.ParseItemType(t)
		if err != nil {
			return f, err
		}
		f.Type = &typ
	}
	switch folder := q.Get("folder"); folder {
	case "":
	case "root":
		f.RootOnly = true
	default:
		f.FolderID = &folder
	}
	if s := q.Get("starred"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return f, err
		}
		f.StarredOnly = b
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return f, strconv.ErrSyntax
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "invalid filter")
		return
	}
	items, err := s.vault.ListItems(r.Context(), f)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) searchItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.vault.SearchByTitle(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) recentItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.vault.RecentItems(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) counts(w http.ResponseWriter, r *http.Request) {
	c, err := s.vault.Counts(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) createItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if !decode(w, r, &req) {
		return
	}
	typ, err := vault.ParseItemType(req.Type)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	it, err := s.vault.CreateItem(r.Context(), vault.NewItem{
		Type:     typ,
		Title:    req.Title,
		Payload:  req.Payload,
		FolderID: optionalID(req.FolderID),
		Starred:  req.Starred,
	})
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

// getItem returns the decrypted item and records the access.
func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	it, err := s.vault.OpenItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if !decode(w, r, &req) {
		return
	}
	upd := vault.ItemUpdate{Title: req.Title}
	if req.Type != nil {
		typ, err := vault.ParseItemType(*req.Type)
		if err != nil {
			s.handleError(w, r, err)
			return
		}
		upd.Type = &typ
	}
	if req.Payload != nil {
		upd.Payload = *req.Payload
		if upd.Payload == nil {
			upd.Payload = []byte{}
		}
	}
	it, err := s.vault.UpdateItem(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.DeleteItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleStar(w http.ResponseWriter, r *http.Request) {
	starred, err := s.vault.ToggleStarred(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"starred": starred})
}

func (s *Server) moveItem(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.vault.MoveItem(r.Context(), chi.URLParam(r, "id"), optionalID(req.FolderID)); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) trashItem(w http.ResponseWriter, r *http.Request) {
	id, err := s.vault.TrashItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trashResponse{TrashID: id})
}
