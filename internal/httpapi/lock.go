package httpapi

import (
	"net/http"
	"time"

	"github.com/forest6511/nimbusvault/pkg/crypto"
)

type lockStateResponse struct {
	Initialized bool       `json:"initialized"`
	Unlocked    bool       `json:"unlocked"`
	Since       *time.Time `json:"since,omitempty"`
}

type unlockRequest struct {
	Credential string `json:"credential"`
}

func (s *Server) lockState(w http.ResponseWriter, r *http.Request) {
	initialized, err := s.vault.Initialized(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lockStateResponse{
		Initialized: initialized,
		Unlocked:    s.vault.IsUnlocked(),
	})
}

func (s *Server) unlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if !decode(w, r, &req) {
		return
	}
	cred := []byte(req.Credential)
	defer crypto.SecureWipe(cred)

	h, err := s.vault.Unlock(r.Context(), cred)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	since := h.Since
	writeJSON(w, http.StatusOK, lockStateResponse{Initialized: true, Unlocked: true, Since: &since})
}

func (s *Server) lock(w http.ResponseWriter, r *http.Request) {
	s.vault.Lock(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
