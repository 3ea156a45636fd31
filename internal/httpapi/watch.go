package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/forest6511/nimbusvault/pkg/vault"
)

// watchItems streams the listing for the query filter as server-sent
// events. Each "items" event carries the full listing; a "locked" event
// ends the stream when the vault locks.
func (s *Server) watchItems(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "invalid filter")
		return
	}
	snaps, err := s.vault.Watch(r.Context(), f)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for snap := range snaps {
		if errors.Is(snap.Err, vault.ErrVaultLocked) {
			fmt.Fprint(w, "event: locked\ndata: {}\n\n")
			flusher.Flush()
			return
		}
		if snap.Err != nil {
			s.logger.WarnContext(r.Context(), "watch listing failed", "error", snap.Err)
			fmt.Fprint(w, "event: error\ndata: {\"error\":\"listing failed\"}\n\n")
			flusher.Flush()
			continue
		}
		data, err := json.Marshal(snap.Items)
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "event: items\ndata: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
}
