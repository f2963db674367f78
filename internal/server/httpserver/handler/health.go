package handler

import (
	"net/http"
	"time"
)

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady reports the node id and the peers with an established link.
func (h *Handler) handleReady(w http.ResponseWriter, _ *http.Request) {
	peers := h.cluster.ConnectedPeerIDs()
	if peers == nil {
		peers = []string{}
	}
	h.writeJSON(w, http.StatusOK, Ready{
		Status:   "ready",
		ServerID: h.cluster.ServerID(),
		Peers:    peers,
	})
}
