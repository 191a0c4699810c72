package handlers

import (
	"net/http"

	"github.com/joaopvieira/agendly/libs/sse"
	"github.com/joaopvieira/agendly/services/portal-service/internal/relay"
)

// Events serves the browser-facing live update stream. Each connection
// attaches to the relay before streaming and releases on disconnect, so the
// upstream subscription for a business exists exactly while at least one
// browser is listening.
func Events(hub *sse.Hub, mgr *relay.Manager) http.Handler {
	stream := hub.Handler(businessID)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := businessID(r)
		if id == "" {
			http.Error(w, "business_id required", http.StatusBadRequest)
			return
		}
		release := mgr.Attach(id)
		defer release()
		stream.ServeHTTP(w, r)
	})
}
