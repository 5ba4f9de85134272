package events

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// Handlers accepts grant mutation notifications from the role and user
// management services and publishes them on the bus. Delivery is accepted
// before handlers run; 202 means the eviction will happen, not that it has.
type Handlers struct {
	bus *Bus
}

// NewHandlers creates new event ingestion handlers.
func NewHandlers(bus *Bus) *Handlers {
	return &Handlers{bus: bus}
}

// RegisterRoutes registers the event ingestion route.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/events", h.PublishEvent).Methods("POST")
}

// PublishEvent accepts one mutation notification.
func (h *Handlers) PublishEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Type   string `json:"type"`
		UserID string `json:"user_id,omitempty"`
		RoleID string `json:"role_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var payload interface{}
	switch req.Type {
	case "user.mutated":
		if req.UserID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}
		payload = UserMutated{UserID: req.UserID}
	case "role.data_scope_reassigned":
		if req.RoleID == "" {
			http.Error(w, "role_id is required", http.StatusBadRequest)
			return
		}
		payload = RoleDataScopeReassigned{RoleID: req.RoleID}
	case "user.data_scope_reassigned":
		if req.UserID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}
		payload = UserDataScopeReassigned{UserID: req.UserID}
	default:
		http.Error(w, "Unknown event type", http.StatusBadRequest)
		return
	}

	if err := h.bus.Publish(ctx, payload); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}
