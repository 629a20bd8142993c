// Package loads exposes read-only coordination state over HTTP for
// dispatcher dashboards: loads by company, open emergency alerts and the
// online driver count.
package loads

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/loadline/dispatchd/core/bus"
	"github.com/loadline/dispatchd/core/store"
)

// NewLoadsHandler returns an HTTP handler exposing loads via
// GET /api/loads?company_id=X and a single load via GET /api/loads/{id}.
func NewLoadsHandler(st store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if id := strings.TrimPrefix(r.URL.Path, "/api/loads/"); id != "" && id != r.URL.Path {
			l, err := st.GetLoad(r.Context(), id)
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "load not found", http.StatusNotFound)
				return
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, l)
			return
		}

		companyID := r.URL.Query().Get("company_id")
		if companyID == "" {
			http.Error(w, "company_id is required", http.StatusBadRequest)
			return
		}
		ls, err := st.ListLoadsByCompany(r.Context(), companyID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, ls)
	})
}

// NewAlertsHandler returns an HTTP handler exposing open emergency alerts
// via GET /api/alerts/open.
func NewAlertsHandler(st store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		alerts, err := st.ListOpenAlerts(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, alerts)
	})
}

// NewPresenceHandler returns an HTTP handler exposing the online driver
// count via GET /api/presence.
func NewPresenceHandler(p *bus.Presence) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if driverID := r.URL.Query().Get("driver_id"); driverID != "" {
			entry, ok := p.Entry(driverID)
			if !ok {
				http.Error(w, "driver offline", http.StatusNotFound)
				return
			}
			writeJSON(w, entry)
			return
		}
		writeJSON(w, map[string]int{"online": p.OnlineCount()})
	})
}

// NewMux wires the read-only endpoints onto one mux.
func NewMux(st store.Store, p *bus.Presence) *http.ServeMux {
	mux := http.NewServeMux()
	loads := NewLoadsHandler(st)
	mux.Handle("/api/loads", loads)
	mux.Handle("/api/loads/", loads)
	mux.Handle("/api/alerts/open", NewAlertsHandler(st))
	mux.Handle("/api/presence", NewPresenceHandler(p))
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
