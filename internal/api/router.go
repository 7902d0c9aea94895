package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	tirextracker "github.com/tira-io/tirex-tracker"
	"github.com/tira-io/tirex-tracker/internal/logging"
	"github.com/tira-io/tirex-tracker/internal/model"
	"github.com/tira-io/tirex-tracker/internal/store"
)

// NewRouter creates the HTTP router with all API routes. db may be nil, in
// which case stopped sessions are not recorded and the runs routes answer 503.
func NewRouter(tracker *tirextracker.Tracker, db *store.Store, hub *Hub) http.Handler {
	mux := http.NewServeMux()

	ca := &catalogAPI{tracker: tracker}
	sa := newSessionsAPI(tracker, db)
	ra := &runsAPI{store: db}

	// Catalog
	mux.HandleFunc("GET /api/v1/providers", ca.providers)
	mux.HandleFunc("GET /api/v1/measures", ca.measures)
	mux.HandleFunc("GET /api/v1/info", ca.info)

	// Sessions
	mux.HandleFunc("GET /api/v1/sessions", sa.list)
	mux.HandleFunc("POST /api/v1/sessions", sa.start)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sa.stop)

	// Run history
	mux.HandleFunc("GET /api/v1/runs", ra.list)
	mux.HandleFunc("GET /api/v1/runs/{id}", ra.get)
	mux.HandleFunc("DELETE /api/v1/runs", ra.purge)

	// WebSocket
	if hub != nil {
		mux.HandleFunc("GET /api/v1/ws", hub.HandleWS)
	}

	return withMiddleware(mux)
}

func withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Recovery
		defer func() {
			if err := recover(); err != nil {
				logging.Errorf("http", "panic: %v", err)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()

		// CORS for local tooling
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)

		logging.Debugf("http", "%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]string{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidHandle), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyStopped):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
