package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	tirextracker "github.com/tira-io/tirex-tracker"
	"github.com/tira-io/tirex-tracker/internal/logging"
	"github.com/tira-io/tirex-tracker/internal/model"
	"github.com/tira-io/tirex-tracker/internal/session"
	"github.com/tira-io/tirex-tracker/internal/store"
)

type startRequest struct {
	Measures       []string `json:"measures"`
	PollIntervalMs int      `json:"poll_interval_ms"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
}

type runLabel struct {
	title       string
	description string
}

type sessionsAPI struct {
	tracker *tirextracker.Tracker
	store   *store.Store

	mu     sync.Mutex
	labels map[string]runLabel // session id -> labels given at start
}

func newSessionsAPI(tracker *tirextracker.Tracker, db *store.Store) *sessionsAPI {
	return &sessionsAPI{tracker: tracker, store: db, labels: make(map[string]runLabel)}
}

func (a *sessionsAPI) list(w http.ResponseWriter, r *http.Request) {
	active := a.tracker.Sessions().Active()
	if active == nil {
		active = []session.HandleInfo{}
	}
	writeJSON(w, http.StatusOK, active)
}

func (a *sessionsAPI) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
	}
	if req.PollIntervalMs < 0 {
		writeError(w, fmt.Errorf("%w: negative poll interval", model.ErrInvalidArgument))
		return
	}

	measures, err := parseMeasureList(a.tracker, req.Measures)
	if err != nil {
		writeError(w, err)
		return
	}
	h, err := a.tracker.StartTracking(r.Context(), measures, time.Duration(req.PollIntervalMs)*time.Millisecond)
	if err != nil {
		writeError(w, err)
		return
	}

	a.mu.Lock()
	a.labels[h.ID()] = runLabel{title: req.Title, description: req.Description}
	a.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         h.ID(),
		"measures":   h.Measures(),
		"started_at": h.StartedAt(),
	})
}

func (a *sessionsAPI) stop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h, found := a.tracker.Sessions().Get(id)
	if !found {
		writeError(w, fmt.Errorf("%w: %s", model.ErrInvalidHandle, id))
		return
	}
	ctx := context.WithoutCancel(r.Context())
	results, err := a.tracker.StopTracking(ctx, h)
	if err != nil {
		writeError(w, err)
		return
	}

	a.mu.Lock()
	label := a.labels[id]
	delete(a.labels, id)
	a.mu.Unlock()

	if a.store != nil {
		rec := model.RunRecord{
			ID:          id,
			Title:       label.title,
			Description: label.description,
			StartedAt:   h.StartedAt(),
			StoppedAt:   time.Now(),
			Results:     results,
		}
		if _, err := a.store.InsertRun(ctx, rec); err != nil {
			logging.Errorf("api", "record run %s: %v", id, err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "results": results})
}
