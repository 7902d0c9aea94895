package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tira-io/tirex-tracker/internal/model"
	"github.com/tira-io/tirex-tracker/internal/store"
)

type runsAPI struct {
	store *store.Store
}

func (a *runsAPI) ready(w http.ResponseWriter) bool {
	if a.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run history disabled"})
		return false
	}
	return true
}

func (a *runsAPI) list(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	runs, err := a.store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *runsAPI) get(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	run, err := a.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// purge deletes runs started before the RFC 3339 "before" parameter.
func (a *runsAPI) purge(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}
	before, err := time.Parse(time.RFC3339, r.URL.Query().Get("before"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "before parameter must be an RFC 3339 time"})
		return
	}
	deleted, err := a.store.PurgeBefore(r.Context(), before)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "purged",
		"deleted": deleted,
	})
}
