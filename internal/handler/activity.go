package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/opted/inventory/internal/activity"
)

// EntryActivity returns the audit trail of one entry, newest first.
// GET /api/entries/{uid}/activity
func (h *Handler) EntryActivity(w http.ResponseWriter, r *http.Request) {
	if h.activity == nil {
		writeError(w, http.StatusNotFound, "ACTIVITY_DISABLED", "activity log is not configured")
		return
	}
	uid, ok := parseUID(w, r, "uid")
	if !ok {
		return
	}

	q := r.URL.Query()
	opts := activity.DefaultQueryOptions()
	if s := q.Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			opts.Since = &t
		}
	}
	if u := q.Get("until"); u != "" {
		if t, err := time.Parse(time.RFC3339, u); err == nil {
			opts.Until = &t
		}
	}
	if cats := q.Get("categories"); cats != "" {
		opts.Categories = strings.Split(cats, ",")
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	opts.Cursor = q.Get("cursor")

	entries, next, total, err := h.activity.QueryByEntity(r.Context(), activity.EntityEntry, string(uid), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "activity query failed", "uid", uid, "err", err)
		writeError(w, http.StatusInternalServerError, "QUERY_FAILED", "activity query failed")
		return
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	writeJSON(w, http.StatusOK, struct {
		Entries    []activity.Entry `json:"entries"`
		NextCursor string           `json:"next_cursor,omitempty"`
		TotalCount int              `json:"total_count"`
	}{entries, next, total})
}

const (
	summaryWindow    = -12 // months
	maxActivityLimit = 500
)

// UserActivity summarizes what one user did within a window, by default
// the last twelve months.
// GET /api/users/{uid}/activity?since=...
func (h *Handler) UserActivity(w http.ResponseWriter, r *http.Request) {
	if h.activity == nil {
		writeError(w, http.StatusNotFound, "ACTIVITY_DISABLED", "activity log is not configured")
		return
	}
	uid, ok := parseUID(w, r, "uid")
	if !ok {
		return
	}
	until := time.Now().UTC()
	since := until.AddDate(0, summaryWindow, 0)
	if s := r.URL.Query().Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			since = t
		}
	}

	opts := activity.QueryOptions{Since: &since, Until: &until, Limit: maxActivityLimit}
	entries, _, _, err := h.activity.QueryByEntity(r.Context(), activity.EntityUser, string(uid), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "activity query failed", "uid", uid, "err", err)
		writeError(w, http.StatusInternalServerError, "QUERY_FAILED", "activity query failed")
		return
	}
	writeJSON(w, http.StatusOK, activity.Summarize(entries, activity.EntityUser, string(uid), since, until))
}

type activitySearchRequest struct {
	Query      string   `json:"query"`
	EntityType string   `json:"entity_type,omitempty"`
	Since      string   `json:"since,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// SearchActivity matches activity summaries.
// POST /api/activity/search
func (h *Handler) SearchActivity(w http.ResponseWriter, r *http.Request) {
	if h.activity == nil {
		writeError(w, http.StatusNotFound, "ACTIVITY_DISABLED", "activity log is not configured")
		return
	}
	var req activitySearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "query is required")
		return
	}

	opts := activity.DefaultSearchOptions()
	opts.EntityType = req.EntityType
	opts.Categories = req.Categories
	if req.Limit > 0 {
		opts.Limit = min(req.Limit, maxActivityLimit)
	}
	if req.Since != "" {
		if t, err := time.Parse(time.RFC3339, req.Since); err == nil {
			opts.Since = &t
		}
	}

	entries, total, err := h.activity.Search(r.Context(), req.Query, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "activity search failed", "err", err)
		writeError(w, http.StatusInternalServerError, "SEARCH_FAILED", "activity search failed")
		return
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	writeJSON(w, http.StatusOK, struct {
		Entries    []activity.Entry `json:"entries"`
		TotalCount int              `json:"total_count"`
	}{entries, total})
}
