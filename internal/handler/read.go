package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opted/inventory/internal/auth"
	"github.com/opted/inventory/internal/query"
)

const defaultRecent = 5

type listResponse struct {
	Results []map[string]any `json:"results"`
}

func listOf(results []map[string]any) listResponse {
	if results == nil {
		results = []map[string]any{}
	}
	return listResponse{Results: results}
}

// Query runs a filtered search across one or more types.
// GET /api/query?dgraph.type=Source&country=<uid>&_page=1
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, query.ParseRequest(r.URL.Query()))
}

// Search is a free-text search over names.
// GET /api/search?_terms=...
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	req := query.ParseRequest(r.URL.Query())
	if strings.TrimSpace(req.Terms) == "" {
		writeError(w, http.StatusBadRequest, "MISSING_TERMS", "_terms is required")
		return
	}
	h.search(w, r, req)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request, req query.Request) {
	vis := query.VisibilityFor(auth.FromContext(r.Context()))
	resp, err := h.reader.Search(r.Context(), req, vis)
	if err != nil {
		h.errorToHTTP(w, r, err)
		return
	}
	if resp.Results == nil {
		resp.Results = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Recent lists the newest accepted entries.
// GET /api/recent?n=5
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	results, err := h.reader.Recent(r.Context(), intParam(r, "n", defaultRecent))
	if err != nil {
		h.errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(results))
}

// GetEntry reads one entry by uid.
// GET /api/entries/{uid}
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	uid, ok := parseUID(w, r, "uid")
	if !ok {
		return
	}
	entry, err := h.reader.Entry(r.Context(), uid, auth.FromContext(r.Context()))
	if err != nil {
		h.errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ViewEntry reads one entry by its type and unique name.
// GET /api/view/{type}/{unique_name}
func (h *Handler) ViewEntry(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	name := chi.URLParam(r, "unique_name")
	entry, err := h.reader.EntryByName(r.Context(), typ, name, auth.FromContext(r.Context()))
	if err != nil {
		h.errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Lookup autocompletes entry names of one type.
// GET /api/lookup/{type}?q=...
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	s, ok := h.schemaParam(w, r)
	if !ok {
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusOK, listOf(nil))
		return
	}
	results, err := h.reader.Lookup(r.Context(), s.Name, q)
	if err != nil {
		h.errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(results))
}

// Duplicates lists existing entries a new entry named name could repeat.
// GET /api/duplicates/{type}?name=...
func (h *Handler) Duplicates(w http.ResponseWriter, r *http.Request) {
	s, ok := h.schemaParam(w, r)
	if !ok {
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "name is required")
		return
	}
	results, err := h.reader.Duplicates(r.Context(), s.Name, name)
	if err != nil {
		h.errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(results))
}

// ReviewQueue lists pending entries, oldest first.
// GET /api/review/queue
func (h *Handler) ReviewQueue(w http.ResponseWriter, r *http.Request) {
	results, err := h.reader.ReviewQueue(r.Context())
	if err != nil {
		h.errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(results))
}
