package handler

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opted/inventory/internal/auth"
	"github.com/opted/inventory/internal/dql"
	"github.com/opted/inventory/internal/event"
	"github.com/opted/inventory/internal/graphstore"
	"github.com/opted/inventory/internal/mutation"
	"github.com/opted/inventory/internal/review"
	"github.com/opted/inventory/internal/schema"
)

// createAttempts bounds how often a create is compiled again after
// losing a unique name to a concurrent create.
const createAttempts = 3

// mutationResponse describes a committed entry mutation.
type mutationResponse struct {
	UID      string                  `json:"uid"`
	Type     string                  `json:"type"`
	Revision int64                   `json:"revision"`
	IsUpsert bool                    `json:"is_upsert"`
	Changed  []string                `json:"changed"`
	Created  []string                `json:"created,omitempty"`
	Warnings []mutation.FieldWarning `json:"warnings,omitempty"`
}

type reviewRequest struct {
	Action string `json:"action"`
}

type reviewResponse struct {
	UID      string `json:"uid"`
	Action   string `json:"action"`
	From     string `json:"from"`
	Status   string `json:"status"`
	Revision int64  `json:"revision"`
}

func optionsFor(r *http.Request, actor auth.Actor) mutation.Options {
	draft, _ := strconv.ParseBool(r.URL.Query().Get("draft"))
	return mutation.Options{Time: time.Now().UTC(), Draft: draft, IP: actor.IP}
}

func eventActor(a auth.Actor) event.Actor {
	return event.Actor{UID: a.UID, Name: a.Name, IP: a.IP}
}

func (h *Handler) schemaParam(w http.ResponseWriter, r *http.Request) (*schema.Schema, bool) {
	name := chi.URLParam(r, "type")
	s, ok := h.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "UNKNOWN_TYPE", "unknown type: "+name)
		return nil, false
	}
	return s, true
}

func (h *Handler) decodePayload(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var payload map[string]any
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body: "+err.Error())
		return nil, false
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, true
}

// CreateEntry validates and stores a new entry.
// POST /api/entries/{type}
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	s, ok := h.schemaParam(w, r)
	if !ok {
		return
	}
	payload, ok := h.decodePayload(w, r)
	if !ok {
		return
	}
	actor := auth.FromContext(r.Context())
	opts := optionsFor(r, actor)
	var (
		res *mutation.Result
		uid dql.UID
		err error
	)
	// A conflict means another create took one of the unique names first;
	// compiling again picks the next free one.
	for range createAttempts {
		res, err = h.mutations.Compile(r.Context(), s, payload, actor, "", opts)
		if err != nil {
			h.errorToHTTP(w, r, err)
			return
		}
		uid, err = res.Commit(r.Context(), h.store)
		if !errors.Is(err, graphstore.ErrConflict) {
			break
		}
		h.logger.InfoContext(r.Context(), "create lost unique name race", "type", s.Name)
	}
	if err != nil {
		h.errorToHTTP(w, r, err)
		return
	}

	out := response(res, uid)
	name, _ := subjectString(res, "name")
	status, _ := subjectString(res, "entry_review_status")
	h.recorder.Record(r.Context(), event.NewEntryCreated(event.EntryCreatedPayload{
		UID:     string(uid),
		Type:    s.Name,
		Name:    name,
		Status:  status,
		Changed: res.Changed,
		Created: out.Created,
		Actor:   eventActor(actor),
	}))
	writeJSON(w, http.StatusCreated, out)
}

// UpdateEntry applies a partial payload to an existing entry.
// PATCH /api/entries/{type}/{uid}
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	s, ok := h.schemaParam(w, r)
	if !ok {
		return
	}
	uid, ok := parseUID(w, r, "uid")
	if !ok {
		return
	}
	payload, ok := h.decodePayload(w, r)
	if !ok {
		return
	}
	actor := auth.FromContext(r.Context())
	res, err := h.mutations.Compile(r.Context(), s, payload, actor, uid, optionsFor(r, actor))
	if err != nil {
		h.errorToHTTP(w, r, err)
		return
	}
	if res.IsEmpty() {
		writeJSON(w, http.StatusOK, response(res, uid))
		return
	}
	if _, err := res.Commit(r.Context(), h.store); err != nil {
		h.errorToHTTP(w, r, err)
		return
	}

	out := response(res, uid)
	h.recorder.Record(r.Context(), event.NewEntryUpdated(event.EntryUpdatedPayload{
		UID:      string(uid),
		Type:     s.Name,
		Revision: res.Revision,
		Changed:  res.Changed,
		Created:  out.Created,
		Actor:    eventActor(actor),
	}))
	writeJSON(w, http.StatusOK, out)
}

// DeleteEntry removes an entry and all of its predicates.
// DELETE /api/entries/{uid}
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	uid, ok := parseUID(w, r, "uid")
	if !ok {
		return
	}
	actor := auth.FromContext(r.Context())
	res, err := h.mutations.CompileDelete(r.Context(), uid, actor)
	if err != nil {
		h.errorToHTTP(w, r, err)
		return
	}
	if _, err := res.Commit(r.Context(), h.store); err != nil {
		h.errorToHTTP(w, r, err)
		return
	}
	h.recorder.Record(r.Context(), event.NewEntryDeleted(event.EntryDeletedPayload{
		UID:   string(uid),
		Type:  res.Schema.Name,
		Actor: eventActor(actor),
	}))
	w.WriteHeader(http.StatusNoContent)
}

// ReviewEntry applies a review action.
// POST /api/entries/{uid}/review
func (h *Handler) ReviewEntry(w http.ResponseWriter, r *http.Request) {
	uid, ok := parseUID(w, r, "uid")
	if !ok {
		return
	}
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body: "+err.Error())
		return
	}
	action, err := review.ParseAction(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ACTION", err.Error())
		return
	}
	actor := auth.FromContext(r.Context())
	tr, err := h.reviews.Compile(r.Context(), uid, action, actor, optionsFor(r, actor))
	if err != nil {
		h.errorToHTTP(w, r, err)
		return
	}
	if _, err := tr.Commit(r.Context(), h.store); err != nil {
		h.errorToHTTP(w, r, err)
		return
	}
	h.recorder.Record(r.Context(), event.NewEntryReviewed(event.EntryReviewedPayload{
		UID:      string(uid),
		Type:     tr.Schema.Name,
		Action:   string(action),
		From:     tr.From,
		To:       tr.To,
		Revision: tr.Revision,
		Actor:    eventActor(actor),
	}))
	writeJSON(w, http.StatusOK, reviewResponse{
		UID:      string(uid),
		Action:   string(action),
		From:     tr.From,
		Status:   tr.To,
		Revision: tr.Revision,
	})
}

func response(res *mutation.Result, uid dql.UID) mutationResponse {
	out := mutationResponse{
		UID:      string(uid),
		Type:     res.Schema.Name,
		Revision: res.Revision,
		IsUpsert: res.IsUpsert,
		Changed:  res.Changed,
		Warnings: res.Warnings,
	}
	if out.Changed == nil {
		out.Changed = []string{}
	}
	for _, assigned := range res.Assigned {
		if assigned != uid {
			out.Created = append(out.Created, string(assigned))
		}
	}
	sort.Strings(out.Created)
	return out
}

// subjectString returns the string asserted for pred on the subject.
func subjectString(res *mutation.Result, pred string) (string, bool) {
	for _, st := range res.Asserts {
		if st.Subject == res.Subject && st.Predicate == pred && st.Object.Type() == dql.TypeString {
			return st.Object.Str(), true
		}
	}
	return "", false
}
