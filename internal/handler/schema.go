package handler

import (
	"net/http"

	"github.com/opted/inventory/internal/auth"
	"github.com/opted/inventory/internal/schema"
)

// fieldDescription is the client-facing form of a field. Hidden fields
// and fields above the caller's role are not described.
type fieldDescription struct {
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	Label       string          `json:"label"`
	Description string          `json:"description,omitempty"`
	Required    bool            `json:"required,omitempty"`
	Default     any             `json:"default,omitempty"`
	Choices     []schema.Choice `json:"choices,omitempty"`
	Targets     []string        `json:"targets,omitempty"`
	AllowNew    bool            `json:"allow_new,omitempty"`
	New         bool            `json:"new"`
	Edit        bool            `json:"edit"`
	ReadOnly    bool            `json:"read_only,omitempty"`
	MinYear     int             `json:"min_year,omitempty"`
	MaxYear     int             `json:"max_year,omitempty"`
}

type schemaDescription struct {
	Name      string             `json:"name"`
	Parent    string             `json:"parent,omitempty"`
	Abstract  bool               `json:"abstract,omitempty"`
	Types     []string           `json:"types"`
	CanCreate bool               `json:"can_create"`
	Fields    []fieldDescription `json:"fields"`
}

func describe(s *schema.Schema, viewer auth.Actor) schemaDescription {
	out := schemaDescription{
		Name:      s.Name,
		Parent:    s.Parent,
		Abstract:  s.Abstract,
		Types:     s.Types(),
		CanCreate: !s.Abstract && viewer.Can(s.CreatePermission),
		Fields:    []fieldDescription{},
	}
	for _, f := range s.Fields() {
		if f.Hidden || !viewer.Can(f.Permission) {
			continue
		}
		out.Fields = append(out.Fields, fieldDescription{
			Name:        f.Name,
			Kind:        f.Kind.String(),
			Label:       f.Label,
			Description: f.Description,
			Required:    f.Required,
			Default:     f.Default,
			Choices:     f.Choices,
			Targets:     f.Targets,
			AllowNew:    f.AllowNew,
			New:         f.New,
			Edit:        f.Edit,
			ReadOnly:    f.ReadOnly,
			MinYear:     f.MinYear,
			MaxYear:     f.MaxYear,
		})
	}
	return out
}

// ListSchemas describes every concrete type.
// GET /api/schema
func (h *Handler) ListSchemas(w http.ResponseWriter, r *http.Request) {
	viewer := auth.FromContext(r.Context())
	names := h.registry.Concrete()
	out := make([]schemaDescription, 0, len(names))
	for _, name := range names {
		if s, ok := h.registry.Get(name); ok {
			out = append(out, describe(s, viewer))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSchema describes one type.
// GET /api/schema/{type}
func (h *Handler) GetSchema(w http.ResponseWriter, r *http.Request) {
	s, ok := h.schemaParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, describe(s, auth.FromContext(r.Context())))
}
