package mutation

import (
	"context"

	"github.com/opted/inventory/internal/auth"
	"github.com/opted/inventory/internal/dql"
	"github.com/opted/inventory/internal/graphstore"
	"github.com/opted/inventory/internal/schema"
)

// CompileDelete removes every predicate of uid. Only admins may delete;
// the mutation is guarded on the revision that was loaded so an entry
// edited in the meantime is not lost silently.
func (c *Compiler) CompileDelete(ctx context.Context, uid dql.UID, actor auth.Actor) (*Result, error) {
	if !actor.Can(auth.RoleAdmin) {
		return nil, &schema.PermissionError{Action: "delete", Required: auth.RoleAdmin, Actual: actor.Role}
	}
	state, err := c.loader.Head(ctx, uid)
	if err != nil {
		return nil, err
	}
	s, ok := c.registry.ByTypeTag(state.Types)
	if !ok {
		return nil, graphstore.ErrNotFound
	}
	subject := dql.Existing(uid)
	return &Result{
		Schema:   s,
		Subject:  subject,
		IsUpsert: true,
		Retracts: []dql.Statement{{Subject: subject, Predicate: dql.Wildcard, Object: dql.Star()}},
		Guard:    GuardFor(s, state),
		Revision: state.Revision,
	}, nil
}
