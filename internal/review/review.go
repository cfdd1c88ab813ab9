// Package review implements the review workflow of entries. An entry moves
// between the states draft, pending, accepted and rejected; every move is
// compiled into a mutation guarded on the state and revision it started
// from, so two reviewers acting on the same entry cannot both win.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opted/inventory/internal/auth"
	"github.com/opted/inventory/internal/dql"
	"github.com/opted/inventory/internal/graphstore"
	"github.com/opted/inventory/internal/mutation"
	"github.com/opted/inventory/internal/schema"
)

// Action is a review action requested by a user.
type Action string

const (
	ActionSubmit Action = "submit"
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
	ActionReopen Action = "reopen"
)

// Transitions maps each review state to the states it may move to.
var Transitions = map[string][]string{
	mutation.StatusDraft:    {mutation.StatusPending},
	mutation.StatusPending:  {mutation.StatusAccepted, mutation.StatusRejected},
	mutation.StatusRejected: {mutation.StatusPending},
	mutation.StatusAccepted: {mutation.StatusPending},
}

var targets = map[Action]string{
	ActionSubmit: mutation.StatusPending,
	ActionAccept: mutation.StatusAccepted,
	ActionReject: mutation.StatusRejected,
	ActionReopen: mutation.StatusPending,
}

// ParseAction returns the action named s.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := targets[a]; !ok {
		return "", &TransitionError{Action: a, Reason: "unknown action"}
	}
	return a, nil
}

// Target returns the state a successful action leaves the entry in.
func (a Action) Target() string { return targets[a] }

// TransitionError reports a review action that is not allowed from the
// entry's current state.
type TransitionError struct {
	Action Action
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("review %s: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("review %s: transition from %q to %q is not allowed", e.Action, e.From, e.To)
}

// Validate checks whether moving from current to target is allowed.
func Validate(current, target string) error {
	allowed, ok := Transitions[current]
	if !ok {
		return &TransitionError{From: current, To: target, Reason: fmt.Sprintf("unknown current state %q", current)}
	}
	for _, s := range allowed {
		if s == target {
			return nil
		}
	}
	return &TransitionError{From: current, To: target}
}

// Transition is a compiled review action.
type Transition struct {
	*mutation.Result
	Action Action
	From   string
	To     string
}

// Compiler compiles review actions.
type Compiler struct {
	registry *schema.Registry
	loader   *mutation.Loader
}

// NewCompiler returns a compiler reading entry state from store.
func NewCompiler(reg *schema.Registry, store graphstore.Store) *Compiler {
	return &Compiler{registry: reg, loader: mutation.NewLoader(store)}
}

// Compile checks that actor may apply action to uid and returns the
// mutation that does it. The mutation sets the new state, bumps the
// revision and records who moved the entry.
func (c *Compiler) Compile(ctx context.Context, uid dql.UID, action Action, actor auth.Actor, opts mutation.Options) (*Transition, error) {
	target, ok := targets[action]
	if !ok {
		return nil, &TransitionError{Action: action, Reason: "unknown action"}
	}
	if !actor.Can(auth.RoleContributor) {
		return nil, &schema.PermissionError{Action: "review " + string(action), Required: auth.RoleContributor, Actual: actor.Role}
	}
	head, err := c.loader.Head(ctx, uid)
	if err != nil {
		return nil, err
	}
	s, ok := c.registry.ByTypeTag(head.Types)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no registered type", graphstore.ErrNotFound, uid)
	}
	if _, ok := s.Field("entry_review_status"); !ok {
		return nil, &TransitionError{Action: action, Reason: s.Name + " entries are not reviewed"}
	}
	if !allowed(action, actor, head) {
		return nil, &schema.PermissionError{Action: "review " + string(action), Required: auth.RoleReviewer, Actual: actor.Role}
	}
	if err := Validate(head.Status, target); err != nil {
		var te *TransitionError
		if errors.As(err, &te) {
			te.Action = action
		}
		return nil, err
	}

	if opts.Time.IsZero() {
		opts.Time = time.Now()
	}
	opts.Time = opts.Time.UTC()
	subject := dql.Existing(uid)
	res := &mutation.Result{
		Schema:   s,
		Subject:  subject,
		IsUpsert: true,
		Guard:    mutation.GuardFor(s, head),
		Revision: head.Revision + 1,
		Changed:  []string{"entry_review_status"},
		Asserts: []dql.Statement{
			{Subject: subject, Predicate: "entry_review_status", Object: dql.String(target)},
			{Subject: subject, Predicate: "revision", Object: dql.Int(head.Revision + 1)},
		},
	}
	if actorUID, ok := dql.ParseUID(actor.UID); ok {
		pred := "reviewed_by"
		if action == ActionSubmit {
			pred = "entry_edit_history"
		}
		res.Asserts = append(res.Asserts, dql.Statement{
			Subject:   subject,
			Predicate: pred,
			Object:    dql.Node(dql.Existing(actorUID)),
			Facets:    mutation.HistoryFacets(opts),
		})
	}
	return &Transition{Result: res, Action: action, From: head.Status, To: target}, nil
}

// allowed reports whether actor may apply action. Reviewers may apply
// any action; the user who added an entry may submit it for review.
func allowed(action Action, actor auth.Actor, head *mutation.State) bool {
	if actor.Can(auth.RoleReviewer) {
		return true
	}
	return action == ActionSubmit && !actor.IsAnonymous() && head.AddedBy == dql.UID(actor.UID)
}
