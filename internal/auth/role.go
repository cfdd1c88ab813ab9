// Package auth models the acting user of a request: a role level used for
// field and action permissions, and a bearer-token middleware that puts the
// verified actor into the request context.
package auth

import (
	"context"
	"fmt"
	"strings"
)

// Role is an ordered permission level. Higher values include the
// permissions of lower ones.
type Role int

const (
	RoleAnonymous   Role = 0
	RoleContributor Role = 1
	RoleReviewer    Role = 2
	RoleAdmin       Role = 10
)

var roleNames = map[Role]string{
	RoleAnonymous:   "anonymous",
	RoleContributor: "contributor",
	RoleReviewer:    "reviewer",
	RoleAdmin:       "admin",
}

func (r Role) String() string {
	if s, ok := roleNames[r]; ok {
		return s
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole accepts a role name as written in configuration.
func ParseRole(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return RoleAnonymous, nil
	}
	for r, n := range roleNames {
		if n == name {
			return r, nil
		}
	}
	return RoleAnonymous, fmt.Errorf("unknown role %q", s)
}

// Actor is the user on whose behalf a request runs.
type Actor struct {
	UID  string `json:"uid,omitempty"`
	Name string `json:"name,omitempty"`
	Role Role   `json:"role"`
	IP   string `json:"-"`
}

// IsAnonymous reports whether the request carried no identity.
func (a Actor) IsAnonymous() bool { return a.UID == "" }

// Can reports whether the actor holds at least role r.
func (a Actor) Can(r Role) bool { return a.Role >= r }

type ctxKey struct{}

// WithActor returns a copy of ctx carrying a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the actor stored in ctx, or an anonymous actor.
func FromContext(ctx context.Context) Actor {
	if a, ok := ctx.Value(ctxKey{}).(Actor); ok {
		return a
	}
	return Actor{Role: RoleAnonymous}
}
