// Package graphstore is the client side of the graph database. Store is the
// contract the compilers are written against; Dgraph talks to a Dgraph
// cluster over gRPC and Memory evaluates the same queries and mutations in
// process.
package graphstore

import (
	"context"
	"errors"

	"github.com/opted/inventory/internal/dql"
)

// Store executes rendered queries and N-Quad mutations.
type Store interface {
	// Query runs every block of q in one read-only transaction and returns
	// the decoded response keyed by block name.
	Query(ctx context.Context, q *dql.Query) (map[string]any, error)

	// Mutate applies m in one committed transaction. The result maps each
	// blank node name (without "_:") to the identifier it was assigned.
	Mutate(ctx context.Context, m *dql.Mutation) (map[string]dql.UID, error)

	// MutateConditional applies m only when g still holds at commit time
	// and returns ErrConflict otherwise.
	MutateConditional(ctx context.Context, g *dql.Guard, m *dql.Mutation) (map[string]dql.UID, error)

	Close() error
}

var (
	// ErrConflict reports a mutation whose guard no longer held, or a
	// transaction the store aborted because of a concurrent write.
	ErrConflict = errors.New("graphstore: conflicting update")

	// ErrNotFound reports a node that does not exist.
	ErrNotFound = errors.New("graphstore: not found")
)

// StoreError wraps transport and server failures.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "graphstore: " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }
