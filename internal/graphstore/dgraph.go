package graphstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/opted/inventory/internal/dql"
)

// Dgraph is a Store backed by a Dgraph cluster.
type Dgraph struct {
	conn   *grpc.ClientConn
	client *dgo.Dgraph
	logger *slog.Logger
}

// DialDgraph connects to the Dgraph alpha at endpoint (host:port). The
// connection is established lazily on first use.
func DialDgraph(endpoint string, logger *slog.Logger) (*Dgraph, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, &StoreError{Op: "dial", Err: err}
	}
	return &Dgraph{
		conn:   conn,
		client: dgo.NewDgraphClient(api.NewDgraphClient(conn)),
		logger: logger,
	}, nil
}

// Alter applies a schema to the cluster.
func (d *Dgraph) Alter(ctx context.Context, schema string) error {
	if err := d.client.Alter(ctx, &api.Operation{Schema: schema}); err != nil {
		return &StoreError{Op: "alter", Err: err}
	}
	return nil
}

func (d *Dgraph) Query(ctx context.Context, q *dql.Query) (map[string]any, error) {
	txn := d.client.NewReadOnlyTxn().BestEffort()
	defer txn.Discard(ctx)

	text := q.String()
	resp, err := txn.QueryWithVars(ctx, text, q.Vars())
	if err != nil {
		d.logger.Debug("dgraph query failed", "query", text, "error", err)
		return nil, &StoreError{Op: "query", Err: err}
	}
	out := make(map[string]any)
	if err := json.Unmarshal(resp.Json, &out); err != nil {
		return nil, &StoreError{Op: "query", Err: fmt.Errorf("decoding response: %w", err)}
	}
	return out, nil
}

func (d *Dgraph) Mutate(ctx context.Context, m *dql.Mutation) (map[string]dql.UID, error) {
	return d.do(ctx, nil, m)
}

func (d *Dgraph) MutateConditional(ctx context.Context, g *dql.Guard, m *dql.Mutation) (map[string]dql.UID, error) {
	return d.do(ctx, g, m)
}

func (d *Dgraph) do(ctx context.Context, g *dql.Guard, m *dql.Mutation) (map[string]dql.UID, error) {
	if m.IsEmpty() {
		return map[string]dql.UID{}, nil
	}
	mu := &api.Mutation{
		SetNquads: []byte(m.SetNQuads()),
		DelNquads: []byte(m.DelNQuads()),
	}
	req := &api.Request{Mutations: []*api.Mutation{mu}, CommitNow: true}
	if g != nil {
		req.Query = g.Query().String()
		mu.Cond = g.Cond()
	}

	txn := d.client.NewTxn()
	defer txn.Discard(ctx)

	resp, err := txn.Do(ctx, req)
	if err != nil {
		if errors.Is(err, dgo.ErrAborted) {
			return nil, ErrConflict
		}
		return nil, &StoreError{Op: "mutate", Err: err}
	}

	if g != nil {
		var check map[string][]map[string]any
		if err := json.Unmarshal(resp.Json, &check); err != nil {
			return nil, &StoreError{Op: "mutate", Err: fmt.Errorf("decoding guard response: %w", err)}
		}
		if !g.Held(func(block string) int { return len(check[block]) }) {
			d.logger.Info("guarded mutation skipped", "subject", g.Subject, "claims", len(g.Unclaimed))
			return nil, ErrConflict
		}
	}

	out := make(map[string]dql.UID, len(resp.Uids))
	for blank, uid := range resp.Uids {
		out[blank] = dql.UID(uid)
	}
	return out, nil
}

func (d *Dgraph) Close() error {
	return d.conn.Close()
}
