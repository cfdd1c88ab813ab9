package query

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opted/inventory/internal/graphstore"
)

// Response is one page of search results.
type Response struct {
	Status     int              `json:"status"`
	TotalCount int              `json:"total_count"`
	Page       int              `json:"page"`
	TotalPages int              `json:"total_pages"`
	Results    []map[string]any `json:"results"`
}

// Execute runs a compiled request and assembles its response page.
func Execute(ctx context.Context, store graphstore.Store, c *Compiled) (*Response, error) {
	res, err := store.Query(ctx, c.Query)
	if err != nil {
		return nil, fmt.Errorf("running search: %w", err)
	}
	total := countOf(res, c.Count.Name)
	pages := 0
	if c.PageSize > 0 {
		pages = (total + c.PageSize - 1) / c.PageSize
	}
	return &Response{
		Status:     http.StatusOK,
		TotalCount: total,
		Page:       c.Page,
		TotalPages: pages,
		Results:    nodesOf(res, c.Read.Name),
	}, nil
}

// nodesOf returns the nodes of a block; never nil.
func nodesOf(res map[string]any, block string) []map[string]any {
	raw, _ := res[block].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func firstNode(res map[string]any, block string) (map[string]any, bool) {
	nodes := nodesOf(res, block)
	if len(nodes) == 0 {
		return nil, false
	}
	return nodes[0], true
}

func countOf(res map[string]any, block string) int {
	node, ok := firstNode(res, block)
	if !ok {
		return 0
	}
	return intOf(node["count"])
}

func intOf(raw any) int {
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}
