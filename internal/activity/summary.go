package activity

import (
	"sort"
	"time"
)

// Trends of a category over a summary window.
const (
	TrendRising  = "rising"
	TrendFalling = "falling"
	TrendStable  = "stable"
)

// CategorySummary counts the entries of one category.
type CategorySummary struct {
	Category    string         `json:"category"`
	Count       int            `json:"count"`
	ByEventType map[string]int `json:"by_event_type"`
	// Dominant is the most frequent event type.
	Dominant string `json:"dominant"`
	Trend    string `json:"trend"`
}

// Summary is an aggregate of the entries of one entity over a window.
type Summary struct {
	EntityType string                     `json:"entity_type"`
	EntityID   string                     `json:"entity_id"`
	Since      time.Time                  `json:"since"`
	Until      time.Time                  `json:"until"`
	Total      int                        `json:"total"`
	Categories map[string]CategorySummary `json:"categories"`
	// Entries lists the distinct entries the entity touched, most active
	// first.
	Entries []string `json:"entries,omitempty"`
}

// Summarize aggregates the entries of one entity within [since, until].
// Entries outside the window are ignored.
func Summarize(entries []Entry, entityType, entityID string, since, until time.Time) Summary {
	out := Summary{
		EntityType: entityType,
		EntityID:   entityID,
		Since:      since,
		Until:      until,
		Categories: make(map[string]CategorySummary),
	}
	var inWindow []Entry
	touched := make(map[string]int)
	for _, e := range entries {
		if e.OccurredAt.Before(since) || e.OccurredAt.After(until) {
			continue
		}
		inWindow = append(inWindow, e)
		cs, ok := out.Categories[e.Category]
		if !ok {
			cs = CategorySummary{Category: e.Category, ByEventType: make(map[string]int)}
		}
		cs.Count++
		cs.ByEventType[e.EventType]++
		out.Categories[e.Category] = cs
		out.Total++

		for _, ref := range e.Refs {
			if ref.EntityType == EntityEntry && ref.Role == "subject" {
				touched[ref.EntityID]++
			}
		}
	}

	for cat, cs := range out.Categories {
		cs.Dominant = dominant(cs.ByEventType)
		cs.Trend = trend(inWindow, cat, since, until)
		out.Categories[cat] = cs
	}

	for id := range touched {
		out.Entries = append(out.Entries, id)
	}
	sort.Slice(out.Entries, func(i, j int) bool {
		a, b := out.Entries[i], out.Entries[j]
		if touched[a] != touched[b] {
			return touched[a] > touched[b]
		}
		return a < b
	})
	return out
}

// dominant returns the key with the highest count, the smallest key on
// ties.
func dominant(counts map[string]int) string {
	best, bestCount := "", 0
	for k, c := range counts {
		if c > bestCount || (c == bestCount && k < best) {
			best, bestCount = k, c
		}
	}
	return best
}

// trend compares volume in the first and second half of the window.
func trend(entries []Entry, category string, since, until time.Time) string {
	mid := since.Add(until.Sub(since) / 2)
	var first, second int
	for _, e := range entries {
		if e.Category != category {
			continue
		}
		if e.OccurredAt.Before(mid) {
			first++
		} else {
			second++
		}
	}
	switch {
	case second > first+1:
		return TrendRising
	case first > second+1:
		return TrendFalling
	default:
		return TrendStable
	}
}
