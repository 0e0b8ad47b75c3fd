// Package streaming fans workflow run events out to live subscribers.
package streaming

import (
	"context"
	"slices"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// Filter selects the events a subscriber receives. Zero fields match all.
type Filter struct {
	SessionID string   `json:"session_id,omitempty"`
	Types     []string `json:"types,omitempty"`
}

// Matches reports whether ev passes the filter.
func (f Filter) Matches(ev schema.Event) bool {
	if f.SessionID != "" && f.SessionID != ev.SessionID {
		return false
	}
	return len(f.Types) == 0 || slices.Contains(f.Types, ev.Type)
}

// Hub provides pub/sub for run events.
type Hub interface {
	Publish(ctx context.Context, ev schema.Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan schema.Event, func(), error)
}
