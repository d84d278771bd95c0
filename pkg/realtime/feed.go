// Package realtime carries best-effort change notifications between the API and its
// subscribers. Consumers must tolerate missed or reordered changes and re-fetch state.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Op is the kind of row change being announced.
type Op string

// Supported operations.
const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Tables announced on the feed.
const (
	TableNotifications = "notifications"
	TableSwapRequests  = "topic_swap_requests"
	TableGroups        = "student_groups"
	TableTopics        = "topics"
)

// Change describes a committed mutation of a single row.
type Change struct {
	Table    string            `json:"table"`
	Op       Op                `json:"op"`
	RecordID string            `json:"record_id"`
	Keys     map[string]string `json:"keys,omitempty"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	At       time.Time         `json:"at"`
}

// Filter narrows a subscription to rows whose key column equals a value.
// The zero Filter subscribes to every change of the table.
type Filter struct {
	Column string
	Value  string
}

// Eq builds an equality filter.
func Eq(column, value string) Filter {
	return Filter{Column: column, Value: value}
}

// Handler receives changes for a subscription.
type Handler func(Change)

// Feed publishes and subscribes to row changes.
type Feed interface {
	Publish(ctx context.Context, change Change) error
	Subscribe(ctx context.Context, table string, filter Filter, onChange Handler) (unsubscribe func(), err error)
}

func channelName(prefix, table string, filter Filter) string {
	parts := make([]string, 0, 3)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, table)
	if filter.Column != "" {
		parts = append(parts, fmt.Sprintf("%s=%s", filter.Column, filter.Value))
	}
	return strings.Join(parts, ":")
}

// channelsFor lists every channel a change is delivered to: the table-wide channel and one per key.
func channelsFor(prefix string, change Change) []string {
	channels := []string{channelName(prefix, change.Table, Filter{})}
	for column, value := range change.Keys {
		if value == "" {
			continue
		}
		channels = append(channels, channelName(prefix, change.Table, Eq(column, value)))
	}
	return channels
}

func normalise(change Change) Change {
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}
	return change
}
