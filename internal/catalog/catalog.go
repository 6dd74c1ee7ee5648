// Package catalog resolves display labels for poll options. The poll store
// of record lives outside this service; the catalog only reads option
// metadata from it (or from an in-memory table in label-less deployments)
// so that snapshots can carry human-readable labels.
package catalog

import (
	"context"
	"errors"
)

// ErrNotFound means no label is known for the option.
var ErrNotFound = errors.New("option not found in catalog")

// Option is one poll option's catalog entry.
type Option struct {
	ID    string
	Label string
}

// Source resolves option labels for a topic.
type Source interface {
	// OptionLabel returns the display label for one option.
	OptionLabel(ctx context.Context, topicID, optionID string) (string, error)
	// TopicOptions lists every known option for a topic.
	TopicOptions(ctx context.Context, topicID string) ([]Option, error)
}
