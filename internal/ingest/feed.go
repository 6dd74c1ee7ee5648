// Package ingest feeds producer update events from the vote pipeline into
// the distribution engine. Events arrive as JSON on a Redis Pub/Sub
// channel; the feed decodes them, enriches option labels from the catalog
// and hands them to the engine's broadcast API.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/catalog"
	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/engine"
	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/metrics"
	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/platform/correlation"
)

const labelLookupTimeout = 2 * time.Second

// Sink is the part of the engine the feed drives.
type Sink interface {
	Broadcast(event engine.Event)
	BroadcastThrottled(event engine.Event)
}

// Feed consumes producer events from Redis Pub/Sub and forwards them to
// the engine. Topic lifecycle events bypass the throttle; vote count
// updates go through it.
type Feed struct {
	rdb     *goredis.Client
	sink    Sink
	labels  catalog.Source
	channel string
}

// New creates a feed. labels may be nil, in which case events keep the
// label the producer supplied (or fall back to the option ID downstream).
func New(rdb *goredis.Client, sink Sink, labels catalog.Source, channel string) *Feed {
	return &Feed{rdb: rdb, sink: sink, labels: labels, channel: channel}
}

// Run subscribes and consumes until ctx is cancelled. The go-redis
// subscription reconnects on its own after transient failures.
func (f *Feed) Run(ctx context.Context) error {
	sub := f.rdb.Subscribe(ctx, f.channel)
	defer func() { _ = sub.Close() }()

	// Fail fast if the subscription could not be established at all.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	slog.Info("Ingest feed started", "channel", f.channel)
	msgCh := sub.Channel()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return errors.New("ingest subscription channel closed")
			}
			f.handleMessage(ctx, msg.Payload)
		case <-ctx.Done():
			slog.Info("Ingest feed stopping")
			return nil
		}
	}
}

func (f *Feed) handleMessage(ctx context.Context, payload string) {
	msgCtx := correlation.WithID(ctx, correlation.NewID())

	var event engine.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		metrics.IngestEventsTotal.WithLabelValues("decode_error").Inc()
		slog.WarnContext(msgCtx, "Failed to decode producer event", "error", err)
		return
	}
	if event.TopicID == "" {
		metrics.IngestEventsTotal.WithLabelValues("invalid").Inc()
		slog.WarnContext(msgCtx, "Producer event missing topic id")
		return
	}

	f.enrichLabel(msgCtx, &event)

	// Lifecycle events are rare and must not wait out a throttle window.
	if event.Type == engine.EventEnded {
		f.sink.Broadcast(event)
	} else {
		f.sink.BroadcastThrottled(event)
	}
	metrics.IngestEventsTotal.WithLabelValues("accepted").Inc()
}

func (f *Feed) enrichLabel(ctx context.Context, event *engine.Event) {
	if f.labels == nil || event.OptionID == "" || event.OptionLabel != "" {
		return
	}

	lookupCtx, cancel := context.WithTimeout(ctx, labelLookupTimeout)
	defer cancel()

	label, err := f.labels.OptionLabel(lookupCtx, event.TopicID, event.OptionID)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			slog.DebugContext(ctx, "Label lookup failed",
				"topic_id", event.TopicID,
				"option_id", event.OptionID,
				"error", err,
			)
		}
		return
	}
	event.OptionLabel = label
}
