package engine

import (
	"math"

	"github.com/jonboulle/clockwork"

	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/metrics"
)

// Aggregator maintains the per-topic snapshots. It is not safe for
// concurrent use; the engine actor is its only caller in production.
type Aggregator struct {
	clock     clockwork.Clock
	snapshots map[string]*Snapshot
}

func NewAggregator(clock clockwork.Clock) *Aggregator {
	return &Aggregator{
		clock:     clock,
		snapshots: make(map[string]*Snapshot),
	}
}

// Apply folds one event into the topic's snapshot and returns a copy of the
// result. The snapshot is created lazily on the first event for a topic, and
// options are created lazily on the first event naming them.
//
// Counts are taken verbatim from the producer, including the aggregate
// total. Negative or otherwise implausible values are accepted as-is; the
// broadcast path never rejects an event.
func (a *Aggregator) Apply(event Event) Snapshot {
	snap, ok := a.snapshots[event.TopicID]
	if !ok {
		snap = &Snapshot{TopicID: event.TopicID, IsActive: true}
		a.snapshots[event.TopicID] = snap
		metrics.ActiveTopics.Set(float64(len(a.snapshots)))
	}

	if event.OptionID != "" {
		opt := snap.option(event.OptionID)
		if opt == nil {
			label := event.OptionLabel
			if label == "" {
				label = event.OptionID
			}
			snap.Options = append(snap.Options, OptionState{OptionID: event.OptionID, Label: label})
			opt = &snap.Options[len(snap.Options)-1]
		} else if event.OptionLabel != "" {
			opt.Label = event.OptionLabel
		}

		previous := opt.Count
		opt.Count = event.NewCount
		switch {
		case opt.Count > previous:
			opt.Trend = TrendUp
		case opt.Count < previous:
			opt.Trend = TrendDown
		default:
			opt.Trend = TrendStable
		}
		opt.RecentDelta = max(0, opt.Count-previous)
	}

	snap.TotalCount = event.TotalCount
	for i := range snap.Options {
		snap.Options[i].Percentage = percentage(snap.Options[i].Count, snap.TotalCount)
	}

	if event.Type == EventEnded {
		snap.IsActive = false
	}

	if event.Timestamp.IsZero() {
		snap.LastUpdatedAt = a.clock.Now()
	} else {
		snap.LastUpdatedAt = event.Timestamp
	}

	metrics.EventsAppliedTotal.WithLabelValues(string(event.Type)).Inc()
	return snap.clone()
}

// Snapshot returns a copy of the topic's snapshot, if one exists.
func (a *Aggregator) Snapshot(topicID string) (Snapshot, bool) {
	snap, ok := a.snapshots[topicID]
	if !ok {
		return Snapshot{}, false
	}
	return snap.clone(), true
}

// Topics returns the number of known topics.
func (a *Aggregator) Topics() int {
	return len(a.snapshots)
}

// Reset drops every snapshot.
func (a *Aggregator) Reset() {
	a.snapshots = make(map[string]*Snapshot)
	metrics.ActiveTopics.Set(0)
}

func (s *Snapshot) option(optionID string) *OptionState {
	for i := range s.Options {
		if s.Options[i].OptionID == optionID {
			return &s.Options[i]
		}
	}
	return nil
}

// percentage rounds half-to-even so that complementary shares like 62.5/37.5
// come out as 62/38 rather than 63/38.
func percentage(count, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.RoundToEven(float64(count) / float64(total) * 100))
}
