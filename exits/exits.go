// Package exits notices pedestrians that left the scene. It diffs consecutive
// snapshots of the tracker's live set and reports the last known direction of
// every track that was deregistered in between.
package exits

import (
	"github.com/viam-modules/pedestrian-counter/tracker"
)

// Source is the live track set the detector watches, normally a *tracker.Tracker.
type Source interface {
	Tracks() []*tracker.Track
}

// Event says that a track left the scene heading in Direction.
type Event struct {
	TrackID   int
	Direction tracker.Direction
}

// Detector turns deregistrations into direction events.
//
// A track deregistered by the tracker on tick T is noticed on tick T (its
// direction is read from the snapshot taken on tick T-1, since the tracker
// has already dropped it) and reported by the Update call of tick T+1.
// Every deregistered track is reported exactly once.
type Detector struct {
	source   Source
	previous []*tracker.Track
	pending  []Event
}

// New captures the current live set of source as the first baseline.
func New(source Source) *Detector {
	return &Detector{
		source:   source,
		previous: source.Tracks(),
	}
}

// Update must run once per tick, after the tracker update of that tick.
func (d *Detector) Update() []Event {
	current := d.source.Tracks()
	alive := make(map[int]struct{}, len(current))
	for _, tr := range current {
		alive[tr.ID] = struct{}{}
	}

	var departed []Event
	for _, tr := range d.previous {
		if _, ok := alive[tr.ID]; ok {
			continue
		}
		departed = append(departed, Event{TrackID: tr.ID, Direction: tr.Movement.Direction})
	}

	d.previous = current
	out := d.pending
	d.pending = departed
	if out == nil {
		out = []Event{}
	}
	return out
}

// Pending is the number of departures noticed but not yet reported.
func (d *Detector) Pending() int {
	return len(d.pending)
}

// Directions flattens events to their directions, keeping order.
func Directions(events []Event) []tracker.Direction {
	out := make([]tracker.Direction, 0, len(events))
	for _, e := range events {
		out = append(out, e.Direction)
	}
	return out
}
