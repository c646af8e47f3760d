// Package tracker implements the pedestrian identity tracker: it associates
// per-frame detections with persistent track identities, tolerates short
// detection gaps, and estimates the horizontal direction of every track.
package tracker

import (
	objdet "go.viam.com/rdk/vision/objectdetection"
)

var (
	DefaultMaxMissingFrames   = 15
	DefaultHistorySize        = 10
	DefaultDirectionThreshold = 5.0
)

// Config holds the tracker tuning knobs. Zero values mean "use the default".
type Config struct {
	// MaxMissingFrames is how many consecutive frames a track may go unmatched
	// before it is deregistered.
	MaxMissingFrames int
	// HistorySize is the number of recent centroids kept per track.
	HistorySize int
	// DirectionThreshold is the minimum net horizontal displacement (pixels)
	// over the history window for a track to count as moving.
	DirectionThreshold float64
	Matcher            MatchFunc
}

// Tracker keeps the live set of tracks. It is not safe for concurrent use;
// the frame loop owns it.
type Tracker struct {
	maxMissing  int
	historySize int
	threshold   float64
	match       MatchFunc

	nextID int
	// live is kept in ID order, byID indexes it.
	live []*Track
	byID map[int]*Track
}

// New returns an empty tracker.
func New(cfg Config) *Tracker {
	t := &Tracker{
		maxMissing:  cfg.MaxMissingFrames,
		historySize: cfg.HistorySize,
		threshold:   cfg.DirectionThreshold,
		match:       cfg.Matcher,
		byID:        make(map[int]*Track),
	}
	if t.maxMissing <= 0 {
		t.maxMissing = DefaultMaxMissingFrames
	}
	if t.historySize <= 0 {
		t.historySize = DefaultHistorySize
	}
	if t.threshold <= 0 {
		t.threshold = DefaultDirectionThreshold
	}
	if t.match == nil {
		t.match = GreedyMatcher
	}
	return t
}

// Update matches the detections of one frame against the live tracks and
// returns every track still alive afterwards, in ID order.
func (t *Tracker) Update(dets []objdet.Detection) []*Track {
	centroids := make([]Point, len(dets))
	for i, d := range dets {
		centroids[i] = Centroid(d.BoundingBox())
	}

	matches := t.match(t.live, centroids)
	usedDets := make(map[int]struct{}, len(dets))
	survivors := t.live[:0]
	for i, tr := range t.live {
		if detIdx := matches[i]; detIdx >= 0 {
			tr.observe(dets[detIdx], centroids[detIdx], t.historySize, t.threshold)
			usedDets[detIdx] = struct{}{}
			survivors = append(survivors, tr)
			continue
		}
		tr.Missing++
		if tr.Missing > t.maxMissing {
			// deregistered; the exit detector notices it is gone
			delete(t.byID, tr.ID)
			continue
		}
		survivors = append(survivors, tr)
	}
	// clear the tail so removed tracks can be collected
	for i := len(survivors); i < len(t.live); i++ {
		t.live[i] = nil
	}
	t.live = survivors

	for i, d := range dets {
		if _, ok := usedDets[i]; ok {
			continue
		}
		t.register(d, centroids[i])
	}
	return cloneTracks(t.live)
}

func (t *Tracker) register(det objdet.Detection, c Point) {
	tr := newTrack(t.nextID, det, c)
	t.nextID++
	t.live = append(t.live, tr)
	t.byID[tr.ID] = tr
}

// Tracks returns a copy of the live tracks in ID order without updating anything.
func (t *Tracker) Tracks() []*Track {
	return cloneTracks(t.live)
}

// Track looks up a live track by ID.
func (t *Tracker) Track(id int) (*Track, bool) {
	tr, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return tr.clone(), true
}

// Len is the number of live tracks.
func (t *Tracker) Len() int {
	return len(t.live)
}

// NextID is the ID the next new track will get.
func (t *Tracker) NextID() int {
	return t.nextID
}
