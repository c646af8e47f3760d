// Package counter aggregates pedestrian crossings into per-minute and per-day
// counters and keeps a history of completed minutes.
//
// Rollover is event driven: the counter compares the wall clock with the minute
// it is counting whenever a crossing is recorded, or when CheckRollover is
// called by an external scheduler. Completed minutes are frozen into the
// history under their own HH:MM label. A day boundary zeroes the day counters
// and drops the whole history, so only same-day minute history is kept.
package counter

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/pedestrian-counter/tracker"
)

// Mode decides how a gap of several minutes without crossings is rolled over.
type Mode int

const (
	// ModeSingle performs one rollover no matter how many minutes elapsed.
	ModeSingle Mode = iota
	// ModePerMinute replays one rollover per elapsed minute, up to MaxReplayMinutes.
	ModePerMinute
)

// MaxReplayMinutes bounds ModePerMinute; longer gaps collapse into a single step.
const MaxReplayMinutes = 24 * 60

// ParseMode maps the "rollover" config attribute to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "single":
		return ModeSingle, true
	case "per_minute":
		return ModePerMinute, true
	default:
		return ModeSingle, false
	}
}

// Sink is told about completed minutes and days. Calls happen while the
// counter is locked, so implementations must not block or call back into it.
type Sink interface {
	// MinuteElapsed receives the frozen snapshot of the minute starting at minute.
	MinuteElapsed(minute time.Time, s Snapshot)
	// DayElapsed receives the final counters of the day containing day.
	DayElapsed(day time.Time, d DayCounts)
}

// Option configures a Counter.
type Option func(*Counter)

// WithSink registers the receiver of rollover notifications.
func WithSink(s Sink) Option {
	return func(c *Counter) {
		c.sink = s
	}
}

// WithRolloverMode picks how multi-minute gaps are handled.
func WithRolloverMode(m Mode) Option {
	return func(c *Counter) {
		c.mode = m
	}
}

// Counter is safe for concurrent use.
type Counter struct {
	mu     sync.Mutex
	clock  clock.Clock
	logger logging.Logger
	sink   Sink
	mode   Mode

	live Snapshot
	// minute is the start of the minute live.Minute() belongs to.
	minute  time.Time
	history map[string]Snapshot
}

// New starts counting in the current minute of clk.
func New(clk clock.Clock, logger logging.Logger, opts ...Option) *Counter {
	if clk == nil {
		clk = clock.New()
	}
	c := &Counter{
		clock:   clk,
		logger:  logger,
		minute:  clk.Now().Truncate(time.Minute),
		history: make(map[string]Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordCrossing counts one pedestrian leaving in direction dir. DirectionNone
// is not counted but still triggers the rollover check.
func (c *Counter) RecordCrossing(dir tracker.Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover(c.clock.Now())

	switch dir {
	case tracker.DirectionLeft:
		c.live.MinuteLeft++
		c.live.DayLeft++
	case tracker.DirectionRight:
		c.live.MinuteRight++
		c.live.DayRight++
	default:
		return
	}
	c.live.MinuteTotal++
	c.live.DayTotal++
}

// CheckRollover runs the boundary check without counting anything. Calling it
// twice in the same minute does nothing the second time.
func (c *Counter) CheckRollover() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover(c.clock.Now())
}

func (c *Counter) rollover(now time.Time) {
	cur := now.Truncate(time.Minute)
	if MinuteLabel(cur) == MinuteLabel(c.minute) && DayLabel(cur) == DayLabel(c.minute) {
		return
	}
	if c.mode == ModePerMinute && cur.After(c.minute) {
		steps := 0
		for next := c.minute.Add(time.Minute); !next.After(cur) && steps < MaxReplayMinutes; next = next.Add(time.Minute) {
			c.advance(next)
			steps++
		}
		if c.minute.Equal(cur) {
			return
		}
		c.logger.Warnw("rollover gap too long to replay, collapsing", "from", c.minute, "to", cur)
	}
	c.advance(cur)
}

// advance freezes the minute being counted, reports it and moves on to "to".
func (c *Counter) advance(to time.Time) {
	completed := c.minute
	snap := c.live
	label := MinuteLabel(completed)
	c.history[label] = snap
	if c.sink != nil {
		c.sink.MinuteElapsed(completed, snap)
	}
	c.live.MinuteLeft, c.live.MinuteRight, c.live.MinuteTotal = 0, 0, 0
	c.logger.Debugw("minute rollover", "minute", label, "counts", snap.Minute())

	if DayLabel(to) != DayLabel(completed) {
		if c.sink != nil {
			c.sink.DayElapsed(completed, snap.Day())
		}
		c.live.DayLeft, c.live.DayRight, c.live.DayTotal = 0, 0, 0
		c.history = make(map[string]Snapshot)
		c.logger.Infow("day rollover", "day", DayLabel(completed), "counts", snap.Day())
	}
	c.minute = to
}

// MinuteData returns the counters of minute hour:minute. With both nil it
// returns the most recently completed minute. Passing only one of them is a
// caller mistake: it is logged and treated as if both were nil.
func (c *Counter) MinuteData(hour, minute *int) MinuteCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()

	label := MinuteLabel(now.Add(-time.Minute))
	switch {
	case hour != nil && minute != nil:
		label = labelFor(*hour, *minute)
	case hour != nil || minute != nil:
		c.logger.Warnw("minute data needs both hour and minute, using the last completed minute",
			"hour", hour, "minute", minute)
	}
	return c.lookup(label, now).Minute()
}

// lookup resolves a history label. The minute still being counted is only
// returned once it has elapsed, even if no rollover has happened yet.
func (c *Counter) lookup(label string, now time.Time) Snapshot {
	if s, ok := c.history[label]; ok {
		return s
	}
	if label == MinuteLabel(c.minute) && now.Truncate(time.Minute).After(c.minute) {
		return c.live
	}
	return newSnapshot()
}

// DayData returns the live day counters.
func (c *Counter) DayData() DayCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live.Day()
}

// Live returns the current values of all six counters.
func (c *Counter) Live() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// Reset zeroes every counter and forgets the history.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live = Snapshot{}
	c.history = make(map[string]Snapshot)
}

// History returns a copy of the minute history.
func (c *Counter) History() map[string]Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Snapshot, len(c.history))
	for k, v := range c.history {
		out[k] = v
	}
	return out
}

// Labels returns the history labels in chronological order.
func (c *Counter) Labels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	labels := make([]string, 0, len(c.history))
	for k := range c.history {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	return labels
}

// CurrentMinute is the start of the minute being counted.
func (c *Counter) CurrentMinute() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.minute
}

// Mode is how multi-minute gaps are rolled over.
func (c *Counter) Mode() Mode {
	return c.mode
}
