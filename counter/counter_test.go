package counter

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/viam-modules/pedestrian-counter/tracker"
)

type minuteReport struct {
	minute time.Time
	snap   Snapshot
}

type dayReport struct {
	day    time.Time
	counts DayCounts
}

type fakeSink struct {
	minutes []minuteReport
	days    []dayReport
}

func (s *fakeSink) MinuteElapsed(minute time.Time, snap Snapshot) {
	s.minutes = append(s.minutes, minuteReport{minute, snap})
}

func (s *fakeSink) DayElapsed(day time.Time, d DayCounts) {
	s.days = append(s.days, dayReport{day, d})
}

// 2024-03-05 10:00:15 UTC
var start = time.Date(2024, 3, 5, 10, 0, 15, 0, time.UTC)

func newTestCounter(t *testing.T, opts ...Option) (*Counter, *clock.Mock, *fakeSink) {
	clk := clock.NewMock()
	clk.Set(start)
	sink := &fakeSink{}
	opts = append([]Option{WithSink(sink)}, opts...)
	return New(clk, logging.NewTestLogger(t), opts...), clk, sink
}

func intp(i int) *int {
	return &i
}

func checkInvariants(t *testing.T, s Snapshot) {
	t.Helper()
	test.That(t, s.MinuteTotal, test.ShouldEqual, s.MinuteLeft+s.MinuteRight)
	test.That(t, s.DayTotal, test.ShouldEqual, s.DayLeft+s.DayRight)
}

func TestCountsWithinOneMinute(t *testing.T) {
	c, clk, sink := newTestCounter(t)
	dirs := []tracker.Direction{
		tracker.DirectionLeft, tracker.DirectionRight, tracker.DirectionLeft,
		tracker.DirectionLeft, tracker.DirectionRight,
	}
	for _, d := range dirs {
		c.RecordCrossing(d)
		clk.Add(5 * time.Second)
		checkInvariants(t, c.Live())
	}
	live := c.Live()
	test.That(t, live.Minute(), test.ShouldResemble, MinuteCounts{Left: 3, Right: 2, Total: 5})
	test.That(t, live.Day(), test.ShouldResemble, DayCounts{Left: 3, Right: 2, Total: 5})
	test.That(t, c.DayData(), test.ShouldResemble, DayCounts{Left: 3, Right: 2, Total: 5})
	test.That(t, sink.minutes, test.ShouldBeEmpty)
	test.That(t, c.History(), test.ShouldBeEmpty)
}

func TestNoneIsNotCounted(t *testing.T) {
	c, _, _ := newTestCounter(t)
	c.RecordCrossing(tracker.DirectionNone)
	test.That(t, c.Live(), test.ShouldResemble, Snapshot{})
}

func TestFrozenMinuteSnapshot(t *testing.T) {
	c, clk, sink := newTestCounter(t)
	c.RecordCrossing(tracker.DirectionLeft)
	c.RecordCrossing(tracker.DirectionRight)
	c.RecordCrossing(tracker.DirectionRight)
	test.That(t, c.DayData(), test.ShouldResemble, DayCounts{Left: 1, Right: 2, Total: 3})

	// next minute, a later crossing triggers the rollover
	clk.Add(time.Minute)
	c.RecordCrossing(tracker.DirectionLeft)

	frozen := MinuteCounts{Left: 1, Right: 2, Total: 3}
	test.That(t, c.MinuteData(nil, nil), test.ShouldResemble, frozen)
	test.That(t, c.MinuteData(intp(10), intp(0)), test.ShouldResemble, frozen)
	test.That(t, c.Live().Minute(), test.ShouldResemble, MinuteCounts{Left: 1, Right: 0, Total: 1})
	test.That(t, c.DayData(), test.ShouldResemble, DayCounts{Left: 2, Right: 2, Total: 4})

	// more crossings in 10:01 do not touch the 10:00 snapshot
	c.RecordCrossing(tracker.DirectionRight)
	c.RecordCrossing(tracker.DirectionRight)
	test.That(t, c.MinuteData(intp(10), intp(0)), test.ShouldResemble, frozen)

	test.That(t, len(sink.minutes), test.ShouldEqual, 1)
	test.That(t, sink.minutes[0].minute, test.ShouldEqual, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))
	test.That(t, sink.minutes[0].snap, test.ShouldResemble, Snapshot{
		MinuteLeft: 1, MinuteRight: 2, MinuteTotal: 3,
		DayLeft: 1, DayRight: 2, DayTotal: 3,
	})
	test.That(t, c.Labels(), test.ShouldResemble, []string{"10:00"})
}

func TestMinuteBoundaryKeepsDayCounters(t *testing.T) {
	c, clk, _ := newTestCounter(t)
	for i := 0; i < 3; i++ {
		c.RecordCrossing(tracker.DirectionLeft)
		c.RecordCrossing(tracker.DirectionRight)
		clk.Add(time.Minute)
		c.CheckRollover()
		live := c.Live()
		test.That(t, live.Minute(), test.ShouldResemble, MinuteCounts{})
		test.That(t, live.Day(), test.ShouldResemble, DayCounts{Left: i + 1, Right: i + 1, Total: 2 * (i + 1)})
		checkInvariants(t, live)
	}
	test.That(t, c.Labels(), test.ShouldResemble, []string{"10:00", "10:01", "10:02"})
}

func TestDayBoundary(t *testing.T) {
	c, clk, sink := newTestCounter(t)
	clk.Set(time.Date(2024, 3, 5, 23, 58, 30, 0, time.UTC))
	c.CheckRollover()
	c.RecordCrossing(tracker.DirectionLeft)
	clk.Add(time.Minute) // 23:59:30
	c.RecordCrossing(tracker.DirectionRight)
	c.RecordCrossing(tracker.DirectionRight)
	test.That(t, c.Labels(), test.ShouldResemble, []string{"10:00", "23:58"})

	clk.Add(time.Minute) // 00:00:30 next day
	c.RecordCrossing(tracker.DirectionLeft)

	test.That(t, c.History(), test.ShouldBeEmpty)
	test.That(t, c.DayData(), test.ShouldResemble, DayCounts{Left: 1, Right: 0, Total: 1})
	test.That(t, c.Live().Minute(), test.ShouldResemble, MinuteCounts{Left: 1, Right: 0, Total: 1})

	test.That(t, len(sink.days), test.ShouldEqual, 1)
	test.That(t, DayLabel(sink.days[0].day), test.ShouldEqual, "2024-03-05")
	test.That(t, sink.days[0].counts, test.ShouldResemble, DayCounts{Left: 1, Right: 2, Total: 3})
	// the last minute of the day was still reported before the flush
	last := sink.minutes[len(sink.minutes)-1]
	test.That(t, MinuteLabel(last.minute), test.ShouldEqual, "23:59")
	test.That(t, last.snap.Minute(), test.ShouldResemble, MinuteCounts{Left: 0, Right: 2, Total: 2})
}

func TestSingleStepRolloverAcrossGap(t *testing.T) {
	c, clk, sink := newTestCounter(t)
	c.RecordCrossing(tracker.DirectionLeft)
	clk.Add(5 * time.Minute)
	c.RecordCrossing(tracker.DirectionRight)

	test.That(t, len(sink.minutes), test.ShouldEqual, 1)
	test.That(t, c.Labels(), test.ShouldResemble, []string{"10:00"})
	// the minute just before now (10:04) saw nothing
	test.That(t, c.MinuteData(nil, nil), test.ShouldResemble, MinuteCounts{})
	test.That(t, c.MinuteData(intp(10), intp(0)), test.ShouldResemble, MinuteCounts{Left: 1, Right: 0, Total: 1})
}

func TestPerMinuteRolloverAcrossGap(t *testing.T) {
	c, clk, sink := newTestCounter(t, WithRolloverMode(ModePerMinute))
	c.RecordCrossing(tracker.DirectionLeft)
	clk.Add(5 * time.Minute)
	c.RecordCrossing(tracker.DirectionRight)

	test.That(t, len(sink.minutes), test.ShouldEqual, 5)
	test.That(t, c.Labels(), test.ShouldResemble, []string{"10:00", "10:01", "10:02", "10:03", "10:04"})
	test.That(t, sink.minutes[0].snap.Minute(), test.ShouldResemble, MinuteCounts{Left: 1, Right: 0, Total: 1})
	for _, r := range sink.minutes[1:] {
		test.That(t, r.snap.Minute(), test.ShouldResemble, MinuteCounts{})
		test.That(t, r.snap.Day(), test.ShouldResemble, DayCounts{Left: 1, Right: 0, Total: 1})
	}
	test.That(t, c.CurrentMinute(), test.ShouldEqual, time.Date(2024, 3, 5, 10, 5, 0, 0, time.UTC))
}

func TestPerMinuteRolloverAcrossMidnight(t *testing.T) {
	c, clk, sink := newTestCounter(t, WithRolloverMode(ModePerMinute))
	clk.Set(time.Date(2024, 3, 5, 23, 58, 0, 0, time.UTC))
	c.CheckRollover()
	c.RecordCrossing(tracker.DirectionRight)
	clk.Set(time.Date(2024, 3, 6, 0, 2, 0, 0, time.UTC))
	c.CheckRollover()

	test.That(t, len(sink.days), test.ShouldEqual, 1)
	test.That(t, sink.days[0].counts, test.ShouldResemble, DayCounts{Left: 0, Right: 1, Total: 1})
	// only the minutes after midnight survive in the history
	test.That(t, c.Labels(), test.ShouldResemble, []string{"00:00", "00:01"})
	test.That(t, c.DayData(), test.ShouldResemble, DayCounts{})
}

func TestCheckRolloverIsIdempotent(t *testing.T) {
	c, clk, sink := newTestCounter(t)
	c.RecordCrossing(tracker.DirectionLeft)
	clk.Add(time.Minute)
	c.CheckRollover()
	c.CheckRollover()
	clk.Add(10 * time.Second)
	c.CheckRollover()
	test.That(t, len(sink.minutes), test.ShouldEqual, 1)
	test.That(t, c.DayData(), test.ShouldResemble, DayCounts{Left: 1, Right: 0, Total: 1})
}

func TestMinuteDataBeforeRollover(t *testing.T) {
	c, clk, _ := newTestCounter(t)
	c.RecordCrossing(tracker.DirectionRight)
	// in-progress minute is not visible yet
	test.That(t, c.MinuteData(intp(10), intp(0)), test.ShouldResemble, MinuteCounts{})

	// elapsed but nobody has triggered a rollover yet
	clk.Add(time.Minute)
	test.That(t, c.MinuteData(nil, nil), test.ShouldResemble, MinuteCounts{Left: 0, Right: 1, Total: 1})
	test.That(t, c.History(), test.ShouldBeEmpty)
}

func TestMinuteDataPartialArguments(t *testing.T) {
	c, clk, _ := newTestCounter(t)
	c.RecordCrossing(tracker.DirectionLeft)
	clk.Add(time.Minute)
	c.CheckRollover()
	want := MinuteCounts{Left: 1, Right: 0, Total: 1}
	test.That(t, c.MinuteData(intp(3), nil), test.ShouldResemble, want)
	test.That(t, c.MinuteData(nil, intp(59)), test.ShouldResemble, want)
	// unknown label falls back to a zeroed snapshot and is not inserted
	test.That(t, c.MinuteData(intp(3), intp(59)), test.ShouldResemble, MinuteCounts{})
	test.That(t, c.Labels(), test.ShouldResemble, []string{"10:00"})
}

func TestReset(t *testing.T) {
	c, clk, _ := newTestCounter(t)
	c.RecordCrossing(tracker.DirectionLeft)
	clk.Add(time.Minute)
	c.RecordCrossing(tracker.DirectionRight)
	c.Reset()
	test.That(t, c.Live(), test.ShouldResemble, Snapshot{})
	test.That(t, c.History(), test.ShouldBeEmpty)
	test.That(t, c.DayData(), test.ShouldResemble, DayCounts{})
}

func TestSnapshotMaps(t *testing.T) {
	s := Snapshot{MinuteLeft: 1, MinuteRight: 2, MinuteTotal: 3, DayLeft: 4, DayRight: 5, DayTotal: 9}
	m := s.Minute().Map()
	d := s.Day().Map()
	test.That(t, m, test.ShouldResemble, map[string]interface{}{"lm": 1, "rm": 2, "tm": 3})
	test.That(t, d, test.ShouldResemble, map[string]interface{}{"ld": 4, "rd": 5, "td": 9})
	for k := range m {
		_, clash := d[k]
		test.That(t, clash, test.ShouldBeFalse)
	}
	test.That(t, len(s.Map()), test.ShouldEqual, 6)
}

func TestParseMode(t *testing.T) {
	m, ok := ParseMode("per_minute")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, m, test.ShouldEqual, ModePerMinute)
	m, ok = ParseMode("")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, m, test.ShouldEqual, ModeSingle)
	_, ok = ParseMode("hourly")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestModeOption(t *testing.T) {
	c, _, _ := newTestCounter(t)
	test.That(t, c.Mode(), test.ShouldEqual, ModeSingle)
	c, _, _ = newTestCounter(t, WithRolloverMode(ModePerMinute))
	test.That(t, c.Mode(), test.ShouldEqual, ModePerMinute)
}
