package pedcounter

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type benchmark struct {
	Slowest      float64
	Fastest      float64
	Average      float64
	NumberOfRuns int
}

func (b benchmark) toMap() map[string]interface{} {
	return map[string]interface{}{
		"slowest":        b.Slowest,
		"fastest":        b.Fastest,
		"average":        b.Average,
		"number_of_runs": b.NumberOfRuns,
	}
}

// benchmark summarizes the loop durations, in nanoseconds.
func (s *loopStats) benchmark() benchmark {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if len(s.durations) == 0 {
		return benchmark{}
	}
	ns := make([]float64, len(s.durations))
	for i, d := range s.durations {
		ns[i] = float64(d)
	}
	return benchmark{
		Slowest:      floats.Max(ns),
		Fastest:      floats.Min(ns),
		Average:      stat.Mean(ns, nil),
		NumberOfRuns: len(ns),
	}
}

func (l *crossingLog) toMaps() []interface{} {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	out := make([]interface{}, 0, len(l.entries))
	for _, c := range l.entries {
		out = append(out, map[string]interface{}{
			"id":        c.TrackID,
			"direction": c.Direction,
			"time":      c.Time.Format(time.RFC3339),
		})
	}
	return out
}

// intArg reads an integer out of a DoCommand argument map. Numbers coming
// over the wire are float64.
func intArg(args map[string]interface{}, key string) (*int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return nil, errors.Errorf("%q must be a whole number, got %v", key, n)
		}
		i := int(n)
		return &i, nil
	case int:
		return &n, nil
	case int64:
		i := int(n)
		return &i, nil
	default:
		return nil, errors.Errorf("%q must be a number, got %T", key, v)
	}
}

func (pc *pedCounter) minuteCommand(arg interface{}) (map[string]interface{}, error) {
	var hour, minute *int
	if args, ok := arg.(map[string]interface{}); ok {
		var err error
		if hour, err = intArg(args, "hour"); err != nil {
			return nil, err
		}
		if minute, err = intArg(args, "minute"); err != nil {
			return nil, err
		}
	}
	return pc.counter.MinuteData(hour, minute).Map(), nil
}

func (pc *pedCounter) tracksCommand() []interface{} {
	pc.currTracks.mutex.RLock()
	defer pc.currTracks.mutex.RUnlock()
	out := make([]interface{}, 0, len(pc.currTracks.tracks))
	for _, tr := range pc.currTracks.tracks {
		out = append(out, map[string]interface{}{
			"id":        tr.ID,
			"label":     tr.Movement.Label,
			"direction": tr.Movement.Direction.String(),
			"missing":   tr.Missing,
		})
	}
	return out
}

// DoCommand exposes the counters, the live tracks and the loop timings.
// Several keys can be given in one call.
func (pc *pedCounter) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	// mutations first so the reads below see them
	if cmd["reset"] != nil {
		pc.counter.Reset()
		out["reset"] = true
	}
	if cmd["rollover"] != nil {
		pc.counter.CheckRollover()
		out["rollover"] = pc.counter.CurrentMinute().Format(time.RFC3339)
	}
	if cmd["benchmark"] != nil {
		out["benchmark"] = pc.timeStats.benchmark().toMap()
	}
	if cmd["day"] != nil {
		out["day"] = pc.counter.DayData().Map()
	}
	if arg, ok := cmd["minute"]; ok {
		m, err := pc.minuteCommand(arg)
		if err != nil {
			return nil, err
		}
		out["minute"] = m
	}
	if cmd["history"] != nil {
		history := make(map[string]interface{})
		for label, snap := range pc.counter.History() {
			history[label] = snap.Map()
		}
		out["history"] = history
	}
	if cmd["live"] != nil {
		out["live"] = pc.counter.Live().Map()
	}
	if cmd["tracks"] != nil {
		out["tracks"] = pc.tracksCommand()
	}
	if cmd["crossings"] != nil {
		out["crossings"] = pc.crossings.toMaps()
	}
	return out, nil
}
