package counter

import (
	"fmt"
	"time"
)

const (
	// MinuteLayout formats history labels.
	MinuteLayout = "15:04"
	// DayLayout formats day labels.
	DayLayout = "2006-01-02"
)

// MinuteLabel is the history key of the minute containing t.
func MinuteLabel(t time.Time) string {
	return t.Format(MinuteLayout)
}

// DayLabel is the label of the day containing t.
func DayLabel(t time.Time) string {
	return t.Format(DayLayout)
}

func labelFor(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// MinuteCounts are the crossings of one minute.
type MinuteCounts struct {
	Left  int `json:"lm"`
	Right int `json:"rm"`
	Total int `json:"tm"`
}

// Map uses the reporting keys lm, rm and tm.
func (m MinuteCounts) Map() map[string]interface{} {
	return map[string]interface{}{"lm": m.Left, "rm": m.Right, "tm": m.Total}
}

// DayCounts are the crossings of one day.
type DayCounts struct {
	Left  int `json:"ld"`
	Right int `json:"rd"`
	Total int `json:"td"`
}

// Map uses the reporting keys ld, rd and td.
func (d DayCounts) Map() map[string]interface{} {
	return map[string]interface{}{"ld": d.Left, "rd": d.Right, "td": d.Total}
}

// Snapshot is a copy of all six counters. Totals always equal left + right.
type Snapshot struct {
	MinuteLeft  int `json:"lm"`
	MinuteRight int `json:"rm"`
	MinuteTotal int `json:"tm"`
	DayLeft     int `json:"ld"`
	DayRight    int `json:"rd"`
	DayTotal    int `json:"td"`
}

// newSnapshot is used for any minute label that has no history entry.
func newSnapshot() Snapshot {
	return Snapshot{}
}

// Minute projects the minute counters.
func (s Snapshot) Minute() MinuteCounts {
	return MinuteCounts{Left: s.MinuteLeft, Right: s.MinuteRight, Total: s.MinuteTotal}
}

// Day projects the day counters.
func (s Snapshot) Day() DayCounts {
	return DayCounts{Left: s.DayLeft, Right: s.DayRight, Total: s.DayTotal}
}

// Map has all six reporting keys.
func (s Snapshot) Map() map[string]interface{} {
	out := s.Minute().Map()
	for k, v := range s.Day().Map() {
		out[k] = v
	}
	return out
}
