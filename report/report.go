// Package report ships completed minute and day counters to a remote key-value
// store. Delivery is fire-and-forget: failures are logged and the counts are
// dropped, there is no retry queue. The last report is always kept in a local
// fallback file for crash recovery and manual inspection.
package report

import (
	"context"
	"encoding/json"
	"os"
	"path"
	"time"

	"github.com/pkg/errors"

	"github.com/viam-modules/pedestrian-counter/counter"
)

// DefaultRootPath is where counts live in the remote store.
const DefaultRootPath = "/streetqr/counter"

// TotalKey is the field holding the running day totals.
const TotalKey = "total"

// Store is a remote (or local) key-value backend. Patch merges fields into
// the object stored at path.
type Store interface {
	Patch(ctx context.Context, path string, fields map[string]string) error
	Close() error
}

// Report is one patch operation.
type Report struct {
	Path   string            `json:"path"`
	Fields map[string]string `json:"fields"`
	Time   time.Time         `json:"time"`
}

func encode(v interface{}) string {
	// MinuteCounts and DayCounts are plain ints, Marshal cannot fail on them
	data, _ := json.Marshal(v)
	return string(data)
}

// MinuteReport patches {root}/{YYYY-MM-DD} with {"HH:MM": "{lm,rm,tm}"}.
func MinuteReport(root string, minute time.Time, m counter.MinuteCounts) Report {
	return Report{
		Path:   path.Join(root, counter.DayLabel(minute)),
		Fields: map[string]string{counter.MinuteLabel(minute): encode(m)},
	}
}

// TotalReport patches {root}/total with {"total": "{ld,rd,td}"}.
func TotalReport(root string, d counter.DayCounts) Report {
	return Report{
		Path:   path.Join(root, TotalKey),
		Fields: map[string]string{TotalKey: encode(d)},
	}
}

// DayReport patches {root}/{YYYY-MM-DD} with {"total": "{ld,rd,td}"}, the final
// counts of that day.
func DayReport(root string, day time.Time, d counter.DayCounts) Report {
	return Report{
		Path:   path.Join(root, counter.DayLabel(day)),
		Fields: map[string]string{TotalKey: encode(d)},
	}
}

// WriteFallback overwrites file with r.
func WriteFallback(file string, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "unable to encode fallback report")
	}
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "unable to write fallback file %v", file)
	}
	return errors.Wrapf(os.Rename(tmp, file), "unable to replace fallback file %v", file)
}

// ReadFallback loads the last report written by WriteFallback.
func ReadFallback(file string) (Report, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Report{}, errors.Wrapf(err, "unable to read fallback file %v", file)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, errors.Wrapf(err, "fallback file %v is corrupt", file)
	}
	return r, nil
}
