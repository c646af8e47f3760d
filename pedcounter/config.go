package pedcounter

import (
	"fmt"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/viam-modules/pedestrian-counter/counter"
	"github.com/viam-modules/pedestrian-counter/report"
	"github.com/viam-modules/pedestrian-counter/tracker"
)

var (
	DefaultMinConfidence   = 0.7
	DefaultMaxFrequency    = 10.0
	DefaultTriggerCoolDown = 5.0
	// DefaultChosenLabels is used when chosen_labels is not set: only people are counted.
	DefaultChosenLabels = map[string]float64{"person": 0}
)

// ReportConfig says where completed minutes and days are sent. With neither
// firebase_url nor sqlite_path set, reports only go to the fallback file.
type ReportConfig struct {
	FirebaseURL string `json:"firebase_url,omitempty"`
	AuthToken   string `json:"auth_token,omitempty"`
	RootPath    string `json:"root_path,omitempty"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
	// FallbackFile defaults to data.txt, an explicit empty string disables it.
	FallbackFile *string `json:"fallback_file,omitempty"`
	TimeoutS     float64 `json:"timeout_s,omitempty"`
	QueueSize    int     `json:"queue_size,omitempty"`
}

// Config contains names for necessary resources (camera and vision service)
// and the tracking, counting and reporting settings.
type Config struct {
	CameraName           string             `json:"camera_name"`
	DetectorName         string             `json:"detector_name"`
	ChosenLabels         map[string]float64 `json:"chosen_labels,omitempty"`
	MinConfidence        *float64           `json:"min_confidence,omitempty"`
	MaxMissingFrames     int                `json:"max_missing_frames,omitempty"`
	HistorySize          int                `json:"history_size,omitempty"`
	DirectionThresholdPx float64            `json:"direction_threshold_px,omitempty"`
	Matcher              string             `json:"matcher,omitempty"`
	Rollover             string             `json:"rollover,omitempty"`
	MaxFrequency         float64            `json:"max_frequency_hz,omitempty"`
	TriggerCoolDown      *float64           `json:"trigger_cool_down_s,omitempty"`
	Report               *ReportConfig      `json:"report,omitempty"`
}

// Validate validates the config and returns implicit dependencies,
// this Validate checks if the camera and detector(vision svc) exist for the module's vision model.
func (cfg *Config) Validate(path string) ([]string, error) {
	if cfg.CameraName == "" {
		return nil, fmt.Errorf(`expected "camera_name" attribute for pedestrian counter %q`, path)
	}
	if cfg.DetectorName == "" {
		return nil, fmt.Errorf(`expected "detector_name" attribute for pedestrian counter %q`, path)
	}
	if cfg.MaxMissingFrames < 0 {
		return nil, errors.New("attribute max_missing_frames cannot be less than 0")
	}
	if cfg.HistorySize < 0 || cfg.HistorySize == 1 {
		return nil, errors.New("attribute history_size needs at least 2 positions to estimate a direction")
	}
	if cfg.DirectionThresholdPx < 0 {
		return nil, errors.New("attribute direction_threshold_px cannot be less than 0")
	}
	if _, ok := tracker.MatcherByName(cfg.Matcher); !ok {
		return nil, errors.Errorf(`unknown matcher %q, expected "greedy" or "hungarian"`, cfg.Matcher)
	}
	if _, ok := counter.ParseMode(cfg.Rollover); !ok {
		return nil, errors.Errorf(`unknown rollover %q, expected "single" or "per_minute"`, cfg.Rollover)
	}
	if cfg.MaxFrequency < 0 {
		return nil, errors.New("frequency(Hz) must be a positive number")
	}
	if cfg.MinConfidence != nil && (*cfg.MinConfidence < 0 || *cfg.MinConfidence > 1) {
		return nil, errors.New("minimum thresholding confidence must be between 0.0 and 1.0")
	}
	if cfg.TriggerCoolDown != nil && *cfg.TriggerCoolDown < 0 {
		return nil, errors.New("trigger_cool_down_s is a duration given in seconds and should be above 0.")
	}
	if r := cfg.Report; r != nil {
		if r.FirebaseURL != "" {
			if _, err := url.ParseRequestURI(r.FirebaseURL); err != nil {
				return nil, errors.Wrapf(err, "invalid report.firebase_url for pedestrian counter %q", path)
			}
		}
		if r.TimeoutS < 0 {
			return nil, errors.New("report.timeout_s cannot be less than 0")
		}
		if r.QueueSize < 0 {
			return nil, errors.New("report.queue_size cannot be less than 0")
		}
	}

	// Return the resource names so that newPedCounter can access them as dependencies.
	return []string{cfg.CameraName, cfg.DetectorName}, nil
}

func (cfg *Config) trackerConfig() tracker.Config {
	match, _ := tracker.MatcherByName(cfg.Matcher)
	return tracker.Config{
		MaxMissingFrames:   cfg.MaxMissingFrames,
		HistorySize:        cfg.HistorySize,
		DirectionThreshold: cfg.DirectionThresholdPx,
		Matcher:            match,
	}
}

func (cfg *Config) publisherConfig() report.Config {
	out := report.Config{FallbackFile: report.DefaultFallbackFile}
	r := cfg.Report
	if r == nil {
		return out
	}
	out.RootPath = r.RootPath
	if r.FallbackFile != nil {
		out.FallbackFile = *r.FallbackFile
	}
	out.Timeout = time.Duration(r.TimeoutS * float64(time.Second))
	out.QueueSize = r.QueueSize
	return out
}

// stores builds the configured report backends. On error the stores opened so far are closed.
func (cfg *Config) stores() ([]report.Store, error) {
	r := cfg.Report
	if r == nil {
		return nil, nil
	}
	var stores []report.Store
	if r.FirebaseURL != "" {
		fs, err := report.NewFirebaseStore(r.FirebaseURL, r.AuthToken, nil)
		if err != nil {
			return nil, err
		}
		stores = append(stores, fs)
	}
	if r.SQLitePath != "" {
		ss, err := report.NewSQLiteStore(r.SQLitePath)
		if err != nil {
			for _, s := range stores {
				//nolint:errcheck
				s.Close()
			}
			return nil, err
		}
		stores = append(stores, ss)
	}
	return stores, nil
}
