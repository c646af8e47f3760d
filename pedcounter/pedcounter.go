// Package pedcounter implements a pedestrian crossing counter as a Viam vision service.
// It pulls frames from a camera, runs them through a detector, tracks the
// pedestrians and counts them by direction when they leave the scene.
package pedcounter

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/gostream"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/vision"
	vis "go.viam.com/rdk/vision"
	"go.viam.com/rdk/vision/classification"
	objdet "go.viam.com/rdk/vision/objectdetection"
	"go.viam.com/rdk/vision/viscapture"
	viamutils "go.viam.com/utils"

	"github.com/viam-modules/pedestrian-counter/counter"
	"github.com/viam-modules/pedestrian-counter/exits"
	"github.com/viam-modules/pedestrian-counter/report"
	"github.com/viam-modules/pedestrian-counter/tracker"
)

// ModelName is the name of the model
const (
	ModelName            = "pedestrian-counter"
	CrossingLabel        = "pedestrian-crossed"
	DefaultCrossingLogs  = 1000
	DefaultBenchmarkRuns = 1000
)

var (
	// Model is the colon-delimited-triplet of this service.
	Model            = resource.NewModel("viam", "vision", ModelName)
	errUnimplemented = errors.New("unimplemented")
)

type currentTracks struct {
	mutex  sync.RWMutex
	tracks []*tracker.Track
}

// crossing is one counted pedestrian, kept for the "crossings" command.
type crossing struct {
	TrackID   int
	Direction string
	Time      time.Time
}

type crossingLog struct {
	mutex   sync.RWMutex
	entries []crossing
	size    int
}

func (l *crossingLog) add(c crossing) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if len(l.entries) == l.size {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, c)
}

// loopStats keeps the durations of the last size loop iterations.
type loopStats struct {
	mutex     sync.Mutex
	durations []time.Duration
	size      int
}

func (s *loopStats) add(d time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if len(s.durations) == s.size {
		s.durations = s.durations[1:]
	}
	s.durations = append(s.durations, d)
}

func init() {
	resource.RegisterService(vision.API, Model, resource.Registration[vision.Service, *Config]{
		Constructor: newPedCounter,
	})
}

type pedCounter struct {
	resource.Named
	logger        logging.Logger
	cancelFunc    context.CancelFunc
	cancelContext context.Context

	triggerCancelFunc context.CancelFunc
	triggerContext    context.Context

	activeBackgroundWorkers sync.WaitGroup

	// owned by the frame loop
	tracker *tracker.Tracker
	exits   *exits.Detector

	counter   *counter.Counter
	publisher *report.Publisher
	clock     clock.Clock

	currTracks currentTracks
	currImg    atomic.Pointer[image.Image]
	crossings  crossingLog
	timeStats  loopStats

	newCrossing atomic.Bool
	coolDown    float64
	properties  vision.Properties

	cam           camera.Camera
	camName       string
	detector      vision.Service
	frequency     float64
	minConfidence float64
	chosenLabels  map[string]float64
}

func newPedCounter(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (vision.Service, error) {
	pc, err := newPedCounterWithClock(ctx, deps, conf, logger, clock.New())
	if err != nil {
		return nil, err
	}
	return pc, nil
}

// newPedCounterWithClock is newPedCounter counting on clk.
func newPedCounterWithClock(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
	clk clock.Clock,
) (*pedCounter, error) {
	cfg, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not assert proper config for %s", ModelName)
	}
	pc := newBase(conf.ResourceName().AsNamed(), logger, clk)
	if err := pc.applyConfig(cfg); err != nil {
		return nil, err
	}
	pc.cam, err = camera.FromDependencies(deps, cfg.CameraName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to get camera %v for pedestrian counter", cfg.CameraName)
	}
	pc.detector, err = vision.FromDependencies(deps, cfg.DetectorName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to get detector %v for pedestrian counter", cfg.DetectorName)
	}

	stores, err := cfg.stores()
	if err != nil {
		return nil, err
	}
	pc.publisher = report.NewPublisher(logger, pc.clock, cfg.publisherConfig(), stores...)
	mode, _ := counter.ParseMode(cfg.Rollover)
	pc.counter = counter.New(pc.clock, logger, counter.WithSink(pc.publisher), counter.WithRolloverMode(mode))

	cancelableCtx, cancel := context.WithCancel(context.Background())
	pc.cancelFunc = cancel
	pc.cancelContext = cancelableCtx

	stream, err := pc.cam.Stream(pc.cancelContext, nil)
	if err != nil {
		cancel()
		//nolint:errcheck
		pc.publisher.Close()
		return nil, err
	}

	pc.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		pc.run(stream, pc.cancelContext)
	}, func() {
		pc.cancelFunc()
		//nolint:errcheck
		stream.Close(pc.cancelContext)
		pc.activeBackgroundWorkers.Done()
	})

	return pc, nil
}

// newBase builds everything that does not depend on other resources.
func newBase(named resource.Named, logger logging.Logger, clk clock.Clock) *pedCounter {
	return &pedCounter{
		Named:  named,
		logger: logger,
		clock:  clk,
		properties: vision.Properties{
			ClassificationSupported: true,
			DetectionSupported:      true,
			ObjectPCDsSupported:     false,
		},
		crossings: crossingLog{size: DefaultCrossingLogs},
		timeStats: loopStats{size: DefaultBenchmarkRuns},
	}
}

// applyConfig copies the settings into the service and builds the tracking pipeline.
func (pc *pedCounter) applyConfig(cfg *Config) error {
	pc.camName = cfg.CameraName
	pc.chosenLabels = cfg.ChosenLabels
	if pc.chosenLabels == nil {
		pc.chosenLabels = DefaultChosenLabels
	}
	pc.minConfidence = DefaultMinConfidence
	if cfg.MinConfidence != nil {
		pc.minConfidence = *cfg.MinConfidence
	}
	pc.frequency = cfg.MaxFrequency
	if pc.frequency == 0 {
		pc.frequency = DefaultMaxFrequency
	}
	pc.coolDown = DefaultTriggerCoolDown
	if cfg.TriggerCoolDown != nil {
		pc.coolDown = *cfg.TriggerCoolDown
	}
	if _, ok := tracker.MatcherByName(cfg.Matcher); !ok {
		return errors.Errorf("unknown matcher %q", cfg.Matcher)
	}
	pc.tracker = tracker.New(cfg.trackerConfig())
	pc.exits = exits.New(pc.tracker)
	return nil
}

// Reconfigure asks for a rebuild: tracks and counters are tied to the frame loop.
func (pc *pedCounter) Reconfigure(ctx context.Context, deps resource.Dependencies, conf resource.Config) error {
	return resource.NewMustRebuildError(pc.Name())
}

// run is a (cancelable) infinite loop that takes new detections from the camera,
// feeds them to the tracker and counts the pedestrians that left.
func (pc *pedCounter) run(stream gostream.VideoStream, cancelableCtx context.Context) {
	for {
		select {
		case <-cancelableCtx.Done():
			return
		default:
			start := time.Now()
			img, _, err := stream.Next(cancelableCtx)
			if err != nil {
				pc.logger.Errorf("can't get image. got err: %s", err)
				if !pc.pace(cancelableCtx, start) {
					return
				}
				continue
			}
			if img == nil {
				pc.logger.Errorf("got nil image")
				if !pc.pace(cancelableCtx, start) {
					return
				}
				continue
			}
			detections, err := pc.detector.Detections(cancelableCtx, img, nil)
			if err != nil {
				pc.logger.Errorf("can't get detections. got err: %s", err)
				if !pc.pace(cancelableCtx, start) {
					return
				}
				continue
			}
			pc.step(detections)
			pc.currImg.Store(&img)

			pc.timeStats.add(time.Since(start))
			if !pc.pace(cancelableCtx, start) {
				return
			}
		}
	}
}

// pace sleeps out the rest of the 1/frequency period that began at start.
// It returns false if ctx was canceled meanwhile.
func (pc *pedCounter) pace(ctx context.Context, start time.Time) bool {
	waitFor := time.Duration((1/pc.frequency)*float64(time.Second)) - time.Since(start)
	if waitFor <= time.Microsecond {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(waitFor):
		return true
	}
}

// step runs one tick of the pipeline: filter, track, find exits, count. It
// returns the exit events of this tick.
func (pc *pedCounter) step(detections []objdet.Detection) []exits.Event {
	filtered := tracker.FilterDetections(pc.chosenLabels, detections, pc.minConfidence)
	tracks := pc.tracker.Update(filtered)
	events := pc.exits.Update()

	counted := false
	for _, e := range events {
		if e.Direction == tracker.DirectionNone {
			pc.logger.Debugw("pedestrian left without a direction", "track", e.TrackID)
			continue
		}
		pc.counter.RecordCrossing(e.Direction)
		pc.crossings.add(crossing{TrackID: e.TrackID, Direction: e.Direction.String(), Time: pc.clock.Now()})
		counted = true
	}
	// the counter owns the clock, the loop only makes sure boundaries are noticed every tick
	pc.counter.CheckRollover()
	if counted {
		pc.trigger()
	}

	pc.currTracks.mutex.Lock()
	pc.currTracks.tracks = tracks
	pc.currTracks.mutex.Unlock()
	return events
}

func (pc *pedCounter) trigger() {
	if pc.triggerCancelFunc != nil {
		pc.triggerCancelFunc()
	}
	parent := pc.cancelContext
	if parent == nil {
		parent = context.Background()
	}
	triggerContext, triggerCancelFunc := context.WithCancel(parent)
	pc.triggerContext = triggerContext
	pc.triggerCancelFunc = triggerCancelFunc

	pc.newCrossing.Store(true)
	pc.activeBackgroundWorkers.Add(1)

	viamutils.ManagedGo(
		func() {
			coolDownTimer := time.After(time.Duration(pc.coolDown * float64(time.Second)))
			select {
			case <-coolDownTimer:
				pc.newCrossing.Store(false)
				return
			case <-triggerContext.Done():
				return
			}
		},
		func() {
			pc.activeBackgroundWorkers.Done()
		})
}

func (pc *pedCounter) liveDetections() []objdet.Detection {
	pc.currTracks.mutex.RLock()
	defer pc.currTracks.mutex.RUnlock()
	return tracker.Detections(pc.currTracks.tracks)
}

func (pc *pedCounter) classifications() classification.Classifications {
	if pc.newCrossing.Load() {
		return classification.Classifications{classification.NewClassification(1, CrossingLabel)}
	}
	return classification.Classifications{}
}

func (pc *pedCounter) checkCamera(cameraName string) error {
	if cameraName != pc.camName {
		return errors.Errorf("Camera name given to method, %v is not the same as configured camera %v", cameraName, pc.camName)
	}
	return nil
}

func (pc *pedCounter) DetectionsFromCamera(
	ctx context.Context,
	cameraName string,
	extra map[string]interface{},
) ([]objdet.Detection, error) {
	if err := pc.checkCamera(cameraName); err != nil {
		return nil, err
	}
	return pc.Detections(ctx, nil, extra)
}

// Detections returns the tracked pedestrians, labelled person_ID_direction.
// The image argument is ignored, tracks come from the configured camera.
func (pc *pedCounter) Detections(ctx context.Context, img image.Image, extra map[string]interface{}) ([]objdet.Detection, error) {
	select {
	case <-pc.cancelContext.Done():
		return nil, pc.cancelContext.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return pc.liveDetections(), nil
	}
}

func (pc *pedCounter) ClassificationsFromCamera(
	ctx context.Context,
	cameraName string,
	n int,
	extra map[string]interface{},
) (classification.Classifications, error) {
	if err := pc.checkCamera(cameraName); err != nil {
		return nil, err
	}
	return pc.classifications(), nil
}

// Classifications returns a single pedestrian-crossed label for a while after a crossing was counted.
func (pc *pedCounter) Classifications(ctx context.Context, img image.Image,
	n int, extra map[string]interface{},
) (classification.Classifications, error) {
	return pc.classifications(), nil
}

func (pc *pedCounter) GetProperties(ctx context.Context, extra map[string]interface{}) (*vision.Properties, error) {
	return &pc.properties, nil
}

func (pc *pedCounter) GetObjectPointClouds(
	ctx context.Context,
	cameraName string,
	extra map[string]interface{},
) ([]*vis.Object, error) {
	return nil, errUnimplemented
}

func (pc *pedCounter) CaptureAllFromCamera(
	ctx context.Context,
	cameraName string,
	opt viscapture.CaptureOptions,
	extra map[string]interface{},
) (viscapture.VisCapture, error) {
	var detections []objdet.Detection
	var classifications classification.Classifications
	var img image.Image
	select {
	case <-pc.cancelContext.Done():
		return viscapture.VisCapture{}, pc.cancelContext.Err()
	case <-ctx.Done():
		return viscapture.VisCapture{}, ctx.Err()
	default:
		if opt.ReturnImage {
			if err := pc.checkCamera(cameraName); err != nil {
				return viscapture.VisCapture{}, err
			}
			if last := pc.currImg.Load(); last != nil {
				img = *last
			}
		}
		if opt.ReturnDetections {
			detections = pc.liveDetections()
		}
		if opt.ReturnClassifications {
			classifications = pc.classifications()
		}
	}
	return viscapture.VisCapture{Image: img, Detections: detections, Classifications: classifications}, nil
}

// Close stops the frame loop and flushes pending reports. Pedestrians still
// in view are never counted.
func (pc *pedCounter) Close(ctx context.Context) error {
	if pc.cancelFunc != nil {
		pc.cancelFunc()
	}
	pc.activeBackgroundWorkers.Wait()
	if pc.publisher != nil {
		return pc.publisher.Close()
	}
	return nil
}
