package report

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"

	"github.com/viam-modules/pedestrian-counter/counter"
)

var (
	DefaultFallbackFile = "data.txt"
	DefaultTimeout      = 5 * time.Second
	DefaultQueueSize    = 64
)

// Config for a Publisher. Zero values take the defaults above, except
// FallbackFile: an empty name disables the fallback file.
type Config struct {
	RootPath     string
	FallbackFile string
	Timeout      time.Duration
	QueueSize    int
}

// Publisher implements counter.Sink. Rollover notifications are turned into
// reports and delivered to every store from a single background worker, so the
// counting loop never waits on the network.
type Publisher struct {
	logger logging.Logger
	clock  clock.Clock
	stores []Store
	cfg    Config

	mu     sync.Mutex
	closed bool
	queue  chan Report

	activeBackgroundWorkers sync.WaitGroup
}

// NewPublisher starts the delivery worker. Reports are stamped with clk, which
// should be the clock the counter runs on. The publisher owns the stores and
// closes them in Close.
func NewPublisher(logger logging.Logger, clk clock.Clock, cfg Config, stores ...Store) *Publisher {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.RootPath == "" {
		cfg.RootPath = DefaultRootPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	p := &Publisher{
		logger: logger,
		clock:  clk,
		stores: stores,
		cfg:    cfg,
		queue:  make(chan Report, cfg.QueueSize),
	}
	p.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(p.run, p.activeBackgroundWorkers.Done)
	return p
}

// MinuteElapsed reports the minute and the running day totals. Minutes nobody
// crossed in are skipped.
func (p *Publisher) MinuteElapsed(minute time.Time, s counter.Snapshot) {
	if s.MinuteTotal == 0 {
		return
	}
	p.enqueue(MinuteReport(p.cfg.RootPath, minute, s.Minute()))
	p.enqueue(TotalReport(p.cfg.RootPath, s.Day()))
}

// DayElapsed stores the final counts of the day and zeroes the running totals.
func (p *Publisher) DayElapsed(day time.Time, d counter.DayCounts) {
	p.enqueue(DayReport(p.cfg.RootPath, day, d))
	p.enqueue(TotalReport(p.cfg.RootPath, counter.DayCounts{}))
}

func (p *Publisher) enqueue(r Report) {
	r.Time = p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warnw("publisher closed, dropping report", "path", r.Path)
		return
	}
	select {
	case p.queue <- r:
	default:
		p.logger.Warnw("report queue full, dropping report", "path", r.Path)
	}
}

func (p *Publisher) run() {
	for r := range p.queue {
		p.deliver(r)
	}
}

func (p *Publisher) deliver(r Report) {
	if p.cfg.FallbackFile != "" {
		if err := WriteFallback(p.cfg.FallbackFile, r); err != nil {
			p.logger.Warnw("failed to write fallback file", "error", err)
		}
	}
	for _, s := range p.stores {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
		err := s.Patch(ctx, r.Path, r.Fields)
		cancel()
		if err != nil {
			// counts are not rolled back, the report is lost
			p.logger.Errorw("failed to post counts", "path", r.Path, "error", err)
			continue
		}
		p.logger.Debugw("posted counts", "path", r.Path, "fields", r.Fields)
	}
}

// Close delivers whatever is still queued, then closes the stores.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.activeBackgroundWorkers.Wait()
	var err error
	for _, s := range p.stores {
		err = multierr.Combine(err, s.Close())
	}
	return err
}
