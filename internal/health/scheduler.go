package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"nexus/internal/metrics"
)

// State is the phase a Scheduler is currently in.
type State int

const (
	StateStopped State = iota
	StateIdle
	StateScheduling
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduling:
		return "scheduling"
	case StateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

// CycleStats summarises one scheduling pass.
type CycleStats struct {
	Listed    int `json:"listed"`
	Enqueued  int `json:"enqueued"`
	Dropped   int `json:"dropped"`
	Processed int `json:"processed"`
}

// Scheduler periodically probes every monitored service.
//
// The ticker is independent of drain completion: a pass that fires while a
// previous drain is still running enqueues into the same bounded queue and
// the running workers pick the new jobs up. The queue capacity is the only
// limit on overlapping passes.
type Scheduler struct {
	cfg      Config
	source   EntitySource
	prober   Prober
	recorder *Recorder
	metrics  *metrics.Metrics

	queue     *Queue
	pool      *Pool
	processed atomic.Int64

	mu         sync.Mutex
	running    bool
	scheduling bool
	draining   bool
	drained    chan struct{}
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// New creates a stopped scheduler. m may be nil.
func New(cfg Config, source EntitySource, prober Prober, recorder *Recorder, m *metrics.Metrics) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg:      cfg,
		source:   source,
		prober:   prober,
		recorder: recorder,
		metrics:  m,
		queue:    NewQueue(cfg.MaxQueueSize),
		pool:     NewPool(cfg.Concurrency),
	}
}

// Start runs one scheduling pass immediately and then one every interval.
// Calling Start on a running scheduler only logs a warning.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		log.Warn("Health checker is already running")
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(s.stopCh, s.doneCh)

	log.WithFields(log.Fields{
		"interval":    s.cfg.Interval,
		"concurrency": s.cfg.Concurrency,
		"queue_size":  s.cfg.MaxQueueSize,
	}).Info("Health checker started")
}

// Stop cancels the ticker and waits for the loop to exit. A drain already
// in progress keeps running; use Wait to block until it finishes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	log.Info("Health checker stopped")
}

// Wait blocks until no drain is running or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	if !s.draining {
		s.mu.Unlock()
		return nil
	}
	drained := s.drained
	s.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueSize reports how many jobs are waiting to be picked up.
func (s *Scheduler) QueueSize() int {
	return s.queue.Len()
}

// Running reports whether the ticker is armed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.scheduling:
		return StateScheduling
	case s.draining:
		return StateDraining
	case s.running:
		return StateIdle
	default:
		return StateStopped
	}
}

// RunOnce performs a single pass and waits for the queue to drain. It is
// meant for one-shot use; if the scheduler is also running, Processed may
// include jobs queued by its own passes.
func (s *Scheduler) RunOnce(ctx context.Context) (CycleStats, error) {
	before := s.processed.Load()
	stats, err := s.enqueue(ctx)
	if err != nil {
		return stats, err
	}
	s.startDrain()
	err = s.Wait(ctx)
	stats.Processed = int(s.processed.Load() - before)
	return stats, err
}

func (s *Scheduler) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.pass(ctx, stopCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pass(ctx, stopCh)
		case <-stopCh:
			return
		}
	}
}

// pass runs one tick but stops waiting for it once stopCh closes, so a
// source that ignores cancellation cannot hold up Stop. The abandoned tick
// sees ctx cancelled and enqueues nothing.
func (s *Scheduler) pass(ctx context.Context, stopCh <-chan struct{}) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.tick(ctx)
	}()
	select {
	case <-done:
	case <-stopCh:
	}
}

// tick lists and enqueues with a deadline of one interval, then starts a
// drain.
func (s *Scheduler) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Interval)
	defer cancel()

	stats, err := s.enqueue(ctx)
	if err != nil {
		log.WithError(err).Error("Health check cycle aborted")
		return
	}
	log.WithFields(log.Fields{
		"enqueued": stats.Enqueued,
		"dropped":  stats.Dropped,
	}).Infof("Queued %d services for health check", stats.Enqueued)
	s.startDrain()
}

// enqueue lists the monitored services and pushes one job per enabled
// service, skipping duplicates within the pass and anything over capacity.
func (s *Scheduler) enqueue(ctx context.Context) (CycleStats, error) {
	s.setScheduling(true)
	defer s.setScheduling(false)

	var stats CycleStats
	services, err := s.source.ListMonitoredEntities(ctx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.metrics.IncCycle("source_error")
		return stats, errors.Wrap(err, "list monitored services")
	}

	seen := make(map[string]struct{}, len(services))
	for _, svc := range services {
		if !svc.CheckHealth || svc.URL == "" {
			continue
		}
		if _, dup := seen[svc.ID]; dup {
			continue
		}
		seen[svc.ID] = struct{}{}
		stats.Listed++

		if !s.queue.TryPush(Job{ServiceID: svc.ID, URL: svc.URL}) {
			stats.Dropped++
			log.WithField("service_id", svc.ID).Debug("Health check queue full, skipping service this cycle")
			continue
		}
		stats.Enqueued++
	}

	s.metrics.AddDropped(stats.Dropped)
	s.metrics.SetQueueSize(s.queue.Len())
	s.metrics.IncCycle("ok")
	return stats, nil
}

func (s *Scheduler) setScheduling(v bool) {
	s.mu.Lock()
	s.scheduling = v
	s.mu.Unlock()
}

// startDrain launches a drain unless one is already running.
func (s *Scheduler) startDrain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.drained = make(chan struct{})
	drained := s.drained
	s.mu.Unlock()

	go s.drain(drained)
}

// drain runs the pool until the queue is observed empty under the lock, so
// a job pushed after the workers exit is never left behind.
func (s *Scheduler) drain(drained chan struct{}) {
	start := time.Now()
	total := 0
	for {
		total += s.pool.Run(s.queue, s.process)

		s.mu.Lock()
		if s.queue.Len() == 0 {
			s.draining = false
			close(drained)
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()
	}
	log.WithFields(log.Fields{
		"processed": total,
		"elapsed":   time.Since(start).Round(time.Millisecond),
	}).Info("Health check cycle complete")
}

func (s *Scheduler) process(job Job) {
	ctx := context.Background()
	result := s.prober.Probe(ctx, job.URL, s.cfg.Timeout)
	s.recorder.Record(ctx, job, result)
	s.processed.Add(1)
	s.metrics.SetQueueSize(s.queue.Len())
}
