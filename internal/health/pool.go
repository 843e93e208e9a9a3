package health

import (
	"runtime/debug"

	"github.com/alitto/pond/v2"
	log "github.com/sirupsen/logrus"
)

// Pool drains a Queue with a fixed number of workers.
type Pool struct {
	concurrency int
}

// NewPool creates a pool of the given size.
func NewPool(concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Pool{concurrency: concurrency}
}

// Concurrency returns the number of workers started per run.
func (p *Pool) Concurrency() int {
	return p.concurrency
}

// Run starts exactly Concurrency workers, each popping and handling jobs
// until it finds the queue empty, and returns once all of them have exited.
// It returns the number of jobs handled.
func (p *Pool) Run(queue *Queue, handle func(Job)) int {
	workers := pond.NewPool(p.concurrency)
	defer workers.StopAndWait()

	counts := make([]int, p.concurrency)
	group := workers.NewGroup()
	for i := 0; i < p.concurrency; i++ {
		worker := i
		group.Submit(func() {
			for {
				job, ok := queue.TryPop()
				if !ok {
					return
				}
				safeHandle(handle, job)
				counts[worker]++
			}
		})
	}
	if err := group.Wait(); err != nil {
		log.WithError(err).Error("Health check worker exited unexpectedly")
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

// safeHandle keeps one job's panic from taking the worker down with it.
func safeHandle(handle func(Job), job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"service_id": job.ServiceID,
				"url":        job.URL,
			}).Errorf("Health check panicked: %v\n%s", r, debug.Stack())
		}
	}()
	handle(job)
}
