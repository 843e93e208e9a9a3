package health

// Job is a snapshot of one service taken when it was enqueued.
type Job struct {
	ServiceID string
	URL       string
}

// Queue is a bounded FIFO of probe jobs shared by the scheduler and the
// workers. Pushes beyond capacity are rejected rather than blocking.
type Queue struct {
	jobs chan Job
}

// NewQueue creates a queue holding at most size jobs.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultMaxQueueSize
	}
	return &Queue{jobs: make(chan Job, size)}
}

// TryPush enqueues job, reporting false when the queue is full.
func (q *Queue) TryPush(job Job) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// TryPop removes the oldest job, reporting false when the queue is empty.
// Each job is handed to exactly one caller.
func (q *Queue) TryPop() (Job, bool) {
	select {
	case job := <-q.jobs:
		return job, true
	default:
		return Job{}, false
	}
}

// Len reports how many jobs are waiting.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Cap reports the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.jobs)
}
