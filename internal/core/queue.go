package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPacing          = 500 * time.Millisecond
	DefaultSettleDelay     = 1000 * time.Millisecond
	DefaultListSettleDelay = 300 * time.Millisecond
	DefaultErrorCooldown   = 1000 * time.Millisecond
	DefaultShutdownGrace   = 5 * time.Second
)

var ErrShutdownTimeout = errors.New("queue worker did not stop within grace period")

// pacingByType is the post-job delay per metadata type tag, sized to the physical work
// the job makes the printer do.
var pacingByType = map[string]time.Duration{
	"KOT":                 300 * time.Millisecond,
	"RECEIPT":             1000 * time.Millisecond,
	"BILL":                1000 * time.Millisecond,
	"TEST_CONNECTION":     100 * time.Millisecond,
	"CASH_IN_OUT":         100 * time.Millisecond,
	"OPEN_DRAWER":         100 * time.Millisecond,
	"SHIFT_OPEN_SUMMARY":  400 * time.Millisecond,
	"ITEM_SALES_REPORT":   400 * time.Millisecond,
	"SHIFT_CLOSE_SUMMARY": 800 * time.Millisecond,
}

// PacingFor returns the built-in delay for a job type, 500ms for unset or unknown types.
func PacingFor(jobType string) time.Duration {
	if d, ok := pacingByType[jobType]; ok {
		return d
	}
	return DefaultPacing
}

type DevicePool interface {
	Contains(endpoint PrinterEndpoint) bool
	NameOf(endpoint PrinterEndpoint) string
	NotifyUnreachable(endpoint PrinterEndpoint) bool
	MarkReachable(endpoint PrinterEndpoint)
	IsFlaggedUnreachable(endpoint PrinterEndpoint) bool
}

type JobEncoder interface {
	Generate(items []PrintItem) ([][]byte, error)
}

type QueueOptions struct {
	// Pacing overrides entries of the built-in table; DefaultPacing replaces the fallback.
	Pacing          map[string]time.Duration
	DefaultPacing   time.Duration
	SettleDelay     time.Duration
	ListSettleDelay time.Duration
	ErrorCooldown   time.Duration
	ShutdownGrace   time.Duration

	Internal InternalPrinter
	Recorder DispatchRecorder
	Sink     EventSink
}

func (o QueueOptions) withDefaults() QueueOptions {
	if o.DefaultPacing <= 0 {
		o.DefaultPacing = DefaultPacing
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	} else if o.SettleDelay == 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.ListSettleDelay < 0 {
		o.ListSettleDelay = 0
	} else if o.ListSettleDelay == 0 {
		o.ListSettleDelay = DefaultListSettleDelay
	}
	if o.ErrorCooldown <= 0 {
		o.ErrorCooldown = DefaultErrorCooldown
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = DefaultShutdownGrace
	}
	if o.Sink == nil {
		o.Sink = Sinks{}
	}
	return o
}

// Queue is an unbounded FIFO of print jobs with a single dispatching worker. Enqueue
// never blocks; the worker is the only path that touches printer connections.
type Queue struct {
	pool      DevicePool
	encoder   JobEncoder
	transport Transport
	opts      QueueOptions
	logger    *zap.Logger

	mu     sync.Mutex
	jobs   []*PrintJob
	wakeCh chan struct{}

	// drainMu keeps the worker from taking a job while an operation has the queue drained.
	drainMu sync.Mutex

	running  bool
	stopping atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewQueue(pool DevicePool, encoder JobEncoder, transport Transport, opts QueueOptions, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		pool:      pool,
		encoder:   encoder,
		transport: transport,
		opts:      opts.withDefaults(),
		logger:    logger,
		wakeCh:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

func (q *Queue) Start() {
	q.mu.Lock()
	if q.running || q.stopping.Load() {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	go q.worker()
	q.logger.Info("print queue started")
}

// Shutdown stops the worker after its current step and waits up to the grace period.
// On timeout the active printer socket is closed to unblock the worker.
func (q *Queue) Shutdown() error {
	q.mu.Lock()
	if q.stopping.Load() {
		q.mu.Unlock()
		return nil
	}
	q.stopping.Store(true)
	wasRunning := q.running
	q.running = false
	q.mu.Unlock()

	close(q.stopCh)
	if !wasRunning {
		return nil
	}

	timer := time.NewTimer(q.opts.ShutdownGrace)
	defer timer.Stop()

	select {
	case <-q.doneCh:
		q.logger.Info("print queue stopped", zap.Int("remaining", q.Len()))
		return nil
	case <-timer.C:
		if a, ok := q.transport.(interface{ Abort() }); ok {
			a.Abort()
		}
		q.logger.Warn("print queue forced to stop", zap.Duration("grace", q.opts.ShutdownGrace))
		return ErrShutdownTimeout
	}
}

func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Enqueue appends the job to the tail. A job aimed at a printer already flagged
// unreachable is marked pending.
func (q *Queue) Enqueue(job *PrintJob) error {
	if job == nil {
		return errors.New("nil job")
	}
	if q.stopping.Load() {
		return ErrQueueStopped
	}
	if q.pool != nil && q.pool.IsFlaggedUnreachable(job.Target) {
		job.Pending = true
	}

	// Once appended the job belongs to the queue and may be retargeted concurrently.
	summary := job.Summary()
	jobType := job.Metadata.Type()

	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	depth := len(q.jobs)
	q.mu.Unlock()
	q.wake()

	q.logger.Debug("job enqueued",
		zap.String("job_id", summary.JobID),
		zap.String("endpoint", NewEndpoint(summary.PrinterHost, summary.PrinterPort).String()),
		zap.String("type", jobType),
		zap.Int("depth", depth))
	q.opts.Sink.JobEnqueued(summary)
	return nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Snapshot lists every queued job in order without draining.
func (q *Queue) Snapshot() []JobSummary {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]JobSummary, 0, len(q.jobs))
	for _, job := range q.jobs {
		out = append(out, job.Summary())
	}
	return out
}

// Retarget points every queued job for oldEP at newEP and clears its pending flag.
// It returns the number of jobs changed.
func (q *Queue) Retarget(oldEP, newEP PrinterEndpoint) int {
	changed := 0
	q.withDrained(q.opts.SettleDelay, func(jobs []*PrintJob) []*PrintJob {
		for _, job := range jobs {
			if job.Target.Equal(oldEP) {
				q.retargetJob(job, newEP)
				changed++
			}
		}
		return jobs
	})
	q.logger.Info("jobs retargeted",
		zap.String("from", oldEP.String()),
		zap.String("to", newEP.String()),
		zap.Int("count", changed))
	return changed
}

// RetargetByID points the job with the given id at newEP. It reports whether the job was queued.
func (q *Queue) RetargetByID(jobID string, newEP PrinterEndpoint) bool {
	found := false
	q.withDrained(q.opts.SettleDelay, func(jobs []*PrintJob) []*PrintJob {
		for _, job := range jobs {
			if job.ID == jobID {
				q.retargetJob(job, newEP)
				found = true
			}
		}
		return jobs
	})
	if !found {
		q.logger.Info("retarget: job not queued", zap.String("job_id", jobID))
	}
	return found
}

func (q *Queue) retargetJob(job *PrintJob, newEP PrinterEndpoint) {
	job.Target = newEP
	job.Pending = false
	if q.pool != nil {
		job.PrinterName = q.pool.NameOf(newEP)
	}
}

// ListPending returns the pending jobs in queue order and leaves the queue unchanged.
func (q *Queue) ListPending() []JobSummary {
	var pending []JobSummary
	q.withDrained(q.opts.ListSettleDelay, func(jobs []*PrintJob) []*PrintJob {
		for _, job := range jobs {
			if job.Pending {
				pending = append(pending, job.Summary())
			}
		}
		return jobs
	})
	return pending
}

// DeleteByID removes the first queued job with the id. It reports whether one was removed.
func (q *Queue) DeleteByID(jobID string) bool {
	removed := false
	q.withDrained(0, func(jobs []*PrintJob) []*PrintJob {
		for i, job := range jobs {
			if job.ID == jobID {
				removed = true
				return append(jobs[:i:i], jobs[i+1:]...)
			}
		}
		return jobs
	})
	if removed {
		q.logger.Info("job deleted", zap.String("job_id", jobID))
	}
	return removed
}

// withDrained takes every queued job, lets fn rewrite the list, puts the result back in
// front of anything enqueued meanwhile, then holds the worker for the settle delay.
// Producers are not blocked, so a job enqueued during the window lands after the
// reinserted ones.
func (q *Queue) withDrained(settle time.Duration, fn func([]*PrintJob) []*PrintJob) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	q.mu.Lock()
	drained := q.jobs
	q.jobs = nil
	q.mu.Unlock()

	kept := fn(drained)

	q.mu.Lock()
	q.jobs = append(kept, q.jobs...)
	q.mu.Unlock()
	q.wake()

	if settle > 0 {
		q.sleep(settle)
	}
}

func (q *Queue) wake() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}

// sleep waits for d or until shutdown, whichever comes first.
func (q *Queue) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-q.stopCh:
	}
}

func (q *Queue) next() (*PrintJob, bool) {
	for {
		if q.stopping.Load() {
			return nil, false
		}

		q.drainMu.Lock()
		q.mu.Lock()
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs[0] = nil
			q.jobs = q.jobs[1:]
			q.mu.Unlock()
			q.drainMu.Unlock()
			return job, true
		}
		q.mu.Unlock()
		q.drainMu.Unlock()

		select {
		case <-q.wakeCh:
		case <-q.stopCh:
			return nil, false
		}
	}
}

func (q *Queue) worker() {
	defer close(q.doneCh)

	for {
		job, ok := q.next()
		if !ok {
			return
		}
		q.safeProcess(job)
	}
}

func (q *Queue) safeProcess(job *PrintJob) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("panic while processing job",
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			q.sleep(q.opts.ErrorCooldown)
		}
	}()
	q.processJob(job)
}

func (q *Queue) processJob(job *PrintJob) {
	jobType := job.Metadata.Type()
	log := q.logger.With(
		zap.String("job_id", job.ID),
		zap.String("endpoint", job.Target.String()),
		zap.String("type", jobType))

	rec := DispatchRecord{
		JobID:    job.ID,
		Endpoint: job.Target,
		JobType:  jobType,
		At:       time.Now(),
	}

	if q.pool == nil || !q.pool.Contains(job.Target) {
		// Unknown printers get no dispatch attempt; the job is dropped after pacing.
		rec.Outcome = OutcomeSkipped
		log.Info("target printer not in pool, job skipped")
	} else {
		n, err := q.dispatch(job)
		rec.Bytes = n
		if err != nil {
			rec.Outcome = OutcomeFailed
			rec.Error = err.Error()
			log.Error("print failed", zap.Error(err))
			q.pool.NotifyUnreachable(job.Target)
		} else {
			rec.Outcome = OutcomeDispatched
			log.Info("printed", zap.Int("bytes", n))
			q.pool.MarkReachable(job.Target)
		}
	}
	rec.Duration = time.Since(rec.At)

	if q.opts.Recorder != nil {
		if err := q.opts.Recorder.RecordDispatch(rec); err != nil {
			log.Warn("failed to record dispatch", zap.Error(err))
		}
	}
	q.opts.Sink.JobProcessed(rec)

	q.sleep(q.pacing(jobType))
}

func (q *Queue) pacing(jobType string) time.Duration {
	if d, ok := q.opts.Pacing[jobType]; ok {
		return d
	}
	if d, ok := pacingByType[jobType]; ok {
		return d
	}
	return q.opts.DefaultPacing
}

func (q *Queue) dispatch(job *PrintJob) (int, error) {
	chunks, err := q.encoder.Generate(job.Items)
	if err != nil {
		q.logger.Warn("job encoded with degraded items", zap.String("job_id", job.ID), zap.Error(err))
	}

	size := 0
	for _, c := range chunks {
		size += len(c)
	}

	if job.Target.IsInternal() {
		if q.opts.Internal == nil || !q.opts.Internal.Available() {
			return 0, newTransportError(job.Target, "print", ErrInternalUnavailable, nil)
		}
		if err := q.opts.Internal.Print(chunks); err != nil {
			return 0, newTransportError(job.Target, "print", ErrWriteFailed, err)
		}
		return size, nil
	}

	if q.transport == nil {
		return 0, fmt.Errorf("no transport configured")
	}
	if err := q.transport.Connect(context.Background(), job.Target); err != nil {
		return 0, err
	}
	defer q.transport.Disconnect()

	return q.transport.Send(chunks)
}
