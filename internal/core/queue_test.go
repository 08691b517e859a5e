package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastQueueOptions() QueueOptions {
	return QueueOptions{
		DefaultPacing:   time.Millisecond,
		SettleDelay:     -1,
		ListSettleDelay: -1,
		ErrorCooldown:   time.Millisecond,
		ShutdownGrace:   2 * time.Second,
	}
}

func textJob(id string, ep PrinterEndpoint) *PrintJob {
	return &PrintJob{
		ID:     id,
		Target: ep,
		Items:  []PrintItem{{Type: ItemText, Text: id}},
	}
}

func jobIDs(summaries []JobSummary) []string {
	ids := make([]string, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.JobID)
	}
	return ids
}

// countingTransport records connects and never touches the network.
type countingTransport struct {
	connects atomic.Int32
	sendErr  error
}

func (c *countingTransport) Connect(context.Context, PrinterEndpoint) error {
	c.connects.Add(1)
	return nil
}

func (c *countingTransport) Send(chunks [][]byte) (int, error) {
	if c.sendErr != nil {
		return 0, c.sendErr
	}
	return len(Flatten(chunks)), nil
}

func (c *countingTransport) Disconnect()       {}
func (c *countingTransport) IsConnected() bool { return false }

// blockingTransport hangs in Send until aborted.
type blockingTransport struct {
	countingTransport
	sending chan struct{}
	abort   chan struct{}
	once    sync.Once
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{sending: make(chan struct{}, 1), abort: make(chan struct{})}
}

func (b *blockingTransport) Send([][]byte) (int, error) {
	b.sending <- struct{}{}
	<-b.abort
	return 0, errors.New("aborted")
}

func (b *blockingTransport) Abort() {
	b.once.Do(func() { close(b.abort) })
}

type panicEncoder struct {
	calls atomic.Int32
	inner JobEncoder
}

func (p *panicEncoder) Generate(items []PrintItem) ([][]byte, error) {
	if p.calls.Add(1) == 1 {
		panic("encoder exploded")
	}
	return p.inner.Generate(items)
}

func TestPacingFor(t *testing.T) {
	tests := []struct {
		jobType string
		want    time.Duration
	}{
		{"KOT", 300 * time.Millisecond},
		{"RECEIPT", time.Second},
		{"BILL", time.Second},
		{"TEST_CONNECTION", 100 * time.Millisecond},
		{"CASH_IN_OUT", 100 * time.Millisecond},
		{"OPEN_DRAWER", 100 * time.Millisecond},
		{"SHIFT_OPEN_SUMMARY", 400 * time.Millisecond},
		{"ITEM_SALES_REPORT", 400 * time.Millisecond},
		{"SHIFT_CLOSE_SUMMARY", 800 * time.Millisecond},
		{"", 500 * time.Millisecond},
		{"kot", 500 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PacingFor(tt.jobType), tt.jobType)
	}

	q := NewQueue(nil, nil, nil, QueueOptions{
		Pacing:        map[string]time.Duration{"KOT": 5 * time.Millisecond},
		DefaultPacing: 7 * time.Millisecond,
	}, nil)
	assert.Equal(t, 5*time.Millisecond, q.pacing("KOT"))
	assert.Equal(t, time.Second, q.pacing("BILL"))
	assert.Equal(t, 7*time.Millisecond, q.pacing("OTHER"))
}

func TestQueueOptionDefaults(t *testing.T) {
	o := QueueOptions{}.withDefaults()
	assert.Equal(t, DefaultSettleDelay, o.SettleDelay)
	assert.Equal(t, DefaultListSettleDelay, o.ListSettleDelay)
	assert.Equal(t, DefaultShutdownGrace, o.ShutdownGrace)

	o = QueueOptions{SettleDelay: -1, ListSettleDelay: -5}.withDefaults()
	assert.Zero(t, o.SettleDelay)
	assert.Zero(t, o.ListSettleDelay)
}

func TestListPendingLeavesQueueUnchanged(t *testing.T) {
	pool := NewPrinterManager(nil, nil, nil, PrinterManagerOptions{}, nil)
	down := NewEndpoint("10.0.0.2", 0)
	up := NewEndpoint("10.0.0.3", 0)
	pool.NotifyUnreachable(down)

	q := NewQueue(pool, nil, nil, fastQueueOptions(), nil)
	require.NoError(t, q.Enqueue(textJob("PJ-1", down)))
	require.NoError(t, q.Enqueue(textJob("PJ-2", up)))
	require.NoError(t, q.Enqueue(textJob("PJ-3", down)))
	explicit := textJob("PJ-4", up)
	explicit.Pending = true
	require.NoError(t, q.Enqueue(explicit))

	before := q.Snapshot()
	assert.Equal(t, []string{"PJ-1", "PJ-3", "PJ-4"}, jobIDs(q.ListPending()))
	assert.Equal(t, before, q.Snapshot())
}

func TestListPendingEmpty(t *testing.T) {
	q := NewQueue(nil, nil, nil, fastQueueOptions(), nil)
	assert.Empty(t, q.ListPending())
}

func TestRetargetPreservesOrder(t *testing.T) {
	pool := NewPrinterManager(nil, nil, nil, PrinterManagerOptions{}, nil)
	a := NewEndpoint("10.0.0.1", 0)
	b := NewEndpoint("10.0.0.2", 0)
	c := NewEndpoint("10.0.0.3", 0)
	pool.Seed([]PrinterEndpoint{c})
	pool.NotifyUnreachable(a)

	q := NewQueue(pool, nil, nil, fastQueueOptions(), nil)
	require.NoError(t, q.Enqueue(textJob("PJ-1", a)))
	require.NoError(t, q.Enqueue(textJob("PJ-2", b)))
	require.NoError(t, q.Enqueue(textJob("PJ-3", a)))

	assert.Equal(t, 2, q.Retarget(a, c))

	jobs := q.Snapshot()
	assert.Equal(t, []string{"PJ-1", "PJ-2", "PJ-3"}, jobIDs(jobs))
	for _, i := range []int{0, 2} {
		assert.Equal(t, "10.0.0.3", jobs[i].PrinterHost)
		assert.Equal(t, "PrinterName_10.0.0.3", jobs[i].PrinterName)
		assert.False(t, jobs[i].Pending)
	}
	assert.Equal(t, "10.0.0.2", jobs[1].PrinterHost)

	assert.Zero(t, q.Retarget(a, c))
}

func TestRetargetByID(t *testing.T) {
	a := NewEndpoint("10.0.0.1", 0)
	c := NewEndpoint("10.0.0.3", 9101)

	q := NewQueue(nil, nil, nil, fastQueueOptions(), nil)
	pending := textJob("PJ-1", a)
	pending.Pending = true
	require.NoError(t, q.Enqueue(pending))
	require.NoError(t, q.Enqueue(textJob("PJ-2", a)))

	assert.True(t, q.RetargetByID("PJ-1", c))
	assert.False(t, q.RetargetByID("PJ-404", c))

	jobs := q.Snapshot()
	assert.Equal(t, []string{"PJ-1", "PJ-2"}, jobIDs(jobs))
	assert.Equal(t, 9101, jobs[0].PrinterPort)
	assert.False(t, jobs[0].Pending)
	assert.Equal(t, "10.0.0.1", jobs[1].PrinterHost)
}

func TestDeleteByID(t *testing.T) {
	ep := NewEndpoint("10.0.0.1", 0)
	q := NewQueue(nil, nil, nil, fastQueueOptions(), nil)
	for _, id := range []string{"PJ-1", "PJ-2", "PJ-3"} {
		require.NoError(t, q.Enqueue(textJob(id, ep)))
	}

	before := q.Snapshot()
	assert.False(t, q.DeleteByID("PJ-404"))
	assert.Equal(t, before, q.Snapshot())

	assert.True(t, q.DeleteByID("PJ-2"))
	assert.Equal(t, []string{"PJ-1", "PJ-3"}, jobIDs(q.Snapshot()))
	assert.False(t, q.DeleteByID("PJ-2"))
}

func TestQueueSkipsPrintersOutsidePool(t *testing.T) {
	sink := &recordingSink{}
	pool := NewPrinterManager(nil, nil, nil, PrinterManagerOptions{}, nil)
	transport := &countingTransport{}

	opts := fastQueueOptions()
	opts.Sink = sink
	q := NewQueue(pool, NewESCPOSGenerator(EncoderOptions{}, nil), transport, opts, zaptest.NewLogger(t))
	q.Start()
	defer q.Shutdown()

	require.NoError(t, q.Enqueue(textJob("PJ-1", NewEndpoint("10.9.9.9", 0))))

	require.Eventually(t, func() bool { return len(sink.processedRecords()) == 1 }, 2*time.Second, 5*time.Millisecond)
	rec := sink.processedRecords()[0]
	assert.Equal(t, OutcomeSkipped, rec.Outcome)
	assert.Zero(t, transport.connects.Load())
	assert.Zero(t, q.Len())
}

func TestQueueDispatchesInOrder(t *testing.T) {
	fp := newFakePrinter(t)
	sink := &recordingSink{}
	pool := NewPrinterManager(nil, nil, nil, PrinterManagerOptions{}, nil)
	pool.Seed([]PrinterEndpoint{fp.endpoint()})

	opts := fastQueueOptions()
	opts.Sink = sink
	q := NewQueue(pool, NewESCPOSGenerator(EncoderOptions{}, nil),
		NewConnectionManager(ConnectionOptions{ConnectTimeout: time.Second}, nil), opts, zaptest.NewLogger(t))
	q.Start()
	assert.True(t, q.IsRunning())

	require.NoError(t, q.Enqueue(textJob("first", fp.endpoint())))
	require.NoError(t, q.Enqueue(textJob("second", fp.endpoint())))

	sessions := string(fp.next(t)) + string(fp.next(t))
	assert.Contains(t, sessions, "first\n")
	assert.Contains(t, sessions, "second\n")
	assert.Equal(t, string(InitSequence()), sessions[:len(InitSequence())])

	require.Eventually(t, func() bool { return len(sink.processedRecords()) == 2 }, 2*time.Second, 5*time.Millisecond)
	records := sink.processedRecords()
	assert.Equal(t, "first", records[0].JobID)
	assert.Equal(t, "second", records[1].JobID)
	for _, rec := range records {
		assert.Equal(t, OutcomeDispatched, rec.Outcome)
		assert.Positive(t, rec.Bytes)
	}

	p, err := pool.GetPrinter(fp.endpoint())
	require.NoError(t, err)
	assert.True(t, p.Reachable)
	assert.NotNil(t, p.LastSeenAt)

	require.NoError(t, q.Shutdown())
	assert.False(t, q.IsRunning())
}

func TestQueueNotifiesUnreachableOnce(t *testing.T) {
	down := closedEndpoint(t)
	sink := &recordingSink{}
	pool := NewPrinterManager(nil, nil, sink, PrinterManagerOptions{}, nil)
	pool.Seed([]PrinterEndpoint{down})

	opts := fastQueueOptions()
	opts.Sink = sink
	q := NewQueue(pool, NewESCPOSGenerator(EncoderOptions{}, nil),
		NewConnectionManager(ConnectionOptions{ConnectTimeout: time.Second}, nil), opts, nil)
	q.Start()
	defer q.Shutdown()

	for _, id := range []string{"PJ-1", "PJ-2", "PJ-3"} {
		require.NoError(t, q.Enqueue(textJob(id, down)))
	}

	require.Eventually(t, func() bool { return len(sink.processedRecords()) == 3 }, 5*time.Second, 5*time.Millisecond)
	for _, rec := range sink.processedRecords() {
		assert.Equal(t, OutcomeFailed, rec.Outcome)
		assert.NotEmpty(t, rec.Error)
	}
	assert.Equal(t, 1, sink.unreachableCount())
	assert.True(t, pool.IsFlaggedUnreachable(down))
}

func TestQueueRecoversFromPanic(t *testing.T) {
	sink := &recordingSink{}
	ep := NewEndpoint("10.0.0.1", 0)
	pool := NewPrinterManager(nil, nil, nil, PrinterManagerOptions{}, nil)
	pool.Seed([]PrinterEndpoint{ep})

	opts := fastQueueOptions()
	opts.Sink = sink
	enc := &panicEncoder{inner: NewESCPOSGenerator(EncoderOptions{}, nil)}
	q := NewQueue(pool, enc, &countingTransport{}, opts, zaptest.NewLogger(t))
	q.Start()
	defer q.Shutdown()

	require.NoError(t, q.Enqueue(textJob("PJ-1", ep)))
	require.NoError(t, q.Enqueue(textJob("PJ-2", ep)))

	require.Eventually(t, func() bool { return len(sink.processedRecords()) == 1 }, 2*time.Second, 5*time.Millisecond)
	rec := sink.processedRecords()[0]
	assert.Equal(t, "PJ-2", rec.JobID)
	assert.Equal(t, OutcomeDispatched, rec.Outcome)
	assert.True(t, q.IsRunning())
}

func TestQueueInternalPrinter(t *testing.T) {
	internal := &stubInternal{available: true}
	sink := &recordingSink{}
	ep := PrinterEndpoint{Host: InternalHost, Port: DefaultPrinterPort}
	pool := NewPrinterManager(nil, nil, nil, PrinterManagerOptions{}, nil)
	pool.Seed([]PrinterEndpoint{ep})

	opts := fastQueueOptions()
	opts.Sink = sink
	opts.Internal = internal
	transport := &countingTransport{}
	q := NewQueue(pool, NewESCPOSGenerator(EncoderOptions{}, nil), transport, opts, nil)
	q.Start()
	defer q.Shutdown()

	require.NoError(t, q.Enqueue(textJob("PJ-1", ep)))

	require.Eventually(t, func() bool { return internal.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, transport.connects.Load())
}

func TestQueueInternalPrinterUnavailable(t *testing.T) {
	sink := &recordingSink{}
	ep := PrinterEndpoint{Host: InternalHost, Port: DefaultPrinterPort}
	pool := NewPrinterManager(nil, nil, nil, PrinterManagerOptions{}, nil)
	pool.Seed([]PrinterEndpoint{ep})

	opts := fastQueueOptions()
	opts.Sink = sink
	q := NewQueue(pool, NewESCPOSGenerator(EncoderOptions{}, nil), nil, opts, nil)
	q.Start()
	defer q.Shutdown()

	require.NoError(t, q.Enqueue(textJob("PJ-1", ep)))

	require.Eventually(t, func() bool { return len(sink.processedRecords()) == 1 }, 2*time.Second, 5*time.Millisecond)
	rec := sink.processedRecords()[0]
	assert.Equal(t, OutcomeFailed, rec.Outcome)
	assert.Contains(t, rec.Error, ErrInternalUnavailable.Error())
}

func TestShutdownUnstartedQueue(t *testing.T) {
	q := NewQueue(nil, nil, nil, fastQueueOptions(), nil)
	require.NoError(t, q.Shutdown())
	require.NoError(t, q.Shutdown())

	assert.ErrorIs(t, q.Enqueue(textJob("PJ-1", NewEndpoint("h", 0))), ErrQueueStopped)
	q.Start()
	assert.False(t, q.IsRunning())
}

func TestShutdownAbortsStuckSend(t *testing.T) {
	ep := NewEndpoint("10.0.0.1", 0)
	pool := NewPrinterManager(nil, nil, nil, PrinterManagerOptions{}, nil)
	pool.Seed([]PrinterEndpoint{ep})
	transport := newBlockingTransport()

	opts := fastQueueOptions()
	opts.ShutdownGrace = 50 * time.Millisecond
	q := NewQueue(pool, NewESCPOSGenerator(EncoderOptions{}, nil), transport, opts, nil)
	q.Start()

	require.NoError(t, q.Enqueue(textJob("PJ-1", ep)))
	select {
	case <-transport.sending:
	case <-time.After(2 * time.Second):
		t.Fatal("job never reached the transport")
	}

	assert.ErrorIs(t, q.Shutdown(), ErrShutdownTimeout)
	select {
	case <-q.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after abort")
	}
}

func TestEnqueueNil(t *testing.T) {
	q := NewQueue(nil, nil, nil, fastQueueOptions(), nil)
	assert.Error(t, q.Enqueue(nil))
}

// timedTransport records when sessions open and when sends finish, and counts overlapping sends.
type timedTransport struct {
	mu        sync.Mutex
	connects  []time.Time
	sendsDone []time.Time

	inFlight atomic.Int32
	overlaps atomic.Int32
}

func (tt *timedTransport) Connect(context.Context, PrinterEndpoint) error {
	tt.mu.Lock()
	tt.connects = append(tt.connects, time.Now())
	tt.mu.Unlock()
	return nil
}

func (tt *timedTransport) Send(chunks [][]byte) (int, error) {
	if tt.inFlight.Add(1) > 1 {
		tt.overlaps.Add(1)
	}
	time.Sleep(200 * time.Microsecond)
	tt.inFlight.Add(-1)

	tt.mu.Lock()
	tt.sendsDone = append(tt.sendsDone, time.Now())
	tt.mu.Unlock()
	return len(Flatten(chunks)), nil
}

func (tt *timedTransport) Disconnect()       {}
func (tt *timedTransport) IsConnected() bool { return false }

func (tt *timedTransport) timeline() ([]time.Time, []time.Time) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return append([]time.Time(nil), tt.connects...), append([]time.Time(nil), tt.sendsDone...)
}

func TestWorkerWaitsPacingBetweenJobs(t *testing.T) {
	const kotPacing = 30 * time.Millisecond

	ep := NewEndpoint("10.0.0.1", 0)
	pool := NewPrinterManager(nil, nil, nil, PrinterManagerOptions{}, nil)
	pool.Seed([]PrinterEndpoint{ep})
	sink := &recordingSink{}
	transport := &timedTransport{}

	opts := fastQueueOptions()
	opts.Pacing = map[string]time.Duration{"KOT": kotPacing}
	opts.Sink = sink
	q := NewQueue(pool, NewESCPOSGenerator(EncoderOptions{}, nil), transport, opts, nil)

	for _, id := range []string{"PJ-1", "PJ-2"} {
		job := textJob(id, ep)
		job.Metadata = JobMetadata{"type": "KOT"}
		require.NoError(t, q.Enqueue(job))
	}
	q.Start()
	defer q.Shutdown()

	require.Eventually(t, func() bool { return len(sink.processedRecords()) == 2 }, 2*time.Second, 5*time.Millisecond)

	connects, sendsDone := transport.timeline()
	require.Len(t, connects, 2)
	require.Len(t, sendsDone, 2)
	assert.GreaterOrEqual(t, connects[1].Sub(sendsDone[0]), kotPacing)
}

func TestConcurrentProducersDispatchEachJobOnce(t *testing.T) {
	const (
		producers = 20
		perWorker = 10
	)

	ep := NewEndpoint("10.0.0.1", 0)
	pool := NewPrinterManager(nil, nil, nil, PrinterManagerOptions{}, nil)
	pool.Seed([]PrinterEndpoint{ep})
	sink := &recordingSink{}
	transport := &timedTransport{}

	opts := fastQueueOptions()
	opts.DefaultPacing = 100 * time.Microsecond
	opts.Sink = sink
	q := NewQueue(pool, NewESCPOSGenerator(EncoderOptions{}, nil), transport, opts, nil)
	q.Start()
	defer q.Shutdown()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				assert.NoError(t, q.Enqueue(textJob(fmt.Sprintf("PJ-%d-%d", p, i), ep)))
			}
		}(p)
	}
	wg.Wait()

	total := producers * perWorker
	require.Eventually(t, func() bool { return len(sink.processedRecords()) == total }, 10*time.Second, 10*time.Millisecond)

	seen := make(map[string]int, total)
	for _, rec := range sink.processedRecords() {
		seen[rec.JobID]++
		assert.Equal(t, OutcomeDispatched, rec.Outcome)
	}
	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
	assert.Zero(t, transport.overlaps.Load())
	assert.Zero(t, q.Len())
}

func TestEnqueueConcurrentWithRetarget(t *testing.T) {
	a := NewEndpoint("10.0.0.1", 0)
	b := NewEndpoint("10.0.0.2", 0)
	sink := &recordingSink{}

	opts := fastQueueOptions()
	opts.Sink = sink
	q := NewQueue(nil, nil, nil, opts, nil)

	const pairs = 200
	var wg sync.WaitGroup
	for i := 0; i < pairs; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, q.Enqueue(textJob(fmt.Sprintf("PJ-%d", i), a)))
		}(i)
		go func() {
			defer wg.Done()
			q.Retarget(a, b)
		}()
	}
	wg.Wait()
	q.Retarget(a, b)

	// notifications describe the job as it was submitted
	enqueued := sink.enqueuedSummaries()
	require.Len(t, enqueued, pairs)
	for _, s := range enqueued {
		assert.Equal(t, "10.0.0.1", s.PrinterHost)
	}

	jobs := q.Snapshot()
	require.Len(t, jobs, pairs)
	for _, j := range jobs {
		assert.Equal(t, "10.0.0.2", j.PrinterHost)
	}
}
