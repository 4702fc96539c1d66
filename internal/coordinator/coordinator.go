// Package coordinator implements the download Coordinator of spec.md §4.3:
// it owns a Plan, runs one Worker per Range to completion, aggregates their
// speed and progress, and composes the finished part files into the final
// destination file. Grounded on the teacher's scheduler
// (internal/scheduler/scheduler.go) and the commented-out
// PerformMultiDownload/assembleFile design in
// internal/downloaders/http/multi-down.go, generalized to the spec's
// explicit state machine and the channel-based cycle-break of design
// note §9.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tanq16/prometeo/internal/httpclient"
	"github.com/tanq16/prometeo/internal/logging"
	"github.com/tanq16/prometeo/internal/manifest"
	"github.com/tanq16/prometeo/internal/prober"
	"github.com/tanq16/prometeo/internal/prometeoerr"
	"github.com/tanq16/prometeo/internal/worker"
)

// State is one node of the Coordinator state machine in spec.md §4.3.
type State int

const (
	StatePlanned State = iota
	StateRunning
	StateStopping
	StateStopped
	StateComposing
	StateCleaned
	StateFinished
)

func (s State) String() string {
	switch s {
	case StatePlanned:
		return "planned"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateComposing:
		return "composing"
	case StateCleaned:
		return "cleaned"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// EventType names the five notifications design note §9 asks the
// Coordinator to publish instead of calling back into its owner directly.
type EventType int

const (
	EventStart EventType = iota
	EventProgress
	EventStop
	EventFinish
	EventRemoved
)

// Event is one notification delivered to a Coordinator's EventFunc.
type Event struct {
	Type       EventType
	DownloadID string
	Progress   float64
	SpeedBps   int64
	ETA        time.Duration
	Err        error
}

// EventFunc receives Coordinator notifications. It must not block or call
// back into the Coordinator that invoked it.
type EventFunc func(Event)

// progressSampleInterval matches spec.md §4.3's aggregate sampling cadence.
const progressSampleInterval = 500 * time.Millisecond

// stopDrainTimeout is the safety timer design note §9 describes: Stop
// waits this long for workers to unwind before returning anyway.
const stopDrainTimeout = 1000 * time.Millisecond

// Coordinator drives one Plan to completion.
type Coordinator struct {
	plan   *manifest.Plan
	client *httpclient.Client
	onEvent EventFunc

	mu    sync.Mutex
	state State

	workers    []*worker.Worker
	speedChans []chan int64
	stopCh     chan struct{}
	stopOnce   sync.Once
	logCh      chan string

	wg      sync.WaitGroup
	doneCh  chan struct{}
	doneOnce sync.Once

	lastErr error

	sampleMu       sync.Mutex
	lastSpeed      int64
	lastProgress   float64
	lastETA        time.Duration

	activeMu        sync.Mutex
	lastActiveCount int
}

// New constructs a Coordinator for plan. onEvent may be nil.
func New(plan *manifest.Plan, client *httpclient.Client, onEvent EventFunc) *Coordinator {
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	return &Coordinator{
		plan:    plan,
		client:  client,
		onEvent: onEvent,
		state:   StatePlanned,
		doneCh:  make(chan struct{}),
	}
}

// State returns the Coordinator's current state machine node.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Plan exposes the underlying Plan. Callers must not mutate it directly;
// use SetSpeed.
func (c *Coordinator) Plan() *manifest.Plan { return c.plan }

// Start launches one Worker per incomplete Range and returns the Plan ID
// immediately; workers run in background goroutines. Calling Start twice
// is a programmer error and returns prometeoerr.Internal.
func (c *Coordinator) Start(ctx context.Context) (string, error) {
	if c.State() != StatePlanned {
		return "", prometeoerr.Internal("coordinator.Start", fmt.Errorf("coordinator already started"))
	}
	c.setState(StateRunning)

	// Revalidate the origin before dispatching workers. A resumed download
	// re-probes the same URL it was planned against; a failure here (origin
	// gone, range support dropped) is logged, not fatal, since the manifest
	// already recorded everything a worker needs to keep streaming.
	if _, err := prober.GetData(c.client, c.plan.URL); err != nil {
		logger := logging.For("coordinator")
		logger.Warn().Str("url", c.plan.URL).Err(err).Msg("url revalidation failed, continuing with existing plan")
	}

	active := 0
	for _, rng := range c.plan.Parts {
		if !rng.Done() {
			active++
		}
	}
	if active == 0 {
		active = 1
	}
	perWorker := c.plan.SpeedBps / int64(active)
	if perWorker <= 0 {
		perWorker = 1
	}
	c.lastActiveCount = active

	c.stopCh = make(chan struct{})
	c.logCh = make(chan string, 64)

	for _, rng := range c.plan.Parts {
		if rng.Done() {
			continue
		}
		speedCh := make(chan int64, 1)
		c.speedChans = append(c.speedChans, speedCh)
		w := worker.New(rng, c.plan.URL, c.client, perWorker, worker.Channels{
			Speed: speedCh,
			Stop:  c.stopCh,
			Log:   c.logCh,
		})
		c.workers = append(c.workers, w)
	}

	c.wg.Add(len(c.workers))
	for _, w := range c.workers {
		go func(w *worker.Worker) {
			defer c.wg.Done()
			outcome := w.Run(ctx)
			if outcome == worker.OutcomeErrored {
				c.mu.Lock()
				if c.lastErr == nil {
					c.lastErr = fmt.Errorf("range worker failed")
				}
				c.mu.Unlock()
			}
		}(w)
	}

	go c.drainLog()
	go c.sampleProgress(ctx)
	go c.awaitCompletion(ctx)

	c.onEvent(Event{Type: EventStart, DownloadID: c.plan.ID.String()})
	return c.plan.ID.String(), nil
}

// drainLog appends every line sent on logCh to the work directory's debug
// log (spec.md §4.4) until the channel is closed.
func (c *Coordinator) drainLog() {
	logPath := manifest.LogPath(c.plan.WorkDir)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	for line := range c.logCh {
		fmt.Fprintf(f, "%s %s\n", time.Now().UTC().Format(time.RFC3339), line)
	}
}

func (c *Coordinator) sampleProgress(ctx context.Context) {
	ticker := time.NewTicker(progressSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			speed, progress, eta := c.snapshot()
			c.sampleMu.Lock()
			c.lastSpeed, c.lastProgress, c.lastETA = speed, progress, eta
			c.sampleMu.Unlock()
			c.reclaimFinishedBandwidth()
			c.onEvent(Event{
				Type:       EventProgress,
				DownloadID: c.plan.ID.String(),
				Progress:   progress,
				SpeedBps:   speed,
				ETA:        eta,
			})
		case <-c.doneCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// countActive returns how many workers have not yet reached a terminal
// state.
func (c *Coordinator) countActive() int {
	n := 0
	for _, w := range c.workers {
		if !w.Done() {
			n++
		}
	}
	return n
}

// reclaimFinishedBandwidth implements spec.md §4.3's completion observer:
// when the active worker count drops (a range finished, was cancelled, or
// errored out) without reaching zero, the survivors' share of the aggregate
// ceiling grows, and they must be told about it immediately rather than
// waiting for an explicit set_speed call.
func (c *Coordinator) reclaimFinishedBandwidth() {
	active := c.countActive()

	c.activeMu.Lock()
	changed := active != c.lastActiveCount
	c.lastActiveCount = active
	c.activeMu.Unlock()

	if !changed || active == 0 {
		return
	}

	c.mu.Lock()
	total := c.plan.SpeedBps
	c.mu.Unlock()
	c.redistribute(total)
}

// redistribute divides totalBps evenly across every worker still running
// and sends each its new share over its Speed channel, non-blocking with a
// drain of any stale pending value so a survivor always sees the latest
// share rather than a stuck one.
func (c *Coordinator) redistribute(totalBps int64) {
	var liveChans []chan int64
	for i, w := range c.workers {
		if !w.Done() {
			liveChans = append(liveChans, c.speedChans[i])
		}
	}
	if len(liveChans) == 0 {
		return
	}
	perWorker := totalBps / int64(len(liveChans))
	if perWorker <= 0 {
		perWorker = 1
	}
	for _, ch := range liveChans {
		select {
		case ch <- perWorker:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- perWorker:
			default:
			}
		}
	}
}

// snapshot aggregates per-worker speed and bytes into a whole-download
// view, the way the teacher's ProgressManager aggregates per-chunk state.
// Only sampleProgress's ticker calls this: worker.Speed's internal sampling
// window advances on every call, so a second caller sampling at its own
// cadence would desync the rate estimate.
func (c *Coordinator) snapshot() (speedBps int64, progressPct float64, eta time.Duration) {
	var totalSpeed int64
	var totalDone int64
	for _, w := range c.workers {
		totalSpeed += w.Speed()
		totalDone += w.TotalDownloaded()
	}
	if c.plan.Size > 0 {
		// spec.md §4.3 defines this as round(Σ worker.progress / count);
		// bytes-done-over-total-size is equivalent for equal-size ranges and
		// diverges only for the larger final range partition (plan.go) leaves over,
		// which is an acceptable approximation.
		progressPct = float64(totalDone) / float64(c.plan.Size) * 100
	}
	if totalSpeed > 0 {
		remaining := c.plan.Size - totalDone
		if remaining > 0 {
			eta = time.Duration(remaining/totalSpeed) * time.Second
		}
	}
	// eta stays the zero Duration (rather than a +Inf sentinel) when
	// totalSpeed is 0, so a zero ETA means either that nothing remains or
	// that no speed has been measured yet.
	return totalSpeed, progressPct, eta
}

// awaitCompletion blocks for every worker to reach a terminal state, then
// runs the finish-or-stop path exactly once. A single-shot close of doneCh
// replaces the source's recursive completion check (design note §9).
func (c *Coordinator) awaitCompletion(ctx context.Context) {
	c.wg.Wait()
	c.doneOnce.Do(func() { close(c.doneCh) })
	close(c.logCh)

	if c.State() == StateStopping || c.State() == StateStopped {
		return
	}

	c.mu.Lock()
	failed := c.lastErr
	c.mu.Unlock()
	if failed != nil {
		c.setState(StateStopped)
		c.onEvent(Event{Type: EventStop, DownloadID: c.plan.ID.String(), Err: failed})
		return
	}

	c.setState(StateComposing)
	if err := c.composeFile(); err != nil {
		c.onEvent(Event{Type: EventFinish, DownloadID: c.plan.ID.String(), Err: err})
		return
	}
	c.cleanup()
	c.setState(StateFinished)
	c.onEvent(Event{Type: EventFinish, DownloadID: c.plan.ID.String(), Progress: 100})
}

// composeFile concatenates part files, in Range order, into the
// destination path, deleting each part file once it is copied, per
// spec.md §4.3.
func (c *Coordinator) composeFile() error {
	if err := os.MkdirAll(filepath.Dir(c.plan.Destination), 0o755); err != nil {
		return prometeoerr.Internal("coordinator.composeFile", err)
	}
	dst, err := os.Create(c.plan.Destination)
	if err != nil {
		return prometeoerr.Internal("coordinator.composeFile", err)
	}
	defer dst.Close()

	for _, rng := range c.plan.Parts {
		if err := appendPart(dst, rng.PartPath); err != nil {
			return prometeoerr.Internal("coordinator.composeFile", err)
		}
		if err := os.Remove(rng.PartPath); err != nil {
			return prometeoerr.Internal("coordinator.composeFile", err)
		}
	}
	c.mu.Lock()
	c.plan.Finished = true
	c.mu.Unlock()
	return nil
}

func appendPart(dst io.Writer, partPath string) error {
	src, err := os.Open(partPath)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}

// cleanup removes the work directory once composition succeeds. If
// removal fails, the Plan is marked Finished and rewritten to disk so a
// future scan does not try to resume a download that already produced its
// destination file.
func (c *Coordinator) cleanup() {
	if err := os.RemoveAll(c.plan.WorkDir); err != nil {
		c.mu.Lock()
		c.plan.Finished = true
		plan := *c.plan
		c.mu.Unlock()
		if writeErr := manifest.Write(&plan); writeErr != nil {
			logger := logging.For("coordinator")
			logger.Warn().Err(writeErr).Msg("could not persist finished manifest after cleanup failure")
		}
		return
	}
	c.setState(StateCleaned)
}

// Stop broadcasts cancellation to every worker and waits up to
// stopDrainTimeout for them to unwind before returning.
func (c *Coordinator) Stop(ctx context.Context) error {
	if c.State() != StateRunning {
		return nil
	}
	c.setState(StateStopping)
	c.stopOnce.Do(func() {
		if c.stopCh != nil {
			close(c.stopCh)
		}
	})

	timer := time.NewTimer(stopDrainTimeout)
	defer timer.Stop()
	select {
	case <-c.doneCh:
	case <-timer.C:
	case <-ctx.Done():
	}

	c.setState(StateStopped)
	c.onEvent(Event{Type: EventStop, DownloadID: c.plan.ID.String()})
	return nil
}

// SetSpeed updates the Plan's total byte rate and redistributes it evenly
// across currently active workers, per spec.md §4.3's set_speed operation.
func (c *Coordinator) SetSpeed(totalBps int64) {
	if totalBps <= 0 {
		return
	}
	c.mu.Lock()
	c.plan.SpeedBps = totalBps
	c.mu.Unlock()
	c.redistribute(totalBps)
}

// Progress returns the most recently sampled aggregate progress percentage,
// 0-100.
func (c *Coordinator) Progress() float64 {
	c.sampleMu.Lock()
	defer c.sampleMu.Unlock()
	return c.lastProgress
}

// Speed returns the most recently sampled aggregate byte rate.
func (c *Coordinator) Speed() int64 {
	c.sampleMu.Lock()
	defer c.sampleMu.Unlock()
	return c.lastSpeed
}

// Wait blocks until the Coordinator's workers finish, are stopped, or ctx
// is done.
func (c *Coordinator) Wait(ctx context.Context) {
	select {
	case <-c.doneCh:
	case <-ctx.Done():
	}
}

