// Package worker implements the Range Worker of spec.md §4.2: one byte
// range, streamed through a Throttle into one part file, resumable from
// the part file's current length. Grounded on the teacher's
// chunkedDownload/downloadSingleChunk (internal/downloaders/http/
// multi-chunk-handlers.go), generalized to the spec's state machine and
// cancellation contract.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tanq16/prometeo/internal/httpclient"
	"github.com/tanq16/prometeo/internal/logging"
	"github.com/tanq16/prometeo/internal/manifest"
	"github.com/tanq16/prometeo/internal/throttle"
)

// State is one node of the Worker state machine in spec.md §4.2.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateDone
	StateCancelled
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of Run.
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeCancelled
	OutcomeErrored
)

// Channels is the message-passing break of the Worker<->Coordinator cycle
// called for by spec.md §9: the Worker holds no back-reference to its
// Coordinator, only these endpoints.
type Channels struct {
	// Speed delivers this worker's current byte/second share whenever the
	// Coordinator redistributes bandwidth.
	Speed <-chan int64
	// Stop is closed once, broadcast-style, to cancel every worker.
	Stop <-chan struct{}
	// Log receives free-form status lines for the work directory's debug
	// log. Sends are non-blocking; a full buffer drops the line rather
	// than stall the download (the log is a debugging aid only, per
	// spec.md §4.4).
	Log chan<- string
}

// maxRetries bounds the per-worker retry loop the way the teacher's
// chunkedDownload bounds it at 5 attempts with linear backoff.
const maxRetries = 5

// expectedCancellationMessages are the stream error shapes spec.md §7
// treats as the normal artifacts of cancellation, not failures.
var expectedCancellationMessages = []string{"closed", "Premature close", "canceled"}

// Worker downloads one Range to its part file.
type Worker struct {
	rng      manifest.Range
	url      string
	client   *httpclient.Client
	channels Channels

	state           atomic.Int32
	bytesReceived   atomic.Int64
	totalDownloaded atomic.Int64

	rateMu      sync.Mutex
	currentRate int64

	sampleMu       sync.Mutex
	lastSampleTime time.Time
	lastSampleDone int64
}

// New builds a Worker for rng against url, starting at the given
// per-worker byte rate.
func New(rng manifest.Range, url string, client *httpclient.Client, initialRateBps int64, channels Channels) *Worker {
	w := &Worker{
		rng:         rng,
		url:         url,
		client:      client,
		channels:    channels,
		currentRate: initialRateBps,
	}
	w.state.Store(int32(StateIdle))
	return w
}

// State returns the worker's current state machine node.
func (w *Worker) State() State { return State(w.state.Load()) }

// TotalDownloaded returns existing-plus-session bytes written so far.
func (w *Worker) TotalDownloaded() int64 { return w.totalDownloaded.Load() }

// Progress returns 0-100, the fraction of this range's bytes on disk.
func (w *Worker) Progress() float64 {
	length := w.rng.Length()
	if length <= 0 {
		return 100
	}
	pct := float64(w.TotalDownloaded()) / float64(length) * 100
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

// Speed samples bytes/second since the last call to Speed, the same
// lastUpdateTimes/lastDownloaded bookkeeping the teacher's ProgressManager
// uses (internal/progress-manager.go).
func (w *Worker) Speed() int64 {
	w.sampleMu.Lock()
	defer w.sampleMu.Unlock()

	now := time.Now()
	done := w.TotalDownloaded()
	if w.lastSampleTime.IsZero() {
		w.lastSampleTime = now
		w.lastSampleDone = done
		return 0
	}
	elapsed := now.Sub(w.lastSampleTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	speed := int64(float64(done-w.lastSampleDone) / elapsed)
	w.lastSampleTime = now
	w.lastSampleDone = done
	if speed < 0 {
		speed = 0
	}
	return speed
}

// Done reports whether the worker reached a terminal state.
func (w *Worker) Done() bool {
	switch w.State() {
	case StateDone, StateCancelled, StateErrored:
		return true
	default:
		return false
	}
}

func (w *Worker) logf(format string, args ...any) {
	select {
	case w.channels.Log <- fmt.Sprintf(format, args...):
	default:
	}
}

// Run executes the ten-step operation spec.md §4.2 describes. It blocks
// until the worker reaches a terminal state.
func (w *Worker) Run(ctx context.Context) Outcome {
	logger := logging.For("worker")

	state := w.rng.Stat()
	w.totalDownloaded.Store(state.Existing)
	if w.rng.Start+state.Existing > w.rng.End {
		w.logf("range %d already complete at %d bytes", w.rng.Index, state.Existing)
		w.state.Store(int32(StateDone))
		return OutcomeDone
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stopOnce sync.Once
	stopped := make(chan struct{})
	go func() {
		select {
		case <-w.channels.Stop:
			stopOnce.Do(func() { close(stopped) })
			cancel()
		case <-runCtx.Done():
		}
	}()

	speedDone := make(chan struct{})
	var th *throttle.Throttle
	var thMu sync.Mutex
	go func() {
		defer close(speedDone)
		for {
			select {
			case newRate, ok := <-w.channels.Speed:
				if !ok {
					return
				}
				thMu.Lock()
				if th != nil {
					th.SetRate(newRate)
				}
				w.rateMu.Lock()
				w.currentRate = newRate
				w.rateMu.Unlock()
				thMu.Unlock()
			case <-runCtx.Done():
				return
			}
		}
	}()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
			case <-runCtx.Done():
				break
			}
			if runCtx.Err() != nil {
				break
			}
			// re-stat: another attempt may have written bytes before failing.
			state = w.rng.Stat()
			w.totalDownloaded.Store(state.Existing)
		}

		w.rateMu.Lock()
		rate := w.currentRate
		w.rateMu.Unlock()
		t, err := throttle.New(rate)
		if err != nil {
			lastErr = err
			continue
		}
		thMu.Lock()
		th = t
		thMu.Unlock()

		outcome, err := w.attempt(runCtx, t, state.Existing)
		switch outcome {
		case OutcomeDone:
			w.state.Store(int32(StateDone))
			w.logf("range %d finished", w.rng.Index)
			return OutcomeDone
		case OutcomeCancelled:
			w.state.Store(int32(StateCancelled))
			return OutcomeCancelled
		default:
			lastErr = err
			logger.Debug().Int("range", w.rng.Index).Int("attempt", attempt+1).Err(err).Msg("range attempt failed")
		}

		select {
		case <-stopped:
			w.state.Store(int32(StateCancelled))
			return OutcomeCancelled
		default:
		}
	}

	w.state.Store(int32(StateErrored))
	w.logf("range %d errored after %d attempts: %v", w.rng.Index, maxRetries, lastErr)
	return OutcomeErrored
}

// attempt performs steps 2 through 9 of spec.md §4.2 once.
func (w *Worker) attempt(ctx context.Context, t *throttle.Throttle, existing int64) (Outcome, error) {
	w.state.Store(int32(StateRequesting))
	// existing already counts bytes written by earlier attempts.
	w.bytesReceived.Store(0)

	flag := os.O_WRONLY | os.O_CREATE
	if existing > 0 {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	f, err := os.OpenFile(w.rng.PartPath, flag, 0o644)
	if err != nil {
		return OutcomeErrored, fmt.Errorf("opening part file: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url, nil)
	if err != nil {
		return OutcomeErrored, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", w.rng.Start+existing, w.rng.End))
	req.Header.Set("Connection", "keep-alive")

	resp, err := w.client.Do(req)
	if err != nil {
		if isExpectedCancellation(err) || ctx.Err() != nil {
			return OutcomeCancelled, nil
		}
		return OutcomeErrored, fmt.Errorf("issuing range request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusRequestedRangeNotSatisfiable:
		// Origin says there is nothing left to serve for this range: the
		// part file must already hold every byte.
		return OutcomeDone, nil
	case http.StatusPartialContent:
		// fall through to streaming
	default:
		// A 200 here means the origin ignored the Range header: trusting
		// it would silently corrupt a resumed file, so it is an error
		// rather than a fallback to whole-body streaming.
		return OutcomeErrored, fmt.Errorf("origin did not honor range request, got status %d", resp.StatusCode)
	}

	w.state.Store(int32(StateStreaming))
	dst := t.NewWriter(ctx, f)
	buf := make([]byte, httpclient.DefaultBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				if isExpectedCancellation(writeErr) || ctx.Err() != nil {
					return OutcomeCancelled, nil
				}
				return OutcomeErrored, fmt.Errorf("writing part file: %w", writeErr)
			}
			w.bytesReceived.Add(int64(n))
			w.totalDownloaded.Store(existing + w.bytesReceived.Load())
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return OutcomeDone, nil
			}
			if isExpectedCancellation(readErr) || ctx.Err() != nil {
				return OutcomeCancelled, nil
			}
			return OutcomeErrored, fmt.Errorf("reading response body: %w", readErr)
		}
	}
}

func isExpectedCancellation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, candidate := range expectedCancellationMessages {
		if strings.Contains(msg, candidate) {
			return true
		}
	}
	return errors.Is(err, context.Canceled)
}
