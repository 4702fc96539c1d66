package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/prometeo/internal/httpclient"
	"github.com/tanq16/prometeo/internal/manifest"
)

func rangeServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.WriteHeader(http.StatusOK)
			w.Write(body)
			return
		}
		var start, end int64
		fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end)
		if start >= int64(len(body)) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if end >= int64(len(body)) {
			end = int64(len(body)) - 1
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start : end+1])
	}))
}

func TestCoordinatorDownloadsAndComposesWholeFile(t *testing.T) {
	body := bytes.Repeat([]byte("abcd"), 250) // 1000 bytes
	srv := rangeServer(t, body)
	defer srv.Close()

	workDir := t.TempDir()
	dstDir := t.TempDir()
	plan, err := manifest.NewPlan(srv.URL, "f.bin", int64(len(body)), filepath.Join(dstDir, "f.bin"), workDir, "application/octet-stream", "UA/1.0", 4, 10_000_000)
	require.NoError(t, err)

	var mu sync.Mutex
	var events []Event
	co := New(plan, httpclient.New(httpclient.Config{}), func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	_, err = co.Start(context.Background())
	require.NoError(t, err)

	deadline := time.After(10 * time.Second)
	for co.State() != StateFinished {
		select {
		case <-deadline:
			t.Fatalf("coordinator did not finish in time, state=%v", co.State())
		case <-time.After(20 * time.Millisecond):
		}
	}

	got, err := os.ReadFile(plan.Destination)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	_, statErr := os.Stat(workDir)
	assert.True(t, os.IsNotExist(statErr), "work dir should be removed after finish")

	mu.Lock()
	foundFinish := false
	for _, e := range events {
		if e.Type == EventFinish {
			foundFinish = true
		}
	}
	mu.Unlock()
	assert.True(t, foundFinish)
}

func TestCoordinatorStopIsIdempotentAndCancelsWorkers(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", "200000000")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		flusher, _ := w.(http.Flusher)
		chunk := bytes.Repeat([]byte("z"), 4096)
		for i := 0; i < 50; i++ {
			w.Write(chunk)
			if flusher != nil {
				flusher.Flush()
			}
		}
		<-block
	}))
	defer srv.Close()
	defer close(block)

	workDir := t.TempDir()
	dstDir := t.TempDir()
	plan, err := manifest.NewPlan(srv.URL, "big.bin", 200_000_000, filepath.Join(dstDir, "big.bin"), workDir, "application/octet-stream", "UA/1.0", 4, 50_000_000)
	require.NoError(t, err)

	co := New(plan, httpclient.New(httpclient.Config{}), nil)
	_, err = co.Start(context.Background())
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, co.Stop(ctx))
	require.NoError(t, co.Stop(ctx)) // idempotent

	assert.Equal(t, StateStopped, co.State())
}

func TestCoordinatorReclaimsBandwidthWhenARangeFinishes(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 20)
	release := make(chan struct{})
	var releaseOnce sync.Once
	releaseFn := func() { releaseOnce.Do(func() { close(release) }) }

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
			w.WriteHeader(http.StatusOK)
			return
		}
		var start, end int64
		fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end)
		if end >= int64(len(body)) {
			end = int64(len(body)) - 1
		}
		if start != 0 {
			<-release // holds range 1 open so range 0 finishes first
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start : end+1])
	}))
	defer srv.Close()
	defer releaseFn()

	workDir := t.TempDir()
	dstDir := t.TempDir()
	plan, err := manifest.NewPlan(srv.URL, "two.bin", int64(len(body)), filepath.Join(dstDir, "two.bin"), workDir, "application/octet-stream", "UA/1.0", 2, 1000)
	require.NoError(t, err)

	co := New(plan, httpclient.New(httpclient.Config{}), nil)
	_, err = co.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return co.countActive() == 1
	}, 2*time.Second, 10*time.Millisecond, "range 0 should finish while range 1 is held open")

	require.Eventually(t, func() bool {
		co.activeMu.Lock()
		defer co.activeMu.Unlock()
		return co.lastActiveCount == 1
	}, 2*time.Second, 10*time.Millisecond, "sampler should observe the active-count drop and reclaim bandwidth")

	releaseFn()

	deadline := time.After(10 * time.Second)
	for co.State() != StateFinished {
		select {
		case <-deadline:
			t.Fatalf("coordinator did not finish in time, state=%v", co.State())
		case <-time.After(20 * time.Millisecond):
		}
	}

	got, err := os.ReadFile(plan.Destination)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestCoordinatorSetSpeedRejectsNonPositive(t *testing.T) {
	workDir := t.TempDir()
	plan, err := manifest.NewPlan("https://example.com/f", "f", 100, filepath.Join(workDir, "..", "f"), workDir, "application/octet-stream", "UA", 2, 1000)
	require.NoError(t, err)

	co := New(plan, httpclient.New(httpclient.Config{}), nil)
	co.SetSpeed(0)
	assert.Equal(t, int64(1000), plan.SpeedBps)
	co.SetSpeed(-5)
	assert.Equal(t, int64(1000), plan.SpeedBps)
}
