package manager

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/prometeo/internal/coordinator"
	"github.com/tanq16/prometeo/internal/prometeoerr"
)

func rangeServer(t *testing.T, body []byte, filename string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		rangeHeader := r.Header.Get("Range")
		var start, end int64
		fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end)
		if end >= int64(len(body)) {
			end = int64(len(body)) - 1
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", end-start+1))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start : end+1])
	}))
}

func TestDownloadRejectsNonRangeCapableOrigin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.Header().Set("Accept-Ranges", "none")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m, err := New(Options{TempDir: t.TempDir()}, nil)
	require.NoError(t, err)

	_, err = m.Download(context.Background(), Request{URL: srv.URL + "/f.bin", Path: t.TempDir()})
	require.Error(t, err)
	assert.True(t, prometeoerr.Is(err, prometeoerr.KindBadURL))
}

func TestDownloadRejectsZeroLengthOrigin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m, err := New(Options{TempDir: t.TempDir()}, nil)
	require.NoError(t, err)

	_, err = m.Download(context.Background(), Request{URL: srv.URL + "/empty", Path: t.TempDir()})
	require.Error(t, err)
	assert.True(t, prometeoerr.Is(err, prometeoerr.KindBadMetadata))
}

func TestDownloadEndToEndAndGetDownload(t *testing.T) {
	body := bytes.Repeat([]byte("m"), 2000)
	srv := rangeServer(t, body, "movie.bin")
	defer srv.Close()

	dstDir := t.TempDir()
	m, err := New(Options{TempDir: t.TempDir(), Connections: 4, SpeedLimit: 1000}, nil)
	require.NoError(t, err)

	d, err := m.Download(context.Background(), Request{URL: srv.URL + "/movie.bin", Path: dstDir})
	require.NoError(t, err)
	require.NotNil(t, d)

	deadline := time.After(10 * time.Second)
	for d.State() != coordinator.StateFinished {
		select {
		case <-deadline:
			t.Fatalf("download did not finish in time, state=%v", d.State())
		case <-time.After(20 * time.Millisecond):
		}
	}

	got, err := os.ReadFile(filepath.Join(dstDir, "movie.bin"))
	require.NoError(t, err)
	assert.Equal(t, body, got)

	found := m.GetDownload("movie.bin", "")
	require.NotNil(t, found)
	assert.Equal(t, d.ID, found.ID)

	foundByURL := m.GetDownload("", srv.URL+"/movie.bin")
	require.NotNil(t, foundByURL)
	assert.Equal(t, d.ID, foundByURL.ID)

	assert.Nil(t, m.GetDownload("nonexistent.bin", "https://nope.example"))
}

func TestDownloadRejectsExistingDestination(t *testing.T) {
	body := []byte("hello")
	srv := rangeServer(t, body, "dup.bin")
	defer srv.Close()

	dstDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dstDir, "dup.bin"), []byte("already here"), 0o644))

	m, err := New(Options{TempDir: t.TempDir()}, nil)
	require.NoError(t, err)

	_, err = m.Download(context.Background(), Request{URL: srv.URL + "/dup.bin", Path: dstDir})
	require.Error(t, err)
	assert.True(t, prometeoerr.Is(err, prometeoerr.KindInvalidArgument))
}

func TestSetSpeedIgnoresNonPositive(t *testing.T) {
	m, err := New(Options{TempDir: t.TempDir()}, nil)
	require.NoError(t, err)
	m.SetSpeed(0)
	m.SetSpeed(-1)
	assert.Equal(t, float64(DefaultSpeedLimitMbps), m.opts.SpeedLimit)
}
