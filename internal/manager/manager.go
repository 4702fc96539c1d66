// Package manager implements the external Manager host of spec.md §6: it
// owns configuration defaults, the per-process set of active Coordinators,
// the temp-directory resume scan, and the three library operations
// (download, getDownload, setSpeed). Grounded on the teacher's
// ProgressManager map[string]*ProgressInfo + sync.RWMutex pattern
// (internal/progress-manager.go) and scheduler.go's job-dispatch shape.
package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tanq16/prometeo/internal/coordinator"
	"github.com/tanq16/prometeo/internal/httpclient"
	"github.com/tanq16/prometeo/internal/logging"
	"github.com/tanq16/prometeo/internal/manifest"
	"github.com/tanq16/prometeo/internal/prober"
	"github.com/tanq16/prometeo/internal/prometeoerr"
)

// DefaultConnections is the default range count, per spec.md §6.
const DefaultConnections = 4

// DefaultUserAgent matches spec.md §6's constructor default.
const DefaultUserAgent = httpclient.DefaultUserAgent

// DefaultSpeedLimitMbps is the default aggregate ceiling, per spec.md §6.
const DefaultSpeedLimitMbps = 10

// mbpsToBytesPerSecond matches spec.md §6's conversion exactly.
const mbpsToBytesPerSecond = 125_000

// Options configures a Manager. Zero values are replaced with spec.md §6's
// defaults by New.
type Options struct {
	Connections int
	TempDir     string
	UserAgent   string
	SpeedLimit  float64 // Mbps
	Client      *httpclient.Client
}

func (o *Options) applyDefaults() error {
	if o.Connections <= 0 {
		o.Connections = DefaultConnections
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.SpeedLimit <= 0 {
		o.SpeedLimit = DefaultSpeedLimitMbps
	}
	if o.TempDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		o.TempDir = filepath.Join(base, "Prometeo")
	}
	if err := os.MkdirAll(o.TempDir, 0o755); err != nil {
		return prometeoerr.InvalidArgument("manager.New", fmt.Errorf("creating tempdir %q: %w", o.TempDir, err))
	}
	if o.Client == nil {
		o.Client = httpclient.New(httpclient.Config{UserAgent: o.UserAgent})
	}
	return nil
}

// Request is the argument to Download, per spec.md §6.
type Request struct {
	URL      string
	Path     string // destination parent directory
	Filename string // optional override
}

// Download is the public handle returned by Manager.Download and held in
// the active map, per spec.md §6's Download handle.
type Download struct {
	ID          string
	Name        string
	URL         string
	Destination string

	coord *coordinator.Coordinator
}

// Progress returns the current aggregate progress percentage.
func (d *Download) Progress() float64 { return d.coord.Progress() }

// Speed returns the current aggregate byte rate.
func (d *Download) Speed() int64 { return d.coord.Speed() }

// State returns the Coordinator's state machine node.
func (d *Download) State() coordinator.State { return d.coord.State() }

// Manager owns every active Coordinator in the process, per spec.md §6.
type Manager struct {
	opts   Options
	client *httpclient.Client

	mu        sync.RWMutex
	downloads map[string]*Download

	onEvent coordinator.EventFunc
}

// New constructs a Manager, applying spec.md §6's defaults to any zero
// fields in opts.
func New(opts Options, onEvent coordinator.EventFunc) (*Manager, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}
	return &Manager{
		opts:      opts,
		client:    opts.Client,
		downloads: make(map[string]*Download),
		onEvent:   onEvent,
	}, nil
}

// TempDir returns the Manager's resolved working-directory root.
func (m *Manager) TempDir() string { return m.opts.TempDir }

// ScanAndResume walks tempdir, decodes every prometeo.config it finds, and
// re-creates a Coordinator for each valid, unfinished manifest. Invalid or
// already-finished manifests are garbage-collected (spec.md §4.4, §7).
func (m *Manager) ScanAndResume(ctx context.Context) error {
	logger := logging.For("manager")
	entries, err := os.ReadDir(m.opts.TempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return prometeoerr.Internal("manager.ScanAndResume", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		workDir := filepath.Join(m.opts.TempDir, entry.Name())
		plan, err := manifest.Load(workDir)
		if err != nil {
			logger.Debug().Str("work_dir", workDir).Err(err).Msg("discarding unreadable manifest")
			os.RemoveAll(workDir)
			continue
		}
		if plan.Finished {
			os.RemoveAll(workDir)
			continue
		}
		plan.Resumed = true
		co := coordinator.New(plan, m.client, m.onEvent)
		m.mu.Lock()
		m.downloads[plan.ID.String()] = &Download{
			ID:          plan.ID.String(),
			Name:        plan.Name,
			URL:         plan.URL,
			Destination: plan.Destination,
			coord:       co,
		}
		m.mu.Unlock()
		if _, err := co.Start(ctx); err != nil {
			logger.Debug().Str("work_dir", workDir).Err(err).Msg("failed to resume download")
		}
	}
	return nil
}

// Download validates req, probes the URL, constructs a Plan, writes its
// manifest, and starts a Coordinator for it, per spec.md §6.
func (m *Manager) Download(ctx context.Context, req Request) (*Download, error) {
	if req.URL == "" {
		return nil, prometeoerr.InvalidArgument("manager.Download", fmt.Errorf("url is required"))
	}
	if req.Path == "" {
		return nil, prometeoerr.InvalidArgument("manager.Download", fmt.Errorf("path is required"))
	}
	if !prober.Validate(req.URL) {
		return nil, prometeoerr.BadURL("manager.Download", fmt.Errorf("%q is not a valid absolute HTTP(S) URL", req.URL))
	}

	md, err := prober.GetData(m.client, req.URL)
	if err != nil {
		return nil, prometeoerr.BadURL("manager.Download", err)
	}
	if !md.AcceptRange {
		return nil, prometeoerr.BadURL("manager.Download", fmt.Errorf("origin does not honor range requests"))
	}
	if md.Size == 0 {
		// Open Question (spec.md §9): 0-byte sources are rejected rather
		// than short-circuited to an empty destination, since a ranged
		// engine has nothing meaningful to partition or resume.
		return nil, prometeoerr.BadMetadata("manager.Download", fmt.Errorf("origin reports zero-length content"))
	}

	name := req.Filename
	if name == "" {
		name = md.FileName
	}

	destination := filepath.Join(req.Path, name)
	if _, err := os.Stat(destination); err == nil {
		return nil, prometeoerr.InvalidArgument("manager.Download", fmt.Errorf("destination %q already exists", destination))
	}
	if err := os.MkdirAll(req.Path, 0o755); err != nil {
		return nil, prometeoerr.Internal("manager.Download", err)
	}

	workDir := filepath.Join(m.opts.TempDir, strings.TrimSuffix(name, filepath.Ext(name)))
	speedBps := int64(m.opts.SpeedLimit * mbpsToBytesPerSecond)

	plan, err := manifest.NewPlan(req.URL, name, md.Size, destination, workDir, md.ContentType, m.opts.UserAgent, m.opts.Connections, speedBps)
	if err != nil {
		return nil, prometeoerr.InvalidArgument("manager.Download", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, prometeoerr.Internal("manager.Download", err)
	}
	if err := manifest.Write(plan); err != nil {
		return nil, prometeoerr.Internal("manager.Download", err)
	}

	co := coordinator.New(plan, m.client, m.onEvent)
	d := &Download{ID: plan.ID.String(), Name: plan.Name, URL: plan.URL, Destination: plan.Destination, coord: co}

	m.mu.Lock()
	m.downloads[d.ID] = d
	m.mu.Unlock()

	if _, err := co.Start(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// GetDownload returns the first tracked Download whose name matches
// filename OR whose url matches url — a boolean-OR match preserved
// verbatim from spec.md §6 and its Open Questions note (§9).
func (m *Manager) GetDownload(filenameQuery, urlQuery string) *Download {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.downloads {
		if filenameQuery != "" && d.Name == filenameQuery {
			return d
		}
		if urlQuery != "" && d.URL == urlQuery {
			return d
		}
	}
	return nil
}

// ListDownloads returns every tracked Download, for the CLI's list
// subcommand.
func (m *Manager) ListDownloads() []*Download {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Download, 0, len(m.downloads))
	for _, d := range m.downloads {
		out = append(out, d)
	}
	return out
}

// SetSpeed updates the global ceiling and propagates it to every active
// Download, per spec.md §6.
func (m *Manager) SetSpeed(mbps float64) {
	if mbps <= 0 {
		return
	}
	m.mu.Lock()
	m.opts.SpeedLimit = mbps
	downloads := make([]*Download, 0, len(m.downloads))
	for _, d := range m.downloads {
		downloads = append(downloads, d)
	}
	m.mu.Unlock()

	speedBps := int64(mbps * mbpsToBytesPerSecond)
	for _, d := range downloads {
		d.coord.SetSpeed(speedBps)
	}
}

// StopAll broadcasts stop to every active Download and waits for them to
// unwind, per spec.md §5's SIGINT contract.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	downloads := make([]*Download, 0, len(m.downloads))
	for _, d := range m.downloads {
		downloads = append(downloads, d)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	wg.Add(len(downloads))
	for _, d := range downloads {
		go func(d *Download) {
			defer wg.Done()
			d.coord.Stop(ctx)
		}(d)
	}
	wg.Wait()
}
