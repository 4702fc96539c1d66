// Package output renders the terminal progress display for active
// downloads, adapted from the teacher's FunctionOutput/Manager
// (utils/output-manager.go) and re-themed around one row per download
// instead of one row per arbitrary named function. Byte and rate
// formatting uses dustin/go-humanize instead of the teacher's hand-rolled
// formatBytes, per SPEC_FULL.md's ambient-stack section.
package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	debugStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))

	basePadding = 2
)

var statusSymbols = map[string]string{
	"pass":    "✓",
	"fail":    "✗",
	"warning": "!",
	"pending": "◉",
	"bullet":  "•",
	"hline":   "━",
}

// row is one tracked download's current display state.
type row struct {
	id        string
	name      string
	status    string // "pending", "running", "success", "error", "stopped"
	progress  float64
	speedBps  int64
	eta       time.Duration
	err       error
	startTime time.Time
	endTime   time.Time
	index     int
}

// Manager renders a live table of every tracked download, refreshed on a
// ticker, the same shape as the teacher's Manager.StartDisplay loop.
type Manager struct {
	mu       sync.RWMutex
	rows     map[string]*row
	order    int
	numLines int

	tick    time.Duration
	doneCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewManager builds a Manager that refreshes its display every tick.
func NewManager(tick time.Duration) *Manager {
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}
	return &Manager{
		rows:   make(map[string]*row),
		tick:   tick,
		doneCh: make(chan struct{}),
	}
}

// Register starts tracking a download by id and display name.
func (m *Manager) Register(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order++
	m.rows[id] = &row{id: id, name: name, status: "pending", startTime: time.Now(), index: m.order}
}

// Update records the latest progress sample for id.
func (m *Manager) Update(id string, progress float64, speedBps int64, eta time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return
	}
	r.status = "running"
	r.progress = progress
	r.speedBps = speedBps
	r.eta = eta
}

// Complete marks id finished successfully.
func (m *Manager) Complete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		r.status = "success"
		r.progress = 100
		r.endTime = time.Now()
	}
}

// Stopped marks id as stopped (user-initiated cancellation, not a failure).
func (m *Manager) Stopped(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		r.status = "stopped"
		r.endTime = time.Now()
	}
}

// Error marks id failed with err.
func (m *Manager) Error(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		r.status = "error"
		r.err = err
		r.endTime = time.Now()
	}
}

func statusIndicator(status string) string {
	switch status {
	case "success":
		return successStyle.Render(statusSymbols["pass"])
	case "error":
		return errorStyle.Render(statusSymbols["fail"])
	case "stopped":
		return warningStyle.Render(statusSymbols["warning"])
	case "pending":
		return pendingStyle.Render(statusSymbols["pending"])
	default:
		return infoStyle.Render(statusSymbols["bullet"])
	}
}

func progressBar(percent float64, width int) string {
	if width <= 0 {
		width = 24
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}
	bar := strings.Repeat(statusSymbols["hline"], filled) + strings.Repeat(" ", width-filled)
	return debugStyle.Render(fmt.Sprintf("%s %.1f%%", bar, percent))
}

func (m *Manager) sortedRows() []*row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := make([]*row, 0, len(m.rows))
	for _, r := range m.rows {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].index < rows[j].index })
	return rows
}

func (m *Manager) render() {
	if m.numLines > 0 {
		fmt.Printf("\033[%dA\033[J", m.numLines)
	}
	lines := 0
	barWidth := 24
	if w := TerminalWidth(); w < 80 {
		barWidth = 12
	}
	for _, r := range m.sortedRows() {
		elapsed := time.Since(r.startTime).Round(time.Second)
		if !r.endTime.IsZero() {
			elapsed = r.endTime.Sub(r.startTime).Round(time.Second)
		}
		var detail string
		switch r.status {
		case "success":
			detail = successStyle.Render("done in " + elapsed.String())
		case "error":
			detail = errorStyle.Render(fmt.Sprintf("error: %v", r.err))
		case "stopped":
			detail = warningStyle.Render("stopped")
		case "pending":
			detail = pendingStyle.Render("waiting...")
		default:
			detail = fmt.Sprintf("%s  %s/s  eta %s", progressBar(r.progress, barWidth), humanize.Bytes(uint64(r.speedBps)), r.eta.Round(time.Second))
		}
		fmt.Printf("%s%s %s  %s\n", strings.Repeat(" ", basePadding), statusIndicator(r.status), debugStyle.Render(r.name), detail)
		lines++
	}
	m.numLines = lines
}

// Start begins the display refresh loop in a background goroutine.
func (m *Manager) Start() {
	if m.started {
		return
	}
	m.started = true
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.render()
			case <-m.doneCh:
				m.render()
				m.Summary()
				return
			}
		}
	}()
}

// Stop halts the display loop and prints a final summary.
func (m *Manager) Stop() {
	if !m.started {
		return
	}
	close(m.doneCh)
	m.wg.Wait()
}

// Summary prints a final per-download tally, grouped by terminal status.
func (m *Manager) Summary() {
	rows := m.sortedRows()
	var success, failed, stopped int
	t := table.New().Headers("Download", "Status", "Size")
	for _, r := range rows {
		switch r.status {
		case "success":
			success++
			t.Row(r.name, successStyle.Render("done"), "")
		case "error":
			failed++
			t.Row(r.name, errorStyle.Render("error"), "")
		case "stopped":
			stopped++
			t.Row(r.name, warningStyle.Render("stopped"), "")
		}
	}
	fmt.Println()
	fmt.Println(strings.Repeat(" ", basePadding) + headerStyle.Render(fmt.Sprintf("Completed %d, failed %d, stopped %d", success, failed, stopped)))
	if len(rows) > 0 {
		fmt.Println(t.String())
	}
}

// TerminalWidth mirrors the teacher's GetTerminalWidth (utils/output-
// manager.go), falling back to 80 columns when stdout isn't a terminal.
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}
