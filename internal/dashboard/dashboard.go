// Package dashboard renders a live terminal view of a client's connection
// pool, request latency and the most recent watch events.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/leash/internal/client"
	"github.com/torosent/leash/internal/environment"
)

const (
	maxHistory = 100
	maxEvents  = 50
)

// StatsSource reports client activity. *client.Client implements it.
type StatsSource interface {
	Stats() client.Stats
}

// Config holds what the summary pane displays and how keys are handled.
type Config struct {
	Target     string
	Query      string
	Timeout    time.Duration
	Rate       float64
	ConfigFile string

	// Environment is shown as visible or hidden. Optional.
	Environment environment.Environment
	// Toggle runs when "h" is pressed. Optional.
	Toggle func()
	// Shutdown runs when "q" or Ctrl-C is pressed.
	Shutdown func()
}

// Dashboard renders a live terminal UI for a client.
type Dashboard struct {
	source StatsSource
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	grid         *ui.Grid
	summaryPara  *widgets.Paragraph
	poolGauge    *widgets.Gauge
	poolPara     *widgets.Paragraph
	latencyGroup *widgets.SparklineGroup
	latencyPara  *widgets.Paragraph
	errorList    *widgets.List
	eventList    *widgets.List

	latencyHistory []float64
	events         []string
	startTime      time.Time
}

// New initializes the terminal and builds the widgets.
func New(source StatsSource, cfg Config) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		source:         source,
		cfg:            cfg,
		ctx:            ctx,
		cancel:         cancel,
		latencyHistory: make([]float64, 0, maxHistory),
		startTime:      time.Now(),
	}
	d.initWidgets()
	d.setupGrid()
	return d, nil
}

func (d *Dashboard) initWidgets() {
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Watch"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.poolGauge = widgets.NewGauge()
	d.poolGauge.Title = "Open Connections"
	d.poolGauge.BarColor = ui.ColorBlue
	d.poolGauge.BorderStyle.Fg = ui.ColorCyan
	d.poolGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.poolPara = widgets.NewParagraph()
	d.poolPara.Title = "Pool"
	d.poolPara.Text = "Waiting for data..."
	d.poolPara.BorderStyle.Fg = ui.ColorCyan

	sparkline := widgets.NewSparkline()
	sparkline.Title = "Latency (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}
	d.latencyGroup = widgets.NewSparklineGroup(sparkline)
	d.latencyGroup.Title = "Mean Latency"
	d.latencyGroup.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Latency Stats"
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.errorList = widgets.NewList()
	d.errorList.Title = "Failures"
	d.errorList.Rows = []string{"[No failures](fg:green)"}
	d.errorList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.errorList.BorderStyle.Fg = ui.ColorCyan

	d.eventList = widgets.NewList()
	d.eventList.Title = "Events"
	d.eventList.Rows = []string{"Awaiting data"}
	d.eventList.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()
	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)
	d.grid.Set(
		ui.NewRow(0.14,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.2,
			ui.NewCol(0.5, d.poolGauge),
			ui.NewCol(0.5, d.poolPara),
		),
		ui.NewRow(0.26,
			ui.NewCol(0.65, d.latencyGroup),
			ui.NewCol(0.35, d.latencyPara),
		),
		ui.NewRow(0.4,
			ui.NewCol(0.65, d.eventList),
			ui.NewCol(0.35, d.errorList),
		),
	)
}

// Push appends a line to the events pane, keeping the newest lines.
func (d *Dashboard) Push(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = appendEvent(d.events, line)
}

// Start begins the update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop ends the update loop and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	uiEvents := ui.PollEvents()

	d.update()
	d.render()
	for {
		select {
		case <-d.ctx.Done():
			return
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				if d.cfg.Shutdown != nil {
					d.cfg.Shutdown()
				}
			case "h":
				if d.cfg.Toggle != nil {
					d.cfg.Toggle()
				}
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.mu.Lock()
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				d.mu.Unlock()
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

func (d *Dashboard) update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := d.source.Stats()
	hidden := d.cfg.Environment != nil && d.cfg.Environment.Hidden()

	d.summaryPara.Text = formatSummary(d.cfg, time.Since(d.startTime), hidden, stats)

	d.poolGauge.Percent = poolPercent(stats)
	d.poolGauge.Label = poolLabel(stats)
	d.poolPara.Text = formatPool(stats)

	if req := stats.Requests; req != nil {
		if req.MeanLatency > 0 {
			d.latencyHistory = appendHistory(d.latencyHistory, req.MeanLatencyMs)
			d.latencyGroup.Sparklines[0].Data = d.latencyHistory
		}
		d.latencyPara.Text = fmt.Sprintf(
			"Min:  %.2fms\nMean: %.2fms\nP50:  %.2fms\nP90:  %.2fms\nP99:  %.2fms",
			req.MinLatencyMs, req.MeanLatencyMs, req.P50LatencyMs, req.P90LatencyMs, req.P99LatencyMs,
		)
		d.errorList.Rows = formatErrorRows(req.Errors)
	}

	if len(d.events) > 0 {
		rows := make([]string, len(d.events))
		// Newest first.
		for i, line := range d.events {
			rows[len(d.events)-1-i] = line
		}
		d.eventList.Rows = rows
	}
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()
	ui.Render(d.grid)
}

func formatSummary(cfg Config, elapsed time.Duration, hidden bool, stats client.Stats) string {
	state := "[visible](fg:green)"
	if hidden {
		state = "[hidden](fg:yellow)"
	}
	total, rate := int64(0), 0.0
	if req := stats.Requests; req != nil {
		total = req.Total
		if req.Total > 0 {
			rate = float64(req.Successes) / float64(req.Total) * 100
		}
	}
	target := cfg.Target
	if cfg.Query != "" {
		target += " " + cfg.Query
	}
	lines := []string{
		fmt.Sprintf("Target: %s", target),
		formatParams(cfg),
		fmt.Sprintf("Elapsed: %s | State: %s | Requests: %d | Success Rate: %.1f%%",
			elapsed.Round(time.Second), state, total, rate),
	}
	if lines[1] == "" {
		lines = append(lines[:1], lines[2:]...)
	}
	return strings.Join(lines, "\n")
}

func formatParams(cfg Config) string {
	var parts []string
	if cfg.Timeout > 0 {
		parts = append(parts, fmt.Sprintf("Timeout: %s", cfg.Timeout))
	}
	if cfg.Rate > 0 {
		parts = append(parts, fmt.Sprintf("Rate: %g/s", cfg.Rate))
	}
	if cfg.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", cfg.ConfigFile))
	}
	if cfg.Toggle != nil {
		parts = append(parts, "h: hide/show")
	}
	return strings.Join(parts, " | ")
}

func poolPercent(stats client.Stats) int {
	if stats.MaxConnections <= 0 {
		return 0
	}
	pct := stats.OpenConnections * 100 / stats.MaxConnections
	if pct > 100 {
		pct = 100
	}
	return pct
}

func poolLabel(stats client.Stats) string {
	if stats.MaxConnections <= 0 {
		return fmt.Sprintf("%d open (no cap)", stats.OpenConnections)
	}
	return fmt.Sprintf("%d / %d", stats.OpenConnections, stats.MaxConnections)
}

func formatPool(stats client.Stats) string {
	return fmt.Sprintf(
		"Acquired: %d\nReleased: %d\nEvicted:  %d\nPurged:   %d",
		stats.Pool.Acquired, stats.Pool.Released, stats.Pool.Evicted, stats.Pool.Purged,
	)
}

func formatErrorRows(errs map[string]int) []string {
	if len(errs) == 0 {
		return []string{"[No failures](fg:green)"}
	}
	type row struct {
		label string
		count int
	}
	rows := make([]row, 0, len(errs))
	for label, count := range errs {
		rows = append(rows, row{label, count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count == rows[j].count {
			return rows[i].label < rows[j].label
		}
		return rows[i].count > rows[j].count
	})
	if len(rows) > 10 {
		rows = rows[:10]
	}
	formatted := make([]string, 0, len(rows))
	for _, r := range rows {
		formatted = append(formatted, fmt.Sprintf("[%s](fg:red) %d", strings.ToUpper(r.label), r.count))
	}
	return formatted
}

func appendHistory(history []float64, v float64) []float64 {
	history = append(history, v)
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	return history
}

func appendEvent(events []string, line string) []string {
	events = append(events, line)
	if len(events) > maxEvents {
		events = events[len(events)-maxEvents:]
	}
	return events
}
