// Package tui provides a terminal user interface that follows a running
// scan.
package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/user/netscan/internal/engine"
	"github.com/user/netscan/internal/export"
	"github.com/user/netscan/internal/model"
)

// Scanner is the part of the orchestrator the UI drives.
type Scanner interface {
	Start(req model.ScanRequest, observer engine.Observer) error
	Abort() (engine.Outcome, bool)
	Wait() (engine.Outcome, bool)
}

// App is the scan TUI application.
type App struct {
	scanner    Scanner
	req        model.ScanRequest
	exportPath string
}

// NewApp creates a TUI that runs req on scanner. When exportPath is set the
// results can be written there with the 'e' key.
func NewApp(scanner Scanner, req model.ScanRequest, exportPath string) *App {
	return &App{
		scanner:    scanner,
		req:        req,
		exportPath: exportPath,
	}
}

// Run starts the scan and the UI, and returns the scan outcome once the UI
// is closed. A scan still running at that point is aborted.
func (a *App) Run() (engine.Outcome, error) {
	p := tea.NewProgram(newScanModel(a.scanner, a.req, a.exportPath), tea.WithAltScreen())

	err := a.scanner.Start(a.req, func(e engine.Event) {
		p.Send(eventMsg(e))
	})
	if err != nil {
		return engine.Outcome{}, err
	}
	outcome := make(chan engine.Outcome, 1)
	go func() {
		out, _ := a.scanner.Wait()
		outcome <- out
		p.Send(outcomeMsg(out))
	}()

	_, err = p.Run()

	a.scanner.Abort()
	return <-outcome, err
}

// scanModel is the main bubbletea model.
type scanModel struct {
	scanner    Scanner
	req        model.ScanRequest
	exportPath string

	table   table.Model
	spinner spinner.Model
	stage   string
	hosts   []model.HostRecord
	index   map[string]int

	running  bool
	aborting bool
	outcome  *engine.Outcome
	notice   string
	err      error
	width    int
	height   int
}

func newScanModel(scanner Scanner, req model.ScanRequest, exportPath string) scanModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(Primary)

	cols := make([]table.Column, len(export.Columns))
	for i, title := range export.Columns {
		cols[i] = table.Column{Title: title, Width: columnWidths[i]}
	}
	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = TableHeaderStyle
	styles.Selected = SelectedRowStyle
	t.SetStyles(styles)

	return scanModel{
		scanner:    scanner,
		req:        req,
		exportPath: exportPath,
		table:      t,
		spinner:    s,
		index:      make(map[string]int),
		running:    true,
	}
}

var columnWidths = []int{40, 18, 30, 30}

// Init initializes the model.
func (m scanModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages.
func (m scanModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "a":
			if m.running && !m.aborting {
				m.aborting = true
				m.notice = "Aborting..."
				return m, abortScan(m.scanner)
			}
			return m, nil
		case "e":
			if m.running {
				m.notice = "Export is available when the scan has finished"
				return m, nil
			}
			if m.exportPath == "" {
				m.notice = "No export file given (use --output)"
				return m, nil
			}
			return m, exportHosts(m.exportPath, m.hosts)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if h := msg.Height - 16; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case eventMsg:
		m.apply(engine.Event(msg))
		return m, nil

	case outcomeMsg:
		out := engine.Outcome(msg)
		m.running = false
		m.aborting = false
		m.outcome = &out
		m.notice = ""
		if out.Status != engine.StatusFailed {
			m.setHosts(out.Hosts)
		}
		return m, nil

	case exportedMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.notice = "Exported to " + msg.path
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *scanModel) apply(e engine.Event) {
	switch e.Kind {
	case engine.EventStageStarted:
		m.stage = e.Stage
	case engine.EventHostFound, engine.EventHostScanned:
		m.upsert(e.Host)
		m.table.SetRows(tableRows(m.hosts))
	}
}

func (m *scanModel) upsert(h model.HostRecord) {
	if i, ok := m.index[h.IP]; ok {
		m.hosts[i] = h
		return
	}
	m.index[h.IP] = len(m.hosts)
	m.hosts = append(m.hosts, h)
}

func (m *scanModel) setHosts(hosts []model.HostRecord) {
	m.hosts = nil
	m.index = make(map[string]int, len(hosts))
	for _, h := range hosts {
		m.upsert(h)
	}
	m.table.SetRows(tableRows(m.hosts))
}

func tableRows(hosts []model.HostRecord) []table.Row {
	cells := export.Rows(hosts)
	rows := make([]table.Row, len(cells))
	for i, c := range cells {
		rows[i] = table.Row(c)
	}
	return rows
}

// selected returns the host under the table cursor.
func (m scanModel) selected() (model.HostRecord, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.hosts) {
		return model.HostRecord{}, false
	}
	return m.hosts[i], true
}

// Messages
type eventMsg engine.Event

type outcomeMsg engine.Outcome

type exportedMsg struct {
	path string
	err  error
}

func abortScan(s Scanner) tea.Cmd {
	return func() tea.Msg {
		out, ok := s.Abort()
		if !ok {
			return nil
		}
		return outcomeMsg(out)
	}
}

func exportHosts(path string, hosts []model.HostRecord) tea.Cmd {
	return func() tea.Msg {
		return exportedMsg{path: path, err: export.WriteFile(path, "", hosts)}
	}
}
