package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/fetch-bridge/bridge"
	"github.com/wippyai/fetch-bridge/exchange"
)

const (
	maxRows     = 200
	maxLogLines = 8
	queueSize   = 256
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	liveStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	logStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AAAAAA"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// monitor shows exchange table events and log output in a TUI. Events
// and log lines are queued without blocking; when the queue is full they
// are dropped.
type monitor struct {
	bridge *bridge.Bridge
	events chan exchange.Event
	logs   chan string
	addr   string
}

func newMonitor(addr string) *monitor {
	return &monitor{
		addr:   addr,
		events: make(chan exchange.Event, queueSize),
		logs:   make(chan string, queueSize),
	}
}

type logSink struct {
	ch chan<- string
}

func (s logSink) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	select {
	case s.ch <- line:
	default:
	}
	return len(p), nil
}

func (m *monitor) logWriter() io.Writer {
	return logSink{ch: m.logs}
}

func (m *monitor) attach(b *bridge.Bridge) {
	m.bridge = b
	b.Table().Subscribe(exchange.ObserverFunc(func(e exchange.Event) {
		select {
		case m.events <- e:
		default:
		}
	}))
}

func (m *monitor) run(ctx context.Context) error {
	p := tea.NewProgram(newMonitorModel(m), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

type monitorMode int

const (
	modeBrowse monitorMode = iota
	modeFetch
)

type exchangeRow struct {
	created time.Time
	ended   time.Time
	label   string
	key     exchange.Key
	state   exchange.State
}

type (
	eventMsg exchange.Event
	logMsg   string
	tickMsg  time.Time
)

type fetchResultMsg struct {
	err    error
	url    string
	status int
	size   int
}

type monitorModel struct {
	mon    *monitor
	now    func() time.Time
	rows   map[exchange.Key]*exchangeRow
	status string
	order  []exchange.Key
	logs   []string
	table  table.Model
	input  textinput.Model
	mode   monitorMode
	isErr  bool
}

func newMonitorModel(mon *monitor) *monitorModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Dir", Width: 4},
			{Title: "ID", Width: 6},
			{Title: "State", Width: 18},
			{Title: "Exchange", Width: 44},
			{Title: "Age", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(14),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#7D56F4"))
	t.SetStyles(s)

	ti := textinput.New()
	ti.Placeholder = "http://example.com/"
	ti.Prompt = "fetch: "
	ti.Width = 50

	return &monitorModel{
		mon:   mon,
		now:   time.Now,
		rows:  make(map[exchange.Key]*exchangeRow),
		table: t,
		input: ti,
	}
}

func waitEvent(ch <-chan exchange.Event) tea.Cmd {
	return func() tea.Msg { return eventMsg(<-ch) }
}

func waitLog(ch <-chan string) tea.Cmd {
	return func() tea.Msg { return logMsg(<-ch) }
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *monitorModel) Init() tea.Cmd {
	return tea.Batch(waitEvent(m.mon.events), waitLog(m.mon.logs), tick())
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.mode == modeFetch {
			return m.updateFetchInput(msg)
		}
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "f":
			m.mode = modeFetch
			m.input.SetValue("")
			return m, m.input.Focus()
		}

	case eventMsg:
		m.apply(exchange.Event(msg))
		m.refresh()
		return m, waitEvent(m.mon.events)

	case logMsg:
		m.logs = append(m.logs, string(msg))
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
		return m, waitLog(m.mon.logs)

	case tickMsg:
		m.refresh()
		return m, tick()

	case fetchResultMsg:
		if msg.err != nil {
			m.status, m.isErr = fmt.Sprintf("fetch %s: %v", msg.url, msg.err), true
		} else {
			m.status, m.isErr = fmt.Sprintf("fetch %s: %d, %d bytes", msg.url, msg.status, msg.size), false
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *monitorModel) updateFetchInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeBrowse
		m.input.Blur()
		return m, nil
	case "enter":
		m.mode = modeBrowse
		m.input.Blur()
		target := strings.TrimSpace(m.input.Value())
		if target == "" {
			return m, nil
		}
		m.status, m.isErr = "fetching "+target, false
		return m, m.fetch(target)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *monitorModel) fetch(target string) tea.Cmd {
	b := m.mon.bridge
	return func() tea.Msg {
		if b == nil {
			return fetchResultMsg{url: target, err: errors.New("bridge not attached")}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		resp, err := b.Fetch(ctx, target, nil)
		if err != nil {
			return fetchResultMsg{url: target, err: err}
		}
		data, err := resp.Bytes(ctx)
		if err != nil {
			return fetchResultMsg{url: target, err: err}
		}
		return fetchResultMsg{url: target, status: resp.Status(), size: len(data)}
	}
}

// apply folds one table event into the row set.
func (m *monitorModel) apply(e exchange.Event) {
	now := m.now()
	switch e.Type {
	case exchange.EventCreated:
		if _, ok := m.rows[e.Key]; ok {
			m.dropKey(e.Key)
		}
		m.rows[e.Key] = &exchangeRow{key: e.Key, label: e.Label, state: e.State, created: now}
		m.order = append(m.order, e.Key)
	case exchange.EventStateChanged:
		if r, ok := m.rows[e.Key]; ok {
			r.state = e.State
		}
	case exchange.EventRemoved:
		if r, ok := m.rows[e.Key]; ok {
			r.state = e.State
			r.ended = now
		}
	}
	m.prune()
}

func (m *monitorModel) dropKey(key exchange.Key) {
	delete(m.rows, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// prune drops the oldest finished rows beyond maxRows.
func (m *monitorModel) prune() {
	for i := 0; len(m.order) > maxRows && i < len(m.order); {
		if r := m.rows[m.order[i]]; !r.ended.IsZero() {
			m.dropKey(m.order[i])
			continue
		}
		i++
	}
}

func (m *monitorModel) live() int {
	n := 0
	for _, r := range m.rows {
		if r.ended.IsZero() {
			n++
		}
	}
	return n
}

func (m *monitorModel) refresh() {
	now := m.now()
	rows := make([]table.Row, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		r := m.rows[m.order[i]]
		end := now
		if !r.ended.IsZero() {
			end = r.ended
		}
		dir := "in"
		if r.key.Direction == exchange.Outbound {
			dir = "out"
		}
		rows = append(rows, table.Row{
			dir,
			strconv.FormatUint(r.key.ID, 10),
			r.state.String(),
			r.label,
			end.Sub(r.created).Truncate(time.Millisecond).String(),
		})
	}
	m.table.SetRows(rows)
}

func (m *monitorModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Fetch Bridge"))
	b.WriteString(" ")
	b.WriteString(m.mon.addr)
	b.WriteString("  ")
	b.WriteString(liveStyle.Render(fmt.Sprintf("%d live, %d shown", m.live(), len(m.order))))
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n\n")

	if m.mode == modeFetch {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	} else if m.status != "" {
		if m.isErr {
			b.WriteString(errorStyle.Render(m.status))
		} else {
			b.WriteString(resultStyle.Render(m.status))
		}
		b.WriteString("\n")
	}

	for _, line := range m.logs {
		b.WriteString(logStyle.Render(line))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if m.mode == modeFetch {
		b.WriteString(helpStyle.Render("enter fetch • esc back"))
	} else {
		b.WriteString(helpStyle.Render("↑/↓ scroll • f fetch • q quit"))
	}
	return b.String()
}
