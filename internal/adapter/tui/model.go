// Package tui is the terminal dashboard over the live job list.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/cwygoda/haul/internal/domain"
	"github.com/cwygoda/haul/internal/queue"
)

// Service is the set of queue operations the dashboard drives.
type Service interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
	Observe(ctx context.Context) <-chan []domain.Job
	Cancel(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Reorder(ctx context.Context, from, to int) error
	ClearCompletedAndCancelled(ctx context.Context) (int64, error)
	PauseQueue()
	ResumeQueue()
	Paused() bool
}

type jobsMsg []domain.Job

type alertMsg queue.Alert

type closedMsg struct{}

type actionMsg struct {
	message string
	err     error
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
	panelStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	statusStyles = map[domain.JobStatus]lipgloss.Style{
		domain.StatusQueued:    mutedStyle,
		domain.StatusActive:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		domain.StatusFailed:    errorStyle,
		domain.StatusCompleted: okStyle,
		domain.StatusCancelled: mutedStyle,
	}
)

// Model is the bubbletea model of the dashboard.
type Model struct {
	ctx     context.Context
	svc     Service
	updates <-chan []domain.Job
	alerts  <-chan queue.Alert

	jobs       []domain.Job
	cursor     int
	selectedID string
	paused     bool

	adding bool
	input  textinput.Model
	bar    progress.Model

	width         int
	statusMessage string
}

// New creates the dashboard model. alerts may be nil.
func New(ctx context.Context, svc Service, alerts <-chan queue.Alert) Model {
	input := textinput.New()
	input.Placeholder = "https://… or magnet:?xt=…"
	input.CharLimit = 2048

	return Model{
		ctx:     ctx,
		svc:     svc,
		updates: svc.Observe(ctx),
		alerts:  alerts,
		paused:  svc.Paused(),
		input:   input,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(24), progress.WithoutPercentage()),
	}
}

// Run shows the dashboard until the user quits or ctx ends.
func Run(ctx context.Context, svc Service, alerts <-chan queue.Alert) error {
	p := tea.NewProgram(New(ctx, svc, alerts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForJobs(m.updates), waitForAlert(m.alerts))
}

func waitForJobs(ch <-chan []domain.Job) tea.Cmd {
	return func() tea.Msg {
		jobs, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return jobsMsg(jobs)
	}
}

func waitForAlert(ch <-chan queue.Alert) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		a, ok := <-ch
		if !ok {
			return nil
		}
		return alertMsg(a)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-8, 20)
		return m, nil
	case jobsMsg:
		m.jobs = msg
		m.restoreCursor()
		return m, waitForJobs(m.updates)
	case closedMsg:
		return m, tea.Quit
	case alertMsg:
		m.statusMessage = fmt.Sprintf("%s: %s", msg.Kind, msg.Message)
		return m, waitForAlert(m.alerts)
	case actionMsg:
		if msg.err != nil {
			m.statusMessage = "error: " + msg.err.Error()
		} else {
			m.statusMessage = msg.message
		}
		return m, nil
	}

	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	if m.adding {
		return m.updateAdd(keyMsg)
	}
	return m.updateBrowse(keyMsg)
}

func (m Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		m.remember()
		return m, nil
	case "down", "j":
		if m.cursor < len(m.jobs)-1 {
			m.cursor++
		}
		m.remember()
		return m, nil
	case "a":
		m.adding = true
		m.statusMessage = ""
		cmd := m.input.Focus()
		return m, cmd
	case "p":
		if m.paused {
			m.svc.ResumeQueue()
			m.paused = false
			m.statusMessage = "queue resumed"
		} else {
			m.svc.PauseQueue()
			m.paused = true
			m.statusMessage = "queue paused"
		}
		return m, nil
	case "x":
		return m, m.do(func(ctx context.Context) (string, error) {
			n, err := m.svc.ClearCompletedAndCancelled(ctx)
			return fmt.Sprintf("cleared %d finished jobs", n), err
		})
	}

	job := m.selected()
	if job == nil {
		return m, nil
	}
	id := job.ID

	switch msg.String() {
	case "c":
		return m, m.do(func(ctx context.Context) (string, error) {
			return "cancel requested", m.svc.Cancel(ctx, id)
		})
	case "r":
		return m, m.do(func(ctx context.Context) (string, error) {
			return "job requeued", m.svc.Retry(ctx, id)
		})
	case "d":
		return m, m.do(func(ctx context.Context) (string, error) {
			return "job removed", m.svc.Remove(ctx, id)
		})
	case "K", "J":
		idx := m.queuedIndex(id)
		if idx < 0 {
			m.statusMessage = "only queued jobs can be moved"
			return m, nil
		}
		to := idx - 1
		if msg.String() == "J" {
			to = idx + 1
		}
		return m, m.do(func(ctx context.Context) (string, error) {
			return "", m.svc.Reorder(ctx, idx, to)
		})
	}
	return m, nil
}

func (m Model) updateAdd(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+c":
		m.adding = false
		m.input.Blur()
		m.input.SetValue("")
		return m, nil
	case "enter":
		url := strings.TrimSpace(m.input.Value())
		m.adding = false
		m.input.Blur()
		m.input.SetValue("")
		if url == "" {
			return m, nil
		}
		return m, m.do(func(ctx context.Context) (string, error) {
			id, err := m.svc.Enqueue(ctx, queue.EnqueueRequest{URL: url})
			return "enqueued " + id, err
		})
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) do(fn func(ctx context.Context) (string, error)) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		message, err := fn(ctx)
		return actionMsg{message: message, err: err}
	}
}

func (m *Model) selected() *domain.Job {
	if m.cursor < 0 || m.cursor >= len(m.jobs) {
		return nil
	}
	return &m.jobs[m.cursor]
}

func (m *Model) remember() {
	if j := m.selected(); j != nil {
		m.selectedID = j.ID
	}
}

// restoreCursor keeps the selection on the same job across list updates.
func (m *Model) restoreCursor() {
	for i := range m.jobs {
		if m.jobs[i].ID == m.selectedID {
			m.cursor = i
			return
		}
	}
	if m.cursor >= len(m.jobs) {
		m.cursor = len(m.jobs) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	m.remember()
}

// queuedIndex returns the index of id among QUEUED jobs, or -1.
func (m *Model) queuedIndex(id string) int {
	n := 0
	for _, j := range m.jobs {
		if j.Status != domain.StatusQueued {
			continue
		}
		if j.ID == id {
			return n
		}
		n++
	}
	return -1
}

func (m Model) View() string {
	var b strings.Builder

	state := okStyle.Render("running")
	if m.paused {
		state = errorStyle.Render("paused")
	}
	b.WriteString(titleStyle.Render("haul") + "  " + state + "\n\n")

	if len(m.jobs) == 0 {
		b.WriteString(mutedStyle.Render("no jobs yet, press a to add one") + "\n")
	}
	var rows []string
	for i, j := range m.jobs {
		row := m.renderJob(j)
		if i == m.cursor {
			row = selectedStyle.Render("> ") + row
		} else {
			row = "  " + row
		}
		rows = append(rows, row)
	}
	if len(rows) > 0 {
		b.WriteString(panelStyle.Render(strings.Join(rows, "\n")) + "\n")
	}

	if m.adding {
		b.WriteString("\nAdd URL: " + m.input.View() + "\n")
	}
	if m.statusMessage != "" {
		b.WriteString("\n" + m.statusMessage + "\n")
	}
	b.WriteString("\n" + mutedStyle.Render("↑/↓ select  a add  c cancel  r retry  d remove  p pause  K/J move  x clear  q quit"))
	return b.String()
}

func (m Model) renderJob(j domain.Job) string {
	style, ok := statusStyles[j.Status]
	if !ok {
		style = mutedStyle
	}
	status := fmt.Sprintf("%-9s", j.Status)
	if j.CancelRequested && j.Status == domain.StatusActive {
		status = "CANCEL…  "
	}

	name := j.Title
	if name == "" {
		name = j.URL
	}
	name = truncate(name, 40)

	line := fmt.Sprintf("%s %-40s %s %5.1f%%", style.Render(status), name, m.bar.ViewAs(j.ProgressPercent/100), j.ProgressPercent)

	switch j.Status {
	case domain.StatusActive:
		line += "  " + humanize.IBytes(uint64(max(j.Speed, 0))) + "/s"
		if j.ETA > 0 {
			line += "  eta " + (time.Duration(j.ETA) * time.Second).String()
		}
		if j.Peers != nil {
			line += fmt.Sprintf("  %d peers", *j.Peers)
		}
	case domain.StatusFailed:
		msg := j.ErrorMessage
		if j.RetryCount > 0 {
			msg = fmt.Sprintf("%s (attempt %d)", msg, j.RetryCount)
		}
		line += "  " + errorStyle.Render(truncate(msg, 60))
	case domain.StatusCompleted:
		if j.SizeBytes > 0 {
			line += "  " + humanize.IBytes(uint64(j.SizeBytes))
		}
	}
	return line
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
