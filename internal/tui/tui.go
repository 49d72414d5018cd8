// Package tui renders a compact live view of the supervision run: the
// agent status line, the trailing event feed, and an input field for
// submitting interrupts without leaving the terminal.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lukehenning/shepherd/internal/orchestrator"
	"github.com/lukehenning/shepherd/internal/trace"
	"github.com/lukehenning/shepherd/internal/util"
)

const feedLines = 30

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	kindStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle   = lipgloss.NewStyle().Faint(true)
)

type eventMsg trace.Event

type tickMsg time.Time

// Model is the bubbletea model for the supervision view.
type Model struct {
	shared  *orchestrator.SharedState
	project *orchestrator.ProjectState

	events <-chan trace.Event
	cancel func()

	feed        []trace.Event
	input       textinput.Model
	inputActive bool
	width       int
}

// NewModel creates a Model subscribed to the trace buffer.
func NewModel(shared *orchestrator.SharedState, project *orchestrator.ProjectState, tr *trace.Buffer) Model {
	events, cancel := tr.Subscribe()

	input := textinput.New()
	input.Placeholder = "interrupt message (enter to send, esc to cancel)"
	input.CharLimit = 500

	return Model{
		shared:  shared,
		project: project,
		events:  events,
		cancel:  cancel,
		feed:    tr.Snapshot(),
		input:   input,
	}
}

func waitForEvent(events <-chan trace.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg(event)
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts the event wait and the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tick())
}

// Update handles key presses, incoming trace events, and ticks.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = msg.Width - 4
		return m, nil

	case tea.KeyMsg:
		if m.inputActive {
			switch msg.String() {
			case "enter":
				text := strings.TrimSpace(m.input.Value())
				if text != "" {
					m.shared.AddInterrupt(text)
				}
				m.input.SetValue("")
				m.inputActive = false
				return m, nil
			case "esc":
				m.input.SetValue("")
				m.inputActive = false
				return m, nil
			}
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		case "i":
			m.inputActive = true
			return m, m.input.Focus()
		case "s":
			m.shared.AddInterrupt(orchestrator.StopSentinel)
			return m, nil
		}
		return m, nil

	case eventMsg:
		m.feed = append(m.feed, trace.Event(msg))
		if len(m.feed) > feedLines {
			m.feed = m.feed[len(m.feed)-feedLines:]
		}
		return m, waitForEvent(m.events)

	case tickMsg:
		return m, tick()
	}
	return m, nil
}

// View renders the status line, the event feed, and the input field.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("shepherd"))
	b.WriteString("  ")
	b.WriteString(statusStyle.Render("status: " + string(m.project.LastAgentStatus())))
	snap := m.shared.Snapshot()
	if snap.SessionID != "" {
		b.WriteString(kindStyle.Render("  session: " + snap.SessionID))
	}
	if snap.StopRequested {
		b.WriteString(errorStyle.Render("  stopping"))
	}
	b.WriteString("\n\n")

	for _, event := range m.feed {
		line := fmt.Sprintf("%s %s %s",
			kindStyle.Render(event.Timestamp.Format("15:04:05")),
			kindStyle.Render(fmt.Sprintf("%-16s", event.Kind)),
			event.Message)
		if event.Kind == trace.KindCycleError {
			line = errorStyle.Render(line)
		}
		if m.width > 0 {
			line = util.TruncateANSI(line, m.width)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.inputActive {
		b.WriteString(m.input.View())
	} else {
		b.WriteString(helpStyle.Render("i interrupt · s stop · q quit"))
	}
	b.WriteString("\n")
	return b.String()
}

// Run starts the TUI and blocks until it exits.
func Run(shared *orchestrator.SharedState, project *orchestrator.ProjectState, tr *trace.Buffer) error {
	program := tea.NewProgram(NewModel(shared, project, tr), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
