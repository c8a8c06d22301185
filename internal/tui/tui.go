// Package tui is an interactive watch view. Terminal focus drives the
// environment: losing focus hides it and regaining focus shows it again.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/torosent/leash/internal/environment"
)

const maxLines = 20

// EventMsg adds a line to the event log.
type EventMsg string

// StatusMsg replaces the status line.
type StatusMsg string

// Model is the bubbletea model for the watch view.
type Model struct {
	env     *environment.Visibility
	title   string
	spinner spinner.Model
	status  string
	lines   []string
	onQuit  func()
}

// NewModel returns a model that toggles env on focus changes. onQuit runs
// when the user quits and may be nil.
func NewModel(title string, env *environment.Visibility, onQuit func()) Model {
	s := spinner.New(spinner.WithSpinner(spinner.Dot))
	return Model{
		env:     env,
		title:   title,
		spinner: s,
		status:  "waiting",
		onQuit:  onQuit,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.FocusMsg:
		m.env.SetHidden(false)
		return m, nil
	case tea.BlurMsg:
		m.env.SetHidden(true)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		case "h":
			m.env.SetHidden(!m.env.Hidden())
		}
		return m, nil
	case EventMsg:
		m.lines = append(m.lines, string(msg))
		if len(m.lines) > maxLines {
			m.lines = m.lines[len(m.lines)-maxLines:]
		}
		return m, nil
	case StatusMsg:
		m.status = string(msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder
	state := "visible"
	if m.env.Hidden() {
		state = "hidden"
	}
	fmt.Fprintf(&b, "%s %s [%s]\n", m.spinner.View(), m.title, state)
	fmt.Fprintf(&b, "%s\n\n", m.status)
	for _, line := range m.lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("\nh: hide/show  q: quit\n")
	return b.String()
}

// Run shows the model until ctx is done or the user quits. Lines received
// on events are appended to the log.
func Run(ctx context.Context, m Model, events <-chan tea.Msg) error {
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithReportFocus())
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-events:
				if !ok {
					return
				}
				p.Send(msg)
			}
		}
	}()
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
