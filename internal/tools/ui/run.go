package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const defaultTimeout = 2 * time.Minute

// ErrInterrupted is returned when the operator presses ctrl+c before the
// action finishes.
var ErrInterrupted = errors.New("interrupted")

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type actionMsg struct {
	details []string
	err     error
	elapsed time.Duration
}

type model struct {
	title   string
	ctx     context.Context
	cancel  context.CancelFunc
	action  func(context.Context) ([]string, error)
	result  *actionMsg
	aborted bool
}

func (m model) Init() tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		details, err := m.action(m.ctx)
		return actionMsg{details: details, err: err, elapsed: time.Since(start)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			if m.cancel != nil {
				m.cancel()
			}
			m.aborted = true
			return m, tea.Quit
		}
	case actionMsg:
		m.result = &msg
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	switch {
	case m.aborted:
		b.WriteString(failureStyle.Render("INTERRUPTED") + "\n")
	case m.result == nil:
		b.WriteString(mutedStyle.Render("Running...") + "\n")
	case m.result.err != nil:
		fmt.Fprintf(&b, "%s: %v\n", failureStyle.Render("FAILED"), m.result.err)
	default:
		fmt.Fprintf(&b, "%s %s\n", okStyle.Render("OK"), mutedStyle.Render(m.result.elapsed.Round(time.Millisecond).String()))
	}
	if m.result != nil {
		for _, d := range m.result.details {
			b.WriteString("- " + d + "\n")
		}
	}
	return b.String()
}

// Run executes action under a deadline while showing a one-shot status view.
func Run(title string, timeout time.Duration, action func(context.Context) ([]string, error)) ([]string, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	final, err := tea.NewProgram(model{title: title, ctx: ctx, cancel: cancel, action: action}).Run()
	if err != nil {
		return nil, err
	}
	res := final.(model)
	if res.aborted || res.result == nil {
		return nil, ErrInterrupted
	}
	return res.result.details, res.result.err
}
