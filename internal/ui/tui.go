// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and its update channel
package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// TUI runs the receiver status screen
type TUI struct {
	program  *tea.Program
	updates  chan StatusMsg
	commands chan Command

	mu      sync.Mutex
	stopped bool
}

// New creates a TUI; call Run to show it
func New() *TUI {
	t := &TUI{
		updates:  make(chan StatusMsg, 10),
		commands: make(chan Command, 4),
	}
	t.program = tea.NewProgram(NewModel(t.commands), tea.WithAltScreen())
	return t
}

// Run blocks until the operator quits or Stop is called
func (t *TUI) Run() error {
	go func() {
		for status := range t.updates {
			t.program.Send(status)
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update sends a status update without blocking
func (t *TUI) Update(status StatusMsg) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	select {
	case t.updates <- status:
	default:
	}
}

// Commands returns operator requests raised from the keyboard
func (t *TUI) Commands() <-chan Command {
	return t.commands
}

// Stop quits the program; later updates are ignored
func (t *TUI) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.program.Quit()
	close(t.updates)
}
