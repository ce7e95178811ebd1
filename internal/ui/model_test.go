// ABOUTME: Tests for TUI model and state management
// ABOUTME: Tests status updates, key commands, and rendering
package ui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestNewModel(t *testing.T) {
	model := NewModel(nil)

	if model.connected {
		t.Error("expected connected to be false initially")
	}
	if model.running {
		t.Error("expected running to be false initially")
	}
	if model.showDebug {
		t.Error("expected showDebug to be false initially")
	}
}

func TestStatusMsgConnection(t *testing.T) {
	model := NewModel(nil)

	connected := true
	model.applyStatus(StatusMsg{Connected: &connected, Endpoint: "127.0.0.1:3335", Transport: "ws"})
	if !model.connected {
		t.Error("expected connected to be true after status update")
	}
	if model.endpoint != "127.0.0.1:3335" {
		t.Errorf("expected endpoint 127.0.0.1:3335, got %s", model.endpoint)
	}

	disconnected := false
	model.applyStatus(StatusMsg{Connected: &disconnected})
	if model.connected {
		t.Error("expected connected to be false after disconnect")
	}
	if model.endpoint != "127.0.0.1:3335" {
		t.Error("expected endpoint to be kept when omitted")
	}
}

func TestStatusMsgStats(t *testing.T) {
	model := NewModel(nil)

	model.applyStatus(StatusMsg{
		Received:      10,
		Decoded:       8,
		Malformed:     2,
		ShapeMismatch: 1,
		Samples:       8000,
		Latency:       0.002,
		BufferFill:    500,
		BufferSize:    10000,
	})

	if model.received != 10 || model.decoded != 8 || model.malformed != 2 {
		t.Errorf("unexpected message counters: %d/%d/%d", model.received, model.decoded, model.malformed)
	}
	if model.shapeMismatch != 1 {
		t.Errorf("expected 1 mismatch, got %d", model.shapeMismatch)
	}
	if model.bufferFill != 500 || model.bufferSize != 10000 {
		t.Errorf("unexpected buffer state %d/%d", model.bufferFill, model.bufferSize)
	}
}

func TestKeyCommands(t *testing.T) {
	commands := make(chan Command, 4)
	model := NewModel(commands)

	tests := []struct {
		key  string
		want Command
	}{
		{"s", CommandToggleAcquisition},
		{"r", CommandReconnect},
	}

	for _, tt := range tests {
		updated, _ := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(tt.key)})
		model = updated.(Model)

		select {
		case got := <-commands:
			if got != tt.want {
				t.Errorf("key %s: expected command %d, got %d", tt.key, tt.want, got)
			}
		default:
			t.Errorf("key %s: expected a command", tt.key)
		}
	}

	updated, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Error("expected quit command")
	}
	if !updated.(Model).quitting {
		t.Error("expected model to be quitting")
	}
	if got := <-commands; got != CommandQuit {
		t.Errorf("expected CommandQuit, got %d", got)
	}
}

func TestDebugToggle(t *testing.T) {
	model := NewModel(nil)

	updated, _ := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	model = updated.(Model)
	if !model.showDebug {
		t.Error("expected debug to be shown")
	}
	if !strings.Contains(model.View(), "Last message id") {
		t.Error("expected debug section in view")
	}
}

func TestView(t *testing.T) {
	model := NewModel(nil)
	model.applyStatus(StatusMsg{Endpoint: "10.0.0.5:4000", Transport: "nats", Stream: "probe-a", Channels: 32, SampleRate: 30000})

	view := model.View()
	for _, want := range []string{"Falcon Input", "10.0.0.5:4000", "nats", "probe-a", "32 @ 30000 Hz", "disconnected"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q", want)
		}
	}
}

func TestRenderBar(t *testing.T) {
	tests := []struct {
		value, max int
		want       string
	}{
		{0, 10, "░░░░"},
		{5, 10, "██░░"},
		{10, 10, "████"},
		{20, 10, "████"},
		{3, 0, "░░░░"},
	}

	for _, tt := range tests {
		if got := renderBar(tt.value, tt.max, 4); got != tt.want {
			t.Errorf("renderBar(%d, %d): expected %s, got %s", tt.value, tt.max, tt.want, got)
		}
	}
}
