// ABOUTME: Bubbletea model for the receiver status screen
// ABOUTME: Defines receiver state, key handling and rendering
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Command is an operator request raised from the keyboard
type Command int

const (
	CommandToggleAcquisition Command = iota
	CommandReconnect
	CommandQuit
)

// Model represents the TUI state
type Model struct {
	// Connection
	connected bool
	endpoint  string
	transport string

	// Stream
	stream     string
	channels   int
	sampleRate float64
	running    bool

	// Stats
	received      uint64
	decoded       uint64
	malformed     uint64
	shapeMismatch uint64
	samples       uint64
	latency       float64
	lastMessageID uint64
	bufferFill    int
	bufferSize    int

	showDebug bool
	startTime time.Time
	quitting  bool
	commands  chan<- Command

	width  int
	height int
}

type tickMsg time.Time

// StatusMsg updates TUI state; zero fields leave the current value alone
type StatusMsg struct {
	Connected     *bool
	Running       *bool
	Endpoint      string
	Transport     string
	Stream        string
	Channels      int
	SampleRate    float64
	Received      uint64
	Decoded       uint64
	Malformed     uint64
	ShapeMismatch uint64
	Samples       uint64
	Latency       float64
	LastMessageID uint64
	BufferFill    int
	BufferSize    int
}

// NewModel creates a model that reports operator commands on commands.
// A nil channel drops them.
func NewModel(commands chan<- Command) Model {
	return Model{
		startTime: time.Now(),
		commands:  commands,
	}
}

// Init starts the refresh tick
func (m Model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		return m, tickEvery()
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	goodStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	badStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	helpStyle   = lipgloss.NewStyle().Faint(true)
)

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Shutting down receiver...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Falcon Input"))
	b.WriteString("\n\n")

	m.field(&b, "Producer: ", fmt.Sprintf("%s (%s)", m.endpoint, m.transport))
	b.WriteString(headerStyle.Render("Status:   "))
	if m.connected {
		b.WriteString(goodStyle.Render("connected"))
	} else {
		b.WriteString(badStyle.Render("disconnected"))
	}
	b.WriteString("\n")

	acq := "stopped"
	if m.running {
		acq = "running"
	}
	m.field(&b, "Acquisition: ", acq)
	m.field(&b, "Uptime:   ", time.Since(m.startTime).Round(time.Second).String())
	b.WriteString("\n")

	stream := m.stream
	if stream == "" {
		stream = "(none yet)"
	}
	m.field(&b, "Stream:   ", stream)
	m.field(&b, "Channels: ", fmt.Sprintf("%d @ %.0f Hz", m.channels, m.sampleRate))
	m.field(&b, "Buffer:   ", fmt.Sprintf("[%s] %d/%d", renderBar(m.bufferFill, m.bufferSize, 20), m.bufferFill, m.bufferSize))
	b.WriteString("\n")

	m.field(&b, "Messages: ", fmt.Sprintf("RX %d  decoded %d  malformed %d  mismatched %d",
		m.received, m.decoded, m.malformed, m.shapeMismatch))
	m.field(&b, "Samples:  ", fmt.Sprintf("%d", m.samples))
	m.field(&b, "Latency:  ", fmt.Sprintf("%.2f ms", m.latency*1000))

	if m.showDebug {
		b.WriteString("\n")
		m.field(&b, "Last message id: ", fmt.Sprintf("%d", m.lastMessageID))
		m.field(&b, "Window: ", fmt.Sprintf("%dx%d", m.width, m.height))
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("s:Start/Stop  r:Reconnect  d:Debug  q:Quit"))

	return b.String()
}

func (m Model) field(b *strings.Builder, label, value string) {
	b.WriteString(headerStyle.Render(label))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		m.send(CommandQuit)
		return m, tea.Quit
	case "s":
		m.send(CommandToggleAcquisition)
	case "r":
		m.send(CommandReconnect)
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

func (m Model) send(cmd Command) {
	if m.commands == nil {
		return
	}
	select {
	case m.commands <- cmd:
	default:
	}
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.Running != nil {
		m.running = *msg.Running
	}
	if msg.Endpoint != "" {
		m.endpoint = msg.Endpoint
	}
	if msg.Transport != "" {
		m.transport = msg.Transport
	}
	if msg.Stream != "" {
		m.stream = msg.Stream
	}
	if msg.Channels != 0 {
		m.channels = msg.Channels
		m.sampleRate = msg.SampleRate
	}
	if msg.Received != 0 {
		m.received = msg.Received
		m.decoded = msg.Decoded
		m.malformed = msg.Malformed
		m.shapeMismatch = msg.ShapeMismatch
		m.samples = msg.Samples
		m.latency = msg.Latency
		m.lastMessageID = msg.LastMessageID
	}
	if msg.BufferSize != 0 {
		m.bufferFill = msg.BufferFill
		m.bufferSize = msg.BufferSize
	}
}

func renderBar(value, max, width int) string {
	if max <= 0 {
		return strings.Repeat("░", width)
	}
	filled := (value * width) / max
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
