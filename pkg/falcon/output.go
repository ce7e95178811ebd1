// ABOUTME: Falcon producer: turns host sample blocks into published messages
// ABOUTME: Selects channels, seals event codes, encodes and publishes
package falcon

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/open-ephys-plugins/falcon-output/pkg/protocol"
	"github.com/open-ephys-plugins/falcon-output/pkg/transport"
	"github.com/open-ephys-plugins/falcon-output/pkg/transport/memory"
	"github.com/open-ephys-plugins/falcon-output/pkg/transport/natsbus"
	"github.com/open-ephys-plugins/falcon-output/pkg/transport/websocket"
)

// BindFunc creates the publisher for a configuration
type BindFunc func(config OutputConfig) (transport.Publisher, error)

// OutputConfig configures an Output
type OutputConfig struct {
	// Port to publish on (default: 3335)
	Port int

	// Stream names the data stream in every message (default: random)
	Stream string

	// Transport is one of "ws", "nats" or "memory" (default: "ws")
	Transport string

	// NATSURL is the NATS server used by the nats transport
	NATSURL string

	// Bus is required by the memory transport
	Bus *memory.Bus

	// Channels selects host channels by index, empty sends all
	Channels []int

	// QueueSize is the per-subscriber outbound queue (default: 64)
	QueueSize int

	// Bind replaces the built-in transports when set
	Bind BindFunc

	Logger *slog.Logger
}

func (c *OutputConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Stream == "" {
		c.Stream = "falcon-" + uuid.New().String()[:8]
	}
	if c.Transport == "" {
		c.Transport = transport.WebSocket
	}
	if c.QueueSize <= 0 {
		c.QueueSize = websocket.DefaultQueueSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// TTLEvent is one digital line transition inside a host block
type TTLEvent struct {
	Line   int
	High   bool
	Offset int
}

// HostBlock is one scheduling quantum of host data
type HostBlock struct {
	// Channels holds per-channel samples, at least NumSamples each
	Channels [][]float32

	NumSamples        int
	FirstSampleNumber int64
	SampleRate        float32

	// Events are applied in order before the block is sealed
	Events []TTLEvent
}

// OutputStats counts producer activity
type OutputStats struct {
	Published      uint64
	PublishErrors  uint64
	EncodeErrors   uint64
	RejectedEvents uint64
	Unbound        uint64
	Samples        uint64
	Sequence       uint64
}

// Output is the producing end of a Falcon stream
type Output struct {
	mu      sync.Mutex
	config  OutputConfig
	logger  *slog.Logger
	pub     transport.Publisher
	session *outputSession
	pending []TTLEvent

	published      atomic.Uint64
	publishErrors  atomic.Uint64
	encodeErrors   atomic.Uint64
	rejectedEvents atomic.Uint64
	unbound        atomic.Uint64
	samples        atomic.Uint64
}

// outputSession is the per-socket encode state
type outputSession struct {
	encoder     *protocol.Encoder
	accumulator protocol.Accumulator
	sequence    uint64
}

func newOutputSession() *outputSession {
	return &outputSession{encoder: protocol.NewEncoder()}
}

// NewOutput validates the configuration and binds the publisher
func NewOutput(config OutputConfig) (*Output, error) {
	config.applyDefaults()
	if err := errors.Join(ValidatePort(config.Port), ValidateTransport(config.Transport)); err != nil {
		return nil, err
	}

	o := &Output{
		config:  config,
		logger:  config.Logger.With("component", "falcon-output"),
		session: newOutputSession(),
	}

	if err := o.bind(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Output) bind() error {
	c := o.config

	var (
		pub transport.Publisher
		err error
	)
	switch {
	case c.Bind != nil:
		pub, err = c.Bind(c)
	case c.Transport == transport.WebSocket:
		var p *websocket.Publisher
		p, err = websocket.Bind(websocket.Config{Port: c.Port, QueueSize: c.QueueSize, Logger: o.logger})
		if err == nil {
			pub = p
		}
	case c.Transport == transport.NATS:
		var p *natsbus.Publisher
		p, err = natsbus.NewPublisher(natsbus.Config{URL: c.NATSURL, Subject: natsbus.SubjectForPort(c.Port), Logger: o.logger})
		if err == nil {
			pub = p
		}
	case c.Transport == transport.Memory:
		if c.Bus == nil {
			err = fmt.Errorf("%w: memory transport has no bus", transport.ErrConnect)
		} else {
			pub = c.Bus.Publisher()
		}
	default:
		err = fmt.Errorf("%w: unknown transport %q", transport.ErrConnect, c.Transport)
	}

	if err != nil {
		o.logger.Error("bind failed", "port", c.Port, "transport", c.Transport, "error", err)
		if !errors.Is(err, transport.ErrConnect) {
			err = fmt.Errorf("%w: %w", transport.ErrConnect, err)
		}
		return err
	}

	o.pub = pub
	o.logger.Info("publishing", "port", c.Port, "transport", c.Transport, "stream", c.Stream)
	return nil
}

func (o *Output) closePublisher() {
	if o.pub == nil {
		return
	}
	if err := o.pub.Close(); err != nil {
		o.logger.Debug("publisher close error", "error", err)
	}
	o.pub = nil
}

// Config returns a copy of the current configuration
func (o *Output) Config() OutputConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.config
}

// Publisher returns the active publisher, nil after a failed bind
func (o *Output) Publisher() transport.Publisher {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pub
}

// StartAcquisition clears the held event code and restarts the message
// sequence. After a failed bind it is also where the bind is retried.
func (o *Output) StartAcquisition() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.session = newOutputSession()
	o.pending = nil

	if o.pub == nil {
		if err := o.bind(); err != nil {
			return err
		}
	}
	o.logger.Info("acquisition started", "stream", o.config.Stream)
	return nil
}

// SetPort closes the publisher and binds a new one on port.
// An invalid port is rejected and the current publisher is kept.
func (o *Output) SetPort(port int) error {
	if err := ValidatePort(port); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.closePublisher()
	o.config.Port = port
	o.session.sequence = 0
	return o.bind()
}

// SetStream changes the stream name carried by subsequent messages
func (o *Output) SetStream(stream string) error {
	if stream == "" {
		return fmt.Errorf("%w: stream name is empty", ErrConfigOutOfRange)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.config.Stream = stream
	return nil
}

// SetChannels changes the channel selection, empty selects every channel
func (o *Output) SetChannels(channels []int) error {
	for _, ch := range channels {
		if ch < 0 {
			return fmt.Errorf("%w: channel index %d", ErrConfigOutOfRange, ch)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.config.Channels = append([]int(nil), channels...)
	return nil
}

// Event queues a line transition for the next processed block
func (o *Output) Event(line int, high bool, offset int) error {
	if line < 0 || line >= protocol.EventLines {
		o.rejectedEvents.Add(1)
		return fmt.Errorf("%w: %d", protocol.ErrLineOutOfRange, line)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, TTLEvent{Line: line, High: high, Offset: offset})
	return nil
}

// Process publishes one host block. Blocks without samples or without
// selected channels are skipped. Publish failures are logged and counted.
// While unbound, blocks are counted and dropped; only SetPort or
// StartAcquisition bind again.
func (o *Output) Process(block HostBlock) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	events := append(o.pending, block.Events...)
	o.pending = nil

	n := block.NumSamples
	if n <= 0 {
		return nil
	}

	s := o.session
	codes := make([]uint16, n)
	for _, ev := range events {
		if err := s.accumulator.Transition(codes, ev.Line, ev.High, ev.Offset); err != nil {
			o.rejectedEvents.Add(1)
			o.logger.Debug("event rejected", "line", ev.Line, "offset", ev.Offset, "error", err)
		}
	}
	s.accumulator.Seal(codes)

	// Line state keeps tracking while unbound
	if o.pub == nil {
		o.unbound.Add(1)
		return nil
	}

	channels := o.selectChannels(block.Channels)
	if len(channels) == 0 {
		return nil
	}

	buf, err := s.encoder.EncodeN(channels, n, protocol.Header{
		Stream:            o.config.Stream,
		FirstSampleNumber: block.FirstSampleNumber,
		Timestamp:         protocol.Now(),
		SampleRate:        block.SampleRate,
		Sequence:          s.sequence + 1,
		EventCodes:        codes,
	})
	if err != nil {
		o.encodeErrors.Add(1)
		return fmt.Errorf("encode block: %w", err)
	}
	s.sequence++

	if err := o.pub.Publish(buf); err != nil {
		o.publishErrors.Add(1)
		o.logger.Warn("publish failed", "sequence", s.sequence, "error", err)
		return nil
	}

	o.published.Add(1)
	o.samples.Add(uint64(n))
	return nil
}

func (o *Output) selectChannels(all [][]float32) [][]float32 {
	if len(o.config.Channels) == 0 {
		return all
	}

	selected := make([][]float32, 0, len(o.config.Channels))
	for _, ch := range o.config.Channels {
		if ch < len(all) {
			selected = append(selected, all[ch])
		}
	}
	return selected
}

// Stats returns a snapshot of the producer counters
func (o *Output) Stats() OutputStats {
	o.mu.Lock()
	seq := o.session.sequence
	o.mu.Unlock()

	return OutputStats{
		Published:      o.published.Load(),
		PublishErrors:  o.publishErrors.Load(),
		EncodeErrors:   o.encodeErrors.Load(),
		RejectedEvents: o.rejectedEvents.Load(),
		Unbound:        o.unbound.Load(),
		Samples:        o.samples.Load(),
		Sequence:       seq,
	}
}

// TransportStats returns the publisher's own counters when it keeps any
func (o *Output) TransportStats() (transport.Stats, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if sp, ok := o.pub.(statsProvider); ok {
		return sp.Stats(), true
	}
	return transport.Stats{}, false
}

// Close releases the publisher
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closePublisher()
	return nil
}
