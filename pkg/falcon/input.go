// ABOUTME: Falcon receiver: polls a subscriber and rebuilds sample blocks
// ABOUTME: Owns connection state, the receive loop and its config snapshot
package falcon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/open-ephys-plugins/falcon-output/pkg/protocol"
	"github.com/open-ephys-plugins/falcon-output/pkg/transport"
	"github.com/open-ephys-plugins/falcon-output/pkg/transport/memory"
	"github.com/open-ephys-plugins/falcon-output/pkg/transport/natsbus"
	"github.com/open-ephys-plugins/falcon-output/pkg/transport/websocket"
)

const (
	// DefaultPollInterval is the receive loop tick
	DefaultPollInterval = time.Millisecond

	// StopTimeout bounds how long Stop waits for the loop to exit
	StopTimeout = 500 * time.Millisecond

	// EventChannelLines is the number of TTL lines exposed by the event channel
	EventChannelLines = protocol.EventLines
)

// ErrLoopStillRunning is returned while a receive loop that missed the stop
// deadline has not exited yet
var ErrLoopStillRunning = errors.New("previous receive loop has not exited")

// DialFunc creates the subscriber for a configuration
type DialFunc func(ctx context.Context, config InputConfig) (transport.Subscriber, error)

// InputConfig configures an Input
type InputConfig struct {
	// Address of the producer (default: 127.0.0.1)
	Address string

	// Port of the producer (default: 3335)
	Port int

	// ChannelCount is the receiver channel count (default: 16)
	ChannelCount int

	// SampleRate is the nominal rate reported to the host (default: 40000)
	SampleRate float64

	// Transport is one of "ws", "nats" or "memory" (default: "ws")
	Transport string

	// NATSURL overrides the NATS server; defaults to nats://Address:4222
	NATSURL string

	// Bus is required by the memory transport
	Bus *memory.Bus

	// PollInterval is the receive loop tick (default: 1ms)
	PollInterval time.Duration

	// QueueSize is the inbound message queue depth (default: 64)
	QueueSize int

	// Dial replaces the built-in transports when set
	Dial DialFunc

	Logger *slog.Logger
}

func (c *InputConfig) applyDefaults() {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ChannelCount == 0 {
		c.ChannelCount = DefaultChannelCount
	}
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Transport == "" {
		c.Transport = transport.WebSocket
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = websocket.DefaultQueueSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func (c InputConfig) validate() error {
	return errors.Join(
		ValidateAddress(c.Address),
		ValidatePort(c.Port),
		ValidateChannelCount(c.ChannelCount),
		ValidateSampleRate(c.SampleRate),
		ValidateTransport(c.Transport),
	)
}

// Endpoint returns the producer endpoint in host:port form
func (c InputConfig) Endpoint() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// ChannelInfo describes one continuous channel exposed to the host
type ChannelInfo struct {
	Name        string
	Description string
	BitVolts    float64
}

// InputStats counts receive loop activity
type InputStats struct {
	Received      uint64
	Decoded       uint64
	Malformed     uint64
	ShapeMismatch uint64
	Empty         uint64
	Samples       uint64
	LastLatency   float64
	LastMessageID uint64
}

// Input is the receiving end of a Falcon stream
type Input struct {
	mu        sync.Mutex
	config    InputConfig
	logger    *slog.Logger
	sub       transport.Subscriber
	connected bool
	running   bool

	session *inputSession
	cancel  context.CancelFunc
	done    chan struct{}

	received  atomic.Uint64
	decoded   atomic.Uint64
	malformed atomic.Uint64
	mismatch  atomic.Uint64
	empty     atomic.Uint64
	samples   atomic.Uint64
	latency   atomic.Uint64 // float64 bits
	lastID    atomic.Uint64
}

// inputSession is the state owned by one acquisition run
type inputSession struct {
	config  InputConfig
	decoder *protocol.Decoder
	sub     transport.Subscriber
	sink    Sink
}

// NewInput validates the configuration and creates a disconnected Input
func NewInput(config InputConfig) (*Input, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	return &Input{
		config: config,
		logger: config.Logger.With("component", "falcon-input"),
	}, nil
}

// Config returns a copy of the current configuration
func (in *Input) Config() InputConfig {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.config
}

// Connect tears down any existing subscriber and creates a new one.
// On failure the Input is marked disconnected and no retry is attempted.
func (in *Input) Connect() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running {
		return ErrAcquisitionRunning
	}
	if in.lingering() {
		return ErrLoopStillRunning
	}

	in.closeSubscriber()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := in.dial(ctx)
	if err != nil {
		in.connected = false
		in.logger.Error("connect failed", "endpoint", in.config.Endpoint(), "transport", in.config.Transport, "error", err)
		if !errors.Is(err, transport.ErrConnect) {
			err = fmt.Errorf("%w: %w", transport.ErrConnect, err)
		}
		return err
	}

	in.sub = sub
	in.connected = true
	in.logger.Info("connected", "endpoint", in.config.Endpoint(), "transport", in.config.Transport)
	return nil
}

func (in *Input) dial(ctx context.Context) (transport.Subscriber, error) {
	c := in.config
	if c.Dial != nil {
		return c.Dial(ctx, c)
	}

	switch c.Transport {
	case transport.WebSocket:
		return websocket.Dial(ctx, websocket.DialConfig{
			Address:   c.Address,
			Port:      c.Port,
			QueueSize: c.QueueSize,
			Logger:    in.logger,
		})
	case transport.NATS:
		url := c.NATSURL
		if url == "" {
			url = "nats://" + net.JoinHostPort(c.Address, "4222")
		}
		return natsbus.NewSubscriber(natsbus.Config{
			URL:       url,
			Subject:   natsbus.SubjectForPort(c.Port),
			QueueSize: c.QueueSize,
			Logger:    in.logger,
		})
	case transport.Memory:
		if c.Bus == nil {
			return nil, fmt.Errorf("%w: memory transport has no bus", transport.ErrConnect)
		}
		return c.Bus.Subscribe(c.QueueSize)
	}
	return nil, fmt.Errorf("%w: unknown transport %q", transport.ErrConnect, c.Transport)
}

// IsConnected reports whether the last Connect succeeded
func (in *Input) IsConnected() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.connected
}

// IsRunning reports whether the receive loop is active
func (in *Input) IsRunning() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.running
}

// Start snapshots the configuration, resets the running sample counter and
// launches the receive loop. Starting while disconnected is allowed; the
// loop then yields nothing for the whole run.
func (in *Input) Start(sink Sink) error {
	if sink == nil {
		return errors.New("sink is required")
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running {
		return ErrAcquisitionRunning
	}
	if in.lingering() {
		return ErrLoopStillRunning
	}
	if !in.connected {
		in.logger.Warn("starting acquisition without a connection", "endpoint", in.config.Endpoint())
	}

	session := &inputSession{
		config:  in.config,
		decoder: protocol.NewDecoder(in.config.ChannelCount),
		sub:     in.sub,
		sink:    sink,
	}

	ctx, cancel := context.WithCancel(context.Background())
	in.session = session
	in.cancel = cancel
	in.done = make(chan struct{})
	in.running = true

	go in.receiveLoop(ctx, session, in.done)

	in.logger.Info("acquisition started",
		"channels", session.config.ChannelCount,
		"sample_rate", session.config.SampleRate,
		"poll", session.config.PollInterval)
	return nil
}

// Stop signals the receive loop and waits up to StopTimeout for it to exit.
// A sink implementing Clearer is cleared afterwards. When the loop misses
// the deadline the sink is left alone, and Start and Connect return
// ErrLoopStillRunning until the loop has exited.
func (in *Input) Stop() error {
	in.mu.Lock()
	if !in.running {
		in.mu.Unlock()
		return nil
	}
	cancel := in.cancel
	done := in.done
	session := in.session
	in.mu.Unlock()

	cancel()

	exited := true
	select {
	case <-done:
	case <-time.After(StopTimeout):
		exited = false
		in.logger.Warn("receive loop did not stop in time", "timeout", StopTimeout)
	}

	if exited {
		if c, ok := session.sink.(Clearer); ok {
			c.Clear()
		}
	}

	in.mu.Lock()
	in.running = false
	in.session = nil
	in.cancel = nil
	if exited {
		in.done = nil
	}
	in.mu.Unlock()

	if !exited {
		return ErrLoopStillRunning
	}
	in.logger.Info("acquisition stopped", "samples", session.decoder.TotalSamples())
	return nil
}

// lingering reports whether a stopped loop is still running. Callers hold mu.
func (in *Input) lingering() bool {
	if in.done == nil {
		return false
	}
	select {
	case <-in.done:
		in.done = nil
		return false
	default:
		return true
	}
}

// Close stops acquisition and releases the subscriber. A loop that missed
// the stop deadline keeps its subscriber until it exits.
func (in *Input) Close() error {
	err := in.Stop()

	in.mu.Lock()
	defer in.mu.Unlock()

	if in.lingering() && in.sub != nil {
		sub, done, logger := in.sub, in.done, in.logger
		in.sub = nil
		in.connected = false
		go func() {
			<-done
			if err := sub.Close(); err != nil {
				logger.Debug("subscriber close error", "error", err)
			}
		}()
		return err
	}

	in.closeSubscriber()
	return err
}

func (in *Input) closeSubscriber() {
	if in.sub != nil {
		if err := in.sub.Close(); err != nil {
			in.logger.Debug("subscriber close error", "error", err)
		}
		in.sub = nil
	}
	in.connected = false
}

func (in *Input) receiveLoop(ctx context.Context, s *inputSession, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in.poll(s)
		}
	}
}

// poll handles at most one message
func (in *Input) poll(s *inputSession) {
	if s.sub == nil {
		return
	}

	buf, ok := s.sub.TryReceive()
	if !ok {
		return
	}
	in.received.Add(1)

	block, err := s.decoder.Decode(buf)
	if err != nil {
		in.malformed.Add(1)
		in.logger.Debug("skipping malformed message", "bytes", len(buf), "error", err)
		return
	}
	if block.NumSamples == 0 {
		in.empty.Add(1)
		return
	}
	if block.ShapeMismatch {
		in.mismatch.Add(1)
		in.logger.Debug("shape mismatch",
			"message_channels", block.SourceChannels,
			"receiver_channels", s.config.ChannelCount,
			"samples", block.NumSamples)
	}

	in.decoded.Add(1)
	in.samples.Add(uint64(block.NumSamples))
	in.lastID.Store(block.MessageID)
	if block.SentAt > 0 {
		in.latency.Store(math.Float64bits(block.Latency(protocol.Now())))
	}

	s.sink.AddToBuffer(block)
}

// Stats returns a snapshot of the receive counters
func (in *Input) Stats() InputStats {
	return InputStats{
		Received:      in.received.Load(),
		Decoded:       in.decoded.Load(),
		Malformed:     in.malformed.Load(),
		ShapeMismatch: in.mismatch.Load(),
		Empty:         in.empty.Load(),
		Samples:       in.samples.Load(),
		LastLatency:   math.Float64frombits(in.latency.Load()),
		LastMessageID: in.lastID.Load(),
	}
}

// TransportStats returns the subscriber's own counters when it keeps any
func (in *Input) TransportStats() (transport.Stats, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if sp, ok := in.sub.(statsProvider); ok {
		return sp.Stats(), true
	}
	return transport.Stats{}, false
}

// Channels describes the continuous channels exposed to the host
func (in *Input) Channels() []ChannelInfo {
	in.mu.Lock()
	n := in.config.ChannelCount
	in.mu.Unlock()

	channels := make([]ChannelInfo, n)
	for i := range channels {
		channels[i] = ChannelInfo{
			Name:        fmt.Sprintf("CH%d", i+1),
			Description: "Continuous data streamed from a Falcon Output",
			BitVolts:    0.195,
		}
	}
	return channels
}

// SetAddress changes the producer address; call Connect to apply it
func (in *Input) SetAddress(address string) error {
	return in.update(ValidateAddress(address), func(c *InputConfig) { c.Address = address })
}

// SetPort changes the producer port; call Connect to apply it
func (in *Input) SetPort(port int) error {
	return in.update(ValidatePort(port), func(c *InputConfig) { c.Port = port })
}

// SetChannelCount changes the receiver channel count for the next Start
func (in *Input) SetChannelCount(n int) error {
	return in.update(ValidateChannelCount(n), func(c *InputConfig) { c.ChannelCount = n })
}

// SetSampleRate changes the reported sample rate for the next Start
func (in *Input) SetSampleRate(rate float64) error {
	return in.update(ValidateSampleRate(rate), func(c *InputConfig) { c.SampleRate = rate })
}

// update applies a validated change; rejected values leave the config untouched
func (in *Input) update(validation error, apply func(*InputConfig)) error {
	if validation != nil {
		return validation
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running {
		return ErrAcquisitionRunning
	}
	apply(&in.config)
	return nil
}
