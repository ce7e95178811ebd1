// ABOUTME: Core NATS transport for Falcon messages
// ABOUTME: One subject per stream; slow subscribers drop instead of blocking
package natsbus

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/open-ephys-plugins/falcon-output/pkg/transport"
)

// DefaultQueueSize is the subscriber channel depth in messages
const DefaultQueueSize = 64

// SubjectForPort maps a Falcon port onto a NATS subject, so several
// producers can share one server the way they share a host
func SubjectForPort(port int) string {
	return fmt.Sprintf("falcon.%d", port)
}

// Config configures both ends of the NATS transport
type Config struct {
	// URL of the NATS server (default: nats.DefaultURL)
	URL string

	// Subject carrying the messages
	Subject string

	// QueueSize is the subscriber channel depth (default: 64)
	QueueSize int

	// Timeout bounds the initial connect (default: 2s)
	Timeout time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func connect(config Config, name string) (*nats.Conn, error) {
	logger := config.Logger
	conn, err := nats.Connect(config.URL,
		nats.Name(name),
		nats.Timeout(config.Timeout),
		nats.MaxReconnects(0),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Debug("nats async error", "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: nats %s: %w", transport.ErrConnect, config.URL, err)
	}
	return conn, nil
}

// Publisher publishes each message on one subject
type Publisher struct {
	conn    *nats.Conn
	subject string
	sent    atomic.Uint64
	once    sync.Once
}

// NewPublisher connects to the NATS server
func NewPublisher(config Config) (*Publisher, error) {
	config.applyDefaults()
	if config.Subject == "" {
		return nil, fmt.Errorf("%w: subject is required", transport.ErrConnect)
	}

	conn, err := connect(config, "falcon-output")
	if err != nil {
		return nil, err
	}

	config.Logger.Info("nats publisher connected", "url", config.URL, "subject", config.Subject)
	return &Publisher{conn: conn, subject: config.Subject}, nil
}

// Publish hands buf to the client's outbound buffer
func (p *Publisher) Publish(buf []byte) error {
	if p.conn.IsClosed() {
		return transport.ErrClosed
	}
	if err := p.conn.Publish(p.subject, buf); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	p.sent.Add(1)
	return nil
}

// Stats returns publish counters
func (p *Publisher) Stats() transport.Stats {
	return transport.Stats{Sent: p.sent.Load()}
}

// Close flushes briefly and disconnects
func (p *Publisher) Close() error {
	p.once.Do(func() {
		p.conn.FlushTimeout(100 * time.Millisecond)
		p.conn.Close()
	})
	return nil
}

// Subscriber receives messages from one subject into a bounded channel
type Subscriber struct {
	conn  *nats.Conn
	sub   *nats.Subscription
	inbox chan *nats.Msg
	once  sync.Once
}

// NewSubscriber connects and subscribes
func NewSubscriber(config Config) (*Subscriber, error) {
	config.applyDefaults()
	if config.Subject == "" {
		return nil, fmt.Errorf("%w: subject is required", transport.ErrConnect)
	}

	conn, err := connect(config, "falcon-input")
	if err != nil {
		return nil, err
	}

	inbox := make(chan *nats.Msg, config.QueueSize)
	sub, err := conn.ChanSubscribe(config.Subject, inbox)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %w", transport.ErrConnect, config.Subject, err)
	}
	if err := conn.Flush(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: flush: %w", transport.ErrConnect, err)
	}

	config.Logger.Info("nats subscriber connected", "url", config.URL, "subject", config.Subject)
	return &Subscriber{conn: conn, sub: sub, inbox: inbox}, nil
}

// TryReceive returns the oldest queued message without waiting
func (s *Subscriber) TryReceive() ([]byte, bool) {
	select {
	case msg := <-s.inbox:
		return msg.Data, true
	default:
		return nil, false
	}
}

// Dropped returns the number of messages NATS discarded for this subscriber
func (s *Subscriber) Dropped() uint64 {
	n, err := s.sub.Dropped()
	if err != nil || n < 0 {
		return 0
	}
	return uint64(n)
}

// Close unsubscribes and disconnects
func (s *Subscriber) Close() error {
	var err error
	s.once.Do(func() {
		err = s.sub.Unsubscribe()
		s.conn.Close()
	})
	return err
}

var (
	_ transport.Publisher  = (*Publisher)(nil)
	_ transport.Subscriber = (*Subscriber)(nil)
)
