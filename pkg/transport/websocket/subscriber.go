// ABOUTME: WebSocket subscriber with a bounded inbound queue
// ABOUTME: A reader goroutine fills the queue; TryReceive never blocks
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/open-ephys-plugins/falcon-output/pkg/transport"
)

// DialConfig configures a Subscriber
type DialConfig struct {
	// Address is the producer host name or IP
	Address string

	// Port is the producer port
	Port int

	// Path of the WebSocket endpoint (default: /falcon)
	Path string

	// QueueSize is the inbound queue depth in messages (default: 64)
	QueueSize int

	// HandshakeTimeout bounds the connection attempt (default: 2s)
	HandshakeTimeout time.Duration

	Logger *slog.Logger
}

// Subscriber receives binary frames from a Publisher
type Subscriber struct {
	conn   *websocket.Conn
	inbox  chan []byte
	logger *slog.Logger

	received atomic.Uint64
	dropped  atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to ws://address:port/path
func Dial(ctx context.Context, config DialConfig) (*Subscriber, error) {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 2 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(config.Address, strconv.Itoa(config.Port)),
		Path:   config.Path,
	}

	dialer := websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", transport.ErrConnect, u.String(), err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		conn:   conn,
		inbox:  make(chan []byte, config.QueueSize),
		logger: logger,
		ctx:    subCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.readMessages()

	logger.Info("subscriber connected", "url", u.String())
	return s, nil
}

func (s *Subscriber) readMessages() {
	defer close(s.done)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.ctx.Done():
			default:
				s.logger.Warn("subscriber read error", "error", err)
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		s.received.Add(1)
		select {
		case s.inbox <- data:
		default:
			s.dropped.Add(1)
		}
	}
}

// TryReceive returns the oldest queued message without waiting
func (s *Subscriber) TryReceive() ([]byte, bool) {
	select {
	case msg := <-s.inbox:
		return msg, true
	default:
		return nil, false
	}
}

// Connected reports whether the reader is still running
func (s *Subscriber) Connected() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Stats returns receive counters
func (s *Subscriber) Stats() transport.Stats {
	return transport.Stats{
		Received: s.received.Load(),
		Dropped:  s.dropped.Load(),
	}
}

// Close disconnects and waits briefly for the reader to exit
func (s *Subscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(100*time.Millisecond))
		err = s.conn.Close()

		select {
		case <-s.done:
		case <-time.After(time.Second):
		}
	})
	return err
}

var _ transport.Subscriber = (*Subscriber)(nil)
