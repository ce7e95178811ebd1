// ABOUTME: WebSocket publisher that fans binary messages out to subscribers
// ABOUTME: Each subscriber has a bounded queue; full queues drop messages
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/open-ephys-plugins/falcon-output/pkg/transport"
)

const (
	// DefaultPath is the HTTP path subscribers connect to
	DefaultPath = "/falcon"

	// DefaultQueueSize is the per-subscriber queue depth in messages
	DefaultQueueSize = 64

	pingInterval = 30 * time.Second
)

// Config configures a Publisher
type Config struct {
	// Port to bind on all interfaces, 0 picks a free port
	Port int

	// Path of the WebSocket endpoint (default: /falcon)
	Path string

	// QueueSize is the outbound queue per subscriber (default: 64)
	QueueSize int

	// WriteTimeout bounds a single write (default: 10s)
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// Publisher serves a WebSocket endpoint and broadcasts every published
// message as one binary frame
type Publisher struct {
	config   Config
	logger   *slog.Logger
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader

	clients   map[string]*client
	clientsMu sync.RWMutex
	closed    bool

	sent    atomic.Uint64
	dropped atomic.Uint64

	closeOnce sync.Once
	wg        sync.WaitGroup
}

type client struct {
	id       string
	conn     *websocket.Conn
	sendChan chan []byte
}

// Bind listens on the configured port and starts serving subscribers
func Bind(config Config) (*Publisher, error) {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", config.Port))
	if err != nil {
		return nil, fmt.Errorf("%w: bind port %d: %w", transport.ErrConnect, config.Port, err)
	}

	p := &Publisher{
		config:   config,
		logger:   logger,
		listener: listener,
		clients:  make(map[string]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(config.Path, p.handleWebSocket)
	p.server = &http.Server{Handler: mux}

	go func() {
		if err := p.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("websocket server stopped", "error", err)
		}
	}()

	logger.Info("publisher bound", "addr", listener.Addr().String(), "path", config.Path)
	return p, nil
}

// Addr returns the bound listener address
func (p *Publisher) Addr() net.Addr {
	return p.listener.Addr()
}

// Port returns the bound TCP port
func (p *Publisher) Port() int {
	if addr, ok := p.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return p.config.Port
}

// Subscribers returns the number of connected subscribers
func (p *Publisher) Subscribers() int {
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	return len(p.clients)
}

// Stats returns publish counters; Sent counts per-subscriber enqueues
func (p *Publisher) Stats() transport.Stats {
	return transport.Stats{
		Sent:    p.sent.Load(),
		Dropped: p.dropped.Load(),
	}
}

// Publish enqueues buf for every subscriber without waiting.
// Subscribers whose queue is full miss this message.
func (p *Publisher) Publish(buf []byte) error {
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()

	if p.closed {
		return transport.ErrClosed
	}

	for _, c := range p.clients {
		select {
		case c.sendChan <- buf:
			p.sent.Add(1)
		default:
			p.dropped.Add(1)
		}
	}
	return nil
}

// Close stops serving and disconnects every subscriber
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.clientsMu.Lock()
		p.closed = true
		for _, c := range p.clients {
			c.conn.Close()
		}
		p.clientsMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if shutdownErr := p.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("shutdown: %w", shutdownErr)
			p.server.Close()
		}

		p.wg.Wait()
		p.logger.Info("publisher closed", "port", p.Port())
	})
	return err
}

func (p *Publisher) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:       uuid.New().String(),
		conn:     conn,
		sendChan: make(chan []byte, p.config.QueueSize),
	}

	p.clientsMu.Lock()
	if p.closed {
		p.clientsMu.Unlock()
		conn.Close()
		return
	}
	p.clients[c.id] = c
	p.wg.Add(1)
	p.clientsMu.Unlock()

	p.logger.Info("subscriber connected", "id", c.id, "remote", r.RemoteAddr)

	go func() {
		defer p.wg.Done()
		p.clientWriter(c)
	}()

	// Subscribers never send data; reading keeps control frames flowing
	// and notices disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Debug("subscriber read error", "id", c.id, "error", err)
			}
			break
		}
	}

	p.removeClient(c)
	conn.Close()
	p.logger.Info("subscriber disconnected", "id", c.id)
}

func (p *Publisher) clientWriter(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.sendChan:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				c.conn.Close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.config.WriteTimeout)); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

func (p *Publisher) removeClient(c *client) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()

	if _, ok := p.clients[c.id]; !ok {
		return
	}
	delete(p.clients, c.id)
	close(c.sendChan)
}

var _ transport.Publisher = (*Publisher)(nil)
