// ABOUTME: mDNS discovery for Falcon producers
// ABOUTME: Producers advertise _falcon._tcp; receivers browse for them
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/open-ephys-plugins/falcon-output/internal/version"
)

// ServiceType is the mDNS service type of a Falcon producer
const ServiceType = "_falcon._tcp"

// Config holds discovery configuration
type Config struct {
	// ServiceName is the instance name, usually the stream name
	ServiceName string

	// Port the producer publishes on
	Port int

	// Path and Transport are advertised as TXT records
	Path      string
	Transport string

	// BrowseTimeout is the length of one query round (default: 3s)
	BrowseTimeout time.Duration

	Logger *slog.Logger
}

// Manager handles mDNS operations
type Manager struct {
	config    Config
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	producers chan *ProducerInfo
}

// ProducerInfo describes a discovered producer
type ProducerInfo struct {
	Name      string
	Host      string
	Port      int
	Path      string
	Transport string
	Version   string
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = 3 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:    config,
		logger:    config.Logger.With("component", "discovery"),
		ctx:       ctx,
		cancel:    cancel,
		producers: make(chan *ProducerInfo, 10),
	}
}

// TXT returns the TXT records advertised for this producer
func (m *Manager) TXT() []string {
	var txt []string
	if m.config.Path != "" {
		txt = append(txt, "path="+m.config.Path)
	}
	if m.config.Transport != "" {
		txt = append(txt, "transport="+m.config.Transport)
	}
	return append(txt, "product="+version.Product, "version="+version.Version)
}

// Advertise announces the producer until Stop is called
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		m.TXT(),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.logger.Info("advertising", "name", m.config.ServiceName, "port", m.config.Port, "type", ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for producers until Stop is called
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				info := producerFromEntry(entry)
				if info == nil {
					continue
				}

				m.logger.Info("discovered producer", "name", info.Name, "host", info.Host, "port", info.Port)

				select {
				case m.producers <- info:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := &mdns.QueryParam{
			Service:     ServiceType,
			Domain:      "local",
			Timeout:     m.config.BrowseTimeout,
			Entries:     entries,
			DisableIPv6: true,
		}

		if err := mdns.Query(params); err != nil {
			m.logger.Debug("mdns query failed", "error", err)
		}
		close(entries)
	}
}

func producerFromEntry(entry *mdns.ServiceEntry) *ProducerInfo {
	if entry == nil || entry.AddrV4 == nil {
		return nil
	}

	info := &ProducerInfo{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Host: entry.AddrV4.String(),
		Port: entry.Port,
	}
	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "path":
			info.Path = value
		case "transport":
			info.Transport = value
		case "version":
			info.Version = value
		}
	}
	return info
}

// Producers returns the channel of discovered producers
func (m *Manager) Producers() <-chan *ProducerInfo {
	return m.producers
}

// First browses until a producer is found or ctx is done
func (m *Manager) First(ctx context.Context) (*ProducerInfo, error) {
	if err := m.Browse(); err != nil {
		return nil, err
	}

	select {
	case info := <-m.producers:
		return info, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no producer found: %w", ctx.Err())
	}
}

// Stop stops advertising and browsing
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
