// ABOUTME: Entry point for the Falcon receiver
// ABOUTME: Parses CLI flags, connects an Input and shows its status
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/open-ephys-plugins/falcon-output/internal/discovery"
	"github.com/open-ephys-plugins/falcon-output/internal/logging"
	"github.com/open-ephys-plugins/falcon-output/internal/metrics"
	"github.com/open-ephys-plugins/falcon-output/internal/ringbuffer"
	"github.com/open-ephys-plugins/falcon-output/internal/settings"
	"github.com/open-ephys-plugins/falcon-output/internal/ui"
	"github.com/open-ephys-plugins/falcon-output/internal/version"
	"github.com/open-ephys-plugins/falcon-output/pkg/falcon"
	"github.com/open-ephys-plugins/falcon-output/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type inputOptions struct {
	address      string
	port         int
	channels     int
	sampleRate   float64
	transport    string
	natsURL      string
	settingsPath string
	saveSettings bool
	discover     bool
	poll         time.Duration
	bufferSecs   float64
	drainEvery   time.Duration
	metricsAddr  string
	logFile      string
	debug        bool
	noTUI        bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &inputOptions{}

	cmd := &cobra.Command{
		Use:   "falcon-input",
		Short: "Receive a Falcon continuous data stream",
		Long: `falcon-input connects to a Falcon producer, decodes every message into
a sample block and buffers it the way a host acquisition source would.

Settings can be loaded from a YAML file or the host's <PARAMETERS/> XML
element; flags given on the command line take precedence.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInput(cmd, opts)
		},
	}

	cmd.SetVersionTemplate("{{.Name}} {{.Version}} (" + version.Product + ", " + version.Manufacturer + ")\n")

	f := cmd.Flags()
	f.StringVar(&opts.address, "address", falcon.DefaultAddress, "Producer address")
	f.IntVar(&opts.port, "port", falcon.DefaultPort, "Producer port")
	f.IntVar(&opts.channels, "channels", falcon.DefaultChannelCount, "Number of channels to reconstruct")
	f.Float64Var(&opts.sampleRate, "fs", falcon.DefaultSampleRate, "Sample rate in Hz")
	f.StringVar(&opts.transport, "transport", transport.WebSocket, "Transport: ws or nats")
	f.StringVar(&opts.natsURL, "nats-url", "", "NATS server URL (default: nats://<address>:4222)")
	f.StringVar(&opts.settingsPath, "settings", "", "Settings file (.yaml, .yml or .xml)")
	f.BoolVar(&opts.saveSettings, "save-settings", false, "Write the final settings back to --settings on exit")
	f.BoolVar(&opts.discover, "discover", false, "Find the producer over mDNS")
	f.DurationVar(&opts.poll, "poll", falcon.DefaultPollInterval, "Receive loop poll interval")
	f.Float64Var(&opts.bufferSecs, "buffer", 10, "Host buffer length in seconds")
	f.DurationVar(&opts.drainEvery, "drain", 100*time.Millisecond, "Interval at which the host buffer is consumed")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	f.StringVar(&opts.logFile, "log-file", "falcon-input.log", "Log file path")
	f.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	f.BoolVar(&opts.noTUI, "no-tui", false, "Disable TUI, stream logs instead")

	return cmd
}

// resolveSettings merges the settings file with flags set on the command line
func resolveSettings(cmd *cobra.Command, opts *inputOptions) (settings.Settings, error) {
	s := settings.Default()
	if opts.settingsPath != "" {
		loaded, err := settings.Load(opts.settingsPath, slog.Default())
		if err != nil {
			return s, err
		}
		s = loaded
	}

	f := cmd.Flags()
	if opts.settingsPath == "" || f.Changed("address") {
		s.Address = opts.address
	}
	if opts.settingsPath == "" || f.Changed("port") {
		s.Port = opts.port
	}
	if opts.settingsPath == "" || f.Changed("channels") {
		s.ChannelCount = opts.channels
	}
	if opts.settingsPath == "" || f.Changed("fs") {
		s.SampleRate = opts.sampleRate
	}
	return s, nil
}

func runInput(cmd *cobra.Command, opts *inputOptions) error {
	useTUI := !opts.noTUI

	level := "info"
	if opts.debug {
		level = "debug"
	}
	logger, logCloser, err := logging.Setup(logging.Options{
		Level:   level,
		File:    opts.logFile,
		Console: !useTUI,
		Service: "falcon-input",
	})
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	s, err := resolveSettings(cmd, opts)
	if err != nil {
		return err
	}

	if opts.discover {
		if err := discoverProducer(&s, opts); err != nil {
			return err
		}
	}

	in, err := falcon.NewInput(s.InputConfig(falcon.InputConfig{
		Transport:    opts.transport,
		NATSURL:      opts.natsURL,
		PollInterval: opts.poll,
		Logger:       logger,
	}))
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	registry := prometheus.NewRegistry()
	if err := metrics.RegisterInput(registry, in); err != nil {
		return err
	}

	buffer := ringbuffer.New(s.ChannelCount, int(opts.bufferSecs*s.SampleRate))
	sink, err := metrics.NewLatencySink(registry, buffer)
	if err != nil {
		return err
	}

	if opts.metricsAddr != "" {
		srv, err := metrics.Serve(opts.metricsAddr, registry)
		if err != nil {
			return err
		}
		defer func() { _ = srv.Close() }()
	}

	if err := in.Connect(); err != nil {
		logger.Warn("producer not reachable, acquisition will be idle until reconnect", "error", err)
	}
	if err := in.Start(sink); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go drainLoop(ctx, buffer, opts.drainEvery)

	var tui *ui.TUI
	if useTUI {
		tui = ui.New()
		go statusLoop(ctx, in, buffer, opts.transport, tui.Update)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if tui != nil {
		tuiDone := make(chan error, 1)
		go func() { tuiDone <- tui.Run() }()
		waitForQuit(in, sink, tui, tuiDone, sigChan)
	} else {
		<-sigChan
		slog.Info("shutdown signal received")
	}

	if err := in.Stop(); err != nil {
		slog.Warn("stop failed", "error", err)
	}

	stats := in.Stats()
	slog.Info("receiver stopped",
		"received", stats.Received,
		"decoded", stats.Decoded,
		"malformed", stats.Malformed,
		"shape_mismatch", stats.ShapeMismatch,
		"samples", stats.Samples)

	if opts.saveSettings && opts.settingsPath != "" {
		if err := settings.Save(opts.settingsPath, settings.FromInput(in.Config())); err != nil {
			return err
		}
		slog.Info("settings saved", "path", opts.settingsPath)
	}
	return nil
}

func discoverProducer(s *settings.Settings, opts *inputOptions) error {
	disc := discovery.NewManager(discovery.Config{})
	defer disc.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	producer, err := disc.First(ctx)
	if err != nil {
		return err
	}

	slog.Info("discovered producer", "name", producer.Name, "host", producer.Host, "port", producer.Port)
	s.Address = producer.Host
	s.Port = producer.Port
	if producer.Transport != "" {
		opts.transport = producer.Transport
	}
	return nil
}

// waitForQuit services keyboard commands until the operator or a signal quits
func waitForQuit(in *falcon.Input, sink falcon.Sink, tui *ui.TUI, tuiDone <-chan error, sigChan <-chan os.Signal) {
	defer tui.Stop()

	for {
		select {
		case cmd := <-tui.Commands():
			switch cmd {
			case ui.CommandToggleAcquisition:
				toggleAcquisition(in, sink)
			case ui.CommandReconnect:
				reconnect(in, sink)
			case ui.CommandQuit:
				slog.Info("received quit from TUI")
				return
			}
		case err := <-tuiDone:
			if err != nil {
				slog.Error("TUI stopped", "error", err)
			}
			return
		case <-sigChan:
			slog.Info("shutdown signal received")
			return
		}
	}
}

func toggleAcquisition(in *falcon.Input, sink falcon.Sink) {
	if in.IsRunning() {
		if err := in.Stop(); err != nil {
			slog.Warn("stop failed", "error", err)
		}
		return
	}
	if err := in.Start(sink); err != nil {
		slog.Warn("start failed", "error", err)
	}
}

// reconnect stops acquisition, dials again and resumes if it was running
func reconnect(in *falcon.Input, sink falcon.Sink) {
	wasRunning := in.IsRunning()
	if wasRunning {
		if err := in.Stop(); err != nil {
			slog.Warn("stop failed", "error", err)
		}
	}

	if err := in.Connect(); err != nil {
		slog.Warn("reconnect failed", "error", err)
	}

	if wasRunning {
		if err := in.Start(sink); err != nil {
			slog.Warn("start failed", "error", err)
		}
	}
}

// drainLoop consumes the host buffer like the host's processing thread
func drainLoop(ctx context.Context, buffer *ringbuffer.Buffer, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frames := buffer.Drain(0)
			if n := frames.Len(); n > 0 {
				slog.Debug("host consumed frames",
					"frames", n,
					"first", frames.SampleNumbers[0],
					"overwritten", buffer.Overwritten())
			}
		}
	}
}

// statusLoop periodically pushes receiver state to the TUI
func statusLoop(ctx context.Context, in *falcon.Input, buffer *ringbuffer.Buffer, transportName string, update func(ui.StatusMsg)) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cfg := in.Config()
			stats := in.Stats()
			connected := in.IsConnected()
			running := in.IsRunning()

			update(ui.StatusMsg{
				Connected:     &connected,
				Running:       &running,
				Endpoint:      cfg.Endpoint(),
				Transport:     transportName,
				Channels:      cfg.ChannelCount,
				SampleRate:    cfg.SampleRate,
				Received:      stats.Received,
				Decoded:       stats.Decoded,
				Malformed:     stats.Malformed,
				ShapeMismatch: stats.ShapeMismatch,
				Samples:       stats.Samples,
				Latency:       stats.LastLatency,
				LastMessageID: stats.LastMessageID,
				BufferFill:    buffer.Len(),
				BufferSize:    buffer.Capacity(),
			})
		}
	}
}
