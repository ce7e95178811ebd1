// ABOUTME: Entry point for the Falcon producer
// ABOUTME: Streams a test tone or an audio file as Falcon messages
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
	"github.com/open-ephys-plugins/falcon-output/internal/source"
	"github.com/open-ephys-plugins/falcon-output/internal/version"
	"github.com/open-ephys-plugins/falcon-output/pkg/falcon"
	"github.com/open-ephys-plugins/falcon-output/pkg/transport"
	"github.com/open-ephys-plugins/falcon-output/pkg/transport/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type outputOptions struct {
	port        int
	stream      string
	transport   string
	natsURL     string
	selected    []int
	numChannels int
	sampleRate  float64
	block       int
	audio       string
	frequency   float64
	ttlPeriod   int
	noMDNS      bool
	metricsAddr string
	logFile     string
	debug       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &outputOptions{}

	cmd := &cobra.Command{
		Use:   "falcon-output",
		Short: "Publish a Falcon continuous data stream",
		Long: `falcon-output plays the host side of a Falcon stream: it generates
sample blocks in real time, from a test tone or a looping MP3/FLAC file,
and publishes one message per block.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runOutput(opts)
		},
	}

	cmd.SetVersionTemplate("{{.Name}} {{.Version}} (" + version.Product + ", " + version.Manufacturer + ")\n")

	f := cmd.Flags()
	f.IntVar(&opts.port, "port", falcon.DefaultPort, "Port to publish on")
	f.StringVar(&opts.stream, "stream", "", "Stream name (default: random)")
	f.StringVar(&opts.transport, "transport", transport.WebSocket, "Transport: ws or nats")
	f.StringVar(&opts.natsURL, "nats-url", "", "NATS server URL")
	f.IntSliceVar(&opts.selected, "channels", nil, "Channel indices to send, e.g. 0,2,5 (default: all)")
	f.IntVar(&opts.numChannels, "num-channels", falcon.DefaultChannelCount, "Channels produced by the source")
	f.Float64Var(&opts.sampleRate, "fs", falcon.DefaultSampleRate, "Tone sample rate in Hz")
	f.IntVar(&opts.block, "block", 1024, "Samples per block")
	f.StringVar(&opts.audio, "audio", "", "Audio file to replay (MP3 or FLAC); plays a test tone if not given")
	f.Float64Var(&opts.frequency, "tone", 10, "Test tone frequency of channel 0 in Hz")
	f.IntVar(&opts.ttlPeriod, "ttl-period", 0, "Toggle TTL line 0 every N samples, 0 disables")
	f.BoolVar(&opts.noMDNS, "no-mdns", false, "Disable mDNS advertisement")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9091")
	f.StringVar(&opts.logFile, "log-file", "falcon-output.log", "Log file path")
	f.BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	return cmd
}

func runOutput(opts *outputOptions) error {
	level := "info"
	if opts.debug {
		level = "debug"
	}
	logger, logCloser, err := logging.Setup(logging.Options{
		Level:   level,
		File:    opts.logFile,
		Console: true,
		Service: "falcon-output",
	})
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	if opts.block <= 0 {
		return fmt.Errorf("%w: block size %d", falcon.ErrConfigOutOfRange, opts.block)
	}
	if err := falcon.ValidateChannelCount(opts.numChannels); err != nil {
		return err
	}
	if err := falcon.ValidateSampleRate(opts.sampleRate); err != nil {
		return err
	}

	src, err := source.Open(opts.audio, opts.numChannels, source.ToneConfig{
		SampleRate: float32(opts.sampleRate),
		Frequency:  opts.frequency,
		TTLPeriod:  opts.ttlPeriod,
	})
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	out, err := falcon.NewOutput(falcon.OutputConfig{
		Port:      opts.port,
		Stream:    opts.stream,
		Transport: opts.transport,
		NATSURL:   opts.natsURL,
		Channels:  opts.selected,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	cfg := out.Config()
	logger.Info("starting producer",
		"stream", cfg.Stream,
		"port", cfg.Port,
		"channels", src.Channels(),
		"sample_rate", src.SampleRate(),
		"block", opts.block)

	if !opts.noMDNS {
		disc := discovery.NewManager(discovery.Config{
			ServiceName: cfg.Stream,
			Port:        cfg.Port,
			Path:        websocket.DefaultPath,
			Transport:   cfg.Transport,
		})
		if err := disc.Advertise(); err != nil {
			logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer disc.Stop()
	}

	if opts.metricsAddr != "" {
		registry := prometheus.NewRegistry()
		if err := metrics.RegisterOutput(registry, out); err != nil {
			return err
		}
		srv, err := metrics.Serve(opts.metricsAddr, registry)
		if err != nil {
			return err
		}
		defer func() { _ = srv.Close() }()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := out.StartAcquisition(); err != nil {
		return err
	}
	err = produce(ctx, out, src, opts.block)

	stats := out.Stats()
	slog.Info("producer stopped",
		"published", stats.Published,
		"publish_errors", stats.PublishErrors,
		"rejected_events", stats.RejectedEvents,
		"unbound", stats.Unbound,
		"samples", stats.Samples)
	if ts, ok := out.TransportStats(); ok {
		slog.Info("transport", "sent", ts.Sent, "dropped", ts.Dropped)
	}
	return err
}

// produce paces blocks at the source sample rate until ctx is done
func produce(ctx context.Context, out *falcon.Output, src source.Source, block int) error {
	interval := time.Duration(float64(time.Second) * float64(block) / float64(src.SampleRate()))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-report.C:
			stats := out.Stats()
			slog.Info("producer stats", "published", stats.Published, "sequence", stats.Sequence, "samples", stats.Samples)
		case <-ticker.C:
			hb, err := src.Next(block)
			if err != nil {
				return fmt.Errorf("source: %w", err)
			}
			if err := out.Process(hb); err != nil {
				slog.Warn("block not published", "error", err)
			}
		}
	}
}
