// ABOUTME: Tests for the Falcon Input and Output lifecycles
// ABOUTME: Uses the memory bus and a scripted subscriber instead of the network
package falcon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/open-ephys-plugins/falcon-output/pkg/protocol"
	"github.com/open-ephys-plugins/falcon-output/pkg/transport"
	"github.com/open-ephys-plugins/falcon-output/pkg/transport/memory"
)

// scriptedSubscriber hands out queued messages and counts polls
type scriptedSubscriber struct {
	mu     sync.Mutex
	queue  [][]byte
	polls  atomic.Int64
	closed atomic.Bool
}

func (s *scriptedSubscriber) push(buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, buf)
}

func (s *scriptedSubscriber) TryReceive() ([]byte, bool) {
	s.polls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	msg := s.queue[0]
	s.queue = s.queue[1:]
	return msg, true
}

func (s *scriptedSubscriber) Close() error {
	s.closed.Store(true)
	return nil
}

// collector is a Sink that records blocks
type collector struct {
	mu      sync.Mutex
	blocks  []protocol.Block
	cleared bool
}

func (c *collector) AddToBuffer(b protocol.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = append(c.blocks, b)
}

func (c *collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared = true
}

func (c *collector) snapshot() []protocol.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Block(nil), c.blocks...)
}

func waitForBlocks(t *testing.T, c *collector, n int) []protocol.Block {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if blocks := c.snapshot(); len(blocks) >= n {
			return blocks
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("expected %d blocks, got %d", n, len(c.snapshot()))
	return nil
}

func scriptedInput(t *testing.T, sub *scriptedSubscriber, channels int) *Input {
	t.Helper()
	in, err := NewInput(InputConfig{
		ChannelCount: channels,
		Dial: func(ctx context.Context, config InputConfig) (transport.Subscriber, error) {
			return sub, nil
		},
	})
	if err != nil {
		t.Fatalf("failed to create input: %v", err)
	}
	if err := in.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	return in
}

func hostBlock(channels, samples int, first int64) HostBlock {
	data := make([][]float32, channels)
	for c := range data {
		data[c] = make([]float32, samples)
		for i := range data[c] {
			data[c][i] = float32(c*10000) + float32(first) + float32(i)
		}
	}
	return HostBlock{
		Channels:          data,
		NumSamples:        samples,
		FirstSampleNumber: first,
		SampleRate:        30000,
	}
}

func TestNewInputDefaults(t *testing.T) {
	in, err := NewInput(InputConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	config := in.Config()
	if config.Address != DefaultAddress {
		t.Errorf("expected address %s, got %s", DefaultAddress, config.Address)
	}
	if config.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, config.Port)
	}
	if config.ChannelCount != DefaultChannelCount {
		t.Errorf("expected %d channels, got %d", DefaultChannelCount, config.ChannelCount)
	}
	if config.SampleRate != DefaultSampleRate {
		t.Errorf("expected sample rate %f, got %f", DefaultSampleRate, config.SampleRate)
	}
	if config.Transport != transport.WebSocket {
		t.Errorf("expected transport ws, got %s", config.Transport)
	}
	if in.IsConnected() {
		t.Error("expected new input to be disconnected")
	}
}

func TestNewInputRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		config InputConfig
	}{
		{"port too low", InputConfig{Port: 80}},
		{"port too high", InputConfig{Port: 65535}},
		{"too many channels", InputConfig{ChannelCount: 1000}},
		{"negative channels", InputConfig{ChannelCount: -1}},
		{"sample rate too high", InputConfig{SampleRate: 50000}},
		{"negative sample rate", InputConfig{SampleRate: -1}},
		{"unknown transport", InputConfig{Transport: "zmq"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInput(tt.config)
			if !errors.Is(err, ErrConfigOutOfRange) {
				t.Errorf("expected ErrConfigOutOfRange, got %v", err)
			}
		})
	}
}

func TestSetterRejectionKeepsValue(t *testing.T) {
	in, err := NewInput(InputConfig{Port: 5000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := in.SetPort(1023); !errors.Is(err, ErrConfigOutOfRange) {
		t.Errorf("expected ErrConfigOutOfRange, got %v", err)
	}
	if err := in.SetChannelCount(0); !errors.Is(err, ErrConfigOutOfRange) {
		t.Errorf("expected ErrConfigOutOfRange, got %v", err)
	}
	if err := in.SetAddress(""); !errors.Is(err, ErrConfigOutOfRange) {
		t.Errorf("expected ErrConfigOutOfRange, got %v", err)
	}
	if in.Config().Port != 5000 {
		t.Errorf("expected port to stay 5000, got %d", in.Config().Port)
	}

	if err := in.SetPort(6000); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := in.SetSampleRate(20000); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if in.Config().Port != 6000 || in.Config().SampleRate != 20000 {
		t.Errorf("setters not applied: %+v", in.Config())
	}
}

func TestSettersRefusedWhileRunning(t *testing.T) {
	sub := &scriptedSubscriber{}
	in := scriptedInput(t, sub, 4)

	if err := in.Start(&collector{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer in.Stop()

	if err := in.SetChannelCount(8); !errors.Is(err, ErrAcquisitionRunning) {
		t.Errorf("expected ErrAcquisitionRunning, got %v", err)
	}
	if err := in.SetPort(4000); !errors.Is(err, ErrAcquisitionRunning) {
		t.Errorf("expected ErrAcquisitionRunning, got %v", err)
	}
	if err := in.Connect(); !errors.Is(err, ErrAcquisitionRunning) {
		t.Errorf("expected ErrAcquisitionRunning, got %v", err)
	}
	if err := in.Start(&collector{}); !errors.Is(err, ErrAcquisitionRunning) {
		t.Errorf("expected ErrAcquisitionRunning, got %v", err)
	}
}

func TestReceiveLoopDoesNotBlock(t *testing.T) {
	sub := &scriptedSubscriber{}
	in := scriptedInput(t, sub, 2)

	sink := &collector{}
	if err := in.Start(sink); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	if err := in.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > StopTimeout {
		t.Errorf("stop took %v", elapsed)
	}

	if sub.polls.Load() < 5 {
		t.Errorf("expected the loop to keep polling an empty subscriber, got %d polls", sub.polls.Load())
	}
	if len(sink.snapshot()) != 0 {
		t.Error("expected no blocks from an empty subscriber")
	}
	if !sink.cleared {
		t.Error("expected sink to be cleared on stop")
	}
}

func TestReceiveLoopSkipsMalformed(t *testing.T) {
	sub := &scriptedSubscriber{}
	in := scriptedInput(t, sub, 2)

	enc := protocol.NewEncoder()
	good, err := enc.Encode([][]float32{{1, 2, 3}, {4, 5, 6}}, protocol.Header{Sequence: 1})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	sub.push([]byte{0xde, 0xad})
	sub.push(good)

	sink := &collector{}
	if err := in.Start(sink); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer in.Stop()

	blocks := waitForBlocks(t, sink, 1)
	if blocks[0].Samples[1][2] != 6 {
		t.Errorf("expected sample 6, got %f", blocks[0].Samples[1][2])
	}

	stats := in.Stats()
	if stats.Malformed != 1 {
		t.Errorf("expected 1 malformed message, got %d", stats.Malformed)
	}
	if stats.Decoded != 1 {
		t.Errorf("expected 1 decoded message, got %d", stats.Decoded)
	}
}

func TestStartResetsSampleCounter(t *testing.T) {
	sub := &scriptedSubscriber{}
	in := scriptedInput(t, sub, 1)
	enc := protocol.NewEncoder()

	for run := 0; run < 2; run++ {
		buf, err := enc.Encode([][]float32{make([]float32, 10)}, protocol.Header{})
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		sub.push(buf)

		sink := &collector{}
		if err := in.Start(sink); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		blocks := waitForBlocks(t, sink, 1)
		in.Stop()

		if blocks[0].SampleNumbers[0] != 0 {
			t.Errorf("run %d: expected sample numbers to restart at 0, got %d", run, blocks[0].SampleNumbers[0])
		}
	}
}

func TestConnectFailure(t *testing.T) {
	in, err := NewInput(InputConfig{
		Dial: func(ctx context.Context, config InputConfig) (transport.Subscriber, error) {
			return nil, errors.New("connection refused")
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := in.Connect(); !errors.Is(err, transport.ErrConnect) {
		t.Errorf("expected ErrConnect, got %v", err)
	}
	if in.IsConnected() {
		t.Error("expected input to be marked disconnected")
	}

	// Acquisition still starts and simply yields nothing
	if err := in.Start(&collector{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := in.Stop(); err != nil {
		t.Errorf("stop failed: %v", err)
	}
}

func TestReconnectClosesPreviousSubscriber(t *testing.T) {
	first := &scriptedSubscriber{}
	second := &scriptedSubscriber{}
	subs := []*scriptedSubscriber{first, second}

	in, err := NewInput(InputConfig{
		Dial: func(ctx context.Context, config InputConfig) (transport.Subscriber, error) {
			s := subs[0]
			subs = subs[1:]
			return s, nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := in.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := in.Connect(); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	if !first.closed.Load() {
		t.Error("expected first subscriber to be closed on reconnect")
	}

	in.Close()
	if !second.closed.Load() {
		t.Error("expected second subscriber to be closed")
	}
}

func TestChannelsMetadata(t *testing.T) {
	in, err := NewInput(InputConfig{ChannelCount: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	channels := in.Channels()
	if len(channels) != 3 {
		t.Fatalf("expected 3 channels, got %d", len(channels))
	}
	if channels[0].Name != "CH1" || channels[2].Name != "CH3" {
		t.Errorf("unexpected channel names: %s, %s", channels[0].Name, channels[2].Name)
	}
}

func TestOutputToInputOverMemoryBus(t *testing.T) {
	bus := memory.NewBus()

	in, err := NewInput(InputConfig{Transport: transport.Memory, Bus: bus, ChannelCount: 4})
	if err != nil {
		t.Fatalf("failed to create input: %v", err)
	}
	if err := in.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer in.Close()

	out, err := NewOutput(OutputConfig{Transport: transport.Memory, Bus: bus, Stream: "probe-a"})
	if err != nil {
		t.Fatalf("failed to create output: %v", err)
	}
	defer out.Close()

	sink := &collector{}
	if err := in.Start(sink); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := out.StartAcquisition(); err != nil {
		t.Fatalf("start acquisition failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := out.Process(hostBlock(4, 100, int64(5000+i*100))); err != nil {
			t.Fatalf("process failed: %v", err)
		}
	}

	blocks := waitForBlocks(t, sink, 3)
	for b, block := range blocks {
		if block.MessageID != uint64(b+1) {
			t.Errorf("block %d: expected message id %d, got %d", b, b+1, block.MessageID)
		}
		if block.Stream != "probe-a" {
			t.Errorf("block %d: expected stream probe-a, got %q", b, block.Stream)
		}
		if block.FirstSampleNumber != int64(5000+b*100) {
			t.Errorf("block %d: expected first sample %d, got %d", b, 5000+b*100, block.FirstSampleNumber)
		}
		for i, sn := range block.SampleNumbers {
			if sn != int64(b*100+i) {
				t.Fatalf("block %d sample %d: expected %d, got %d", b, i, b*100+i, sn)
			}
		}
		if block.Samples[3][99] != float32(30000+5000+b*100+99) {
			t.Errorf("block %d: unexpected last sample %f", b, block.Samples[3][99])
		}
	}

	if got := out.Stats().Published; got != 3 {
		t.Errorf("expected 3 published, got %d", got)
	}
	if got := in.Stats().Samples; got != 300 {
		t.Errorf("expected 300 samples, got %d", got)
	}
}

func newMemoryOutput(t *testing.T) (*Output, *memory.Subscriber) {
	t.Helper()
	bus := memory.NewBus()
	sub, err := bus.Subscribe(16)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	out, err := NewOutput(OutputConfig{Transport: transport.Memory, Bus: bus})
	if err != nil {
		t.Fatalf("failed to create output: %v", err)
	}
	if err := out.StartAcquisition(); err != nil {
		t.Fatalf("start acquisition failed: %v", err)
	}
	return out, sub
}

func receiveBlock(t *testing.T, sub *memory.Subscriber, channels int) protocol.Block {
	t.Helper()
	buf, ok := sub.TryReceive()
	if !ok {
		t.Fatal("expected a published message")
	}
	block, err := protocol.NewDecoder(channels).Decode(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return block
}

func TestOutputChannelSelection(t *testing.T) {
	out, sub := newMemoryOutput(t)
	defer out.Close()

	if err := out.SetChannels([]int{3, 1, 9}); err != nil {
		t.Fatalf("set channels failed: %v", err)
	}
	if err := out.Process(hostBlock(4, 8, 0)); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	block := receiveBlock(t, sub, 2)
	if block.SourceChannels != 2 {
		t.Fatalf("expected 2 channels on the wire, got %d", block.SourceChannels)
	}
	if block.Samples[0][0] != 30000 || block.Samples[1][0] != 10000 {
		t.Errorf("unexpected channel order: %f, %f", block.Samples[0][0], block.Samples[1][0])
	}
}

func TestOutputEventsCarryAcrossBlocks(t *testing.T) {
	out, sub := newMemoryOutput(t)
	defer out.Close()

	block := hostBlock(1, 10, 0)
	block.Events = []TTLEvent{{Line: 0, High: true, Offset: 3}, {Line: 0, High: false, Offset: 7}}
	if err := out.Process(block); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if err := out.Event(2, true, 5); err != nil {
		t.Fatalf("event failed: %v", err)
	}
	if err := out.Process(hostBlock(1, 10, 10)); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if err := out.Process(hostBlock(1, 10, 20)); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	want := [][]uint16{
		{0, 0, 0, 1, 1, 1, 1, 0, 0, 0},
		{0, 0, 0, 0, 0, 4, 4, 4, 4, 4},
		{4, 4, 4, 4, 4, 4, 4, 4, 4, 4},
	}
	for b := range want {
		got := receiveBlock(t, sub, 1).EventCodes
		for i := range want[b] {
			if got[i] != want[b][i] {
				t.Fatalf("block %d: expected %v, got %v", b, want[b], got)
			}
		}
	}
}

func TestOutputRejectsBadEvents(t *testing.T) {
	out, sub := newMemoryOutput(t)
	defer out.Close()

	if err := out.Event(16, true, 0); !errors.Is(err, protocol.ErrLineOutOfRange) {
		t.Errorf("expected ErrLineOutOfRange, got %v", err)
	}

	block := hostBlock(1, 4, 0)
	block.Events = []TTLEvent{{Line: 1, High: true, Offset: 10}}
	if err := out.Process(block); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	codes := receiveBlock(t, sub, 1).EventCodes
	for i, code := range codes {
		if code != 0 {
			t.Errorf("code %d: expected 0, got %d", i, code)
		}
	}
	if out.Stats().RejectedEvents != 2 {
		t.Errorf("expected 2 rejected events, got %d", out.Stats().RejectedEvents)
	}
}

func TestOutputSkipsEmptyBlocks(t *testing.T) {
	out, sub := newMemoryOutput(t)
	defer out.Close()

	if err := out.Process(HostBlock{NumSamples: 0}); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if _, ok := sub.TryReceive(); ok {
		t.Error("expected nothing published for an empty block")
	}
	if out.Stats().Sequence != 0 {
		t.Errorf("expected sequence to stay 0, got %d", out.Stats().Sequence)
	}
}

func TestOutputStartAcquisitionResetsSequence(t *testing.T) {
	out, sub := newMemoryOutput(t)
	defer out.Close()

	for i := 0; i < 2; i++ {
		if err := out.Process(hostBlock(1, 4, 0)); err != nil {
			t.Fatalf("process failed: %v", err)
		}
	}
	if err := out.StartAcquisition(); err != nil {
		t.Fatalf("start acquisition failed: %v", err)
	}
	if err := out.Process(hostBlock(1, 4, 0)); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	ids := []uint64{1, 2, 1}
	for _, want := range ids {
		if got := receiveBlock(t, sub, 1).MessageID; got != want {
			t.Errorf("expected message id %d, got %d", want, got)
		}
	}
}

func TestOutputSetPortRebinds(t *testing.T) {
	var ports []int
	out, err := NewOutput(OutputConfig{
		Bind: func(config OutputConfig) (transport.Publisher, error) {
			ports = append(ports, config.Port)
			return memory.NewBus().Publisher(), nil
		},
	})
	if err != nil {
		t.Fatalf("failed to create output: %v", err)
	}
	defer out.Close()

	if err := out.SetPort(100); !errors.Is(err, ErrConfigOutOfRange) {
		t.Errorf("expected ErrConfigOutOfRange, got %v", err)
	}
	if err := out.SetPort(4000); err != nil {
		t.Fatalf("set port failed: %v", err)
	}

	if len(ports) != 2 || ports[0] != DefaultPort || ports[1] != 4000 {
		t.Errorf("unexpected bind sequence: %v", ports)
	}
}

func TestOutputDoesNotRebindPerBlock(t *testing.T) {
	var binds int
	failing := false
	out, err := NewOutput(OutputConfig{
		Bind: func(config OutputConfig) (transport.Publisher, error) {
			binds++
			if failing {
				return nil, errors.New("address already in use")
			}
			return memory.NewBus().Publisher(), nil
		},
	})
	if err != nil {
		t.Fatalf("failed to create output: %v", err)
	}
	defer out.Close()

	failing = true
	if err := out.SetPort(4000); !errors.Is(err, transport.ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}

	for i := 0; i < 100; i++ {
		if err := out.Process(hostBlock(2, 8, int64(i*8))); err != nil {
			t.Fatalf("process failed: %v", err)
		}
	}

	if binds != 2 {
		t.Errorf("expected 2 bind attempts, got %d", binds)
	}
	stats := out.Stats()
	if stats.Unbound != 100 {
		t.Errorf("expected 100 unbound blocks, got %d", stats.Unbound)
	}
	if stats.Published != 0 {
		t.Errorf("expected nothing published, got %d", stats.Published)
	}

	// Starting acquisition is the operator's retry
	failing = false
	if err := out.StartAcquisition(); err != nil {
		t.Fatalf("start acquisition failed: %v", err)
	}
	if binds != 3 {
		t.Errorf("expected a third bind attempt, got %d", binds)
	}
	if err := out.Process(hostBlock(2, 8, 800)); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out.Stats().Published != 1 {
		t.Errorf("expected 1 published block, got %d", out.Stats().Published)
	}
}

// stuckSink blocks inside AddToBuffer until released
type stuckSink struct {
	entered chan struct{}
	release chan struct{}
	cleared atomic.Bool
	once    sync.Once
}

func (s *stuckSink) AddToBuffer(protocol.Block) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
}

func (s *stuckSink) Clear() {
	s.cleared.Store(true)
}

func TestStopTimeoutKeepsLoopOwnership(t *testing.T) {
	sub := &scriptedSubscriber{}
	in := scriptedInput(t, sub, 1)

	buf, err := protocol.NewEncoder().Encode([][]float32{{1, 2}}, protocol.Header{Sequence: 1})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	sub.push(buf)

	sink := &stuckSink{entered: make(chan struct{}), release: make(chan struct{})}
	if err := in.Start(sink); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sink never received the block")
	}

	if err := in.Stop(); !errors.Is(err, ErrLoopStillRunning) {
		t.Fatalf("expected ErrLoopStillRunning, got %v", err)
	}
	if sink.cleared.Load() {
		t.Error("expected sink not to be cleared under a running loop")
	}
	if err := in.Start(&collector{}); !errors.Is(err, ErrLoopStillRunning) {
		t.Errorf("expected Start to be refused, got %v", err)
	}
	if err := in.Connect(); !errors.Is(err, ErrLoopStillRunning) {
		t.Errorf("expected Connect to be refused, got %v", err)
	}

	if err := in.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if sub.closed.Load() {
		t.Error("expected subscriber to stay open until the loop exits")
	}

	close(sink.release)

	deadline := time.Now().Add(2 * time.Second)
	for !sub.closed.Load() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if !sub.closed.Load() {
		t.Fatal("expected subscriber to be closed once the loop exited")
	}

	if err := in.Start(&collector{}); err != nil {
		t.Errorf("expected start to succeed after the loop exited, got %v", err)
	}
	in.Stop()
}
