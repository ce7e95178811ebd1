// ABOUTME: Producer-side block encoder
// ABOUTME: Flattens per-channel samples into one ContinuousData buffer
package protocol

import (
	"fmt"

	"github.com/open-ephys-plugins/falcon-output/pkg/wire"

	flatbuffers "github.com/google/flatbuffers/go"
)

// Encoder builds wire buffers. The builder is reused between calls, so an
// Encoder must not be shared between goroutines.
type Encoder struct {
	builder *flatbuffers.Builder
}

// NewEncoder creates an encoder with a reusable 1 KiB builder
func NewEncoder() *Encoder {
	return &Encoder{
		builder: flatbuffers.NewBuilder(1024),
	}
}

// Encode serializes one block. The number of samples is taken from the
// first channel; every channel must hold at least that many samples.
// The returned buffer is owned by the caller.
func (e *Encoder) Encode(channels [][]float32, h Header) ([]byte, error) {
	if len(channels) == 0 {
		return nil, ErrEmptyBlock
	}
	return e.EncodeN(channels, len(channels[0]), h)
}

// EncodeN serializes the first sampleCount samples of every channel
func (e *Encoder) EncodeN(channels [][]float32, sampleCount int, h Header) ([]byte, error) {
	numChannels := len(channels)
	if numChannels == 0 || sampleCount <= 0 {
		return nil, ErrEmptyBlock
	}
	if sampleCount > MaxBlockSamples {
		return nil, fmt.Errorf("%w: %d samples", ErrBlockTooLarge, sampleCount)
	}
	for ch, data := range channels {
		if len(data) < sampleCount {
			return nil, fmt.Errorf("%w: channel %d has %d of %d", ErrShortChannel, ch, len(data), sampleCount)
		}
	}
	if h.EventCodes != nil && len(h.EventCodes) != sampleCount {
		return nil, fmt.Errorf("%w: %d codes for %d samples", ErrEventCodeLength, len(h.EventCodes), sampleCount)
	}

	b := e.builder
	b.Reset()

	stream := b.CreateString(h.Stream)

	wire.ContinuousDataStartEventCodesVector(b, sampleCount)
	for i := sampleCount - 1; i >= 0; i-- {
		var code uint16
		if h.EventCodes != nil {
			code = h.EventCodes[i]
		}
		b.PrependUint16(code)
	}
	events := b.EndVector(sampleCount)

	// Vectors are built back to front: last channel, last sample first
	total := numChannels * sampleCount
	wire.ContinuousDataStartSamplesVector(b, total)
	for ch := numChannels - 1; ch >= 0; ch-- {
		data := channels[ch]
		for i := sampleCount - 1; i >= 0; i-- {
			b.PrependFloat32(data[i])
		}
	}
	samples := b.EndVector(total)

	wire.ContinuousDataStart(b)
	wire.ContinuousDataAddSamples(b, samples)
	wire.ContinuousDataAddEventCodes(b, events)
	wire.ContinuousDataAddNChannels(b, uint32(numChannels))
	wire.ContinuousDataAddNSamples(b, uint32(sampleCount))
	wire.ContinuousDataAddSampleNum(b, h.FirstSampleNumber)
	wire.ContinuousDataAddTimestamp(b, h.Timestamp)
	wire.ContinuousDataAddMessageId(b, h.Sequence)
	wire.ContinuousDataAddSampleRate(b, h.SampleRate)
	wire.ContinuousDataAddStream(b, stream)
	b.Finish(wire.ContinuousDataEnd(b))

	finished := b.FinishedBytes()
	out := make([]byte, len(finished))
	copy(out, finished)

	return out, nil
}
