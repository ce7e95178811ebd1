// ABOUTME: Receiver-side decoder and block reconstruction
// ABOUTME: Zero-fills missing channels and keeps a running sample counter
package protocol

import (
	"fmt"

	"github.com/open-ephys-plugins/falcon-output/pkg/wire"
)

// Decoder rebuilds blocks shaped to the receiver's channel count,
// whatever shape the producer sent. It is not safe for concurrent use.
type Decoder struct {
	channels     int
	totalSamples int64
}

// NewDecoder creates a decoder for a receiver with the given channel count
func NewDecoder(channels int) *Decoder {
	if channels < 0 {
		channels = 0
	}
	return &Decoder{channels: channels}
}

// Channels returns the receiver channel count
func (d *Decoder) Channels() int {
	return d.channels
}

// TotalSamples returns the running sample counter
func (d *Decoder) TotalSamples() int64 {
	return d.totalSamples
}

// Reset zeroes the running sample counter
func (d *Decoder) Reset() {
	d.totalSamples = 0
}

// Decode validates buf and reconstructs one block. Malformed buffers, and
// headers claiming more than MaxBlockSamples, return ErrMalformedMessage and
// leave the counter untouched. A message with zero samples returns an empty
// block and a nil error.
func (d *Decoder) Decode(buf []byte) (Block, error) {
	if err := wire.Verify(buf); err != nil {
		return Block{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	msg := wire.GetRootAsContinuousData(buf, 0)
	if msg.NSamples() > MaxBlockSamples {
		return Block{}, fmt.Errorf("%w: %w: %d samples", ErrMalformedMessage, ErrBlockTooLarge, msg.NSamples())
	}
	n := int(msg.NSamples())
	msgChannels := int(msg.NChannels())

	block := Block{
		Stream:            string(msg.Stream()),
		MessageID:         msg.MessageId(),
		FirstSampleNumber: msg.SampleNum(),
		SentAt:            msg.Timestamp(),
		SampleRate:        msg.SampleRate(),
		SourceChannels:    msgChannels,
	}
	if n == 0 {
		return block, nil
	}

	payload := msg.SamplesLength()
	block.ShapeMismatch = msgChannels != d.channels || payload != msgChannels*n

	block.NumSamples = n
	block.Samples = make([][]float32, d.channels)
	for c := range block.Samples {
		dst := make([]float32, n)
		if c < msgChannels {
			// Copies stop at the end of the payload; the rest stays zero
			msg.SamplesInto(dst, c*n)
		}
		block.Samples[c] = dst
	}

	block.EventCodes = make([]uint16, n)
	msg.EventCodesInto(block.EventCodes)

	block.SampleNumbers = make([]int64, n)
	block.Timestamps = make([]float64, n)
	for i := 0; i < n; i++ {
		block.SampleNumbers[i] = d.totalSamples + int64(i)
		block.Timestamps[i] = TimestampUnset
	}
	d.totalSamples += int64(n)

	return block, nil
}
