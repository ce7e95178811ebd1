// ABOUTME: Falcon protocol block and header types
// ABOUTME: Defines what the encoder consumes and the decoder produces
package protocol

import (
	"errors"
	"time"
)

const (
	// EventLines is the number of digital lines carried per sample
	EventLines = 16

	// TimestampUnset marks per-sample timestamps, which are not transmitted
	TimestampUnset = -1.0

	// MaxBlockSamples caps n_samples; larger blocks are rejected before any
	// buffer is sized from the header
	MaxBlockSamples = 1 << 18
)

// Protocol errors
var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrEmptyBlock       = errors.New("block has no channels or no samples")
	ErrBlockTooLarge    = errors.New("block exceeds the sample limit")
	ErrShortChannel     = errors.New("channel holds fewer samples than the block")
	ErrEventCodeLength  = errors.New("event codes length differs from sample count")
	ErrLineOutOfRange   = errors.New("digital line out of range")
	ErrOffsetOutOfRange = errors.New("sample offset outside block")
)

// Header carries the per-block metadata embedded next to the samples
type Header struct {
	Stream            string   // Logical stream identity
	FirstSampleNumber int64    // Producer counter of the first sample
	Timestamp         float64  // Producer wall clock, seconds
	SampleRate        float32  // Nominal rate in Hz
	Sequence          uint64   // Per-socket message number, supplied by the caller
	EventCodes        []uint16 // One mask per sample, nil for all zero
}

// Block is one reconstructed block on the receiver side.
// Samples is channel-major and sized to the receiver's channel count.
type Block struct {
	Samples       [][]float32 // [channel][sample]
	SampleNumbers []int64     // Receiver-local running sample numbers
	Timestamps    []float64   // Always TimestampUnset
	EventCodes    []uint16
	NumSamples    int

	// Diagnostics copied from the message
	Stream            string
	MessageID         uint64
	FirstSampleNumber int64
	SentAt            float64
	SampleRate        float32
	SourceChannels    int

	// ShapeMismatch is set when the message channel count or payload
	// length disagreed with the receiver and zero-fill was applied
	ShapeMismatch bool
}

// Channels returns the number of channels in the block
func (b Block) Channels() int {
	return len(b.Samples)
}

// Latency returns the delay between encode and now, in seconds
func (b Block) Latency(now float64) float64 {
	return now - b.SentAt
}

// Now returns the wall clock in seconds, the unit of Header.Timestamp
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
