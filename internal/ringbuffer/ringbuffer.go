// ABOUTME: Receiver-side host buffer holding interleaved sample frames
// ABOUTME: Overwrites the oldest frames when full, cleared at acquisition stop
package ringbuffer

import (
	"sync"

	"github.com/open-ephys-plugins/falcon-output/pkg/protocol"
)

// DefaultCapacity is the number of frames held when none is given
const DefaultCapacity = 40000 * 10

// Frames is a run of drained frames in channel-major layout
type Frames struct {
	Samples       [][]float32
	SampleNumbers []int64
	Timestamps    []float64
	EventCodes    []uint16
}

// Len returns the number of frames
func (f Frames) Len() int {
	return len(f.SampleNumbers)
}

// Buffer is a thread-safe ring of sample frames. Samples are stored
// interleaved, one frame of every channel per sample position.
type Buffer struct {
	mu sync.Mutex

	channels int
	capacity int

	samples       []float32
	sampleNumbers []int64
	timestamps    []float64
	eventCodes    []uint16

	head        int // next write position
	count       int
	overwritten uint64
}

// New creates a buffer for channels channels holding capacity frames
func New(channels, capacity int) *Buffer {
	b := &Buffer{}
	b.allocate(channels, capacity)
	return b
}

func (b *Buffer) allocate(channels, capacity int) {
	if channels < 1 {
		channels = 1
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	b.channels = channels
	b.capacity = capacity
	b.samples = make([]float32, channels*capacity)
	b.sampleNumbers = make([]int64, capacity)
	b.timestamps = make([]float64, capacity)
	b.eventCodes = make([]uint16, capacity)
	b.head = 0
	b.count = 0
}

// AddToBuffer appends every frame of block. Channels beyond the buffer
// width are dropped and missing channels are stored as zero.
func (b *Buffer) AddToBuffer(block protocol.Block) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 0; i < block.NumSamples; i++ {
		frame := b.samples[b.head*b.channels : (b.head+1)*b.channels]
		for c := range frame {
			if c < len(block.Samples) && i < len(block.Samples[c]) {
				frame[c] = block.Samples[c][i]
			} else {
				frame[c] = 0
			}
		}

		b.sampleNumbers[b.head] = at(block.SampleNumbers, i, block.FirstSampleNumber+int64(i))
		b.timestamps[b.head] = at(block.Timestamps, i, protocol.TimestampUnset)
		b.eventCodes[b.head] = at(block.EventCodes, i, 0)

		b.head = (b.head + 1) % b.capacity
		if b.count < b.capacity {
			b.count++
		} else {
			b.overwritten++
		}
	}
}

func at[T any](s []T, i int, fallback T) T {
	if i < len(s) {
		return s[i]
	}
	return fallback
}

// Drain removes up to limit of the oldest frames, all of them when limit <= 0
func (b *Buffer) Drain(limit int) Frames {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	if limit > 0 && limit < n {
		n = limit
	}

	out := Frames{
		Samples:       make([][]float32, b.channels),
		SampleNumbers: make([]int64, n),
		Timestamps:    make([]float64, n),
		EventCodes:    make([]uint16, n),
	}
	for c := range out.Samples {
		out.Samples[c] = make([]float32, n)
	}

	tail := (b.head - b.count + b.capacity) % b.capacity
	for i := 0; i < n; i++ {
		pos := (tail + i) % b.capacity
		for c := 0; c < b.channels; c++ {
			out.Samples[c][i] = b.samples[pos*b.channels+c]
		}
		out.SampleNumbers[i] = b.sampleNumbers[pos]
		out.Timestamps[i] = b.timestamps[pos]
		out.EventCodes[i] = b.eventCodes[pos]
	}

	b.count -= n
	return out
}

// Len returns the number of buffered frames
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Capacity returns the maximum number of frames
func (b *Buffer) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Channels returns the frame width
func (b *Buffer) Channels() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channels
}

// Overwritten returns how many frames were lost to a full buffer
func (b *Buffer) Overwritten() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overwritten
}

// Fill returns the occupied fraction of the buffer
func (b *Buffer) Fill() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.count) / float64(b.capacity)
}

// Clear discards every buffered frame
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
}

// Resize reallocates the buffer for a new channel count and capacity,
// discarding its contents
func (b *Buffer) Resize(channels, capacity int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allocate(channels, capacity)
}
