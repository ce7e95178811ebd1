// ABOUTME: Converts digital line transitions into per-sample event codes
// ABOUTME: Holds the line state across blocks for one output socket
package protocol

import "fmt"

// Accumulator turns asynchronous TTL transitions into a dense per-sample
// bitmask. Every sample carries the state of all lines at that sample.
type Accumulator struct {
	code uint16
	last int
}

// Code returns the currently held line state
func (a *Accumulator) Code() uint16 {
	return a.code
}

// Reset clears the held state, called at acquisition start
func (a *Accumulator) Reset() {
	a.code = 0
	a.last = 0
}

// Transition applies one line change at sample offset within the block codes.
// Samples since the previous transition receive the previously held code.
func (a *Accumulator) Transition(codes []uint16, line int, high bool, offset int) error {
	if line < 0 || line >= EventLines {
		return fmt.Errorf("%w: %d", ErrLineOutOfRange, line)
	}
	if offset < 0 || offset >= len(codes) {
		return fmt.Errorf("%w: %d of %d", ErrOffsetOutOfRange, offset, len(codes))
	}
	if offset < a.last {
		offset = a.last
	}

	for i := a.last; i < offset; i++ {
		codes[i] = a.code
	}

	bit := uint16(1) << uint(line)
	if high {
		a.code |= bit
	} else {
		a.code &^= bit
	}
	codes[offset] = a.code
	a.last = offset

	return nil
}

// Seal fills the rest of the block with the held code. The held code carries
// over into the next block.
func (a *Accumulator) Seal(codes []uint16) {
	start := a.last
	if start > len(codes) {
		start = len(codes)
	}
	for i := start; i < len(codes); i++ {
		codes[i] = a.code
	}
	a.last = 0
}
