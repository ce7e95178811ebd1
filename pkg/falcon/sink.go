// ABOUTME: Consumer-side destination for reconstructed blocks
// ABOUTME: The receive loop appends every decoded block to a Sink
package falcon

import (
	"github.com/open-ephys-plugins/falcon-output/pkg/protocol"
	"github.com/open-ephys-plugins/falcon-output/pkg/transport"
)

// Sink receives blocks from the Input receive loop. AddToBuffer is called
// from the loop goroutine and must not block.
type Sink interface {
	AddToBuffer(block protocol.Block)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(block protocol.Block)

// AddToBuffer calls f(block)
func (f SinkFunc) AddToBuffer(block protocol.Block) {
	f(block)
}

// Clearer is implemented by sinks that discard their contents when
// acquisition stops
type Clearer interface {
	Clear()
}

type statsProvider interface {
	Stats() transport.Stats
}
