// ABOUTME: Falcon streaming protocol package
// ABOUTME: Encodes, decodes and reconstructs continuous data blocks
// Package protocol implements the Falcon continuous data protocol.
//
// The producer side turns a block of per-channel samples into one wire
// buffer with an Encoder, and converts asynchronous digital line
// transitions into per-sample event codes with an Accumulator. The
// receiver side rebuilds blocks with a Decoder, which tolerates malformed
// buffers and producers whose channel count changes at any time.
//
// Example:
//
//	enc := protocol.NewEncoder()
//	buf, err := enc.Encode(channels, protocol.Header{
//	    Stream:            "probe-a",
//	    FirstSampleNumber: 0,
//	    Timestamp:         protocol.Now(),
//	    SampleRate:        30000,
//	    Sequence:          1,
//	})
//
//	dec := protocol.NewDecoder(16)
//	block, err := dec.Decode(buf)
package protocol
