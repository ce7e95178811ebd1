// ABOUTME: Structural validation of untrusted ContinuousData buffers
// ABOUTME: Ensures accessors never read outside the received bytes
package wire

import (
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
)

// Validation errors
var (
	ErrTruncated      = errors.New("buffer too short")
	ErrOutOfBounds    = errors.New("offset out of bounds")
	ErrInvalidVTable  = errors.New("invalid vtable")
	ErrMissingSamples = errors.New("required field samples is missing")
)

// minBufferSize is the root offset plus the smallest possible table
const minBufferSize = flatbuffers.SizeUOffsetT + flatbuffers.SizeSOffsetT

// scalar field extents within the table
var scalarFields = []struct {
	name string
	vt   flatbuffers.VOffsetT
	size int64
}{
	{"n_channels", vtNChannels, 4},
	{"n_samples", vtNSamples, 4},
	{"sample_num", vtSampleNum, 8},
	{"timestamp", vtTimestamp, 8},
	{"message_id", vtMessageID, 8},
	{"sample_rate", vtSampleRate, 4},
}

// Verify checks that buf holds a well-formed ContinuousData root: the root
// offset, vtable, every present field and every vector must lie inside buf.
func Verify(buf []byte) error {
	size := int64(len(buf))
	if size < minBufferSize {
		return fmt.Errorf("%w: %d bytes", ErrTruncated, size)
	}

	root := int64(flatbuffers.GetUOffsetT(buf))
	if root+flatbuffers.SizeSOffsetT > size {
		return fmt.Errorf("%w: root table at %d", ErrOutOfBounds, root)
	}

	vt := root - int64(flatbuffers.GetSOffsetT(buf[root:]))
	if vt < 0 || vt+2*flatbuffers.SizeVOffsetT > size {
		return fmt.Errorf("%w: vtable at %d", ErrInvalidVTable, vt)
	}

	vtLen := int64(flatbuffers.GetVOffsetT(buf[vt:]))
	tableLen := int64(flatbuffers.GetVOffsetT(buf[vt+flatbuffers.SizeVOffsetT:]))
	if vtLen < 4 || vtLen%2 != 0 || vt+vtLen > size {
		return fmt.Errorf("%w: length %d", ErrInvalidVTable, vtLen)
	}
	if tableLen < flatbuffers.SizeSOffsetT || root+tableLen > size {
		return fmt.Errorf("%w: table length %d", ErrOutOfBounds, tableLen)
	}

	field := func(slot flatbuffers.VOffsetT) int64 {
		if int64(slot) >= vtLen {
			return 0
		}
		return int64(flatbuffers.GetVOffsetT(buf[vt+int64(slot):]))
	}

	for _, f := range scalarFields {
		if off := field(f.vt); off != 0 && off+f.size > tableLen {
			return fmt.Errorf("%w: field %s", ErrOutOfBounds, f.name)
		}
	}

	vector := func(name string, slot flatbuffers.VOffsetT, elemSize int64) (bool, error) {
		off := field(slot)
		if off == 0 {
			return false, nil
		}
		if off+flatbuffers.SizeUOffsetT > tableLen {
			return false, fmt.Errorf("%w: field %s", ErrOutOfBounds, name)
		}
		pos := root + off
		start := pos + int64(flatbuffers.GetUOffsetT(buf[pos:]))
		if start+flatbuffers.SizeUOffsetT > size {
			return false, fmt.Errorf("%w: vector %s header", ErrOutOfBounds, name)
		}
		n := int64(flatbuffers.GetUOffsetT(buf[start:]))
		if start+flatbuffers.SizeUOffsetT+n*elemSize > size {
			return false, fmt.Errorf("%w: vector %s holds %d elements", ErrOutOfBounds, name, n)
		}
		return true, nil
	}

	present, err := vector("samples", vtSamples, 4)
	if err != nil {
		return err
	}
	if !present {
		return ErrMissingSamples
	}
	if _, err := vector("event_codes", vtEventCodes, 2); err != nil {
		return err
	}
	if _, err := vector("stream", vtStream, 1); err != nil {
		return err
	}

	return nil
}
