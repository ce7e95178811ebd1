// ABOUTME: FlatBuffers accessors and builders for the ContinuousData table
// ABOUTME: Mirrors channel.fbs; every data message is one ContinuousData root
package wire

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

// vtable offsets of the ContinuousData fields, in schema order
const (
	vtSamples    flatbuffers.VOffsetT = 4
	vtEventCodes flatbuffers.VOffsetT = 6
	vtNChannels  flatbuffers.VOffsetT = 8
	vtNSamples   flatbuffers.VOffsetT = 10
	vtSampleNum  flatbuffers.VOffsetT = 12
	vtTimestamp  flatbuffers.VOffsetT = 14
	vtMessageID  flatbuffers.VOffsetT = 16
	vtSampleRate flatbuffers.VOffsetT = 18
	vtStream     flatbuffers.VOffsetT = 20

	// NumFields is the number of fields in the ContinuousData table
	NumFields = 9
)

// ContinuousData is a read-only view over one encoded data message.
// Call Verify on untrusted input before creating a view.
type ContinuousData struct {
	_tab flatbuffers.Table
}

// GetRootAsContinuousData returns the root table of buf
func GetRootAsContinuousData(buf []byte, offset flatbuffers.UOffsetT) *ContinuousData {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &ContinuousData{}
	x.Init(buf, n+offset)
	return x
}

// Init points the view at the table starting at i
func (rcv *ContinuousData) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

// Table returns the underlying table
func (rcv *ContinuousData) Table() flatbuffers.Table {
	return rcv._tab
}

// Samples returns sample j of the flat channel-major samples vector
func (rcv *ContinuousData) Samples(j int) float32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(vtSamples))
	if o != 0 {
		a := rcv._tab.Vector(o)
		return rcv._tab.GetFloat32(a + flatbuffers.UOffsetT(j*4))
	}
	return 0
}

// SamplesLength returns the number of entries in the samples vector
func (rcv *ContinuousData) SamplesLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(vtSamples))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

// SamplesInto copies samples[from:] into dst and returns how many were copied.
// Nothing is copied when from lies outside the vector.
func (rcv *ContinuousData) SamplesInto(dst []float32, from int) int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(vtSamples))
	if o == 0 {
		return 0
	}
	n := rcv._tab.VectorLen(o)
	if from < 0 || from >= n {
		return 0
	}
	count := n - from
	if len(dst) < count {
		count = len(dst)
	}
	base := int(rcv._tab.Vector(o)) + from*4
	buf := rcv._tab.Bytes
	for i := 0; i < count; i++ {
		dst[i] = flatbuffers.GetFloat32(buf[base+i*4:])
	}
	return count
}

// EventCodes returns entry j of the per-sample event code vector
func (rcv *ContinuousData) EventCodes(j int) uint16 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(vtEventCodes))
	if o != 0 {
		a := rcv._tab.Vector(o)
		return rcv._tab.GetUint16(a + flatbuffers.UOffsetT(j*2))
	}
	return 0
}

// EventCodesLength returns the number of entries in the event code vector
func (rcv *ContinuousData) EventCodesLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(vtEventCodes))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

// EventCodesInto copies the event code vector into dst and returns how many were copied
func (rcv *ContinuousData) EventCodesInto(dst []uint16) int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(vtEventCodes))
	if o == 0 {
		return 0
	}
	count := rcv._tab.VectorLen(o)
	if len(dst) < count {
		count = len(dst)
	}
	base := int(rcv._tab.Vector(o))
	buf := rcv._tab.Bytes
	for i := 0; i < count; i++ {
		dst[i] = flatbuffers.GetUint16(buf[base+i*2:])
	}
	return count
}

func (rcv *ContinuousData) NChannels() uint32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(vtNChannels))
	if o != 0 {
		return rcv._tab.GetUint32(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *ContinuousData) NSamples() uint32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(vtNSamples))
	if o != 0 {
		return rcv._tab.GetUint32(o + rcv._tab.Pos)
	}
	return 0
}

// SampleNum is the producer-side index of the first sample in the block
func (rcv *ContinuousData) SampleNum() int64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(vtSampleNum))
	if o != 0 {
		return rcv._tab.GetInt64(o + rcv._tab.Pos)
	}
	return 0
}

// Timestamp is the producer wall clock in seconds at encode time
func (rcv *ContinuousData) Timestamp() float64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(vtTimestamp))
	if o != 0 {
		return rcv._tab.GetFloat64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *ContinuousData) MessageId() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(vtMessageID))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *ContinuousData) SampleRate() float32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(vtSampleRate))
	if o != 0 {
		return rcv._tab.GetFloat32(o + rcv._tab.Pos)
	}
	return 0
}

// Stream returns the raw stream name bytes, nil when absent
func (rcv *ContinuousData) Stream() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(vtStream))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func ContinuousDataStart(builder *flatbuffers.Builder) {
	builder.StartObject(NumFields)
}

func ContinuousDataAddSamples(builder *flatbuffers.Builder, samples flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, samples, 0)
}

func ContinuousDataStartSamplesVector(builder *flatbuffers.Builder, numElems int) flatbuffers.UOffsetT {
	return builder.StartVector(4, numElems, 4)
}

func ContinuousDataAddEventCodes(builder *flatbuffers.Builder, eventCodes flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, eventCodes, 0)
}

func ContinuousDataStartEventCodesVector(builder *flatbuffers.Builder, numElems int) flatbuffers.UOffsetT {
	return builder.StartVector(2, numElems, 2)
}

func ContinuousDataAddNChannels(builder *flatbuffers.Builder, nChannels uint32) {
	builder.PrependUint32Slot(2, nChannels, 0)
}

func ContinuousDataAddNSamples(builder *flatbuffers.Builder, nSamples uint32) {
	builder.PrependUint32Slot(3, nSamples, 0)
}

func ContinuousDataAddSampleNum(builder *flatbuffers.Builder, sampleNum int64) {
	builder.PrependInt64Slot(4, sampleNum, 0)
}

func ContinuousDataAddTimestamp(builder *flatbuffers.Builder, timestamp float64) {
	builder.PrependFloat64Slot(5, timestamp, 0)
}

func ContinuousDataAddMessageId(builder *flatbuffers.Builder, messageID uint64) {
	builder.PrependUint64Slot(6, messageID, 0)
}

func ContinuousDataAddSampleRate(builder *flatbuffers.Builder, sampleRate float32) {
	builder.PrependFloat32Slot(7, sampleRate, 0)
}

func ContinuousDataAddStream(builder *flatbuffers.Builder, stream flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(8, stream, 0)
}

func ContinuousDataEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}
