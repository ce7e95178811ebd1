// ABOUTME: Wire schema package
// ABOUTME: Binary layout of one continuous data message
// Package wire defines the binary layout of a continuous data message.
//
// Each message is a single FlatBuffers buffer whose root is a ContinuousData
// table (see channel.fbs). Samples are flattened channel-major:
// samples[channel*n_samples+i] is sample i of channel channel. Event codes hold
// one 16-bit digital line mask per sample.
//
// Buffers arriving from the network must pass Verify before any accessor is
// used:
//
//	if err := wire.Verify(buf); err != nil {
//	    return err
//	}
//	msg := wire.GetRootAsContinuousData(buf, 0)
//	fmt.Println(msg.NChannels(), msg.NSamples())
package wire
