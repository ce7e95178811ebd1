// ABOUTME: High-level Falcon producer and receiver API
// ABOUTME: Wraps protocol and transport into host-facing lifecycles
// Package falcon provides the two ends of a Falcon data stream.
//
//   - Output: takes host sample blocks, publishes one message per block
//   - Input: polls a subscriber and feeds reconstructed blocks to a Sink
//
// Configuration changes on an Input are refused while acquisition runs;
// stop, reconfigure, reconnect and start again.
//
// Example Output:
//
//	out, err := falcon.NewOutput(falcon.OutputConfig{Port: 3335})
//	err = out.StartAcquisition()
//	err = out.Process(falcon.HostBlock{
//	    Channels:   channels,
//	    NumSamples: 1024,
//	    SampleRate: 30000,
//	})
//
// Example Input:
//
//	in, err := falcon.NewInput(falcon.InputConfig{Address: "127.0.0.1", Port: 3335})
//	err = in.Connect()
//	err = in.Start(falcon.SinkFunc(func(b protocol.Block) { ... }))
//	defer in.Stop()
package falcon
