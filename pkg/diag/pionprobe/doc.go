// Package pionprobe implements the diag probe capabilities on top of Pion
// WebRTC.
//
// NewConnectivityFactory places a short test call against a signaling
// endpoint (see the echo package) with a synthetic microphone and samples
// call quality from RTCP receiver reports. NewBitrateFactory measures
// transport capacity with two in-process PeerConnections joined by a
// DataChannel over the caller's ICE servers.
//
//	connectivity := diag.NewConnectivityRunner(
//	    pionprobe.NewConnectivityFactory("wss://diag.example.com/signal",
//	        pionprobe.WithLoggerFactory(lf)),
//	    diag.WithLoggerFactory(lf),
//	)
//	bitrate := diag.NewBitrateRunner(pionprobe.NewBitrateFactory(), diag.WithLoggerFactory(lf))
package pionprobe
