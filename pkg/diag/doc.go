// Package diag orchestrates the network tests that decide whether an
// environment can sustain real-time voice calls.
//
// Two runners drive external probe engines and turn their event streams into
// a single settled Future:
//
//   - ConnectivityRunner places a short test call through a signaling service
//     and reports call quality, or fails with a *ConnectivityError that says
//     whether the call ever connected and what the last telemetry sample was.
//   - BitrateRunner measures raw transport capacity over the ICE path and stops
//     its probe after BitrateTestDuration.
//
// Both runners rewrite the caller's ICE servers for the selected edge with
// Regionalize before the probe is constructed.
//
// # Quick Start
//
//	runner := diag.NewBitrateRunner(pionprobe.NewBitrateFactory(),
//	    diag.WithLoggerFactory(logging.NewDefaultLoggerFactory()),
//	)
//	report, err := runner.Run(diag.EdgeSydney, servers).Wait(ctx)
//
// Probes are supplied as factories, so tests can substitute scripted fakes.
// The pionprobe subpackage provides implementations built on Pion WebRTC.
package diag
