// rtcdiag runs the voice-call network diagnostic against an echo endpoint.
//
// It places a short test call to measure connectivity and call quality, then
// measures the bitrate the ICE path sustains.
//
// Usage:
//
//	go run ./cmd/rtcdiag -signal ws://localhost:8080/signal -edge ashburn
//	go run ./cmd/rtcdiag -config rtcdiag.yaml -json
//
// The exit code is 1 if any test failed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/logging"

	"github.com/thesyncim/rtcdiag/pkg/diag"
	"github.com/thesyncim/rtcdiag/pkg/diag/pionprobe"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	edge := flag.String("edge", "", "edge location (e.g. ashburn, dublin, roaming)")
	token := flag.String("token", "", "access token sent to the signaling endpoint")
	signalingURL := flag.String("signal", "", "signaling WebSocket URL")
	codecs := flag.String("codecs", "", "comma-separated codec preferences (opus, pcmu)")
	callDuration := flag.Duration("call-duration", 0, "how long the test call stays up once connected")
	skipBitrate := flag.Bool("skip-bitrate", false, "skip the bitrate test")
	logLevel := flag.String("log-level", "", "log level (disabled, error, warn, info, debug, trace)")
	asJSON := flag.Bool("json", false, "print the results as JSON")
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "edge":
			cfg.Edge = *edge
		case "token":
			cfg.Token = *token
		case "signal":
			cfg.SignalingURL = *signalingURL
		case "codecs":
			cfg.Codecs = strings.Split(*codecs, ",")
		case "call-duration":
			cfg.CallDuration = *callDuration
		case "skip-bitrate":
			cfg.SkipBitrate = *skipBitrate
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	p, err := cfg.validate()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res := run(ctx, p)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			log.Fatalf("Failed to encode results: %v", err)
		}
	} else {
		writeSummary(os.Stdout, res)
	}

	if !res.OK() {
		os.Exit(1)
	}
}

// run executes the connectivity test and, unless skipped, the bitrate test.
func run(ctx context.Context, p plan) *Result {
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = p.logLevel
	opts := []diag.Option{diag.WithLoggerFactory(lf)}

	res := &Result{Edge: p.edge}

	connectivity := diag.NewConnectivityRunner(
		pionprobe.NewConnectivityFactory(p.signalingURL,
			pionprobe.WithLoggerFactory(lf),
			pionprobe.WithCallDuration(p.callDuration),
		),
		opts...,
	)
	// Signaling, ICE and the call itself all finish well within this.
	callCtx, cancel := context.WithTimeout(ctx, p.callDuration+2*diag.SignalingTimeout)
	report, err := connectivity.Run(p.edge, p.token, p.iceServers, p.codecs).Wait(callCtx)
	cancel()
	res.setConnectivity(report, err)

	if p.skipBitrate || ctx.Err() != nil {
		return res
	}

	bitrate := diag.NewBitrateRunner(
		pionprobe.NewBitrateFactory(pionprobe.WithLoggerFactory(lf)),
		opts...,
	)
	rateCtx, cancel := context.WithTimeout(ctx, diag.BitrateTestDuration+5*time.Second)
	defer cancel()
	rate, err := bitrate.Run(p.edge, p.iceServers).Wait(rateCtx)
	res.setBitrate(rate, err)
	return res
}
