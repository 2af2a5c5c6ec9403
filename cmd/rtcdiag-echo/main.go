// rtcdiag echo endpoint
//
// This server answers test calls from the rtcdiag probes and from its own
// browser page, loops each caller's audio back and sends RTCP receiver
// reports so the caller can measure round trip time, jitter and loss.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/logging"

	"github.com/thesyncim/rtcdiag/pkg/echo"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	tokens := flag.String("tokens", "", "comma-separated accept-list of caller tokens (empty accepts all)")
	logLevel := flag.String("log-level", "info", "pion log level (error, warn, info, debug, trace)")
	flag.Parse()

	lf := logging.NewDefaultLoggerFactory()
	level, err := parseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	lf.DefaultLogLevel = level

	cfg := echo.DefaultConfig()
	cfg.Addr = *addr
	cfg.LoggerFactory = lf
	if *tokens != "" {
		cfg.Tokens = strings.Split(*tokens, ",")
	}

	srv, err := echo.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	listen, err := srv.Start()
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	fmt.Printf(`
rtcdiag echo endpoint
=====================
Browser check:  http://%[1]s/?autostart=1
Signaling:      ws://%[1]s/signal
Metrics:        http://%[1]s/metrics
`, listen)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Shutdown: %v", err)
	}
}

func parseLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "error":
		return logging.LogLevelError, nil
	case "warn":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return logging.LogLevelDisabled, fmt.Errorf("unknown level %q", s)
	}
}
