package diag

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCodec is returned by ParseCodec for unrecognized codec names.
	ErrUnknownCodec = errors.New("unknown codec")

	// ErrPending is returned by Future.Result before the future settles.
	ErrPending = errors.New("test still running")
)

// ConnectivityError is the failure of a connectivity test, enriched with how
// far the test progressed. Callers use HasConnected to tell a call that never
// connected from one that connected and then dropped.
type ConnectivityError struct {
	// Err is the failure reported by the probe.
	Err error

	// HasConnected is true if the probe reported a connection before failing.
	HasConnected bool

	// LatestSample is the last telemetry sample observed, or nil if none.
	LatestSample *Sample
}

func (e *ConnectivityError) Error() string {
	if e.HasConnected {
		return fmt.Sprintf("connectivity test failed after connecting: %v", e.Err)
	}
	return fmt.Sprintf("connectivity test failed before connecting: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}
