//go:build e2e

package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/rtcdiag/pkg/diag"
	"github.com/thesyncim/rtcdiag/pkg/diag/pionprobe"
	"github.com/thesyncim/rtcdiag/pkg/echo"
)

// TestProbes_FullDiagnostic runs both tests the way the CLI does: a
// connectivity call through the echo server, then a full-length bitrate
// test.
func TestProbes_FullDiagnostic(t *testing.T) {
	srv := startEcho(t, echo.DefaultConfig())
	signalURL := "ws://" + srv.Addr() + "/signal"

	connectivity := diag.NewConnectivityRunner(
		pionprobe.NewConnectivityFactory(signalURL, pionprobe.WithCallDuration(5*time.Second)),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	report, err := connectivity.Run(diag.EdgeSydney, "token", nil, nil).Wait(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, report.CallID)
	assert.Equal(t, diag.CodecOpus, report.Codec)
	assert.NotEmpty(t, report.Samples, "receiver reports should arrive within 5s")
	assert.NotEmpty(t, report.CallQuality)
	assert.Greater(t, report.MOS.Average, 4.0)

	bitrate := diag.NewBitrateRunner(pionprobe.NewBitrateFactory())
	start := time.Now()
	rate, err := bitrate.Run(diag.EdgeSydney, nil).Wait(ctx)
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, diag.BitrateTestDuration)
	assert.Less(t, elapsed, diag.BitrateTestDuration+5*time.Second)
	assert.GreaterOrEqual(t, len(rate.Values), 10)
	assert.Greater(t, rate.AverageBitrate, 1e6, "loopback should sustain over 1 Mbps")
}

// TestProbes_DroppedCall shuts the echo server down mid-call and expects
// the failure to say the call had connected.
func TestProbes_DroppedCall(t *testing.T) {
	srv, err := echo.NewServer(echo.DefaultConfig())
	require.NoError(t, err)
	addr, err := srv.Start()
	require.NoError(t, err)

	connectivity := diag.NewConnectivityRunner(
		pionprobe.NewConnectivityFactory("ws://"+addr+"/signal", pionprobe.WithCallDuration(30*time.Second)),
	)
	future := connectivity.Run(diag.EdgeRoaming, "token", nil, []diag.Codec{diag.CodecPCMU})

	// Give the call time to connect and collect a receiver report.
	time.Sleep(4 * time.Second)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	require.NoError(t, srv.Shutdown(shutdownCtx))
	cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err = future.Wait(ctx)

	var connErr *diag.ConnectivityError
	require.ErrorAs(t, err, &connErr)
	assert.True(t, connErr.HasConnected)
	assert.ErrorIs(t, err, pionprobe.ErrSignalingClosed)
}
