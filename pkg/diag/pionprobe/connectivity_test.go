package pionprobe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/rtcdiag/pkg/diag"
	"github.com/thesyncim/rtcdiag/pkg/echo"
	"github.com/thesyncim/rtcdiag/pkg/signaling"
)

// recorder collects the events of one connectivity probe.
type recorder struct {
	mu        sync.Mutex
	events    []string
	samples   []diag.Sample
	completed chan *diag.ConnectivityReport
	failed    chan error
}

func record(p diag.ConnectivityProbe) *recorder {
	r := &recorder{
		completed: make(chan *diag.ConnectivityReport, 1),
		failed:    make(chan error, 1),
	}
	p.OnConnected(func() { r.add("connected") })
	p.OnSample(func(s diag.Sample) {
		r.mu.Lock()
		r.samples = append(r.samples, s)
		r.mu.Unlock()
		r.add("sample")
	})
	p.OnWarning(func(name string, _ any) { r.add("warning:" + name) })
	p.OnCompleted(func(report *diag.ConnectivityReport) {
		r.add("completed")
		r.completed <- report
	})
	p.OnFailed(func(err error) {
		r.add("failed")
		r.failed <- err
	})
	return r
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) waitFailed(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.failed:
		return err
	case report := <-r.completed:
		t.Fatalf("unexpected completion: %+v", report)
	case <-time.After(15 * time.Second):
		t.Fatal("probe did not terminate")
	}
	return nil
}

func probeOptions(timeout time.Duration) diag.ConnectivityOptions {
	return diag.ConnectivityOptions{
		Edge:             diag.EdgeAshburn,
		SignalingTimeout: timeout,
		FakeMicInput:     true,
	}
}

func TestConnectivityFactoryRequiresFakeMic(t *testing.T) {
	opts := probeOptions(time.Second)
	opts.FakeMicInput = false
	_, err := NewConnectivityFactory("ws://127.0.0.1:1/signal")("token", opts)
	assert.ErrorIs(t, err, ErrMicrophoneUnavailable)
}

func TestConnectivityFactoryRejectsBadURL(t *testing.T) {
	_, err := NewConnectivityFactory("ftp://example.com/signal")("token", probeOptions(time.Second))
	assert.ErrorIs(t, err, signaling.ErrInvalidURL)
}

func TestConnectivityFactoryRejectsUnknownCodec(t *testing.T) {
	opts := probeOptions(time.Second)
	opts.CodecPreferences = []diag.Codec{"speex"}
	_, err := NewConnectivityFactory("ws://127.0.0.1:1/signal")("token", opts)
	assert.ErrorIs(t, err, diag.ErrUnknownCodec)
}

func TestConnectivityProbeStartTwice(t *testing.T) {
	p, err := NewConnectivityFactory("ws://127.0.0.1:1/signal")("token", probeOptions(time.Second))
	require.NoError(t, err)
	r := record(p)

	require.NoError(t, p.Start())
	assert.ErrorIs(t, p.Start(), errAlreadyStarted)
	r.waitFailed(t)
}

func TestConnectivityProbeSignalingRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bad-token", r.URL.Query().Get(signaling.QueryToken))
		assert.Equal(t, "ashburn", r.URL.Query().Get(signaling.QueryEdge))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := NewConnectivityFactory(srv.URL)("bad-token", probeOptions(5*time.Second))
	require.NoError(t, err)
	r := record(p)
	require.NoError(t, p.Start())

	err = r.waitFailed(t)
	assert.ErrorIs(t, err, ErrSignalingRejected)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, []string{"failed"}, r.snapshot())
}

func TestConnectivityProbeSignalingTimeout(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Swallow the offer and never answer.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p, err := NewConnectivityFactory(srv.URL)("token", probeOptions(2*time.Second))
	require.NoError(t, err)
	r := record(p)

	start := time.Now()
	require.NoError(t, p.Start())
	err = r.waitFailed(t)
	assert.ErrorIs(t, err, ErrSignalingTimeout)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, []string{"failed"}, r.snapshot())
}

func TestConnectivityProbeRemoteError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var msg signaling.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.WriteJSON(signaling.Message{Type: signaling.TypeError, Error: "no capacity"})
	}))
	defer srv.Close()

	p, err := NewConnectivityFactory(srv.URL)("token", probeOptions(5*time.Second))
	require.NoError(t, err)
	r := record(p)
	require.NoError(t, p.Start())

	err = r.waitFailed(t)
	assert.ErrorIs(t, err, ErrSignalingRejected)
	assert.Contains(t, err.Error(), "no capacity")
}

func startEcho(t *testing.T, cfg echo.Config) string {
	t.Helper()
	srv, err := echo.NewServer(cfg)
	require.NoError(t, err)
	addr, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return "http://" + addr + "/signal"
}

func TestConnectivityProbeAgainstEcho(t *testing.T) {
	if testing.Short() {
		t.Skip("places a real call")
	}
	url := startEcho(t, echo.DefaultConfig())

	for _, codec := range []diag.Codec{diag.CodecPCMU, diag.CodecOpus} {
		t.Run(string(codec), func(t *testing.T) {
			opts := probeOptions(10 * time.Second)
			opts.CodecPreferences = []diag.Codec{codec}
			p, err := NewConnectivityFactory(url, WithCallDuration(3*time.Second))("token", opts)
			require.NoError(t, err)
			r := record(p)
			require.NoError(t, p.Start())

			var report *diag.ConnectivityReport
			select {
			case report = <-r.completed:
			case err := <-r.failed:
				t.Fatalf("call failed: %v", err)
			case <-time.After(30 * time.Second):
				t.Fatal("call did not complete")
			}

			events := r.snapshot()
			require.NotEmpty(t, events)
			assert.Equal(t, "connected", events[0])
			assert.Equal(t, "completed", events[len(events)-1])

			assert.Len(t, report.CallID, 36)
			assert.Equal(t, diag.EdgeAshburn, report.Edge)
			assert.Equal(t, codec, report.Codec)
			assert.False(t, report.IsTURNRequired)
			require.NotNil(t, report.SelectedPair)
			assert.Equal(t, "host", report.SelectedPair.LocalType)
			assert.Positive(t, report.NetworkTiming.Signaling.Duration)
			assert.GreaterOrEqual(t, report.TestTiming.Duration, 3*time.Second)
			r.mu.Lock()
			assert.Len(t, report.Samples, len(r.samples))
			r.mu.Unlock()
		})
	}
}

func TestConnectivityRunnerAgainstEcho(t *testing.T) {
	if testing.Short() {
		t.Skip("places a real call")
	}
	cfg := echo.DefaultConfig()
	cfg.Tokens = []string{"good"}
	url := startEcho(t, cfg)

	runner := diag.NewConnectivityRunner(NewConnectivityFactory(url, WithCallDuration(2*time.Second)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report, err := runner.Run(diag.EdgeDublin, "good", nil, []diag.Codec{diag.CodecPCMU}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, diag.EdgeDublin, report.Edge)
	assert.NotEmpty(t, report.CallID)

	_, err = runner.Run(diag.EdgeDublin, "bad", nil, nil).Wait(ctx)
	var connErr *diag.ConnectivityError
	require.ErrorAs(t, err, &connErr)
	assert.False(t, connErr.HasConnected)
	assert.Nil(t, connErr.LatestSample)
	assert.ErrorIs(t, err, ErrSignalingRejected)
}

// startPCMUAnswerer serves a callee whose media engine only knows PCMU and
// reports the codec of the audio it receives.
func startPCMUAnswerer(t *testing.T) (string, <-chan string) {
	t.Helper()
	me := &webrtc.MediaEngine{}
	require.NoError(t, me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio))
	api := webrtc.NewAPI(webrtc.WithMediaEngine(me))

	received := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var offer signaling.Message
		if err := conn.ReadJSON(&offer); err != nil || offer.SDP == nil {
			return
		}

		pc, err := api.NewPeerConnection(webrtc.Configuration{})
		if !assert.NoError(t, err) {
			return
		}
		defer pc.Close()
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			select {
			case received <- track.Codec().MimeType:
			default:
			}
		})
		if !assert.NoError(t, pc.SetRemoteDescription(*offer.SDP)) {
			return
		}
		answer, err := pc.CreateAnswer(nil)
		if !assert.NoError(t, err) {
			return
		}
		gathered := webrtc.GatheringCompletePromise(pc)
		if !assert.NoError(t, pc.SetLocalDescription(answer)) {
			return
		}
		<-gathered
		if err := conn.WriteJSON(signaling.Message{
			Type:   signaling.TypeAnswer,
			SDP:    pc.LocalDescription(),
			CallID: "6f1c3c52-7d0e-4b8e-9f3a-2d1f5a9c0e11",
		}); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL, received
}

func TestConnectivityFallsBackToRemoteCodec(t *testing.T) {
	if testing.Short() {
		t.Skip("places a real call")
	}
	url, received := startPCMUAnswerer(t)

	opts := probeOptions(10 * time.Second)
	opts.CodecPreferences = []diag.Codec{diag.CodecOpus, diag.CodecPCMU}
	p, err := NewConnectivityFactory(url, WithCallDuration(2*time.Second))("token", opts)
	require.NoError(t, err)
	r := record(p)
	require.NoError(t, p.Start())

	var report *diag.ConnectivityReport
	select {
	case report = <-r.completed:
	case err := <-r.failed:
		t.Fatalf("call failed: %v", err)
	case <-time.After(30 * time.Second):
		t.Fatal("call did not complete")
	}
	assert.Equal(t, diag.CodecPCMU, report.Codec)

	select {
	case mime := <-received:
		assert.Equal(t, webrtc.MimeTypePCMU, mime)
	case <-time.After(5 * time.Second):
		t.Fatal("callee received no audio")
	}
}

func TestConnectivityCallDroppedAfterConnect(t *testing.T) {
	if testing.Short() {
		t.Skip("places a real call")
	}
	srv, err := echo.NewServer(echo.DefaultConfig())
	require.NoError(t, err)
	addr, err := srv.Start()
	require.NoError(t, err)
	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	t.Cleanup(shutdown)

	p, err := NewConnectivityFactory("http://"+addr+"/signal", WithCallDuration(30*time.Second))("token", probeOptions(10*time.Second))
	require.NoError(t, err)
	r := record(p)
	require.NoError(t, p.Start())

	require.Eventually(t, func() bool {
		events := r.snapshot()
		return len(events) > 0 && events[0] == "connected"
	}, 15*time.Second, 50*time.Millisecond)
	shutdown()

	err = r.waitFailed(t)
	assert.ErrorIs(t, err, ErrSignalingClosed)
	events := r.snapshot()
	assert.Equal(t, "connected", events[0])
	assert.Equal(t, "failed", events[len(events)-1])
}
