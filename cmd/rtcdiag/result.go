package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/thesyncim/rtcdiag/pkg/diag"
)

// Connectivity outcomes.
const (
	outcomePassed         = "passed"
	outcomeNeverConnected = "never-connected"
	outcomeDropped        = "dropped"
)

// Result is everything a diagnostic run produced.
type Result struct {
	Edge diag.Edge `json:"edge"`

	Connectivity       *diag.ConnectivityReport `json:"connectivity,omitempty"`
	ConnectivityResult string                   `json:"connectivityResult"`
	ConnectivityError  string                   `json:"connectivityError,omitempty"`
	LatestSample       *diag.Sample             `json:"latestSample,omitempty"`

	Bitrate      *diag.BitrateReport `json:"bitrate,omitempty"`
	BitrateError string              `json:"bitrateError,omitempty"`
}

func (r *Result) setConnectivity(report *diag.ConnectivityReport, err error) {
	if err == nil {
		r.Connectivity = report
		r.ConnectivityResult = outcomePassed
		return
	}
	r.ConnectivityError = err.Error()
	r.ConnectivityResult = outcomeNeverConnected
	var connErr *diag.ConnectivityError
	if errors.As(err, &connErr) {
		if connErr.HasConnected {
			r.ConnectivityResult = outcomeDropped
		}
		r.LatestSample = connErr.LatestSample
	}
}

func (r *Result) setBitrate(report *diag.BitrateReport, err error) {
	if err != nil {
		r.BitrateError = err.Error()
		return
	}
	r.Bitrate = report
}

// OK reports whether every test that ran passed.
func (r *Result) OK() bool {
	return r.ConnectivityResult == outcomePassed && r.BitrateError == ""
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%.0f ms", float64(d)/float64(time.Millisecond))
}

// writeSummary prints a human readable summary of r.
func writeSummary(w io.Writer, r *Result) {
	fmt.Fprintf(w, "rtcdiag results (edge %s)\n", r.Edge)
	fmt.Fprintf(w, "========================\n")

	switch r.ConnectivityResult {
	case outcomePassed:
		c := r.Connectivity
		fmt.Fprintf(w, "Connectivity:  passed (call %s, %s)\n", c.CallID, c.Codec)
		fmt.Fprintf(w, "  Quality:     %s (MOS avg %.2f, min %.2f)\n", c.CallQuality, c.MOS.Average, c.MOS.Min)
		fmt.Fprintf(w, "  RTT:         avg %.0f ms, max %.0f ms\n", c.RTT.Average, c.RTT.Max)
		fmt.Fprintf(w, "  Jitter:      avg %.1f ms, max %.1f ms\n", c.Jitter.Average, c.Jitter.Max)
		fmt.Fprintf(w, "  Setup:       signaling %s, ice %s\n", ms(c.NetworkTiming.Signaling.Duration), ms(c.NetworkTiming.ICE.Duration))
		if c.SelectedPair != nil {
			fmt.Fprintf(w, "  Path:        %s %s -> %s %s (%s)\n",
				c.SelectedPair.LocalType, c.SelectedPair.LocalAddr,
				c.SelectedPair.RemoteType, c.SelectedPair.RemoteAddr, c.SelectedPair.Protocol)
		}
		fmt.Fprintf(w, "  TURN:        %v\n", c.IsTURNRequired)
		for _, warn := range c.Warnings {
			fmt.Fprintf(w, "  Warning:     %s at %s\n", warn.Name, warn.Timestamp.Format(time.RFC3339))
		}
	case outcomeDropped:
		fmt.Fprintf(w, "Connectivity:  FAILED, connected then dropped\n")
		fmt.Fprintf(w, "  Error:       %s\n", r.ConnectivityError)
		if s := r.LatestSample; s != nil {
			fmt.Fprintf(w, "  Last sample: rtt %s, jitter %s, loss %.1f%%, MOS %.2f\n", ms(s.RTT), ms(s.Jitter), s.PacketsLostFraction, s.MOS)
		}
	default:
		fmt.Fprintf(w, "Connectivity:  FAILED, never connected\n")
		fmt.Fprintf(w, "  Error:       %s\n", r.ConnectivityError)
	}

	switch {
	case r.Bitrate != nil:
		fmt.Fprintf(w, "Bitrate:       avg %.0f kbps over %d samples (TURN %v)\n",
			r.Bitrate.AverageBitrate/1000, len(r.Bitrate.Values), r.Bitrate.IsTURNRequired)
	case r.BitrateError != "":
		fmt.Fprintf(w, "Bitrate:       FAILED\n")
		fmt.Fprintf(w, "  Error:       %s\n", r.BitrateError)
	default:
		fmt.Fprintf(w, "Bitrate:       skipped\n")
	}
}
