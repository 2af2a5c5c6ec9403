// Package signaling defines the WebSocket protocol spoken between the
// connectivity probe and the echo endpoint.
//
// A session is a single WebSocket connection. The caller sends an offer with
// complete ICE candidates, the endpoint replies with an answer carrying the
// call id, and either side ends the call with a hangup. The endpoint reports
// refusals with an error message before closing.
package signaling

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/pion/webrtc/v4"
)

// Query parameters of the signaling URL.
const (
	QueryToken = "token"
	QueryEdge  = "edge"
)

// MessageType identifies a signaling message.
type MessageType string

const (
	TypeOffer  MessageType = "offer"
	TypeAnswer MessageType = "answer"
	TypeHangup MessageType = "hangup"
	TypeError  MessageType = "error"
)

// Message is one JSON frame on the signaling connection.
type Message struct {
	Type   MessageType                `json:"type"`
	SDP    *webrtc.SessionDescription `json:"sdp,omitempty"`
	CallID string                     `json:"callId,omitempty"`
	Error  string                     `json:"error,omitempty"`
}

// ErrInvalidURL is returned by DialURL for URLs that cannot carry signaling.
var ErrInvalidURL = errors.New("invalid signaling url")

// DialURL returns the WebSocket URL for base with the token and edge set as
// query parameters. http and https schemes are mapped to ws and wss.
func DialURL(base, token, edge string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	q := u.Query()
	if token != "" {
		q.Set(QueryToken, token)
	}
	if edge != "" {
		q.Set(QueryEdge, edge)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
