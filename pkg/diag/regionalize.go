package diag

import (
	"strings"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

// poolDomains are the domains whose hosts are served per edge. A host in one
// of these domains is named "<label>.<domain>", where label is either the
// global label or an edge name.
var poolDomains = []string{
	"stun.twilio.com",
	"turn.twilio.com",
}

// Regionalize returns a copy of servers with the host of every pooled STUN or
// TURN URL moved to the pool of edge. Port, transport, username and
// credential are left untouched.
//
// Regionalize does not validate its input: URLs that do not parse, or whose
// host is outside the known pools, are passed through unchanged. The input
// slice is never modified.
func Regionalize(edge Edge, servers []webrtc.ICEServer) []webrtc.ICEServer {
	if servers == nil {
		return nil
	}
	label := edge.HostLabel()
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if server.URLs == nil {
			continue
		}
		urls := make([]string, len(server.URLs))
		for j, raw := range server.URLs {
			urls[j] = regionalizeURL(label, raw)
		}
		out[i].URLs = urls
	}
	return out
}

// regionalizeURL swaps the pool label of raw's host for label.
func regionalizeURL(label, raw string) string {
	uri, err := stun.ParseURI(raw)
	if err != nil {
		return raw
	}
	domain, ok := pooledDomain(uri.Host)
	if !ok {
		return raw
	}

	// The host follows the scheme separator; locate it in the raw string so
	// every other byte is preserved.
	sep := strings.IndexByte(raw, ':')
	if sep < 0 {
		return raw
	}
	rest := raw[sep+1:]
	at := strings.Index(strings.ToLower(rest), strings.ToLower(uri.Host))
	if at < 0 {
		return raw
	}
	start := sep + 1 + at
	end := start + len(uri.Host)
	return raw[:start] + label + "." + domain + raw[end:]
}

// pooledDomain reports whether host belongs to an edge pool and returns the
// pool domain.
func pooledDomain(host string) (string, bool) {
	first, domain, ok := strings.Cut(strings.ToLower(host), ".")
	if !ok {
		return "", false
	}
	if first != globalLabel && !Edge(first).Valid() {
		return "", false
	}
	for _, d := range poolDomains {
		if domain == d {
			return d, true
		}
	}
	return "", false
}
