package diag

import (
	"errors"
	"fmt"
	"strings"
)

// Edge is a logical region tag selecting the media and signaling endpoints a
// test connects through.
type Edge string

// Known edges.
const (
	EdgeAshburn   Edge = "ashburn"
	EdgeDublin    Edge = "dublin"
	EdgeFrankfurt Edge = "frankfurt"
	EdgeRoaming   Edge = "roaming"
	EdgeSaoPaulo  Edge = "sao-paulo"
	EdgeSingapore Edge = "singapore"
	EdgeSydney    Edge = "sydney"
	EdgeTokyo     Edge = "tokyo"
	EdgeUmatilla  Edge = "umatilla"
)

// globalLabel is the host label of the edge-independent endpoint pool.
const globalLabel = "global"

// ErrUnknownEdge is returned by ParseEdge for unrecognized edge names.
var ErrUnknownEdge = errors.New("unknown edge")

var edgeRegions = map[Edge]string{
	EdgeAshburn:   "us1",
	EdgeDublin:    "ie1",
	EdgeFrankfurt: "de1",
	EdgeRoaming:   "gll",
	EdgeSaoPaulo:  "br1",
	EdgeSingapore: "sg1",
	EdgeSydney:    "au1",
	EdgeTokyo:     "jp1",
	EdgeUmatilla:  "us2",
}

var allEdges = []Edge{
	EdgeAshburn,
	EdgeDublin,
	EdgeFrankfurt,
	EdgeRoaming,
	EdgeSaoPaulo,
	EdgeSingapore,
	EdgeSydney,
	EdgeTokyo,
	EdgeUmatilla,
}

// Edges returns every known edge in a stable order.
func Edges() []Edge {
	out := make([]Edge, len(allEdges))
	copy(out, allEdges)
	return out
}

// ParseEdge resolves an edge name, ignoring case and surrounding whitespace.
func ParseEdge(s string) (Edge, error) {
	e := Edge(strings.ToLower(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEdge, s)
	}
	return e, nil
}

// Valid reports whether e is a known edge.
func (e Edge) Valid() bool {
	_, ok := edgeRegions[e]
	return ok
}

// String returns the edge name.
func (e Edge) String() string {
	return string(e)
}

// Region returns the signaling region code served by the edge, or an empty
// string for unknown edges.
func (e Edge) Region() string {
	return edgeRegions[e]
}

// HostLabel returns the first DNS label of the edge's endpoint pool.
// The roaming edge uses the edge-independent global pool.
func (e Edge) HostLabel() string {
	if e == EdgeRoaming || !e.Valid() {
		return globalLabel
	}
	return string(e)
}
