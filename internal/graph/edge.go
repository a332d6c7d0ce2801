package graph

import (
	"time"

	"github.com/cockroachdb/errors"
)

// EdgeID identifies an edge within one graph
type EdgeID int

// EdgeType is the dependency relation an edge stands for
type EdgeType string

const (
	EdgeDependency EdgeType = "dependency"
	EdgeRedirect   EdgeType = "redirect"
)

// EdgeKind tags direct domain-to-domain edges apart from the synthetic
// edges that stand in for traffic crossing a cluster boundary
type EdgeKind string

const (
	EdgeDirect           EdgeKind = "direct"
	EdgeClusterAggregate EdgeKind = "cluster_aggregate"
)

// Edge is a directed, typed link between two vertices
type Edge struct {
	id       EdgeID
	from     Vertex
	to       Vertex
	edgeType EdgeType
	kind     EdgeKind
	links    []Link

	// direct edges folded into an aggregate edge, in id order
	underlying []*Edge
}

func newDirectEdge(id EdgeID, from, to *Node, edgeType EdgeType) *Edge {
	return &Edge{
		id:       id,
		from:     from,
		to:       to,
		edgeType: edgeType,
		kind:     EdgeDirect,
	}
}

func newAggregateEdge(id EdgeID, from, to Vertex) *Edge {
	return &Edge{
		id:   id,
		from: from,
		to:   to,
		kind: EdgeClusterAggregate,
	}
}

// ID returns the edge id
func (e *Edge) ID() EdgeID { return e.id }

// From returns the source vertex
func (e *Edge) From() Vertex { return e.from }

// To returns the target vertex
func (e *Edge) To() Vertex { return e.to }

// Kind returns whether the edge is direct or a cluster aggregate
func (e *Edge) Kind() EdgeKind { return e.kind }

// IsClusterEdge reports whether the edge aggregates traffic across a cluster boundary
func (e *Edge) IsClusterEdge() bool { return e.kind == EdgeClusterAggregate }

// Type returns the edge type. An aggregate edge is a redirect edge only
// when every edge folded into it is one.
func (e *Edge) Type() EdgeType {
	if e.kind == EdgeDirect {
		return e.edgeType
	}
	for _, u := range e.underlying {
		if u.edgeType != EdgeRedirect {
			return EdgeDependency
		}
	}
	if len(e.underlying) == 0 {
		return EdgeDependency
	}
	return EdgeRedirect
}

// Links returns the recorded occurrences. For aggregate edges this is the
// concatenation of the underlying edges' links.
func (e *Edge) Links() []Link {
	if e.kind == EdgeDirect {
		out := make([]Link, len(e.links))
		copy(out, e.links)
		return out
	}
	var out []Link
	for _, u := range e.underlying {
		out = append(out, u.links...)
	}
	return out
}

// LinkCount returns the number of recorded occurrences
func (e *Edge) LinkCount() int {
	if e.kind == EdgeDirect {
		return len(e.links)
	}
	count := 0
	for _, u := range e.underlying {
		count += len(u.links)
	}
	return count
}

// Underlying returns the direct edges folded into an aggregate edge
func (e *Edge) Underlying() []*Edge {
	out := make([]*Edge, len(e.underlying))
	copy(out, e.underlying)
	return out
}

// AddRequest records a request issued from fromURL
func (e *Edge) AddRequest(fromURL string, req Request) error {
	return e.addLink(Link{Kind: LinkRequest, From: fromURL, To: req.URL, Timestamp: req.Timestamp})
}

// AddRedirect records a redirect
func (e *Edge) AddRedirect(r Redirect) error {
	return e.addLink(Link{Kind: LinkRedirect, From: r.InitialURL, To: r.FinalURL, Timestamp: r.Timestamp})
}

// AddReferral records a navigation from fromURL to the request URL
func (e *Edge) AddReferral(fromURL string, req Request) error {
	return e.addLink(Link{Kind: LinkReferral, From: fromURL, To: req.URL, Timestamp: req.Timestamp})
}

func (e *Edge) addLink(link Link) error {
	if e.kind != EdgeDirect {
		return errors.Wrapf(ErrPrecondition, "edge %d aggregates cluster traffic and cannot record links", e.id)
	}
	if link.Timestamp.IsZero() {
		link.Timestamp = time.Now()
	}
	e.links = append(e.links, link)
	return nil
}
