package graph

// Vertex is the capability set shared by domain nodes and clusters.
// The rest of the system handles both through it.
type Vertex interface {
	ID() string
	Label() string
	Requests() []Request
	HasEdgeTo(other Vertex) bool
	EdgeTo(other Vertex) *Edge
	IsCluster() bool
}

// NodeType distinguishes hostnames that served a top-level document from
// hostnames only seen serving sub-resources
type NodeType string

const (
	NodeEmbedded NodeType = "embedded"
	NodeRoot     NodeType = "root"
)

// Node is a hostname vertex
type Node struct {
	hostname string
	nodeType NodeType
	requests []Request

	// direct outgoing edges, keyed by target hostname
	adjacent map[string]*Edge
	// outgoing aggregate edges keyed by cluster id, rebuilt by the graph
	aggregates map[string]*Edge
}

func newNode(hostname string) *Node {
	return &Node{
		hostname:   hostname,
		nodeType:   NodeEmbedded,
		adjacent:   make(map[string]*Edge),
		aggregates: make(map[string]*Edge),
	}
}

// Hostname returns the node's hostname
func (n *Node) Hostname() string { return n.hostname }

// ID returns the hostname, which is the node identity
func (n *Node) ID() string { return n.hostname }

// Label returns the display label
func (n *Node) Label() string { return n.hostname }

// Type returns the node type
func (n *Node) Type() NodeType { return n.nodeType }

// IsCluster is always false for domain nodes
func (n *Node) IsCluster() bool { return false }

// AddRequest appends a request to the node history.
// It returns true when the request promoted the node from embedded to root.
func (n *Node) AddRequest(req Request) bool {
	n.requests = append(n.requests, req)
	if req.Type == RequestRoot && n.nodeType == NodeEmbedded {
		n.nodeType = NodeRoot
		return true
	}
	return false
}

// Requests returns a copy of the request history in arrival order
func (n *Node) Requests() []Request {
	out := make([]Request, len(n.requests))
	copy(out, n.requests)
	return out
}

// RequestCount returns the number of observed requests
func (n *Node) RequestCount() int { return len(n.requests) }

// HasEdgeTo reports whether an outgoing edge towards other exists
func (n *Node) HasEdgeTo(other Vertex) bool {
	return n.EdgeTo(other) != nil
}

// EdgeTo returns the outgoing edge towards other, or nil.
// Edges towards a cluster are the aggregate edges derived while it is active.
func (n *Node) EdgeTo(other Vertex) *Edge {
	if other == nil {
		return nil
	}
	if other.IsCluster() {
		return n.aggregates[other.ID()]
	}
	return n.adjacent[other.ID()]
}

// Neighbours returns the hostnames reachable through direct outgoing edges
func (n *Node) Neighbours() []string {
	out := make([]string, 0, len(n.adjacent))
	for hostname := range n.adjacent {
		out = append(out, hostname)
	}
	return sortedStrings(out)
}
