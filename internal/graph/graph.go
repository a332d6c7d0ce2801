// Package graph holds the in-memory domain graph of one monitoring session:
// hostname nodes, typed directed edges, clusters and the observer bus.
//
// The graph is not safe for concurrent use. Traffic and user events are
// expected to arrive serially, each operation running to completion.
package graph

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// Graph is the registry of nodes, edges and clusters
type Graph struct {
	mode    Mode
	adapter Adapter

	nodes    map[string]*Node
	edges    map[EdgeID]*Edge
	clusters map[string]*Cluster
	// hostname -> id of the cluster the node belongs to
	membership map[string]string

	edgeSeq Sequence
	bus     bus
	log     *logrus.Entry
}

// New creates a headless graph. Visualisation operations fail on it.
func New() *Graph {
	return &Graph{
		mode:       ModeHeadless,
		nodes:      make(map[string]*Node),
		edges:      make(map[EdgeID]*Edge),
		clusters:   make(map[string]*Cluster),
		membership: make(map[string]string),
		log:        logrus.WithField("component", "graph"),
	}
}

// NewInteractive creates a graph driving the given visualisation adapter
func NewInteractive(adapter Adapter) (*Graph, error) {
	if adapter == nil {
		return nil, errors.Wrap(ErrPrecondition, "interactive graph needs a visualisation adapter")
	}

	g := New()
	g.mode = ModeInteractive
	g.adapter = adapter

	if err := adapter.SetupListeners(g); err != nil {
		return nil, errors.Wrap(err, "failed to set up visualisation listeners")
	}
	return g, nil
}

// Mode returns the mode fixed at construction
func (g *Graph) Mode() Mode { return g.mode }

// CreateNode registers a node for hostname.
// An existing hostname is rejected with ErrDuplicateEntity so accumulated
// history is never replaced.
func (g *Graph) CreateNode(hostname string) (*Node, error) {
	hostname = normalizeHostname(hostname)
	if hostname == "" {
		return nil, errors.Wrap(ErrPrecondition, "hostname is empty")
	}
	if _, exists := g.nodes[hostname]; exists {
		return nil, errors.Wrapf(ErrDuplicateEntity, "node %q already exists", hostname)
	}

	node := newNode(hostname)
	g.nodes[hostname] = node
	g.log.Debugf("Node created: %s", hostname)

	return node, g.NotifyForNewNode(node)
}

// ExistsNode reports whether hostname has a node
func (g *Graph) ExistsNode(hostname string) bool {
	_, exists := g.nodes[normalizeHostname(hostname)]
	return exists
}

// GetNode returns the node for hostname; ok is false when there is none
func (g *Graph) GetNode(hostname string) (*Node, bool) {
	node, ok := g.nodes[normalizeHostname(hostname)]
	return node, ok
}

// Nodes returns all nodes sorted by hostname
func (g *Graph) Nodes() []*Node {
	return g.FilterNodes(nil)
}

// NodeCount returns the number of nodes
func (g *Graph) NodeCount() int { return len(g.nodes) }

// FilterNodes returns the nodes accepted by keep, sorted by hostname.
// A nil keep accepts every node.
func (g *Graph) FilterNodes(keep func(*Node) bool) []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, node := range g.nodes {
		if keep == nil || keep(node) {
			out = append(out, node)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].hostname < out[j].hostname })
	return out
}

// AddRequestToNode appends req to the node of its hostname
func (g *Graph) AddRequestToNode(req Request) (*Node, error) {
	hostname, err := Hostname(req.URL)
	if err != nil {
		return nil, err
	}
	node, ok := g.nodes[hostname]
	if !ok {
		return nil, errors.Wrapf(ErrPrecondition, "no node for %q", hostname)
	}

	before := node.nodeType
	if node.AddRequest(req) {
		return node, g.NotifyForNodeChange(before, node.nodeType, node)
	}
	return node, nil
}

// CreateEdge registers a directed edge between two existing nodes
func (g *Graph) CreateEdge(fromHostname, toHostname string, edgeType EdgeType) (*Edge, error) {
	fromHostname, toHostname = normalizeHostname(fromHostname), normalizeHostname(toHostname)
	from, ok := g.nodes[fromHostname]
	if !ok {
		return nil, errors.Wrapf(ErrPrecondition, "source node %q not found", fromHostname)
	}
	to, ok := g.nodes[toHostname]
	if !ok {
		return nil, errors.Wrapf(ErrPrecondition, "target node %q not found", toHostname)
	}
	if from == to {
		return nil, errors.Wrapf(ErrPrecondition, "edge from %q to itself", fromHostname)
	}
	if edgeType != EdgeDependency && edgeType != EdgeRedirect {
		return nil, errors.Wrapf(ErrPrecondition, "unknown edge type %q", edgeType)
	}
	if existing, exists := from.adjacent[toHostname]; exists {
		return nil, errors.Wrapf(ErrDuplicateEntity, "edge %d already links %q to %q", existing.id, fromHostname, toHostname)
	}

	edge := newDirectEdge(g.edgeSeq.Next(), from, to, edgeType)
	g.edges[edge.id] = edge
	from.adjacent[toHostname] = edge
	g.log.Debugf("Edge %d created: %s -> %s (%s)", edge.id, fromHostname, toHostname, edgeType)

	if len(g.clusters) > 0 {
		g.rebuildAggregates()
	}

	return edge, g.NotifyForNewEdge(edge)
}

// GetEdgeBetweenNodes returns the direct edge from one hostname to another
func (g *Graph) GetEdgeBetweenNodes(fromHostname, toHostname string) (*Edge, bool) {
	from, ok := g.nodes[normalizeHostname(fromHostname)]
	if !ok {
		return nil, false
	}
	edge, ok := from.adjacent[normalizeHostname(toHostname)]
	return edge, ok
}

// ExistsEdge reports whether a direct edge links fromHostname to toHostname
func (g *Graph) ExistsEdge(fromHostname, toHostname string) bool {
	_, ok := g.GetEdgeBetweenNodes(fromHostname, toHostname)
	return ok
}

// Edge returns any edge, direct or aggregate, by id
func (g *Graph) Edge(id EdgeID) (*Edge, bool) {
	edge, ok := g.edges[id]
	return edge, ok
}

// Edges returns every registered edge in id order, aggregates included
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, 0, len(g.edges))
	for _, edge := range g.edges {
		out = append(out, edge)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// DirectEdges returns the domain-to-domain edges in id order
func (g *Graph) DirectEdges() []*Edge {
	var out []*Edge
	for _, edge := range g.Edges() {
		if edge.kind == EdgeDirect {
			out = append(out, edge)
		}
	}
	return out
}

// AddRequestToEdge records a request from fromURL on the existing edge
// between the two hostnames
func (g *Graph) AddRequestToEdge(fromURL string, req Request) (*Edge, error) {
	edge, err := g.edgeForURLs(fromURL, req.URL)
	if err != nil {
		return nil, err
	}
	if err := edge.AddRequest(fromURL, req); err != nil {
		return nil, err
	}
	return edge, g.NotifyForEdgeChange(edge.edgeType, edge.edgeType, edge)
}

// AddRedirectToEdge records a redirect on the existing edge between the
// initial and final hostnames
func (g *Graph) AddRedirectToEdge(r Redirect) (*Edge, error) {
	edge, err := g.edgeForURLs(r.InitialURL, r.FinalURL)
	if err != nil {
		return nil, err
	}
	if err := edge.AddRedirect(r); err != nil {
		return nil, err
	}
	return edge, g.NotifyForEdgeChange(edge.edgeType, edge.edgeType, edge)
}

// AddReferralToEdge records a navigation from fromURL on the existing edge
// between the two hostnames
func (g *Graph) AddReferralToEdge(fromURL string, req Request) (*Edge, error) {
	edge, err := g.edgeForURLs(fromURL, req.URL)
	if err != nil {
		return nil, err
	}
	if err := edge.AddReferral(fromURL, req); err != nil {
		return nil, err
	}
	return edge, g.NotifyForEdgeChange(edge.edgeType, edge.edgeType, edge)
}

func (g *Graph) edgeForURLs(fromURL, toURL string) (*Edge, error) {
	fromHostname, err := Hostname(fromURL)
	if err != nil {
		return nil, err
	}
	toHostname, err := Hostname(toURL)
	if err != nil {
		return nil, err
	}
	edge, ok := g.GetEdgeBetweenNodes(fromHostname, toHostname)
	if !ok {
		return nil, errors.WithHint(
			errors.Wrapf(ErrPrecondition, "no edge from %q to %q", fromHostname, toHostname),
			"create the edge before recording traffic on it")
	}
	return edge, nil
}

// Vertex returns the cluster or node with the given id.
// Cluster ids never collide with hostnames.
func (g *Graph) Vertex(id string) (Vertex, bool) {
	if c, ok := g.clusters[id]; ok {
		return c, true
	}
	if n, ok := g.nodes[id]; ok {
		return n, true
	}
	return nil, false
}

// normalizeHostname is the key form of a hostname in every node lookup
func normalizeHostname(hostname string) string {
	return strings.ToLower(strings.TrimSpace(hostname))
}
