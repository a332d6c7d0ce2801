package graph

import "sort"

// Cluster stands in for a set of member nodes. It never owns their data:
// members keep their requests and edges, the cluster only hides them
// behind an aggregate vertex.
type Cluster struct {
	id      string
	members map[string]*Node

	// outgoing aggregate edges keyed by target vertex id
	adjacent map[string]*Edge
	// every aggregate edge touching the cluster
	edges []*Edge
}

func newCluster(id string, members []*Node) *Cluster {
	c := &Cluster{
		id:       id,
		members:  make(map[string]*Node, len(members)),
		adjacent: make(map[string]*Edge),
	}
	for _, n := range members {
		c.members[n.hostname] = n
	}
	return c
}

// ID returns the cluster id
func (c *Cluster) ID() string { return c.id }

// Label returns the display label
func (c *Cluster) Label() string { return c.id }

// IsCluster is always true for clusters
func (c *Cluster) IsCluster() bool { return true }

// Contains reports whether n is a member
func (c *Cluster) Contains(n *Node) bool {
	if n == nil {
		return false
	}
	member, ok := c.members[n.hostname]
	return ok && member == n
}

// Members returns the member nodes sorted by hostname
func (c *Cluster) Members() []*Node {
	out := make([]*Node, 0, len(c.members))
	for _, n := range c.members {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].hostname < out[j].hostname })
	return out
}

// Hostnames returns the member hostnames, sorted
func (c *Cluster) Hostnames() []string {
	out := make([]string, 0, len(c.members))
	for hostname := range c.members {
		out = append(out, hostname)
	}
	return sortedStrings(out)
}

// Size returns the member count
func (c *Cluster) Size() int { return len(c.members) }

// Requests returns the requests of every member, grouped by member hostname
func (c *Cluster) Requests() []Request {
	var out []Request
	for _, n := range c.Members() {
		out = append(out, n.requests...)
	}
	return out
}

// HasEdgeTo reports whether an outgoing aggregate edge towards other exists
func (c *Cluster) HasEdgeTo(other Vertex) bool {
	return c.EdgeTo(other) != nil
}

// EdgeTo returns the outgoing aggregate edge towards other, or nil
func (c *Cluster) EdgeTo(other Vertex) *Edge {
	if other == nil {
		return nil
	}
	return c.adjacent[vertexKey(other)]
}

// Edges returns the aggregate edges touching the cluster, in id order
func (c *Cluster) Edges() []*Edge {
	out := make([]*Edge, len(c.edges))
	copy(out, c.edges)
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (c *Cluster) resetEdges() {
	c.adjacent = make(map[string]*Edge)
	c.edges = nil
}

// vertexKey keeps cluster ids and hostnames in separate key spaces
func vertexKey(v Vertex) string {
	if v.IsCluster() {
		return "cluster:" + v.ID()
	}
	return v.ID()
}
