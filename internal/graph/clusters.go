package graph

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// AddCluster registers a cluster over members and derives its aggregate
// edges. Interactive graphs also draw it through the adapter; if drawing
// fails the registration is rolled back.
func (g *Graph) AddCluster(id string, members []*Node) (*Cluster, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.Wrap(ErrValidation, "cluster id is empty")
	}
	if _, exists := g.clusters[id]; exists {
		return nil, errors.Wrapf(ErrDuplicateEntity, "cluster %q already exists", id)
	}
	if _, exists := g.nodes[id]; exists {
		return nil, errors.Wrapf(ErrValidation, "cluster id %q collides with a hostname", id)
	}

	unique := make(map[string]*Node, len(members))
	for _, n := range members {
		if n == nil || g.nodes[n.hostname] != n {
			return nil, errors.Wrap(ErrPrecondition, "cluster member is not registered in this graph")
		}
		if owner, clustered := g.membership[n.hostname]; clustered {
			return nil, errors.WithHintf(
				errors.Wrapf(ErrOverlap, "node %q already belongs to cluster %q", n.hostname, owner),
				"de-cluster %q first", owner)
		}
		unique[n.hostname] = n
	}
	if len(unique) < 2 {
		return nil, errors.Wrapf(ErrInsufficientMatch, "cluster %q needs at least 2 nodes, got %d", id, len(unique))
	}

	nodes := make([]*Node, 0, len(unique))
	for _, n := range unique {
		nodes = append(nodes, n)
	}
	cluster := newCluster(id, nodes)

	g.clusters[id] = cluster
	for hostname := range cluster.members {
		g.membership[hostname] = id
	}

	// aggregates are derived after the draw so a rejected draw takes no edge ids
	if g.mode == ModeInteractive {
		opts := ClusterOptions{ID: id, Label: id, Members: cluster.Hostnames()}
		if err := g.CreateCluster(opts); err != nil {
			g.unregisterCluster(cluster)
			return nil, err
		}
	}
	g.rebuildAggregates()

	g.log.Debugf("Cluster %s created with %d members", id, cluster.Size())
	return cluster, nil
}

// RemoveCluster dissolves a cluster. Members and their edges become
// directly visible again, untouched. On an interactive graph the cluster is
// opened in the view first and stays registered if that fails.
func (g *Graph) RemoveCluster(id string) error {
	cluster, ok := g.clusters[id]
	if !ok {
		return errors.Wrapf(ErrValidation, "cluster %q does not exist", id)
	}

	if g.mode == ModeInteractive {
		if err := g.OpenCluster(id); err != nil {
			return err
		}
	}

	g.unregisterCluster(cluster)
	g.rebuildAggregates()

	g.log.Debugf("Cluster %s dissolved", id)
	return nil
}

func (g *Graph) unregisterCluster(cluster *Cluster) {
	delete(g.clusters, cluster.id)
	for hostname := range cluster.members {
		delete(g.membership, hostname)
	}
	cluster.resetEdges()
}

// Cluster returns a registered cluster by id
func (g *Graph) Cluster(id string) (*Cluster, bool) {
	c, ok := g.clusters[id]
	return c, ok
}

// Clusters returns every registered cluster sorted by id
func (g *Graph) Clusters() []*Cluster {
	out := make([]*Cluster, 0, len(g.clusters))
	for _, c := range g.clusters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// ClusterOf returns the cluster hostname belongs to, if any
func (g *Graph) ClusterOf(hostname string) (*Cluster, bool) {
	id, ok := g.membership[normalizeHostname(hostname)]
	if !ok {
		return nil, false
	}
	return g.clusters[id], true
}

// representative is the vertex a node is shown as: its cluster or itself
func (g *Graph) representative(v Vertex) Vertex {
	if id, ok := g.membership[v.ID()]; ok && !v.IsCluster() {
		return g.clusters[id]
	}
	return v
}

// rebuildAggregates recomputes every aggregate edge from the direct edges
// and the active clusters. Aggregates keep their id while their endpoint
// pair survives.
func (g *Graph) rebuildAggregates() {
	previous := make(map[string]EdgeID)
	for id, edge := range g.edges {
		if edge.kind == EdgeClusterAggregate {
			previous[pairKey(edge.from, edge.to)] = id
			delete(g.edges, id)
		}
	}
	for _, n := range g.nodes {
		n.aggregates = make(map[string]*Edge)
	}
	for _, c := range g.clusters {
		c.resetEdges()
	}
	if len(g.clusters) == 0 {
		return
	}

	current := make(map[string]*Edge)
	for _, direct := range g.DirectEdges() {
		from := g.representative(direct.from)
		to := g.representative(direct.to)
		if !from.IsCluster() && !to.IsCluster() {
			continue
		}
		if from == to {
			// both ends inside the same cluster
			continue
		}

		key := pairKey(from, to)
		agg, ok := current[key]
		if !ok {
			id, reuse := previous[key]
			if !reuse {
				id = g.edgeSeq.Next()
			}
			agg = newAggregateEdge(id, from, to)
			current[key] = agg
			g.edges[id] = agg
			g.attachAggregate(agg)
		}
		agg.underlying = append(agg.underlying, direct)
	}
}

func (g *Graph) attachAggregate(agg *Edge) {
	switch from := agg.from.(type) {
	case *Cluster:
		from.adjacent[vertexKey(agg.to)] = agg
		from.edges = append(from.edges, agg)
	case *Node:
		// a node only gets aggregates towards clusters
		from.aggregates[agg.to.ID()] = agg
	}
	if to, ok := agg.to.(*Cluster); ok {
		to.edges = append(to.edges, agg)
	}
}

func pairKey(from, to Vertex) string {
	return vertexKey(from) + "\x00" + vertexKey(to)
}
