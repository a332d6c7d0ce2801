// Package visual keeps the drawable state of an interactive graph: the node
// and edge rows a network view shows, drawn clusters, physics and selection.
//
// A Network is both the graph's visualisation adapter and one of its
// observers. Node and edge rows appear in the order the graph announced them.
package visual

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/traffic-weaver/internal/graph"
)

const (
	rootNodeSize     = 40
	embeddedNodeSize = 20
	clusterNodeSize  = 50
)

// Network is an in-process network view of one graph
type Network struct {
	graph        *graph.Graph
	subscription graph.Subscription

	physics   bool
	listeners graph.Listeners

	nodeOrder []*graph.Node
	edgeOrder []*graph.Edge

	// drawn cluster id -> options; hidden hostname -> cluster id
	clusters map[string]graph.ClusterOptions
	hidden   map[string]string

	selectedNodes []string
	selectedEdges []graph.EdgeID

	log *logrus.Entry
}

// NewNetwork creates an empty view with physics enabled
func NewNetwork() *Network {
	return &Network{
		physics:  true,
		clusters: make(map[string]graph.ClusterOptions),
		hidden:   make(map[string]string),
		log:      logrus.WithField("component", "visual"),
	}
}

// SetupListeners binds the view to g and subscribes it to graph changes
func (n *Network) SetupListeners(g *graph.Graph) error {
	if g == nil {
		return errors.Wrap(graph.ErrPrecondition, "network needs a graph")
	}
	if n.graph != nil {
		return errors.Wrap(graph.ErrPrecondition, "network is already bound to a graph")
	}
	n.graph = g
	n.subscription = g.Register(n)
	return nil
}

// Close unsubscribes the view from its graph
func (n *Network) Close() {
	if n.graph != nil {
		n.graph.Unregister(n.subscription)
	}
}

// DisablePhysics freezes the layout
func (n *Network) DisablePhysics() error {
	n.physics = false
	return nil
}

// EnablePhysics lets the layout move again
func (n *Network) EnablePhysics() error {
	n.physics = true
	return nil
}

// Physics reports whether the layout simulation runs
func (n *Network) Physics() bool { return n.physics }

// AddListeners installs selection callbacks. Callbacks left nil keep the
// previously installed ones.
func (n *Network) AddListeners(l graph.Listeners) error {
	if l.OnSelectNode != nil {
		n.listeners.OnSelectNode = l.OnSelectNode
	}
	if l.OnSelectEdge != nil {
		n.listeners.OnSelectEdge = l.OnSelectEdge
	}
	if l.OnDeselectNode != nil {
		n.listeners.OnDeselectNode = l.OnDeselectNode
	}
	if l.OnDeselectEdge != nil {
		n.listeners.OnDeselectEdge = l.OnDeselectEdge
	}
	return nil
}

// CreateCluster collapses the members into one drawn cluster node
func (n *Network) CreateCluster(opts graph.ClusterOptions) error {
	if _, exists := n.clusters[opts.ID]; exists {
		return errors.Wrapf(graph.ErrDuplicateEntity, "cluster %q is already drawn", opts.ID)
	}
	for _, hostname := range opts.Members {
		if owner, ok := n.hidden[hostname]; ok {
			return errors.Wrapf(graph.ErrOverlap, "node %q is already drawn inside cluster %q", hostname, owner)
		}
	}

	n.clusters[opts.ID] = opts
	for _, hostname := range opts.Members {
		n.hidden[hostname] = opts.ID
	}
	n.dropSelection(opts.Members...)

	n.log.Debugf("Cluster %s drawn over %d nodes", opts.ID, len(opts.Members))
	return nil
}

// OpenCluster expands a drawn cluster back into its members
func (n *Network) OpenCluster(clusterID string) error {
	opts, ok := n.clusters[clusterID]
	if !ok {
		return errors.Wrapf(graph.ErrValidation, "cluster %q is not drawn", clusterID)
	}
	for _, hostname := range opts.Members {
		delete(n.hidden, hostname)
	}
	delete(n.clusters, clusterID)
	n.dropSelection(clusterID)

	n.log.Debugf("Cluster %s opened", clusterID)
	return nil
}

// TriggerDeselectNode clears the selection of v and fires the deselect
// callback when v was selected
func (n *Network) TriggerDeselectNode(v graph.Vertex) error {
	id := v.ID()
	if !n.isSelected(id) {
		return nil
	}
	n.dropSelection(id)
	if n.listeners.OnDeselectNode != nil {
		n.listeners.OnDeselectNode([]string{id})
	}
	return nil
}

// SelectNode selects a visible node or cluster, replacing the current
// selection, and fires the select callback
func (n *Network) SelectNode(id string) error {
	if n.graph == nil {
		return errors.Wrap(graph.ErrPrecondition, "network is not bound to a graph")
	}
	if owner, hidden := n.hidden[id]; hidden {
		return errors.WithHintf(
			errors.Wrapf(graph.ErrPrecondition, "node %q is drawn inside cluster %q", id, owner),
			"select cluster %q instead", owner)
	}
	v, ok := n.graph.Vertex(id)
	if !ok {
		return errors.Wrapf(graph.ErrPrecondition, "no node or cluster %q", id)
	}

	n.DeselectAll()
	n.selectedNodes = []string{id}
	if n.listeners.OnSelectNode != nil {
		n.listeners.OnSelectNode(v)
	}
	return nil
}

// SelectEdge selects a visible edge, replacing the current selection, and
// fires the select callback
func (n *Network) SelectEdge(id graph.EdgeID) error {
	if n.graph == nil {
		return errors.Wrap(graph.ErrPrecondition, "network is not bound to a graph")
	}
	edge, ok := n.graph.Edge(id)
	if !ok || !n.edgeVisible(edge) {
		return errors.Wrapf(graph.ErrPrecondition, "edge %d is not visible", id)
	}

	n.DeselectAll()
	n.selectedEdges = []graph.EdgeID{id}
	if n.listeners.OnSelectEdge != nil {
		n.listeners.OnSelectEdge(edge)
	}
	return nil
}

// DeselectAll clears the selection and fires the deselect callbacks for
// whatever was selected
func (n *Network) DeselectAll() {
	nodes, edges := n.selectedNodes, n.selectedEdges
	n.selectedNodes, n.selectedEdges = nil, nil

	if len(nodes) > 0 && n.listeners.OnDeselectNode != nil {
		n.listeners.OnDeselectNode(nodes)
	}
	if len(edges) > 0 && n.listeners.OnDeselectEdge != nil {
		n.listeners.OnDeselectEdge(edges)
	}
}

// Selection returns the ids of the selected nodes and clusters
func (n *Network) Selection() []string {
	out := make([]string, len(n.selectedNodes))
	copy(out, n.selectedNodes)
	return out
}

// SelectedEdges returns the ids of the selected edges
func (n *Network) SelectedEdges() []graph.EdgeID {
	out := make([]graph.EdgeID, len(n.selectedEdges))
	copy(out, n.selectedEdges)
	return out
}

func (n *Network) isSelected(id string) bool {
	for _, s := range n.selectedNodes {
		if s == id {
			return true
		}
	}
	return false
}

func (n *Network) dropSelection(ids ...string) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := n.selectedNodes[:0]
	for _, s := range n.selectedNodes {
		if !drop[s] {
			kept = append(kept, s)
		}
	}
	n.selectedNodes = kept
}

// NodesDataset returns the visible node rows followed by one row per drawn
// cluster, clusters sorted by id
func (n *Network) NodesDataset() []graph.DatasetNode {
	rows := make([]graph.DatasetNode, 0, len(n.nodeOrder)+len(n.clusters))
	for _, node := range n.nodeOrder {
		if _, hidden := n.hidden[node.Hostname()]; hidden {
			continue
		}
		size := embeddedNodeSize
		if node.Type() == graph.NodeRoot {
			size = rootNodeSize
		}
		rows = append(rows, graph.DatasetNode{
			ID:       node.Hostname(),
			Label:    node.Label(),
			Size:     size,
			Image:    faviconURL(node.Hostname()),
			Requests: node.RequestCount(),
		})
	}

	ids := make([]string, 0, len(n.clusters))
	for id := range n.clusters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		opts := n.clusters[id]
		requests := 0
		if cluster, ok := n.graph.Cluster(id); ok {
			requests = len(cluster.Requests())
		}
		rows = append(rows, graph.DatasetNode{
			ID:        id,
			Label:     opts.Label,
			Size:      clusterNodeSize,
			Requests:  requests,
			IsCluster: true,
		})
	}
	return rows
}

// EdgesDataset returns the visible direct edge rows in creation order
// followed by the aggregate edges of drawn clusters in id order
func (n *Network) EdgesDataset() []graph.DatasetEdge {
	var rows []graph.DatasetEdge
	for _, edge := range n.edgeOrder {
		if n.edgeVisible(edge) {
			rows = append(rows, edgeRow(edge))
		}
	}
	if n.graph == nil {
		return rows
	}
	for _, edge := range n.graph.Edges() {
		if edge.IsClusterEdge() && n.edgeVisible(edge) {
			rows = append(rows, edgeRow(edge))
		}
	}
	return rows
}

func (n *Network) edgeVisible(edge *graph.Edge) bool {
	if !edge.IsClusterEdge() {
		_, fromHidden := n.hidden[edge.From().ID()]
		_, toHidden := n.hidden[edge.To().ID()]
		return !fromHidden && !toHidden
	}
	for _, v := range []graph.Vertex{edge.From(), edge.To()} {
		if v.IsCluster() {
			if _, drawn := n.clusters[v.ID()]; !drawn {
				return false
			}
		}
	}
	return true
}

func edgeRow(edge *graph.Edge) graph.DatasetEdge {
	return graph.DatasetEdge{
		ID:        edge.ID(),
		From:      edge.From().ID(),
		To:        edge.To().ID(),
		Type:      string(edge.Type()),
		Dashes:    edge.Type() == graph.EdgeRedirect,
		Links:     edge.LinkCount(),
		IsCluster: edge.IsClusterEdge(),
	}
}

func faviconURL(hostname string) string {
	return fmt.Sprintf("https://%s/favicon.ico", hostname)
}

// OnNewNode adds a row for the node
func (n *Network) OnNewNode(node *graph.Node) error {
	n.nodeOrder = append(n.nodeOrder, node)
	return nil
}

// OnNodeChange is a no-op: rows read the node type when rendered
func (n *Network) OnNodeChange(from, to graph.NodeType, node *graph.Node) error {
	n.log.Debugf("Node %s redrawn: %s -> %s", node.Hostname(), from, to)
	return nil
}

// OnNewEdge adds a row for the edge
func (n *Network) OnNewEdge(edge *graph.Edge) error {
	n.edgeOrder = append(n.edgeOrder, edge)
	return nil
}

// OnEdgeChange is a no-op: rows read the link count when rendered
func (n *Network) OnEdgeChange(from, to graph.EdgeType, edge *graph.Edge) error {
	return nil
}

// Snapshot is the exported state of a view
type Snapshot struct {
	Physics  bool                   `json:"physics"`
	Nodes    []graph.DatasetNode    `json:"nodes"`
	Edges    []graph.DatasetEdge    `json:"edges"`
	Clusters []graph.ClusterOptions `json:"clusters"`
}

// Snapshot returns the current rows and drawn clusters
func (n *Network) Snapshot() Snapshot {
	clusters := make([]graph.ClusterOptions, 0, len(n.clusters))
	for _, opts := range n.clusters {
		clusters = append(clusters, opts)
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID < clusters[j].ID })

	return Snapshot{
		Physics:  n.physics,
		Nodes:    n.NodesDataset(),
		Edges:    n.EdgesDataset(),
		Clusters: clusters,
	}
}

// WriteJSON writes the snapshot to path as indented JSON
func (n *Network) WriteJSON(path string) error {
	data, err := json.MarshalIndent(n.Snapshot(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal network snapshot")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write network snapshot to %s", path)
	}
	n.log.Infof("Network written to %s", path)
	return nil
}
