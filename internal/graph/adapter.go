package graph

import (
	"github.com/cockroachdb/errors"
)

// Mode tells whether a graph drives a visualisation
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeHeadless    Mode = "headless"
)

// Listeners are the selection callbacks a visualisation fires
type Listeners struct {
	OnSelectNode   func(v Vertex)
	OnSelectEdge   func(e *Edge)
	OnDeselectNode func(ids []string)
	OnDeselectEdge func(ids []EdgeID)
}

// ClusterOptions describe a cluster to draw
type ClusterOptions struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	Members []string `json:"members"`
}

// DatasetNode is a node row as shown by the visualisation
type DatasetNode struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Size      int    `json:"size"`
	Image     string `json:"image,omitempty"`
	Requests  int    `json:"requests"`
	IsCluster bool   `json:"is_cluster"`
}

// DatasetEdge is an edge row as shown by the visualisation
type DatasetEdge struct {
	ID        EdgeID `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Type      string `json:"type"`
	Dashes    bool   `json:"dashes"`
	Links     int    `json:"links"`
	IsCluster bool   `json:"is_cluster"`
}

// Adapter is the visualisation side of an interactive graph
type Adapter interface {
	SetupListeners(g *Graph) error
	DisablePhysics() error
	EnablePhysics() error
	AddListeners(l Listeners) error
	CreateCluster(opts ClusterOptions) error
	OpenCluster(clusterID string) error
	TriggerDeselectNode(v Vertex) error
	NodesDataset() []DatasetNode
	EdgesDataset() []DatasetEdge
}

func (g *Graph) requireInteractive(op string) error {
	if g.mode != ModeInteractive {
		return errors.WithHint(
			errors.Wrapf(ErrInvalidMode, "%s called on a %s graph", op, g.mode),
			"construct the graph with a visualisation adapter")
	}
	return nil
}

// DisablePhysics stops the layout simulation
func (g *Graph) DisablePhysics() error {
	if err := g.requireInteractive("DisablePhysics"); err != nil {
		return err
	}
	return errors.Wrap(g.adapter.DisablePhysics(), "disable physics")
}

// EnablePhysics restarts the layout simulation
func (g *Graph) EnablePhysics() error {
	if err := g.requireInteractive("EnablePhysics"); err != nil {
		return err
	}
	return errors.Wrap(g.adapter.EnablePhysics(), "enable physics")
}

// AddListeners installs selection callbacks on the visualisation
func (g *Graph) AddListeners(l Listeners) error {
	if err := g.requireInteractive("AddListeners"); err != nil {
		return err
	}
	return errors.Wrap(g.adapter.AddListeners(l), "add listeners")
}

// CreateCluster asks the visualisation to draw a cluster.
// Registering a cluster with AddCluster calls it for interactive graphs.
func (g *Graph) CreateCluster(opts ClusterOptions) error {
	if err := g.requireInteractive("CreateCluster"); err != nil {
		return err
	}
	return errors.Wrapf(g.adapter.CreateCluster(opts), "draw cluster %q", opts.ID)
}

// OpenCluster asks the visualisation to expand a cluster back into its members
func (g *Graph) OpenCluster(clusterID string) error {
	if err := g.requireInteractive("OpenCluster"); err != nil {
		return err
	}
	return errors.Wrapf(g.adapter.OpenCluster(clusterID), "open cluster %q", clusterID)
}

// TriggerDeselectNode clears any visualisation selection of v
func (g *Graph) TriggerDeselectNode(v Vertex) error {
	if err := g.requireInteractive("TriggerDeselectNode"); err != nil {
		return err
	}
	if v == nil {
		return errors.Wrap(ErrPrecondition, "deselect of nil vertex")
	}
	return errors.Wrapf(g.adapter.TriggerDeselectNode(v), "deselect %q", v.ID())
}

// NodesDataset returns the node rows currently visible in the visualisation
func (g *Graph) NodesDataset() ([]DatasetNode, error) {
	if err := g.requireInteractive("NodesDataset"); err != nil {
		return nil, err
	}
	return g.adapter.NodesDataset(), nil
}

// EdgesDataset returns the edge rows currently visible in the visualisation
func (g *Graph) EdgesDataset() ([]DatasetEdge, error) {
	if err := g.requireInteractive("EdgesDataset"); err != nil {
		return nil, err
	}
	return g.adapter.EdgesDataset(), nil
}
