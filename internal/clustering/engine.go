// Package clustering groups domain nodes into clusters by domain pattern and
// dissolves them again. All structural changes go through the graph's API.
package clustering

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/alvmarrod/traffic-weaver/internal/config"
	"github.com/alvmarrod/traffic-weaver/internal/graph"
)

// Graph is the part of the domain graph the engine needs
type Graph interface {
	Mode() graph.Mode
	FilterNodes(keep func(*graph.Node) bool) []*graph.Node
	AddCluster(id string, members []*graph.Node) (*graph.Cluster, error)
	RemoveCluster(id string) error
	Cluster(id string) (*graph.Cluster, bool)
	Clusters() []*graph.Cluster
	Edge(id graph.EdgeID) (*graph.Edge, bool)
	TriggerDeselectNode(v graph.Vertex) error
}

// Engine manages the clusters of one graph
type Engine struct {
	graph    Graph
	clusters map[string]*graph.Cluster
	log      *logrus.Entry
}

// NewEngine creates an engine over g. Clusters already registered on g,
// such as those of a rebuilt session, are managed by the engine too.
func NewEngine(g Graph) *Engine {
	e := &Engine{
		graph:    g,
		clusters: make(map[string]*graph.Cluster),
		log:      logrus.WithField("component", "clustering"),
	}
	for _, c := range g.Clusters() {
		e.clusters[c.ID()] = c
	}
	return e
}

// ClusterByDomain groups every node whose hostname is one of domains, or a
// subdomain of one, under clusterID
func (e *Engine) ClusterByDomain(domains []string, clusterID string) (*graph.Cluster, error) {
	if strings.TrimSpace(clusterID) == "" {
		return nil, errors.WithHint(
			errors.Wrap(graph.ErrValidation, "cluster id is empty"),
			"provide a cluster id")
	}
	if _, exists := e.clusters[clusterID]; exists {
		return nil, errors.WithHint(
			errors.Wrapf(graph.ErrValidation, "cluster id %q already exists", clusterID),
			"cluster ids must be unique")
	}

	matcher, err := NewMatcher(domains)
	if err != nil {
		return nil, err
	}

	matched := e.graph.FilterNodes(func(n *graph.Node) bool {
		return matcher.Match(n.Hostname())
	})

	if err := e.disallowNestedClustering(matched); err != nil {
		return nil, err
	}

	if len(matched) < 2 {
		return nil, errors.Wrapf(graph.ErrInsufficientMatch,
			"only %d nodes matched %v, more than 1 needed to create a cluster", len(matched), matcher.Domains())
	}

	cluster, err := e.graph.AddCluster(clusterID, matched)
	if err != nil {
		return nil, err
	}
	e.clusters[clusterID] = cluster

	e.log.Infof("Cluster %s created: %d nodes matching %v", clusterID, cluster.Size(), matcher.Domains())
	return cluster, nil
}

// disallowNestedClustering fails when any matched node already sits in a cluster
func (e *Engine) disallowNestedClustering(matched []*graph.Node) error {
	for _, cluster := range e.GetClusters() {
		for _, n := range matched {
			if cluster.Contains(n) {
				return errors.WithHintf(
					errors.Wrapf(graph.ErrOverlap, "cluster %q already contains matched node %q", cluster.ID(), n.Hostname()),
					"de-cluster %q first to regroup its nodes", cluster.ID())
			}
		}
	}
	return nil
}

// DeCluster dissolves a cluster, clearing any selection of it first
func (e *Engine) DeCluster(clusterID string) error {
	cluster, ok := e.clusters[clusterID]
	if !ok {
		return errors.Wrapf(graph.ErrValidation, "cluster %q does not exist", clusterID)
	}

	if e.graph.Mode() == graph.ModeInteractive {
		if err := e.graph.TriggerDeselectNode(cluster); err != nil {
			return err
		}
	}

	if err := e.graph.RemoveCluster(clusterID); err != nil {
		if _, registered := e.graph.Cluster(clusterID); !registered {
			delete(e.clusters, clusterID)
		}
		return err
	}
	delete(e.clusters, clusterID)

	e.log.Infof("Cluster %s dissolved", clusterID)
	return nil
}

// DeClusterAll dissolves every cluster. It keeps going past failures and
// returns them combined.
func (e *Engine) DeClusterAll() error {
	ids := make([]string, 0, len(e.clusters))
	for id := range e.clusters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs error
	for _, id := range ids {
		errs = multierr.Append(errs, e.DeCluster(id))
	}
	return errs
}

// IsClusterEdge reports whether id names an aggregate edge
func (e *Engine) IsClusterEdge(id graph.EdgeID) bool {
	edge, ok := e.graph.Edge(id)
	return ok && edge.IsClusterEdge()
}

// GetCluster returns an active cluster
func (e *Engine) GetCluster(clusterID string) (*graph.Cluster, bool) {
	cluster, ok := e.clusters[clusterID]
	return cluster, ok
}

// GetClusters returns every active cluster sorted by id
func (e *Engine) GetClusters() []*graph.Cluster {
	out := make([]*graph.Cluster, 0, len(e.clusters))
	for _, c := range e.clusters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ApplyRules creates a cluster per configured rule. A failing rule does
// not prevent the others.
func (e *Engine) ApplyRules(rules []config.ClusterRule) error {
	var errs error
	for _, rule := range rules {
		if _, err := e.ClusterByDomain(rule.Domains, rule.ID); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "cluster rule %q", rule.ID))
		}
	}
	return errs
}
