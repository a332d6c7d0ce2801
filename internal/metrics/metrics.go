package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/alvmarrod/traffic-weaver/internal/graph"
)

// Stats are the counters of one monitoring session
type Stats struct {
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time,omitempty"`
	NodesCreated      int       `json:"nodes_created"`
	RootPromotions    int       `json:"root_promotions"`
	DependencyEdges   int       `json:"dependency_edges"`
	RedirectEdges     int       `json:"redirect_edges"`
	LinksRecorded     int       `json:"links_recorded"`
	PagesFetched      int       `json:"pages_fetched"`
	PagesFailed       int       `json:"pages_failed"`
	TotalFetchTimeMs  int64     `json:"total_fetch_time_ms"`
	AvgFetchTimeMs    int64     `json:"avg_fetch_time_ms"`
	Clusters          int       `json:"clusters"`
	TerminationReason string    `json:"termination_reason,omitempty"`
}

// Tracker counts graph changes as a graph observer and page loads as the
// monitor's page callback. It may be read from another goroutine.
type Tracker struct {
	mu         sync.Mutex
	data       Stats
	fetchCount int
}

// NewTracker creates a new metrics tracker
func NewTracker() *Tracker {
	return &Tracker{
		data: Stats{
			StartTime: time.Now(),
		},
	}
}

// OnNewNode counts a created node
func (t *Tracker) OnNewNode(node *graph.Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.NodesCreated++
	return nil
}

// OnNodeChange counts embedded-to-root promotions
func (t *Tracker) OnNodeChange(from, to graph.NodeType, node *graph.Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if from == graph.NodeEmbedded && to == graph.NodeRoot {
		t.data.RootPromotions++
	}
	return nil
}

// OnNewEdge counts a created edge by type
func (t *Tracker) OnNewEdge(edge *graph.Edge) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch edge.Type() {
	case graph.EdgeRedirect:
		t.data.RedirectEdges++
	default:
		t.data.DependencyEdges++
	}
	return nil
}

// OnEdgeChange counts a link recorded on an edge
func (t *Tracker) OnEdgeChange(from, to graph.EdgeType, edge *graph.Edge) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.LinksRecorded++
	return nil
}

// RecordPage records a page load and its duration
func (t *Tracker) RecordPage(pageURL string, ok bool, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !ok {
		t.data.PagesFailed++
		return
	}
	t.data.PagesFetched++
	t.data.TotalFetchTimeMs += elapsed.Milliseconds()
	t.fetchCount++
}

// SetClusters records how many clusters the session ended with
func (t *Tracker) SetClusters(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.Clusters = n
}

// Snapshot returns a copy of current metrics
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Stats {
	snapshot := t.data
	if t.fetchCount > 0 {
		snapshot.AvgFetchTimeMs = t.data.TotalFetchTimeMs / int64(t.fetchCount)
	}
	return snapshot
}

// WriteToFile finalizes the metrics and exports them to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason

	jsonData, err := json.MarshalIndent(t.snapshotLocked(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal metrics")
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return errors.Wrap(err, "failed to write metrics file")
	}

	return nil
}

// LogProgress formats current metrics for periodic console updates
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Nodes: %d (%d roots) | Edges: %d dependency, %d redirect | Links: %d | Pages: %d fetched, %d failed",
		t.data.NodesCreated,
		t.data.RootPromotions,
		t.data.DependencyEdges,
		t.data.RedirectEdges,
		t.data.LinksRecorded,
		t.data.PagesFetched,
		t.data.PagesFailed,
	)
}
