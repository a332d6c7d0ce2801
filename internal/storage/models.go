package storage

import (
	"time"

	"github.com/alvmarrod/traffic-weaver/internal/graph"
)

// Session summarises one persisted monitoring session
type Session struct {
	SessionID string
	StartedAt time.Time
	FlushedAt time.Time
	Nodes     int
	Edges     int
	Clusters  int
}

// NodeRecord is a persisted domain node with its request history
type NodeRecord struct {
	Hostname string
	Type     graph.NodeType
	Requests []graph.Request
}

// EdgeRecord is a persisted direct edge with its links
type EdgeRecord struct {
	EdgeID int
	From   string
	To     string
	Type   graph.EdgeType
	Links  []graph.Link
}

// ClusterRecord is a persisted cluster membership
type ClusterRecord struct {
	ClusterID string
	Members   []string
}

// SessionData is everything stored for one session
type SessionData struct {
	Session  Session
	Nodes    []NodeRecord
	Edges    []EdgeRecord
	Clusters []ClusterRecord
}
