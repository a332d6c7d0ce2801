package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvmarrod/traffic-weaver/internal/graph"
	"github.com/alvmarrod/traffic-weaver/internal/ingest"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "weaver.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func at(sec int64) time.Time { return time.Unix(1700000000+sec, 0).UTC() }

// sessionGraph has a redirect, cross-domain requests, a referral and one cluster
func sessionGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	h := ingest.NewHandler(g)

	require.NoError(t, h.AddRedirect(graph.Redirect{
		InitialURL: "http://short.ly/x", FinalURL: "https://news.org/", Type: graph.RequestRoot, Timestamp: at(0),
	}))
	require.NoError(t, h.AddRequest("https://news.org/", graph.Request{
		Method: "GET", URL: "https://news.org/", Type: graph.RequestRoot, Timestamp: at(1),
	}))
	for i, url := range []string{"https://a.cdn.net/x.js", "https://b.cdn.net/y.css", "https://a.cdn.net/z.js"} {
		require.NoError(t, h.AddRequest("https://news.org/", graph.Request{
			Method: "GET", URL: url, Type: graph.RequestEmbedded, Timestamp: at(int64(2 + i)),
		}))
	}
	require.NoError(t, h.AddReferral("https://news.org/", graph.Request{
		Method: "GET", URL: "https://blog.io/post", Type: graph.RequestRoot, Timestamp: at(10),
	}))

	members := g.FilterNodes(func(n *graph.Node) bool {
		return n.Hostname() == "a.cdn.net" || n.Hostname() == "b.cdn.net"
	})
	_, err := g.AddCluster("cdn", members)
	require.NoError(t, err)
	return g
}

func TestFlushAndLoad(t *testing.T) {
	s := newTestStorage(t)
	g := sessionGraph(t)

	id, err := s.CreateSession()
	require.NoError(t, err)
	require.NoError(t, s.Flush(id, g))

	data, err := s.LoadSession(id)
	require.NoError(t, err)
	require.NotNil(t, data)

	t.Run("nodes with requests", func(t *testing.T) {
		require.Len(t, data.Nodes, g.NodeCount())
		for _, rec := range data.Nodes {
			node, ok := g.GetNode(rec.Hostname)
			require.True(t, ok, rec.Hostname)
			assert.Equal(t, node.Type(), rec.Type)
			assert.Equal(t, node.Requests(), rec.Requests)
		}
	})

	t.Run("only direct edges with links", func(t *testing.T) {
		direct := g.DirectEdges()
		require.Len(t, data.Edges, len(direct))
		for i, edge := range direct {
			assert.Equal(t, int(edge.ID()), data.Edges[i].EdgeID)
			assert.Equal(t, edge.From().ID(), data.Edges[i].From)
			assert.Equal(t, edge.Type(), data.Edges[i].Type)
			assert.Equal(t, edge.Links(), data.Edges[i].Links)
		}
	})

	t.Run("clusters", func(t *testing.T) {
		assert.Equal(t, []ClusterRecord{{ClusterID: "cdn", Members: []string{"a.cdn.net", "b.cdn.net"}}}, data.Clusters)
	})

	t.Run("unknown session", func(t *testing.T) {
		missing, err := s.LoadSession("nope")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestFlushReplacesContent(t *testing.T) {
	s := newTestStorage(t)
	id, err := s.CreateSession()
	require.NoError(t, err)

	require.NoError(t, s.Flush(id, sessionGraph(t)))

	small := graph.New()
	_, err = small.CreateNode("only.org")
	require.NoError(t, err)
	require.NoError(t, s.Flush(id, small))

	data, err := s.LoadSession(id)
	require.NoError(t, err)
	require.Len(t, data.Nodes, 1)
	assert.Empty(t, data.Edges)
	assert.Empty(t, data.Clusters)
}

func TestFlushUnknownSession(t *testing.T) {
	s := newTestStorage(t)
	err := s.Flush("missing", graph.New())
	assert.True(t, graph.IsPrecondition(err))
}

func TestListSessions(t *testing.T) {
	s := newTestStorage(t)

	first, err := s.CreateSession()
	require.NoError(t, err)
	require.NoError(t, s.Flush(first, sessionGraph(t)))
	second, err := s.CreateSession()
	require.NoError(t, err)

	sessions, err := s.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	byID := map[string]Session{}
	for _, sess := range sessions {
		byID[sess.SessionID] = sess
	}
	assert.Equal(t, 5, byID[first].Nodes)
	assert.Equal(t, 4, byID[first].Edges)
	assert.Equal(t, 1, byID[first].Clusters)
	assert.False(t, byID[first].FlushedAt.IsZero())
	assert.Zero(t, byID[second].Nodes)
	assert.True(t, byID[second].FlushedAt.IsZero())
}

func TestRebuild(t *testing.T) {
	s := newTestStorage(t)
	original := sessionGraph(t)
	id, err := s.CreateSession()
	require.NoError(t, err)
	require.NoError(t, s.Flush(id, original))

	data, err := s.LoadSession(id)
	require.NoError(t, err)

	g := graph.New()
	require.NoError(t, Rebuild(data, g))

	assert.Equal(t, original.NodeCount(), g.NodeCount())
	for _, node := range original.Nodes() {
		rebuilt, ok := g.GetNode(node.Hostname())
		require.True(t, ok)
		assert.Equal(t, node.Type(), rebuilt.Type())
		assert.Equal(t, node.Requests(), rebuilt.Requests())
	}
	for _, edge := range original.DirectEdges() {
		rebuilt, ok := g.GetEdgeBetweenNodes(edge.From().ID(), edge.To().ID())
		require.True(t, ok)
		assert.Equal(t, edge.Type(), rebuilt.Type())
		assert.Equal(t, edge.Links(), rebuilt.Links())
	}

	cluster, ok := g.Cluster("cdn")
	require.True(t, ok)
	assert.Equal(t, []string{"a.cdn.net", "b.cdn.net"}, cluster.Hostnames())
	assert.Len(t, cluster.Edges(), 1)
}

type refusingObserver struct{}

func (refusingObserver) OnNewNode(node *graph.Node) error {
	return errors.Newf("refused node %s", node.Hostname())
}

func (refusingObserver) OnNodeChange(from, to graph.NodeType, node *graph.Node) error { return nil }

func (refusingObserver) OnNewEdge(edge *graph.Edge) error {
	return errors.Newf("refused edge %d", edge.ID())
}

func (refusingObserver) OnEdgeChange(from, to graph.EdgeType, edge *graph.Edge) error { return nil }

func TestRebuildToleratesObserverFailures(t *testing.T) {
	s := newTestStorage(t)
	original := sessionGraph(t)
	id, err := s.CreateSession()
	require.NoError(t, err)
	require.NoError(t, s.Flush(id, original))
	data, err := s.LoadSession(id)
	require.NoError(t, err)

	g := graph.New()
	g.Register(refusingObserver{})

	err = Rebuild(data, g)
	require.Error(t, err)
	assert.True(t, graph.IsObserver(err))

	assert.Equal(t, original.NodeCount(), g.NodeCount())
	assert.Len(t, g.DirectEdges(), len(original.DirectEdges()))
	for _, edge := range original.DirectEdges() {
		rebuilt, ok := g.GetEdgeBetweenNodes(edge.From().ID(), edge.To().ID())
		require.True(t, ok)
		assert.Equal(t, edge.Links(), rebuilt.Links())
	}
	_, ok := g.Cluster("cdn")
	assert.True(t, ok)
}
