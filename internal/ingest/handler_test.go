package ingest

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvmarrod/traffic-weaver/internal/graph"
)

var ts = time.Unix(1700000000, 0)

func request(url string, typ graph.RequestType) graph.Request {
	return graph.Request{Method: "GET", URL: url, Timestamp: ts, Type: typ}
}

func TestAddRequest(t *testing.T) {
	g := graph.New()
	h := NewHandler(g)

	require.NoError(t, h.AddRequest("https://news.org/", request("https://news.org/", graph.RequestRoot)))
	require.NoError(t, h.AddRequest("https://news.org/", request("https://news.org/app.js", graph.RequestEmbedded)))
	require.NoError(t, h.AddRequest("https://news.org/", request("https://cdn.net/lib.js", graph.RequestEmbedded)))
	require.NoError(t, h.AddRequest("https://news.org/", request("https://cdn.net/style.css", graph.RequestEmbedded)))

	t.Run("nodes hold their requests", func(t *testing.T) {
		news, ok := g.GetNode("news.org")
		require.True(t, ok)
		assert.Equal(t, graph.NodeRoot, news.Type())
		assert.Equal(t, 2, news.RequestCount())

		cdn, ok := g.GetNode("cdn.net")
		require.True(t, ok)
		assert.Equal(t, graph.NodeEmbedded, cdn.Type())
		assert.Equal(t, 2, cdn.RequestCount())
	})

	t.Run("same-domain traffic creates no edge", func(t *testing.T) {
		assert.False(t, g.ExistsEdge("news.org", "news.org"))
		assert.Len(t, g.Edges(), 1)
	})

	t.Run("cross-domain traffic lands on one dependency edge", func(t *testing.T) {
		edge, ok := g.GetEdgeBetweenNodes("news.org", "cdn.net")
		require.True(t, ok)
		assert.Equal(t, graph.EdgeDependency, edge.Type())
		links := edge.Links()
		require.Len(t, links, 2)
		assert.Equal(t, graph.LinkRequest, links[0].Kind)
		assert.Equal(t, "https://news.org/", links[0].From)
		assert.Equal(t, "https://cdn.net/lib.js", links[0].To)
	})

	t.Run("unparseable urls", func(t *testing.T) {
		err := h.AddRequest("https://news.org/", request("/relative.js", graph.RequestEmbedded))
		assert.True(t, graph.IsPrecondition(err))
		err = h.AddRequest("news", request("https://cdn.net/x.js", graph.RequestEmbedded))
		assert.True(t, graph.IsPrecondition(err))
	})
}

func TestAddRedirect(t *testing.T) {
	g := graph.New()
	h := NewHandler(g)

	require.NoError(t, h.AddRedirect(graph.Redirect{
		InitialURL: "http://short.ly/abc", FinalURL: "https://news.org/story", Type: graph.RequestRoot, Timestamp: ts,
	}))

	edge, ok := g.GetEdgeBetweenNodes("short.ly", "news.org")
	require.True(t, ok)
	assert.Equal(t, graph.EdgeRedirect, edge.Type())
	require.Len(t, edge.Links(), 1)
	assert.Equal(t, graph.LinkRedirect, edge.Links()[0].Kind)

	t.Run("a request keeps an existing redirect edge", func(t *testing.T) {
		require.NoError(t, h.AddRequest("http://short.ly/", request("https://news.org/pixel.gif", graph.RequestEmbedded)))
		edge, _ := g.GetEdgeBetweenNodes("short.ly", "news.org")
		assert.Equal(t, graph.EdgeRedirect, edge.Type())
		assert.Equal(t, 2, edge.LinkCount())
	})

	t.Run("same-host redirect only ensures the node", func(t *testing.T) {
		require.NoError(t, h.AddRedirect(graph.Redirect{
			InitialURL: "http://plain.org/", FinalURL: "https://plain.org/", Type: graph.RequestRoot,
		}))
		assert.True(t, g.ExistsNode("plain.org"))
		assert.Len(t, g.Edges(), 1)
	})
}

func TestAddReferral(t *testing.T) {
	g := graph.New()
	h := NewHandler(g)

	require.NoError(t, h.AddReferral("https://news.org/", request("https://blog.net/post", graph.RequestRoot)))
	require.NoError(t, h.AddReferral("https://news.org/a", request("https://news.org/b", graph.RequestRoot)))

	edge, ok := g.GetEdgeBetweenNodes("news.org", "blog.net")
	require.True(t, ok)
	assert.Equal(t, graph.EdgeDependency, edge.Type())
	require.Len(t, edge.Links(), 1)
	assert.Equal(t, graph.LinkReferral, edge.Links()[0].Kind)

	blog, _ := g.GetNode("blog.net")
	assert.Zero(t, blog.RequestCount())
	assert.Len(t, g.Edges(), 1)
}

type failingObserver struct{ calls int }

func (f *failingObserver) OnNewNode(*graph.Node) error {
	f.calls++
	return errors.New("dashboard offline")
}
func (f *failingObserver) OnNodeChange(_, _ graph.NodeType, _ *graph.Node) error { return nil }
func (f *failingObserver) OnNewEdge(*graph.Edge) error                         { return nil }
func (f *failingObserver) OnEdgeChange(_, _ graph.EdgeType, _ *graph.Edge) error {
	return nil
}

func TestObserverFailuresDoNotStopIngestion(t *testing.T) {
	g := graph.New()
	observer := &failingObserver{}
	g.Register(observer)
	h := NewHandler(g)

	err := h.AddRequest("https://news.org/", request("https://cdn.net/lib.js", graph.RequestEmbedded))
	require.Error(t, err)
	assert.True(t, graph.IsObserver(err))
	assert.Equal(t, 2, observer.calls)

	assert.True(t, g.ExistsNode("news.org"))
	cdn, ok := g.GetNode("cdn.net")
	require.True(t, ok)
	assert.Equal(t, 1, cdn.RequestCount())
	edge, ok := g.GetEdgeBetweenNodes("news.org", "cdn.net")
	require.True(t, ok)
	assert.Equal(t, 1, edge.LinkCount())
}
