package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(url string, typ RequestType) Request {
	return Request{Method: "GET", URL: url, Timestamp: time.Unix(1700000000, 0), Type: typ}
}

func mustNode(t *testing.T, g *Graph, hostname string) *Node {
	t.Helper()
	n, err := g.CreateNode(hostname)
	require.NoError(t, err)
	return n
}

func mustEdge(t *testing.T, g *Graph, from, to string) *Edge {
	t.Helper()
	e, err := g.CreateEdge(from, to, EdgeDependency)
	require.NoError(t, err)
	return e
}

func TestCreateNode(t *testing.T) {
	t.Run("registers and looks up by hostname", func(t *testing.T) {
		g := New()
		n := mustNode(t, g, "www.example.com")

		assert.True(t, g.ExistsNode("www.example.com"))
		got, ok := g.GetNode("www.example.com")
		require.True(t, ok)
		assert.Same(t, n, got)
		assert.Equal(t, NodeEmbedded, n.Type())
	})

	t.Run("hostname is normalised", func(t *testing.T) {
		g := New()
		n := mustNode(t, g, "  WWW.Example.COM ")
		assert.Equal(t, "www.example.com", n.Hostname())

		assert.True(t, g.ExistsNode("  WWW.Example.COM "))
		got, ok := g.GetNode("WWW.EXAMPLE.com")
		require.True(t, ok)
		assert.Same(t, n, got)

		mustNode(t, g, "cdn.net")
		edge, err := g.CreateEdge("  WWW.Example.COM ", "CDN.net", EdgeDependency)
		require.NoError(t, err)
		assert.Same(t, n, edge.From())
		assert.True(t, g.ExistsEdge("WWW.EXAMPLE.COM", "cdn.NET"))

		_, err = g.CreateEdge("www.example.com", "cdn.net", EdgeDependency)
		assert.True(t, IsDuplicateEntity(err))
	})

	t.Run("missing node is not an error", func(t *testing.T) {
		g := New()
		n, ok := g.GetNode("nowhere.org")
		assert.False(t, ok)
		assert.Nil(t, n)
		assert.False(t, g.ExistsNode("nowhere.org"))
	})

	t.Run("duplicate is rejected and history kept", func(t *testing.T) {
		g := New()
		mustNode(t, g, "a.com")
		_, err := g.AddRequestToNode(request("https://a.com/", RequestRoot))
		require.NoError(t, err)

		_, err = g.CreateNode("a.com")
		require.Error(t, err)
		assert.True(t, IsDuplicateEntity(err))

		n, _ := g.GetNode("a.com")
		assert.Equal(t, 1, n.RequestCount())
	})

	t.Run("empty hostname", func(t *testing.T) {
		_, err := New().CreateNode(" ")
		assert.True(t, IsPrecondition(err))
	})
}

func TestCreateEdge(t *testing.T) {
	t.Run("direction matters", func(t *testing.T) {
		g := New()
		mustNode(t, g, "h1.com")
		mustNode(t, g, "h2.com")
		e := mustEdge(t, g, "h1.com", "h2.com")

		assert.True(t, g.ExistsEdge("h1.com", "h2.com"))
		assert.False(t, g.ExistsEdge("h2.com", "h1.com"))
		assert.Equal(t, EdgeID(1), e.ID())
		assert.Equal(t, EdgeDirect, e.Kind())
		assert.Equal(t, EdgeDependency, e.Type())
		assert.Equal(t, "h1.com", e.From().ID())
		assert.Equal(t, "h2.com", e.To().ID())
	})

	t.Run("adjacency is updated", func(t *testing.T) {
		g := New()
		h1 := mustNode(t, g, "h1.com")
		h2 := mustNode(t, g, "h2.com")
		e := mustEdge(t, g, "h1.com", "h2.com")

		assert.True(t, h1.HasEdgeTo(h2))
		assert.Same(t, e, h1.EdgeTo(h2))
		assert.False(t, h2.HasEdgeTo(h1))
		assert.Equal(t, []string{"h2.com"}, h1.Neighbours())
	})

	t.Run("missing endpoint", func(t *testing.T) {
		g := New()
		mustNode(t, g, "h1.com")
		_, err := g.CreateEdge("h1.com", "ghost.com", EdgeDependency)
		assert.True(t, IsPrecondition(err))
		_, err = g.CreateEdge("ghost.com", "h1.com", EdgeDependency)
		assert.True(t, IsPrecondition(err))
		assert.Empty(t, g.Edges())
	})

	t.Run("self edge", func(t *testing.T) {
		g := New()
		mustNode(t, g, "h1.com")
		_, err := g.CreateEdge("h1.com", "h1.com", EdgeDependency)
		assert.True(t, IsPrecondition(err))
	})

	t.Run("second edge for the same pair is rejected", func(t *testing.T) {
		g := New()
		mustNode(t, g, "h1.com")
		mustNode(t, g, "h2.com")
		mustEdge(t, g, "h1.com", "h2.com")
		_, err := g.CreateEdge("h1.com", "h2.com", EdgeRedirect)
		assert.True(t, IsDuplicateEntity(err))
		assert.Len(t, g.Edges(), 1)
	})

	t.Run("ids are per graph", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			g := New()
			mustNode(t, g, "h1.com")
			mustNode(t, g, "h2.com")
			assert.Equal(t, EdgeID(1), mustEdge(t, g, "h1.com", "h2.com").ID())
		}
	})
}

func TestAddTrafficToEdge(t *testing.T) {
	setup := func(t *testing.T) *Graph {
		g := New()
		mustNode(t, g, "www.example.com")
		mustNode(t, g, "cdn.other.net")
		mustEdge(t, g, "www.example.com", "cdn.other.net")
		return g
	}

	t.Run("requests accumulate on one edge", func(t *testing.T) {
		g := setup(t)

		first, err := g.AddRequestToEdge("https://www.example.com/", request("https://cdn.other.net/a.js", RequestEmbedded))
		require.NoError(t, err)
		second, err := g.AddRequestToEdge("https://www.example.com/page", request("https://cdn.other.net/b.js", RequestEmbedded))
		require.NoError(t, err)

		assert.Equal(t, first.ID(), second.ID())
		got, ok := g.GetEdgeBetweenNodes("www.example.com", "cdn.other.net")
		require.True(t, ok)
		assert.Equal(t, first.ID(), got.ID())
		assert.Equal(t, 2, got.LinkCount())
		assert.Len(t, g.Edges(), 1)

		links := got.Links()
		assert.Equal(t, LinkRequest, links[0].Kind)
		assert.Equal(t, "https://www.example.com/", links[0].From)
		assert.Equal(t, "https://cdn.other.net/a.js", links[0].To)
		assert.Equal(t, "https://cdn.other.net/b.js", links[1].To)
	})

	t.Run("redirect and referral links", func(t *testing.T) {
		g := setup(t)

		_, err := g.AddRedirectToEdge(Redirect{
			InitialURL: "http://www.example.com/old",
			FinalURL:   "https://cdn.other.net/new",
			Type:       RequestRoot,
		})
		require.NoError(t, err)
		_, err = g.AddReferralToEdge("https://www.example.com/", request("https://cdn.other.net/", RequestRoot))
		require.NoError(t, err)

		e, _ := g.GetEdgeBetweenNodes("www.example.com", "cdn.other.net")
		links := e.Links()
		require.Len(t, links, 2)
		assert.Equal(t, LinkRedirect, links[0].Kind)
		assert.False(t, links[0].Timestamp.IsZero())
		assert.Equal(t, LinkReferral, links[1].Kind)
		assert.Equal(t, EdgeDependency, e.Type(), "type never changes")
	})

	t.Run("edge must exist", func(t *testing.T) {
		g := setup(t)
		_, err := g.AddRequestToEdge("https://cdn.other.net/", request("https://www.example.com/", RequestEmbedded))
		assert.True(t, IsPrecondition(err))
		assert.False(t, g.ExistsEdge("cdn.other.net", "www.example.com"), "no implicit edge creation")
	})

	t.Run("relative urls are rejected", func(t *testing.T) {
		g := setup(t)
		_, err := g.AddRequestToEdge("/index.html", request("https://cdn.other.net/a.js", RequestEmbedded))
		assert.True(t, IsPrecondition(err))
	})
}

func TestAddRequestToNode(t *testing.T) {
	g := New()
	mustNode(t, g, "www.example.com")

	n, err := g.AddRequestToNode(request("https://www.example.com/app.js", RequestEmbedded))
	require.NoError(t, err)
	assert.Equal(t, NodeEmbedded, n.Type())

	n, err = g.AddRequestToNode(request("https://WWW.example.com/", RequestRoot))
	require.NoError(t, err)
	assert.Equal(t, NodeRoot, n.Type())
	assert.Equal(t, 2, n.RequestCount())

	_, err = g.AddRequestToNode(request("https://unknown.org/", RequestRoot))
	assert.True(t, IsPrecondition(err))
}

func TestFilterNodes(t *testing.T) {
	g := New()
	for _, h := range []string{"c.org", "a.org", "b.net"} {
		mustNode(t, g, h)
	}

	orgs := g.FilterNodes(func(n *Node) bool { return n.Hostname() != "b.net" })
	require.Len(t, orgs, 2)
	assert.Equal(t, "a.org", orgs[0].Hostname())
	assert.Equal(t, "c.org", orgs[1].Hostname())

	assert.Len(t, g.Nodes(), 3)
	assert.Equal(t, 3, g.NodeCount())
}

func TestHostname(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "absolute", raw: "https://Sub.Example.com:8443/path?q=1", want: "sub.example.com"},
		{name: "protocol relative", raw: "//cdn.example.com/lib.js", want: "cdn.example.com"},
		{name: "relative", raw: "/images/logo.png", wantErr: true},
		{name: "no host", raw: "file:///etc/hosts", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Hostname(tt.raw)
			if tt.wantErr {
				assert.True(t, IsPrecondition(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
