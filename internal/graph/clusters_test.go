package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shop.com -> cdn.shop.com, shop.com -> ads.tracker.net, cdn.shop.com -> ads.tracker.net
func clusterFixture(t *testing.T) *Graph {
	t.Helper()
	g := New()
	for _, h := range []string{"shop.com", "cdn.shop.com", "ads.tracker.net", "pixel.tracker.net"} {
		mustNode(t, g, h)
	}
	mustEdge(t, g, "shop.com", "cdn.shop.com")
	mustEdge(t, g, "shop.com", "ads.tracker.net")
	mustEdge(t, g, "cdn.shop.com", "ads.tracker.net")
	return g
}

func nodes(t *testing.T, g *Graph, hostnames ...string) []*Node {
	t.Helper()
	out := make([]*Node, 0, len(hostnames))
	for _, h := range hostnames {
		n, ok := g.GetNode(h)
		require.True(t, ok, h)
		out = append(out, n)
	}
	return out
}

func TestAddCluster(t *testing.T) {
	t.Run("folds crossing edges into aggregates", func(t *testing.T) {
		g := clusterFixture(t)
		c, err := g.AddCluster("shop", nodes(t, g, "shop.com", "cdn.shop.com"))
		require.NoError(t, err)

		assert.Equal(t, []string{"cdn.shop.com", "shop.com"}, c.Hostnames())
		edges := c.Edges()
		require.Len(t, edges, 1, "internal edge is hidden, two crossing edges are merged")

		agg := edges[0]
		assert.True(t, agg.IsClusterEdge())
		assert.Equal(t, "shop", agg.From().ID())
		assert.Equal(t, "ads.tracker.net", agg.To().ID())
		assert.Len(t, agg.Underlying(), 2)

		ads, _ := g.GetNode("ads.tracker.net")
		assert.True(t, c.HasEdgeTo(ads))
		assert.Same(t, agg, c.EdgeTo(ads))

		got, ok := g.Edge(agg.ID())
		require.True(t, ok)
		assert.Same(t, agg, got)
	})

	t.Run("aggregate links follow the underlying edges", func(t *testing.T) {
		g := clusterFixture(t)
		c, err := g.AddCluster("shop", nodes(t, g, "shop.com", "cdn.shop.com"))
		require.NoError(t, err)

		_, err = g.AddRequestToEdge("https://cdn.shop.com/", request("https://ads.tracker.net/t.gif", RequestEmbedded))
		require.NoError(t, err)

		agg := c.Edges()[0]
		assert.Equal(t, 1, agg.LinkCount())
		assert.Error(t, agg.AddRequest("https://shop.com/", request("https://ads.tracker.net/", RequestEmbedded)))
	})

	t.Run("two clusters link to each other", func(t *testing.T) {
		g := clusterFixture(t)
		shop, err := g.AddCluster("shop", nodes(t, g, "shop.com", "cdn.shop.com"))
		require.NoError(t, err)
		tracker, err := g.AddCluster("tracker", nodes(t, g, "ads.tracker.net", "pixel.tracker.net"))
		require.NoError(t, err)

		assert.True(t, shop.HasEdgeTo(tracker))
		assert.False(t, tracker.HasEdgeTo(shop))
		ads, _ := g.GetNode("ads.tracker.net")
		assert.False(t, shop.HasEdgeTo(ads), "aggregate now points at the tracker cluster")
	})

	t.Run("node to cluster aggregate", func(t *testing.T) {
		g := clusterFixture(t)
		tracker, err := g.AddCluster("tracker", nodes(t, g, "ads.tracker.net", "pixel.tracker.net"))
		require.NoError(t, err)

		shop, _ := g.GetNode("shop.com")
		assert.True(t, shop.HasEdgeTo(tracker))
		ads, _ := g.GetNode("ads.tracker.net")
		assert.True(t, shop.HasEdgeTo(ads), "direct edge is kept underneath")
	})

	t.Run("edges created while clustered are folded in", func(t *testing.T) {
		g := clusterFixture(t)
		tracker, err := g.AddCluster("tracker", nodes(t, g, "ads.tracker.net", "pixel.tracker.net"))
		require.NoError(t, err)
		before := tracker.Edges()

		mustEdge(t, g, "shop.com", "pixel.tracker.net")

		after := tracker.Edges()
		require.Len(t, after, len(before))
		assert.Equal(t, before[0].ID(), after[0].ID(), "aggregate id is stable")
		shop, _ := g.GetNode("shop.com")
		assert.Len(t, shop.EdgeTo(tracker).Underlying(), 2)
	})

	t.Run("validation", func(t *testing.T) {
		g := clusterFixture(t)

		_, err := g.AddCluster(" ", nodes(t, g, "shop.com", "cdn.shop.com"))
		assert.True(t, IsValidation(err))

		_, err = g.AddCluster("shop.com", nodes(t, g, "cdn.shop.com", "ads.tracker.net"))
		assert.True(t, IsValidation(err), "id colliding with a hostname")

		_, err = g.AddCluster("one", nodes(t, g, "shop.com", "shop.com"))
		assert.True(t, IsInsufficientMatch(err))

		_, err = g.AddCluster("foreign", []*Node{newNode("shop.com"), newNode("x.com")})
		assert.True(t, IsPrecondition(err))

		_, err = g.AddCluster("shop", nodes(t, g, "shop.com", "cdn.shop.com"))
		require.NoError(t, err)
		_, err = g.AddCluster("shop", nodes(t, g, "ads.tracker.net", "pixel.tracker.net"))
		assert.True(t, IsDuplicateEntity(err))
		_, err = g.AddCluster("mixed", nodes(t, g, "shop.com", "ads.tracker.net"))
		assert.True(t, IsOverlap(err))

		assert.Len(t, g.Clusters(), 1)
	})
}

func TestRemoveCluster(t *testing.T) {
	t.Run("restores direct visibility", func(t *testing.T) {
		g := clusterFixture(t)
		_, err := g.AddRequestToNode(request("https://shop.com/", RequestRoot))
		require.NoError(t, err)
		_, err = g.AddCluster("shop", nodes(t, g, "shop.com", "cdn.shop.com"))
		require.NoError(t, err)

		require.NoError(t, g.RemoveCluster("shop"))

		_, ok := g.Cluster("shop")
		assert.False(t, ok)
		_, ok = g.ClusterOf("shop.com")
		assert.False(t, ok)
		for _, e := range g.Edges() {
			assert.False(t, e.IsClusterEdge())
		}
		assert.Len(t, g.Edges(), 3)
		shop, _ := g.GetNode("shop.com")
		assert.Equal(t, 1, shop.RequestCount())
	})

	t.Run("unknown cluster", func(t *testing.T) {
		assert.True(t, IsValidation(New().RemoveCluster("nope")))
	})

	t.Run("remaining clusters keep their aggregates", func(t *testing.T) {
		g := clusterFixture(t)
		_, err := g.AddCluster("shop", nodes(t, g, "shop.com", "cdn.shop.com"))
		require.NoError(t, err)
		_, err = g.AddCluster("tracker", nodes(t, g, "ads.tracker.net", "pixel.tracker.net"))
		require.NoError(t, err)

		require.NoError(t, g.RemoveCluster("shop"))

		tracker, _ := g.Cluster("tracker")
		edges := tracker.Edges()
		require.Len(t, edges, 2, "shop.com and cdn.shop.com each point at tracker again")
		assert.Equal(t, "shop.com", edges[0].From().ID())
		assert.Equal(t, "cdn.shop.com", edges[1].From().ID())
		cdn, _ := g.GetNode("cdn.shop.com")
		assert.True(t, cdn.HasEdgeTo(tracker))
	})
}

func TestClusterRequests(t *testing.T) {
	g := clusterFixture(t)
	_, err := g.AddRequestToNode(request("https://shop.com/", RequestRoot))
	require.NoError(t, err)
	_, err = g.AddRequestToNode(request("https://cdn.shop.com/app.js", RequestEmbedded))
	require.NoError(t, err)

	c, err := g.AddCluster("shop", nodes(t, g, "shop.com", "cdn.shop.com"))
	require.NoError(t, err)

	reqs := c.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "https://cdn.shop.com/app.js", reqs[0].URL)
	assert.Equal(t, 2, c.Size())

	v, ok := g.Vertex("shop")
	require.True(t, ok)
	assert.True(t, v.IsCluster())
	v, ok = g.Vertex("shop.com")
	require.True(t, ok)
	assert.False(t, v.IsCluster())
}
