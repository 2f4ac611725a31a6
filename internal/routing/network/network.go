// Package network implements the routing port on a graph built from a line
// dataset. Line vertices become nodes, consecutive vertices become edges
// weighted by planar length, and stops are snapped to the nearest node.
package network

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	orbplanar "github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/mohammed-shakir/map-session/internal/geo"
	"github.com/mohammed-shakir/map-session/internal/ports"
)

// vertexGrid is the resolution at which line vertices are merged into one node.
const vertexGrid = 1e-6

type Network struct {
	snap  float64
	g     *simple.WeightedUndirectedGraph
	nodes []orb.Point
	index *rtreego.Rtree
}

var _ ports.Router = (*Network)(nil)

type node struct {
	id int64
	p  orb.Point
}

func (n *node) Bounds() rtreego.Rect { return rtreego.Point{n.p[0], n.p[1]}.ToRect(vertexGrid) }

// FromLines builds a network; stops farther than snap from every node have
// no route.
func FromLines(lines []orb.LineString, snap float64) (*Network, error) {
	if snap <= 0 {
		return nil, errors.New("network: snap tolerance must be positive")
	}
	n := &Network{
		snap:  snap,
		g:     simple.NewWeightedUndirectedGraph(0, math.Inf(1)),
		index: rtreego.NewTree(2, 25, 50),
	}
	ids := make(map[[2]int64]int64)
	nodeFor := func(p orb.Point) int64 {
		k := [2]int64{int64(math.Round(p[0] / vertexGrid)), int64(math.Round(p[1] / vertexGrid))}
		if id, ok := ids[k]; ok {
			return id
		}
		id := int64(len(n.nodes))
		ids[k] = id
		n.nodes = append(n.nodes, p)
		n.g.AddNode(simple.Node(id))
		n.index.Insert(&node{id: id, p: p})
		return id
	}

	for _, ls := range lines {
		for i := 0; i+1 < len(ls); i++ {
			a, b := nodeFor(ls[i]), nodeFor(ls[i+1])
			if a == b {
				continue
			}
			w := orbplanar.Distance(ls[i], ls[i+1])
			if cur, ok := n.g.Weight(a, b); ok && cur <= w {
				continue
			}
			n.g.SetWeightedEdge(n.g.NewWeightedEdge(simple.Node(a), simple.Node(b), w))
		}
	}
	if len(n.nodes) == 0 {
		return nil, errors.New("network: no line vertices")
	}
	return n, nil
}

// Build reads every feature of a line dataset into a network.
func Build(ctx context.Context, store ports.FeatureStore, ds geo.Dataset, snap float64) (*Network, error) {
	if ds.Kind != geo.KindLine {
		return nil, fmt.Errorf("network: dataset %q is %s, want line", ds.Name, ds.Kind)
	}
	var lines []orb.LineString
	err := store.Scan(ctx, ds, func(f geo.Feature) error {
		switch g := f.Geometry.(type) {
		case orb.LineString:
			lines = append(lines, g)
		case orb.MultiLineString:
			lines = append(lines, g...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("network: scan %q: %w", ds.Name, err)
	}
	return FromLines(lines, snap)
}

func (n *Network) Nodes() int { return len(n.nodes) }

// Solve returns origin, the node path, then destination. Stops that do not
// snap onto the network and stops in disconnected parts give ErrNoRoute.
func (n *Network) Solve(ctx context.Context, origin, destination orb.Point) (orb.LineString, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("network solve: %w", err)
	}
	from, ok := n.nearest(origin)
	if !ok {
		return nil, fmt.Errorf("origin %v is off the network: %w", origin, ports.ErrNoRoute)
	}
	to, ok := n.nearest(destination)
	if !ok {
		return nil, fmt.Errorf("destination %v is off the network: %w", destination, ports.ErrNoRoute)
	}

	var nodes []graph.Node
	if from == to {
		nodes = []graph.Node{simple.Node(from)}
	} else {
		shortest := path.DijkstraFrom(simple.Node(from), n.g)
		var weight float64
		nodes, weight = shortest.To(to)
		if len(nodes) == 0 || math.IsInf(weight, 1) {
			return nil, ports.ErrNoRoute
		}
	}

	out := make(orb.LineString, 0, len(nodes)+2)
	push := func(p orb.Point) {
		if len(out) > 0 && out[len(out)-1].Equal(p) {
			return
		}
		out = append(out, p)
	}
	push(origin)
	for _, nd := range nodes {
		push(n.nodes[nd.ID()])
	}
	push(destination)
	if len(out) == 1 {
		out = append(out, destination)
	}
	return out, nil
}

func (n *Network) nearest(p orb.Point) (int64, bool) {
	s := n.index.NearestNeighbor(rtreego.Point{p[0], p[1]})
	if s == nil {
		return 0, false
	}
	nd := s.(*node)
	if orbplanar.Distance(nd.p, p) > n.snap {
		return 0, false
	}
	return nd.id, true
}
