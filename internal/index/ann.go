package index

import (
	"github.com/coder/hnsw"
)

// DefaultANNThreshold is the vector count from which unfiltered searches
// over normalized vectors use the HNSW graph instead of a full scan.
const DefaultANNThreshold = 1000

// HNSW parameters.
const (
	annM        = 16
	annMl       = 0.25
	annEfSearch = 64
)

// annGraph is an approximate nearest-neighbour graph over vector positions.
// It is built on first use and extended as vectors are appended.
type annGraph struct {
	graph *hnsw.Graph[uint64]
	size  int // Vectors inserted so far
}

func newANNGraph() *annGraph {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = annM
	g.Ml = annMl
	g.EfSearch = annEfSearch
	return &annGraph{graph: g}
}

// sync inserts rows [size, count) of the row-major matrix.
func (a *annGraph) sync(matrix []float32, dims, count int) {
	for i := a.size; i < count; i++ {
		row := matrix[i*dims : (i+1)*dims]
		a.graph.Add(hnsw.MakeNode(uint64(i), hnsw.Vector(row)))
	}
	a.size = count
}

// nearest returns up to k candidate positions for query.
func (a *annGraph) nearest(query []float32, k int) []int {
	if a.graph.Len() == 0 || k <= 0 {
		return nil
	}
	a.graph.EfSearch = max(annEfSearch, k)
	nodes := a.graph.Search(hnsw.Vector(query), k)
	out := make([]int, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, int(n.Key))
	}
	return out
}
