package identity

import "github.com/coder/hnsw"

// HNSW parameters for the 128-dim face embeddings.
const (
	// hnswMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	hnswMaxNeighbors = 16

	// hnswEfSearch is the search candidate pool size.
	hnswEfSearch = 100

	// hnswSearchMultiplier is the factor to request more candidates from HNSW
	// than strictly needed, so enough distinct labels survive exact re-scoring.
	hnswSearchMultiplier = 3
)

// index is the approximate-nearest-neighbor shortlist used once the store
// grows past the exact-scan cutover. Search candidates are always re-scored
// with the exact metric before selection, so both lookup paths apply the same
// decision rule. Not safe for concurrent use: callers hold the store lock.
type index struct {
	graph *hnsw.Graph[int64]
	refs  map[int64]indexRef
	next  int64
}

// indexRef ties an HNSW node back to the person it belongs to.
type indexRef struct {
	key string // normalized label
	vec Vector
}

func newIndex() *index {
	g := hnsw.NewGraph[int64]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors) // Standard HNSW formula
	g.EfSearch = hnswEfSearch
	g.Distance = hnsw.CosineDistance

	return &index{
		graph: g,
		refs:  make(map[int64]indexRef),
	}
}

// buildIndex indexes every template of every person.
func buildIndex(people map[string]*Person) *index {
	ix := newIndex()
	for key, p := range people {
		for _, v := range p.Templates {
			ix.add(key, v)
		}
	}
	return ix
}

func (ix *index) add(key string, vec Vector) {
	if len(vec) == 0 {
		return
	}
	id := ix.next
	ix.next++
	ix.graph.Add(hnsw.MakeNode(id, vec))
	ix.refs[id] = indexRef{key: key, vec: vec}
}

// shortlist returns up to k nearby templates. Stale nodes whose person was
// removed since the last rebuild are filtered out by the refs lookup.
func (ix *index) shortlist(query Vector, k int) []indexRef {
	neighbors := ix.graph.Search(query, k)

	out := make([]indexRef, 0, len(neighbors))
	for _, n := range neighbors {
		ref, ok := ix.refs[n.Key]
		if !ok {
			continue
		}
		out = append(out, ref)
	}
	return out
}

func (ix *index) len() int {
	return len(ix.refs)
}
