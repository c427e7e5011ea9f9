package semantic

import (
	"fmt"
	"math"
	"sort"
)

// Item is one vector stored in an index.
type Item struct {
	ID     string
	Vector []float32
}

// Neighbor is one search hit. Distance is 1 - Similarity, where Similarity is
// the cosine similarity in [-1, 1].
type Neighbor struct {
	ID         string
	Distance   float64
	Similarity float64
}

// IndexBuilder builds a searchable index from a batch of vectors.
type IndexBuilder interface {
	Build(items []Item) (Index, error)
}

// Index answers k-nearest-neighbour queries. When allow is non-nil only ids
// for which it returns true are considered. Results are ordered by ascending
// distance, ties broken by ascending id.
type Index interface {
	Search(query []float32, k int, allow func(id string) bool) ([]Neighbor, error)
	Len() int
}

// FlatIndexBuilder builds exact brute-force cosine indexes.
type FlatIndexBuilder struct{}

// Build implements IndexBuilder
func (FlatIndexBuilder) Build(items []Item) (Index, error) {
	return NewFlatIndex(items)
}

// FlatIndex compares the query against every stored vector. Search is exact,
// so results are reproducible across runs.
type FlatIndex struct {
	items []Item
	norms []float64
	dims  int
}

// NewFlatIndex creates an exact index. Vectors must share one dimensionality;
// nil or empty vectors are allowed and never similar to anything.
func NewFlatIndex(items []Item) (*FlatIndex, error) {
	idx := &FlatIndex{
		items: make([]Item, len(items)),
		norms: make([]float64, len(items)),
	}
	seen := make(map[string]struct{}, len(items))

	for i, item := range items {
		if _, dup := seen[item.ID]; dup {
			return nil, fmt.Errorf("duplicate index id %q", item.ID)
		}
		seen[item.ID] = struct{}{}

		if len(item.Vector) > 0 {
			if idx.dims == 0 {
				idx.dims = len(item.Vector)
			} else if len(item.Vector) != idx.dims {
				return nil, fmt.Errorf("vector %q has %d dimensions, expected %d", item.ID, len(item.Vector), idx.dims)
			}
		}

		idx.items[i] = item
		idx.norms[i] = norm(item.Vector)
	}

	return idx, nil
}

// Len returns the number of indexed vectors
func (idx *FlatIndex) Len() int {
	return len(idx.items)
}

// Search implements Index
func (idx *FlatIndex) Search(query []float32, k int, allow func(id string) bool) ([]Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(query) > 0 && idx.dims > 0 && len(query) != idx.dims {
		return nil, fmt.Errorf("query has %d dimensions, index has %d", len(query), idx.dims)
	}

	qNorm := norm(query)
	hits := make([]Neighbor, 0, len(idx.items))

	for i, item := range idx.items {
		if allow != nil && !allow(item.ID) {
			continue
		}
		sim := cosine(query, qNorm, item.Vector, idx.norms[i])
		hits = append(hits, Neighbor{ID: item.ID, Distance: 1 - sim, Similarity: sim})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, aNorm float64, b []float32, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	sim := dot / (aNorm * bNorm)
	return math.Max(-1, math.Min(1, sim))
}
