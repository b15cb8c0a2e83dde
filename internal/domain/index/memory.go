package index

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/recallhq/recall-server/internal/domain/identity"
)

const (
	defaultBruteForceLimit = 4096
	defaultProbeLists      = 4
	kmeansIterations       = 4
)

// MemoryIndex keeps one partition per owner. Small partitions are
// scanned exactly; once a partition outgrows bruteForceLimit it is
// clustered into coarse inverted lists and queries probe only the
// nearest lists, trading recall for latency.
type MemoryIndex struct {
	dimension       int
	bruteForceLimit int
	probeLists      int

	mu         sync.RWMutex
	partitions map[string]*partition
}

type partition struct {
	mu      sync.RWMutex
	vectors map[string]entry

	// Coarse clustering state; nil until the partition outgrows the
	// brute-force limit. lists may reference removed ids, and an id
	// re-upserted into a different cluster appears in both its old and
	// new list; queries skip the former and dedup the latter.
	centroids [][]float32
	lists     [][]string
	builtSize int
}

type entry struct {
	vector []float32
	norm   float32
}

var _ Index = (*MemoryIndex)(nil)

func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{
		dimension:       dimension,
		bruteForceLimit: defaultBruteForceLimit,
		probeLists:      defaultProbeLists,
		partitions:      make(map[string]*partition),
	}
}

func (m *MemoryIndex) partitionFor(owner identity.Principal, create bool) *partition {
	m.mu.RLock()
	p := m.partitions[owner.ID]
	m.mu.RUnlock()
	if p != nil || !create {
		return p
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p = m.partitions[owner.ID]; p == nil {
		p = &partition{vectors: make(map[string]entry)}
		m.partitions[owner.ID] = p
	}
	return p
}

func (m *MemoryIndex) Upsert(_ context.Context, owner identity.Principal, chunkID string, vector []float32) error {
	if !owner.Valid() {
		return ErrInvalidPrincipal
	}
	if err := checkDimension(vector, m.dimension); err != nil {
		return err
	}

	stored := make([]float32, len(vector))
	copy(stored, vector)

	p := m.partitionFor(owner, true)
	p.mu.Lock()
	defer p.mu.Unlock()

	p.vectors[chunkID] = entry{vector: stored, norm: norm(stored)}

	if p.centroids == nil {
		if len(p.vectors) > m.bruteForceLimit {
			p.rebuild(m.probeLists)
		}
		return nil
	}

	// Keep lists incremental; a full rebuild only once the partition
	// has doubled since the last clustering.
	if len(p.vectors) >= 2*p.builtSize {
		p.rebuild(m.probeLists)
		return nil
	}
	list := nearestCentroid(p.centroids, stored)
	p.lists[list] = append(p.lists[list], chunkID)
	return nil
}

func (m *MemoryIndex) Remove(_ context.Context, owner identity.Principal, chunkID string) error {
	if !owner.Valid() {
		return ErrInvalidPrincipal
	}

	p := m.partitionFor(owner, false)
	if p == nil {
		return nil
	}

	p.mu.Lock()
	delete(p.vectors, chunkID)
	p.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, owner identity.Principal, query []float32, k int, threshold float32) ([]Hit, error) {
	if !owner.Valid() {
		return nil, ErrInvalidPrincipal
	}
	if err := checkDimension(query, m.dimension); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	p := m.partitionFor(owner, false)
	if p == nil {
		return nil, nil
	}

	queryNorm := norm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	var hits []Hit
	seen := make(map[string]struct{})
	score := func(id string) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		e, ok := p.vectors[id]
		if !ok || e.norm == 0 {
			return
		}
		sim := dot(query, e.vector) / (queryNorm * e.norm)
		if sim >= threshold {
			hits = append(hits, Hit{ChunkID: id, Similarity: sim})
		}
	}

	if p.centroids == nil {
		for id := range p.vectors {
			score(id)
		}
	} else {
		for _, list := range nearestCentroids(p.centroids, query, m.probeLists) {
			for _, id := range p.lists[list] {
				score(id)
			}
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// rebuild reclusters the partition. Caller holds the write lock.
// Clustering is deterministic: ids are visited in sorted order and
// seeds are evenly spaced over them.
func (p *partition) rebuild(probeLists int) {
	ids := make([]string, 0, len(p.vectors))
	for id := range p.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	nlist := int(math.Sqrt(float64(len(ids))))
	if nlist < probeLists {
		nlist = probeLists
	}
	if nlist > len(ids) {
		nlist = len(ids)
	}

	centroids := make([][]float32, nlist)
	for i := range centroids {
		seed := p.vectors[ids[i*len(ids)/nlist]].vector
		centroids[i] = append([]float32(nil), seed...)
	}

	assignments := make([]int, len(ids))
	for iter := 0; iter < kmeansIterations; iter++ {
		for i, id := range ids {
			assignments[i] = nearestCentroid(centroids, p.vectors[id].vector)
		}

		sums := make([][]float32, nlist)
		counts := make([]int, nlist)
		for i := range sums {
			sums[i] = make([]float32, len(centroids[0]))
		}
		for i, id := range ids {
			c := assignments[i]
			counts[c]++
			for d, v := range p.vectors[id].vector {
				sums[c][d] += v
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = sums[c][d] / float32(counts[c])
			}
		}
	}

	lists := make([][]string, nlist)
	for i, id := range ids {
		c := assignments[i]
		lists[c] = append(lists[c], id)
	}

	p.centroids = centroids
	p.lists = lists
	p.builtSize = len(ids)
}

func nearestCentroid(centroids [][]float32, vector []float32) int {
	best := 0
	bestSim := float32(math.Inf(-1))
	vectorNorm := norm(vector)
	for i, centroid := range centroids {
		sim := cosine(centroid, vector, vectorNorm)
		if sim > bestSim {
			bestSim = sim
			best = i
		}
	}
	return best
}

func nearestCentroids(centroids [][]float32, vector []float32, n int) []int {
	type scored struct {
		idx int
		sim float32
	}
	vectorNorm := norm(vector)
	ranked := make([]scored, len(centroids))
	for i, centroid := range centroids {
		ranked[i] = scored{idx: i, sim: cosine(centroid, vector, vectorNorm)}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].sim != ranked[j].sim {
			return ranked[i].sim > ranked[j].sim
		}
		return ranked[i].idx < ranked[j].idx
	})
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].idx
	}
	return out
}

func cosine(a, b []float32, bNorm float32) float32 {
	aNorm := norm(a)
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	return dot(a, b) / (aNorm * bNorm)
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}
