package routing

import (
	"math"

	"walkfilter/pkg/graph"
)

// MinHeap is a concrete-typed min-heap for the Dijkstra priority queue.
// Avoids interface boxing overhead of container/heap.
type MinHeap struct {
	items []PQItem
}

// PQItem is a priority queue entry.
type PQItem struct {
	Node uint32
	Dist float64
}

func (h *MinHeap) Len() int { return len(h.items) }

func (h *MinHeap) Push(node uint32, dist float64) {
	h.items = append(h.items, PQItem{node, dist})
	h.siftUp(len(h.items) - 1)
}

func (h *MinHeap) Pop() PQItem {
	n := len(h.items)
	item := h.items[0]
	h.items[0] = h.items[n-1]
	h.items = h.items[:n-1]
	if len(h.items) > 0 {
		h.siftDown(0)
	}
	return item
}

// PeekDist returns the smallest queued distance, or +Inf when empty.
func (h *MinHeap) PeekDist() float64 {
	if len(h.items) == 0 {
		return math.Inf(1)
	}
	return h.items[0].Dist
}

func (h *MinHeap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if h.items[i].Dist >= h.items[parent].Dist {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *MinHeap) siftDown(i int) {
	n := len(h.items)
	for {
		smallest := i
		left := 2*i + 1
		right := 2*i + 2
		if left < n && h.items[left].Dist < h.items[smallest].Dist {
			smallest = left
		}
		if right < n && h.items[right].Dist < h.items[smallest].Dist {
			smallest = right
		}
		if smallest == i {
			break
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}

// searchState holds per-search scratch space. Touched records settled or
// relaxed nodes so the result map only covers the explored region.
type searchState struct {
	dist    []float64
	touched []uint32
	pq      MinHeap
}

func newSearchState(n int) *searchState {
	dist := make([]float64, n)
	for i := range dist {
		dist[i] = math.Inf(1)
	}
	return &searchState{
		dist:    dist,
		touched: make([]uint32, 0, 1024),
		pq:      MinHeap{items: make([]PQItem, 0, 256)},
	}
}

func (s *searchState) relax(node uint32, d float64) bool {
	if d >= s.dist[node] {
		return false
	}
	if math.IsInf(s.dist[node], 1) {
		s.touched = append(s.touched, node)
	}
	s.dist[node] = d
	s.pq.Push(node, d)
	return true
}

// MultiSourceDistances returns the shortest distance from the nearest of
// sources to every node reachable within cutoff (inclusive), following
// directed out-edges weighted by length. Sources absent from g are skipped.
func MultiSourceDistances(g *graph.Graph, sources []graph.NodeID, cutoff float64) map[graph.NodeID]float64 {
	if cutoff < 0 || math.IsNaN(cutoff) {
		return map[graph.NodeID]float64{}
	}
	s := newSearchState(g.NumNodes())
	for _, id := range sources {
		if idx, ok := g.Index(id); ok {
			s.relax(idx, 0)
		}
	}

	// Anything still queued past the cutoff is unreachable in budget.
	for s.pq.Len() > 0 && s.pq.PeekDist() <= cutoff {
		cur := s.pq.Pop()
		if cur.Dist > s.dist[cur.Node] {
			continue // stale entry
		}
		start, end := g.EdgesFrom(cur.Node)
		for e := start; e < end; e++ {
			nd := cur.Dist + g.Length(e)
			if nd > cutoff {
				continue
			}
			s.relax(g.Head(e), nd)
		}
	}

	out := make(map[graph.NodeID]float64, len(s.touched))
	for _, idx := range s.touched {
		out[g.NodeAt(idx).ID] = s.dist[idx]
	}
	return out
}
