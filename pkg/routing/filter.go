package routing

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sort"

	"golang.org/x/sync/errgroup"

	"walkfilter/pkg/graph"
)

// ErrComputation is returned when a reachability search cannot run, for
// example because a distance threshold is not a finite non-negative number.
var ErrComputation = errors.New("reachability computation failed")

// Constraint requires a candidate to be within MaxDistance of at least one
// of Sources. A constraint with no sources or a nil MaxDistance is inactive.
type Constraint struct {
	Sources     []graph.NodeID
	MaxDistance *float64
}

// Active reports whether c takes part in filtering.
func (c Constraint) Active() bool {
	return len(c.Sources) > 0 && c.MaxDistance != nil
}

// Filter returns the candidates that are within every active constraint's
// distance of that constraint's sources. The result keeps input order and
// contains each node once. When no constraint is active the candidates are
// returned unchanged.
func Filter(g *graph.Graph, candidates []graph.NodeID, constraints map[string]Constraint) ([]graph.NodeID, error) {
	if len(constraints) == 0 {
		return slices.Clone(candidates), nil
	}

	// Sorted for deterministic error reporting.
	categories := make([]string, 0, len(constraints))
	for name, c := range constraints {
		if !c.Active() {
			continue
		}
		d := *c.MaxDistance
		if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
			return nil, fmt.Errorf("%w: category %q has invalid max distance %v", ErrComputation, name, d)
		}
		categories = append(categories, name)
	}
	sort.Strings(categories)
	if len(categories) == 0 {
		return slices.Clone(candidates), nil
	}

	reach := make([]map[graph.NodeID]float64, len(categories))
	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i, name := range categories {
		c := constraints[name]
		eg.Go(func() error {
			reach[i] = MultiSourceDistances(g, c.Sources, *c.MaxDistance)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return dedupe(candidates, func(id graph.NodeID) bool {
		for _, r := range reach {
			if _, ok := r[id]; !ok {
				return false
			}
		}
		return true
	}), nil
}

// dedupe keeps the first occurrence of every id that passes keep.
func dedupe(ids []graph.NodeID, keep func(graph.NodeID) bool) []graph.NodeID {
	seen := make(map[graph.NodeID]struct{}, len(ids))
	out := make([]graph.NodeID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}
