package grapher

import (
	"context"
	"slices"

	"github.com/defistate/defistate-router-go/bitset"
)

// step is one traversed edge using the pool in the given slot.
type step struct {
	edge   int
	slot   int
	weight float64
}

// label is the best known path from the search root to one vertex.
type label struct {
	weight    float64
	liquidity float64
	path      []step
	known     bitset.BitSet // vertices on path, root included
}

func (l *label) reached() bool {
	return l.known != nil
}

// improvedBy reports whether a path with the given totals beats l. Lower weight
// wins; within tolerance higher aggregate liquidity wins, then fewer hops.
func (l *label) improvedBy(weight, liquidity float64, hops int) bool {
	if !l.reached() {
		return true
	}
	if weight < l.weight-weightTolerance {
		return true
	}
	if weight > l.weight+weightTolerance {
		return false
	}
	if liquidity > l.liquidity+liquidityTolerance {
		return true
	}
	if liquidity < l.liquidity-liquidityTolerance {
		return false
	}
	return hops < len(l.path)
}

// search configures one hop-bounded relaxation run.
type search struct {
	start  int
	rounds int
	// maxPathLen bounds the hops of an open path.
	maxPathLen int
	choice     []int
	maxSteps   int
}

type searchResult struct {
	labels        []label
	negativeCycle bool
	truncated     bool
	steps         int
}

// run performs a Bellman-Ford style relaxation rooted at s.start. Each round
// extends the labels of the previous round by one edge, so after round k every
// label holds a path of at most k hops. Paths stay simple: a label never
// extends to a vertex already on its path. Extending onto the own path with a
// negative loop weight flags a negative cycle.
func (g *Graph) run(ctx context.Context, s search) searchResult {
	numAssets := len(g.view.Assets)
	labels := make([]label, numAssets)
	labels[s.start] = label{
		liquidity: 1,
		known:     bitset.NewBitSet(numAssets).With(s.start),
	}

	var res searchResult
rounds:
	for range s.rounds {
		if ctx.Err() != nil {
			res.truncated = true
			break
		}

		next := slices.Clone(labels)
		changed := false
		for current := range labels {
			from := &labels[current]
			if !from.reached() {
				continue
			}
			hops := len(from.path) + 1

			for _, edgeIndex := range g.view.Adjacency[current] {
				slot := s.choice[edgeIndex]
				if slot < 0 {
					continue
				}
				if s.maxSteps > 0 && res.steps >= s.maxSteps {
					res.truncated = true
					break rounds
				}
				res.steps++

				target := g.view.EdgeTargets[edgeIndex]
				w := g.edgeWeights[edgeIndex][slot]

				if from.known.IsSet(target) {
					if from.weight-g.prefixWeight(from, target, s.start)+w < -weightTolerance {
						res.negativeCycle = true
					}
					continue
				}

				if hops > s.maxPathLen {
					continue
				}
				weight := from.weight + w
				liquidity := from.liquidity * g.pools[g.view.EdgePools[edgeIndex][slot]].Liquidity
				if next[target].improvedBy(weight, liquidity, hops) {
					next[target] = label{
						weight:    weight,
						liquidity: liquidity,
						path:      appendStep(from.path, step{edge: edgeIndex, slot: slot, weight: w}),
						known:     from.known.With(target),
					}
					changed = true
				}
			}
		}
		labels = next
		if !changed {
			break
		}
	}

	res.labels = labels
	return res
}

// cycleSearch enumerates the simple cycles through root whose other vertices
// all have a higher index than root, so every cycle is visited once, from its
// lowest vertex.
type cycleSearch struct {
	root     int
	maxLen   int
	choice   []int
	maxSteps int
}

type cycleCandidate struct {
	path   []step
	weight float64
}

type cycleResult struct {
	cycles    []cycleCandidate
	truncated bool
	steps     int
}

// cycles runs a depth-first walk from s.root and records every cycle with
// negative total weight, that is a compounded rate above one. Each considered
// edge costs one step.
func (g *Graph) cycles(ctx context.Context, s cycleSearch) cycleResult {
	var res cycleResult
	known := bitset.NewBitSet(len(g.view.Assets))
	known.Set(s.root)
	path := make([]step, 0, s.maxLen)

	var visit func(current int, weight float64) bool
	visit = func(current int, weight float64) bool {
		if ctx.Err() != nil {
			res.truncated = true
			return false
		}
		for _, edgeIndex := range g.view.Adjacency[current] {
			slot := s.choice[edgeIndex]
			target := g.view.EdgeTargets[edgeIndex]
			if slot < 0 || target < s.root {
				continue
			}
			if s.maxSteps > 0 && res.steps >= s.maxSteps {
				res.truncated = true
				return false
			}
			res.steps++

			w := g.edgeWeights[edgeIndex][slot]
			next := step{edge: edgeIndex, slot: slot, weight: w}
			if target == s.root {
				if len(path) >= 1 && weight+w < -weightTolerance {
					res.cycles = append(res.cycles, cycleCandidate{
						path:   appendStep(path, next),
						weight: weight + w,
					})
				}
				continue
			}
			// leave room for the edge back to root
			if known.IsSet(target) || len(path)+2 > s.maxLen {
				continue
			}

			known.Set(target)
			path = append(path, next)
			ok := visit(target, weight+w)
			path = path[:len(path)-1]
			known.Unset(target)
			if !ok {
				return false
			}
		}
		return true
	}
	visit(s.root, 0)
	return res
}

// prefixWeight is the weight of l's path up to where it enters vertex.
func (g *Graph) prefixWeight(l *label, vertex, start int) float64 {
	if vertex == start {
		return 0
	}
	weight := 0.0
	for _, s := range l.path {
		weight += s.weight
		if g.view.EdgeTargets[s.edge] == vertex {
			break
		}
	}
	return weight
}

func appendStep(path []step, s step) []step {
	extended := make([]step, len(path)+1)
	copy(extended, path)
	extended[len(path)] = s
	return extended
}
