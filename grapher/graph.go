package grapher

import (
	"math"
	"slices"

	"github.com/defistate/defistate-router-go/assetpoolregistry"
	"github.com/defistate/defistate-router-go/engine"
)

/* Notes
*
* 1. A Graph is built once per pool snapshot and never mutated afterwards, so one
*    instance can serve concurrent FindRoute and Scan calls.
* 2. Rates do not depend on the traded amount, so the best pool for every
*    directed edge is resolved once at build time. Scan re-resolves it when a
*    liquidity floor excludes some pools.
* 3. Weights are -ln(rate): maximizing a product of rates becomes minimizing a
*    sum, and a rate product above 1 becomes a negative cycle.
 */

const (
	// weightTolerance is the slack under which two path weights count as equal.
	weightTolerance = 1e-9
	// liquidityTolerance is the slack used when comparing aggregate liquidity.
	liquidityTolerance = 1e-12
)

// Graph is an immutable weighted multigraph over one pool snapshot.
type Graph struct {
	registry     *assetpoolregistry.Registry
	view         *assetpoolregistry.View
	assetToIndex map[string]int

	// pools is aligned with view.Pools.
	pools []engine.PoolEdge

	// Per edge: source vertex, and per pool slot the directional rate and weight.
	edgeSources []int
	edgeRates   [][]float64
	edgeWeights [][]float64

	// defaultChoice holds the best pool slot per edge with no liquidity floor.
	defaultChoice []int

	rejected       []engine.RejectedEdge
	rejectedAssets map[string]struct{}
}

// Neighbor is one adjacency entry: a pool reachable from an asset.
type Neighbor struct {
	Asset    string  `json:"asset"`
	Rate     float64 `json:"rate"`
	Weight   float64 `json:"weight"`
	Protocol string  `json:"protocol"`
	PoolRef  int     `json:"pool_ref"`
}

// Build creates a graph from a pool snapshot. Pools that cannot be routed
// through are dropped and reported by Rejected; a pool without asset codes
// fails the whole build.
func Build(pools []engine.PoolEdge) (*Graph, error) {
	registry := assetpoolregistry.New()
	accepted := make([]engine.PoolEdge, 0, len(pools))
	var rejected []engine.RejectedEdge

	for i, pool := range pools {
		if pool.AssetA == "" || pool.AssetB == "" {
			return nil, engine.Malformed("pool %d: asset codes are required", i)
		}
		reason := pool.RejectReason()
		if reason == "" && registry.HasPool(pool.Key()) {
			reason = "duplicate pool " + pool.Key()
		}
		if reason != "" {
			rejected = append(rejected, engine.RejectedEdge{Index: i, Pool: pool, Reason: reason})
			continue
		}
		registry.AddPool(pool.Key(), pool.AssetA, pool.AssetB)
		accepted = append(accepted, pool)
	}

	view := registry.View()
	g := &Graph{
		registry:       registry,
		view:           view,
		assetToIndex:   make(map[string]int, len(view.Assets)),
		pools:          accepted,
		edgeSources:    make([]int, len(view.EdgeTargets)),
		edgeRates:      make([][]float64, len(view.EdgeTargets)),
		edgeWeights:    make([][]float64, len(view.EdgeTargets)),
		rejected:       rejected,
		rejectedAssets: make(map[string]struct{}),
	}
	for i, asset := range view.Assets {
		g.assetToIndex[asset] = i
	}

	for from, edges := range view.Adjacency {
		fromAsset := view.Assets[from]
		for _, edgeIndex := range edges {
			g.edgeSources[edgeIndex] = from
			slots := view.EdgePools[edgeIndex]
			rates := make([]float64, len(slots))
			weights := make([]float64, len(slots))
			for slot, poolIndex := range slots {
				rates[slot] = accepted[poolIndex].EffectiveRate(fromAsset)
				weights[slot] = -math.Log(rates[slot])
			}
			g.edgeRates[edgeIndex] = rates
			g.edgeWeights[edgeIndex] = weights
		}
	}
	g.defaultChoice = g.choosePools(0)

	for _, r := range rejected {
		for _, asset := range []string{r.Pool.AssetA, r.Pool.AssetB} {
			if _, ok := g.assetToIndex[asset]; !ok {
				g.rejectedAssets[asset] = struct{}{}
			}
		}
	}
	return g, nil
}

// choosePools picks, for every directed edge, the pool slot with the lowest
// weight among pools at or above minLiquidity. Equal weights go to the deeper
// pool. Edges without an eligible pool get -1.
func (g *Graph) choosePools(minLiquidity float64) []int {
	choice := make([]int, len(g.view.EdgePools))
	for edgeIndex, slots := range g.view.EdgePools {
		best := -1
		for slot, poolIndex := range slots {
			pool := g.pools[poolIndex]
			if pool.Liquidity < minLiquidity {
				continue
			}
			if best < 0 {
				best = slot
				continue
			}
			w, bestW := g.edgeWeights[edgeIndex][slot], g.edgeWeights[edgeIndex][best]
			bestLiquidity := g.pools[slots[best]].Liquidity
			if w < bestW-weightTolerance || (math.Abs(w-bestW) <= weightTolerance && pool.Liquidity > bestLiquidity) {
				best = slot
			}
		}
		choice[edgeIndex] = best
	}
	return choice
}

// vertex resolves an asset to its vertex index, explaining why it is missing.
func (g *Graph) vertex(asset, role string) (int, error) {
	if index, ok := g.assetToIndex[asset]; ok {
		return index, nil
	}
	if _, ok := g.rejectedAssets[asset]; ok {
		return -1, engine.Unavailable("%s asset %s only appears on rejected pools", role, asset)
	}
	return -1, engine.Unavailable("%s asset %s is not in the graph", role, asset)
}

// HasAsset reports whether asset has at least one usable pool.
func (g *Graph) HasAsset(asset string) bool {
	_, ok := g.assetToIndex[asset]
	return ok
}

// Assets returns every asset of the graph in insertion order.
func (g *Graph) Assets() []string {
	return slices.Clone(g.view.Assets)
}

// Pools returns the accepted pools. A pool's position is its pool ref.
func (g *Graph) Pools() []engine.PoolEdge {
	return slices.Clone(g.pools)
}

// Pool returns the pool with the given ref.
func (g *Graph) Pool(ref int) (engine.PoolEdge, bool) {
	if ref < 0 || ref >= len(g.pools) {
		return engine.PoolEdge{}, false
	}
	return g.pools[ref], true
}

// PoolsForAsset returns the keys of all pools touching asset.
func (g *Graph) PoolsForAsset(asset string) []string {
	return g.registry.PoolsForAsset(asset)
}

// Neighbors lists every (neighbor, rate, protocol, pool) reachable in one hop
// from asset, one entry per pool.
func (g *Graph) Neighbors(asset string) []Neighbor {
	from, ok := g.assetToIndex[asset]
	if !ok {
		return nil
	}
	var neighbors []Neighbor
	for _, edgeIndex := range g.view.Adjacency[from] {
		target := g.view.Assets[g.view.EdgeTargets[edgeIndex]]
		for slot, poolIndex := range g.view.EdgePools[edgeIndex] {
			neighbors = append(neighbors, Neighbor{
				Asset:    target,
				Rate:     g.edgeRates[edgeIndex][slot],
				Weight:   g.edgeWeights[edgeIndex][slot],
				Protocol: g.pools[poolIndex].Protocol,
				PoolRef:  poolIndex,
			})
		}
	}
	return neighbors
}

// Rejected returns the pools dropped while building the graph.
func (g *Graph) Rejected() []engine.RejectedEdge {
	return slices.Clone(g.rejected)
}

// View returns a deep copy of the underlying adjacency layout.
func (g *Graph) View() *assetpoolregistry.View {
	return g.registry.View()
}

// NumEdges returns the number of directed edges.
func (g *Graph) NumEdges() int {
	return len(g.view.EdgeTargets)
}
