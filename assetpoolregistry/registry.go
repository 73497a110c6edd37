package assetpoolregistry

import "slices"

// View is an immutable snapshot of the registry's graph layout. Pools[i] is the
// key of the i-th registered pool; EdgePools holds indices into Pools.
type View struct {
	Assets      []string `json:"assets"`
	Pools       []string `json:"pools"`
	Adjacency   [][]int  `json:"adjacency"`
	EdgeTargets []int    `json:"edgeTargets"`
	EdgePools   [][]int  `json:"edgePools"`
}

// IndexOf returns the vertex index of asset.
func (v *View) IndexOf(asset string) (int, bool) {
	i := slices.Index(v.Assets, asset)
	return i, i >= 0
}

// Registry keeps the relationship between assets and pools as an index based
// multigraph. Every directed asset pair owns exactly one edge; pools that
// connect the same pair are appended to that edge's pool list. It is not safe
// for concurrent use.
type Registry struct {
	assetToIndex map[string]int
	poolToIndex  map[string]int

	assets      []string
	pools       []string
	adjacency   [][]int
	edgeTargets []int
	edgePools   [][]int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		assetToIndex: make(map[string]int),
		poolToIndex:  make(map[string]int),
	}
}

// NewFromView rebuilds a registry from a view. The view is deep copied.
func NewFromView(view *View) *Registry {
	r := &Registry{
		assetToIndex: make(map[string]int, len(view.Assets)),
		poolToIndex:  make(map[string]int, len(view.Pools)),
		assets:       slices.Clone(view.Assets),
		pools:        slices.Clone(view.Pools),
		adjacency:    cloneNested(view.Adjacency),
		edgeTargets:  slices.Clone(view.EdgeTargets),
		edgePools:    cloneNested(view.EdgePools),
	}
	for i, asset := range r.assets {
		r.assetToIndex[asset] = i
	}
	for i, pool := range r.pools {
		r.poolToIndex[pool] = i
	}
	return r
}

// HasPool reports whether a pool with the given key was registered.
func (r *Registry) HasPool(poolKey string) bool {
	_, ok := r.poolToIndex[poolKey]
	return ok
}

// AddPool connects every pair of assets in the pool in both directions and
// returns the pool's index.
func (r *Registry) AddPool(poolKey string, assets ...string) int {
	poolIndex := r.poolIndex(poolKey)
	for i := 0; i < len(assets); i++ {
		for j := i + 1; j < len(assets); j++ {
			r.addEdge(assets[i], assets[j], poolIndex)
			r.addEdge(assets[j], assets[i], poolIndex)
		}
	}
	return poolIndex
}

func (r *Registry) poolIndex(poolKey string) int {
	if index, ok := r.poolToIndex[poolKey]; ok {
		return index
	}
	index := len(r.pools)
	r.pools = append(r.pools, poolKey)
	r.poolToIndex[poolKey] = index
	return index
}

func (r *Registry) assetIndex(asset string) int {
	if index, ok := r.assetToIndex[asset]; ok {
		return index
	}
	index := len(r.assets)
	r.assets = append(r.assets, asset)
	r.assetToIndex[asset] = index
	r.adjacency = append(r.adjacency, nil)
	return index
}

// addEdge creates or extends the directed edge from -> to with poolIndex.
func (r *Registry) addEdge(from, to string, poolIndex int) {
	fromIndex := r.assetIndex(from)
	toIndex := r.assetIndex(to)

	for _, edgeIndex := range r.adjacency[fromIndex] {
		if r.edgeTargets[edgeIndex] != toIndex {
			continue
		}
		if !slices.Contains(r.edgePools[edgeIndex], poolIndex) {
			r.edgePools[edgeIndex] = append(r.edgePools[edgeIndex], poolIndex)
		}
		return
	}

	edgeIndex := len(r.edgeTargets)
	r.edgeTargets = append(r.edgeTargets, toIndex)
	r.edgePools = append(r.edgePools, []int{poolIndex})
	r.adjacency[fromIndex] = append(r.adjacency[fromIndex], edgeIndex)
}

// PoolsForAsset returns the keys of every pool touching asset, in registration order.
func (r *Registry) PoolsForAsset(asset string) []string {
	assetIndex, ok := r.assetToIndex[asset]
	if !ok {
		return nil
	}
	var indices []int
	for _, edgeIndex := range r.adjacency[assetIndex] {
		for _, poolIndex := range r.edgePools[edgeIndex] {
			if !slices.Contains(indices, poolIndex) {
				indices = append(indices, poolIndex)
			}
		}
	}
	if len(indices) == 0 {
		return nil
	}
	slices.Sort(indices)
	keys := make([]string, len(indices))
	for i, poolIndex := range indices {
		keys[i] = r.pools[poolIndex]
	}
	return keys
}

// View returns a deep copy of the registry layout.
func (r *Registry) View() *View {
	return &View{
		Assets:      slices.Clone(r.assets),
		Pools:       slices.Clone(r.pools),
		Adjacency:   cloneNested(r.adjacency),
		EdgeTargets: slices.Clone(r.edgeTargets),
		EdgePools:   cloneNested(r.edgePools),
	}
}

func cloneNested(src [][]int) [][]int {
	dst := make([][]int, len(src))
	for i, inner := range src {
		if inner != nil {
			dst[i] = slices.Clone(inner)
		}
	}
	return dst
}
