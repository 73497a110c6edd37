package grapher

import (
	"context"
	"math"
	"slices"
	"strings"
	"testing"

	"github.com/defistate/defistate-router-go/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func triangle(t *testing.T) *Graph {
	t.Helper()
	// A->B 1.01, B->C 1.02, C->A 0.99: product 1.019898
	return mustBuild(t,
		pricedPool("A", "B", 1.01),
		pricedPool("B", "C", 1.02),
		pricedPool("C", "A", 0.99),
	)
}

func scanParams(minProfitBps float64) ScanParams {
	params := DefaultScanParams()
	params.MinProfitBps = minProfitBps
	params.MaxBorrowAmount = 10000
	return params
}

func TestScan_ThresholdFiltering(t *testing.T) {
	g := triangle(t)

	t.Run("reported above threshold", func(t *testing.T) {
		result, err := g.Scan(context.Background(), scanParams(100))
		require.NoError(t, err)
		require.Len(t, result.Cycles, 1)

		cycle := result.Cycles[0]
		product := 1.01 * 1.02 * 0.99
		assert.Equal(t, []string{"A", "B", "C", "A"}, cycle.Assets)
		assert.InDelta(t, product, cycle.CycleProduct, 1e-12)
		assert.InDelta(t, 10000*(product-1), cycle.GrossProfit, 1e-6)
		assert.InDelta(t, 9, cycle.FlashLoanFee, 1e-9)
		assert.InDelta(t, cycle.GrossProfit-cycle.FlashLoanFee-cycle.GasCost, cycle.NetProfit, 1e-9)
		assert.InDelta(t, cycle.NetProfit, cycle.ProfitBps, 1e-9, "borrowing 10000 makes bps equal to profit")
		assert.InDelta(t, 10000*product, cycle.OutputAmount, 1e-6)
		assert.Equal(t, 1, result.Candidates, "rotations and roots collapse into one candidate")
		assert.Zero(t, result.Filtered)
		assert.False(t, result.Truncated)
	})

	t.Run("filtered below threshold", func(t *testing.T) {
		result, err := g.Scan(context.Background(), scanParams(300))
		require.NoError(t, err)
		assert.Empty(t, result.Cycles)
		assert.Equal(t, 1, result.Candidates)
		assert.Equal(t, 1, result.Filtered)
	})

	t.Run("gas eats the profit", func(t *testing.T) {
		params := scanParams(0)
		params.GasCostPerHop = 100
		result, err := g.Scan(context.Background(), params)
		require.NoError(t, err)
		assert.Empty(t, result.Cycles)
	})

	t.Run("flash loan fee eats the profit", func(t *testing.T) {
		params := scanParams(0)
		params.FlashLoanFeeBps = 250
		result, err := g.Scan(context.Background(), params)
		require.NoError(t, err)
		assert.Empty(t, result.Cycles)
	})
}

func TestScan_NoArbitrageInFairMarket(t *testing.T) {
	g := mustBuild(t,
		pool("XLM", "USDC", 0.98, 0.003, "soroswap"),
		pool("USDC", "yXLM", 0.95, 0.002, "aqua"),
		pool("yXLM", "XLM", 0.99, 0.001, "phoenix"),
	)
	result, err := g.Scan(context.Background(), scanParams(0))
	require.NoError(t, err)
	assert.Empty(t, result.Cycles)
	assert.Zero(t, result.Candidates)
}

func TestScan_CrossProtocolTwoHopCycle(t *testing.T) {
	g := mustBuild(t,
		engine.PoolEdge{AssetA: "XLM", AssetB: "USDC", Liquidity: 1, Price: 0.10, Protocol: "soroswap"},
		engine.PoolEdge{AssetA: "XLM", AssetB: "USDC", Liquidity: 1, Price: 0.11, Protocol: "aqua"},
	)

	result, err := g.Scan(context.Background(), scanParams(10))
	require.NoError(t, err)
	require.Len(t, result.Cycles, 1)

	cycle := result.Cycles[0]
	require.Len(t, cycle.Hops, 2)
	assert.Equal(t, "aqua", cycle.Hops[0].Protocol)
	assert.Equal(t, "soroswap", cycle.Hops[1].Protocol)
	assert.InDelta(t, 1.1, cycle.CycleProduct, 1e-12)
}

func TestScan_LiquidityFloor(t *testing.T) {
	g := mustBuild(t,
		pricedPool("A", "B", 1.01),
		pricedPool("B", "C", 1.02),
		engine.PoolEdge{AssetA: "C", AssetB: "A", Liquidity: 0.01, Price: 99, Protocol: "thin"},
	)

	params := scanParams(100)
	result, err := g.Scan(context.Background(), params)
	require.NoError(t, err)
	assert.Empty(t, result.Cycles, "default floor discards the thin pool")

	params.MinLiquidity = 0
	result, err = g.Scan(context.Background(), params)
	require.NoError(t, err)
	assert.Len(t, result.Cycles, 1)
}

func TestScan_OrdersByNetProfit(t *testing.T) {
	g := mustBuild(t,
		pricedPool("A", "B", 1.01),
		pricedPool("B", "C", 1.02),
		pricedPool("C", "A", 0.99),
		pricedPool("X", "Y", 1.10),
		pricedPool("Y", "Z", 1.00),
		pricedPool("Z", "X", 1.00),
	)
	result, err := g.Scan(context.Background(), scanParams(10))
	require.NoError(t, err)
	require.Len(t, result.Cycles, 2)
	assert.Greater(t, result.Cycles[0].NetProfit, result.Cycles[1].NetProfit)
	assert.Equal(t, "X", result.Cycles[0].Source())
}

func TestScan_Budget(t *testing.T) {
	g := triangle(t)

	t.Run("cancelled context returns partial result", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		result, err := g.Scan(ctx, scanParams(100))
		require.NoError(t, err)
		assert.True(t, result.Truncated)
		assert.Empty(t, result.Cycles)
	})

	t.Run("step budget", func(t *testing.T) {
		params := scanParams(100)
		params.MaxSteps = 3
		result, err := g.Scan(context.Background(), params)
		require.NoError(t, err)
		assert.True(t, result.Truncated)
		assert.LessOrEqual(t, result.Steps, 3)
	})
}

func TestScan_MalformedParams(t *testing.T) {
	g := triangle(t)
	for name, mutate := range map[string]func(*ScanParams){
		"zero borrow":       func(p *ScanParams) { p.MaxBorrowAmount = 0 },
		"nan borrow":        func(p *ScanParams) { p.MaxBorrowAmount = math.NaN() },
		"short cycles":      func(p *ScanParams) { p.MaxCycleLength = 1 },
		"negative fee":      func(p *ScanParams) { p.FlashLoanFeeBps = -1 },
		"negative gas":      func(p *ScanParams) { p.GasCostPerHop = -1 },
		"floor above one":   func(p *ScanParams) { p.MinLiquidity = 2 },
		"negative max step": func(p *ScanParams) { p.MaxSteps = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			params := scanParams(100)
			mutate(&params)
			_, err := g.Scan(context.Background(), params)
			assert.ErrorIs(t, err, engine.ErrMalformedInput)
		})
	}
}

// directedRate is one direction of a pool for brute-force enumeration.
type directedRate struct {
	to   string
	rate float64
}

// simpleCycles lists every simple cycle of 2 to maxLen hops, each once, as its
// asset sequence starting from the alphabetically smallest asset, with the
// compounded rate.
func simpleCycles(pools []engine.PoolEdge, maxLen int) map[string]float64 {
	adjacency := make(map[string][]directedRate)
	for _, p := range pools {
		adjacency[p.AssetA] = append(adjacency[p.AssetA], directedRate{p.AssetB, p.EffectiveRate(p.AssetA)})
		adjacency[p.AssetB] = append(adjacency[p.AssetB], directedRate{p.AssetA, p.EffectiveRate(p.AssetB)})
	}

	cycles := make(map[string]float64)
	var walk func(root string, path []string, product float64)
	walk = func(root string, path []string, product float64) {
		for _, next := range adjacency[path[len(path)-1]] {
			switch {
			case next.to == root:
				if len(path) >= 2 {
					cycles[strings.Join(path, ">")] = product * next.rate
				}
			case next.to > root && !slices.Contains(path, next.to) && len(path) < maxLen:
				walk(root, append(slices.Clone(path), next.to), product*next.rate)
			}
		}
	}
	for root := range adjacency {
		walk(root, []string{root}, 1)
	}
	return cycles
}

// canonicalCycle rotates a reported cycle to start at its smallest asset.
func canonicalCycle(assets []string) string {
	open := assets[:len(assets)-1]
	first := 0
	for i, asset := range open {
		if asset < open[first] {
			first = i
		}
	}
	rotated := append(slices.Clone(open[first:]), open[:first]...)
	return strings.Join(rotated, ">")
}

// A cycle is reported exactly when its rate product clears the flash-loan fee
// and the profit threshold, whatever the shape of the graph.
func TestScan_ReportsIffProfitable(t *testing.T) {
	assetNames := []string{"A", "B", "C", "D", "E", "F"}

	rapid.Check(t, func(t *rapid.T) {
		numAssets := rapid.IntRange(3, 6).Draw(t, "assets")
		var pools []engine.PoolEdge
		for i := range numAssets {
			for j := i + 1; j < numAssets; j++ {
				if !rapid.Bool().Draw(t, "connected") {
					continue
				}
				pools = append(pools, engine.PoolEdge{
					AssetA:    assetNames[i],
					AssetB:    assetNames[j],
					Liquidity: rapid.Float64Range(0.9, 1).Draw(t, "liquidity"),
					Fee:       rapid.Float64Range(0, 0.01).Draw(t, "fee"),
					Price:     rapid.Float64Range(0.7, 1.4).Draw(t, "price"),
					Protocol:  "p",
				})
			}
		}
		if len(pools) == 0 {
			return
		}

		params := DefaultScanParams()
		params.MinProfitBps = rapid.Float64Range(0, 300).Draw(t, "minProfitBps")
		params.MinLiquidity = 0
		params.MaxBorrowAmount = 10000
		params.MaxCycleLength = rapid.IntRange(2, 4).Draw(t, "maxCycleLength")

		threshold := params.FlashLoanFeeBps/10000 + params.MinProfitBps/10000
		want := make(map[string]float64)
		for key, product := range simpleCycles(pools, params.MaxCycleLength) {
			margin := product - 1 - threshold
			if math.Abs(margin) < 1e-9 {
				return
			}
			if margin > 0 {
				want[key] = product
			}
		}

		g, err := Build(pools)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		result, err := g.Scan(context.Background(), params)
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		if result.Truncated {
			t.Fatalf("unbounded scan was truncated")
		}

		got := make(map[string]float64, len(result.Cycles))
		for _, cycle := range result.Cycles {
			key := canonicalCycle(cycle.Assets)
			if _, dup := got[key]; dup {
				t.Fatalf("cycle %s reported twice", key)
			}
			got[key] = cycle.CycleProduct
		}
		for key, product := range want {
			if _, ok := got[key]; !ok {
				t.Fatalf("missed cycle %s with product %.6f (reported %d of %d)", key, product, len(got), len(want))
			}
		}
		for key, product := range got {
			if _, ok := want[key]; !ok {
				t.Fatalf("reported unprofitable cycle %s with product %.6f", key, product)
			}
		}
	})
}
