package engine

import (
	"fmt"
	"math"
	"time"
)

// PoolEdge is a single exchange pool between two assets. Pools are undirected:
// the graph derives both swap directions from one edge.
type PoolEdge struct {
	// ID identifies the pool. When empty, Key falls back to protocol and assets.
	ID     string `json:"id,omitempty"`
	AssetA string `json:"asset_a"`
	AssetB string `json:"asset_b"`

	// Liquidity is the normalized depth of the pool, in (0,1].
	Liquidity float64 `json:"liquidity"`
	// Fee is the swap fee as a fraction, in [0,1).
	Fee      float64 `json:"fee"`
	Protocol string  `json:"protocol"`

	// Price is the quoted amount of AssetB per unit of AssetA before fees and
	// depth. Zero means parity.
	Price float64 `json:"price,omitempty"`

	// ResourceCost is the execution cost of swapping through this pool.
	ResourceCost uint64 `json:"resource_cost,omitempty"`
}

// Key returns the identity of the pool inside a snapshot.
func (p PoolEdge) Key() string {
	if p.ID != "" {
		return p.ID
	}
	return fmt.Sprintf("%s:%s/%s", p.Protocol, p.AssetA, p.AssetB)
}

// QuotedPrice returns the pre-fee price when selling from, or 0 if from is not
// one of the pool's assets.
func (p PoolEdge) QuotedPrice(from string) float64 {
	price := p.Price
	if price == 0 {
		price = 1
	}
	switch from {
	case p.AssetA:
		return price
	case p.AssetB:
		return 1 / price
	default:
		return 0
	}
}

// EffectiveRate is the amount of the opposite asset received per unit of from,
// after fee and depth discount.
func (p PoolEdge) EffectiveRate(from string) float64 {
	return p.QuotedPrice(from) * (1 - p.Fee) * p.Liquidity
}

// Other returns the asset on the opposite side of the pool.
func (p PoolEdge) Other(asset string) string {
	if asset == p.AssetA {
		return p.AssetB
	}
	return p.AssetA
}

// RejectReason reports why the pool cannot be used for routing, or "" when it can.
func (p PoolEdge) RejectReason() string {
	switch {
	case math.IsNaN(p.Liquidity) || p.Liquidity <= 0:
		return "non-positive liquidity"
	case p.Liquidity > 1:
		return "liquidity above 1"
	case math.IsNaN(p.Fee) || p.Fee < 0 || p.Fee >= 1:
		return "fee outside [0,1)"
	case math.IsNaN(p.Price) || math.IsInf(p.Price, 0) || p.Price < 0:
		return "invalid price"
	case p.AssetA == p.AssetB:
		return "pool assets are identical"
	case !usableRate(p.EffectiveRate(p.AssetA)) || !usableRate(p.EffectiveRate(p.AssetB)):
		return "rate out of range"
	}
	return ""
}

func usableRate(rate float64) bool {
	return rate > 0 && !math.IsInf(rate, 0)
}

// RejectedEdge records a pool dropped while building a graph.
type RejectedEdge struct {
	Index  int      `json:"index"`
	Pool   PoolEdge `json:"pool"`
	Reason string   `json:"reason"`
}

// Hop is one traversed edge of a route.
type Hop struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	PoolRef   int     `json:"pool_ref"`
	PoolKey   string  `json:"pool_key"`
	Protocol  string  `json:"protocol"`
	Rate      float64 `json:"rate"`
	Price     float64 `json:"price"`
	Fee       float64 `json:"fee"`
	Liquidity float64 `json:"liquidity"`
	AmountIn  float64 `json:"amount_in"`
	AmountOut float64 `json:"amount_out"`

	ResourceCost uint64 `json:"resource_cost,omitempty"`
}

// Route is an ordered conversion path [a0, ..., an] with the edge chosen for
// every hop.
type Route struct {
	Assets       []string `json:"assets"`
	Hops         []Hop    `json:"hops"`
	InputAmount  float64  `json:"input_amount"`
	OutputAmount float64  `json:"output_amount"`
	PriceImpact  float64  `json:"price_impact"`

	// Weight is the sum of -ln(rate) over all hops.
	Weight float64 `json:"weight"`
	// AggregateLiquidity is the product of hop liquidities.
	AggregateLiquidity float64 `json:"aggregate_liquidity"`
	ResourceCost       uint64  `json:"resource_cost"`

	// NegativeCycleDetected is set when the search saw a negative cycle
	// reachable from the source. The route itself never contains one.
	NegativeCycleDetected bool `json:"negative_cycle_detected,omitempty"`
}

// Empty reports whether the route has no hops.
func (r Route) Empty() bool {
	return len(r.Hops) == 0
}

// Rate is the compounded rate of the whole route.
func (r Route) Rate() float64 {
	rate := 1.0
	for _, hop := range r.Hops {
		rate *= hop.Rate
	}
	return rate
}

// Source returns the first asset of the route.
func (r Route) Source() string {
	if len(r.Assets) == 0 {
		return ""
	}
	return r.Assets[0]
}

// Destination returns the last asset of the route.
func (r Route) Destination() string {
	if len(r.Assets) == 0 {
		return ""
	}
	return r.Assets[len(r.Assets)-1]
}

// ArbitrageCycle is a route that starts and ends on the same asset, priced for
// a flash-loan funded execution.
type ArbitrageCycle struct {
	Route

	CycleProduct float64 `json:"cycle_product"`
	BorrowAmount float64 `json:"borrow_amount"`
	GrossProfit  float64 `json:"gross_profit"`
	FlashLoanFee float64 `json:"flash_loan_fee"`
	GasCost      float64 `json:"gas_cost"`
	NetProfit    float64 `json:"net_profit"`
	ProfitBps    float64 `json:"profit_bps"`
}

// SlippageConfig controls the safety margin applied to quotes.
type SlippageConfig struct {
	BaseBps              float64 `json:"base_bps" yaml:"base_bps"`
	VolatilityMultiplier float64 `json:"volatility_multiplier" yaml:"volatility_multiplier"`
	MinBps               float64 `json:"min_bps" yaml:"min_bps"`
	MaxBps               float64 `json:"max_bps" yaml:"max_bps"`
	DynamicAdjustment    bool    `json:"dynamic_adjustment" yaml:"dynamic_adjustment"`
}

// MaxVolatilityMultiplier bounds SlippageConfig.VolatilityMultiplier.
const MaxVolatilityMultiplier = 10

// DefaultSlippageConfig returns the slippage model used when none is configured.
func DefaultSlippageConfig() SlippageConfig {
	return SlippageConfig{
		BaseBps:              50,
		VolatilityMultiplier: 2,
		MinBps:               10,
		MaxBps:               500,
		DynamicAdjustment:    true,
	}
}

// Validate checks the bounds of the slippage model.
func (c SlippageConfig) Validate() error {
	for name, v := range map[string]float64{
		"base_bps":              c.BaseBps,
		"min_bps":               c.MinBps,
		"max_bps":               c.MaxBps,
		"volatility_multiplier": c.VolatilityMultiplier,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Malformed("slippage %s must be finite", name)
		}
	}
	if c.MinBps < 0 {
		return Malformed("slippage min_bps must not be negative")
	}
	if c.MaxBps < c.MinBps {
		return Malformed("slippage max_bps %.2f is below min_bps %.2f", c.MaxBps, c.MinBps)
	}
	if c.MaxBps > 10000 {
		return Malformed("slippage max_bps must not exceed 10000")
	}
	if c.BaseBps < c.MinBps || c.BaseBps > c.MaxBps {
		return Malformed("slippage base_bps %.2f must be within [%.2f, %.2f]", c.BaseBps, c.MinBps, c.MaxBps)
	}
	if c.VolatilityMultiplier < 0 || c.VolatilityMultiplier > MaxVolatilityMultiplier {
		return Malformed("slippage volatility_multiplier must be within [0, %d]", MaxVolatilityMultiplier)
	}
	return nil
}

// MEVConfig holds the MEV protection flags of a transaction request.
type MEVConfig struct {
	Enabled            bool   `json:"enabled" yaml:"enabled"`
	PrivateMempool     bool   `json:"private_mempool" yaml:"private_mempool"`
	SandwichProtection bool   `json:"sandwich_protection" yaml:"sandwich_protection"`
	MaxPriorityFee     uint64 `json:"max_priority_fee" yaml:"max_priority_fee"`
}

// Snapshot is a versioned pool set. ID names the market view, Version
// increases with every change.
type Snapshot struct {
	ID        string     `json:"id"`
	Version   uint64     `json:"version"`
	Timestamp time.Time  `json:"timestamp"`
	Pools     []PoolEdge `json:"pools"`
}

// RouteRequest asks for the best route for a known input amount.
type RouteRequest struct {
	SourceAsset      string `json:"source_asset"`
	DestinationAsset string `json:"destination_asset"`
	InputAmount      string `json:"input_amount"`
	MaxHops          int    `json:"max_hops,omitempty"`
}

// QuoteRequest asks for the source amount needed to receive DestinationAmount.
type QuoteRequest struct {
	SourceAsset       string  `json:"source_asset"`
	DestinationAsset  string  `json:"destination_asset"`
	DestinationAmount string  `json:"destination_amount"`
	VolatilityIndex   float64 `json:"volatility_index"`
	MaxHops           int     `json:"max_hops,omitempty"`
}
