package quote

import (
	"math"

	"github.com/defistate/defistate-router-go/engine"
	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits quoted amounts are rounded to.
const Decimals = 7

var bpsDenominator = decimal.NewFromInt(10000)

// Quote is the amount of source asset needed to receive a destination amount
// through one route.
type Quote struct {
	Path              []string        `json:"path"`
	SourceAmount      decimal.Decimal `json:"source_amount"`
	MaxSourceAmount   decimal.Decimal `json:"max_source_amount"`
	DestinationAmount decimal.Decimal `json:"destination_amount"`
	// ExpectedRatio is destination received per unit of source, before slippage.
	ExpectedRatio float64     `json:"expected_ratio"`
	PriceImpact   float64     `json:"price_impact"`
	SlippageBps   float64     `json:"slippage_bps"`
	HopAmounts    []HopAmount `json:"hop_amounts"`
}

// HopAmount is the input needed and output produced by one hop of a quote.
type HopAmount struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	PoolKey   string          `json:"pool_key"`
	AmountIn  decimal.Decimal `json:"amount_in"`
	AmountOut decimal.Decimal `json:"amount_out"`
}

// ResolveSlippageBps returns the slippage tolerance for the given volatility.
// The result always lies within [cfg.MinBps, cfg.MaxBps] for a valid config.
func ResolveSlippageBps(cfg engine.SlippageConfig, volatilityIndex float64) float64 {
	bps := cfg.BaseBps
	if cfg.DynamicAdjustment {
		bps = cfg.BaseBps * (1 + volatilityIndex*cfg.VolatilityMultiplier)
		if math.IsNaN(bps) {
			bps = cfg.BaseBps
		}
	}
	return min(max(bps, cfg.MinBps), cfg.MaxBps)
}

// New quotes the source amount required to receive destinationAmount through
// route. The route is inverted hop by hop, last hop first, so every hop's fee
// and depth discount compound; the slippage buffer is applied once on top.
func New(
	route engine.Route,
	destinationAmount string,
	cfg engine.SlippageConfig,
	volatilityIndex float64,
) (Quote, error) {
	if err := cfg.Validate(); err != nil {
		return Quote{}, err
	}
	if math.IsNaN(volatilityIndex) || math.IsInf(volatilityIndex, 0) {
		return Quote{}, engine.Malformed("volatility index must be finite")
	}
	if volatilityIndex < 0 {
		return Quote{}, engine.Malformed("volatility index must not be negative, got %v", volatilityIndex)
	}

	destination, err := decimal.NewFromString(destinationAmount)
	if err != nil {
		return Quote{}, engine.Unavailable("destination amount %q is not a number", destinationAmount)
	}
	if !destination.IsPositive() {
		return Quote{}, engine.Unavailable("destination amount must be positive, got %s", destination)
	}
	if route.Empty() {
		return Quote{}, engine.Unavailable("route has no hops")
	}

	hops := make([]HopAmount, len(route.Hops))
	amount := destination
	for i := len(route.Hops) - 1; i >= 0; i-- {
		hop := route.Hops[i]
		if !(hop.Rate > 0) || math.IsInf(hop.Rate, 0) {
			return Quote{}, engine.Unavailable("hop %d has no usable rate", i)
		}
		in := amount.Div(decimal.NewFromFloat(hop.Rate))
		hops[i] = HopAmount{
			From:      hop.From,
			To:        hop.To,
			PoolKey:   hop.PoolKey,
			AmountIn:  in.RoundCeil(Decimals),
			AmountOut: amount.RoundCeil(Decimals),
		}
		amount = in
	}

	bps := ResolveSlippageBps(cfg, volatilityIndex)
	buffer := decimal.NewFromInt(1).Add(decimal.NewFromFloat(bps).Div(bpsDenominator))

	return Quote{
		Path:              route.Assets,
		SourceAmount:      amount.RoundCeil(Decimals),
		MaxSourceAmount:   amount.Mul(buffer).RoundCeil(Decimals),
		DestinationAmount: destination.Round(Decimals),
		ExpectedRatio:     route.Rate(),
		PriceImpact:       route.PriceImpact,
		SlippageBps:       bps,
		HopAmounts:        hops,
	}, nil
}
