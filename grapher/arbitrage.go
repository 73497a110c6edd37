package grapher

import (
	"cmp"
	"context"
	"math"
	"slices"
	"time"

	"github.com/defistate/defistate-router-go/engine"
)

const (
	DefaultFlashLoanFeeBps = 9
	DefaultMaxCycleLength  = 4
	DefaultMinLiquidity    = 0.05
	DefaultMaxBorrowAmount = 10000
)

// ScanParams configures an arbitrage scan. Amounts are denominated in the
// asset each cycle starts from.
type ScanParams struct {
	MinProfitBps    float64 `json:"min_profit_bps" yaml:"min_profit_bps"`
	MaxBorrowAmount float64 `json:"max_borrow_amount" yaml:"max_borrow_amount"`
	FlashLoanFeeBps float64 `json:"flash_loan_fee_bps" yaml:"flash_loan_fee_bps"`
	GasCostPerHop   float64 `json:"gas_cost_per_hop" yaml:"gas_cost_per_hop"`
	// MinLiquidity excludes thinner pools from every cycle.
	MinLiquidity   float64 `json:"min_liquidity" yaml:"min_liquidity"`
	MaxCycleLength int     `json:"max_cycle_length" yaml:"max_cycle_length"`
	// MaxSteps caps edge expansions across the whole scan. Zero means no limit.
	MaxSteps int `json:"max_steps,omitempty" yaml:"max_steps"`
}

// DefaultScanParams returns the parameters used when a caller sets none.
func DefaultScanParams() ScanParams {
	return ScanParams{
		MinProfitBps:    10,
		MaxBorrowAmount: DefaultMaxBorrowAmount,
		FlashLoanFeeBps: DefaultFlashLoanFeeBps,
		MinLiquidity:    DefaultMinLiquidity,
		MaxCycleLength:  DefaultMaxCycleLength,
	}
}

func (p ScanParams) validate() error {
	if !(p.MaxBorrowAmount > 0) || math.IsInf(p.MaxBorrowAmount, 0) {
		return engine.Malformed("max borrow amount must be positive, got %v", p.MaxBorrowAmount)
	}
	if p.MaxCycleLength < 2 {
		return engine.Malformed("max cycle length must be at least 2, got %d", p.MaxCycleLength)
	}
	if math.IsNaN(p.MinProfitBps) {
		return engine.Malformed("min profit bps must be a number")
	}
	if !(p.FlashLoanFeeBps >= 0) {
		return engine.Malformed("flash loan fee must not be negative")
	}
	if !(p.GasCostPerHop >= 0) {
		return engine.Malformed("gas cost must not be negative")
	}
	if math.IsNaN(p.MinLiquidity) || p.MinLiquidity < 0 || p.MinLiquidity > 1 {
		return engine.Malformed("min liquidity must be within [0,1]")
	}
	if p.MaxSteps < 0 {
		return engine.Malformed("max steps must not be negative")
	}
	return nil
}

// ScanResult holds the profitable cycles of a scan, best first.
type ScanResult struct {
	Cycles []engine.ArbitrageCycle `json:"cycles"`
	// Candidates counts distinct negative cycles found before pricing.
	Candidates int `json:"candidates"`
	// Filtered counts candidates dropped by the profit threshold.
	Filtered  int           `json:"filtered"`
	Truncated bool          `json:"truncated"`
	Steps     int           `json:"steps"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Scan searches every asset for cycles whose compounded rate exceeds one and
// keeps those that stay profitable after the flash-loan fee and gas.
//
// Every simple cycle of at most MaxCycleLength hops is enumerated once and
// denominated in its lowest-indexed asset.
// When ctx is done or the step budget runs out, the cycles found so far are
// returned with Truncated set.
func (g *Graph) Scan(ctx context.Context, params ScanParams) (ScanResult, error) {
	started := time.Now()
	if err := params.validate(); err != nil {
		return ScanResult{}, err
	}

	choice := g.defaultChoice
	if params.MinLiquidity > 0 {
		choice = g.choosePools(params.MinLiquidity)
	}

	result := ScanResult{Cycles: []engine.ArbitrageCycle{}}
	for root := range g.view.Assets {
		if len(g.view.Adjacency[root]) == 0 {
			continue
		}
		budget := 0
		if params.MaxSteps > 0 {
			budget = params.MaxSteps - result.Steps
			if budget <= 0 {
				result.Truncated = true
				break
			}
		}

		res := g.cycles(ctx, cycleSearch{
			root:     root,
			maxLen:   params.MaxCycleLength,
			choice:   choice,
			maxSteps: budget,
		})
		result.Steps += res.steps

		for _, candidate := range res.cycles {
			result.Candidates++
			cycle := g.priceCycle(root, candidate.path, params)
			if cycle.NetProfit <= 0 || cycle.ProfitBps < params.MinProfitBps {
				result.Filtered++
				continue
			}
			result.Cycles = append(result.Cycles, cycle)
		}

		if res.truncated {
			result.Truncated = true
			break
		}
	}

	slices.SortStableFunc(result.Cycles, func(a, b engine.ArbitrageCycle) int {
		return cmp.Compare(b.NetProfit, a.NetProfit)
	})
	result.Elapsed = time.Since(started)
	return result, nil
}

// priceCycle applies the borrow amount, flash-loan fee and gas to a cycle.
func (g *Graph) priceCycle(start int, path []step, params ScanParams) engine.ArbitrageCycle {
	route := g.route(start, path, params.MaxBorrowAmount)
	product := route.Rate()

	gross := params.MaxBorrowAmount * (product - 1)
	flashFee := params.MaxBorrowAmount * params.FlashLoanFeeBps / 10000
	gas := params.GasCostPerHop * float64(len(path))
	net := gross - flashFee - gas

	return engine.ArbitrageCycle{
		Route:        route,
		CycleProduct: product,
		BorrowAmount: params.MaxBorrowAmount,
		GrossProfit:  gross,
		FlashLoanFee: flashFee,
		GasCost:      gas,
		NetProfit:    net,
		ProfitBps:    net / params.MaxBorrowAmount * 10000,
	}
}
