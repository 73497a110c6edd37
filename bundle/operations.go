package bundle

import (
	"github.com/defistate/defistate-router-go/engine"
	"github.com/shopspring/decimal"
)

// Operation kinds produced from routes and cycles.
const (
	KindSwap        = "swap"
	KindFlashBorrow = "flash_borrow"
	KindFlashRepay  = "flash_repay"
)

const amountDecimals = 7

func formatAmount(amount float64) string {
	return decimal.NewFromFloat(amount).Round(amountDecimals).String()
}

func swapOperation(hop engine.Hop) OperationSpec {
	return OperationSpec{
		Kind: KindSwap,
		Payload: map[string]string{
			"from":       hop.From,
			"to":         hop.To,
			"pool":       hop.PoolKey,
			"protocol":   hop.Protocol,
			"amount_in":  formatAmount(hop.AmountIn),
			"amount_out": formatAmount(hop.AmountOut),
		},
		Cost: hop.ResourceCost,
	}
}

// FromRoute returns one swap operation per hop of route.
func FromRoute(route engine.Route) []OperationSpec {
	ops := make([]OperationSpec, 0, len(route.Hops))
	for _, hop := range route.Hops {
		ops = append(ops, swapOperation(hop))
	}
	return ops
}

// FromCycle returns the flash-loan funded execution of cycle: borrow, one
// swap per hop, then repay the loan plus its fee.
func FromCycle(cycle engine.ArbitrageCycle) []OperationSpec {
	asset := cycle.Source()
	ops := make([]OperationSpec, 0, len(cycle.Hops)+2)
	ops = append(ops, OperationSpec{
		Kind: KindFlashBorrow,
		Payload: map[string]string{
			"asset":  asset,
			"amount": formatAmount(cycle.BorrowAmount),
		},
	})
	for _, hop := range cycle.Hops {
		ops = append(ops, swapOperation(hop))
	}
	ops = append(ops, OperationSpec{
		Kind: KindFlashRepay,
		Payload: map[string]string{
			"asset":  asset,
			"amount": formatAmount(cycle.BorrowAmount + cycle.FlashLoanFee),
		},
	})
	return ops
}
