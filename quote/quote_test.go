package quote

import (
	"math"
	"testing"

	"github.com/defistate/defistate-router-go/engine"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testRoute(rates ...float64) engine.Route {
	route := engine.Route{Assets: []string{"T0"}}
	for i, rate := range rates {
		from, to := route.Assets[i], "T"+string(rune('1'+i))
		route.Hops = append(route.Hops, engine.Hop{From: from, To: to, PoolKey: from + "/" + to, Rate: rate})
		route.Assets = append(route.Assets, to)
	}
	return route
}

func TestResolveSlippageBps(t *testing.T) {
	dynamic := engine.DefaultSlippageConfig()
	static := dynamic
	static.DynamicAdjustment = false

	testCases := []struct {
		name       string
		cfg        engine.SlippageConfig
		volatility float64
		want       float64
	}{
		{"calm market", dynamic, 0, 50},
		{"moderate volatility", dynamic, 0.5, 100},
		{"full volatility", dynamic, 1, 150},
		{"clamped to max", dynamic, 10, 500},
		{"clamped to min", dynamic, -1, 10},
		{"static ignores volatility", static, 1, 50},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, ResolveSlippageBps(tc.cfg, tc.volatility), 1e-9)
		})
	}
}

func TestResolveSlippageBps_StaysInBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		minBps := rapid.Float64Range(0, 1000).Draw(t, "min")
		maxBps := rapid.Float64Range(minBps, 10000).Draw(t, "max")
		cfg := engine.SlippageConfig{
			MinBps:               minBps,
			MaxBps:               maxBps,
			BaseBps:              rapid.Float64Range(minBps, maxBps).Draw(t, "base"),
			VolatilityMultiplier: rapid.Float64Range(0, engine.MaxVolatilityMultiplier).Draw(t, "multiplier"),
			DynamicAdjustment:    rapid.Bool().Draw(t, "dynamic"),
		}
		volatility := rapid.Float64Range(0, 1).Draw(t, "volatility")

		bps := ResolveSlippageBps(cfg, volatility)
		if bps < cfg.MinBps || bps > cfg.MaxBps {
			t.Fatalf("resolved %v outside [%v, %v]", bps, cfg.MinBps, cfg.MaxBps)
		}
	})
}

func TestNew(t *testing.T) {
	cfg := engine.DefaultSlippageConfig()

	t.Run("inverts every hop", func(t *testing.T) {
		q, err := New(testRoute(0.5, 0.8), "100", cfg, 0)
		require.NoError(t, err)

		assert.Equal(t, "250", q.SourceAmount.String())
		assert.Equal(t, "251.25", q.MaxSourceAmount.String())
		assert.Equal(t, "100", q.DestinationAmount.String())
		assert.InDelta(t, 50, q.SlippageBps, 1e-9)
		assert.InDelta(t, 0.4, q.ExpectedRatio, 1e-12)
		assert.Equal(t, []string{"T0", "T1", "T2"}, q.Path)

		require.Len(t, q.HopAmounts, 2)
		assert.Equal(t, "250", q.HopAmounts[0].AmountIn.String())
		assert.Equal(t, "125", q.HopAmounts[0].AmountOut.String())
		assert.True(t, q.HopAmounts[0].AmountOut.Equal(q.HopAmounts[1].AmountIn))
		assert.Equal(t, "100", q.HopAmounts[1].AmountOut.String())
		assert.Equal(t, "T1/T2", q.HopAmounts[1].PoolKey)
	})

	t.Run("volatility widens the buffer", func(t *testing.T) {
		q, err := New(testRoute(0.5, 0.8), "100", cfg, 1)
		require.NoError(t, err)
		assert.InDelta(t, 150, q.SlippageBps, 1e-9)
		assert.Equal(t, "253.75", q.MaxSourceAmount.String())
	})

	t.Run("source side rounds up", func(t *testing.T) {
		q, err := New(testRoute(3), "1", cfg, 0)
		require.NoError(t, err)
		assert.Equal(t, "0.3333334", q.SourceAmount.String())
		assert.True(t, q.MaxSourceAmount.GreaterThan(q.SourceAmount))
	})

	t.Run("destination keeps seven decimals", func(t *testing.T) {
		q, err := New(testRoute(1), "1.123456789", cfg, 0)
		require.NoError(t, err)
		assert.Equal(t, "1.1234568", q.DestinationAmount.String())
	})
}

func TestNew_Unavailable(t *testing.T) {
	cfg := engine.DefaultSlippageConfig()
	route := testRoute(0.9)

	for name, amount := range map[string]string{
		"empty":       "",
		"not numeric": "ten",
		"zero":        "0",
		"negative":    "-5",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(route, amount, cfg, 0)
			require.ErrorIs(t, err, engine.ErrUnavailable)
			assert.NotErrorIs(t, err, engine.ErrMalformedInput)
		})
	}

	t.Run("empty route", func(t *testing.T) {
		_, err := New(engine.Route{}, "10", cfg, 0)
		require.ErrorIs(t, err, engine.ErrUnavailable)
		assert.Equal(t, "route has no hops", engine.Reason(err))
	})
}

func TestNew_MalformedInput(t *testing.T) {
	route := testRoute(0.9)

	t.Run("invalid slippage config", func(t *testing.T) {
		cfg := engine.DefaultSlippageConfig()
		cfg.MinBps = 600
		_, err := New(route, "10", cfg, 0)
		assert.ErrorIs(t, err, engine.ErrMalformedInput)
	})

	t.Run("multiplier above limit", func(t *testing.T) {
		cfg := engine.DefaultSlippageConfig()
		cfg.VolatilityMultiplier = 11
		_, err := New(route, "10", cfg, 0)
		assert.ErrorIs(t, err, engine.ErrMalformedInput)
	})

	t.Run("nan volatility", func(t *testing.T) {
		_, err := New(route, "10", engine.DefaultSlippageConfig(), math.NaN())
		assert.ErrorIs(t, err, engine.ErrMalformedInput)
	})

	t.Run("negative volatility", func(t *testing.T) {
		_, err := New(route, "10", engine.DefaultSlippageConfig(), -0.5)
		require.ErrorIs(t, err, engine.ErrMalformedInput)
		assert.Contains(t, err.Error(), "must not be negative")
	})
}

func TestNew_NeverUnderQuotes(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rates := rapid.SliceOfN(rapid.Float64Range(0.5, 2), 1, 3).Draw(t, "rates")
		destination := rapid.Float64Range(1, 1e6).Draw(t, "destination")
		volatility := rapid.Float64Range(0, 1).Draw(t, "volatility")

		amount := decimal.NewFromFloat(destination).Round(Decimals)
		q, err := New(testRoute(rates...), amount.String(), engine.DefaultSlippageConfig(), volatility)
		if err != nil {
			t.Fatalf("quote: %v", err)
		}

		product := 1.0
		for _, rate := range rates {
			product *= rate
		}
		want := amount.InexactFloat64()
		got := q.SourceAmount.InexactFloat64() * product
		if got < want*(1-1e-12) {
			t.Fatalf("source %s yields %v, less than %v", q.SourceAmount, got, want)
		}
		if got > want*(1+1e-6)+1e-6 {
			t.Fatalf("source %s yields %v, far above %v", q.SourceAmount, got, want)
		}
		if q.MaxSourceAmount.LessThan(q.SourceAmount) {
			t.Fatalf("max source %s below source %s", q.MaxSourceAmount, q.SourceAmount)
		}
	})
}
