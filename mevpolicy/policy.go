package mevpolicy

import (
	"fmt"

	"github.com/defistate/defistate-router-go/engine"
)

// Level is the protection level of an MEV configuration.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// DefaultMaxPriorityFee is the priority fee above which a warning is raised.
const DefaultMaxPriorityFee = 10000

// Assessment is the outcome of evaluating an MEV configuration.
type Assessment struct {
	Level           Level    `json:"level"`
	Warnings        []string `json:"warnings"`
	Recommendations []string `json:"recommendations"`
}

// Policy scores MEV protection settings. It is stateless apart from the fee
// threshold and safe for concurrent use.
type Policy struct {
	maxPriorityFee uint64
}

// New returns a Policy warning about priority fees above maxPriorityFee. Zero
// selects DefaultMaxPriorityFee.
func New(maxPriorityFee uint64) *Policy {
	if maxPriorityFee == 0 {
		maxPriorityFee = DefaultMaxPriorityFee
	}
	return &Policy{maxPriorityFee: maxPriorityFee}
}

// MaxPriorityFee returns the warning threshold.
func (p *Policy) MaxPriorityFee() uint64 {
	return p.maxPriorityFee
}

// Evaluate classifies cfg. Level is high when both the private mempool and
// sandwich protection are on, medium when one is, low otherwise. A disabled
// configuration is low with no warnings.
func (p *Policy) Evaluate(cfg engine.MEVConfig) Assessment {
	a := Assessment{
		Level:           LevelLow,
		Warnings:        []string{},
		Recommendations: []string{},
	}
	if !cfg.Enabled {
		a.Recommendations = append(a.Recommendations, "enable MEV protection")
		return a
	}

	switch {
	case cfg.PrivateMempool && cfg.SandwichProtection:
		a.Level = LevelHigh
	case cfg.PrivateMempool || cfg.SandwichProtection:
		a.Level = LevelMedium
	}

	if !cfg.PrivateMempool {
		a.Warnings = append(a.Warnings, "transactions are visible in the public mempool")
		a.Recommendations = append(a.Recommendations, "submit through a private mempool")
	}
	if !cfg.SandwichProtection {
		a.Recommendations = append(a.Recommendations, "enable sandwich protection")
	}
	if cfg.MaxPriorityFee > p.maxPriorityFee {
		a.Warnings = append(a.Warnings, fmt.Sprintf("max priority fee %d exceeds %d", cfg.MaxPriorityFee, p.maxPriorityFee))
		a.Recommendations = append(a.Recommendations, fmt.Sprintf("lower the max priority fee to at most %d", p.maxPriorityFee))
	}
	return a
}
