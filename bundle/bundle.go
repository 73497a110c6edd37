package bundle

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/defistate/defistate-router-go/engine"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

const (
	// DefaultBaseCost is the resource cost charged for every operation.
	DefaultBaseCost = 100
	// DefaultMaxOperations is the largest bundle Build accepts.
	DefaultMaxOperations = 100
)

// AddressValidator decides whether an account identifier is well formed.
type AddressValidator interface {
	ValidateAddress(account string) error
}

// OperationSpec is one requested operation of a bundle.
type OperationSpec struct {
	Kind    string            `json:"kind"`
	Payload map[string]string `json:"payload,omitempty"`
	// Cost is the path-specific resource cost on top of the base cost.
	Cost uint64 `json:"cost,omitempty"`
	// DependsOn lists earlier operations this one must follow. Only atomic
	// bundles may carry dependencies.
	DependsOn []int `json:"depends_on,omitempty"`
}

// Operation is a placed operation of a bundle.
type Operation struct {
	Index     int               `json:"index"`
	Kind      string            `json:"kind"`
	Payload   map[string]string `json:"payload,omitempty"`
	Cost      uint64            `json:"cost"`
	Sequence  uint64            `json:"sequence"`
	DependsOn mapset.Set[int]   `json:"-"`
}

// Dependencies returns the indices this operation depends on, ascending.
func (o Operation) Dependencies() []int {
	if o.DependsOn == nil {
		return []int{}
	}
	deps := o.DependsOn.ToSlice()
	slices.Sort(deps)
	return deps
}

func (o Operation) MarshalJSON() ([]byte, error) {
	type operation Operation
	return json.Marshal(struct {
		operation
		DependsOn []int `json:"depends_on"`
	}{operation(o), o.Dependencies()})
}

// Bundle is an ordered, dependency annotated group of operations for one
// account.
type Bundle struct {
	Account          string      `json:"account"`
	StartingSequence uint64      `json:"starting_sequence"`
	Atomic           bool        `json:"atomic"`
	Operations       []Operation `json:"operations"`
	Fingerprint      common.Hash `json:"fingerprint"`
	ResourceCost     uint64      `json:"resource_cost"`
}

// DependencyEdges counts the dependency edges across all operations.
func (b Bundle) DependencyEdges() int {
	edges := 0
	for _, op := range b.Operations {
		if op.DependsOn != nil {
			edges += op.DependsOn.Cardinality()
		}
	}
	return edges
}

// Option configures a Builder.
type Option interface {
	apply(*Builder)
}

type funcOption func(*Builder)

func (f funcOption) apply(b *Builder) {
	f(b)
}

func newOption(f func(*Builder)) Option {
	return funcOption(f)
}

// WithBaseCost sets the resource cost charged per operation.
func WithBaseCost(cost uint64) Option {
	return newOption(func(b *Builder) {
		b.baseCost = cost
	})
}

// WithMaxOperations caps the number of operations in one bundle.
func WithMaxOperations(n int) Option {
	return newOption(func(b *Builder) {
		b.maxOperations = n
	})
}

// WithAddressValidator makes Build reject accounts the validator refuses.
func WithAddressValidator(v AddressValidator) Option {
	return newOption(func(b *Builder) {
		b.validator = v
	})
}

// Builder assembles bundles. It holds configuration only and is safe for
// concurrent use.
type Builder struct {
	baseCost      uint64
	maxOperations int
	validator     AddressValidator
}

// NewBuilder returns a Builder with the default base cost and operation limit.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		baseCost:      DefaultBaseCost,
		maxOperations: DefaultMaxOperations,
	}
	for _, opt := range opts {
		opt.apply(b)
	}
	return b
}

// Build places ops into a bundle for account.
//
// An atomic bundle chains every operation to its predecessor and gives all of
// them the sequence startingSequence+1, so they commit as one unit. A
// non-atomic bundle has no dependencies and consumes one sequence number per
// operation. Requested dependencies must point at strictly earlier operations;
// in an atomic bundle the chain already orders them.
func (b *Builder) Build(ops []OperationSpec, atomic bool, account string, startingSequence uint64) (Bundle, error) {
	if len(ops) == 0 {
		return Bundle{}, engine.Malformed("no operations provided")
	}
	if b.maxOperations > 0 && len(ops) > b.maxOperations {
		return Bundle{}, engine.Malformed("bundle has %d operations, limit is %d", len(ops), b.maxOperations)
	}
	if account == "" {
		return Bundle{}, engine.Malformed("account is required")
	}
	if b.validator != nil {
		if err := b.validator.ValidateAddress(account); err != nil {
			return Bundle{}, engine.Malformed("account %s: %v", account, err)
		}
	}

	bundle := Bundle{
		Account:          account,
		StartingSequence: startingSequence,
		Atomic:           atomic,
		Operations:       make([]Operation, len(ops)),
	}
	for i, spec := range ops {
		if spec.Kind == "" {
			return Bundle{}, engine.Malformed("operation %d: kind is required", i)
		}
		if err := checkDependencies(i, spec.DependsOn, atomic); err != nil {
			return Bundle{}, err
		}

		op := Operation{
			Index:     i,
			Kind:      spec.Kind,
			Payload:   maps.Clone(spec.Payload),
			Cost:      spec.Cost,
			DependsOn: mapset.NewThreadUnsafeSet[int](),
		}
		if atomic {
			op.Sequence = startingSequence + 1
			if i > 0 {
				op.DependsOn.Add(i - 1)
			}
		} else {
			op.Sequence = startingSequence + 1 + uint64(i)
		}
		bundle.Operations[i] = op
		bundle.ResourceCost += b.baseCost + spec.Cost
	}

	fingerprint, err := Fingerprint(bundle.Operations, account, startingSequence)
	if err != nil {
		return Bundle{}, err
	}
	bundle.Fingerprint = fingerprint
	return bundle, nil
}

func checkDependencies(index int, deps []int, atomic bool) error {
	if len(deps) > 0 && !atomic {
		return fmt.Errorf("operation %d: non-atomic bundles carry no dependencies: %w", index, engine.ErrBundleDependencyViolation)
	}
	for _, dep := range deps {
		if dep < 0 || dep >= index {
			return fmt.Errorf("operation %d depends on %d: %w", index, dep, engine.ErrBundleDependencyViolation)
		}
	}
	return nil
}

type encodedParam struct {
	Key   string
	Value string
}

type encodedOperation struct {
	Kind      string
	Payload   []encodedParam
	Cost      uint64
	Sequence  uint64
	DependsOn []uint64
}

type encodedBundle struct {
	Operations       []encodedOperation
	Account          string
	StartingSequence uint64
}

// Fingerprint is the Keccak-256 digest of the RLP encoding of the operations,
// account and starting sequence. Payload entries are encoded in key order, so
// equal inputs always produce equal fingerprints.
func Fingerprint(ops []Operation, account string, startingSequence uint64) (common.Hash, error) {
	enc := encodedBundle{
		Operations:       make([]encodedOperation, len(ops)),
		Account:          account,
		StartingSequence: startingSequence,
	}
	for i, op := range ops {
		keys := slices.Sorted(maps.Keys(op.Payload))
		params := make([]encodedParam, len(keys))
		for j, key := range keys {
			params[j] = encodedParam{Key: key, Value: op.Payload[key]}
		}
		deps := op.Dependencies()
		encodedDeps := make([]uint64, len(deps))
		for j, dep := range deps {
			encodedDeps[j] = uint64(dep)
		}
		enc.Operations[i] = encodedOperation{
			Kind:      op.Kind,
			Payload:   params,
			Cost:      op.Cost,
			Sequence:  op.Sequence,
			DependsOn: encodedDeps,
		}
	}

	data, err := rlp.EncodeToBytes(&enc)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode bundle: %w", err)
	}
	return crypto.Keccak256Hash(data), nil
}
