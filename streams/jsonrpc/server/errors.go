package server

import (
	"errors"

	"github.com/defistate/defistate-router-go/engine"
)

// JSON-RPC error codes returned by the router API.
const (
	CodeInvalidParams       = -32602
	CodeInternal            = -32000
	CodeUnavailable         = -32001
	CodeDependencyViolation = -32002
)

// rpcError attaches a JSON-RPC error code to err. It implements rpc.Error.
type rpcError struct {
	code int
	err  error
}

func (e *rpcError) Error() string {
	return e.err.Error()
}

func (e *rpcError) ErrorCode() int {
	return e.code
}

func (e *rpcError) Unwrap() error {
	return e.err
}

func toRPCError(err error) error {
	if err == nil {
		return nil
	}
	code := CodeInternal
	switch {
	case errors.Is(err, engine.ErrMalformedInput):
		code = CodeInvalidParams
	case errors.Is(err, engine.ErrBundleDependencyViolation):
		code = CodeDependencyViolation
	case errors.Is(err, engine.ErrUnavailable):
		code = CodeUnavailable
	}
	return &rpcError{code: code, err: err}
}
