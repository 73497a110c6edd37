package server

import (
	"errors"
	"fmt"

	"github.com/defistate/defistate-router-go/router"
	"github.com/defistate/defistate-router-go/streams/jsonrpc"
	"github.com/ethereum/go-ethereum/rpc"
)

// DefaultBufferSize is the per-subscriber event queue length.
const DefaultBufferSize = 64

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the dependencies of the router API.
type Config struct {
	Router *router.Router
	Logger Logger
	// BufferSize is the per-subscriber event queue length. Zero selects
	// DefaultBufferSize.
	BufferSize int
}

// validate checks if the configuration is valid, ensuring required dependencies are present.
func (c *Config) validate() error {
	if c.Router == nil {
		return errors.New("config: Router cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.BufferSize < 0 {
		return errors.New("config: BufferSize cannot be negative")
	}
	return nil
}

// NewServer creates an RPC server with the router API registered under the
// jsonrpc.Namespace namespace.
func NewServer(cfg *Config) (*rpc.Server, *API, error) {
	api, err := NewAPI(cfg)
	if err != nil {
		return nil, nil, err
	}
	srv := rpc.NewServer()
	if err := srv.RegisterName(jsonrpc.Namespace, api); err != nil {
		return nil, nil, fmt.Errorf("failed to register API: %w", err)
	}
	return srv, api, nil
}
