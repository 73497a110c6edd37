package router

import (
	"github.com/defistate/defistate-router-go/bundle"
	"github.com/defistate/defistate-router-go/graphcache"
	"github.com/prometheus/client_golang/prometheus"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Option configures the Router.
// The interface method is unexported to prevent external modification after New.
type Option interface {
	apply(*Router)
}

type funcOption func(*Router)

func (f funcOption) apply(r *Router) {
	f(r)
}

func newOption(f func(*Router)) Option {
	return funcOption(f)
}

// WithLogger sets the router logger.
func WithLogger(logger Logger) Option {
	return newOption(func(r *Router) {
		r.logger = logger
	})
}

// WithRegisterer registers the router metrics with reg instead of a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return newOption(func(r *Router) {
		r.registerer = reg
	})
}

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return newOption(func(r *Router) {
		r.cfg = cfg
	})
}

// WithAddressValidator replaces the Stellar account validator.
func WithAddressValidator(v bundle.AddressValidator) Option {
	return newOption(func(r *Router) {
		r.validator = v
	})
}

// WithGraphCache lets requests reference cached snapshots by id.
func WithGraphCache(cache *graphcache.Cache) Option {
	return newOption(func(r *Router) {
		r.cache = cache
	})
}
