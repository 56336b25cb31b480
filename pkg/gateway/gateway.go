// Package gateway provides the public API for embedding the service gateway.
// This is the stable API for external consumers.
package gateway

import (
	"github.com/tjfontaine/service-gateway/internal/runtime"
)

// Gateway is the main entry point for running the service gateway.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithFileConfig("config.yaml"),
//	    gateway.WithLogger(logger),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Events
	WithEventStore     = runtime.WithEventStore
	WithEventPublisher = runtime.WithEventPublisher

	// Policy
	WithAdmissionPolicy = runtime.WithAdmissionPolicy

	// Registry
	WithInstanceSource = runtime.WithInstanceSource

	// Advanced options
	WithLogger      = runtime.WithLogger
	WithHTTPClient  = runtime.WithHTTPClient
	WithListenAddrs = runtime.WithListenAddrs
)
