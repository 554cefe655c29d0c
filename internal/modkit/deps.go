package modkit

import "mquery/internal/modkit/module"

// Module is the surface every api module exposes to main
type Module = module.Module

// Builder constructs a Module from shared deps and options
type Builder func(Deps, ...Option) Module
