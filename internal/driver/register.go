package driver

import "sync"

var (
	factoryMu sync.Mutex
	factory   Factory
)

// RegisterFactory installs the upstream client implementation. The embedding
// service calls this once before the orchestrator starts; registering twice
// panics, the same way database/sql treats duplicate drivers.
func RegisterFactory(f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if factory != nil {
		panic("driver: factory registered twice")
	}
	factory = f
}

// RegisteredFactory returns the installed factory, or nil.
func RegisteredFactory() Factory {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	return factory
}
