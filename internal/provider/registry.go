package provider

import (
	"fmt"
	"sync"
)

// Constructor builds a client for one provider, routed through proxy when set.
type Constructor func(proxy string) (Client, error)

var (
	registryMu sync.RWMutex
	registry   = map[Provider]Constructor{}
)

// Register installs a client constructor for p. Client libraries call this
// from their init functions, mirroring database/sql driver registration.
func Register(p Provider, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p] = ctor
}

type registryFactory struct{}

// DefaultFactory returns a Factory backed by the registered constructors.
func DefaultFactory() Factory {
	return registryFactory{}
}

func (registryFactory) New(p Provider, proxy string) (Client, error) {
	registryMu.RLock()
	ctor, ok := registry[p]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no client registered for provider %s", p)
	}
	return ctor(proxy)
}
