package connectors

import (
	"sync"

	"github.com/preventera/safetygraph/pkg/config"
)

// ConnectorInfo describes a registered connector type for discovery
// (source listing, diagnostics).
type ConnectorInfo struct {
	Type        config.SourceType `json:"type"`
	DisplayName string            `json:"display_name"`
	Description string            `json:"description"`
}

// ConnectorRegistration contains info plus a factory for creating the
// connector bound to a shared HTTP client.
type ConnectorRegistration struct {
	Info    ConnectorInfo
	Factory func(client *Client) Connector
}

var (
	registryMu sync.RWMutex
	registry   = make(map[config.SourceType]ConnectorRegistration)
)

// Register is called by each connector's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg ConnectorRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredConnectors returns info for all registered connector types.
func RegisteredConnectors() []ConnectorInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]ConnectorInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	return result
}

// GetFactory returns the factory for a source type.
// Returns nil if the type is not registered.
func GetFactory(t config.SourceType) func(client *Client) Connector {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[t]; ok {
		return reg.Factory
	}
	return nil
}

// IsRegistered checks if a connector type is available.
func IsRegistered(t config.SourceType) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[t]
	return ok
}
