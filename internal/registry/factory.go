package registry

import (
	"database/sql"
	"fmt"
	"sync"
)

// Builder is a function that creates a registry store from config.
type Builder func(config Config) (Store, error)

// DefaultFactory maps store types to builders.
type DefaultFactory struct {
	builders map[string]Builder
	mu       sync.RWMutex
}

var globalFactory = &DefaultFactory{builders: make(map[string]Builder)}

func init() {
	RegisterStoreType("sqlite", func(config Config) (Store, error) {
		return NewSQLiteStore(config)
	})
	RegisterStoreType("postgres", func(config Config) (Store, error) {
		return NewPostgresStore(config)
	})
	RegisterStoreType("postgresql", func(config Config) (Store, error) {
		return NewPostgresStore(config)
	})
}

// RegisterStoreType registers a new store type with the global factory.
func RegisterStoreType(storeType string, builder Builder) {
	globalFactory.mu.Lock()
	defer globalFactory.mu.Unlock()
	globalFactory.builders[storeType] = builder
}

// CreateStore creates a store using the global factory. An empty type
// defaults to SQLite.
func CreateStore(config Config) (Store, error) {
	if config.Type == "" {
		config.Type = "sqlite"
	}
	globalFactory.mu.RLock()
	builder, exists := globalFactory.builders[config.Type]
	globalFactory.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unsupported store type: %s (supported: %v)", config.Type, SupportedTypes())
	}
	return builder(config)
}

// SupportedTypes returns a list of registered store types.
func SupportedTypes() []string {
	globalFactory.mu.RLock()
	defer globalFactory.mu.RUnlock()
	types := make([]string, 0, len(globalFactory.builders))
	for storeType := range globalFactory.builders {
		types = append(types, storeType)
	}
	return types
}

func openSQL(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}
