package backend

import (
	"fmt"
	"sync"

	"github.com/askdb/askdb/internal/catalog"
)

// Variant is the per-engine configuration of the generic backend.
type Variant struct {
	Type        catalog.DatabaseType
	DriverName  string
	DefaultPort int
	// BuildDSN turns structured target fields into a driver DSN.
	BuildDSN func(target Target) (string, error)
	// IntrospectQuery returns (table_name, column_name, data_type) rows
	// ordered by table and column position.
	IntrospectQuery string
}

// VariantInfo describes a registered engine for discovery endpoints.
type VariantInfo struct {
	Type        catalog.DatabaseType `json:"type"`
	DisplayName string               `json:"display_name"`
	DriverName  string               `json:"driver"`
	DefaultPort int                  `json:"default_port,omitempty"`
}

var (
	registryMu sync.RWMutex
	registry   = make(map[catalog.DatabaseType]Variant)
)

// Register is called from each variant package's init function.
func Register(variant Variant) {
	if !variant.Type.Valid() {
		panic(fmt.Sprintf("backend: register unknown database type %q", variant.Type))
	}
	if variant.DriverName == "" || variant.IntrospectQuery == "" || variant.BuildDSN == nil {
		panic(fmt.Sprintf("backend: incomplete variant %q", variant.Type))
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[variant.Type] = variant
}

func Lookup(databaseType catalog.DatabaseType) (Variant, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	variant, ok := registry[databaseType]
	return variant, ok
}

// Registered lists registered engines in catalog declaration order.
func Registered() []VariantInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]VariantInfo, 0, len(registry))
	for _, databaseType := range catalog.DatabaseTypes() {
		variant, ok := registry[databaseType]
		if !ok {
			continue
		}
		out = append(out, VariantInfo{
			Type:        variant.Type,
			DisplayName: variant.Type.DisplayName(),
			DriverName:  variant.DriverName,
			DefaultPort: variant.DefaultPort,
		})
	}
	return out
}

// Open returns an unconnected backend for the given engine.
func Open(databaseType catalog.DatabaseType, opts Options) (*SQLBackend, error) {
	variant, ok := Lookup(databaseType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, databaseType)
	}
	return New(variant, opts), nil
}
