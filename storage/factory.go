package storage

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Definition is what the catalog persists about a table.
type Definition struct {
	Name   string
	UUID   uuid.UUID
	Engine string
	// Query is the SELECT of a view.
	Query string
}

// Factory builds table engines from persisted definitions.
type Factory struct {
	KV            KVStore
	MaxRowsToDrop int
}

// Open builds a table. Dictionary tables are created by the catalog together with their
// dictionary and cannot be opened here.
func (f *Factory) Open(def Definition) (Table, error) {
	switch def.Engine {
	case EngineKV, "":
		if f.KV == nil {
			return nil, errors.Errorf("table %s: engine KV needs a key/value store", def.Name)
		}
		return NewKVTable(def.Name, def.UUID, f.KV, f.MaxRowsToDrop)
	case EngineMemory:
		return NewMemoryTable(def.Name, def.UUID), nil
	case EngineView:
		return NewView(def.Name, def.UUID, def.Query), nil
	}
	return nil, errors.Errorf("table %s: unknown engine %q", def.Name, def.Engine)
}
