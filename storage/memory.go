package storage

import (
	"sync"

	"github.com/google/uuid"
)

// MemoryTable keeps rows in process memory. Temporary tables use it.
type MemoryTable struct {
	tableBase
	mu   sync.Mutex
	rows [][]byte
}

func NewMemoryTable(name string, id uuid.UUID) *MemoryTable {
	t := &MemoryTable{}
	t.init(name, id)
	return t
}

func (t *MemoryTable) Engine() string {
	return EngineMemory
}

func (t *MemoryTable) Insert(rows ...[]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = append(t.rows, rows...)
	return nil
}

func (t *MemoryTable) TotalRows() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows), nil
}

func (t *MemoryTable) Truncate(holder *TableLockHolder) error {
	if err := t.checkHolder(holder); err != nil {
		return err
	}
	t.mu.Lock()
	t.rows = nil
	t.mu.Unlock()
	return nil
}

func (t *MemoryTable) Drop() error {
	t.mu.Lock()
	t.rows = nil
	t.mu.Unlock()
	t.dropped.Store(true)
	return nil
}
