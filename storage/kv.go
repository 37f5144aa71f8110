package storage

import (
	"sync"

	"cabbageDDL/util"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	DataKeyPrefix byte = 0x0d
	RowKeyPrefix  byte = 0x02
)

// KVTable stores rows in the shared bitcask under DataKeyPrefix|RowKeyPrefix|uuid|row id.
type KVTable struct {
	tableBase
	kv            KVStore
	maxRowsToDrop int

	mu      sync.Mutex
	nextRow uint64
}

// NewKVTable opens the rows already persisted for id. maxRowsToDrop > 0 refuses DROP and
// TRUNCATE of bigger tables.
func NewKVTable(name string, id uuid.UUID, kv KVStore, maxRowsToDrop int) (*KVTable, error) {
	t := &KVTable{kv: kv, maxRowsToDrop: maxRowsToDrop}
	t.init(name, id)

	rows, err := kv.ScanPrefix(t.prefix())
	if err != nil {
		return nil, errors.Wrapf(err, "load rows of %s", name)
	}
	if n := len(rows); n > 0 {
		var last uint64
		if err = util.ByteToInt(rows[n-1].Key[len(t.prefix()):], &last); err != nil {
			return nil, errors.Wrapf(err, "decode row key of %s", name)
		}
		t.nextRow = last + 1
	}
	return t, nil
}

func (t *KVTable) prefix() []byte {
	return util.BufferAppend([]byte{DataKeyPrefix, RowKeyPrefix}, t.id[:])
}

func (t *KVTable) Engine() string {
	return EngineKV
}

func (t *KVTable) Insert(rows ...[]byte) error {
	if t.IsShutdown() {
		return errors.Errorf("table %s is shut down", t.name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range rows {
		key := util.BufferAppend(t.prefix(), util.BinaryToByte(t.nextRow))
		if err := t.kv.Set(key, row); err != nil {
			return err
		}
		t.nextRow++
	}
	return nil
}

func (t *KVTable) TotalRows() (int, error) {
	rows, err := t.kv.ScanPrefix(t.prefix())
	return len(rows), err
}

func (t *KVTable) CheckTableCanBeDropped() error {
	if t.maxRowsToDrop <= 0 {
		return nil
	}
	n, err := t.TotalRows()
	if err != nil {
		return err
	}
	if n > t.maxRowsToDrop {
		return cannotDrop("Table %s has %d rows, more than max_table_rows_to_drop (%d)", t.name, n, t.maxRowsToDrop)
	}
	return nil
}

func (t *KVTable) Truncate(holder *TableLockHolder) error {
	if err := t.checkHolder(holder); err != nil {
		return err
	}
	return t.deleteRows()
}

func (t *KVTable) Drop() error {
	if err := t.deleteRows(); err != nil {
		return err
	}
	t.dropped.Store(true)
	return nil
}

func (t *KVTable) deleteRows() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rows, err := t.kv.ScanPrefix(t.prefix())
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err = t.kv.Delete(row.Key); err != nil {
			return errors.Wrapf(err, "delete rows of %s", t.name)
		}
	}
	return nil
}
