// Package storage implements the table engines handed out by the catalog.
package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cabbageDDL/bitcask"
	"cabbageDDL/ddlerr"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const (
	EngineKV         = "KV"
	EngineMemory     = "Memory"
	EngineView       = "View"
	EngineDictionary = "Dictionary"
)

// Table is a live object registered in the catalog. Callers that obtained a Table from the
// catalog hold a reference and must Release it.
type Table interface {
	Name() string
	Engine() string
	UUID() uuid.UUID
	IsView() bool

	Insert(rows ...[]byte) error
	TotalRows() (int, error)

	Shutdown()
	IsShutdown() bool
	LockExclusively(ctx context.Context, queryID string, timeout time.Duration) (*TableLockHolder, error)
	// Truncate removes data and keeps metadata. The caller must hold the exclusive lock.
	Truncate(holder *TableLockHolder) error
	Drop() error
	IsDropped() bool
	CheckTableCanBeDropped() error

	Retain()
	Release()
	InUse() int32
}

// KVStore is the persistent key/value surface used by KV tables.
type KVStore interface {
	Set(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	ScanPrefix(prefix []byte) ([]*bitcask.ByteMap, error)
}

// TableLockHolder is an exclusive lock on one table. Release is idempotent.
type TableLockHolder struct {
	QueryID string
	owner   *tableBase
	once    sync.Once
}

func (h *TableLockHolder) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.owner.lock.Release(1)
	})
}

type tableBase struct {
	name     string
	id       uuid.UUID
	lock     *semaphore.Weighted
	refs     atomic.Int32
	shutdown atomic.Bool
	dropped  atomic.Bool
}

func (b *tableBase) init(name string, id uuid.UUID) {
	b.name = name
	b.id = id
	b.lock = semaphore.NewWeighted(1)
}

func (b *tableBase) Name() string {
	return b.name
}

func (b *tableBase) UUID() uuid.UUID {
	return b.id
}

func (b *tableBase) IsView() bool {
	return false
}

func (b *tableBase) Shutdown() {
	b.shutdown.Store(true)
}

func (b *tableBase) IsShutdown() bool {
	return b.shutdown.Load()
}

func (b *tableBase) IsDropped() bool {
	return b.dropped.Load()
}

func (b *tableBase) CheckTableCanBeDropped() error {
	return nil
}

func (b *tableBase) Retain() {
	b.refs.Add(1)
}

func (b *tableBase) Release() {
	if b.refs.Add(-1) < 0 {
		panic("storage: table " + b.name + " released more times than retained")
	}
}

func (b *tableBase) InUse() int32 {
	return b.refs.Load()
}

// LockExclusively waits at most timeout (zero means no limit besides ctx) for the table lock.
func (b *tableBase) LockExclusively(ctx context.Context, queryID string, timeout time.Duration) (*TableLockHolder, error) {
	lockCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := b.lock.Acquire(lockCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ddlerr.New(ddlerr.LockTimeout,
			"Locking attempt for table %s by query %s timed out after %s. Possible deadlock avoided, client should retry", b.name, queryID, timeout)
	}
	if b.dropped.Load() {
		b.lock.Release(1)
		return nil, ddlerr.New(ddlerr.UnknownTarget, "Table %s is dropped", b.name)
	}
	return &TableLockHolder{QueryID: queryID, owner: b}, nil
}

func (b *tableBase) checkHolder(holder *TableLockHolder) error {
	if holder == nil || holder.owner != b {
		return ddlerr.New(ddlerr.Logical, "truncate of %s called without its exclusive lock", b.name)
	}
	return nil
}

func notSupported(engine, op string) error {
	return ddlerr.New(ddlerr.NotSupported, "%s is not supported by storage %s", op, engine)
}
