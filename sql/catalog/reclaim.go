package catalog

import (
	"context"
	"sync"
	"time"

	"cabbageDDL/logger"
	"cabbageDDL/metrics"
	"cabbageDDL/storage"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type TableState uint8

const (
	// TableReclaimed means the identity is unknown: it was reclaimed or never existed.
	TableReclaimed TableState = iota
	TableLive
	TableDetached
	TablePendingDisposal
)

func (s TableState) String() string {
	switch s {
	case TableLive:
		return "live"
	case TableDetached:
		return "detached"
	case TablePendingDisposal:
		return "pending disposal"
	}
	return "reclaimed"
}

type droppedTable struct {
	id       StorageID
	table    storage.Table
	dropTime time.Time
	done     chan struct{}
}

type reclaimQueue struct {
	mu     sync.Mutex
	delay  time.Duration
	tables map[uuid.UUID]*droppedTable
}

const reclaimPollInterval = 10 * time.Millisecond

// EnqueueDroppedTable schedules the data of an unregistered table for removal. The table is
// reclaimed once no reference remains and the reclaim delay has passed.
func (c *DatabaseCatalog) EnqueueDroppedTable(id StorageID, table storage.Table) error {
	def := storage.Definition{Name: id.Table, UUID: id.UUID, Engine: table.Engine()}
	if view, ok := table.(*storage.View); ok {
		def.Query = view.Query
	}
	if err := c.saveDroppedTable(DroppedTableMeta{Database: id.Database, Definition: def}); err != nil {
		return errors.Wrapf(err, "enqueue dropped table %s", id)
	}
	c.enqueue(id, table, time.Now())
	return nil
}

func (c *DatabaseCatalog) enqueue(id StorageID, table storage.Table, dropTime time.Time) {
	c.forgetTable(id.UUID)
	c.reclaim.mu.Lock()
	defer c.reclaim.mu.Unlock()
	if _, ok := c.reclaim.tables[id.UUID]; ok {
		return
	}
	c.reclaim.tables[id.UUID] = &droppedTable{id: id, table: table, dropTime: dropTime, done: make(chan struct{})}
	metrics.PendingDisposal.Inc()
	logger.Debugw("table enqueued for reclamation", "table", id.String())
}

// reclaimLocked drops the data of entry. The caller holds c.reclaim.mu.
func (c *DatabaseCatalog) reclaimLocked(entry *droppedTable) error {
	entry.table.Shutdown()
	if err := entry.table.Drop(); err != nil {
		return errors.Wrapf(err, "reclaim %s", entry.id)
	}
	if err := c.removeDroppedTable(entry.id.UUID); err != nil {
		return errors.Wrapf(err, "reclaim %s", entry.id)
	}
	delete(c.reclaim.tables, entry.id.UUID)
	close(entry.done)
	metrics.PendingDisposal.Dec()
	metrics.Reclaimed.Inc()
	logger.Debugw("table reclaimed", "table", entry.id.String())
	return nil
}

// ReclaimReady reclaims every queued table that is unreferenced and, unless force is set,
// older than the reclaim delay. It returns the number of reclaimed tables.
func (c *DatabaseCatalog) ReclaimReady(force bool) int {
	c.reclaim.mu.Lock()
	defer c.reclaim.mu.Unlock()
	n := 0
	for _, entry := range c.reclaim.tables {
		if entry.table.InUse() > 0 {
			continue
		}
		if !force && time.Since(entry.dropTime) < c.reclaim.delay {
			continue
		}
		if err := c.reclaimLocked(entry); err != nil {
			logger.Errorf("reclaimer: %v", err)
			continue
		}
		n++
	}
	return n
}

// RunReclaimer reclaims dropped tables every interval until ctx is done.
func (c *DatabaseCatalog) RunReclaimer(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.ReclaimReady(false)
		}
	}
}

// WaitTableFinallyDropped returns once the table with the given identity is no longer pending
// disposal. It reclaims the table itself as soon as the last reference is gone, without waiting
// for the reclaim delay. Giving up through ctx leaves the table queued.
func (c *DatabaseCatalog) WaitTableFinallyDropped(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	ticker := time.NewTicker(reclaimPollInterval)
	defer ticker.Stop()
	for {
		c.reclaim.mu.Lock()
		entry, ok := c.reclaim.tables[id]
		if !ok {
			c.reclaim.mu.Unlock()
			return nil
		}
		if entry.table.InUse() == 0 {
			err := c.reclaimLocked(entry)
			c.reclaim.mu.Unlock()
			return err
		}
		c.reclaim.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-entry.done:
			return nil
		case <-ticker.C:
		}
	}
}

func (c *DatabaseCatalog) PendingDisposal() int {
	c.reclaim.mu.Lock()
	defer c.reclaim.mu.Unlock()
	return len(c.reclaim.tables)
}

func (c *DatabaseCatalog) TableState(id uuid.UUID) TableState {
	c.reclaim.mu.Lock()
	_, pending := c.reclaim.tables[id]
	c.reclaim.mu.Unlock()
	if pending {
		return TablePendingDisposal
	}
	c.uuidMu.RLock()
	defer c.uuidMu.RUnlock()
	record, ok := c.uuids[id]
	if !ok {
		return TableReclaimed
	}
	if record.detached {
		return TableDetached
	}
	return TableLive
}
