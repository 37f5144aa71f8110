// Package catalog owns databases, their tables and dictionaries, the name guards that
// serialize structural operations, and the queue of dropped tables awaiting reclamation.
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"cabbageDDL/ddlerr"
	"cabbageDDL/log"
	"cabbageDDL/logger"
	"cabbageDDL/storage"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Catalog is what the interpreter needs from the catalog.
type Catalog interface {
	TryGetDatabase(name string) Database
	GetDatabase(name string) (Database, error)
	// TryGetDatabaseAndTable returns a retained table; the caller must Release it.
	TryGetDatabaseAndTable(database, table string) (Database, storage.Table)
	IsTableExist(database, table string) bool
	GetDDLGuard(database, name string) *DDLGuard
	GetExclusiveDDLGuardForDatabase(database string) *ExclusiveGuard
	WaitTableFinallyDropped(ctx context.Context, id uuid.UUID) error
	DetachDatabase(ctx context.Context, name string, drop, requireEmpty bool) error
}

// ReplicaFactory opens and releases the replicated logs of Replicated databases.
type ReplicaFactory interface {
	OpenReplica(database string) (*log.Replica, error)
	// ReleaseReplica waits for the replica to drain and closes it. With remove, its log is
	// deleted as well.
	ReleaseReplica(database string, remove bool) error
}

type Config struct {
	Metadata     storage.KVStore
	Factory      *storage.Factory
	Replicas     ReplicaFactory
	ReclaimDelay time.Duration
}

type tableRecord struct {
	id       StorageID
	detached bool
}

type DatabaseCatalog struct {
	mu        sync.RWMutex
	databases map[string]Database

	uuidMu sync.RWMutex
	uuids  map[uuid.UUID]*tableRecord

	guards   *GuardRegistry
	metadata storage.KVStore
	factory  *storage.Factory
	replicas ReplicaFactory
	sm       log.StateMachine
	reclaim  *reclaimQueue

	background sync.WaitGroup
}

func NewDatabaseCatalog(cfg Config) (*DatabaseCatalog, error) {
	if cfg.Metadata == nil {
		return nil, errors.New("catalog: metadata store is required")
	}
	factory := cfg.Factory
	if factory == nil {
		factory = &storage.Factory{KV: cfg.Metadata}
	}
	return &DatabaseCatalog{
		databases: make(map[string]Database),
		uuids:     make(map[uuid.UUID]*tableRecord),
		guards:    NewGuardRegistry(),
		metadata:  cfg.Metadata,
		factory:   factory,
		replicas:  cfg.Replicas,
		reclaim:   &reclaimQueue{delay: cfg.ReclaimDelay, tables: make(map[uuid.UUID]*droppedTable)},
	}, nil
}

// SetStateMachine sets what applies the entries of replicated logs. It must be called before
// Load or CreateDatabase opens a Replicated database.
func (c *DatabaseCatalog) SetStateMachine(sm log.StateMachine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sm = sm
}

func (c *DatabaseCatalog) stateMachine() log.StateMachine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sm
}

func (c *DatabaseCatalog) Guards() *GuardRegistry {
	return c.guards
}

func (c *DatabaseCatalog) GetDDLGuard(database, name string) *DDLGuard {
	return c.guards.Guard(database, name)
}

func (c *DatabaseCatalog) GetExclusiveDDLGuardForDatabase(database string) *ExclusiveGuard {
	return c.guards.Exclusive(database)
}

func (c *DatabaseCatalog) TryGetDatabase(name string) Database {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.databases[name]
}

func (c *DatabaseCatalog) GetDatabase(name string) (Database, error) {
	if db := c.TryGetDatabase(name); db != nil {
		return db, nil
	}
	return nil, ddlerr.New(ddlerr.UnknownTarget, "Database %s doesn't exist", name)
}

func (c *DatabaseCatalog) TryGetDatabaseAndTable(database, table string) (Database, storage.Table) {
	db := c.TryGetDatabase(database)
	if db == nil {
		return nil, nil
	}
	t := db.TryGetTable(table)
	if t == nil {
		return db, nil
	}
	t.Retain()
	return db, t
}

func (c *DatabaseCatalog) IsTableExist(database, table string) bool {
	db := c.TryGetDatabase(database)
	return db != nil && db.IsTableExist(table)
}

func (c *DatabaseCatalog) IsDictionaryExist(database, name string) bool {
	db := c.TryGetDatabase(database)
	return db != nil && db.IsDictionaryExist(name)
}

func (c *DatabaseCatalog) DatabaseNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.databases))
	for name := range c.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *DatabaseCatalog) newDatabase(meta DatabaseMeta) (Database, *tableSet, error) {
	variant, err := ParseVariant(meta.Engine)
	if err != nil {
		return nil, nil, err
	}
	switch variant {
	case VariantOrdinary:
		db := &OrdinaryDatabase{tableSet: newTableSet(c, meta)}
		return db, &db.tableSet, nil
	case VariantAtomic:
		db := newAtomicDatabase(c, meta)
		return db, &db.tableSet, nil
	}
	if c.replicas == nil {
		return nil, nil, ddlerr.New(ddlerr.NotSupported, "Database %s: replicated databases are not configured", meta.Name)
	}
	replica, err := c.replicas.OpenReplica(meta.Name)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open replica of database %s", meta.Name)
	}
	db := &ReplicatedDatabase{AtomicDatabase: newAtomicDatabase(c, meta), replica: replica}
	return db, &db.tableSet, nil
}

// CreateDatabase registers and persists a new database.
func (c *DatabaseCatalog) CreateDatabase(ctx context.Context, name string, variant Variant) (Database, error) {
	if err := validateName("database", name); err != nil {
		return nil, err
	}
	guard := c.GetDDLGuard(name, "")
	defer guard.Release()

	if c.TryGetDatabase(name) != nil {
		return nil, ddlerr.New(ddlerr.AlreadyExists, "Database %s already exists", name)
	}
	if exists, err := c.databaseMetadataExists(name); err != nil {
		return nil, err
	} else if exists {
		return nil, ddlerr.New(ddlerr.AlreadyExists, "Database %s is detached, its metadata still exists", name)
	}

	meta := DatabaseMeta{Name: name, UUID: uuid.New(), Engine: variant.String()}
	db, _, err := c.newDatabase(meta)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.databases[name] = db
	c.mu.Unlock()

	err = db.Startup(ctx, c.stateMachine())
	if err == nil {
		err = c.saveDatabase(meta)
	}
	if err != nil {
		c.mu.Lock()
		delete(c.databases, name)
		c.mu.Unlock()
		db.Shutdown()
		c.releaseReplica(db, true)
		return nil, err
	}
	logger.Infow("database created", "database", name, "engine", meta.Engine)
	return db, nil
}

// CreateTable registers and persists a table under the name guard of (database, def.Name).
func (c *DatabaseCatalog) CreateTable(_ context.Context, database string, def storage.Definition) (storage.Table, error) {
	guard := c.GetDDLGuard(database, def.Name)
	defer guard.Release()
	db, err := c.GetDatabase(database)
	if err != nil {
		return nil, err
	}
	return db.CreateTable(def)
}

func (c *DatabaseCatalog) CreateDictionary(_ context.Context, database string, meta DictionaryMeta) (*Dictionary, error) {
	guard := c.GetDDLGuard(database, meta.Name)
	defer guard.Release()
	db, err := c.GetDatabase(database)
	if err != nil {
		return nil, err
	}
	return db.CreateDictionary(meta)
}

// DetachDatabase removes a database from the catalog. The caller holds the exclusive guard of
// the database. With drop, its metadata is deleted as well.
func (c *DatabaseCatalog) DetachDatabase(_ context.Context, name string, drop, requireEmpty bool) error {
	c.mu.Lock()
	db, ok := c.databases[name]
	if !ok {
		c.mu.Unlock()
		return ddlerr.New(ddlerr.UnknownTarget, "Database %s doesn't exist", name)
	}
	if requireEmpty && !db.Empty() {
		c.mu.Unlock()
		code := ddlerr.CannotDetach
		if drop {
			code = ddlerr.CannotDrop
		}
		return ddlerr.New(code, "New table appeared in database %s being dropped or detached. Try again", name)
	}
	delete(c.databases, name)
	c.mu.Unlock()

	db.Shutdown()
	if drop {
		for _, table := range db.TableNames() {
			if err := db.DropTable(context.Background(), table); err != nil {
				logger.Warnw("drop of remaining table failed", "database", name, "table", table, "error", err)
			}
		}
		if err := c.dropDetachedChildren(name); err != nil {
			return err
		}
		if err := c.removeDatabaseMetadata(name); err != nil {
			return err
		}
	}
	c.releaseReplica(db, drop)
	logger.Infow("database removed", "database", name, "drop", drop)
	return nil
}

// dropDetachedChildren removes the data of objects that were detached from a database being
// dropped. Only their metadata references them.
func (c *DatabaseCatalog) dropDetachedChildren(database string) error {
	defs, err := scanMetadata[storage.Definition](c.metadata, childPrefix(TableMetaPrefix, database))
	if err != nil {
		return err
	}
	for _, def := range defs {
		table, err := c.factory.Open(*def)
		if err != nil {
			return errors.Wrapf(err, "open detached table %s.%s", database, def.Name)
		}
		table.Shutdown()
		if err = table.Drop(); err != nil {
			return errors.Wrapf(err, "drop detached table %s.%s", database, def.Name)
		}
		c.forgetTable(def.UUID)
		logger.Debugw("detached table dropped with its database", "database", database, "table", def.Name)
	}
	dicts, err := scanMetadata[DictionaryMeta](c.metadata, childPrefix(DictionaryMetaPrefix, database))
	if err != nil {
		return err
	}
	for _, dict := range dicts {
		c.forgetTable(dict.UUID)
	}
	return nil
}

func (c *DatabaseCatalog) releaseReplica(db Database, remove bool) {
	if c.replicas == nil || !db.ReplicatesMutations() {
		return
	}
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		if err := c.replicas.ReleaseReplica(db.Name(), remove); err != nil {
			logger.Errorf("release replica of %s: %v", db.Name(), err)
		}
	}()
}

// Load attaches every persisted database that is not attached yet, with its tables and
// dictionaries, and requeues tables that were dropped but not reclaimed.
func (c *DatabaseCatalog) Load(ctx context.Context) error {
	metas, err := scanMetadata[DatabaseMeta](c.metadata, []byte{MetadataPrefix, DatabaseMetaPrefix})
	if err != nil {
		return err
	}
	for _, meta := range metas {
		if c.TryGetDatabase(meta.Name) != nil {
			continue
		}
		db, err := c.loadDatabase(*meta)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.databases[meta.Name] = db
		c.mu.Unlock()
		if err = db.Startup(ctx, c.stateMachine()); err != nil {
			return err
		}
		logger.Infow("database loaded", "database", meta.Name, "engine", meta.Engine, "tables", len(db.TableNames()))
	}

	dropped, err := scanMetadata[DroppedTableMeta](c.metadata, []byte{MetadataPrefix, DroppedTableMetaPrefix})
	if err != nil {
		return err
	}
	for _, meta := range dropped {
		table, err := c.factory.Open(meta.Definition)
		if err != nil {
			return errors.Wrapf(err, "reopen dropped table %s.%s", meta.Database, meta.Definition.Name)
		}
		c.enqueue(StorageID{Database: meta.Database, Table: meta.Definition.Name, UUID: meta.Definition.UUID}, table, time.Time{})
	}
	return nil
}

func (c *DatabaseCatalog) loadDatabase(meta DatabaseMeta) (Database, error) {
	db, set, err := c.newDatabase(meta)
	if err != nil {
		return nil, err
	}
	defs, err := scanMetadata[storage.Definition](c.metadata, childPrefix(TableMetaPrefix, meta.Name))
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		table, err := c.factory.Open(*def)
		if err != nil {
			return nil, errors.Wrapf(err, "load table %s.%s", meta.Name, def.Name)
		}
		set.attachTable(table)
	}
	dicts, err := scanMetadata[DictionaryMeta](c.metadata, childPrefix(DictionaryMetaPrefix, meta.Name))
	if err != nil {
		return nil, err
	}
	for _, dict := range dicts {
		set.attachDictionary(*dict)
	}
	return db, nil
}

func (c *DatabaseCatalog) registerTable(id StorageID) {
	c.uuidMu.Lock()
	defer c.uuidMu.Unlock()
	c.uuids[id.UUID] = &tableRecord{id: id}
}

func (c *DatabaseCatalog) markTableDetached(id uuid.UUID) {
	c.uuidMu.Lock()
	defer c.uuidMu.Unlock()
	if record, ok := c.uuids[id]; ok {
		record.detached = true
	}
}

func (c *DatabaseCatalog) forgetTable(id uuid.UUID) {
	c.uuidMu.Lock()
	defer c.uuidMu.Unlock()
	delete(c.uuids, id)
}

// Close shuts every database down and waits for their replicas to be released. Tables still
// pending disposal stay queued in the metadata and are reclaimed after the next Load.
func (c *DatabaseCatalog) Close() {
	c.mu.Lock()
	dbs := make([]Database, 0, len(c.databases))
	for _, db := range c.databases {
		dbs = append(dbs, db)
	}
	c.databases = make(map[string]Database)
	c.mu.Unlock()

	for _, db := range dbs {
		db.Shutdown()
		c.releaseReplica(db, false)
	}
	c.background.Wait()
}
