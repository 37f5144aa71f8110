package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"cabbageDDL/ddlerr"
	"cabbageDDL/log"
	"cabbageDDL/sql/ast"
	"cabbageDDL/storage"
	"cabbageDDL/util"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Variant tags the few behaviours that differ between database engines.
type Variant uint8

const (
	VariantOrdinary Variant = iota + 1
	// VariantAtomic tracks tables by UUID and reclaims dropped tables in the background.
	VariantAtomic
	// VariantReplicated is Atomic with structural mutations ordered through a replicated log.
	VariantReplicated
)

func (v Variant) String() string {
	switch v {
	case VariantOrdinary:
		return "Ordinary"
	case VariantAtomic:
		return "Atomic"
	case VariantReplicated:
		return "Replicated"
	}
	return "Unknown"
}

func ParseVariant(engine string) (Variant, error) {
	switch strings.ToLower(engine) {
	case "ordinary":
		return VariantOrdinary, nil
	case "atomic", "":
		return VariantAtomic, nil
	case "replicated":
		return VariantReplicated, nil
	}
	return 0, ddlerr.New(ddlerr.NotSupported, "Unknown database engine %s", engine)
}

// SerializesTableAccess reports whether the engine already serializes structural access to
// its tables, which makes an exclusive table lock redundant for DETACH and DROP.
func (v Variant) SerializesTableAccess() bool {
	return v == VariantAtomic || v == VariantReplicated
}

// StorageID names a table. UUID is the stable identity and stays valid after the name is reused.
type StorageID struct {
	Database string
	Table    string
	UUID     uuid.UUID
}

func (id StorageID) String() string {
	if id.UUID == uuid.Nil {
		return id.Database + "." + id.Table
	}
	return id.Database + "." + id.Table + " (" + id.UUID.String() + ")"
}

// ReplicatedMutation is the command appended to a database's replicated log.
type ReplicatedMutation struct {
	ID      uuid.UUID
	User    string
	QueryID string
	Stmt    ast.DropStmt
}

func (m *ReplicatedMutation) Encode() ([]byte, error) {
	return util.GobEncode(m)
}

func DecodeMutation(command []byte) (*ReplicatedMutation, error) {
	m := &ReplicatedMutation{}
	if err := util.GobDecode(command, m); err != nil {
		return nil, err
	}
	return m, nil
}

type Database interface {
	Name() string
	UUID() uuid.UUID
	Variant() Variant

	ShouldBeEmptyOnDetach() bool
	ReplicatesMutations() bool
	Propose(ctx context.Context, mutation *ReplicatedMutation) (*log.Feedback, error)

	IsTableExist(name string) bool
	TryGetTable(name string) storage.Table
	TableNames() []string
	IsDictionaryExist(name string) bool
	TryGetDictionary(name string) *Dictionary
	DictionaryNames() []string
	Empty() bool

	CreateTable(def storage.Definition) (storage.Table, error)
	DetachTable(name string) (storage.Table, error)
	DropTable(ctx context.Context, name string) error
	CreateDictionary(meta DictionaryMeta) (*Dictionary, error)
	DetachDictionary(name string) error
	RemoveDictionary(name string) error

	AssertCanBeDetached(cleanup bool) error
	WaitDetachedTableNotInUse(ctx context.Context, id uuid.UUID) error

	Startup(ctx context.Context, sm log.StateMachine) error
	Shutdown()
}

type tableSet struct {
	mu           sync.RWMutex
	name         string
	id           uuid.UUID
	tables       map[string]storage.Table
	dictionaries map[string]*Dictionary
	catalog      *DatabaseCatalog
}

func newTableSet(catalog *DatabaseCatalog, meta DatabaseMeta) tableSet {
	return tableSet{
		name:         meta.Name,
		id:           meta.UUID,
		tables:       make(map[string]storage.Table),
		dictionaries: make(map[string]*Dictionary),
		catalog:      catalog,
	}
}

func (s *tableSet) Name() string {
	return s.name
}

func (s *tableSet) UUID() uuid.UUID {
	return s.id
}

func (s *tableSet) ShouldBeEmptyOnDetach() bool {
	return true
}

func (s *tableSet) ReplicatesMutations() bool {
	return false
}

func (s *tableSet) Propose(context.Context, *ReplicatedMutation) (*log.Feedback, error) {
	return nil, ddlerr.New(ddlerr.NotSupported, "Database %s does not replicate mutations", s.name)
}

func (s *tableSet) IsTableExist(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tables[name]
	return ok
}

func (s *tableSet) TryGetTable(name string) storage.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables[name]
}

func (s *tableSet) TableNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *tableSet) IsDictionaryExist(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dictionaries[name]
	return ok
}

func (s *tableSet) TryGetDictionary(name string) *Dictionary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dictionaries[name]
}

func (s *tableSet) DictionaryNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.dictionaries))
	for name := range s.dictionaries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *tableSet) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables) == 0 && len(s.dictionaries) == 0
}

func (s *tableSet) attachTable(table storage.Table) {
	s.mu.Lock()
	s.tables[table.Name()] = table
	s.mu.Unlock()
	s.catalog.registerTable(StorageID{Database: s.name, Table: table.Name(), UUID: table.UUID()})
}

func (s *tableSet) CreateTable(def storage.Definition) (storage.Table, error) {
	if err := validateName("table", def.Name); err != nil {
		return nil, err
	}
	if def.UUID == uuid.Nil {
		def.UUID = uuid.New()
	}
	if def.Engine == "" {
		def.Engine = storage.EngineKV
	}
	if def.Engine == storage.EngineDictionary {
		return nil, ddlerr.New(ddlerr.SyntaxError, "Table %s.%s: use CREATE DICTIONARY for dictionary tables", s.name, def.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[def.Name]; ok {
		return nil, ddlerr.New(ddlerr.AlreadyExists, "Table %s.%s already exists", s.name, def.Name)
	}
	if exists, err := s.catalog.tableMetadataExists(s.name, def.Name); err != nil {
		return nil, err
	} else if exists {
		return nil, ddlerr.New(ddlerr.AlreadyExists, "Table %s.%s is detached, its metadata still exists", s.name, def.Name)
	}
	table, err := s.catalog.factory.Open(def)
	if err != nil {
		return nil, err
	}
	if err = s.catalog.saveTable(s.name, def); err != nil {
		return nil, err
	}
	s.tables[def.Name] = table
	s.catalog.registerTable(StorageID{Database: s.name, Table: def.Name, UUID: def.UUID})
	return table, nil
}

// detachTable removes the in-memory registration only.
func (s *tableSet) detachTable(name string) (storage.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.tables[name]
	if !ok {
		return nil, ddlerr.New(ddlerr.UnknownTarget, "Table %s.%s doesn't exist", s.name, name)
	}
	if _, ok = s.dictionaries[name]; ok {
		return nil, ddlerr.New(ddlerr.CannotDetach, "Cannot detach dictionary %s.%s as table, use DETACH DICTIONARY", s.name, name)
	}
	delete(s.tables, name)
	s.catalog.markTableDetached(table.UUID())
	return table, nil
}

// unregisterTable removes the registration and the metadata of a dropped table.
func (s *tableSet) unregisterTable(name string) (storage.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.tables[name]
	if !ok {
		return nil, ddlerr.New(ddlerr.UnknownTarget, "Table %s.%s doesn't exist", s.name, name)
	}
	if _, ok = s.dictionaries[name]; ok {
		return nil, ddlerr.New(ddlerr.CannotDrop, "Cannot drop table %s.%s, it belongs to a dictionary, use DROP DICTIONARY", s.name, name)
	}
	if err := s.catalog.removeTableMetadata(s.name, name); err != nil {
		return nil, err
	}
	delete(s.tables, name)
	return table, nil
}

func (s *tableSet) attachDictionary(meta DictionaryMeta) *Dictionary {
	dict := newDictionary(s, meta)
	s.mu.Lock()
	s.dictionaries[meta.Name] = dict
	s.tables[meta.Name] = dict.Table
	s.mu.Unlock()
	s.catalog.registerTable(StorageID{Database: s.name, Table: meta.Name, UUID: meta.UUID})
	return dict
}

func (s *tableSet) CreateDictionary(meta DictionaryMeta) (*Dictionary, error) {
	if err := validateName("dictionary", meta.Name); err != nil {
		return nil, err
	}
	if meta.UUID == uuid.Nil {
		meta.UUID = uuid.New()
	}
	s.mu.RLock()
	_, taken := s.tables[meta.Name]
	s.mu.RUnlock()
	if taken {
		return nil, ddlerr.New(ddlerr.AlreadyExists, "Dictionary %s.%s conflicts with an existing table or dictionary", s.name, meta.Name)
	}
	if exists, err := s.catalog.dictionaryMetadataExists(s.name, meta.Name); err != nil {
		return nil, err
	} else if exists {
		return nil, ddlerr.New(ddlerr.AlreadyExists, "Dictionary %s.%s is detached, its metadata still exists", s.name, meta.Name)
	}
	if err := s.catalog.saveDictionary(s.name, meta); err != nil {
		return nil, err
	}
	return s.attachDictionary(meta), nil
}

func (s *tableSet) takeDictionary(name string) (*Dictionary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dict, ok := s.dictionaries[name]
	if !ok {
		return nil, ddlerr.New(ddlerr.UnknownTarget, "Dictionary %s.%s doesn't exist", s.name, name)
	}
	delete(s.dictionaries, name)
	delete(s.tables, name)
	return dict, nil
}

// DetachDictionary unloads the dictionary and its table. Metadata is kept.
func (s *tableSet) DetachDictionary(name string) error {
	dict, err := s.takeDictionary(name)
	if err != nil {
		return err
	}
	dict.Table.Shutdown()
	s.catalog.markTableDetached(dict.UUID)
	return nil
}

// RemoveDictionary unloads the dictionary and deletes its metadata.
func (s *tableSet) RemoveDictionary(name string) error {
	if err := s.catalog.removeDictionaryMetadata(s.name, name); err != nil {
		return err
	}
	dict, err := s.takeDictionary(name)
	if err != nil {
		return err
	}
	dict.Table.Shutdown()
	if err = dict.Table.Drop(); err != nil {
		return errors.Wrapf(err, "drop table of dictionary %s.%s", s.name, name)
	}
	s.catalog.forgetTable(dict.UUID)
	return nil
}

func (s *tableSet) AssertCanBeDetached(bool) error {
	return nil
}

func (s *tableSet) WaitDetachedTableNotInUse(context.Context, uuid.UUID) error {
	return nil
}

func (s *tableSet) Startup(context.Context, log.StateMachine) error {
	return nil
}

func (s *tableSet) Shutdown() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, table := range s.tables {
		table.Shutdown()
	}
}

// OrdinaryDatabase drops table data synchronously.
type OrdinaryDatabase struct {
	tableSet
}

func (db *OrdinaryDatabase) Variant() Variant {
	return VariantOrdinary
}

func (db *OrdinaryDatabase) DetachTable(name string) (storage.Table, error) {
	return db.detachTable(name)
}

func (db *OrdinaryDatabase) DropTable(_ context.Context, name string) error {
	table, err := db.unregisterTable(name)
	if err != nil {
		return err
	}
	if err = table.Drop(); err != nil {
		return errors.Wrapf(err, "drop data of %s.%s", db.name, name)
	}
	db.catalog.forgetTable(table.UUID())
	return nil
}

// AtomicDatabase hands dropped tables to the catalog's reclaimer and keeps track of detached
// tables that may still be referenced by running queries.
type AtomicDatabase struct {
	tableSet
	detachedMu sync.Mutex
	detached   map[uuid.UUID]storage.Table
}

func newAtomicDatabase(catalog *DatabaseCatalog, meta DatabaseMeta) *AtomicDatabase {
	return &AtomicDatabase{tableSet: newTableSet(catalog, meta), detached: make(map[uuid.UUID]storage.Table)}
}

func (db *AtomicDatabase) Variant() Variant {
	return VariantAtomic
}

func (db *AtomicDatabase) DetachTable(name string) (storage.Table, error) {
	table, err := db.detachTable(name)
	if err != nil {
		return nil, err
	}
	db.detachedMu.Lock()
	db.detached[table.UUID()] = table
	db.detachedMu.Unlock()
	return table, nil
}

func (db *AtomicDatabase) DropTable(_ context.Context, name string) error {
	table, err := db.unregisterTable(name)
	if err != nil {
		return err
	}
	return db.catalog.EnqueueDroppedTable(StorageID{Database: db.name, Table: name, UUID: table.UUID()}, table)
}

// AssertCanBeDetached fails while a detached table is still referenced. With cleanup, detached
// tables that are no longer referenced are forgotten first.
func (db *AtomicDatabase) AssertCanBeDetached(cleanup bool) error {
	db.detachedMu.Lock()
	defer db.detachedMu.Unlock()
	if cleanup {
		for id, table := range db.detached {
			if table.InUse() == 0 {
				delete(db.detached, id)
			}
		}
	}
	if len(db.detached) == 0 {
		return nil
	}
	names := make([]string, 0, len(db.detached))
	for _, table := range db.detached {
		names = append(names, table.Name())
	}
	sort.Strings(names)
	return ddlerr.New(ddlerr.CannotDetach,
		"Database %s cannot be detached, because some tables are still in use: %s", db.name, strings.Join(names, ", "))
}

const detachedPollInterval = 10 * time.Millisecond

func (db *AtomicDatabase) WaitDetachedTableNotInUse(ctx context.Context, id uuid.UUID) error {
	ticker := time.NewTicker(detachedPollInterval)
	defer ticker.Stop()
	for {
		db.detachedMu.Lock()
		table, ok := db.detached[id]
		if !ok || table.InUse() == 0 {
			delete(db.detached, id)
			db.detachedMu.Unlock()
			return nil
		}
		db.detachedMu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ReplicatedDatabase orders table mutations through its replica's log.
type ReplicatedDatabase struct {
	*AtomicDatabase
	replica *log.Replica
}

func (db *ReplicatedDatabase) Variant() Variant {
	return VariantReplicated
}

func (db *ReplicatedDatabase) ReplicatesMutations() bool {
	return true
}

func (db *ReplicatedDatabase) Propose(ctx context.Context, mutation *ReplicatedMutation) (*log.Feedback, error) {
	if mutation.ID == uuid.Nil {
		mutation.ID = uuid.New()
	}
	command, err := mutation.Encode()
	if err != nil {
		return nil, err
	}
	return db.replica.Propose(ctx, command)
}

func (db *ReplicatedDatabase) Replica() *log.Replica {
	return db.replica
}

// Startup replays committed entries that were not applied before the last shutdown.
func (db *ReplicatedDatabase) Startup(ctx context.Context, sm log.StateMachine) error {
	if sm == nil {
		return ddlerr.New(ddlerr.Replication, "Database %s: no state machine to apply its log", db.name)
	}
	return db.replica.Start(ctx, sm)
}

// Shutdown stops accepting proposals. Entries already committed are still applied; the
// catalog releases the replica once its driver has drained.
func (db *ReplicatedDatabase) Shutdown() {
	db.replica.Stop()
	db.AtomicDatabase.Shutdown()
}

func validateName(kind, name string) error {
	if name == "" {
		return ddlerr.New(ddlerr.MalformedRequest, "empty %s name", kind)
	}
	if strings.IndexByte(name, 0) >= 0 {
		return ddlerr.New(ddlerr.MalformedRequest, "%s name %q contains a zero byte", kind, name)
	}
	return nil
}
