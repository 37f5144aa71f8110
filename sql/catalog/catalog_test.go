package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cabbageDDL/bitcask"
	"cabbageDDL/ddlerr"
	"cabbageDDL/log"
	"cabbageDDL/sql/ast"
	"cabbageDDL/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	dir     string
	store   *bitcask.BitCask
	catalog *DatabaseCatalog
}

func openEnv(t *testing.T, dir string, sm log.StateMachine) *testEnv {
	t.Helper()
	store, err := bitcask.NewBitCask(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	replicas, err := NewFileReplicas(filepath.Join(dir, "replicas"), "n1")
	require.NoError(t, err)
	c, err := NewDatabaseCatalog(Config{
		Metadata:     store,
		Factory:      &storage.Factory{KV: store},
		Replicas:     replicas,
		ReclaimDelay: time.Hour,
	})
	require.NoError(t, err)
	c.SetStateMachine(sm)
	require.NoError(t, c.Load(context.Background()))
	return &testEnv{dir: dir, store: store, catalog: c}
}

func (e *testEnv) close(t *testing.T) {
	e.catalog.Close()
	require.NoError(t, e.store.Close())
}

func newEnv(t *testing.T) *testEnv {
	e := openEnv(t, t.TempDir(), nil)
	t.Cleanup(func() { e.close(t) })
	return e
}

func TestCreateDatabaseAndTable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	db, err := e.catalog.CreateDatabase(ctx, "db", VariantOrdinary)
	require.NoError(t, err)
	assert.Equal(t, VariantOrdinary, db.Variant())
	assert.False(t, db.Variant().SerializesTableAccess())

	_, err = e.catalog.CreateDatabase(ctx, "db", VariantAtomic)
	assert.True(t, ddlerr.Is(err, ddlerr.AlreadyExists))
	_, err = e.catalog.CreateDatabase(ctx, "", VariantAtomic)
	assert.True(t, ddlerr.Is(err, ddlerr.MalformedRequest))

	table, err := e.catalog.CreateTable(ctx, "db", storage.Definition{Name: "t"})
	require.NoError(t, err)
	assert.Equal(t, storage.EngineKV, table.Engine())
	assert.NotEqual(t, uuid.Nil, table.UUID())
	_, err = e.catalog.CreateTable(ctx, "db", storage.Definition{Name: "t"})
	assert.True(t, ddlerr.Is(err, ddlerr.AlreadyExists))
	_, err = e.catalog.CreateTable(ctx, "missing", storage.Definition{Name: "t"})
	assert.True(t, ddlerr.Is(err, ddlerr.UnknownTarget))

	gotDB, got := e.catalog.TryGetDatabaseAndTable("db", "t")
	require.NotNil(t, got)
	assert.Equal(t, db, gotDB)
	assert.Equal(t, int32(1), got.InUse())
	got.Release()

	assert.True(t, e.catalog.IsTableExist("db", "t"))
	assert.False(t, e.catalog.IsTableExist("db", "nope"))
	assert.Equal(t, TableLive, e.catalog.TableState(table.UUID()))
	assert.Equal(t, []string{"db"}, e.catalog.DatabaseNames())

	_, err = e.catalog.GetDatabase("nope")
	assert.True(t, ddlerr.Is(err, ddlerr.UnknownTarget))
}

func TestOrdinaryDropIsSynchronous(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	db, err := e.catalog.CreateDatabase(ctx, "db", VariantOrdinary)
	require.NoError(t, err)
	table, err := e.catalog.CreateTable(ctx, "db", storage.Definition{Name: "t"})
	require.NoError(t, err)
	require.NoError(t, table.Insert([]byte("row")))

	require.NoError(t, db.DropTable(ctx, "t"))
	assert.True(t, table.IsDropped())
	assert.False(t, db.IsTableExist("t"))
	assert.Equal(t, TableReclaimed, e.catalog.TableState(table.UUID()))
	assert.Equal(t, 0, e.catalog.PendingDisposal())

	err = db.DropTable(ctx, "t")
	assert.True(t, ddlerr.Is(err, ddlerr.UnknownTarget))
}

func TestAtomicDropWaitsForReferences(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	db, err := e.catalog.CreateDatabase(ctx, "db", VariantAtomic)
	require.NoError(t, err)
	table, err := e.catalog.CreateTable(ctx, "db", storage.Definition{Name: "t", Engine: storage.EngineMemory})
	require.NoError(t, err)

	_, held := e.catalog.TryGetDatabaseAndTable("db", "t")
	require.NotNil(t, held)
	require.NoError(t, db.DropTable(ctx, "t"))
	assert.Equal(t, TablePendingDisposal, e.catalog.TableState(table.UUID()))
	assert.Equal(t, 0, e.catalog.ReclaimReady(true))

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	err = e.catalog.WaitTableFinallyDropped(short, table.UUID())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, TablePendingDisposal, e.catalog.TableState(table.UUID()))

	go func() {
		time.Sleep(20 * time.Millisecond)
		held.Release()
	}()
	require.NoError(t, e.catalog.WaitTableFinallyDropped(ctx, table.UUID()))
	assert.Equal(t, TableReclaimed, e.catalog.TableState(table.UUID()))
	assert.True(t, table.IsDropped())
	assert.NoError(t, e.catalog.WaitTableFinallyDropped(ctx, table.UUID()))
}

func TestReclaimerHonorsDelay(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	db, err := e.catalog.CreateDatabase(ctx, "db", VariantAtomic)
	require.NoError(t, err)
	table, err := e.catalog.CreateTable(ctx, "db", storage.Definition{Name: "t", Engine: storage.EngineMemory})
	require.NoError(t, err)
	require.NoError(t, db.DropTable(ctx, "t"))

	assert.Equal(t, 0, e.catalog.ReclaimReady(false))
	e.catalog.reclaim.delay = 0
	runCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = e.catalog.RunReclaimer(runCtx, 5*time.Millisecond)
	}()
	assert.Eventually(t, func() bool {
		return e.catalog.TableState(table.UUID()) == TableReclaimed
	}, time.Second, 5*time.Millisecond)
	stop()
	wg.Wait()
}

func TestAtomicDetachTracksReferences(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	db, err := e.catalog.CreateDatabase(ctx, "db", VariantAtomic)
	require.NoError(t, err)
	table, err := e.catalog.CreateTable(ctx, "db", storage.Definition{Name: "t", Engine: storage.EngineMemory})
	require.NoError(t, err)

	_, held := e.catalog.TryGetDatabaseAndTable("db", "t")
	_, err = db.DetachTable("t")
	require.NoError(t, err)
	assert.Equal(t, TableDetached, e.catalog.TableState(table.UUID()))
	assert.True(t, ddlerr.Is(db.AssertCanBeDetached(true), ddlerr.CannotDetach))

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, db.WaitDetachedTableNotInUse(short, table.UUID()), context.DeadlineExceeded)

	held.Release()
	require.NoError(t, db.WaitDetachedTableNotInUse(ctx, table.UUID()))
	assert.NoError(t, db.AssertCanBeDetached(false))
}

func TestDictionaryCompanionTable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	db, err := e.catalog.CreateDatabase(ctx, "db", VariantAtomic)
	require.NoError(t, err)
	dict, err := e.catalog.CreateDictionary(ctx, "db", DictionaryMeta{Name: "d", Source: "db.src"})
	require.NoError(t, err)

	assert.True(t, db.IsTableExist("d"))
	assert.True(t, e.catalog.IsDictionaryExist("db", "d"))
	assert.True(t, ddlerr.Is(dict.Table.CheckTableCanBeDropped(), ddlerr.CannotDrop))
	assert.True(t, ddlerr.Is(db.DropTable(ctx, "d"), ddlerr.CannotDrop))
	_, err = db.DetachTable("d")
	assert.True(t, ddlerr.Is(err, ddlerr.CannotDetach))

	_, err = e.catalog.CreateTable(ctx, "db", storage.Definition{Name: "d"})
	assert.True(t, ddlerr.Is(err, ddlerr.AlreadyExists))

	require.NoError(t, db.RemoveDictionary("d"))
	assert.False(t, db.IsTableExist("d"))
	assert.False(t, db.IsDictionaryExist("d"))
	assert.True(t, dict.Table.IsDropped())
	assert.Equal(t, TableReclaimed, e.catalog.TableState(dict.UUID))
	assert.True(t, db.Empty())
}

func TestDetachedObjectsReattachOnLoad(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	e := openEnv(t, dir, nil)

	db, err := e.catalog.CreateDatabase(ctx, "db", VariantAtomic)
	require.NoError(t, err)
	_, err = e.catalog.CreateTable(ctx, "db", storage.Definition{Name: "kept", Engine: storage.EngineMemory})
	require.NoError(t, err)
	detached, err := e.catalog.CreateTable(ctx, "db", storage.Definition{Name: "detached"})
	require.NoError(t, err)
	require.NoError(t, detached.Insert([]byte("a"), []byte("b")))
	dropped, err := e.catalog.CreateTable(ctx, "db", storage.Definition{Name: "dropped"})
	require.NoError(t, err)
	require.NoError(t, dropped.Insert([]byte("x")))
	_, err = e.catalog.CreateDictionary(ctx, "db", DictionaryMeta{Name: "dict"})
	require.NoError(t, err)

	_, err = db.DetachTable("detached")
	require.NoError(t, err)
	require.NoError(t, db.DetachDictionary("dict"))
	require.NoError(t, db.DropTable(ctx, "dropped"))
	_, err = e.catalog.CreateTable(ctx, "db", storage.Definition{Name: "detached"})
	assert.True(t, ddlerr.Is(err, ddlerr.AlreadyExists))
	e.close(t)

	e = openEnv(t, dir, nil)
	defer e.close(t)
	db, err = e.catalog.GetDatabase("db")
	require.NoError(t, err)
	assert.Equal(t, []string{"detached", "dict", "kept"}, db.TableNames())
	assert.Equal(t, []string{"dict"}, db.DictionaryNames())
	rows, err := db.TryGetTable("detached").TotalRows()
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	assert.Equal(t, TablePendingDisposal, e.catalog.TableState(dropped.UUID()))
	require.NoError(t, e.catalog.WaitTableFinallyDropped(ctx, dropped.UUID()))
	assert.Equal(t, TableReclaimed, e.catalog.TableState(dropped.UUID()))
}

func TestDetachDatabase(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	e := openEnv(t, dir, nil)

	_, err := e.catalog.CreateDatabase(ctx, "db", VariantOrdinary)
	require.NoError(t, err)
	_, err = e.catalog.CreateTable(ctx, "db", storage.Definition{Name: "t"})
	require.NoError(t, err)

	err = e.catalog.DetachDatabase(ctx, "db", true, true)
	assert.True(t, ddlerr.Is(err, ddlerr.CannotDrop))
	err = e.catalog.DetachDatabase(ctx, "db", false, true)
	assert.True(t, ddlerr.Is(err, ddlerr.CannotDetach))

	_, err = e.catalog.CreateDatabase(ctx, "empty", VariantAtomic)
	require.NoError(t, err)
	require.NoError(t, e.catalog.DetachDatabase(ctx, "empty", false, true))
	assert.Nil(t, e.catalog.TryGetDatabase("empty"))
	_, err = e.catalog.CreateDatabase(ctx, "empty", VariantAtomic)
	assert.True(t, ddlerr.Is(err, ddlerr.AlreadyExists))

	require.NoError(t, e.catalog.DetachDatabase(ctx, "db", true, false))
	assert.True(t, ddlerr.Is(e.catalog.DetachDatabase(ctx, "db", true, false), ddlerr.UnknownTarget))
	e.close(t)

	e = openEnv(t, dir, nil)
	defer e.close(t)
	assert.Equal(t, []string{"empty"}, e.catalog.DatabaseNames())
}

func TestDropDatabaseDropsDetachedObjects(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	e := openEnv(t, dir, nil)

	db, err := e.catalog.CreateDatabase(ctx, "db", VariantOrdinary)
	require.NoError(t, err)
	table, err := e.catalog.CreateTable(ctx, "db", storage.Definition{Name: "t"})
	require.NoError(t, err)
	require.NoError(t, table.Insert([]byte("a"), []byte("b")))
	dict, err := e.catalog.CreateDictionary(ctx, "db", DictionaryMeta{Name: "d"})
	require.NoError(t, err)

	_, err = db.DetachTable("t")
	require.NoError(t, err)
	require.NoError(t, db.DetachDictionary("d"))
	require.True(t, db.Empty())
	require.NoError(t, e.catalog.DetachDatabase(ctx, "db", true, true))

	rows, err := e.store.ScanPrefix([]byte{storage.DataKeyPrefix})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, TableReclaimed, e.catalog.TableState(table.UUID()))
	assert.Equal(t, TableReclaimed, e.catalog.TableState(dict.UUID))
	e.close(t)

	e = openEnv(t, dir, nil)
	defer e.close(t)
	assert.Empty(t, e.catalog.DatabaseNames())
	_, err = e.catalog.CreateDatabase(ctx, "db", VariantOrdinary)
	require.NoError(t, err)
	_, err = e.catalog.CreateTable(ctx, "db", storage.Definition{Name: "t"})
	assert.NoError(t, err)
}

func TestCreateDictionaryRejectsDetachedName(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	db, err := e.catalog.CreateDatabase(ctx, "db", VariantAtomic)
	require.NoError(t, err)
	_, err = e.catalog.CreateDictionary(ctx, "db", DictionaryMeta{Name: "d"})
	require.NoError(t, err)

	require.NoError(t, db.DetachDictionary("d"))
	assert.False(t, db.IsDictionaryExist("d"))
	_, err = e.catalog.CreateDictionary(ctx, "db", DictionaryMeta{Name: "d"})
	assert.True(t, ddlerr.Is(err, ddlerr.AlreadyExists))

	_, err = e.catalog.CreateDictionary(ctx, "db", DictionaryMeta{Name: "other"})
	assert.NoError(t, err)
}

type mutationRecorder struct {
	mu        sync.Mutex
	mutations []*ReplicatedMutation
}

func (r *mutationRecorder) Apply(_ context.Context, entry *log.Entry) error {
	m, err := DecodeMutation(entry.Command)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations = append(r.mutations, m)
	return nil
}

func TestReplicatedDatabaseProposes(t *testing.T) {
	sm := &mutationRecorder{}
	e := openEnv(t, t.TempDir(), sm)
	defer e.close(t)
	ctx := context.Background()

	db, err := e.catalog.CreateDatabase(ctx, "rdb", VariantReplicated)
	require.NoError(t, err)
	assert.True(t, db.ReplicatesMutations())
	assert.True(t, db.Variant().SerializesTableAccess())

	stmt := ast.DropStmt{Kind: ast.DropKindDrop, Database: "rdb", Table: "t"}
	feedback, err := db.Propose(ctx, &ReplicatedMutation{User: "alice", QueryID: "q1", Stmt: stmt})
	require.NoError(t, err)
	rows, err := feedback.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, log.StatusApplied, rows[len(rows)-1].Status)
	assert.Equal(t, "n1/rdb", rows[0].Replica)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	require.Len(t, sm.mutations, 1)
	assert.Equal(t, stmt, sm.mutations[0].Stmt)
	assert.Equal(t, "alice", sm.mutations[0].User)
	assert.NotEqual(t, uuid.Nil, sm.mutations[0].ID)
}

func TestReplicatedDatabaseNeedsStateMachine(t *testing.T) {
	e := newEnv(t)
	_, err := e.catalog.CreateDatabase(context.Background(), "rdb", VariantReplicated)
	assert.True(t, ddlerr.Is(err, ddlerr.Replication))
	assert.Nil(t, e.catalog.TryGetDatabase("rdb"))
}

func TestOrdinaryDoesNotPropose(t *testing.T) {
	e := newEnv(t)
	db, err := e.catalog.CreateDatabase(context.Background(), "db", VariantOrdinary)
	require.NoError(t, err)
	_, err = db.Propose(context.Background(), &ReplicatedMutation{})
	assert.True(t, ddlerr.Is(err, ddlerr.NotSupported))
}

func TestParseVariant(t *testing.T) {
	v, err := ParseVariant("Replicated")
	require.NoError(t, err)
	assert.Equal(t, VariantReplicated, v)
	v, err = ParseVariant("")
	require.NoError(t, err)
	assert.Equal(t, VariantAtomic, v)
	_, err = ParseVariant("Lazy")
	assert.True(t, ddlerr.Is(err, ddlerr.NotSupported))
	assert.Equal(t, "Ordinary", VariantOrdinary.String())
}

func TestSessionTemporaryTables(t *testing.T) {
	s := NewSession("alice", "default")
	table, err := s.CreateTemporaryTable("tmp")
	require.NoError(t, err)
	_, err = s.CreateTemporaryTable("tmp")
	assert.True(t, ddlerr.Is(err, ddlerr.AlreadyExists))

	got := s.TryGetTemporaryTable("tmp")
	require.NotNil(t, got)
	assert.Equal(t, int32(1), got.InUse())
	got.Release()
	assert.Nil(t, s.TryGetTemporaryTable("other"))
	assert.Equal(t, []string{"tmp"}, s.TemporaryTableNames())

	s.Close()
	assert.True(t, table.IsDropped())
	assert.Empty(t, s.TemporaryTableNames())
	_, err = s.RemoveTemporaryTable("tmp")
	assert.True(t, ddlerr.Is(err, ddlerr.UnknownTarget))
}
