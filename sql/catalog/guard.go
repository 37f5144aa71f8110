package catalog

import (
	"sync"
	"time"

	"cabbageDDL/metrics"
)

// GuardRegistry hands out one mutual-exclusion entry per (database, name). Entries are
// created on first use and removed when the last holder or waiter lets go, so unrelated names
// never contend. Each database also has a reader/writer lock: name guards hold it shared and
// the exclusive database guard holds it exclusively.
type GuardRegistry struct {
	mu        sync.Mutex
	databases map[string]*databaseGuards
}

type databaseGuards struct {
	rw    sync.RWMutex
	names map[string]*guardEntry
	refs  int
}

type guardEntry struct {
	mu   sync.Mutex
	refs int
}

func NewGuardRegistry() *GuardRegistry {
	return &GuardRegistry{databases: make(map[string]*databaseGuards)}
}

// DDLGuard is held for the duration of one structural operation on a name. A guard with an
// empty name is a database guard and does not take the database lock shared.
type DDLGuard struct {
	registry *GuardRegistry
	database string
	name     string
	db       *databaseGuards
	entry    *guardEntry
	once     sync.Once
}

func (r *GuardRegistry) acquireEntry(database, name string) (*databaseGuards, *guardEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	db, ok := r.databases[database]
	if !ok {
		db = &databaseGuards{names: make(map[string]*guardEntry)}
		r.databases[database] = db
	}
	entry, ok := db.names[name]
	if !ok {
		entry = &guardEntry{}
		db.names[name] = entry
	}
	entry.refs++
	db.refs++
	return db, entry
}

func (r *GuardRegistry) releaseEntry(database, name string, db *databaseGuards, entry *guardEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(db.names, name)
	}
	db.refs--
	if db.refs == 0 {
		delete(r.databases, database)
	}
}

// Guard blocks until the (database, name) entry is free.
func (r *GuardRegistry) Guard(database, name string) *DDLGuard {
	start := time.Now()
	db, entry := r.acquireEntry(database, name)
	entry.mu.Lock()
	if name != "" {
		db.rw.RLock()
	}
	metrics.GuardWait.Observe(time.Since(start).Seconds())
	return &DDLGuard{registry: r, database: database, name: name, db: db, entry: entry}
}

// Release is idempotent.
func (g *DDLGuard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		if g.name != "" {
			g.db.rw.RUnlock()
		}
		g.entry.mu.Unlock()
		g.registry.releaseEntry(g.database, g.name, g.db, g.entry)
	})
}

func (g *DDLGuard) Database() string {
	return g.database
}

func (g *DDLGuard) Name() string {
	return g.name
}

// ExclusiveGuard blocks every name guard of one database.
type ExclusiveGuard struct {
	registry *GuardRegistry
	database string
	db       *databaseGuards
	entry    *guardEntry
	once     sync.Once
}

// Exclusive waits for all name guards of database to be released and keeps new ones out
// until the returned guard is released. The entry of the database guard ("") is pinned so the
// lock survives while no name guard exists.
func (r *GuardRegistry) Exclusive(database string) *ExclusiveGuard {
	db, entry := r.acquireEntry(database, "")
	db.rw.Lock()
	return &ExclusiveGuard{registry: r, database: database, db: db, entry: entry}
}

func (g *ExclusiveGuard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		g.db.rw.Unlock()
		g.registry.releaseEntry(g.database, "", g.db, g.entry)
	})
}

// Len returns the number of live (database, name) entries.
func (r *GuardRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, db := range r.databases {
		n += len(db.names)
	}
	return n
}
