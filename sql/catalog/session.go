package catalog

import (
	"sort"
	"sync"

	"cabbageDDL/ddlerr"
	"cabbageDDL/storage"

	"github.com/google/uuid"
)

// Session holds per-connection state: the user, the current database and the temporary
// tables, which are visible to this session only.
type Session struct {
	ID              uuid.UUID
	User            string
	CurrentDatabase string

	mu        sync.Mutex
	temporary map[string]storage.Table
}

func NewSession(user, database string) *Session {
	return &Session{
		ID:              uuid.New(),
		User:            user,
		CurrentDatabase: database,
		temporary:       make(map[string]storage.Table),
	}
}

// CreateTemporaryTable creates a Memory table owned by the session.
func (s *Session) CreateTemporaryTable(name string) (storage.Table, error) {
	if err := validateName("temporary table", name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.temporary[name]; ok {
		return nil, ddlerr.New(ddlerr.AlreadyExists, "Temporary table %s already exists", name)
	}
	table := storage.NewMemoryTable(name, uuid.New())
	s.temporary[name] = table
	return table, nil
}

// TryGetTemporaryTable returns a retained table or nil.
func (s *Session) TryGetTemporaryTable(name string) storage.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.temporary[name]
	if !ok {
		return nil
	}
	table.Retain()
	return table
}

func (s *Session) RemoveTemporaryTable(name string) (storage.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.temporary[name]
	if !ok {
		return nil, ddlerr.New(ddlerr.UnknownTarget, "Temporary table %s doesn't exist", name)
	}
	delete(s.temporary, name)
	return table, nil
}

func (s *Session) TemporaryTableNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.temporary))
	for name := range s.temporary {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close drops every temporary table of the session.
func (s *Session) Close() {
	s.mu.Lock()
	tables := s.temporary
	s.temporary = make(map[string]storage.Table)
	s.mu.Unlock()
	for _, table := range tables {
		table.Shutdown()
		_ = table.Drop()
	}
}
