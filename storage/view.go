package storage

import (
	"cabbageDDL/ddlerr"

	"github.com/google/uuid"
)

// View has no data of its own.
type View struct {
	tableBase
	Query string
}

func NewView(name string, id uuid.UUID, query string) *View {
	v := &View{Query: query}
	v.init(name, id)
	return v
}

func (v *View) Engine() string {
	return EngineView
}

func (v *View) IsView() bool {
	return true
}

func (v *View) Insert(...[]byte) error {
	return notSupported(EngineView, "INSERT")
}

func (v *View) TotalRows() (int, error) {
	return 0, nil
}

func (v *View) Truncate(*TableLockHolder) error {
	return notSupported(EngineView, "TRUNCATE")
}

func (v *View) Drop() error {
	v.dropped.Store(true)
	return nil
}

// DictionaryTable exposes a dictionary as a read-only table. It lives exactly as long as the
// dictionary and cannot be dropped on its own.
type DictionaryTable struct {
	tableBase
	dictionaryExists func() bool
}

func NewDictionaryTable(name string, id uuid.UUID, dictionaryExists func() bool) *DictionaryTable {
	t := &DictionaryTable{dictionaryExists: dictionaryExists}
	t.init(name, id)
	return t
}

func (t *DictionaryTable) Engine() string {
	return EngineDictionary
}

func (t *DictionaryTable) Insert(...[]byte) error {
	return notSupported(EngineDictionary, "INSERT")
}

func (t *DictionaryTable) TotalRows() (int, error) {
	return 0, nil
}

func (t *DictionaryTable) CheckTableCanBeDropped() error {
	if t.dictionaryExists() {
		return cannotDrop("Cannot detach or drop dictionary %s as table, use DETACH DICTIONARY or DROP DICTIONARY query", t.name)
	}
	return nil
}

func (t *DictionaryTable) Truncate(*TableLockHolder) error {
	return notSupported(EngineDictionary, "TRUNCATE")
}

func (t *DictionaryTable) Drop() error {
	t.dropped.Store(true)
	return nil
}

func cannotDrop(format string, args ...interface{}) error {
	return ddlerr.New(ddlerr.CannotDrop, format, args...)
}
