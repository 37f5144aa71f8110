package catalog

import (
	"cabbageDDL/storage"

	"github.com/google/uuid"
)

type DictionaryMeta struct {
	Name   string
	UUID   uuid.UUID
	Source string
}

// Dictionary is exposed as a table of the same name and UUID. The table cannot be dropped on
// its own while the dictionary exists.
type Dictionary struct {
	Name     string
	UUID     uuid.UUID
	Source   string
	Database string
	Table    *storage.DictionaryTable
}

func newDictionary(db *tableSet, meta DictionaryMeta) *Dictionary {
	dict := &Dictionary{Name: meta.Name, UUID: meta.UUID, Source: meta.Source, Database: db.name}
	dict.Table = storage.NewDictionaryTable(meta.Name, meta.UUID, func() bool {
		return db.TryGetDictionary(meta.Name) == dict
	})
	return dict
}

func (d *Dictionary) Meta() DictionaryMeta {
	return DictionaryMeta{Name: d.Name, UUID: d.UUID, Source: d.Source}
}
