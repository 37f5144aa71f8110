package catalog

import (
	"cabbageDDL/storage"
	"cabbageDDL/util"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	MetadataPrefix         byte = 0x0a
	DatabaseMetaPrefix     byte = 0x01
	TableMetaPrefix        byte = 0x02
	DictionaryMetaPrefix   byte = 0x03
	DroppedTableMetaPrefix byte = 0x04
)

type DatabaseMeta struct {
	Name   string
	UUID   uuid.UUID
	Engine string
}

// DroppedTableMeta survives a restart so that a table dropped but not yet reclaimed is
// reclaimed on the next start.
type DroppedTableMeta struct {
	Database   string
	Definition storage.Definition
}

func databaseKey(name string) []byte {
	return util.BufferAppend([]byte{MetadataPrefix, DatabaseMetaPrefix}, []byte(name))
}

func childPrefix(kind byte, database string) []byte {
	return util.BufferAppend([]byte{MetadataPrefix, kind}, []byte(database), []byte{0x00})
}

func childKey(kind byte, database, name string) []byte {
	return util.BufferAppend(childPrefix(kind, database), []byte(name))
}

func droppedKey(id uuid.UUID) []byte {
	return util.BufferAppend([]byte{MetadataPrefix, DroppedTableMetaPrefix}, id[:])
}

func (c *DatabaseCatalog) saveDatabase(meta DatabaseMeta) error {
	value, err := util.GobEncode(&meta)
	if err != nil {
		return err
	}
	return errors.Wrapf(c.metadata.Set(databaseKey(meta.Name), value), "save metadata of database %s", meta.Name)
}

func (c *DatabaseCatalog) databaseMetadataExists(name string) (bool, error) {
	value, err := c.metadata.Get(databaseKey(name))
	return value != nil, err
}

// removeDatabaseMetadata deletes the database and every child definition left under it.
func (c *DatabaseCatalog) removeDatabaseMetadata(name string) error {
	for _, kind := range []byte{TableMetaPrefix, DictionaryMetaPrefix} {
		items, err := c.metadata.ScanPrefix(childPrefix(kind, name))
		if err != nil {
			return err
		}
		for _, item := range items {
			if err = c.metadata.Delete(item.Key); err != nil {
				return err
			}
		}
	}
	return errors.Wrapf(c.metadata.Delete(databaseKey(name)), "remove metadata of database %s", name)
}

func (c *DatabaseCatalog) saveTable(database string, def storage.Definition) error {
	value, err := util.GobEncode(&def)
	if err != nil {
		return err
	}
	return errors.Wrapf(c.metadata.Set(childKey(TableMetaPrefix, database, def.Name), value),
		"save metadata of table %s.%s", database, def.Name)
}

func (c *DatabaseCatalog) tableMetadataExists(database, name string) (bool, error) {
	value, err := c.metadata.Get(childKey(TableMetaPrefix, database, name))
	return value != nil, err
}

func (c *DatabaseCatalog) removeTableMetadata(database, name string) error {
	return errors.Wrapf(c.metadata.Delete(childKey(TableMetaPrefix, database, name)),
		"remove metadata of table %s.%s", database, name)
}

func (c *DatabaseCatalog) saveDictionary(database string, meta DictionaryMeta) error {
	value, err := util.GobEncode(&meta)
	if err != nil {
		return err
	}
	return errors.Wrapf(c.metadata.Set(childKey(DictionaryMetaPrefix, database, meta.Name), value),
		"save metadata of dictionary %s.%s", database, meta.Name)
}

func (c *DatabaseCatalog) dictionaryMetadataExists(database, name string) (bool, error) {
	value, err := c.metadata.Get(childKey(DictionaryMetaPrefix, database, name))
	return value != nil, err
}

func (c *DatabaseCatalog) removeDictionaryMetadata(database, name string) error {
	return errors.Wrapf(c.metadata.Delete(childKey(DictionaryMetaPrefix, database, name)),
		"remove metadata of dictionary %s.%s", database, name)
}

func (c *DatabaseCatalog) saveDroppedTable(meta DroppedTableMeta) error {
	value, err := util.GobEncode(&meta)
	if err != nil {
		return err
	}
	return c.metadata.Set(droppedKey(meta.Definition.UUID), value)
}

func (c *DatabaseCatalog) removeDroppedTable(id uuid.UUID) error {
	return c.metadata.Delete(droppedKey(id))
}

func scanMetadata[T any](store storage.KVStore, prefix []byte) ([]*T, error) {
	items, err := store.ScanPrefix(prefix)
	if err != nil {
		return nil, err
	}
	result := make([]*T, 0, len(items))
	for _, item := range items {
		v := new(T)
		if err = util.GobDecode(item.Value, v); err != nil {
			return nil, errors.Wrapf(err, "metadata key %x", item.Key)
		}
		result = append(result, v)
	}
	return result, nil
}
