package bitcask

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"cabbageDDL/logger"
	"cabbageDDL/util"

	"github.com/google/btree"
	"github.com/pkg/errors"
)

// ValueOffset locates a value inside the log file.
type ValueOffset struct {
	Pos uint64
	Len uint32
}

// ByteItem is one keydir entry: key -> (value position, value length).
type ByteItem struct {
	Key   []byte
	Value *ValueOffset
}

// ByteMap is a resolved key/value pair returned by scans.
type ByteMap struct {
	Key   []byte
	Value []byte
}

func (bi *ByteItem) Less(than btree.Item) bool {
	return bytes.Compare(bi.Key, than.(*ByteItem).Key) < 0
}

const entryHeaderLen = 8

// Log is the append-only file behind a BitCask. The file is exclusively locked while open.
type Log struct {
	Path string
	File *os.File
	size int64
}

func NewLog(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("failed to open/create file: %w", err)
	}
	if err = LockFileNonBlocking(file); err != nil {
		file.Close()
		return nil, fmt.Errorf("get lockfile %s: %w", path, err)
	}
	return &Log{Path: path, File: file}, nil
}

// buildKeyDir scans the whole file. A torn entry at the tail is an interrupted write and is
// truncated away; any other read error is returned.
func (log *Log) buildKeyDir() (*btree.BTree, error) {
	keyDir := btree.New(2)
	info, err := log.File.Stat()
	if err != nil {
		return nil, err
	}
	fileLen := info.Size()

	header := make([]byte, entryHeaderLen)
	var pos int64
	for pos < fileLen {
		if _, err = log.File.ReadAt(header, pos); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		var keyLen uint32
		var valueLenOrTombstone int32
		_ = util.ByteToInt(header[:4], &keyLen)
		_ = util.ByteToInt(header[4:], &valueLenOrTombstone)

		keyPos := pos + entryHeaderLen
		valuePos := keyPos + int64(keyLen)
		end := valuePos
		if valueLenOrTombstone > 0 {
			end += int64(valueLenOrTombstone)
		}
		if end > fileLen {
			break
		}

		key := make([]byte, keyLen)
		if _, err = log.File.ReadAt(key, keyPos); err != nil {
			return nil, err
		}
		if valueLenOrTombstone >= 0 {
			keyDir.ReplaceOrInsert(&ByteItem{
				Key:   key,
				Value: &ValueOffset{Pos: uint64(valuePos), Len: uint32(valueLenOrTombstone)},
			})
		} else {
			keyDir.Delete(&ByteItem{Key: key})
		}
		pos = end
	}

	if pos < fileLen {
		logger.Warnf("bitcask %s: truncating incomplete entry at offset %d", log.Path, pos)
		if err = log.File.Truncate(pos); err != nil {
			return nil, err
		}
	}
	log.size = pos
	return keyDir, nil
}

func (log *Log) ReadValue(valuePos uint64, valueLen uint32) ([]byte, error) {
	buffer := make([]byte, valueLen)
	if valueLen == 0 {
		return buffer, nil
	}
	_, err := log.File.ReadAt(buffer, int64(valuePos))
	return buffer, err
}

// writeEntry appends key->value; a nil value writes a tombstone. It returns the value position.
func (log *Log) writeEntry(key, value []byte) (uint64, error) {
	valueLenOrTombstone := int32(-1)
	if value != nil {
		valueLenOrTombstone = int32(len(value))
	}
	entry := util.BufferAppend(
		util.BinaryToByte(uint32(len(key))),
		util.BinaryToByte(valueLenOrTombstone),
		key,
		value,
	)
	pos := log.size
	if _, err := log.File.WriteAt(entry, pos); err != nil {
		return 0, err
	}
	if err := log.File.Sync(); err != nil {
		return 0, err
	}
	log.size += int64(len(entry))
	return uint64(pos) + entryHeaderLen + uint64(len(key)), nil
}

// BitCask keeps key -> (position, length) in memory and appends every write to a log file.
// Deletes append a tombstone.
// Status describes one bitcask file. Garbage is the space held by overwritten and deleted keys.
type Status struct {
	Name            string
	Keys            uint64
	Size            uint64
	TotalDiskSize   uint64
	LiveDiskSize    uint64
	GarbageDiskSize uint64
	FileName        string
}

type BitCask struct {
	mu     sync.RWMutex
	Log    *Log
	KeyDir *btree.BTree
}

// NewCompact opens a BitCask and compacts it when the garbage ratio reaches threshold.
func NewCompact(path string, garbageRatioThreshold float64) (*BitCask, error) {
	bitCask, err := NewBitCask(path)
	if err != nil {
		return nil, err
	}
	status := bitCask.Status()
	if status.GarbageDiskSize > 0 && status.TotalDiskSize > 0 {
		ratio := float64(status.GarbageDiskSize) / float64(status.TotalDiskSize)
		if ratio >= garbageRatioThreshold {
			logger.Infof("compacting %s (garbage ratio %.2f)", path, ratio)
			if err = bitCask.Compact(); err != nil {
				bitCask.Close()
				return nil, err
			}
		}
	}
	return bitCask, nil
}

func NewBitCask(path string) (*BitCask, error) {
	log, err := NewLog(path)
	if err != nil {
		return nil, err
	}
	keyDir, err := log.buildKeyDir()
	if err != nil {
		log.File.Close()
		return nil, errors.Wrapf(err, "build keydir for %s", path)
	}
	return &BitCask{Log: log, KeyDir: keyDir}, nil
}

// Compact rewrites the file with live entries only.
func (bitCask *BitCask) Compact() error {
	bitCask.mu.Lock()
	defer bitCask.mu.Unlock()

	live := make([]*ByteMap, 0, bitCask.KeyDir.Len())
	var readErr error
	bitCask.KeyDir.Ascend(func(i btree.Item) bool {
		item := i.(*ByteItem)
		value, err := bitCask.Log.ReadValue(item.Value.Pos, item.Value.Len)
		if err != nil {
			readErr = err
			return false
		}
		live = append(live, &ByteMap{Key: item.Key, Value: value})
		return true
	})
	if readErr != nil {
		return readErr
	}

	if err := bitCask.Log.File.Truncate(0); err != nil {
		return err
	}
	bitCask.Log.size = 0
	bitCask.KeyDir.Clear(false)
	for _, kv := range live {
		pos, err := bitCask.Log.writeEntry(kv.Key, kv.Value)
		if err != nil {
			return err
		}
		bitCask.KeyDir.ReplaceOrInsert(&ByteItem{Key: kv.Key, Value: &ValueOffset{Pos: pos, Len: uint32(len(kv.Value))}})
	}
	return nil
}

func (bitCask *BitCask) Set(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	bitCask.mu.Lock()
	defer bitCask.mu.Unlock()
	pos, err := bitCask.Log.writeEntry(key, value)
	if err != nil {
		return errors.Wrap(err, "bitcask set")
	}
	bitCask.KeyDir.ReplaceOrInsert(&ByteItem{
		Key:   append([]byte(nil), key...),
		Value: &ValueOffset{Pos: pos, Len: uint32(len(value))},
	})
	return nil
}

// Get returns nil when the key does not exist.
func (bitCask *BitCask) Get(key []byte) ([]byte, error) {
	bitCask.mu.RLock()
	defer bitCask.mu.RUnlock()
	item := bitCask.KeyDir.Get(&ByteItem{Key: key})
	if item == nil {
		return nil, nil
	}
	byteItem := item.(*ByteItem)
	return bitCask.Log.ReadValue(byteItem.Value.Pos, byteItem.Value.Len)
}

func (bitCask *BitCask) Delete(key []byte) error {
	bitCask.mu.Lock()
	defer bitCask.mu.Unlock()
	if bitCask.KeyDir.Delete(&ByteItem{Key: key}) == nil {
		return nil
	}
	_, err := bitCask.Log.writeEntry(key, nil)
	return errors.Wrap(err, "bitcask delete")
}

// Scan returns all pairs with from <= key <= to. A nil to scans to the end.
func (bitCask *BitCask) Scan(from, to []byte) ([]*ByteMap, error) {
	return bitCask.scan(from, func(key []byte) bool {
		return to == nil || bytes.Compare(key, to) <= 0
	})
}

func (bitCask *BitCask) ScanPrefix(prefix []byte) ([]*ByteMap, error) {
	return bitCask.scan(prefix, func(key []byte) bool {
		return bytes.HasPrefix(key, prefix)
	})
}

func (bitCask *BitCask) scan(from []byte, keep func(key []byte) bool) ([]*ByteMap, error) {
	bitCask.mu.RLock()
	defer bitCask.mu.RUnlock()

	var out []*ByteMap
	var readErr error
	bitCask.KeyDir.AscendGreaterOrEqual(&ByteItem{Key: from}, func(i btree.Item) bool {
		item := i.(*ByteItem)
		if !keep(item.Key) {
			return false
		}
		value, err := bitCask.Log.ReadValue(item.Value.Pos, item.Value.Len)
		if err != nil {
			readErr = err
			return false
		}
		out = append(out, &ByteMap{Key: item.Key, Value: value})
		return true
	})
	return out, readErr
}

func (bitCask *BitCask) Status() *Status {
	bitCask.mu.RLock()
	defer bitCask.mu.RUnlock()
	keys := uint64(bitCask.KeyDir.Len())
	size := uint64(0)
	bitCask.KeyDir.Ascend(func(i btree.Item) bool {
		item := i.(*ByteItem)
		size += uint64(len(item.Key)) + uint64(item.Value.Len)
		return true
	})
	totalDiskSize := uint64(bitCask.Log.size)
	liveDiskSize := size + entryHeaderLen*keys
	var garbageDiskSize uint64
	if totalDiskSize > liveDiskSize {
		garbageDiskSize = totalDiskSize - liveDiskSize
	}
	return &Status{
		Name:            "bitcask",
		Keys:            keys,
		Size:            size,
		TotalDiskSize:   totalDiskSize,
		GarbageDiskSize: garbageDiskSize,
		LiveDiskSize:    liveDiskSize,
		FileName:        bitCask.FileName(),
	}
}

func (bitCask *BitCask) FlushFile() error {
	return bitCask.Log.File.Sync()
}

func (bitCask *BitCask) FileName() string {
	path, _ := filepath.Abs(bitCask.Log.Path)
	return path
}

// Close releases the file lock.
func (bitCask *BitCask) Close() error {
	bitCask.mu.Lock()
	defer bitCask.mu.Unlock()
	return bitCask.Log.File.Close()
}
