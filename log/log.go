package log

import (
	"sync"

	"cabbageDDL/bitcask"
	"cabbageDDL/util"

	"github.com/pkg/errors"
)

type Index uint64
type Term uint64

const (
	LogKeyPrefix       byte = 0x02
	EntryPrefix        byte = 0x02
	TermPrefix         byte = 0x03
	CommitIndexPrefix  byte = 0x04
	AppliedIndexPrefix byte = 0x05
)

// Entry is one DDL log record.
type Entry struct {
	Index   Index  `json:"index"`
	Term    Term   `json:"term"`
	Command []byte `json:"command"`
}

type Engine interface {
	Delete(key []byte) error
	Get(key []byte) ([]byte, error)
	ScanPrefix(prefix []byte) ([]*bitcask.ByteMap, error)
	Set(key, value []byte) error
	Status() *bitcask.Status
}

// ReplicatedLog persists entries, the commit index and the applied index in an Engine.
// Entry keys are LogKeyPrefix|EntryPrefix|index so a prefix scan returns them in order.
type ReplicatedLog struct {
	mu           sync.Mutex
	Engine       Engine
	LastIndex    Index
	LastTerm     Term
	CommitIndex  Index
	CommitTerm   Term
	AppliedIndex Index
}

func entryKey(index Index) []byte {
	return util.BufferAppend([]byte{LogKeyPrefix, EntryPrefix}, util.BinaryToByte(uint64(index)))
}

func NewReplicatedLog(engine Engine) (*ReplicatedLog, error) {
	log := &ReplicatedLog{Engine: engine}

	items, err := engine.ScanPrefix([]byte{LogKeyPrefix, EntryPrefix})
	if err != nil {
		return nil, errors.Wrap(err, "scan log entries")
	}
	if n := len(items); n > 0 {
		last, err := decodeEntry(items[n-1].Key, items[n-1].Value)
		if err != nil {
			return nil, err
		}
		log.LastIndex, log.LastTerm = last.Index, last.Term
	}

	commitByte, err := engine.Get([]byte{LogKeyPrefix, CommitIndexPrefix})
	if err != nil {
		return nil, err
	}
	if len(commitByte) > 0 {
		commit := Entry{}
		if err = util.GobDecode(commitByte, &commit); err != nil {
			return nil, errors.Wrap(err, "decode commit index")
		}
		log.CommitIndex, log.CommitTerm = commit.Index, commit.Term
	}

	appliedByte, err := engine.Get([]byte{LogKeyPrefix, AppliedIndexPrefix})
	if err != nil {
		return nil, err
	}
	if len(appliedByte) > 0 {
		var applied uint64
		if err = util.ByteToInt(appliedByte, &applied); err != nil {
			return nil, err
		}
		log.AppliedIndex = Index(applied)
	}
	if log.AppliedIndex > log.CommitIndex {
		return nil, errors.Errorf("applied index %d above commit index %d", log.AppliedIndex, log.CommitIndex)
	}
	return log, nil
}

func (log *ReplicatedLog) SetTerm(term Term) error {
	return log.Engine.Set([]byte{LogKeyPrefix, TermPrefix}, util.BinaryToByte(uint64(term)))
}

func (log *ReplicatedLog) GetTerm() (Term, error) {
	valueByte, err := log.Engine.Get([]byte{LogKeyPrefix, TermPrefix})
	if err != nil || len(valueByte) == 0 {
		return 0, err
	}
	var term uint64
	err = util.ByteToInt(valueByte, &term)
	return Term(term), err
}

// Get returns nil when there is no entry at index.
func (log *ReplicatedLog) Get(index Index) (*Entry, error) {
	valueByte, err := log.Engine.Get(entryKey(index))
	if err != nil || valueByte == nil {
		return nil, err
	}
	return decodeEntryValue(index, valueByte)
}

func (log *ReplicatedLog) Append(term Term, command []byte) (Index, error) {
	log.mu.Lock()
	defer log.mu.Unlock()
	index := log.LastIndex + 1
	if err := log.Engine.Set(entryKey(index), util.BufferAppend(util.BinaryToByte(uint64(term)), command)); err != nil {
		return 0, errors.Wrapf(err, "append entry %d", index)
	}
	log.LastIndex = index
	log.LastTerm = term
	return index, nil
}

func (log *ReplicatedLog) Commit(index Index) error {
	log.mu.Lock()
	defer log.mu.Unlock()
	if index < log.CommitIndex {
		return errors.Errorf("commit index regression %d -> %d", log.CommitIndex, index)
	}
	entry, err := log.Get(index)
	if err != nil {
		return err
	}
	if entry == nil {
		return errors.Errorf("can't commit non-existent index %d", index)
	}
	commitByte, err := util.GobEncode(&Entry{Index: entry.Index, Term: entry.Term})
	if err != nil {
		return err
	}
	if err = log.Engine.Set([]byte{LogKeyPrefix, CommitIndexPrefix}, commitByte); err != nil {
		return err
	}
	log.CommitIndex = entry.Index
	log.CommitTerm = entry.Term
	return nil
}

func (log *ReplicatedLog) SetApplied(index Index) error {
	log.mu.Lock()
	defer log.mu.Unlock()
	if index > log.CommitIndex {
		return errors.Errorf("can't apply uncommitted index %d (commit %d)", index, log.CommitIndex)
	}
	if err := log.Engine.Set([]byte{LogKeyPrefix, AppliedIndexPrefix}, util.BinaryToByte(uint64(index))); err != nil {
		return err
	}
	log.AppliedIndex = index
	return nil
}

func (log *ReplicatedLog) GetLastIndex() (Index, Term) {
	log.mu.Lock()
	defer log.mu.Unlock()
	return log.LastIndex, log.LastTerm
}

func (log *ReplicatedLog) GetCommitIndex() (Index, Term) {
	log.mu.Lock()
	defer log.mu.Unlock()
	return log.CommitIndex, log.CommitTerm
}

func (log *ReplicatedLog) GetAppliedIndex() Index {
	log.mu.Lock()
	defer log.mu.Unlock()
	return log.AppliedIndex
}

// Scan returns the entries with from <= index <= to.
func (log *ReplicatedLog) Scan(from, to Index) ([]*Entry, error) {
	items, err := log.Engine.ScanPrefix([]byte{LogKeyPrefix, EntryPrefix})
	if err != nil {
		return nil, err
	}
	var entries []*Entry
	for _, item := range items {
		entry, err := decodeEntry(item.Key, item.Value)
		if err != nil {
			return nil, err
		}
		if entry.Index < from {
			continue
		}
		if entry.Index > to {
			break
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (log *ReplicatedLog) Status() *bitcask.Status {
	return log.Engine.Status()
}

func decodeEntry(key, value []byte) (*Entry, error) {
	if len(key) != 10 || key[0] != LogKeyPrefix || key[1] != EntryPrefix {
		return nil, errors.Errorf("invalid log entry key %x", key)
	}
	var index uint64
	if err := util.ByteToInt(key[2:], &index); err != nil {
		return nil, err
	}
	return decodeEntryValue(Index(index), value)
}

func decodeEntryValue(index Index, value []byte) (*Entry, error) {
	if len(value) < 8 {
		return nil, errors.Errorf("log entry %d is truncated", index)
	}
	var term uint64
	if err := util.ByteToInt(value[:8], &term); err != nil {
		return nil, err
	}
	return &Entry{Index: index, Term: Term(term), Command: value[8:]}, nil
}
