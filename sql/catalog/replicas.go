package catalog

import (
	"os"
	"path/filepath"
	"sync"

	"cabbageDDL/bitcask"
	"cabbageDDL/log"

	"github.com/pkg/errors"
)

// FileReplicas keeps the log of every Replicated database in its own bitcask file under Dir.
type FileReplicas struct {
	Dir    string
	NodeID string

	mu     sync.Mutex
	opened map[string]*openReplica
}

type openReplica struct {
	replica *log.Replica
	engine  *bitcask.BitCask
}

func NewFileReplicas(dir, nodeID string) (*FileReplicas, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create replica dir %s", dir)
	}
	return &FileReplicas{Dir: dir, NodeID: nodeID, opened: make(map[string]*openReplica)}, nil
}

func (f *FileReplicas) path(database string) string {
	return filepath.Join(f.Dir, database+".log")
}

func (f *FileReplicas) OpenReplica(database string) (*log.Replica, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.opened[database]; ok {
		return nil, errors.Errorf("replica of %s is already open", database)
	}
	engine, err := bitcask.NewBitCask(f.path(database))
	if err != nil {
		return nil, err
	}
	rlog, err := log.NewReplicatedLog(engine)
	if err != nil {
		engine.Close()
		return nil, err
	}
	replica, err := log.NewReplica(f.NodeID+"/"+database, rlog)
	if err != nil {
		engine.Close()
		return nil, err
	}
	f.opened[database] = &openReplica{replica: replica, engine: engine}
	return replica, nil
}

func (f *FileReplicas) ReleaseReplica(database string, remove bool) error {
	f.mu.Lock()
	open, ok := f.opened[database]
	delete(f.opened, database)
	f.mu.Unlock()
	if !ok {
		return nil
	}
	open.replica.Close()
	if err := open.engine.Close(); err != nil {
		return err
	}
	if remove {
		return errors.Wrapf(os.Remove(f.path(database)), "remove log of %s", database)
	}
	return nil
}
