package server

import (
	"cabbageDDL/bitcask"
	"cabbageDDL/log"
)

type DatabaseStatus struct {
	Name         string
	UUID         string
	Engine       string
	Tables       int
	Dictionaries int
	Replica      *log.ReplicaStatus
}

// NodeStatus is what Status and /api/v1/status report.
type NodeStatus struct {
	NodeID          string
	Databases       []DatabaseStatus
	PendingDisposal int
	Store           *bitcask.Status
}

func (s *Server) Status() *NodeStatus {
	status := &NodeStatus{
		NodeID:          s.NodeID,
		PendingDisposal: s.Catalog.PendingDisposal(),
	}
	if s.Store != nil {
		status.Store = s.Store.Status()
	}
	for _, name := range s.Catalog.DatabaseNames() {
		db := s.Catalog.TryGetDatabase(name)
		if db == nil {
			continue
		}
		dbStatus := DatabaseStatus{
			Name:         name,
			UUID:         db.UUID().String(),
			Engine:       db.Variant().String(),
			Tables:       len(db.TableNames()),
			Dictionaries: len(db.DictionaryNames()),
		}
		if r, ok := db.(interface{ Replica() *log.Replica }); ok && r.Replica() != nil {
			dbStatus.Replica = r.Replica().Status()
		}
		status.Databases = append(status.Databases, dbStatus)
	}
	return status
}
