package log

import (
	"github.com/google/uuid"
)

type RequestID = uuid.UUID

type FeedbackStatus uint8

const (
	StatusProposed FeedbackStatus = iota + 1
	StatusCommitted
	StatusApplied
	StatusFailed
)

func (s FeedbackStatus) String() string {
	switch s {
	case StatusProposed:
		return "proposed"
	case StatusCommitted:
		return "committed"
	case StatusApplied:
		return "applied"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// FeedbackRow reports the progress of one proposed entry on one replica.
type FeedbackRow struct {
	Replica string
	ID      RequestID
	Index   Index
	Status  FeedbackStatus
	Error   string
}

// Instruction is consumed by the driver goroutine that applies committed entries.
type Instruction interface {
	instruction()
}

type Apply struct {
	Entry *Entry
}

func (*Apply) instruction() {}

type Notify struct {
	Index    Index
	Feedback *Feedback
}

func (*Notify) instruction() {}

type proposal struct {
	command    []byte
	responseTx chan<- proposalResult
}

type proposalResult struct {
	feedback *Feedback
	err      error
}

// ReplicaStatus is a point-in-time view of a replica's log.
type ReplicaStatus struct {
	Name         string
	Term         Term
	LastIndex    Index
	CommitIndex  Index
	AppliedIndex Index
	Storage      string
	StorageSize  uint64
	FileName     string
}
