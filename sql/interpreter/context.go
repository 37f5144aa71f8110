package interpreter

import (
	"context"
	"time"

	"cabbageDDL/access"
	"cabbageDDL/log"
	"cabbageDDL/sql/ast"
	"cabbageDDL/sql/catalog"
)

// QueryKind tells where a request came from.
type QueryKind uint8

const (
	// QueryKindInitial is a request sent by a client.
	QueryKindInitial QueryKind = iota
	// QueryKindSecondary is a request executed on behalf of an ON CLUSTER request.
	QueryKindSecondary
	// QueryKindReplicatedLog is a request replayed from a replicated log. It is applied
	// locally and never forwarded again.
	QueryKindReplicatedLog
)

func (k QueryKind) String() string {
	switch k {
	case QueryKindInitial:
		return "initial"
	case QueryKindSecondary:
		return "secondary"
	case QueryKindReplicatedLog:
		return "replicated_log"
	}
	return "unknown"
}

// CallSite distinguishes a request sent by a client from one issued by a database cascade.
type CallSite uint8

const (
	StandaloneRequest CallSite = iota
	CascadeChild
)

type Settings struct {
	// LockAcquireTimeout bounds the wait for an exclusive table lock. Zero waits until the
	// request context ends.
	LockAcquireTimeout time.Duration
	// WaitForDropSynchronously makes every DROP and DETACH wait as if NO WAIT was not given.
	WaitForDropSynchronously bool
}

type QueryContext struct {
	QueryID  string
	User     string
	Kind     QueryKind
	Session  *catalog.Session
	Settings Settings
}

// BlockIO is the result of a structural mutation. It carries the feedback of the replicated
// log when the mutation was forwarded instead of applied.
type BlockIO struct {
	Feedback *log.Feedback
}

func (b *BlockIO) Forwarded() bool {
	return b != nil && b.Feedback != nil
}

// ClusterExecutor runs an ON CLUSTER request on every host of a cluster. Required holds the
// capabilities the request needs, already checked for the initiating user.
type ClusterExecutor interface {
	ExecuteOnCluster(ctx context.Context, qctx *QueryContext, stmt *ast.DropStmt, required []access.Element) (*BlockIO, error)
}
