package interpreter

import (
	"context"

	"cabbageDDL/access"
	"cabbageDDL/ddlerr"
	"cabbageDDL/log"
	"cabbageDDL/logger"
	"cabbageDDL/metrics"
	"cabbageDDL/sql/ast"
	"cabbageDDL/sql/catalog"
	"cabbageDDL/storage"

	"github.com/pkg/errors"
)

func (in *Interpreter) executeToTable(ctx context.Context, qctx *QueryContext, s *ast.DropStmt, site CallSite) (*BlockIO, error) {
	// The name carries no UUID yet; it is captured under the guard.
	id := catalog.StorageID{Database: s.Database, Table: s.Table}
	if s.Temporary || id.Database == "" {
		if qctx.Session != nil {
			if table := qctx.Session.TryGetTemporaryTable(id.Table); table != nil {
				return in.executeToTemporaryTable(ctx, qctx, table, s.Kind)
			}
		}
		if s.Temporary {
			if s.IfExists {
				return &BlockIO{}, nil
			}
			return nil, ddlerr.New(ddlerr.UnknownTarget, "Temporary table %s doesn't exist", id.Table)
		}
		id.Database = in.currentDatabase(qctx)
	}

	if !in.Catalog.IsTableExist(id.Database, id.Table) {
		if s.IfExists {
			return &BlockIO{}, nil
		}
		return nil, unknownTable(in.Catalog.TryGetDatabase(id.Database), id)
	}

	db, feedback, err := in.mutateTable(ctx, qctx, s, site, &id)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return &BlockIO{}, nil
	}
	if feedback != nil {
		return &BlockIO{Feedback: feedback}, nil
	}

	// Guard and table reference are released at this point.
	if !s.NoWait {
		switch s.Kind {
		case ast.DropKindDrop:
			logger.Debugw("waiting for table to be dropped", "table", id.String())
			if err = in.Catalog.WaitTableFinallyDropped(ctx, id.UUID); err != nil {
				return nil, errors.Wrapf(err, "wait for %s to be dropped", id)
			}
		case ast.DropKindDetach:
			if err = db.WaitDetachedTableNotInUse(ctx, id.UUID); err != nil {
				return nil, errors.Wrapf(err, "wait for %s to be released", id)
			}
		}
	}
	return &BlockIO{}, nil
}

// mutateTable runs the guarded part of executeToTable. A nil database means there was nothing
// to do. The guard and the table reference never outlive this call.
func (in *Interpreter) mutateTable(ctx context.Context, qctx *QueryContext, s *ast.DropStmt, site CallSite, id *catalog.StorageID) (catalog.Database, *log.Feedback, error) {
	if !s.NoDDLLock {
		guard := in.Catalog.GetDDLGuard(id.Database, id.Table)
		defer guard.Release()
	}

	// A concurrent request may have dropped the table while we waited for the guard.
	db, table := in.Catalog.TryGetDatabaseAndTable(id.Database, id.Table)
	if table != nil {
		defer table.Release()
	}
	if db == nil || table == nil {
		if s.IfExists {
			return nil, nil, nil
		}
		return nil, nil, unknownTable(db, *id)
	}

	if s.IsView && !table.IsView() {
		return nil, nil, ddlerr.New(ddlerr.TypeMismatch, "Table %s is not a View", id.Database+"."+id.Table)
	}
	id.UUID = table.UUID()

	replicate := db.ReplicatesMutations() && qctx.Kind != QueryKindReplicatedLog
	var (
		feedback *log.Feedback
		holder   *storage.TableLockHolder
		err      error
	)
	defer func() {
		holder.Release()
	}()

	switch s.Kind {
	case ast.DropKindDetach:
		if err = in.checkAccess(qctx, dropAccessFor(table), id.Database, id.Table); err != nil {
			return nil, nil, err
		}
		table.Shutdown()
		if !db.Variant().SerializesTableAccess() {
			if holder, err = in.lockTable(ctx, qctx, table); err != nil {
				return nil, nil, err
			}
		}
		if replicate {
			feedback, err = in.propose(ctx, qctx, db, s, *id)
		} else {
			_, err = db.DetachTable(id.Table)
		}

	case ast.DropKindTruncate:
		if err = in.checkAccess(qctx, access.Truncate, id.Database, id.Table); err != nil {
			return nil, nil, err
		}
		if err = table.CheckTableCanBeDropped(); err != nil {
			return nil, nil, err
		}
		if holder, err = in.lockTable(ctx, qctx, table); err != nil {
			return nil, nil, err
		}
		if replicate {
			feedback, err = in.propose(ctx, qctx, db, s, *id)
		} else {
			err = table.Truncate(holder)
		}

	case ast.DropKindDrop:
		if err = in.checkAccess(qctx, dropAccessFor(table), id.Database, id.Table); err != nil {
			return nil, nil, err
		}
		if err = table.CheckTableCanBeDropped(); err != nil {
			return nil, nil, err
		}
		table.Shutdown()
		if !db.Variant().SerializesTableAccess() {
			if holder, err = in.lockTable(ctx, qctx, table); err != nil {
				return nil, nil, err
			}
		}
		// Children of a database cascade are dropped locally: the database drop itself is
		// what every replica executes.
		if replicate && site == StandaloneRequest {
			feedback, err = in.propose(ctx, qctx, db, s, *id)
		} else {
			err = db.DropTable(ctx, id.Table)
		}

	default:
		return nil, nil, ddlerr.New(ddlerr.MalformedRequest, "unknown mutation kind %d", s.Kind)
	}
	if err != nil {
		return nil, nil, err
	}
	return db, feedback, nil
}

func (in *Interpreter) lockTable(ctx context.Context, qctx *QueryContext, table storage.Table) (*storage.TableLockHolder, error) {
	holder, err := table.LockExclusively(ctx, qctx.QueryID, qctx.Settings.LockAcquireTimeout)
	if err != nil {
		if ddlerr.Is(err, ddlerr.LockTimeout) {
			metrics.LockTimeouts.Inc()
		}
		return nil, err
	}
	return holder, nil
}

func (in *Interpreter) propose(ctx context.Context, qctx *QueryContext, db catalog.Database, s *ast.DropStmt, id catalog.StorageID) (*log.Feedback, error) {
	forwarded := *s
	forwarded.Database = id.Database
	forwarded.Table = id.Table
	forwarded.Temporary = false
	forwarded.Cluster = ""
	feedback, err := db.Propose(ctx, &catalog.ReplicatedMutation{User: qctx.User, QueryID: qctx.QueryID, Stmt: forwarded})
	if err != nil {
		return nil, errors.Wrapf(err, "propose %s", forwarded.String())
	}
	logger.Debugw("mutation forwarded to replicated log", "table", id.String(), "index", feedback.Index)
	return feedback, nil
}

func dropAccessFor(table storage.Table) access.AccessType {
	if table.IsView() {
		return access.DropView
	}
	return access.DropTable
}

func unknownTable(db catalog.Database, id catalog.StorageID) error {
	if db == nil {
		return ddlerr.New(ddlerr.UnknownTarget, "Database %s doesn't exist", id.Database)
	}
	return ddlerr.New(ddlerr.UnknownTarget, "Table %s.%s doesn't exist", id.Database, id.Table)
}
