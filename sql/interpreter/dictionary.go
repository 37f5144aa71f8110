package interpreter

import (
	"context"

	"cabbageDDL/access"
	"cabbageDDL/ddlerr"
	"cabbageDDL/sql/ast"
)

func (in *Interpreter) executeToDictionary(_ context.Context, qctx *QueryContext, s *ast.DropStmt) (*BlockIO, error) {
	if s.Kind == ast.DropKindTruncate {
		return nil, ddlerr.New(ddlerr.SyntaxError, "Cannot TRUNCATE dictionary")
	}
	if s.Temporary {
		return nil, ddlerr.New(ddlerr.SyntaxError, "Temporary dictionaries are not possible.")
	}
	database := in.resolveDatabase(qctx, s.Database)

	if !s.NoDDLLock {
		guard := in.Catalog.GetDDLGuard(database, s.Table)
		defer guard.Release()
	}

	db := in.Catalog.TryGetDatabase(database)
	if db == nil || !db.IsDictionaryExist(s.Table) {
		if s.IfExists {
			return &BlockIO{}, nil
		}
		if db == nil {
			return nil, ddlerr.New(ddlerr.UnknownTarget, "Database %s doesn't exist", database)
		}
		return nil, ddlerr.New(ddlerr.UnknownTarget, "Dictionary %s.%s doesn't exist", database, s.Table)
	}

	if err := in.checkAccess(qctx, access.DropDictionary, database, s.Table); err != nil {
		return nil, err
	}
	var err error
	if s.Kind == ast.DropKindDetach {
		// Metadata is kept, the dictionary comes back on the next start.
		err = db.DetachDictionary(s.Table)
	} else {
		err = db.RemoveDictionary(s.Table)
	}
	if err != nil {
		return nil, err
	}
	return &BlockIO{}, nil
}
