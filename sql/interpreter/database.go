package interpreter

import (
	"context"

	"cabbageDDL/access"
	"cabbageDDL/ddlerr"
	"cabbageDDL/logger"
	"cabbageDDL/sql/ast"
)

func (in *Interpreter) executeToDatabase(ctx context.Context, qctx *QueryContext, s *ast.DropStmt) (*BlockIO, error) {
	if s.Kind == ast.DropKindTruncate {
		return nil, ddlerr.New(ddlerr.SyntaxError, "Unable to truncate database")
	}
	database := s.Database

	guard := in.Catalog.GetDDLGuard(database, "")
	defer guard.Release()

	db := in.Catalog.TryGetDatabase(database)
	if db == nil {
		if s.IfExists {
			return &BlockIO{}, nil
		}
		return nil, ddlerr.New(ddlerr.UnknownTarget, "Database %s doesn't exist", database)
	}
	if err := in.checkAccess(qctx, access.DropDatabase, database, ""); err != nil {
		return nil, err
	}

	if db.ShouldBeEmptyOnDetach() {
		child := ast.DropStmt{Kind: s.Kind, Database: database, IfExists: true, NoWait: s.NoWait}

		// A dictionary's table can only go away with its dictionary, so dictionaries first.
		for _, name := range db.DictionaryNames() {
			dict := child
			dict.Table = name
			dict.IsDictionary = true
			if _, err := in.executeToDictionary(ctx, qctx, &dict); err != nil {
				return nil, err
			}
		}
		for _, name := range db.TableNames() {
			table := child
			table.Table = name
			res, err := in.executeToTable(ctx, qctx, &table, CascadeChild)
			if err != nil {
				return nil, err
			}
			// A forwarded child is only gone once its log entry is applied.
			if res.Forwarded() {
				if _, err = res.Feedback.Wait(ctx); err != nil {
					return nil, err
				}
			}
		}
	}

	// Keeps new tables out until the database is gone.
	exclusive := in.Catalog.GetExclusiveDDLGuardForDatabase(database)
	defer exclusive.Release()

	drop := s.Kind == ast.DropKindDrop
	if !drop {
		if err := db.AssertCanBeDetached(true); err != nil {
			return nil, err
		}
	}
	if err := in.Catalog.DetachDatabase(ctx, database, drop, db.ShouldBeEmptyOnDetach()); err != nil {
		return nil, err
	}
	logger.Debugw("database removed", "database", database, "drop", drop)
	return &BlockIO{}, nil
}
