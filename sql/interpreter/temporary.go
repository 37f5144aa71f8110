package interpreter

import (
	"context"

	"cabbageDDL/ddlerr"
	"cabbageDDL/sql/ast"
	"cabbageDDL/storage"
)

// executeToTemporaryTable works on the session's own tables: nothing is guarded or replicated.
// table is retained by the caller's lookup and released here.
func (in *Interpreter) executeToTemporaryTable(ctx context.Context, qctx *QueryContext, table storage.Table, kind ast.DropKind) (*BlockIO, error) {
	defer table.Release()

	switch kind {
	case ast.DropKindDetach:
		return nil, ddlerr.New(ddlerr.SyntaxError, "Unable to DETACH temporary table %s", table.Name())

	case ast.DropKindTruncate:
		holder, err := in.lockTable(ctx, qctx, table)
		if err != nil {
			return nil, err
		}
		defer holder.Release()
		if err = table.Truncate(holder); err != nil {
			return nil, err
		}

	case ast.DropKindDrop:
		if _, err := qctx.Session.RemoveTemporaryTable(table.Name()); err != nil {
			return nil, err
		}
		table.Shutdown()
		holder, err := in.lockTable(ctx, qctx, table)
		if err != nil {
			return nil, err
		}
		defer holder.Release()
		if err = table.Drop(); err != nil {
			return nil, err
		}

	default:
		return nil, ddlerr.New(ddlerr.MalformedRequest, "unknown mutation kind %d", kind)
	}
	return &BlockIO{}, nil
}
