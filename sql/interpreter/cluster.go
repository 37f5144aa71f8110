package interpreter

import (
	"context"

	"cabbageDDL/access"
	"cabbageDDL/ddlerr"
	"cabbageDDL/sql/ast"
)

// LocalCluster is a cluster made of this host only. It runs ON CLUSTER requests as secondary
// queries of the local interpreter.
type LocalCluster struct {
	Name        string
	Interpreter *Interpreter
}

func (c *LocalCluster) ExecuteOnCluster(ctx context.Context, qctx *QueryContext, stmt *ast.DropStmt, _ []access.Element) (*BlockIO, error) {
	if stmt.Cluster != c.Name {
		return nil, ddlerr.New(ddlerr.UnknownTarget, "Requested cluster '%s' not found", stmt.Cluster)
	}
	secondary := *qctx
	secondary.Kind = QueryKindSecondary
	local := *stmt
	local.Cluster = ""
	return c.Interpreter.Execute(ctx, &secondary, &local)
}
