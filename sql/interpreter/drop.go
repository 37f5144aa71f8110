// Package interpreter executes DROP, DETACH and TRUNCATE of tables, views, dictionaries,
// temporary tables and databases against the catalog.
package interpreter

import (
	"context"
	"strings"
	"time"

	"cabbageDDL/access"
	"cabbageDDL/ddlerr"
	"cabbageDDL/logger"
	"cabbageDDL/metrics"
	"cabbageDDL/sql/ast"
	"cabbageDDL/sql/catalog"

	"github.com/google/uuid"
)

const DefaultDatabase = "default"

type Interpreter struct {
	Catalog catalog.Catalog
	Access  access.Checker
	Cluster ClusterExecutor
	// DefaultDatabase resolves unqualified names of requests without a session.
	DefaultDatabase string
	Settings        Settings
}

func NewInterpreter(c catalog.Catalog, checker access.Checker, settings Settings) *Interpreter {
	if checker == nil {
		checker = access.AllowAll{}
	}
	return &Interpreter{Catalog: c, Access: checker, DefaultDatabase: DefaultDatabase, Settings: settings}
}

// NewQueryContext returns a context for a client request with the interpreter's settings.
func (in *Interpreter) NewQueryContext(session *catalog.Session) *QueryContext {
	qctx := &QueryContext{QueryID: uuid.NewString(), Settings: in.Settings, Session: session}
	if session != nil {
		qctx.User = session.User
	}
	return qctx
}

// Execute runs one structural mutation. stmt is copied and never modified.
func (in *Interpreter) Execute(ctx context.Context, qctx *QueryContext, stmt *ast.DropStmt) (*BlockIO, error) {
	if stmt == nil {
		return nil, ddlerr.New(ddlerr.MalformedRequest, "nil statement")
	}
	if qctx == nil {
		qctx = in.NewQueryContext(nil)
	}
	if qctx.QueryID == "" {
		qctx.QueryID = uuid.NewString()
	}
	s := *stmt
	if qctx.Settings.WaitForDropSynchronously {
		s.NoWait = false
	}

	start := time.Now()
	var res *BlockIO
	var err error
	if s.Cluster != "" && qctx.Kind == QueryKindInitial {
		res, err = in.executeOnCluster(ctx, qctx, &s)
	} else {
		res, err = in.dispatch(ctx, qctx, &s, StandaloneRequest)
	}

	target := targetOf(&s)
	metrics.MutationDuration.WithLabelValues(s.Kind.String(), target).Observe(time.Since(start).Seconds())
	metrics.Mutations.WithLabelValues(s.Kind.String(), target, outcomeOf(res, err)).Inc()
	if err != nil {
		logger.Warnw("structural mutation failed", "query", s.String(), "query_id", qctx.QueryID,
			"user", qctx.User, "kind", qctx.Kind.String(), "error", err)
		return nil, err
	}
	logger.Infow("structural mutation", "query", s.String(), "query_id", qctx.QueryID, "user", qctx.User,
		"kind", qctx.Kind.String(), "forwarded", res.Forwarded(), "elapsed", time.Since(start))
	return res, nil
}

func (in *Interpreter) dispatch(ctx context.Context, qctx *QueryContext, s *ast.DropStmt, site CallSite) (*BlockIO, error) {
	if s.Table != "" {
		if s.IsDictionary {
			return in.executeToDictionary(ctx, qctx, s)
		}
		return in.executeToTable(ctx, qctx, s, site)
	}
	if s.Database != "" {
		return in.executeToDatabase(ctx, qctx, s)
	}
	return nil, ddlerr.New(ddlerr.MalformedRequest, "Nothing to drop, both names are empty")
}

func (in *Interpreter) executeOnCluster(ctx context.Context, qctx *QueryContext, s *ast.DropStmt) (*BlockIO, error) {
	required := RequiredAccessForDDLOnCluster(s)
	for _, element := range required {
		if err := in.Access.CheckAccess(qctx.User, element); err != nil {
			return nil, err
		}
	}
	if in.Cluster == nil {
		return nil, ddlerr.New(ddlerr.NotSupported, "Distributed DDL is not configured, cannot execute ON CLUSTER %s", s.Cluster)
	}
	return in.Cluster.ExecuteOnCluster(ctx, qctx, s, required)
}

func (in *Interpreter) checkAccess(qctx *QueryContext, required access.AccessType, database, table string) error {
	return in.Access.CheckAccess(qctx.User, access.Element{Access: required, Database: database, Table: table})
}

func (in *Interpreter) currentDatabase(qctx *QueryContext) string {
	if qctx.Session != nil && qctx.Session.CurrentDatabase != "" {
		return qctx.Session.CurrentDatabase
	}
	return in.DefaultDatabase
}

func (in *Interpreter) resolveDatabase(qctx *QueryContext, database string) string {
	if database == "" {
		return in.currentDatabase(qctx)
	}
	return database
}

func targetOf(s *ast.DropStmt) string {
	switch {
	case s.Table == "":
		return "database"
	case s.IsDictionary:
		return "dictionary"
	case s.Temporary:
		return "temporary"
	case s.IsView:
		return "view"
	}
	return "table"
}

func outcomeOf(res *BlockIO, err error) string {
	if err != nil {
		if code := ddlerr.CodeOf(err); code != 0 {
			return strings.ToLower(code.String())
		}
		return "error"
	}
	if res.Forwarded() {
		return "forwarded"
	}
	return "ok"
}
