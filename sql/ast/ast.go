// Package ast holds the structured statements handed to the interpreters. Producing them from
// query text is the parser's job and lives outside this module.
package ast

type Stmt interface {
	StmtIter()
}

type DropKind uint8

const (
	DropKindDrop DropKind = iota
	DropKindDetach
	DropKindTruncate
)

func (k DropKind) String() string {
	switch k {
	case DropKindDrop:
		return "DROP"
	case DropKindDetach:
		return "DETACH"
	case DropKindTruncate:
		return "TRUNCATE"
	}
	return "UNKNOWN"
}

// DropStmt is a structural mutation request: DROP, DETACH or TRUNCATE of a table, view,
// dictionary, temporary table or database.
type DropStmt struct {
	Kind     DropKind
	Database string
	Table    string
	Cluster  string

	IsDictionary bool
	IsView       bool
	Temporary    bool
	IfExists     bool
	// NoWait lets DROP/DETACH return before the storage is fully released.
	NoWait bool
	// NoDDLLock skips the per-name guard; set only by callers that already hold a broader one.
	NoDDLLock bool
}

func (d *DropStmt) StmtIter() {
}

// String renders the statement for logs and replicated log entries.
func (d *DropStmt) String() string {
	s := d.Kind.String()
	switch {
	case d.Table == "":
		s += " DATABASE"
	case d.IsDictionary:
		s += " DICTIONARY"
	case d.IsView:
		s += " VIEW"
	case d.Temporary:
		s += " TEMPORARY TABLE"
	default:
		s += " TABLE"
	}
	if d.IfExists {
		s += " IF EXISTS"
	}
	switch {
	case d.Table == "":
		s += " " + d.Database
	case d.Database == "":
		s += " " + d.Table
	default:
		s += " " + d.Database + "." + d.Table
	}
	if d.Cluster != "" {
		s += " ON CLUSTER " + d.Cluster
	}
	if d.NoWait {
		s += " NO WAIT"
	}
	return s
}
