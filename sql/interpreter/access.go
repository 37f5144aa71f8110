package interpreter

import (
	"cabbageDDL/access"
	"cabbageDDL/sql/ast"
)

// RequiredAccessForDDLOnCluster returns what the initiator of an ON CLUSTER request must hold.
// It mirrors the checks every host makes locally; the table-or-view case accepts either grant
// because the object is not resolved on the initiator.
func RequiredAccessForDDLOnCluster(s *ast.DropStmt) []access.Element {
	var required []access.Element
	switch {
	case s.Table == "":
		if s.Kind == ast.DropKindDrop || s.Kind == ast.DropKindDetach {
			required = append(required, access.Element{Access: access.DropDatabase, Database: s.Database})
		}
	case s.IsDictionary:
		if s.Kind == ast.DropKindDrop || s.Kind == ast.DropKindDetach {
			required = append(required, access.Element{Access: access.DropDictionary, Database: s.Database, Table: s.Table})
		}
	case !s.Temporary:
		switch s.Kind {
		case ast.DropKindDrop, ast.DropKindDetach:
			element := access.Element{Access: access.DropTable | access.DropView, Database: s.Database, Table: s.Table, AnyOf: true}
			if s.IsView {
				element = access.Element{Access: access.DropView, Database: s.Database, Table: s.Table}
			}
			required = append(required, element)
		case ast.DropKindTruncate:
			required = append(required, access.Element{Access: access.Truncate, Database: s.Database, Table: s.Table})
		}
	}
	return required
}
