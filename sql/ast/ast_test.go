package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDropStmtString(t *testing.T) {
	cases := []struct {
		stmt DropStmt
		want string
	}{
		{DropStmt{Kind: DropKindDrop, Database: "db", Table: "t"}, "DROP TABLE db.t"},
		{DropStmt{Kind: DropKindDetach, Database: "db", Table: "d", IsDictionary: true, IfExists: true}, "DETACH DICTIONARY IF EXISTS db.d"},
		{DropStmt{Kind: DropKindTruncate, Table: "tmp", Temporary: true}, "TRUNCATE TEMPORARY TABLE tmp"},
		{DropStmt{Kind: DropKindDrop, Database: "db", Cluster: "main", NoWait: true}, "DROP DATABASE db ON CLUSTER main NO WAIT"},
		{DropStmt{Kind: DropKindDrop, Database: "db", Table: "v", IsView: true}, "DROP VIEW db.v"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.stmt.String())
	}
}
