package access

import (
	"testing"

	"cabbageDDL/ddlerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccessType(t *testing.T) {
	a, err := ParseAccessType("drop_table")
	require.NoError(t, err)
	assert.Equal(t, DropTable, a)

	a, err = ParseAccessType("ALL")
	require.NoError(t, err)
	assert.Equal(t, All, a)

	_, err = ParseAccessType("select")
	assert.Error(t, err)

	assert.Equal(t, "DROP TABLE|DROP VIEW", (DropTable | DropView).String())
}

func TestGrantsCheckAccess(t *testing.T) {
	g := NewGrants()
	g.Grant("alice", Grant{Database: "db", Table: "*", Access: DropTable | Truncate})
	g.Grant("alice", Grant{Database: "db", Access: DropDatabase})
	g.Grant("bob", Grant{Database: "db", Table: "t", Access: DropView})

	assert.NoError(t, g.CheckAccess("alice", Element{Access: DropTable, Database: "db", Table: "t"}))
	assert.NoError(t, g.CheckAccess("alice", Element{Access: DropDatabase, Database: "db"}))
	assert.True(t, ddlerr.Is(g.CheckAccess("alice", Element{Access: DropView, Database: "db", Table: "t"}), ddlerr.AccessDenied))
	assert.True(t, ddlerr.Is(g.CheckAccess("alice", Element{Access: DropTable, Database: "other", Table: "t"}), ddlerr.AccessDenied))

	both := Element{Access: DropTable | DropView, Database: "db", Table: "t"}
	assert.Error(t, g.CheckAccess("bob", both))
	both.AnyOf = true
	assert.NoError(t, g.CheckAccess("bob", both))
	assert.Error(t, g.CheckAccess("bob", Element{Access: DropView, Database: "db", Table: "u"}))

	assert.Error(t, g.CheckAccess("carol", Element{Access: DropTable, Database: "db", Table: "t"}))
	assert.Equal(t, []string{"alice", "bob"}, g.Users())
}

func TestAllowAll(t *testing.T) {
	assert.NoError(t, AllowAll{}.CheckAccess("anyone", Element{Access: All, Database: "db"}))
}
