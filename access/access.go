// Package access is the capability gate consulted before a structural mutation.
package access

import (
	"sort"
	"strings"
	"sync"

	"cabbageDDL/ddlerr"

	"github.com/pkg/errors"
)

type AccessType uint32

const (
	DropTable AccessType = 1 << iota
	DropView
	DropDictionary
	DropDatabase
	Truncate
)

const All = DropTable | DropView | DropDictionary | DropDatabase | Truncate

var accessNames = []struct {
	t    AccessType
	name string
}{
	{DropTable, "DROP TABLE"},
	{DropView, "DROP VIEW"},
	{DropDictionary, "DROP DICTIONARY"},
	{DropDatabase, "DROP DATABASE"},
	{Truncate, "TRUNCATE"},
}

func (a AccessType) String() string {
	if a == 0 {
		return "NONE"
	}
	var parts []string
	for _, n := range accessNames {
		if a&n.t != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseAccessType accepts names such as "DROP TABLE", "drop_table" or "ALL".
func ParseAccessType(s string) (AccessType, error) {
	norm := strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(s, "_", " ")))
	if norm == "ALL" {
		return All, nil
	}
	for _, n := range accessNames {
		if n.name == norm {
			return n.t, nil
		}
	}
	return 0, errors.Errorf("unknown access type %q", s)
}

// Element is one required capability on a target. An empty Table means database level.
// With AnyOf set, holding any single bit of Access is enough.
type Element struct {
	Access   AccessType
	Database string
	Table    string
	AnyOf    bool
}

func (e Element) String() string {
	target := e.Database
	if e.Table != "" {
		target += "." + e.Table
	}
	if e.AnyOf {
		return "any of " + e.Access.String() + " ON " + target
	}
	return e.Access.String() + " ON " + target
}

type Checker interface {
	CheckAccess(user string, element Element) error
}

// AllowAll grants everything. Used for internal users and when no grants are configured.
type AllowAll struct{}

func (AllowAll) CheckAccess(string, Element) error {
	return nil
}

// Grant gives Access on Database.Table; "*" or "" matches any name.
type Grant struct {
	Database string
	Table    string
	Access   AccessType
}

func (g Grant) covers(database, table string) bool {
	return matches(g.Database, database) && (table == "" && (g.Table == "" || g.Table == "*") || table != "" && matches(g.Table, table))
}

func matches(pattern, name string) bool {
	return pattern == "" || pattern == "*" || pattern == name
}

// Grants is an in-memory grant table keyed by user.
type Grants struct {
	mu     sync.RWMutex
	byUser map[string][]Grant
}

func NewGrants() *Grants {
	return &Grants{byUser: make(map[string][]Grant)}
}

func (g *Grants) Grant(user string, grant Grant) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byUser[user] = append(g.byUser[user], grant)
}

func (g *Grants) Users() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	users := make([]string, 0, len(g.byUser))
	for u := range g.byUser {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

func (g *Grants) CheckAccess(user string, element Element) error {
	g.mu.RLock()
	var held AccessType
	for _, grant := range g.byUser[user] {
		if grant.covers(element.Database, element.Table) {
			held |= grant.Access
		}
	}
	g.mu.RUnlock()

	if element.AnyOf && held&element.Access != 0 || !element.AnyOf && held&element.Access == element.Access {
		return nil
	}
	return ddlerr.New(ddlerr.AccessDenied, "%s: Not enough privileges. To execute this query it's necessary to have grant %s", user, element)
}
