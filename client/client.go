// Package client talks to a cabbageDDL node over its prefix-framed gob protocol.
package client

import (
	"context"
	"net"
	"strings"
	"sync"

	"cabbageDDL/ddlerr"
	"cabbageDDL/server"
	"cabbageDDL/sql/ast"
	"cabbageDDL/util"

	"github.com/pkg/errors"
)

// Client is one connection, and so one server-side session. Calls are serialized.
type Client struct {
	Conn      net.Conn
	SessionID string

	mu sync.Mutex
}

func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return &Client{Conn: conn}, nil
}

func (c *Client) Close() error {
	return c.Conn.Close()
}

func call[Req, Resp any](c *Client, prefix byte, req *Req, resp *Resp) error {
	var reqByte []byte
	var err error
	if req != nil {
		if reqByte, err = util.GobEncode(req); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err = util.SendPrefixMsg(c.Conn, [2]byte{server.ClientPrefix, prefix}, reqByte); err != nil {
		return errors.Wrap(err, "client disconnected")
	}
	respPrefix, err := util.ReceivePrefix(c.Conn)
	if err != nil {
		return errors.Wrap(err, "server is not responding")
	}
	if respPrefix[0] != server.ClientPrefix {
		return errors.New("protocol validation failed: invalid packet header")
	}
	respByte, err := util.ReceiveMsg(c.Conn)
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	switch respPrefix[1] {
	case server.RespErrPrefix:
		errResp := server.RespError{}
		if err = util.GobDecode(respByte, &errResp); err != nil {
			return err
		}
		return remoteError(&errResp)
	case server.AckPrefix:
		return nil
	case prefix:
		return util.GobDecode(respByte, resp)
	}
	return errors.Errorf("unexpected response 0x%02x to request 0x%02x", respPrefix[1], prefix)
}

// remoteError rebuilds a coded error so that ddlerr.Is works on the client side.
func remoteError(resp *server.RespError) error {
	if resp.Code == 0 {
		return errors.New(resp.Errmsg)
	}
	return ddlerr.New(resp.Code, "%s", strings.TrimPrefix(resp.Errmsg, resp.Code.String()+": "))
}

func (c *Client) Login(user, database string) error {
	resp := server.LoginResp{}
	if err := call(c, server.LoginPrefix, &server.Login{User: user, Database: database}, &resp); err != nil {
		return err
	}
	c.SessionID = resp.SessionID
	return nil
}

func (c *Client) CreateDatabase(name, engine string) error {
	return call(c, server.CreateDatabasePrefix, &server.CreateDatabase{Name: name, Engine: engine}, (*server.Ack)(nil))
}

func (c *Client) CreateTable(req *server.CreateTable) error {
	return call(c, server.CreateTablePrefix, req, (*server.Ack)(nil))
}

func (c *Client) CreateDictionary(database, name, source string) error {
	req := &server.CreateDictionary{Database: database, Name: name, Source: source}
	return call(c, server.CreateDictionaryPrefix, req, (*server.Ack)(nil))
}

func (c *Client) Insert(database, table string, rows ...[]byte) error {
	return call(c, server.InsertPrefix, &server.Insert{Database: database, Table: table, Rows: rows}, (*server.Ack)(nil))
}

// Drop executes a DROP, DETACH or TRUNCATE. With wait, a mutation forwarded to a replicated
// log returns once it is applied.
func (c *Client) Drop(stmt ast.DropStmt, wait bool) (*server.DropResp, error) {
	resp := server.DropResp{}
	if err := call(c, server.DropPrefix, &server.Drop{Stmt: stmt, Wait: wait}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListTables(database string) (*server.ListTablesResp, error) {
	resp := server.ListTablesResp{}
	if err := call(c, server.ListTablesPrefix, &server.ListTables{Database: database}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Status() (*server.NodeStatus, error) {
	resp := server.StatusResp{}
	if err := call(c, server.StatusPrefix, (*server.Status)(nil), &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}
