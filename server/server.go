package server

import (
	"context"
	"net"
	"sync"

	"cabbageDDL/bitcask"
	"cabbageDDL/ddlerr"
	"cabbageDDL/log"
	"cabbageDDL/logger"
	"cabbageDDL/sql/ast"
	"cabbageDDL/sql/catalog"
	"cabbageDDL/sql/interpreter"
	"cabbageDDL/storage"
	"cabbageDDL/util"

	"github.com/pkg/errors"
)

const (
	ClientPrefix = 0x08

	LoginPrefix            = 0x01
	CreateDatabasePrefix   = 0x02
	CreateTablePrefix      = 0x03
	CreateDictionaryPrefix = 0x04
	InsertPrefix           = 0x05
	DropPrefix             = 0x06
	ListTablesPrefix       = 0x07
	StatusPrefix           = 0x09
	RespErrPrefix          = 0x0a
	AckPrefix              = 0x0b
)

type Server struct {
	NodeID      string
	Catalog     *catalog.DatabaseCatalog
	Interpreter *interpreter.Interpreter
	// DefaultUser is the user of connections that never sent a Login.
	DefaultUser string
	// Store is reported by Status when set.
	Store interface{ Status() *bitcask.Status }

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewServer(nodeID string, c *catalog.DatabaseCatalog, in *interpreter.Interpreter) *Server {
	return &Server{
		NodeID:      nodeID,
		Catalog:     c,
		Interpreter: in,
		DefaultUser: "default",
		conns:       make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until ctx is done, then closes every open connection and waits
// for their handlers.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		listener.Close()
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
	})
	defer stop()
	defer s.wg.Wait()

	logger.Infof("serving DDL requests on %s", listener.Addr())
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warnf("accept: %v", err)
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			NewSession(s).Handle(ctx, conn)
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

// Login replaces the connection's session. Temporary tables of the old session are dropped.
type Login struct {
	User     string
	Database string
}

type LoginResp struct {
	SessionID string
}

type CreateDatabase struct {
	Name   string
	Engine string
}

type CreateTable struct {
	Database  string
	Name      string
	Engine    string
	Query     string
	Temporary bool
}

type CreateDictionary struct {
	Database string
	Name     string
	Source   string
}

type Insert struct {
	Database string
	Table    string
	Rows     [][]byte
}

type Drop struct {
	Stmt ast.DropStmt
	// Wait blocks until a forwarded mutation is applied.
	Wait bool
}

type DropResp struct {
	Forwarded bool
	Index     log.Index
	Rows      []log.FeedbackRow
}

type ListTables struct {
	Database string
}

type ListTablesResp struct {
	Database     string
	Tables       []string
	Dictionaries []string
	Temporary    []string
}

// Status and Ack carry no payload.
type Status struct{}

type StatusResp struct {
	Data *NodeStatus
}

type Ack struct{}

type RespError struct {
	Code   ddlerr.Code
	Errmsg string
}

type ClientSession struct {
	Server *Server
	SQL    *catalog.Session
}

func NewSession(s *Server) *ClientSession {
	return &ClientSession{
		Server: s,
		SQL:    catalog.NewSession(s.DefaultUser, s.Interpreter.DefaultDatabase),
	}
}

func (s *ClientSession) Handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		s.SQL.Close()
	}()
	for {
		respPrefix, resp, err := s.Request(ctx, conn)
		var netErr *NetConn
		if errors.As(err, &netErr) {
			break
		}

		prefix := [2]byte{ClientPrefix, respPrefix}
		var respByte []byte
		if err == nil {
			respByte, err = encodeResponse(resp)
		}
		if err != nil {
			prefix[1] = RespErrPrefix
			respByte, _ = util.GobEncode(&RespError{Code: ddlerr.CodeOf(err), Errmsg: err.Error()})
		}
		if err = util.SendPrefixMsg(conn, prefix, respByte); err != nil {
			logger.Debugf("session %s: send response: %v", s.SQL.ID, err)
			break
		}
	}
}

func encodeResponse(resp any) ([]byte, error) {
	switch v := resp.(type) {
	case *LoginResp:
		return util.GobEncode(v)
	case *DropResp:
		return util.GobEncode(v)
	case *ListTablesResp:
		return util.GobEncode(v)
	case *StatusResp:
		return util.GobEncode(v)
	case *Ack:
		return nil, nil
	}
	return nil, errors.Errorf("unknown response %T", resp)
}

type NetConn struct {
	Err error
}

func (n *NetConn) Error() string {
	return n.Err.Error()
}

// Request reads one request and executes it. It returns the prefix of the response.
func (s *ClientSession) Request(ctx context.Context, conn net.Conn) (byte, any, error) {
	prefix, err := util.ReceivePrefix(conn)
	if err != nil {
		return 0, nil, &NetConn{Err: err}
	}
	if prefix[0] != ClientPrefix {
		return 0, nil, &NetConn{Err: errors.New("conn protocol validation failed: invalid packet header")}
	}
	payload, err := util.ReceiveMsg(conn)
	if err != nil {
		return 0, nil, &NetConn{Err: err}
	}

	switch prefix[1] {
	case LoginPrefix:
		req := Login{}
		if err = util.GobDecode(payload, &req); err != nil {
			return 0, nil, err
		}
		resp := s.login(&req)
		return LoginPrefix, resp, nil

	case CreateDatabasePrefix:
		req := CreateDatabase{}
		if err = util.GobDecode(payload, &req); err != nil {
			return 0, nil, err
		}
		variant, err1 := catalog.ParseVariant(req.Engine)
		if err1 != nil {
			return 0, nil, err1
		}
		if _, err = s.Server.Catalog.CreateDatabase(ctx, req.Name, variant); err != nil {
			return 0, nil, err
		}
		return AckPrefix, &Ack{}, nil

	case CreateTablePrefix:
		req := CreateTable{}
		if err = util.GobDecode(payload, &req); err != nil {
			return 0, nil, err
		}
		if req.Temporary {
			_, err = s.SQL.CreateTemporaryTable(req.Name)
		} else {
			_, err = s.Server.Catalog.CreateTable(ctx, s.database(req.Database),
				storage.Definition{Name: req.Name, Engine: req.Engine, Query: req.Query})
		}
		if err != nil {
			return 0, nil, err
		}
		return AckPrefix, &Ack{}, nil

	case CreateDictionaryPrefix:
		req := CreateDictionary{}
		if err = util.GobDecode(payload, &req); err != nil {
			return 0, nil, err
		}
		_, err = s.Server.Catalog.CreateDictionary(ctx, s.database(req.Database),
			catalog.DictionaryMeta{Name: req.Name, Source: req.Source})
		if err != nil {
			return 0, nil, err
		}
		return AckPrefix, &Ack{}, nil

	case InsertPrefix:
		req := Insert{}
		if err = util.GobDecode(payload, &req); err != nil {
			return 0, nil, err
		}
		if err = s.insert(&req); err != nil {
			return 0, nil, err
		}
		return AckPrefix, &Ack{}, nil

	case DropPrefix:
		req := Drop{}
		if err = util.GobDecode(payload, &req); err != nil {
			return 0, nil, err
		}
		resp, err1 := s.drop(ctx, &req)
		if err1 != nil {
			return 0, nil, err1
		}
		return DropPrefix, resp, nil

	case ListTablesPrefix:
		req := ListTables{}
		if err = util.GobDecode(payload, &req); err != nil {
			return 0, nil, err
		}
		resp, err1 := s.listTables(&req)
		if err1 != nil {
			return 0, nil, err1
		}
		return ListTablesPrefix, resp, nil

	case StatusPrefix:
		return StatusPrefix, &StatusResp{Data: s.Server.Status()}, nil
	}

	return 0, nil, ddlerr.New(ddlerr.MalformedRequest, "unknown request prefix 0x%02x", prefix[1])
}

func (s *ClientSession) database(name string) string {
	if name != "" {
		return name
	}
	return s.SQL.CurrentDatabase
}

func (s *ClientSession) login(req *Login) *LoginResp {
	user := req.User
	if user == "" {
		user = s.Server.DefaultUser
	}
	database := req.Database
	if database == "" {
		database = s.Server.Interpreter.DefaultDatabase
	}
	s.SQL.Close()
	s.SQL = catalog.NewSession(user, database)
	logger.Debugw("login", "session", s.SQL.ID.String(), "user", user, "database", database)
	return &LoginResp{SessionID: s.SQL.ID.String()}
}

func (s *ClientSession) insert(req *Insert) error {
	var table storage.Table
	if req.Database == "" {
		table = s.SQL.TryGetTemporaryTable(req.Table)
	}
	if table == nil {
		database := s.database(req.Database)
		_, table = s.Server.Catalog.TryGetDatabaseAndTable(database, req.Table)
		if table == nil {
			return ddlerr.New(ddlerr.UnknownTarget, "Table %s.%s doesn't exist", database, req.Table)
		}
	}
	defer table.Release()
	if table.IsShutdown() {
		return ddlerr.New(ddlerr.UnknownTarget, "Table %s is shut down", req.Table)
	}
	return table.Insert(req.Rows...)
}

func (s *ClientSession) drop(ctx context.Context, req *Drop) (*DropResp, error) {
	res, err := s.Server.Interpreter.Execute(ctx, s.Server.Interpreter.NewQueryContext(s.SQL), &req.Stmt)
	if err != nil {
		return nil, err
	}
	resp := &DropResp{Forwarded: res.Forwarded()}
	if !resp.Forwarded {
		return resp, nil
	}
	resp.Index = res.Feedback.Index
	if req.Wait {
		if resp.Rows, err = res.Feedback.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (s *ClientSession) listTables(req *ListTables) (*ListTablesResp, error) {
	database := s.database(req.Database)
	db, err := s.Server.Catalog.GetDatabase(database)
	if err != nil {
		return nil, err
	}
	return &ListTablesResp{
		Database:     database,
		Tables:       db.TableNames(),
		Dictionaries: db.DictionaryNames(),
		Temporary:    s.SQL.TemporaryTableNames(),
	}, nil
}
