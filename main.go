package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"cabbageDDL/bitcask"
	"cabbageDDL/logger"
	"cabbageDDL/server"
	"cabbageDDL/sql/catalog"
	"cabbageDDL/sql/interpreter"
	"cabbageDDL/storage"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cabbageddl",
	Short: "Catalog node executing DROP, DETACH and TRUNCATE",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config/ddl.yaml", "Configuration file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// node is everything run starts, kept apart so tests can drive it without listeners.
type node struct {
	store       *bitcask.BitCask
	catalog     *catalog.DatabaseCatalog
	interpreter *interpreter.Interpreter
	server      *server.Server
}

func openNode(ctx context.Context, cfg *Config) (*node, error) {
	nodeID := strconv.FormatUint(cfg.ID, 10)
	store, err := bitcask.NewCompact(filepath.Join(cfg.DataDir, "catalog"), cfg.CompactThresh)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog store")
	}
	replicas, err := catalog.NewFileReplicas(filepath.Join(cfg.DataDir, "replicas"), nodeID)
	if err != nil {
		store.Close()
		return nil, err
	}
	c, err := catalog.NewDatabaseCatalog(catalog.Config{
		Metadata:     store,
		Factory:      &storage.Factory{KV: store, MaxRowsToDrop: cfg.MaxTableRowsToDrop},
		Replicas:     replicas,
		ReclaimDelay: cfg.ReclaimDelay,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	checker, err := cfg.Checker()
	if err != nil {
		store.Close()
		return nil, err
	}

	in := interpreter.NewInterpreter(c, checker, interpreter.Settings{
		LockAcquireTimeout:       cfg.LockAcquireTimeout,
		WaitForDropSynchronously: cfg.WaitForDropSynchronously,
	})
	in.DefaultDatabase = cfg.DefaultDatabase
	if cfg.Cluster != "" {
		in.Cluster = &interpreter.LocalCluster{Name: cfg.Cluster, Interpreter: in}
	}
	c.SetStateMachine(&interpreter.LogApplier{Interpreter: in})

	n := &node{store: store, catalog: c, interpreter: in}
	if err = c.Load(ctx); err != nil {
		n.close()
		return nil, err
	}
	for _, db := range cfg.Databases {
		if c.TryGetDatabase(db.Name) != nil {
			continue
		}
		variant, err := catalog.ParseVariant(db.Engine)
		if err == nil {
			_, err = c.CreateDatabase(ctx, db.Name, variant)
		}
		if err != nil {
			n.close()
			return nil, errors.Wrapf(err, "create database %s", db.Name)
		}
		logger.Infof("created database %s (%s)", db.Name, variant)
	}

	n.server = server.NewServer(nodeID, c, in)
	n.server.DefaultUser = cfg.DefaultUser
	n.server.Store = store
	return n, nil
}

func (n *node) close() {
	n.catalog.Close()
	if err := n.store.Close(); err != nil {
		logger.Errorf("close catalog store: %v", err)
	}
}

func run(ctx context.Context, cfg *Config) error {
	if err := logger.InitLogger(strconv.FormatUint(cfg.ID, 10), cfg.LogLevel, cfg.LogDir); err != nil {
		return err
	}
	defer logger.Sync()

	n, err := openNode(ctx, cfg)
	if err != nil {
		return err
	}
	defer n.close()

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.ListenAddr)
	}
	httpServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           server.HTTPHandler(n.server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.catalog.RunReclaimer(gctx, cfg.ReclaimInterval)
	})
	g.Go(func() error {
		return n.server.Serve(gctx, listener)
	})
	g.Go(func() error {
		logger.Infof("serving metrics on %s", cfg.MetricsAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "metrics server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
