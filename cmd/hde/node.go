package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/revdeluxe/HDE/internal/api"
	"github.com/revdeluxe/HDE/internal/handlers"
	"github.com/revdeluxe/HDE/internal/log"
	"github.com/revdeluxe/HDE/internal/store"
	"github.com/revdeluxe/HDE/pkg/lora"
)

const shutdownTimeout = 10 * time.Second

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a node: radio link, message log and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		logger := log.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		r, err := openRadio(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to open radio: %w", err)
		}
		defer r.Close()

		link, err := lora.NewLink(r.driver)
		if err != nil {
			return err
		}
		link.Logger = logger
		if cfg.Link.PollInterval > 0 {
			link.PollInterval = cfg.Link.PollInterval
		}

		msgLog, db, err := openLog(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to open message log: %w", err)
		}
		if db != nil {
			defer db.Close()
		}

		node, err := lora.NewNode(cfg.NodeID, link, msgLog, cfg.NodeOptions(logger))
		if err != nil {
			return err
		}
		if r.uplink != nil {
			node.Subscribe(r.uplink)
		}

		var pinger handlers.Pinger
		if db != nil {
			pinger = db
		}
		h := handlers.NewHandler(cfg.NodeID, node, pinger)
		h.HandshakeTimeout = cfg.Sync.HandshakeTimeout
		h.Version = version
		srv := api.NewServer(cfg.HTTP.Listen, api.NewRouter(logger, h))

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return node.Run(gctx)
		})
		g.Go(func() error {
			logger.Info("Starting API server", "addr", cfg.HTTP.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

// openLog opens the SQLite log at path, or an in-memory log when path is empty.
func openLog(ctx context.Context, path string) (lora.MessageLog, *store.SQLiteLog, error) {
	if path == "" {
		return lora.NewMemoryLog(), nil, nil
	}
	db, err := store.NewSQLiteLog(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return db, db, nil
}

func init() {
	rootCmd.AddCommand(nodeCmd)
}
