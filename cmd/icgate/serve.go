package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/icgate/internal/archive"
	"github.com/alfredjeanlab/icgate/internal/catalog"
	"github.com/alfredjeanlab/icgate/internal/config"
	"github.com/alfredjeanlab/icgate/internal/events"
	"github.com/alfredjeanlab/icgate/internal/server"
	"github.com/alfredjeanlab/icgate/internal/store"
	"github.com/alfredjeanlab/icgate/internal/store/memory"
	"github.com/alfredjeanlab/icgate/internal/store/postgres"
	"github.com/alfredjeanlab/icgate/internal/workflow"
)

func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
}

func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.UsesMemory() {
		logger.Warn("using in-process store; state is lost on exit")
		return memory.New(), nil
	}
	return postgres.New(cfg.DatabaseURL)
}

// openCatalog returns the builtin catalog unless a file is configured.
// A file catalog is returned as well so the caller can reload it.
func openCatalog(cfg *config.Config) (catalog.Provider, *catalog.FileProvider, error) {
	if cfg.CatalogFile == "" {
		return catalog.Static{Catalog: catalog.Default()}, nil, nil
	}
	fp, err := catalog.NewFileProvider(cfg.CatalogFile)
	if err != nil {
		return nil, nil, err
	}
	return fp, fp, nil
}

// archiveDestinations builds every configured archive target.
func archiveDestinations(ctx context.Context, cfg *config.Config, logger *slog.Logger) []archive.Destination {
	var dests []archive.Destination
	if cfg.ArchiveS3Bucket != "" {
		d, err := archive.NewS3Destination(ctx, cfg.ArchiveS3Bucket, cfg.ArchiveS3Key, cfg.ArchiveS3Region, cfg.ArchiveS3Endpoint, cfg.ArchiveS3History)
		if err != nil {
			logger.Error("failed to create S3 archive destination", "err", err)
		} else {
			dests = append(dests, d)
			logger.Info("archive S3 destination enabled", "bucket", cfg.ArchiveS3Bucket, "key", cfg.ArchiveS3Key)
		}
	}
	if cfg.ArchiveGitRepo != "" {
		dests = append(dests, archive.NewGitDestination(cfg.ArchiveGitRepo, cfg.ArchiveGitFile, cfg.ArchiveGitBranch))
		logger.Info("archive git destination enabled", "repo", cfg.ArchiveGitRepo, "file", cfg.ArchiveGitFile)
	}
	return dests
}

var serveCmd = &cobra.Command{
	Use:               "serve",
	Short:             "Start the icgate HTTP and gRPC servers",
	GroupID:           "system",
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		slog.SetDefault(logger)

		db, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		cat, fileCat, err := openCatalog(cfg)
		if err != nil {
			return err
		}

		// The hub feeds the SSE stream; NATS is optional.
		hub := server.NewHub()
		publishers := events.Multi{hub}
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				return err
			}
			publishers = append(publishers, pub)
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			logger.Info("NATS events disabled (ICGATE_NATS_URL not set)")
		}

		wf := workflow.New(db, cat,
			workflow.WithPublisher(publishers),
			workflow.WithLogger(logger),
			workflow.WithAuditPageSize(cfg.AuditPageSize),
		)
		srv := server.New(wf, hub)
		grpcServer := server.NewGRPCServer(srv, cfg.AuthToken)

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			_ = publishers.Close()
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		var scheduler *archive.Scheduler
		if cfg.ArchiveInterval > 0 {
			if dests := archiveDestinations(context.Background(), cfg, logger); len(dests) > 0 {
				scheduler = archive.NewScheduler(db, dests, cfg.ArchiveInterval, logger)
				scheduler.Start()
				logger.Info("archive scheduler started", "interval", cfg.ArchiveInterval)
			}
		}

		logger.Info("icgate server started", "grpc_addr", cfg.GRPCAddr, "http_addr", cfg.HTTPAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		for sig := range sigCh {
			if sig != syscall.SIGHUP {
				logger.Info("received signal, shutting down", "signal", sig)
				break
			}
			if fileCat == nil {
				logger.Info("SIGHUP ignored; builtin catalog in use")
				continue
			}
			if err := fileCat.Reload(); err != nil {
				logger.Error("catalog reload failed; keeping previous catalog", "err", err)
				continue
			}
			logger.Info("catalog reloaded", "file", cfg.CatalogFile)
		}

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("archive scheduler stopped")
		}

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		// Open event streams never finish on their own.
		_ = hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if err := publishers.Close(); err != nil {
			logger.Error("error closing publishers", "err", err)
		}
		logger.Info("shutdown complete")
		return nil
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Export the audit log once to the configured archive destinations",
	Long: `Export the audit log of every deal as JSONL. Uses the same ICGATE_* settings
as serve. With --out the export is written to a file (or "-" for stdout)
instead of the archive destinations.`,
	GroupID:           "system",
	PersistentPreRunE: noClient,
	Args:              cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		db, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		if out, _ := cmd.Flags().GetString("out"); out != "" {
			w := cmd.OutOrStdout()
			if out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return archive.ExportJSONL(ctx, db, w, time.Now())
		}

		dests := archiveDestinations(ctx, cfg, logger)
		if len(dests) == 0 {
			return fmt.Errorf("no archive destination configured (set ICGATE_ARCHIVE_S3_BUCKET or ICGATE_ARCHIVE_GIT_REPO, or use --out)")
		}
		return archive.NewScheduler(db, dests, cfg.ArchiveInterval, logger).RunOnce(ctx)
	},
}

func init() {
	archiveCmd.Flags().String("out", "", "write the export to this file (\"-\" for stdout)")
}
