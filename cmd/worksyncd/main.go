package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hydepark/worksync/internal/config"
	"github.com/hydepark/worksync/internal/db"
	"github.com/hydepark/worksync/internal/faces"
	"github.com/hydepark/worksync/internal/hikcentral"
	"github.com/hydepark/worksync/internal/httpapi"
	"github.com/hydepark/worksync/internal/imagecache"
	"github.com/hydepark/worksync/internal/observability"
	"github.com/hydepark/worksync/internal/reqlog"
	"github.com/hydepark/worksync/internal/upstream"
	"github.com/hydepark/worksync/internal/worksync/service"
	"github.com/hydepark/worksync/internal/worksync/store/sqlite"
	"github.com/hydepark/worksync/internal/worksync/types"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "worksyncd",
		Short: "Synchronizes worker identities into the site access-control platform",
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "TOML config file overlaid on the environment")

	root.AddCommand(runCmd(), onceCmd(), workersCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg := config.FromEnv()

	path := configFile
	if path == "" {
		path = os.Getenv("WORKSYNC_CONFIG")
	}
	if path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return cfg, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	return cfg, nil
}

// engine bundles everything a sync run needs so that run and once share one
// wiring path.
type engine struct {
	cfg       config.Config
	logger    zerolog.Logger
	database  *sql.DB
	writer    *db.Worker
	workers   *sqlite.WorkerStore
	logs      *sqlite.RequestLogStore
	source    *upstream.Client
	processor *service.Processor
}

func buildEngine(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	database, err := db.Open(ctx, db.Config{Path: cfg.DBPath})
	if err != nil {
		return nil, err
	}

	writer := db.NewWorker(database)
	workers := sqlite.NewWorkerStore(database, writer)
	logs := sqlite.NewRequestLogStore(database, writer, cfg.MaxRequestLogs)
	recorder := reqlog.NewRecorder(logs, logger)

	source := upstream.NewClient(upstream.Config{
		BaseURL:     cfg.UpstreamBaseURL,
		APIKey:      cfg.UpstreamAPIKey,
		BearerToken: cfg.UpstreamBearerToken,
		Timeout:     cfg.HTTPTimeout(),
	}, logger, recorder)

	acs, err := hikcentral.NewClient(hikcentral.Config{
		BaseURL:            cfg.HikBaseURL,
		AppKey:             cfg.HikAppKey,
		AppSecret:          cfg.HikAppSecret,
		UserID:             cfg.HikUserID,
		OrgIndexCode:       cfg.HikOrgIndexCode,
		PrivilegeGroupID:   cfg.HikPrivilegeGroupID,
		InsecureSkipVerify: cfg.HikInsecureSkipVerify,
		Timeout:            cfg.HTTPTimeout(),
	}, logger, recorder)
	if err != nil {
		writer.Close()
		_ = database.Close()
		return nil, err
	}

	images, err := imagecache.New(cfg.DataDir, cfg.HTTPTimeout(), logger)
	if err != nil {
		writer.Close()
		_ = database.Close()
		return nil, err
	}

	encoder := faces.NewHTTPEncoder(cfg.EncoderURL, cfg.HTTPTimeout(), logger)
	gate := faces.NewGate(encoder, cfg.FaceMatchThreshold, logger)

	processor := service.NewProcessor(service.Dependencies{
		Source:        source,
		AccessControl: acs,
		Workers:       workers,
		Gate:          gate,
		Images:        images,
		Logger:        logger,
		EventLimit:    cfg.EventLimit,
	})

	return &engine{
		cfg:       cfg,
		logger:    logger,
		database:  database,
		writer:    writer,
		workers:   workers,
		logs:      logs,
		source:    source,
		processor: processor,
	}, nil
}

func (e *engine) close() {
	e.writer.Close()
	_ = e.database.Close()
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon: poller, log pruner and dashboard API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.InitLogger("worksyncd")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := buildEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer eng.close()

			poller := service.NewPoller(eng.processor, cfg.SyncInterval(), logger)
			poller.Start(ctx)
			defer poller.Stop()

			pruner := service.NewLogPruner(eng.logs, service.PrunerConfig{
				RetentionDays: cfg.LogRetentionDays,
				IntervalHours: cfg.PruneIntervalHours,
			}, logger)
			pruner.Start(ctx)
			defer pruner.Stop()

			srv := httpapi.NewServer(httpapi.Dependencies{
				Logger:  logger,
				Addr:    cfg.DashboardAddr,
				Workers: eng.workers,
				Logs:    eng.logs,
				Events:  eng.source,
			})

			go func() {
				logger.Info().Str("addr", cfg.DashboardAddr).Msg("dashboard listening")
				if err := srv.Start(); err != nil && err != http.ErrServerClosed {
					logger.Error().Err(err).Msg("dashboard server stopped")
					stop()
				}
			}()

			<-ctx.Done()
			logger.Info().Msg("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			return nil
		},
	}
}

func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single sync cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.InitLogger("worksyncd")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := buildEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer eng.close()

			return eng.processor.ProcessCycle(ctx)
		},
	}
}

func workersCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "List synchronized worker records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			database, err := db.Open(ctx, db.Config{Path: cfg.DBPath})
			if err != nil {
				return err
			}
			defer database.Close()

			writer := db.NewWorker(database)
			defer writer.Close()

			filter := types.WorkerStatus(status)
			if status != "" && !types.ValidStatus(filter) {
				return fmt.Errorf("invalid status %q", status)
			}

			records, err := sqlite.NewWorkerStore(database, writer).ListAll(ctx, filter)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-16s %-12s %-10s %-12s %-6s %s\n",
				"IDENTITY", "WORKER ID", "STATUS", "PERSON ID", "GRANT", "NAME")
			for _, r := range records {
				fmt.Fprintf(w, "%-16s %-12s %-10s %-12s %-6t %s\n",
					r.IdentityKey, r.ExternalWorkerID, r.Status, r.RemotePersonID,
					r.HasAccessGrant, r.FullName)
			}
			fmt.Fprintf(w, "\n%d worker(s)\n", len(records))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending|approved|blocked|deleted)")
	return cmd
}
