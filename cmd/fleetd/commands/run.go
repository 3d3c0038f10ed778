package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/africapayments/fleetd/internal/api"
	"github.com/africapayments/fleetd/internal/autonomous"
	"github.com/africapayments/fleetd/internal/config"
	"github.com/africapayments/fleetd/internal/logging"
	"github.com/africapayments/fleetd/internal/metrics"
	"github.com/africapayments/fleetd/internal/provider"
	"github.com/africapayments/fleetd/internal/store"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fleet controller",
	Long: `Run the autonomous fleet controller: start the health monitor and the
enabled control loops, register the configured providers and serve the
admin API until interrupted.`,
	RunE: runController,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("log-level", "", "override configured log level")
}

func runController(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	opts := autonomous.Options{}

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		opts.Sink = metrics.NewPrometheusSink(registry)
	}

	var auditStore *store.Store
	if cfg.Store.Enabled {
		auditStore, err = store.Open(cfg.Store.Path, logger)
		if err != nil {
			return fmt.Errorf("failed to open audit store: %w", err)
		}
		defer auditStore.Close()
		opts.Store = auditStore
	}

	system, err := autonomous.New(cfg.Autonomous, opts, logger)
	if err != nil {
		return fmt.Errorf("failed to build autonomous system: %w", err)
	}

	for _, pc := range cfg.Providers {
		if pc.Disabled {
			continue
		}
		p, perr := provider.NewHTTPProvider(pc, logger)
		if perr != nil {
			return fmt.Errorf("failed to build provider %s: %w", pc.Name, perr)
		}
		if rerr := system.RegisterProvider(p, pc, cfg.Backups[pc.Name]); rerr != nil {
			return fmt.Errorf("failed to register provider %s: %w", pc.Name, rerr)
		}
	}

	if err := system.Start(); err != nil {
		return fmt.Errorf("failed to start autonomous system: %w", err)
	}

	var admin *api.Server
	if cfg.API.Enabled {
		admin, err = api.NewServer(cfg.API, system, auditStore, registry, logger)
		if err != nil {
			return fmt.Errorf("failed to build admin API: %w", err)
		}
		if err := admin.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start admin API: %w", err)
		}
	}

	// Reload provider tuning on config file changes.
	var watcher *config.Watcher
	if cfgFile != "" {
		watcher, err = config.NewWatcher(cfgFile, logger)
		if err != nil {
			logger.Warn("Config watcher unavailable", zap.Error(err))
		} else {
			watcher.OnChange(func() {
				logger.Info("Configuration file changed, restart to apply structural changes")
			})
			if werr := watcher.Start(); werr != nil {
				logger.Warn("Config watcher failed to start", zap.Error(werr))
			}
		}
	}

	logger.Info("Fleet controller running",
		zap.Int("providers", len(cfg.Providers)),
		zap.String("admin_addr", cfg.API.ListenAddr),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	if watcher != nil {
		watcher.Stop()
	}
	if admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := admin.Shutdown(ctx); err != nil {
			logger.Error("Admin API shutdown failed", zap.Error(err))
		}
	}
	if err := system.Stop(); err != nil {
		logger.Error("Autonomous system stop failed", zap.Error(err))
	}

	logger.Info("Fleet controller stopped")
	return nil
}
