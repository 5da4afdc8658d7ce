package main

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/csw-project/csw/internal/config"
	"github.com/csw-project/csw/internal/controller"
	"github.com/csw-project/csw/internal/httpapi"
	"github.com/csw-project/csw/internal/interposer"
	"github.com/csw-project/csw/internal/logging"
	"github.com/csw-project/csw/internal/monitor"
	"github.com/csw-project/csw/internal/obsmetrics"
	"github.com/csw-project/csw/internal/webhook"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type cliConfig struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &cliConfig{}

	root := &cobra.Command{
		Use:   "csw",
		Short: "csw — controller sleep watcher",
		Long: `csw stands in front of idle Minecraft servers, answering status and
login traffic so they appear online while stopped, and wakes them on
demand via a controller API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.configPath, "config", envOrDefault("CSW_CONFIG", "/etc/csw/config.yaml"), "Path to config.yaml")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("CSW_LOG_LEVEL", ""), "Log level override (debug, info, warn, error); defaults to the config file's log.level")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("csw %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cliCfg *cliConfig) error {
	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logLevel := cfg.LogLevel
	if cliCfg.logLevel != "" {
		logLevel = cliCfg.logLevel
	}

	logger, err := logging.Build(logLevel, cfg.LogFile, true)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting csw",
		zap.String("version", version),
		zap.String("config", cliCfg.configPath),
		zap.Int("servers", len(cfg.Servers)),
		zap.String("controller_base_url", cfg.Controller.BaseURL),
	)

	// --- Signal handling ---
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)

	// --- 1. Metrics ---
	metrics := obsmetrics.New()

	// --- 2. Controller client ---
	controllerClient := controller.New(controller.Config{
		BaseURL:    cfg.Controller.BaseURL,
		Token:      cfg.Token,
		Timeout:    cfg.Controller.RequestTimeout,
		BulkStatus: cfg.Controller.BulkStatus,
	})

	// --- 3. Webhook sender ---
	webhookSender := webhook.New(cfg.WebhookURL, cfg.WebhookSecret)

	// --- 4. Monitor (wires the FSM + interposers together) ---
	mon := monitor.New(cfg, logger, controllerClient, webhookSender, metrics, interposerBuilder(logger))

	go mon.Run(ctx)

	// --- 5. HTTP surface (health, status, metrics) ---
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Logger:   logger,
		Status:   mon,
		Registry: metrics.Registry,
	})

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HealthPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.HealthPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	// --- Main loop: wait for shutdown, reload, or a fatal controller error ---
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down csw")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http server graceful shutdown error", zap.Error(err))
			}
			shutdownCancel()
			logger.Info("csw stopped")
			return nil

		case err := <-mon.Fatal:
			logger.Error("fatal controller error, exiting", zap.Error(err))
			cancel()

		case <-hupCh:
			logger.Info("received SIGHUP, reloading config", zap.String("path", cliCfg.configPath))
			newCfg, err := config.Reload(cliCfg.configPath)
			if err != nil {
				logger.Error("config reload failed, keeping previous config", zap.Error(err))
				continue
			}
			reloadedClient := controller.New(controller.Config{
				BaseURL:    newCfg.Controller.BaseURL,
				Token:      newCfg.Token,
				Timeout:    newCfg.Controller.RequestTimeout,
				BulkStatus: newCfg.Controller.BulkStatus,
			})
			reloadedWebhook := webhook.New(newCfg.WebhookURL, newCfg.WebhookSecret)
			mon.Reload(newCfg, reloadedClient, reloadedWebhook, interposerBuilder(logger))
			cfg = newCfg
			logger.Info("config reloaded", zap.Int("servers", len(cfg.Servers)))
		}
	}
}

// portOwner is an alias for the same interface literal that monitor's
// unexported portOwner aliases, so interposerBuilder's func type is
// identical to the one monitor.New/Reload expect, without either package
// needing to export a name.
type portOwner = interface {
	Acquire(int) error
	Release() error
}

// interposerBuilder returns the factory monitor.New/Reload use to turn a
// server descriptor into the right protocol-specific interposer.
func interposerBuilder(logger *zap.Logger) func(config.ServerConfig, func(string)) portOwner {
	return func(sc config.ServerConfig, onWake func(string)) portOwner {
		if sc.Kind == config.KindBedrock {
			return interposer.NewBedrock(interposer.BedrockConfig{
				ServerID:          sc.CraftyServerID,
				ListenAddr:        sc.BindAddress,
				MOTDLine1:         sc.MOTD,
				MOTDLine2:         sc.VersionName,
				Protocol:          sc.ProtocolVersion,
				VersionName:       sc.VersionName,
				MaxPlayers:        sc.MaxPlayers,
				ServerGUID:        serverGUID(sc.Name),
				PortIPv4:          sc.ListenPort,
				PortIPv6:          sc.ListenPort,
				WakePolicy:        wakePolicyFromConfig(sc.BedrockWakeOnPing),
			}, logger, onWake)
		}
		return interposer.NewJava(interposer.JavaConfig{
			ServerID:          sc.CraftyServerID,
			ListenAddr:        sc.BindAddress,
			VersionName:       sc.VersionName,
			ProtocolVersion:   sc.ProtocolVersion,
			MaxPlayers:        sc.MaxPlayers,
			MOTD:              sc.MOTD,
			DisconnectMessage: sc.StartingKickMessage,
		}, logger, onWake)
	}
}

func wakePolicyFromConfig(w config.WakeOnPing) interposer.WakePolicy {
	switch w {
	case config.WakeOnPingAlways:
		return interposer.WakeAlways
	case config.WakeOnPingNever:
		return interposer.WakeNever
	default:
		return interposer.WakeRepeated
	}
}

// serverGUID derives a stable RakNet server GUID from the server's
// configured name, so it stays constant across restarts without requiring
// an extra config key.
func serverGUID(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
