package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"vbox-mcp/internal/config"
	"vbox-mcp/internal/execx"
	"vbox-mcp/internal/hyperv"
	"vbox-mcp/internal/mcp"
	"vbox-mcp/internal/ops"
	"vbox-mcp/internal/provider"
	"vbox-mcp/internal/store"
	"vbox-mcp/internal/telemetry"
	"vbox-mcp/internal/vbox"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vbox-mcp",
	Short: "MCP server exposing VirtualBox and Hyper-V management to AI agents",
	Long: "vbox-mcp speaks the Model Context Protocol over stdio and translates tool calls\n" +
		"into VBoxManage (or PowerShell Hyper-V) invocations. Logs go to stderr; stdout\n" +
		"is reserved for the RPC channel.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	// Serving is the default action.
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.vbox-mcp/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() error {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	var err error
	cfg, err = config.LoadWithEnvOverride(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(cfg.Logging)
	slog.SetDefault(logger)
	return nil
}

// newLogger builds the stderr logger. stdout is never written to.
func newLogger(lc config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newExecutor() *execx.Executor {
	return execx.New(execx.Config{
		Paths: map[execx.Program]string{
			execx.ProgramVBoxManage: cfg.VirtualBox.VBoxManagePath,
			execx.ProgramPowerShell: cfg.HyperV.PowerShellPath,
		},
		KillGrace: cfg.Exec.KillGrace,
	}, logger)
}

func newManager(executor *execx.Executor) provider.Manager {
	switch cfg.Backend {
	case "hyperv":
		return hyperv.New(executor,
			hyperv.WithLogger(logger),
			hyperv.WithDefaultTimeout(cfg.Exec.DefaultTimeout),
		)
	default:
		return vbox.New(executor,
			vbox.WithLogger(logger),
			vbox.WithDefaultTimeout(cfg.Exec.DefaultTimeout),
			vbox.WithStateTimeout(cfg.Exec.DefaultTimeout),
			vbox.WithResolverTTL(cfg.VirtualBox.ResolverTTL),
		)
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP over stdio (the default action)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	executor := newExecutor()
	mgr := newManager(executor)

	coord := ops.NewCoordinator(cfg.Ops.WorkerPoolSize, logger)
	coord.EnableMetrics(ops.MetricsOptions{
		Source:   mgr,
		RingSize: cfg.Ops.MetricRingSize,
		Interval: cfg.Ops.MetricInterval,
	})

	st := store.NewNoop()
	if cfg.Audit.Enabled {
		opened, err := store.Open(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		st = opened
	}
	defer st.Close()

	tele := telemetry.Service(telemetry.NewNoopService())
	if cfg.Telemetry.EnableAnonymousUsage {
		if svc, err := telemetry.NewPostHogService(
			posthogAPIKey, posthogEndpoint, uuid.NewString(), logger); err == nil {
			tele = svc
		} else {
			logger.Debug("telemetry disabled", "error", err)
		}
	}
	defer tele.Close()

	logger.Info("starting vbox-mcp",
		"version", mcp.Version,
		"backend", mgr.Name(),
		"available", mgr.Available(),
		"worker_pool", cfg.Ops.WorkerPoolSize,
	)

	srv := mcp.NewServer(cfg, mgr, coord, st, tele, logger)
	if err := srv.Serve(); err != nil {
		logger.Error("server terminated", "error", err)
		os.Exit(2)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.Warn("operations did not drain before shutdown", "error", err)
	}
	logger.Info("clean shutdown")
	return nil
}

// Telemetry project credentials; write-only and safe to embed.
const (
	posthogAPIKey   = "phc_vboxmcp_public"
	posthogEndpoint = "https://us.i.posthog.com"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check hypervisor binaries and report degraded-mode status",
	RunE: func(cmd *cobra.Command, args []string) error {
		executor := newExecutor()
		mgr := newManager(executor)

		fmt.Println("backend:", mgr.Name())
		switch cfg.Backend {
		case "hyperv":
			reportBinary(executor, execx.ProgramPowerShell)
		default:
			reportBinary(executor, execx.ProgramVBoxManage)
		}
		if !mgr.Available() {
			fmt.Println("status: DEGRADED (read-only tools only)")
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if v, err := mgr.Version(ctx); err == nil {
			fmt.Println("hypervisor version:", v)
		} else {
			fmt.Println("hypervisor version: unavailable:", err)
		}
		fmt.Println("status: ok")
		return nil
	},
}

func reportBinary(executor *execx.Executor, p execx.Program) {
	if executor.Available(p) {
		fmt.Printf("%s: %s\n", p, executor.Path(p))
	} else {
		fmt.Printf("%s: NOT FOUND\n", p)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the server version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("vbox-mcp", mcp.Version)
	},
}
