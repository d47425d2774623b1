// Package main is the CLI entry point for kioskd.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pavkata12/client8/internal/config"
	"github.com/pavkata12/client8/internal/daemon"
	"github.com/pavkata12/client8/internal/domain"
	"github.com/pavkata12/client8/internal/infra"
	"github.com/pavkata12/client8/internal/metrics"
	"github.com/pavkata12/client8/internal/remote"
	"github.com/pavkata12/client8/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kioskd",
	Short: "Workstation lockdown agent for shared-access terminals",
	Long: `kioskd keeps a terminal locked until the session server grants a
timed session, relaxes the lockdown while the session runs and locks the
machine again on expiry, forced logout or disconnect.`,
	Version:      Version,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent in the foreground",
	Long: `Locks the machine, connects to the session server and drives sessions
until interrupted. A clean exit releases every restriction.`,
	RunE: runAgent,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent status",
	Long:  `Reads the status file published by a running agent.`,
	RunE:  runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List lockdown tables",
	Long:  `Shows the blocked key combinations, process rules and restriction flags from the configuration.`,
	RunE:  runList,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one process guard sweep immediately",
	RunE:  runScan,
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore restriction flags to their recorded baseline",
	Long: `Removes the configured restrictions using the snapshot journal. Use it to
recover a machine after the agent was killed while locked.`,
	RunE: runRestore,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath  string
	consoleMode bool
	metricsAddr string
	jsonOutput  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default <data dir>/config.yaml)")
	runCmd.Flags().BoolVar(&consoleMode, "console", false, "Read logins from stdin")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig(mode *infra.ExecModeConfig) (*config.Config, string, error) {
	path := configPath
	if path == "" {
		path = mode.ConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	if cfg.Agent.DataDir != "" {
		mode.DataDir = cfg.Agent.DataDir
		mode.StatusPath = filepath.Join(cfg.Agent.DataDir, "status.json")
		mode.LogPath = filepath.Join(cfg.Agent.DataDir, infra.AppName+".log")
	}
	if cfg.Agent.LogFile != "" {
		mode.LogPath = cfg.Agent.LogFile
	}
	return cfg, path, nil
}

func runAgent(cmd *cobra.Command, args []string) error {
	mode := infra.DetectExecMode()
	cfg, path, err := loadConfig(mode)
	if err != nil {
		return err
	}

	logger := createLogger(mode.LogPath, cfg.Agent.LogLevel)
	defer func() { _ = logger.Sync() }()
	defer memguard.Purge()

	logger.Info("kioskd starting",
		zap.String("version", Version),
		zap.String("mode", mode.Mode.String()),
		zap.String("config", path))

	set, err := cfg.LockdownSet()
	if err != nil {
		return err
	}

	m := metrics.New()
	pm := infra.NewProcessManager()

	notifier := infra.MultiNotifier{infra.NewLogNotifier(logger)}
	if consoleMode {
		notifier = append(notifier, newConsoleNotifier(os.Stdout))
	}

	interceptor := usecase.NewInterceptor(infra.NewKeyFilter(), infra.NewPrivilegeChecker(), logger)
	m.RegisterBlockedKeys(interceptor.BlockedCount)

	guard := usecase.NewProcessGuard(pm, infra.NewWindowCloser(), notifier, m, logger, set.ProcessRules)

	var journal domain.SnapshotJournal
	if j, err := infra.OpenJournal(mode.DataDir); err != nil {
		logger.Warn("snapshot journal unavailable, baselines kept in memory only", zap.Error(err))
	} else {
		journal = j
		defer j.Close()
	}
	enforcer := usecase.NewRestrictionEnforcer(infra.NewPolicyStore(), journal, m, logger)

	endpoints, err := remote.NewEndpoints(cfg.Endpoints(), cfg.Server.Secure)
	if err != nil {
		return err
	}
	computerID := infra.ComputerID(cfg.Agent.ComputerID)
	client := remote.NewClient(remote.Config{
		ComputerID:     computerID,
		ConnectTimeout: cfg.Server.ConnectTimeout,
		LoginTimeout:   cfg.Server.LoginTimeout,
	}, endpoints, logger)
	logger.Info("computer id", zap.String("computer_id", computerID))

	ctrlCfg := daemon.DefaultControllerConfig()
	ctrlCfg.MaxReconnectAttempts = cfg.Server.MaxReconnectAttempts
	ctrlCfg.WarningThresholds = cfg.Session.WarningThresholds
	ctrlCfg.GuardInterval = cfg.Lockdown.ScanInterval
	ctrlCfg.AppVersion = Version
	ctrl := daemon.NewController(ctrlCfg, set, interceptor, guard, enforcer, client, notifier, m, daemon.RealClock{}, logger)

	status := infra.NewStatusFile(mode.StatusPath, pm)
	supervisor := daemon.NewSupervisor(daemon.DefaultSupervisorConfig(), guard, ctrl, status, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services := []service{
		{name: "supervisor", run: supervisor.Run},
	}

	if w, err := config.NewWatcher(path, func(c *config.Config) {
		next, err := c.LockdownSet()
		if err != nil {
			logger.Warn("reloaded lockdown tables rejected", zap.Error(err))
			return
		}
		ctrl.ReloadLockdown(next)
	}, logger); err != nil {
		logger.Warn("config hot-reload disabled", zap.Error(err))
	} else {
		services = append(services, service{name: "config watcher", run: w.Run})
	}

	addr := metricsAddr
	if addr == "" {
		addr = cfg.Agent.MetricsAddr
	}
	if addr != "" {
		handler := promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})
		services = append(services, service{name: "metrics", run: func(ctx context.Context) error {
			logger.Info("serving metrics", zap.String("addr", addr))
			return serveMetrics(ctx, addr, handler)
		}})
	}

	if consoleMode {
		services = append(services, service{name: "console", run: func(ctx context.Context) error {
			return runConsole(ctx, os.Stdin, os.Stdout, ctrl)
		}})
	}

	err = runServices(ctx, logger, ctrl.Run, services...)
	if cerr := status.Clear(); cerr != nil {
		logger.Warn("failed to clear status file", zap.Error(cerr))
	}
	logger.Info("kioskd stopped")
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	mode := infra.DetectExecMode()
	if _, _, err := loadConfig(mode); err != nil {
		return err
	}
	status := infra.NewStatusFile(mode.StatusPath, infra.NewProcessManager())

	fmt.Println("\n=== kioskd Status ===")

	st, err := status.Read()
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	alive, _ := status.IsAgentAlive()
	if st == nil || !alive {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'kioskd run' to start the agent.")
		return nil
	}

	fmt.Printf("Status: RUNNING (pid %d)\n", st.PID)
	fmt.Printf("Phase: %s\n", st.Phase)
	fmt.Printf("Connection: %s", st.Connection)
	if st.Endpoint != "" {
		fmt.Printf(" (%s)", st.Endpoint)
	}
	fmt.Println()
	if st.ReconnectAttempt > 0 {
		fmt.Printf("Reconnect attempts: %d\n", st.ReconnectAttempt)
	}

	profile := string(st.ProfileMode)
	if !st.InputActive {
		profile = "inactive"
	}
	fmt.Printf("Key filter: %s\n", profile)
	if st.GuardAlive {
		fmt.Println("Process guard: running")
	} else {
		fmt.Println("Process guard: DOWN")
	}
	if st.Phase == domain.PhaseSessionActive {
		fmt.Printf("Remaining: %s\n", (time.Duration(st.RemainingSeconds) * time.Second).String())
	}
	fmt.Printf("Execution mode: %s\n", mode.Mode)

	if st.LastHeartbeat > 0 {
		lastBeat := time.Unix(st.LastHeartbeat, 0)
		fmt.Printf("Last heartbeat: %s ago\n", time.Since(lastBeat).Round(time.Second))
	}

	fmt.Println("=====================")
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(infra.DetectExecMode())
	if err != nil {
		return err
	}
	spec := cfg.LockdownSpec()

	fmt.Println("\n=== Lockdown Tables ===")

	fmt.Println("\nBlocked keys (strict):")
	for _, k := range append(append([]string(nil), spec.StrictKeys...), spec.ExtraStrictKeys...) {
		fmt.Printf("  - %s\n", k)
	}
	fmt.Println("\nBlocked keys (minimal):")
	for _, k := range spec.MinimalKeys {
		fmt.Printf("  - %s\n", k)
	}

	fmt.Println("\nProcess rules:")
	for _, r := range spec.ProcessRules {
		switch {
		case r.IsWindowRule() && len(r.TitleKeywords) > 0:
			fmt.Printf("  - window %s titled %v\n", r.WindowClass, r.TitleKeywords)
		case r.IsWindowRule():
			fmt.Printf("  - window %s\n", r.WindowClass)
		case r.ShellArgsOnly:
			fmt.Printf("  - %s (browse windows only)\n", r.ProcessName)
		default:
			fmt.Printf("  - %s\n", r.ProcessName)
		}
	}

	fmt.Println("\nRestrictions:")
	for _, c := range spec.Restrictions {
		fmt.Printf("  - %s = %d\n", c.Key(), c.Desired)
	}
	fmt.Printf("\nScan interval: %s\n", cfg.Lockdown.ScanInterval)

	fmt.Println("\n=======================")
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(infra.DetectExecMode())
	if err != nil {
		return err
	}

	fmt.Println("\n=== Running Process Guard Sweep ===")

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	pm := infra.NewProcessManager()
	guard := usecase.NewProcessGuard(pm, infra.NewWindowCloser(), infra.NewLogNotifier(logger), nil, logger, cfg.LockdownSpec().ProcessRules)
	result := guard.Sweep(context.Background())

	if len(result.TerminatedPIDs) == 0 && result.ClosedWindows == 0 {
		fmt.Println("\nNo blocked processes found.")
	} else {
		fmt.Printf("\nTerminated %d processes: %v\n", len(result.TerminatedPIDs), result.TerminatedPIDs)
		fmt.Printf("Closed %d windows\n", result.ClosedWindows)
	}

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors: %d\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  - %v\n", e)
		}
		var pae *domain.ProcessAccessError
		for _, e := range result.Errors {
			if errors.As(e, &pae) && pae.Op == "terminate" {
				fmt.Println("\nRun elevated for full enforcement.")
				break
			}
		}
	}

	fmt.Printf("Duration: %dms\n", result.DurationMs)
	fmt.Println("===================================")
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	mode := infra.DetectExecMode()
	cfg, _, err := loadConfig(mode)
	if err != nil {
		return err
	}

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	journal, err := infra.OpenJournal(mode.DataDir)
	if err != nil {
		return fmt.Errorf("open snapshot journal: %w", err)
	}
	defer journal.Close()

	enforcer := usecase.NewRestrictionEnforcer(infra.NewPolicyStore(), journal, nil, logger)
	if enforcer.Pending() == 0 {
		fmt.Println("No recorded baselines; nothing to restore.")
		return nil
	}

	result := enforcer.Remove(cfg.LockdownSpec().Restrictions)

	fmt.Println("\n=== Restore ===")
	for _, k := range result.Changed {
		fmt.Printf("  restored %s\n", k)
	}
	for _, k := range result.Skipped {
		fmt.Printf("  skipped  %s (no baseline)\n", k)
	}
	for _, e := range result.Errors {
		fmt.Printf("  FAILED   %v\n", e)
	}
	if left := enforcer.Pending(); left > 0 {
		fmt.Printf("\n%d baselines remain in %s\n", left, journal.Path())
	}
	fmt.Println("===============")

	if len(result.Errors) > 0 {
		return fmt.Errorf("%d restrictions could not be restored", len(result.Errors))
	}
	return nil
}

func createLogger(path, level string) *zap.Logger {
	config := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		config.Level = lvl
	}
	config.OutputPaths = []string{path}
	config.ErrorOutputPaths = []string{path}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	_ = os.MkdirAll(filepath.Dir(path), 0700)
	logger, err := config.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("kioskd %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
