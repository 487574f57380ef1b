// Command domedisk runs the disk-node role of the daemon: it accepts
// dome_dochksum/dome_pull requests from the head, runs the configured
// checksum/pull-hook binaries through the task executor, and reports
// each job's outcome back to the head over the outbound client pool.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/griddome/domed/internal/checksum"
	"github.com/griddome/domed/internal/config"
	"github.com/griddome/domed/internal/dispatch"
	"github.com/griddome/domed/internal/dome"
	"github.com/griddome/domed/internal/metrics"
	"github.com/griddome/domed/internal/ocp"
	"github.com/griddome/domed/internal/pull"
	"github.com/griddome/domed/internal/rdb"
	"github.com/griddome/domed/internal/taskexec"
	"github.com/griddome/domed/pkg/api"
	"github.com/griddome/domed/pkg/health"
	"github.com/griddome/domed/pkg/progress"
	"github.com/griddome/domed/pkg/recovery"
)

const taskStdoutCap = 64 * 1024
const taskTick = 5 * time.Second

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "domedisk",
		Short: "Run the disk-node role of the grid storage element daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "/etc/domed/domed.yaml", "path to the daemon configuration file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg := config.NewDefault()
	if _, err := os.Stat(configPath); err == nil {
		if err := cfg.LoadFromFile(configPath); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("loading env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	cfg.Global.Role = "disk"

	// This node's own identity: the pending_checksum/pending_pull side
	// tables, keyed by TaskExec key, that map a job back to its rfn and
	// reporting context. Distinct from the head's namespace/replica
	// catalog: a disk node never opens that database directly.
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=domed_taskstate sslmode=disable",
		cfg.Disk.DB.Host, cfg.Disk.DB.Port, cfg.Disk.DB.User, cfg.Disk.DB.Password)
	db, err := rdb.Open(cfg.Disk.DB.Driver, dsn, cfg.Disk.DB.PoolSz)
	if err != nil {
		return fmt.Errorf("connecting to local task-state store: %w", err)
	}
	defer db.Close() //nolint:errcheck

	tasks := rdb.NewTaskTables(db)

	ocpPool, err := ocp.NewPool(cfg.Global.RestClient)
	if err != nil {
		return fmt.Errorf("building outbound connection pool: %w", err)
	}

	// Reporting a job's outcome back to the head is one-shot by nature;
	// a transient failure here would otherwise leave that job stuck
	// pending on the head forever, so both reporters retry through the
	// same recovery manager.
	reportRecovery := recovery.NewRecoveryManager(recovery.DefaultRecoveryConfig())
	headURL, err := url.Parse(cfg.Disk.HeadNode.DomeURL)
	if err != nil || headURL.Host == "" {
		return fmt.Errorf("invalid disk.headnode.domeurl %q", cfg.Disk.HeadNode.DomeURL)
	}
	chksumReporter := checksum.NewOCPReporter(ocpPool, headURL.Host, reportRecovery)
	pullReporter := pull.NewOCPReporter(ocpPool, headURL.Host, reportRecovery)

	taskExec := taskexec.New(cfg.Global.Task.MaxRunningTime, cfg.Global.Task.PurgeTime, taskStdoutCap)

	chksumRunner := checksum.NewRunner(taskExec, tasks, cfg.Disk.ChecksumBin, chksumReporter)
	pullRunner := pull.NewRunner(taskExec, tasks, cfg.Disk.FilePuller.PullHook, pullReporter)

	// Both runners are handed every completion; each silently ignores
	// task keys it did not submit (see Runner.OnTaskCompleted in both
	// packages), so composing them here is safe.
	taskExec.SetCallbacks(func(info *taskexec.Info) {
		chksumRunner.OnTaskCompleted(info)
		pullRunner.OnTaskCompleted(info)
	}, nil)

	// Disk nodes don't resolve uid/gid or know the peer-server list
	// themselves; status/users/groups are nil and isHead is false, so
	// Authorize only ever admits the whitelisted head DN.
	auth := dispatch.NewAuthorizer(cfg.Global.Auth.AuthorizeDN, nil, nil, nil, false)

	collector, err := metrics.NewCollector(&metrics.Config{Enabled: cfg.Global.Metrics.Enabled, Namespace: "domed", Subsystem: "disk"})
	if err != nil {
		return fmt.Errorf("building metrics collector: %w", err)
	}

	server := &dome.Server{
		IsHead:       false,
		HostServer:   cfg.Global.HeadNodeName,
		ChksumRunner: chksumRunner,
		PullRunner:   pullRunner,
		TaskExec:     taskExec,
		Auth:         auth,
		OCP:          ocpPool,
		Metrics:      collector,
	}
	server.Register()

	workers := dispatch.NewWorkerPool(cfg.Global.Workers, server.ServeHTTP)
	workers.Start()
	defer workers.Stop()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runTaskTicker(ctx, taskExec)

	healthTracker := health.NewTracker(health.DefaultConfig())
	for _, component := range []string{"rdb", "taskexec", "ocp"} {
		healthTracker.RegisterComponent(component)
	}
	monitorCfg := api.DefaultServerConfig()
	monitorCfg.Address = fmt.Sprintf(":%d", cfg.Global.Monitor.Port)
	monitorCfg.EnableMetrics = cfg.Global.Metrics.Enabled
	monitor := api.NewServer(monitorCfg, progress.NewTracker(progress.TrackerConfig{}), healthTracker)
	monitor.SetMetricsHandler(collector.Handler())
	monitor.StartBackground()
	defer monitor.Shutdown(context.Background()) //nolint:errcheck

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Global.FCGI.ListenPort),
		Handler: workers,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving dome requests: %w", err)
	}
	return nil
}

func runTaskTicker(ctx context.Context, taskExec *taskexec.Executor) {
	ticker := time.NewTicker(taskTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			taskExec.Tick()
		}
	}
}
