// Command domehead runs the head-node role of the daemon: the relational
// namespace/replica/pool catalog, the put-placement engine, the checksum
// and file-pull orchestrators, and the dome_* HTTP frontend that disk
// nodes and clients talk to.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/griddome/domed/internal/checksum"
	"github.com/griddome/domed/internal/config"
	"github.com/griddome/domed/internal/dispatch"
	"github.com/griddome/domed/internal/dome"
	"github.com/griddome/domed/internal/gpq"
	"github.com/griddome/domed/internal/mdcache"
	"github.com/griddome/domed/internal/metrics"
	"github.com/griddome/domed/internal/ocp"
	"github.com/griddome/domed/internal/placement"
	"github.com/griddome/domed/internal/pull"
	"github.com/griddome/domed/internal/rdb"
	"github.com/griddome/domed/internal/status"
	"github.com/griddome/domed/pkg/api"
	"github.com/griddome/domed/pkg/health"
	"github.com/griddome/domed/pkg/progress"
)

// fastTick drives checksum/file-pull queue admission and dispatch, much
// more frequently than the slow status ticker.
const fastTick = 2 * time.Second

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "domehead",
		Short: "Run the head-node role of the grid storage element daemon",
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
	cfg.Global.Role = "head"

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=domed sslmode=disable",
		cfg.Head.DB.Host, cfg.Head.DB.Port, cfg.Head.DB.User, cfg.Head.DB.Password)
	db, err := rdb.Open(cfg.Head.DB.Driver, dsn, cfg.Head.DB.PoolSz)
	if err != nil {
		return fmt.Errorf("connecting to relational store: %w", err)
	}
	defer db.Close() //nolint:errcheck

	cache := mdcache.New(cfg.MDCache)

	namespace := rdb.NewNamespace(db, cache)
	replicas := rdb.NewReplicaAdapter(db, cache)
	pools := rdb.NewPoolAdapter(db)
	filesystems := rdb.NewFilesystemAdapter(db)
	quota := rdb.NewQuotaAdapter(db)
	users := rdb.NewUserAdapter(db)
	groups := rdb.NewGroupAdapter(db)

	st := status.New(filesystems, pools, quota, users, groups, cfg.Global.HeadNodeName)
	if err := st.Reload(ctx); err != nil {
		return fmt.Errorf("loading initial status snapshot: %w", err)
	}

	ocpPool, err := ocp.NewPool(cfg.Global.RestClient)
	if err != nil {
		return fmt.Errorf("building outbound connection pool: %w", err)
	}
	st.Registry().SetProber(ocpPool.Probe)

	engine := placement.NewEngine(st, namespace, replicas, quota, cfg.Global.Put.MinFreeSpaceMB, cfg.Global.DirSpaceReportDepth)
	finalizer := placement.NewFinalizer(replicas, namespace, quota, cfg.Global.DirSpaceReportDepth)

	chksumQueue := gpq.NewQueue([]int{cfg.Head.Checksum.MaxTotal, cfg.Head.Checksum.MaxPerNode}, cfg.Head.Checksum.QTmout)
	pullQueue := gpq.NewQueue([]int{cfg.Head.FilePulls.MaxTotal, cfg.Head.FilePulls.MaxPerNode}, cfg.Head.FilePulls.QTmout)

	chksumDispatcher := checksum.NewOCPDispatcher(ocpPool)
	chksumOrch := checksum.NewOrchestrator(chksumQueue, replicas, namespace, chksumDispatcher)

	pullDispatcher := pull.NewOCPDispatcher(ocpPool)
	pullOrch := pull.NewOrchestrator(pullQueue, st, namespace, replicas, pullDispatcher, cfg.Global.Put.MinFreeSpaceMB)

	// TaskExec/ChksumRunner/PullRunner are left nil: those back the
	// disk-side dome_dochksum/dome_pull execution path and belong to
	// domedisk, not this role.
	auth := dispatch.NewAuthorizer(cfg.Global.Auth.AuthorizeDN, st, users, groups, true)

	collector, err := metrics.NewCollector(&metrics.Config{Enabled: cfg.Global.Metrics.Enabled, Namespace: "domed", Subsystem: "head"})
	if err != nil {
		return fmt.Errorf("building metrics collector: %w", err)
	}

	server := &dome.Server{
		IsHead:      true,
		HostServer:  cfg.Global.HeadNodeName,
		Namespace:   namespace,
		Replicas:    replicas,
		Pools:       pools,
		Filesystems: filesystems,
		Quota:       quota,
		Users:       users,
		Groups:      groups,
		Status:      st,
		Placement:   engine,
		Finalizer:   finalizer,
		ChksumOrch:  chksumOrch,
		PullOrch:    pullOrch,
		ChksumQueue: chksumQueue,
		PullQueue:   pullQueue,
		Auth:        auth,
		OCP:         ocpPool,
		Metrics:     collector,
	}
	server.Register()

	workers := dispatch.NewWorkerPool(cfg.Global.Workers, server.ServeHTTP)
	workers.Start()
	defer workers.Stop()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := status.NewTicker(st, cfg.Global.TickFreq, cfg.Global.ReloadFSQuotas, cfg.Global.FSCheckInterval)
	ticker.SetSpaceProbe(func(ctx context.Context, server, fs string) (int64, int64, error) {
		return ocpPool.GetSpaceInfo(ctx, server, fs)
	})
	go ticker.Run(ctx)
	go runFastTicker(ctx, chksumOrch, pullOrch)

	healthTracker := health.NewTracker(health.DefaultConfig())
	for _, component := range []string{"rdb", "status", "ocp"} {
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

func runFastTicker(ctx context.Context, chksumOrch *checksum.Orchestrator, pullOrch *pull.Orchestrator) {
	ticker := time.NewTicker(fastTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			chksumOrch.Tick(ctx)
			pullOrch.Tick(ctx)
		}
	}
}
