package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/takuphilchan/offgrid-t2i/internal/cache"
	"github.com/takuphilchan/offgrid-t2i/internal/catalog"
	"github.com/takuphilchan/offgrid-t2i/internal/history"
	"github.com/takuphilchan/offgrid-t2i/internal/imagegen"
	"github.com/takuphilchan/offgrid-t2i/internal/lister"
	"github.com/takuphilchan/offgrid-t2i/internal/maintenance"
	"github.com/takuphilchan/offgrid-t2i/internal/metrics"
	"github.com/takuphilchan/offgrid-t2i/internal/ratelimit"
	"github.com/takuphilchan/offgrid-t2i/internal/resource"
	"github.com/takuphilchan/offgrid-t2i/internal/server"
)

func serveCmd(a *app) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the image generation HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != 0 {
				a.cfg.ServerPort = port
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return runServer(cmd.Context(), a)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides config)")
	return cmd
}

func runServer(ctx context.Context, a *app) error {
	cfg := a.cfg
	m := metrics.New()

	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()

	opts := a.generatorOptions()
	opts.Recorder = store
	opts.Observer = m
	svc, err := imagegen.NewService(opts, catalog.Default())
	if err != nil {
		return err
	}

	monitor := resource.NewMonitor(time.Duration(cfg.MonitorSeconds)*time.Second, cfg.DataDir, func(s resource.Stats) {
		m.SetHostStats(s.MemoryUsagePercent, s.CPUUsagePercent, s.DiskUsagePercent)
	})
	monitor.Start()
	defer monitor.Stop()

	sched, err := maintenance.New(maintenance.Config{RetentionDays: cfg.HistoryRetentionDays}, store, a.log)
	if err != nil {
		return err
	}
	sched.OnRun(func(r maintenance.Report) {
		m.ObservePrune(r.Removed, r.Error == "")
	})
	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sched.Stop(stopCtx)
	}()

	var hubLister server.ModelLister = lister.New(a.hubClient())
	if cfg.HubCacheTTL > 0 {
		hubLister = cache.NewListCache(hubLister, 256, time.Duration(cfg.HubCacheTTL)*time.Second)
	}

	limiter, closeLimiter := newLimiter(ctx, a)
	defer closeLimiter()

	srv, err := server.New(server.Options{
		Config:      cfg,
		Generator:   svc,
		Lister:      hubLister,
		History:     store,
		Monitor:     monitor,
		Metrics:     m,
		Limiter:     limiter,
		Concurrency: ratelimit.NewConcurrency(cfg.MaxPerClient, cfg.MaxConcurrent),
		Logger:      a.log,
	})
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

// newLimiter uses Redis when configured and reachable, otherwise an
// in-process limiter. A zero rate limit disables limiting.
func newLimiter(ctx context.Context, a *app) (ratelimit.Limiter, func()) {
	cfg := a.cfg
	if cfg.RateLimit <= 0 {
		return nil, func() {}
	}

	memory := func() (ratelimit.Limiter, func()) {
		l := ratelimit.NewMemory(cfg.RateLimit, time.Minute, cfg.RateLimit)
		return l, l.Stop
	}
	if cfg.RedisAddr == "" {
		return memory()
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.log.Warn("redis unavailable, using in-process rate limit", map[string]any{"addr": cfg.RedisAddr, "error": err})
		client.Close()
		return memory()
	}

	a.log.Info("using shared rate limit", map[string]any{"addr": cfg.RedisAddr})
	return ratelimit.NewRedis(client, cfg.RateLimit, time.Minute), func() { client.Close() }
}
