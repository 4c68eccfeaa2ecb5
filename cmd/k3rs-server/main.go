/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// k3rs-server boots the Store, EventLog, LeaderElection loop and the
// Controllers Manager. The HTTP/gRPC transport that exposes the Watch
// endpoint and declarative apply surface to agents and the CLI (spec.md §6)
// is an external collaborator out of scope here; this binary owns only the
// control-plane loops spec.md §4 names.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/k3rs/k3rs/internal/config"
	"github.com/k3rs/k3rs/internal/controllers"
	"github.com/k3rs/k3rs/internal/controllers/cronjob"
	"github.com/k3rs/k3rs/internal/controllers/daemonset"
	"github.com/k3rs/k3rs/internal/controllers/deployment"
	"github.com/k3rs/k3rs/internal/controllers/eviction"
	"github.com/k3rs/k3rs/internal/controllers/hpa"
	"github.com/k3rs/k3rs/internal/controllers/job"
	"github.com/k3rs/k3rs/internal/controllers/node"
	"github.com/k3rs/k3rs/internal/controllers/replicaset"
	"github.com/k3rs/k3rs/internal/eventlog"
	"github.com/k3rs/k3rs/internal/leaderelection"
	"github.com/k3rs/k3rs/internal/log"
	"github.com/k3rs/k3rs/internal/metrics"
	"github.com/k3rs/k3rs/internal/scheduler"
	"github.com/k3rs/k3rs/internal/store"
)

// baselineMetrics is the configured-baseline HPA.MetricsSource of
// DESIGN.md's Open-Question resolution: spec.md §4.5 allows "a
// configured baseline" while real metrics are unavailable, since the Node
// metrics pipeline itself is out of scope (spec.md §2).
type baselineMetrics struct {
	cpuPercent, memPercent int
}

func (b baselineMetrics) CPUUtilizationPercent(context.Context, string, string) (int, error) {
	return b.cpuPercent, nil
}

func (b baselineMetrics) MemoryUtilizationPercent(context.Context, string, string) (int, error) {
	return b.memPercent, nil
}

func main() {
	var configPath string
	var dev bool

	root := &cobra.Command{
		Use:   "k3rs-server",
		Short: "k3rs control-plane process: Store, EventLog, LeaderElection, Controllers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configPath, dev)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (optional; env vars and defaults fill the rest)")
	root.Flags().BoolVar(&dev, "dev", false, "use a human-readable development logger instead of JSON")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, configPath string, dev bool) error {
	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return fmt.Errorf("loading server config: %w", err)
	}

	logger := log.NewProduction("k3rs-server")
	if dev {
		logger = log.NewDevelopment("k3rs-server")
	}
	ctx = log.IntoContext(ctx, logger)

	prometheus.MustRegister(metrics.All()...)

	backend, err := newBackend(cfg.ObjectStoreURL)
	if err != nil {
		return fmt.Errorf("constructing store backend: %w", err)
	}
	defer backend.Close()

	evlog := eventlog.New(logger, cfg.EventRetention)
	s := store.New(backend, evlog, 5)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		runCompactionLoop(groupCtx, s, cfg.CompactEvery, cfg.CompactOlderThan)
		return nil
	})

	sched := scheduler.New()
	metricsSource := baselineMetrics{cpuPercent: 50, memPercent: 50}

	manager := controllers.NewManager(
		evlog,
		node.New(s),
		replicaset.New(s, sched),
		deployment.New(s),
		daemonset.New(s),
		job.New(s, sched),
		cronjob.New(s),
		hpa.New(s, metricsSource),
		eviction.New(s),
	)

	elector := leaderelection.New(s, leaderelection.Config{LeaseTTL: cfg.LeaseTTL, RenewInterval: cfg.RenewInterval})
	elector.OnAcquire = manager.Start
	elector.OnLoss = manager.Stop

	logger.Infow("k3rs-server starting", "listen_addr", cfg.ListenAddr, "holder_id", elector.HolderID())
	elector.Run(ctx)
	if err := group.Wait(); err != nil {
		return fmt.Errorf("background loop: %w", err)
	}
	logger.Infow("k3rs-server stopped")
	return nil
}

// newBackend selects the Store Backend implementation from a URL scheme,
// per spec.md §6's persistent state layout being backend-agnostic.
// "file://" and "memory://" are k3rs's own backends; any other scheme
// (s3://, r2://) is an external object-storage driver out of scope here.
func newBackend(url string) (store.Backend, error) {
	switch {
	case url == "memory://" || url == "":
		return store.NewMemoryBackend(), nil
	case strings.HasPrefix(url, "file://"):
		return store.NewDiskBackend(strings.TrimPrefix(url, "file://"))
	default:
		return nil, fmt.Errorf("unsupported object_store_url scheme: %q", url)
	}
}

// runCompactionLoop implements SPEC_FULL.md's supplemented Store.Compact
// trigger (spec.md §3 specifies TTL-based event GC but leaves its trigger
// unspecified).
func runCompactionLoop(ctx context.Context, s *store.Store, every, olderThan time.Duration) {
	logger := log.FromContext(ctx).With("component", "compaction")
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Compact(ctx, olderThan)
			if err != nil {
				logger.Warnw("compaction failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Infow("compacted events", "removed", removed)
			}
		}
	}
}
