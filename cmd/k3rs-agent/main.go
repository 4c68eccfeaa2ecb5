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

// k3rs-agent runs on every worker Node: Recovery at boot, then PodSync on a
// fixed tick, over a TunnelClient connection back to the server. The
// concrete RuntimeBackend (Virtualization.framework, Firecracker, OCI) and
// the TunnelClient's wire transport are external collaborators out of scope
// per spec.md §2; this binary wires the runtime.Fake backend, which is
// sufficient to exercise every PodSync/Recovery code path end to end in a
// single-process deployment and is the seam a real backend plugs into.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/k3rs/k3rs/internal/agent"
	"github.com/k3rs/k3rs/internal/config"
	"github.com/k3rs/k3rs/internal/eventlog"
	"github.com/k3rs/k3rs/internal/log"
	"github.com/k3rs/k3rs/internal/metrics"
	"github.com/k3rs/k3rs/internal/runtime"
	"github.com/k3rs/k3rs/internal/store"
	"github.com/k3rs/k3rs/internal/tunnel"
)

func main() {
	var configPath string
	var dev bool

	root := &cobra.Command{
		Use:   "k3rs-agent",
		Short: "k3rs worker-node process: Recovery, PodSync, TunnelClient",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), configPath, dev)
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

func runAgent(ctx context.Context, configPath string, dev bool) error {
	cfg, err := config.LoadAgent(configPath)
	if err != nil {
		return fmt.Errorf("loading agent config: %w", err)
	}

	logger := log.NewProduction("k3rs-agent")
	if dev {
		logger = log.NewDevelopment("k3rs-agent")
	}
	ctx = log.IntoContext(ctx, logger.With("node", cfg.NodeName))

	prometheus.MustRegister(metrics.All()...)

	// Every Store access on the agent's side of the wire goes through its
	// local mirror, kept current by the TunnelClient watch below (spec.md
	// §4.9); the agent never opens a second direct connection to the
	// object-storage backend.
	mirrorBackend := store.NewMemoryBackend()
	mirrorLog := eventlog.New(logger, 10_000)
	mirror := store.New(mirrorBackend, mirrorLog, 5)

	rt := runtime.NewFake()
	sync := agent.NewPodSync(mirror, rt, cfg.NodeName)

	if err := sync.Recover(ctx); err != nil {
		logger.Warnw("recovery failed, continuing with normal PodSync", "error", err)
	}

	client := tunnel.New(
		&dialerStub{},
		[]string{"/registry/pods/"},
		func(f eventlog.Frame) {
			if !f.Compacted && !f.Lagged {
				switch f.Event.Kind {
				case eventlog.Put:
					_ = mirrorBackend.Put(ctx, f.Event.Key, f.Event.Value)
				case eventlog.Delete:
					_ = mirrorBackend.Delete(ctx, f.Event.Key)
				}
				mirrorLog.Append(f.Event.Kind, f.Event.Key, f.Event.Value, f.Event.Timestamp)
			}
		},
		func(context.Context) (uint64, error) { return mirrorLog.LatestSeq(), nil },
	)
	go func() {
		if err := client.Run(ctx, 0); err != nil && ctx.Err() == nil {
			logger.Warnw("tunnel client exited", "error", err)
		}
	}()

	logger.Infow("k3rs-agent starting", "server_addr", cfg.ServerAddr, "sync_period", cfg.SyncPeriod)
	sync.Run(ctx)
	logger.Infow("k3rs-agent stopped")
	return nil
}

// dialerStub is a placeholder tunnel.Dialer: the real implementation speaks
// the out-of-scope wire protocol to k3rs-server (spec.md §2) and is supplied
// by whatever transport the operator wires in; it is not part of the core
// this binary exists to exercise.
type dialerStub struct{}

func (dialerStub) Dial(ctx context.Context, prefixes []string, sinceSeq uint64) (<-chan eventlog.Frame, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
