// Command dflow-worker is the per-host process every node in a dflow
// cluster runs: it loads the cluster's TOML configuration (or environment
// overrides, see internal/config), builds this host's HostContext
// (BlockPool, Dispatcher, Multiplexer, logger, cancelable job context), opens
// this host's peer connections, and then blocks until the process receives
// a shutdown signal or the job is aborted. It does not wait for
// lower-ranked hosts to dial in.
//
// A real user program replaces the body of run() with its own DAG
// construction and dag.Run call over the HostContext's collaborators; this
// binary's job is only to wire those collaborators up identically on every
// host (flag/env parsing, signal-driven graceful shutdown, a
// structured-logged startup/shutdown sequence).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	_ "go.uber.org/automaxprocs"

	_ "github.com/KimMachineGun/automemlimit/memlimit"

	"github.com/dreamware/dflow/internal/config"
	"github.com/dreamware/dflow/internal/hostctx"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "dflow-worker:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("dflow-worker", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("DFLOW_CONFIG"), "path to the cluster TOML config (defaults to $DFLOW_CONFIG)")
	rankFlag := fs.Int("rank", -1, "this process's host rank (defaults to $DFLOW_RANK, or this host's index in the config's host list)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cluster, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	rank, err := resolveRank(*rankFlag, cluster)
	if err != nil {
		return err
	}

	hc, err := hostctx.New(cluster, rank)
	if err != nil {
		return err
	}
	defer func() { _ = hc.Close() }()

	hc.Logger.Info().Int("rank", int(rank)).Int("hosts", cluster.NumHosts()).Int("workers_per_host", cluster.WorkersPerHost).Log("starting dflow-worker")

	if err := hc.Connect(); err != nil {
		return err
	}
	hc.Logger.Info().Log("connected to cluster peers")

	ctx, stop := signal.NotifyContext(hc.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	if err := hc.Err(); err != nil {
		return err
	}
	hc.Logger.Info().Log("shutting down")
	return nil
}

// resolveRank picks this process's rank: an explicit -rank/DFLOW_RANK flag
// takes priority; failing that, the host is identified by matching its own
// listen address against cluster.Hosts (cluster.RankOf).
func resolveRank(flagRank int, cluster *config.Cluster) (uint32, error) {
	if flagRank >= 0 {
		return uint32(flagRank), nil
	}
	if v := os.Getenv("DFLOW_RANK"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("dflow-worker: invalid DFLOW_RANK %q: %w", v, err)
		}
		return uint32(n), nil
	}
	if addr := os.Getenv("DFLOW_HOST_ADDR"); addr != "" {
		if r := cluster.RankOf(addr); r >= 0 {
			return uint32(r), nil
		}
		return 0, fmt.Errorf("dflow-worker: DFLOW_HOST_ADDR %q not found in configured hosts", addr)
	}
	return 0, fmt.Errorf("dflow-worker: no rank given (pass -rank, set DFLOW_RANK, or set DFLOW_HOST_ADDR to a configured host)")
}
