// Command lockd runs one node of the distributed lock manager: the
// regional Raft member, the replicated lock store, the client-facing lock
// service and the inter-region coordinator, plus a small admin listener
// for health and metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/gaestalt/lockd/lock"
	"github.com/gaestalt/lockd/logger"
	"github.com/gaestalt/lockd/raft"
	"github.com/gaestalt/lockd/server"
	"github.com/gaestalt/lockd/types"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:          "lockd",
		Short:        "Distributed lock manager node",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "path to a YAML config file")
	flags.String("node-id", "", "unique node id within the region")
	flags.String("region-id", "default", "region name used in the cross-region protocol")
	flags.String("listen-addr", ":9311", "client-facing gRPC address")
	flags.String("admin-addr", ":9301", "admin HTTP address (healthz, metrics)")
	flags.StringToString("peers", nil, "raft peers as id=host:port, including this node")
	flags.StringToString("client-addrs", nil, "client-facing addresses as id=host:port, for leader hints")
	flags.StringToString("region-peers", nil, "peer regional leaders as region=host:port")
	flags.Int64("election-timeout-ms", 150, "base election timeout in milliseconds")
	flags.Int64("heartbeat-interval-ms", 50, "leader heartbeat period in milliseconds")
	flags.Int64("lock-default-timeout-ms", 30000, "default lock TTL in milliseconds")
	flags.Int64("lock-min-timeout-ms", 1000, "lock TTL clamp floor in milliseconds")
	flags.Int64("lock-max-timeout-ms", 300000, "lock TTL clamp ceiling in milliseconds")
	flags.String("storage-backend", "memory", "raft state backend: memory or badger")
	flags.String("storage-dir", "", "data directory for the badger backend")
	flags.String("log-level", "info", "minimum log level")

	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}
	v.SetEnvPrefix("LOCKD")
	v.AutomaticEnv()

	return cmd
}

func run(v *viper.Viper) error {
	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %q: %w", cfgFile, err)
		}
	}

	log, err := logger.NewZapLogger(v.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	nodeID := types.NodeID(v.GetString("node-id"))
	if nodeID == "" {
		return errors.New("node-id is required")
	}
	regionID := types.RegionID(v.GetString("region-id"))

	peers := make(map[types.NodeID]string)
	for id, addr := range v.GetStringMapString("peers") {
		peers[types.NodeID(id)] = addr
	}
	if len(peers) == 0 {
		return errors.New("at least one raft peer (this node) must be configured")
	}
	clientAddrs := make(map[types.NodeID]string)
	for id, addr := range v.GetStringMapString("client-addrs") {
		clientAddrs[types.NodeID(id)] = addr
	}
	regionPeers := make(map[types.RegionID]string)
	for region, addr := range v.GetStringMapString("region-peers") {
		regionPeers[types.RegionID(region)] = addr
	}

	storage, err := buildStorage(v)
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.Close(); err != nil {
			log.Warnw("Error closing storage", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	locks := lock.NewLockManager(lock.WithLogger(log))

	raftCfg := raft.DefaultConfig()
	raftCfg.ID = nodeID
	raftCfg.Peers = peers
	raftCfg.ElectionTimeout = time.Duration(v.GetInt64("election-timeout-ms")) * time.Millisecond
	raftCfg.HeartbeatInterval = time.Duration(v.GetInt64("heartbeat-interval-ms")) * time.Millisecond

	node, err := raft.NewRaft(raftCfg, raft.Dependencies{
		Applier: locks,
		Storage: storage,
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("build raft node: %w", err)
	}
	network, err := raft.NewGRPCNetworkManager(nodeID, peers, node, log.WithNodeID(nodeID))
	if err != nil {
		return fmt.Errorf("build raft transport: %w", err)
	}
	node.SetNetworkManager(network)

	srvCfg := server.DefaultConfig()
	srvCfg.NodeID = nodeID
	srvCfg.RegionID = regionID
	srvCfg.ListenAddr = v.GetString("listen-addr")
	srvCfg.ClientAddrs = clientAddrs
	srvCfg.RegionPeers = regionPeers
	srvCfg.DefaultLockTimeout = time.Duration(v.GetInt64("lock-default-timeout-ms")) * time.Millisecond
	srvCfg.MinLockTimeout = time.Duration(v.GetInt64("lock-min-timeout-ms")) * time.Millisecond
	srvCfg.MaxLockTimeout = time.Duration(v.GetInt64("lock-max-timeout-ms")) * time.Millisecond

	lockServer, err := server.NewLockServer(srvCfg, server.Dependencies{
		Raft:    node,
		Locks:   locks,
		Logger:  log,
		Metrics: server.NewPrometheusMetrics(registry),
	})
	if err != nil {
		return fmt.Errorf("build lock server: %w", err)
	}

	if err := node.Start(); err != nil {
		return fmt.Errorf("start raft node: %w", err)
	}
	if err := lockServer.Start(); err != nil {
		return fmt.Errorf("start lock server: %w", err)
	}

	admin := newAdminServer(v.GetString("admin-addr"), registry, node)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Infow("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = admin.Shutdown(shutdownCtx)
		if err := lockServer.Stop(shutdownCtx); err != nil {
			log.Warnw("Error stopping lock server", "error", err)
		}
		if err := node.Stop(shutdownCtx); err != nil {
			log.Warnw("Error stopping raft node", "error", err)
		}
		return nil
	})

	log.Infow("lockd started",
		"node", nodeID,
		"region", regionID,
		"listen", srvCfg.ListenAddr,
		"raft_listen", peers[nodeID],
		"group_size", len(peers),
		"region_peers", len(regionPeers))

	return g.Wait()
}

func buildStorage(v *viper.Viper) (raft.Storage, error) {
	switch backend := v.GetString("storage-backend"); backend {
	case "memory", "":
		return raft.NewMemoryStorage(), nil
	case "badger":
		dir := v.GetString("storage-dir")
		if dir == "" {
			return nil, errors.New("storage-dir is required for the badger backend")
		}
		return raft.NewBadgerStorage(dir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func newAdminServer(addr string, registry *prometheus.Registry, node raft.Raft) *http.Server {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodGet)
	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		status := node.Status()
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "node=%s role=%s term=%d leader=%s commit=%d applied=%d\n",
			status.ID, status.Role, status.Term, status.LeaderID, status.CommitIndex, status.LastApplied)
	}).Methods(http.MethodGet)

	return &http.Server{Addr: addr, Handler: router}
}
