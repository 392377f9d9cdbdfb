// Package main provides the ghostnoded daemon - a GhostProtocol mesh node.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ghostmesh/ghostnode/internal/api"
	"github.com/ghostmesh/ghostnode/internal/assets"
	"github.com/ghostmesh/ghostnode/internal/config"
	"github.com/ghostmesh/ghostnode/internal/contracts"
	"github.com/ghostmesh/ghostnode/internal/facade"
	"github.com/ghostmesh/ghostnode/internal/ledger"
	"github.com/ghostmesh/ghostnode/internal/messenger"
	"github.com/ghostmesh/ghostnode/internal/metrics"
	"github.com/ghostmesh/ghostnode/internal/peers"
	"github.com/ghostmesh/ghostnode/internal/store"
	"github.com/ghostmesh/ghostnode/internal/sync"
	"github.com/ghostmesh/ghostnode/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir         = flag.String("data-dir", "~/.ghostnode", "Data directory")
		configFile      = flag.String("config", "", "Config path; config.yaml is loaded from this path's directory (default: <data-dir>/config.yaml)")
		peerAddr        = flag.String("peer-addr", "", "Peer API listen address, overrides config")
		operatorAddr    = flag.String("operator-addr", "", "Operator API listen address, overrides config")
		selfAddr        = flag.String("self-addr", "", "This node's peer API address as reachable by others (host:port)")
		discoveryPort   = flag.Int("discovery-port", 0, "UDP discovery port, overrides config")
		bootstrapPeers  = flag.String("bootstrap", "", "Bootstrap peer addresses (comma-separated host:port)")
		devSeedBalance  = flag.Float64("dev-seed-balance", -1, "Seed new wallets with this balance (dev/test only), overrides config")
		logLevel        = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion     = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("ghostnoded %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := *dataDir

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.Load(filepath.Dir(*configFile))
	} else {
		cfg, err = config.Load(effectiveDataDir)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	if *peerAddr != "" {
		cfg.Network.PeerAPIAddr = *peerAddr
	}
	if *operatorAddr != "" {
		cfg.Network.OperatorAPIAddr = *operatorAddr
	}
	if *discoveryPort != 0 {
		cfg.Network.DiscoveryPort = *discoveryPort
	}
	if *bootstrapPeers != "" {
		cfg.Network.BootstrapPeers = parseBootstrapPeers(*bootstrapPeers)
	}
	if *devSeedBalance >= 0 {
		cfg.DevSeedBalance = *devSeedBalance
	}
	cfg.Storage.DataDir = effectiveDataDir
	cfg.Logging.Level = *logLevel

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	log.Info("Config loaded", "path", config.Path(effectiveDataDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(&store.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer st.Close()
	log.Info("Storage initialized", "path", cfg.Storage.DataDir)

	fees := make(map[store.FeeKind]float64, len(cfg.Fees))
	for k, v := range cfg.Fees {
		fees[store.FeeKind(k)] = v
	}
	if err := st.SeedFees(fees); err != nil {
		log.Fatal("Failed to seed fee schedule", "error", err)
	}

	led, err := ledger.New(st)
	if err != nil {
		log.Fatal("Failed to initialize ledger", "error", err)
	}
	log.Info("Ledger initialized")

	assetRegistry := assets.New(st)
	contractRegistry := contracts.New(st)
	messageLog := messenger.New(st)
	peerSet := peers.New(st, cfg.Network.BootstrapPeers)
	syncEngine := sync.New(led, assetRegistry, peerSet, st)

	resolvedSelf := *selfAddr
	if resolvedSelf == "" {
		resolvedSelf = cfg.Network.PeerAPIAddr
	}

	node := facade.New(st, led, assetRegistry, contractRegistry, messageLog, peerSet, syncEngine, resolvedSelf)

	peerServer := api.NewPeerServer(node)
	if err := peerServer.Start(cfg.Network.PeerAPIAddr); err != nil {
		log.Fatal("Failed to start peer API", "error", err)
	}

	operatorServer := api.NewOperatorServer(node, cfg.DevSeedBalance)
	if err := operatorServer.Start(cfg.Network.OperatorAPIAddr); err != nil {
		log.Fatal("Failed to start operator API", "error", err)
	}

	beacon := peers.NewBeacon(peerSet, cfg.Network.DiscoveryPort)
	go func() {
		if err := beacon.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("Discovery beacon stopped", "error", err)
		}
	}()
	log.Info("Discovery beacon started", "port", cfg.Network.DiscoveryPort)

	go syncEngine.Run(ctx)
	log.Info("Sync engine started", "interval", sync.Interval)

	printBanner(log, cfg, resolvedSelf)

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				active, err := peerSet.ActiveCount(facade.Now())
				if err != nil {
					log.Warn("status tick: active count", "error", err)
					continue
				}
				metrics.ActivePeers.Set(float64(active))
				last, err := led.GetLastBlock()
				if err != nil {
					log.Warn("status tick: last block", "error", err)
					continue
				}
				log.Info("Status", "height", last.Index, "active_peers", active)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down...")

	cancel()

	if err := operatorServer.Stop(); err != nil {
		log.Error("Error stopping operator API", "error", err)
	}
	if err := peerServer.Stop(); err != nil {
		log.Error("Error stopping peer API", "error", err)
	}

	log.Info("Goodbye!")
}

func printBanner(log *logging.Logger, cfg *config.Config, selfAddr string) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  GhostProtocol Node")
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Peer address:     %s", selfAddr)
	log.Infof("  Peer API:         http://%s", cfg.Network.PeerAPIAddr)
	log.Infof("  Operator API:     http://%s", cfg.Network.OperatorAPIAddr)
	log.Infof("  Operator WS:      ws://%s/ws", cfg.Network.OperatorAPIAddr)
	log.Infof("  Metrics:          http://%s/metrics", cfg.Network.OperatorAPIAddr)
	log.Infof("  Discovery port:   %d/udp", cfg.Network.DiscoveryPort)
	log.Infof("  Bootstrap peers:  %v", cfg.Network.BootstrapPeers)
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}

func parseBootstrapPeers(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
