package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/SynergyChain/synledger-core/api"
	"github.com/SynergyChain/synledger-core/core"
	"github.com/SynergyChain/synledger-core/p2p"
)

const shutdownTimeout = 5 * time.Second

// Node wires the registry, ledger, coordinator, peer network and API together
// and drives one consensus round per interval.
type Node struct {
	cfg Config

	registry    *core.Registry
	ledger      *core.Ledger
	network     *p2p.Network
	coordinator *core.Coordinator
	api         *api.Server

	log *slog.Logger
}

// New wires a node from cfg. Call Run to start it.
func New(cfg Config, log *slog.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("node", cfg.NodeID)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := core.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	store, err := openStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	ledger, err := core.NewLedger(cfg.Difficulty, core.DefaultCrypto,
		core.WithBlockStore(store),
		core.WithLedgerMetrics(metrics),
		core.WithLedgerLogger(log),
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	registry := core.NewRegistry(cfg.Participants,
		core.WithWorkers(cfg.Workers),
		core.WithRegistryMetrics(metrics),
		core.WithRegistryLogger(log),
	)

	network := p2p.New(cfg.NodeID, p2p.WithLogger(log))
	for id, addr := range cfg.Peers {
		network.AddPeer(id, addr)
	}

	validators, err := core.GenerateValidators(cfg.Validators)
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("generate validator keys: %w", err)
	}
	coordinator, err := core.NewCoordinator(registry, ledger, network, core.DefaultCrypto, validators,
		core.CoordinatorConfig{
			RequiredSignatures: cfg.RequiredSignatures,
			RoundTimeout:       cfg.RoundTimeout,
			Workers:            cfg.Workers,
		},
		core.WithCoordinatorMetrics(metrics),
		core.WithCoordinatorLogger(log),
	)
	if err != nil {
		ledger.Close()
		return nil, err
	}

	return &Node{
		cfg:         cfg,
		registry:    registry,
		ledger:      ledger,
		network:     network,
		coordinator: coordinator,
		api:         api.NewServer(ledger, registry, api.WithGatherer(reg), api.WithLogger(log)),
		log:         log,
	}, nil
}

func openStore(dataDir string) (core.BlockStore, error) {
	if dataDir == "" {
		return core.NewMemLevelDBStore()
	}
	return core.OpenLevelDBStore(filepath.Join(dataDir, "chain"))
}

// Ledger returns the node's ledger.
func (n *Node) Ledger() *core.Ledger { return n.ledger }

func (n *Node) Registry() *core.Registry { return n.registry }

func (n *Node) Network() *p2p.Network { return n.network }

func (n *Node) API() *api.Server { return n.api }

func (n *Node) Coordinator() *core.Coordinator { return n.coordinator }

// Tick runs one reputation cycle followed by one consensus round. A failed
// round is logged and returned; the node keeps running.
func (n *Node) Tick(ctx context.Context) (*core.Round, error) {
	n.registry.RunCycle()
	stats := n.registry.Statistics()
	n.log.Debug("Reputation cycle complete",
		"honest", stats.HonestCount,
		"dishonest", stats.DishonestCount,
		"slashed", stats.SlashedParticipants,
		"meanSynergy", stats.MeanSynergy,
	)

	round, err := n.coordinator.Run(ctx)
	if err != nil {
		n.log.Warn("Consensus round failed", "state", round.State.String(), "error", err)
	}
	if pruned := n.ledger.PruneForks(); pruned > 0 {
		n.log.Info("Pruned stale forks", "count", pruned)
	}
	n.ledger.LogChainState()
	n.api.Publish(round)
	return round, err
}

// Run serves the peer and API listeners and ticks until ctx is done. It
// releases the ledger on return.
func (n *Node) Run(ctx context.Context) error {
	defer func() {
		if err := n.ledger.Close(); err != nil {
			n.log.Error("Failed to close ledger", "error", err)
		}
	}()
	defer n.api.Close()

	p2pLn, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen for peers: %w", err)
	}
	var apiLn net.Listener
	if n.cfg.APIAddr != "" {
		if apiLn, err = net.Listen("tcp", n.cfg.APIAddr); err != nil {
			p2pLn.Close()
			return fmt.Errorf("listen for api: %w", err)
		}
	}

	peerMux := http.NewServeMux()
	peerMux.Handle(p2p.Path, n.network)

	g, ctx := errgroup.WithContext(ctx)
	serve(ctx, g, &http.Server{Handler: peerMux, ReadHeaderTimeout: 5 * time.Second}, p2pLn)
	n.log.Info("Listening for peers", "address", p2pLn.Addr().String())
	if apiLn != nil {
		serve(ctx, g, &http.Server{Handler: n.api.Handler(), ReadHeaderTimeout: 5 * time.Second}, apiLn)
		n.log.Info("Serving API", "address", apiLn.Addr().String())
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg := <-n.network.Messages():
				n.log.Debug("Peer message", "from", msg.From, "id", msg.ID, "text", msg.Text)
			}
		}
	})

	g.Go(func() error {
		if err := n.network.Broadcast(ctx, fmt.Sprintf("Node %d joined at height %d", n.cfg.NodeID, n.ledger.Height())); err != nil {
			n.log.Warn("Failed to announce to peers", "error", err)
		}

		ticker := time.NewTicker(n.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				_, _ = n.Tick(ctx)
			}
		}
	})

	return g.Wait()
}

// serve runs srv on ln until ctx is done, then shuts it down.
func serve(ctx context.Context, g *errgroup.Group, srv *http.Server, ln net.Listener) {
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
