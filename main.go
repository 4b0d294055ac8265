package main

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/vrecan/death/v3"

	"github.com/votechain/votechain/chain"
	"github.com/votechain/votechain/cli"
	"github.com/votechain/votechain/config"
	"github.com/votechain/votechain/facade"
	"github.com/votechain/votechain/gossip"
	"github.com/votechain/votechain/keystore"
	"github.com/votechain/votechain/p2p"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: votechain-node <command> [args]")
		os.Exit(1)
	}

	if os.Args[1] == "startnode" {
		if err := startNode(os.Args[2:]); err != nil {
			logrus.WithError(err).Fatal("startnode failed")
		}
		return
	}

	cmd, err := openCommandLine()
	if err != nil {
		logrus.WithError(err).Fatal("failed to open node state")
	}
	if err := cmd.Run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openCommandLine wires up a CommandLine against the default on-disk
// node state, for the short-lived wallet/query subcommands that don't
// need a listening server.
func openCommandLine() (*cli.CommandLine, error) {
	cfg, err := config.Parse(nil)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	keys, engine, _, _, fac, err := buildNode(cfg)
	if err != nil {
		return nil, err
	}

	return &cli.CommandLine{Engine: engine, Facade: fac, Keys: keys, NodeID: cfg.NodeID}, nil
}

// startNode runs the long-lived server process: it opens the ledger
// store, binds the peer listener, dials a root peer if configured, and
// blocks until a termination signal arrives.
func startNode(args []string) error {
	cfg, err := config.Parse(args)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	log := logrus.WithField("node", cfg.NodeID)

	_, engine, srv, _, fac, err := buildNode(cfg)
	if err != nil {
		return err
	}

	if err := srv.Listen(fmt.Sprintf(":%d", cfg.ListenPort)); err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.ListenPort, err)
	}
	log.WithField("port", cfg.ListenPort).Info("listening for peers")

	if cfg.MiningAddr != "" {
		engine.EnableMining(cfg.MiningAddr)
		log.WithField("miner", cfg.MiningAddr).Info("mining enabled")
	}

	if cfg.RootPeer != "" {
		if err := fac.SetRootPeer(cfg.RootPeer); err != nil {
			return err
		}
		if err := fac.Connect(); err != nil {
			log.WithError(err).Warn("root peer dial failed; continuing as a standalone node")
		}
	}

	fac.Subscribe(func(e facade.Event) {
		log.WithField("event", e.Kind).Debug("facade event")
	})

	d := death.NewDeath(syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	d.WaitForDeathWithFunc(func() {
		log.Info("shutting down")
		engine.DisableMining()
		srv.Shutdown()
	})
	return nil
}

// buildNode assembles the store-backed engine, peer server, gossip
// handler and facade that every subcommand shares. Subcommands that
// never listen (wallet, send, printchain) still build the same graph
// so Facade's bookkeeping stays consistent; they simply never call
// Listen.
func buildNode(cfg config.NodeConfig) (*keystore.Store, *chain.Engine, *p2p.Server, *gossip.Handler, *facade.Facade, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("create data dir: %w", err)
	}

	keys, err := keystore.Open(filepath.Join(cfg.DataDir, "keys.gob"))
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("open keystore: %w", err)
	}

	signerAddr := cfg.MiningAddr
	if signerAddr == "" {
		addrs := keys.Addresses()
		if len(addrs) > 0 {
			signerAddr = addrs[0]
		}
	}
	signer, ok := keys.Signer(signerAddr)
	if !ok {
		signerAddr, err = keys.NewKey()
		if err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("create initial key: %w", err)
		}
		signer, _ = keys.Signer(signerAddr)
	}

	srv := p2p.NewServer(cfg.NodeID)
	gh := gossip.New(cfg.NodeID, nil, srv) // engine wired in below, after chain.New

	engine, err := chain.New(chain.Config{
		DataPath:     filepath.Join(cfg.DataDir, "ledger.db"),
		Difficulty:   cfg.Difficulty,
		MiningReward: cfg.MiningReward,
	}, gh)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	gh.SetEngine(engine)

	srv.OnConnected = gh.HandleConnected
	srv.OnMessage = gh.HandleFrame
	srv.OnDisconnected = gh.HandleDisconnected

	fac := facade.New(engine, srv, gh, signer, keys)

	return keys, engine, srv, gh, fac, nil
}
