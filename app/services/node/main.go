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

	"github.com/ardanlabs/conf/v3"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/orecoin/orecoin/app/services/node/handlers"
	"github.com/orecoin/orecoin/foundation/blockchain/database"
	"github.com/orecoin/orecoin/foundation/blockchain/database/storage"
	"github.com/orecoin/orecoin/foundation/blockchain/genesis"
	"github.com/orecoin/orecoin/foundation/blockchain/p2p"
	"github.com/orecoin/orecoin/foundation/blockchain/peer"
	"github.com/orecoin/orecoin/foundation/blockchain/state"
	"github.com/orecoin/orecoin/foundation/blockchain/worker"
	"github.com/orecoin/orecoin/foundation/events"
	"github.com/orecoin/orecoin/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer logger.Sync(log)

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		logger.Sync(log)
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
		}
		Node struct {
			GossipHost     string   `conf:"default:0.0.0.0:10080"`
			KeyPath        string   `conf:"default:zblock/accounts/miner1.ecdsa"`
			GenesisPath    string   `conf:"default:zblock/genesis.json"`
			DBPath         string   `conf:"default:zblock/blocks"`
			StorageBackend string   `conf:"default:disk,help:disk | memory | pebble"`
			SelectStrategy string   `conf:"default:fee"`
			KnownPeers     []string `conf:""`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "proof of work utxo ledger node",
		},
	}

	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Blockchain Support

	// Need to load the private key file for the configured beneficiary so the
	// account can get credited with block rewards and fees.
	privateKey, err := crypto.LoadECDSA(cfg.Node.KeyPath)
	if err != nil {
		return fmt.Errorf("unable to load private key for node: %w", err)
	}

	beneficiary, err := database.ToAccountID(crypto.PubkeyToAddress(privateKey.PublicKey).String())
	if err != nil {
		return fmt.Errorf("deriving beneficiary address: %w", err)
	}

	gen, err := genesis.Load(cfg.Node.GenesisPath)
	if err != nil {
		return fmt.Errorf("unable to load genesis file: %w", err)
	}

	// Select the block storage backend.
	var strg database.Storage
	switch cfg.Node.StorageBackend {
	case "memory":
		strg, err = storage.NewMemory()
	case "pebble":
		strg, err = storage.NewPebble(cfg.Node.DBPath)
	default:
		strg, err = storage.NewDisk(cfg.Node.DBPath)
	}
	if err != nil {
		return fmt.Errorf("opening block storage: %w", err)
	}
	defer strg.Close()

	// A peer set is a collection of known nodes in the network so transactions
	// and blocks can be shared.
	peerSet := peer.NewPeerSet()
	for _, host := range cfg.Node.KnownPeers {
		peerSet.Add(peer.New(host))
	}

	// The blockchain packages accept a function of this signature to allow
	// the application to log. These raw messages are also sent to any
	// websocket client connected through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	// The state value represents the blockchain node and manages the
	// blockchain database and provides an API for application support.
	st, err := state.New(state.Config{
		BeneficiaryAddress: beneficiary,
		Host:               cfg.Node.GossipHost,
		Storage:            strg,
		Genesis:            gen,
		SelectStrategy:     cfg.Node.SelectStrategy,
		KnownPeers:         peerSet,
		EvHandler:          ev,
	})
	if err != nil {
		return err
	}
	defer st.Shutdown()

	// The worker package implements the mining and transaction sharing
	// workflows. The worker will register itself with the state.
	worker.Run(st, ev)

	// =========================================================================
	// Start Gossip Service

	gossip := p2p.NewServer(p2p.Config{
		Host:      cfg.Node.GossipHost,
		State:     st,
		EvHandler: ev,
	})
	if err := gossip.Start(); err != nil {
		return fmt.Errorf("starting gossip server: %w", err)
	}
	defer gossip.Shutdown()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug router started", "host", cfg.Web.DebugHost)

	// Not concerned with shutting this down with load shedding.
	debugMux := handlers.DebugMux(build, log)
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		Evts:     evts,
	})

	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
	})

	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
