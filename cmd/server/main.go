package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vtvl/internal/chain"
	"vtvl/internal/config"
	"vtvl/internal/contracts"
	"vtvl/internal/server"
	"vtvl/internal/vaultstore"
	"vtvl/internal/workflow"

	"github.com/ethereum/go-ethereum/common"
)

// devSigner backs the in-memory chain used when no RPC endpoint is set.
var devSigner = common.HexToAddress("0x00000000000000000000000000000000000de501")

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()

	set, err := contracts.Load(cfg.Factory.ABIPath)
	if err != nil {
		log.Fatalf("contract abi error: %v", err)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("vault store error: %v", err)
	}
	defer closeStore()

	var client chain.Client
	if cfg.Chain.RPCURL != "" {
		ethClient, err := chain.NewEthClient(ctx, chain.EthClientConfig{
			RPCURL:        cfg.Chain.RPCURL,
			PrivateKeyHex: cfg.Chain.PrivateKey,
			PollInterval:  cfg.Chain.PollInterval,
		})
		if err != nil {
			log.Fatalf("chain client error: %v", err)
		}
		defer ethClient.Close()
		client = ethClient
	} else {
		log.Printf("[CHAIN] CHAIN_RPC_URL not set, using in-memory chain")
		client = chain.NewFakeClient(devSigner)
	}

	flow, err := workflow.New(ctx, client, store, workflow.Config{
		Factory:           common.HexToAddress(cfg.Factory.Address),
		Contracts:         set,
		CreatedEvent:      cfg.Factory.EventSignature,
		CreatedArgIndex:   cfg.Factory.EventArgIndex,
		DecimalsCacheSize: cfg.Service.DecimalsCacheSize,
	})
	if err != nil {
		log.Fatalf("workflow error: %v", err)
	}

	apiServer := server.NewServer(cfg, flow, client, store)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.AppConfig) (vaultstore.Store, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		return vaultstore.NewMemoryStore(), func() {}, nil
	case "postgres":
		pg, err := vaultstore.NewPostgresStore(ctx, cfg.Store.PostgresDSN, cfg.Store.Session)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		fs, err := vaultstore.NewFileStore(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}
}
