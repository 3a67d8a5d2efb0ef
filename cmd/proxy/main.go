// Command proxy is the Ethereum-compatible JSON-RPC Proxy: it wires the
// Validator, Strategy Ladder, Mempool Service, Indexer Loop and JSON-RPC
// dispatch layer together into one running process, the way the
// teacher's main.go wires its own consensus/ledger/HTTP stack.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/neon-proxy/neon-proxy/pkg/cache"
	"github.com/neon-proxy/neon-proxy/pkg/chainclient"
	"github.com/neon-proxy/neon-proxy/pkg/chainix"
	"github.com/neon-proxy/neon-proxy/pkg/config"
	"github.com/neon-proxy/neon-proxy/pkg/emulator"
	"github.com/neon-proxy/neon-proxy/pkg/execctx"
	"github.com/neon-proxy/neon-proxy/pkg/indexer"
	"github.com/neon-proxy/neon-proxy/pkg/indexerdb"
	"github.com/neon-proxy/neon-proxy/pkg/jsonrpc"
	"github.com/neon-proxy/neon-proxy/pkg/mempool"
	"github.com/neon-proxy/neon-proxy/pkg/rpcworker"
	"github.com/neon-proxy/neon-proxy/pkg/strategy"
	"github.com/neon-proxy/neon-proxy/pkg/validator"
)

// proxyVersion is compared against the EVM program's own reported
// version by ParamCache's compatibility gate (§4.8).
const proxyVersion = "v1.0.0"

// HealthStatus tracks the health of the proxy's dependent services for
// the /health endpoint.
type HealthStatus struct {
	Status        string `json:"status"` // "ok", "degraded", "error"
	Chain         string `json:"chain"`  // "connected", "disconnected"
	Emulator      string `json:"emulator"`
	Database      string `json:"database"`
	Mempool       string `json:"mempool"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	startTime time.Time
	mu        sync.RWMutex
}

func newHealthStatus() *HealthStatus {
	return &HealthStatus{
		Status:    "starting",
		Chain:     "unknown",
		Emulator:  "unknown",
		Database:  "unknown",
		Mempool:   "unknown",
		startTime: time.Now(),
	}
}

func (h *HealthStatus) SetChain(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Chain = status
	h.updateOverallStatus()
}

func (h *HealthStatus) SetEmulator(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Emulator = status
	h.updateOverallStatus()
}

func (h *HealthStatus) SetDatabase(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Database = status
	h.updateOverallStatus()
}

func (h *HealthStatus) SetMempool(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Mempool = status
	h.updateOverallStatus()
}

func (h *HealthStatus) updateOverallStatus() {
	if h.Chain == "disconnected" || h.Emulator == "disconnected" {
		h.Status = "error"
		return
	}
	if h.Database == "disconnected" {
		h.Status = "degraded"
		return
	}
	if h.Chain == "connected" && h.Emulator == "connected" && h.Mempool == "active" {
		h.Status = "ok"
	}
}

func (h *HealthStatus) ToJSON() []byte {
	h.mu.Lock()
	h.UptimeSeconds = int64(time.Since(h.startTime).Seconds())
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	data, _ := json.Marshal(h)
	return data
}

// staticGasPriceSource serves a fixed gas-price floor until a real
// external price feed (§1 Non-goals) is wired in front of it.
type staticGasPriceSource struct {
	suggested *big.Int
	min       *big.Int
}

func (s staticGasPriceSource) GasPrice(ctx context.Context) (mempool.GasPriceResult, error) {
	return mempool.GasPriceResult{Suggested: s.suggested, Min: s.min}, nil
}

// chainElfParamSource stands in for the EVM program's ELF parameter
// dictionary. The concrete decode is an external collaborator (§1
// Non-goals); this build reads no account data and returns the configured
// EVM version (-evm-version / NEON_EVM_VERSION) and a fixed step limit.
type chainElfParamSource struct {
	evmVersion string
	maxSteps   string
}

func (s chainElfParamSource) ElfParamDict(ctx context.Context) (map[string]string, error) {
	return map[string]string{
		"NEON_EVM_VERSION":   s.evmVersion,
		"NEON_EVM_STEPS_MAX": s.maxSteps,
	}, nil
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("starting neon-proxy")

	var (
		evmVersionFlag = flag.String("evm-version", "", "reported EVM program version (overrides NEON_EVM_VERSION env var)")
		showHelp       = flag.Bool("help", false, "show help message")
	)
	flag.Parse()
	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	evmVersion := os.Getenv("NEON_EVM_VERSION")
	if *evmVersionFlag != "" {
		evmVersion = *evmVersionFlag
	}
	if evmVersion == "" {
		evmVersion = "1.2.5"
	}

	health := newHealthStatus()
	ctx, cancel := context.WithCancel(context.Background())

	chain, err := chainclient.NewEthJSONRPCClient(cfg.ChainRPCURL, 30*time.Second)
	if err != nil {
		log.Fatalf("dial chain rpc: %v", err)
	}
	health.SetChain("connected")
	log.Printf("connected to chain rpc at %s", cfg.ChainRPCURL)

	emu, err := emulator.NewRPCEmulator(ctx, cfg.EmulatorRPCURL)
	if err != nil {
		log.Fatalf("dial emulator rpc: %v", err)
	}
	health.SetEmulator("connected")
	log.Printf("connected to emulator rpc at %s", cfg.EmulatorRPCURL)

	var store indexerdb.Store
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = buildDSN(cfg)
	}
	pgStore, err := indexerdb.Open(ctx, indexerdb.Config{
		DSN:             dsn,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.Printf("indexer database unavailable, running in degraded mode: %v", err)
		health.SetDatabase("disconnected")
		store = nil
	} else {
		if err := pgStore.Migrate(ctx); err != nil {
			log.Fatalf("migrate indexer database: %v", err)
		}
		defer pgStore.Close()
		health.SetDatabase("connected")
		store = pgStore
	}

	chainID := big.NewInt(cfg.ChainID)
	evmProgramID, err := chainix.PubkeyFromBase58(cfg.EVMProgramID)
	if err != nil {
		log.Fatalf("parse EVM_PROGRAM_ID: %v", err)
	}
	// IncineratorID is Chain's well-known incinerator address
	// ("1nc1nerator11111111111111111111111111111111"), not operator or
	// network config — every cluster has the same one.
	incineratorID, err := chainix.PubkeyFromBase58("1nc1nerator11111111111111111111111111111111")
	if err != nil {
		log.Fatalf("parse incinerator address: %v", err)
	}
	sys := chainix.SystemAccounts{
		EVMProgramID:    evmProgramID,
		SystemProgramID: chainix.Pubkey{},
		IncineratorID:   incineratorID,
	}

	v := validator.New(chain, emu, chainID)

	pool, ladder := buildOperatorPool(cfg, chain, emu, sys)

	mpServer := mempool.NewServer(nil)
	mpService := mempool.NewService(chain, emu, ladder, pool,
		staticGasPriceSource{suggested: big.NewInt(1_000_000_000), min: big.NewInt(1)},
		chainElfParamSource{evmVersion: evmVersion, maxSteps: "500000"},
		nil,
	)
	mpService.Register(mpServer, ctx)
	go mpServer.Serve(ctx)
	health.SetMempool("active")
	mpClient := mempool.NewClient(mpServer)

	gasPrices := cache.NewGasPriceCache(mpClient, nil)
	params := cache.NewParamCache(mpClient, proxyVersion, nil, nil)

	worker := rpcworker.New(chain, store, mpClient, v, emu, nil, nil, cfg.RetryOnFail)
	rpcHandler := jsonrpc.New(worker, gasPrices, params, chainID, cfg.EnablePrivateAPI, nil)

	mux := http.NewServeMux()
	mux.Handle("/", rpcHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "ok" || health.Status == "degraded" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write(health.ToJSON())
	})

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	if store != nil {
		startCfg, err := indexer.ParseStartSlotConfig(cfg.StartSlot)
		if err != nil {
			log.Fatalf("parse START_SLOT: %v", err)
		}
		ingest := func(ctx context.Context, fromSlot, toSlot uint64) (uint64, error) {
			return toSlot, nil
		}
		loop := indexer.New(chain, store, time.Duration(cfg.IndexerCheckMsec)*time.Millisecond, startCfg, ingest, nil)
		go func() {
			if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("indexer loop stopped: %v", err)
			}
		}()
	}

	go func() {
		log.Printf("listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
	log.Printf("shutdown complete")
}

// buildOperatorPool loads every configured operator keypair into an
// execctx.Pool and builds the Strategy Ladder bound to it, wiring the
// ladder's emulate/refreshNonce suspension points (§5) onto the real
// Chain client and Emulator.
func buildOperatorPool(cfg *config.Config, chain chainclient.Client, emu emulator.Emulator, sys chainix.SystemAccounts) (*execctx.Pool, *strategy.Ladder) {
	resources := make([]*execctx.OpRes, 0, len(cfg.OperatorKeypairPaths))
	for i, path := range cfg.OperatorKeypairPaths {
		signer, err := chainix.LoadSignerPubkey(path)
		if err != nil {
			log.Fatalf("load operator keypair %s: %v", path, err)
		}
		neonSide := chainix.OperatorNeonSideAddress(sys.EVMProgramID, signer)
		holderAddr := chainix.OperatorHolderAddress(sys.EVMProgramID, signer, uint32(i))
		resources = append(resources, &execctx.OpRes{
			Signer:   signer,
			NeonSide: neonSide,
			Holder:   execctx.NewHolder(holderAddr),
		})
	}
	pool := execctx.NewPool(resources)

	altProgramID := chainix.Pubkey{}

	emulate := func(ctx context.Context, ectx *execctx.ExecCtx) error {
		result, err := emu.Emulate(ctx, ectx.EthTx)
		if err != nil {
			return err
		}
		ectx.SetEmulatedResult(&result)
		return nil
	}
	refreshNonce := func(ctx context.Context, ectx *execctx.ExecCtx) error {
		_, err := chain.EthNonce(ctx, common.Address(ectx.EthTx.Sender))
		return err
	}

	ladder := strategy.New(chain, sys, altProgramID, cfg.TreasuryPoolMax, cfg.RetryOnFail, emulate, refreshNonce)
	return pool, ladder
}

func buildDSN(cfg *config.Config) string {
	if cfg.DBPassword == "" {
		return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s", cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBName, cfg.DBSSLMode)
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)
}

func printHelp() {
	log.Printf("usage: proxy [flags]")
	flag.PrintDefaults()
}
