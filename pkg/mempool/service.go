package mempool

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/neon-proxy/neon-proxy/pkg/chainclient"
	"github.com/neon-proxy/neon-proxy/pkg/emulator"
	"github.com/neon-proxy/neon-proxy/pkg/ethtx"
	"github.com/neon-proxy/neon-proxy/pkg/execctx"
	"github.com/neon-proxy/neon-proxy/pkg/strategy"
)

// GasPriceSource resolves the current suggested/minimum gas price, the
// external price feed named in §1's Non-goals.
type GasPriceSource interface {
	GasPrice(ctx context.Context) (GasPriceResult, error)
}

// ElfParamSource resolves the EVM program's ELF parameter dictionary
// (§4.8), another external collaborator this service polls rather than
// computes.
type ElfParamSource interface {
	ElfParamDict(ctx context.Context) (map[string]string, error)
}

// tracked is what the service remembers about one admitted transaction
// for the life of the process (no durable persistence, per §1 Non-goals).
type tracked struct {
	sender     [20]byte
	nonce      uint64
	stateTxCnt uint64
}

// Service implements the Mempool Service Protocol's server side (C5): it
// receives SendTransaction requests, assigns an Execution Context (C3)
// backed by a pooled OpRes, and hands it to the Strategy Ladder (C4). Per
// §5's scheduling model, SendTransaction returns as soon as the tx is
// admitted; the ladder then runs to completion in its own task so the
// event loop stays responsive to concurrent requests.
type Service struct {
	chain     chainclient.Client
	emulator  emulator.Emulator
	ladder    *strategy.Ladder
	pool      *execctx.Pool
	gasPrices GasPriceSource
	elfParams ElfParamSource
	logger    *log.Logger

	mu           sync.Mutex
	byTxSig      map[[32]byte]*tracked
	pendingNonce map[[20]byte]uint64 // one past the highest nonce admitted per sender
}

// NewService wires the mempool's server-side business logic. bg is the
// context tasks spawned by SendTransaction run under; it should live for
// the process lifetime, not the lifetime of any one request.
func NewService(chain chainclient.Client, emu emulator.Emulator, ladder *strategy.Ladder, pool *execctx.Pool, prices GasPriceSource, elfParams ElfParamSource, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[MempoolService] ", log.LstdFlags)
	}
	return &Service{
		chain:        chain,
		emulator:     emu,
		ladder:       ladder,
		pool:         pool,
		gasPrices:    prices,
		elfParams:    elfParams,
		logger:       logger,
		byTxSig:      make(map[[32]byte]*tracked),
		pendingNonce: make(map[[20]byte]uint64),
	}
}

// Register binds every handler this service implements onto s, matching
// the shape a deployment's main() wires once at startup.
func (svc *Service) Register(s *Server, bg context.Context) {
	s.Handle(KindSendTransaction, svc.handleSendTransaction(bg))
	s.Handle(KindGetStateTxCnt, svc.handleGetStateTxCnt)
	s.Handle(KindGetTxByHash, svc.handleGetTxByHash)
	s.Handle(KindGetGasPrice, svc.handleGetGasPrice)
	s.Handle(KindGetElfParamDict, svc.handleGetElfParamDict)
}

// handleSendTransaction closes over bg (the process-lifetime context) so
// the ladder run it spawns outlives the individual request.
func (svc *Service) handleSendTransaction(bg context.Context) Handler {
	return func(ctx context.Context, req Request) (interface{}, error) {
		payload, ok := req.Payload.(SendTransactionPayload)
		if !ok {
			return nil, fmt.Errorf("mempool: malformed SendTransaction payload")
		}

		tx, err := ethtx.Decode(payload.RawTx)
		if err != nil {
			return nil, fmt.Errorf("mempool: decode tx: %w", err)
		}

		svc.mu.Lock()
		if _, known := svc.byTxSig[tx.TxSig]; known {
			svc.mu.Unlock()
			return SendTransactionResult{Status: SendAlreadyKnown}, nil
		}
		svc.mu.Unlock()

		stateTxCnt, err := svc.chain.EthNonce(ctx, tx.Sender)
		if err != nil {
			return nil, fmt.Errorf("mempool: fetch state nonce: %w", err)
		}
		if tx.Nonce < stateTxCnt {
			cnt := stateTxCnt
			return SendTransactionResult{Status: SendNonceTooLow, StateTxCnt: &cnt}, nil
		}

		opRes, err := svc.pool.Checkout()
		if err != nil {
			return nil, fmt.Errorf("mempool: %w", err)
		}

		result, err := svc.emulator.Emulate(ctx, tx)
		if err != nil {
			if retErr := svc.pool.Return(opRes); retErr != nil {
				svc.logger.Printf("return operator resource: %v", retErr)
			}
			return nil, fmt.Errorf("mempool: emulate: %w", err)
		}

		cfg := &execctx.ExecCfg{
			NoChainID:         !tx.HasChainID(),
			ExceedsDataBudget: len(tx.Calldata) > execctx.SingleInstructionDataBudget,
		}
		cfg.ApplyEmulation(result.TouchedAccounts, result.StepCount)

		ectx := execctx.New(tx, cfg, opRes)

		svc.mu.Lock()
		svc.byTxSig[tx.TxSig] = &tracked{sender: tx.Sender, nonce: tx.Nonce, stateTxCnt: stateTxCnt}
		if next := tx.Nonce + 1; next > svc.pendingNonce[tx.Sender] {
			svc.pendingNonce[tx.Sender] = next
		}
		svc.mu.Unlock()

		go svc.runLadder(bg, ectx, opRes)

		return SendTransactionResult{Status: SendSuccess}, nil
	}
}

// runLadder drives one admitted transaction to completion outside the
// event loop (§5: "execution strategies are driven synchronously within
// one task per in-flight tx; multiple tasks run concurrently").
func (svc *Service) runLadder(ctx context.Context, ectx *execctx.ExecCtx, opRes *execctx.OpRes) {
	res, err := svc.ladder.Run(ctx, ectx)
	if err != nil {
		svc.logger.Printf("ladder run failed for sender %x nonce %d: %v", ectx.EthTx.Sender, ectx.EthTx.Nonce, err)
	} else {
		svc.logger.Printf("ladder run completed for sender %x nonce %d: outcome=%v", ectx.EthTx.Sender, ectx.EthTx.Nonce, res.Outcome)
	}

	if err := svc.pool.Return(opRes); err != nil {
		svc.logger.Printf("return operator resource: %v", err)
	}
}

func (svc *Service) handleGetStateTxCnt(ctx context.Context, req Request) (interface{}, error) {
	senders, ok := req.Payload.([][20]byte)
	if !ok {
		return nil, fmt.Errorf("mempool: malformed GetStateTxCnt payload")
	}

	out := make([]StateTxCntEntry, 0, len(senders))
	for _, sender := range senders {
		svc.mu.Lock()
		pending := svc.pendingNonce[sender]
		svc.mu.Unlock()

		onChain, err := svc.chain.EthNonce(ctx, sender)
		if err != nil {
			return nil, fmt.Errorf("mempool: fetch state nonce: %w", err)
		}

		cnt := onChain
		if pending > cnt {
			cnt = pending
		}
		out = append(out, StateTxCntEntry{Sender: sender, StateTxCnt: cnt})
	}
	return out, nil
}

func (svc *Service) handleGetTxByHash(ctx context.Context, req Request) (interface{}, error) {
	payload, ok := req.Payload.(TxByHashPayload)
	if !ok {
		return nil, fmt.Errorf("mempool: malformed GetTxByHash payload")
	}

	svc.mu.Lock()
	t, found := svc.byTxSig[payload.TxSig]
	svc.mu.Unlock()
	if !found {
		return nil, fmt.Errorf("mempool: unknown tx %x", payload.TxSig)
	}

	return TxInfo{TxSig: payload.TxSig, Sender: t.sender, Nonce: t.nonce, StateTxCnt: t.stateTxCnt}, nil
}

func (svc *Service) handleGetGasPrice(ctx context.Context, req Request) (interface{}, error) {
	if svc.gasPrices == nil {
		return nil, fmt.Errorf("mempool: no gas price source configured")
	}
	return svc.gasPrices.GasPrice(ctx)
}

func (svc *Service) handleGetElfParamDict(ctx context.Context, req Request) (interface{}, error) {
	if svc.elfParams == nil {
		return nil, fmt.Errorf("mempool: no elf param source configured")
	}
	return svc.elfParams.ElfParamDict(ctx)
}
