package strategy

import (
	"context"
	"fmt"

	"github.com/neon-proxy/neon-proxy/pkg/chainclient"
	"github.com/neon-proxy/neon-proxy/pkg/chainix"
	"github.com/neon-proxy/neon-proxy/pkg/execctx"
)

// ladderStrategy is the single concrete Strategy implementation backing
// all ten rungs of the canonical ladder (§4.4). The rungs differ only in
// which shape of transaction they accept and which ChainIx family they
// drive, so rather than duplicate the prep/execute/cancel plumbing ten
// times, one type is parameterized by Index and an optional ALT program.
// This mirrors how the teacher's single EVMStrategy type already serves
// every EVM network by varying only its ChainConfig, not its code.
type ladderStrategy struct {
	base

	idx          Index
	altProgramID *chainix.Pubkey // nil unless this rung is an ALT variant

	holderChunkSize int

	alt *chainix.Pubkey // resolved once PrepBeforeEmulate creates it

	altRegistered map[chainix.Pubkey]bool // touched accounts already extended into alt

	holderCreated bool // HolderCreate is idempotent on-Chain but only needs issuing once per attempt
}

// holderWriteChunkSize bounds each HolderWrite's payload comfortably
// under the same packet headroom that justifies SingleInstructionDataBudget.
const holderWriteChunkSize = 900

func newLadderStrategy(idx Index, b base, altProgramID *chainix.Pubkey) *ladderStrategy {
	return &ladderStrategy{base: b, idx: idx, altProgramID: altProgramID, holderChunkSize: holderWriteChunkSize}
}

func (s *ladderStrategy) Name() string { return s.idx.String() }

func (s *ladderStrategy) isALT() bool { return s.altProgramID != nil }

// usesHolder reports whether this rung stages the tx through a Holder
// account rather than embedding it directly in instruction data.
func (s *ladderStrategy) usesHolder() bool {
	switch s.idx {
	case IdxSimpleHolder, IdxALTSimpleHolder, IdxHolder, IdxALTHolder, IdxNoChainID, IdxALTNoChainID:
		return true
	default:
		return false
	}
}

// usesIteration reports whether this rung drives TxStep* rather than a
// single TxExec*.
func (s *ladderStrategy) usesIteration() bool {
	switch s.idx {
	case IdxIterative, IdxALTIterative, IdxHolder, IdxALTHolder, IdxNoChainID, IdxALTNoChainID:
		return true
	default:
		return false
	}
}

// requiresNoChainID reports whether this rung is the legacy,
// chain-ID-less family (§8 S5).
func (s *ladderStrategy) requiresNoChainID() bool {
	return s.idx == IdxNoChainID || s.idx == IdxALTNoChainID
}

func (s *ladderStrategy) Validate(ectx *execctx.ExecCtx) (bool, string) {
	cfg := ectx.Cfg

	if s.requiresNoChainID() {
		if !cfg.NoChainID {
			return false, "tx carries a chain id"
		}
		return true, ""
	}
	if cfg.NoChainID {
		return false, "tx lacks a chain id, only NoChainId strategies apply"
	}

	if s.usesHolder() {
		if !cfg.NeedsHolder() {
			return false, "payload fits without a holder"
		}
	} else if cfg.NeedsHolder() {
		return false, "payload exceeds single-instruction data budget"
	}

	if s.usesIteration() {
		if !cfg.NeedsIteration() {
			return false, "step count does not require iteration"
		}
	} else if cfg.NeedsIteration() {
		return false, "step count exceeds single-instruction execution"
	}

	return true, ""
}

func (s *ladderStrategy) PrepBeforeEmulate(ctx context.Context, ectx *execctx.ExecCtx) (bool, error) {
	changed := false

	if s.isALT() && s.alt == nil {
		slot, err := s.chain.GetSlot(ctx, "confirmed")
		if err != nil {
			return false, fmt.Errorf("strategy: %s: resolve slot for ALT: %w", s.Name(), err)
		}
		ix, table := chainix.BuildALTCreate(*s.altProgramID, ectx.OpRes.Signer, slot, s.sys)
		if _, err := s.submit(ctx, ix); err != nil {
			return false, fmt.Errorf("strategy: %s: create ALT: %w", s.Name(), err)
		}
		s.alt = &table
		s.altRegistered = make(map[chainix.Pubkey]bool)
		changed = true
	}

	if s.isALT() {
		var newKeys []chainix.Pubkey
		for _, a := range ectx.Cfg.TouchedAccounts {
			if !s.altRegistered[a] {
				newKeys = append(newKeys, a)
			}
		}
		if len(newKeys) > 0 {
			ix := chainix.BuildALTExtend(*s.altProgramID, *s.alt, ectx.OpRes.Signer, newKeys, s.sys)
			if _, err := s.submit(ctx, ix); err != nil {
				return changed, fmt.Errorf("strategy: %s: extend ALT: %w", s.Name(), err)
			}
			for _, a := range newKeys {
				s.altRegistered[a] = true
			}
			changed = true
		}
	}

	if !s.usesHolder() {
		return changed, nil
	}

	holder := ectx.OpRes.Holder
	if !s.holderCreated {
		ix := chainix.BuildHolderCreate(s.sys.EVMProgramID, holder.Address, ectx.OpRes.Signer, s.sys)
		if _, err := s.submit(ctx, ix); err != nil {
			return false, fmt.Errorf("strategy: %s: create holder: %w", s.Name(), err)
		}
		s.holderCreated = true
		changed = true
	}

	raw, err := ectx.EthTx.RawSignedTx()
	if err != nil {
		return changed, fmt.Errorf("strategy: %s: encode raw tx: %w", s.Name(), err)
	}

	written := holder.WrittenBytes()
	for int(written) < len(raw) {
		end := int(written) + s.holderChunkSize
		if end > len(raw) {
			end = len(raw)
		}
		chunk := raw[written:end]
		ix := chainix.BuildHolderWrite(s.sys.EVMProgramID, holder.Address, ectx.OpRes.Signer, ectx.EthTx.TxSig, written, chunk, s.sys)
		if _, err := s.submit(ctx, ix); err != nil {
			return changed, fmt.Errorf("strategy: %s: write holder chunk at %d: %w", s.Name(), written, err)
		}
		if !holder.RecordWrite(written, len(chunk)) {
			return changed, fmt.Errorf("strategy: %s: holder write at %d made no progress", s.Name(), written)
		}
		written = holder.WrittenBytes()
		changed = true
	}

	return changed, nil
}

func (s *ladderStrategy) UpdateAfterEmulate(ectx *execctx.ExecCtx) {
	// Nothing beyond what ExecCtx.SetEmulatedResult already folded into
	// ExecCfg; concrete strategies that need per-plan derived state
	// (e.g. a recomputed step count) read it directly off ectx.Cfg at
	// Execute time.
}

func (s *ladderStrategy) txAccounts(ectx *execctx.ExecCtx) chainix.TxAccounts {
	tx := s.txAccountsFor(ectx)
	tx.ALT = s.alt
	return tx
}

func (s *ladderStrategy) stepKind() chainix.TxStepKind {
	switch {
	case s.requiresNoChainID():
		return chainix.StepFromAccountNoChainID
	case s.usesHolder():
		return chainix.StepFromAccount
	default:
		return chainix.StepFromData
	}
}

func (s *ladderStrategy) Execute(ctx context.Context, ectx *execctx.ExecCtx) Result {
	evmProgramID := s.sys.EVMProgramID
	tx := s.txAccounts(ectx)

	if !s.usesIteration() {
		var ix chainix.ChainIx
		if s.usesHolder() {
			ix = chainix.BuildTxExecFromAccount(evmProgramID, s.treasuryPoolMax, ectx.EthTx.TxSig, tx, s.sys)
		} else {
			raw, err := ectx.EthTx.RawSignedTx()
			if err != nil {
				return Result{Outcome: OutcomeOtherFailure, Err: err}
			}
			ix = chainix.BuildTxExecFromData(evmProgramID, s.treasuryPoolMax, ectx.EthTx.TxSig, raw, tx, s.sys)
		}
		receipt, err := s.submit(ctx, ix)
		if err != nil {
			return Result{Outcome: OutcomeOtherFailure, Err: err}
		}
		ectx.MarkReceiptComplete()
		return Result{Outcome: OutcomeReceipt, Receipt: receipt}
	}

	kind := s.stepKind()
	stepCount := ectx.Cfg.StepCount
	if stepCount == 0 {
		stepCount = 1
	}

	var raw []byte
	var err error
	if kind == chainix.StepFromData {
		raw, err = ectx.EthTx.RawSignedTx()
		if err != nil {
			return Result{Outcome: OutcomeOtherFailure, Err: err}
		}
	}

	var receipt chainclient.TxReceipt
	for index := uint32(0); index < stepCount; index++ {
		ix, err := chainix.BuildTxStep(kind, evmProgramID, s.treasuryPoolMax, ectx.EthTx.TxSig, stepCount, index, raw, tx, s.sys)
		if err != nil {
			return Result{Outcome: OutcomeOtherFailure, Err: err}
		}
		receipt, err = s.submit(ctx, ix)
		if err != nil {
			return Result{Outcome: OutcomeOtherFailure, Err: err}
		}
		if receipt.Status != 0 {
			break
		}
	}

	ectx.MarkReceiptComplete()
	return Result{Outcome: OutcomeReceipt, Receipt: receipt}
}

func (s *ladderStrategy) HasCompletedReceipt(ectx *execctx.ExecCtx) bool {
	return ectx.HasCompletedReceipt()
}

func (s *ladderStrategy) Cancel(ctx context.Context, ectx *execctx.ExecCtx) error {
	return s.cancel(ctx, ectx)
}
