package execctx

import (
	"fmt"
	"sync"

	"github.com/neon-proxy/neon-proxy/pkg/emulator"
	"github.com/neon-proxy/neon-proxy/pkg/ethtx"
)

// ExecCtx is the mutable per-transaction workspace the Strategy Ladder
// drives to completion: one EthTx, its ExecCfg, a checked-out OpRes, and
// the bookkeeping the ladder runner needs to pick up where it left off
// after a Reschedule (§3, §4.3, §4.4).
type ExecCtx struct {
	mu sync.Mutex

	EthTx  *ethtx.EthTx
	Cfg    *ExecCfg
	OpRes  *OpRes

	// StrategyIdx is the index into the canonical ladder order of the
	// strategy currently in use. It never decreases (§8 S4
	// monotonicity invariant): once a later strategy is tried, the
	// ladder never falls back to an earlier one for this ExecCtx.
	StrategyIdx int

	// StateTxCnt counts ladder passes for this ExecCtx: RecordAttempt
	// bumps it once from the ladder runner's finally-block every pass,
	// regardless of outcome. It does not hold the sender's on-Chain
	// nonce; the nonce fetched by the ladder's refreshNonce callback is
	// not stored here.
	StateTxCnt int

	// hasCompletedReceipt latches true the first time has_completed_receipt
	// observes a terminal receipt; once true, prep_before_emulate must
	// never run again for this ExecCtx (§8 completion-safety invariant).
	hasCompletedReceipt bool

	EmulatedResult *emulator.Result
}

// New constructs an ExecCtx at the bottom of the ladder (strategy index 0)
// for a freshly validated transaction.
func New(tx *ethtx.EthTx, cfg *ExecCfg, opRes *OpRes) *ExecCtx {
	return &ExecCtx{
		EthTx:       tx,
		Cfg:         cfg,
		OpRes:       opRes,
		StrategyIdx: 0,
	}
}

// AdvanceStrategy moves to the given rung of the ladder, which may be the
// current one. It rejects moving backward, enforcing the monotonicity invariant directly rather than
// trusting callers to only ever pass increasing indices.
func (e *ExecCtx) AdvanceStrategy(idx int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx < e.StrategyIdx {
		return fmt.Errorf("execctx: strategy index must not decrease (have %d, got %d)", e.StrategyIdx, idx)
	}
	e.StrategyIdx = idx
	return nil
}

// RecordAttempt bumps StateTxCnt once per ladder pass; callers invoke this
// unconditionally from the runner's finally-equivalent regardless of
// whether the pass produced a receipt, an error, or a Reschedule.
func (e *ExecCtx) RecordAttempt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StateTxCnt++
}

// MarkReceiptComplete latches completion. Returns false if it was already
// latched, letting callers detect a double-completion attempt.
func (e *ExecCtx) MarkReceiptComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hasCompletedReceipt {
		return false
	}
	e.hasCompletedReceipt = true
	return true
}

// HasCompletedReceipt reports whether a terminal receipt has already been
// observed for this ExecCtx.
func (e *ExecCtx) HasCompletedReceipt() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasCompletedReceipt
}

// CanPrepBeforeEmulate enforces the completion-safety invariant (§8):
// once a receipt has completed, no further prep_before_emulate call is
// allowed to run for this ExecCtx.
func (e *ExecCtx) CanPrepBeforeEmulate() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.hasCompletedReceipt
}

// SetEmulatedResult folds fresh emulation output into both the ExecCtx and
// its ExecCfg, the only path by which TouchedAccounts/StepCount change
// after construction (§4.3).
func (e *ExecCtx) SetEmulatedResult(r *emulator.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EmulatedResult = r
	if e.Cfg != nil && r != nil {
		e.Cfg.ApplyEmulation(r.TouchedAccounts, r.StepCount)
	}
}
