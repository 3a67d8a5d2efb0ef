// Package execctx models the per-transaction mutable workspace described
// in §3/§4.3: ExecCfg (validation/emulation hints), Holder accounts,
// pooled OpRes identities, and the ExecCtx that ties them together for one
// in-flight transaction.
package execctx

import (
	"github.com/neon-proxy/neon-proxy/pkg/chainix"
)

// SingleInstructionDataBudget is the payload size above which a
// transaction can no longer ride in one TxExecFromData/TxStepFromData
// instruction and must be staged through a Holder instead (§3 ExecCfg,
// §8 S3).
const SingleInstructionDataBudget = 930 // bytes, conservative Chain packet headroom

// ExecCfg holds the per-EthTx execution hints produced by validation and
// emulation. Mutable only during validation and re-emulation (§3
// invariant); the Strategy Ladder reads it but never assigns new field
// values outside update_after_emulate.
type ExecCfg struct {
	StepCount       uint32
	TouchedAccounts []chainix.Pubkey
	NoChainID       bool
	ExceedsDataBudget bool
	HolderSizeHint  uint64
}

// NeedsHolder reports whether the plan must stage bytes through a Holder
// account rather than embedding the raw tx directly in instruction data.
func (c *ExecCfg) NeedsHolder() bool {
	return c.ExceedsDataBudget
}

// NeedsIteration reports whether the plan must drive multiple TxStep*
// instructions rather than a single TxExec* one.
func (c *ExecCfg) NeedsIteration() bool {
	return c.StepCount > 1
}

// ApplyEmulation folds fresh Emulator output into the config, the single
// place ExecCfg's touched-account list and step count are updated after
// construction (§4.3).
func (c *ExecCfg) ApplyEmulation(touched []chainix.Pubkey, stepCount uint32) {
	c.TouchedAccounts = touched
	c.StepCount = stepCount
}
