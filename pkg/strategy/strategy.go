// Package strategy implements the Strategy Ladder (§4.4): a fixed,
// ordered list of execution plans tried in sequence for one
// in-flight transaction, each capable of preparing on-Chain state,
// incorporating fresh emulation, executing, and cancelling.
package strategy

import (
	"context"

	"github.com/neon-proxy/neon-proxy/pkg/chainclient"
	"github.com/neon-proxy/neon-proxy/pkg/execctx"
)

// Outcome tags how one execute() call ended. The source language used
// raise/catch for this; here it is an explicit result variant dispatched
// by the ladder runner (§9 design note).
type Outcome int

const (
	// OutcomeReceipt means execute() produced a terminal receipt.
	OutcomeReceipt Outcome = iota
	// OutcomeReschedule means the attempt could not complete this pass
	// but may succeed later; the ladder neither cancels nor advances.
	OutcomeReschedule
	// OutcomeWrongStrategy means this strategy cannot carry the tx
	// further; the ladder cancels if a receipt already completed,
	// otherwise advances to the next rung.
	OutcomeWrongStrategy
	// OutcomeOtherFailure means execute() failed for a reason other
	// than the two above; the ladder always cancels and propagates.
	OutcomeOtherFailure
)

// Result is what execute() returns, named per Outcome.
type Result struct {
	Outcome Outcome
	Receipt chainclient.TxReceipt
	Err     error
}

// Strategy is the uniform interface every rung of the ladder implements
// (§4.4).
type Strategy interface {
	// Name identifies the strategy for logging and ladder-index lookup.
	Name() string

	// Validate decides, from ExecCfg, whether this plan applies.
	Validate(ctx *execctx.ExecCtx) (ok bool, reason string)

	// PrepBeforeEmulate performs on-Chain preparation (holder create,
	// ALT create/extend, staging tx bytes) and reports whether it
	// mutated Chain state.
	PrepBeforeEmulate(ctx context.Context, ectx *execctx.ExecCtx) (hasChanges bool, err error)

	// UpdateAfterEmulate incorporates fresh emulation output.
	UpdateAfterEmulate(ectx *execctx.ExecCtx)

	// Execute submits the execution itself.
	Execute(ctx context.Context, ectx *execctx.ExecCtx) Result

	// HasCompletedReceipt reports whether execution reached a point
	// past which rollback is impossible.
	HasCompletedReceipt(ectx *execctx.ExecCtx) bool

	// Cancel attempts CancelWithHash against the accumulated account
	// list. Best-effort: failures are logged, not retried.
	Cancel(ctx context.Context, ectx *execctx.ExecCtx) error
}

// Index names the canonical ladder position of each strategy (§4.4). The
// order is semantic, not cosmetic: strategies are tried from Simple
// toward more expensive fallbacks.
type Index int

const (
	IdxSimple Index = iota
	IdxALTSimple
	IdxIterative
	IdxALTIterative
	IdxSimpleHolder
	IdxALTSimpleHolder
	IdxHolder
	IdxALTHolder
	IdxNoChainID
	IdxALTNoChainID
)

func (i Index) String() string {
	names := [...]string{
		"Simple", "ALT-Simple", "Iterative", "ALT-Iterative",
		"Simple-Holder", "ALT-Simple-Holder", "Holder", "ALT-Holder",
		"NoChainId", "ALT-NoChainId",
	}
	if int(i) < 0 || int(i) >= len(names) {
		return "Unknown"
	}
	return names[i]
}
