package strategy

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/neon-proxy/neon-proxy/pkg/chainclient"
	"github.com/neon-proxy/neon-proxy/pkg/chainix"
	"github.com/neon-proxy/neon-proxy/pkg/emulator"
	"github.com/neon-proxy/neon-proxy/pkg/execctx"
)

// Canonical ladder order, fixed (§4.4).
var canonicalOrder = []Index{
	IdxSimple, IdxALTSimple, IdxIterative, IdxALTIterative,
	IdxSimpleHolder, IdxALTSimpleHolder, IdxHolder, IdxALTHolder,
	IdxNoChainID, IdxALTNoChainID,
}

// ErrBigTx is terminal: no strategy in the ladder applies to this tx
// (§7).
var ErrBigTx = errors.New("strategy: no applicable strategy (BigTx)")

// ErrNoMoreRetries is terminal: prep_before_emulate exhausted its retry
// budget without reaching execute() (§7).
var ErrNoMoreRetries = errors.New("strategy: prep retries exhausted")

// RetryOnFail bounds how many times a single rung retries its
// prep/emulate/execute cycle before giving up (§4.4 step 2.c); it is the
// RETRY_ON_FAIL env surface named in §6.
type Ladder struct {
	strategies  []Strategy
	retryOnFail int
	emulate     func(ctx context.Context, ectx *execctx.ExecCtx) error
	refreshNonce func(ctx context.Context, ectx *execctx.ExecCtx) error
}

// New builds the canonical ladder bound to a Chain client and an EVM
// program/ALT program/treasury config. emulate and refreshNonce are the
// suspension points (§5) the ladder calls out to: re-emulation after a
// prep that changed Chain state, and the nonce refresh the main loop
// contract requires before each strategy attempt.
func New(chain chainclient.Client, sys chainix.SystemAccounts, altProgramID chainix.Pubkey, treasuryPoolMax uint32, retryOnFail int,
	emulate func(ctx context.Context, ectx *execctx.ExecCtx) error,
	refreshNonce func(ctx context.Context, ectx *execctx.ExecCtx) error,
) *Ladder {
	b := base{chain: chain, sys: sys, treasuryPoolMax: treasuryPoolMax}

	strategies := make([]Strategy, 0, len(canonicalOrder))
	for _, idx := range canonicalOrder {
		if isALTIndex(idx) {
			strategies = append(strategies, newLadderStrategy(idx, b, &altProgramID))
		} else {
			strategies = append(strategies, newLadderStrategy(idx, b, nil))
		}
	}

	return &Ladder{strategies: strategies, retryOnFail: retryOnFail, emulate: emulate, refreshNonce: refreshNonce}
}

func isALTIndex(idx Index) bool {
	switch idx {
	case IdxALTSimple, IdxALTIterative, IdxALTSimpleHolder, IdxALTHolder, IdxALTNoChainID:
		return true
	default:
		return false
	}
}

// Run drives the main loop contract of §4.4 for one ExecCtx, starting at
// ectx.StrategyIdx (so a resumed/rescheduled ExecCtx picks up where it
// left off rather than re-trying earlier rungs, per the monotonicity
// invariant).
func (l *Ladder) Run(ctx context.Context, ectx *execctx.ExecCtx) (result Result, err error) {
	defer func() {
		// finally contract: regardless of how this pass ended, the pass
		// is counted (RecordAttempt) and refreshNonce is called again
		// (§4.4, §7).
		ectx.RecordAttempt()
		if l.refreshNonce != nil {
			_ = l.refreshNonce(ctx, ectx)
		}
	}()

	if !ectx.HasCompletedReceipt() {
		if refreshErr := l.refreshNonce(ctx, ectx); refreshErr != nil {
			return Result{}, fmt.Errorf("strategy: refresh nonce: %w", refreshErr)
		}
	}

	for i := ectx.StrategyIdx; i < len(l.strategies); i++ {
		s := l.strategies[i]

		if ok, _ := s.Validate(ectx); !ok {
			continue
		}

		if advErr := ectx.AdvanceStrategy(i); advErr != nil {
			return Result{}, advErr
		}

		res, loopErr := l.runRetries(ctx, s, ectx)
		if loopErr != nil {
			if errors.Is(loopErr, ErrNoMoreRetries) {
				return Result{}, loopErr
			}
			return Result{}, loopErr
		}

		switch res.Outcome {
		case OutcomeReceipt:
			return res, nil
		case OutcomeReschedule:
			return res, nil
		case OutcomeWrongStrategy:
			if s.HasCompletedReceipt(ectx) {
				if cancelErr := s.Cancel(ctx, ectx); cancelErr != nil {
					log.Printf("strategy: %s: cancel failed: %v", s.Name(), cancelErr)
				}
				return res, fmt.Errorf("strategy: %s: wrong strategy after completion: %w", s.Name(), res.Err)
			}
			continue
		default: // OutcomeOtherFailure
			if cancelErr := s.Cancel(ctx, ectx); cancelErr != nil {
				log.Printf("strategy: %s: cancel failed: %v", s.Name(), cancelErr)
			}
			return res, res.Err
		}
	}

	return Result{}, ErrBigTx
}

// runRetries implements §4.4 step 2.c's retry loop for one rung.
func (l *Ladder) runRetries(ctx context.Context, s Strategy, ectx *execctx.ExecCtx) (Result, error) {
	for retry := 0; retry < l.retryOnFail; retry++ {
		hasChanges := false
		if ectx.CanPrepBeforeEmulate() {
			var err error
			hasChanges, err = s.PrepBeforeEmulate(ctx, ectx)
			if err != nil {
				return Result{Outcome: OutcomeOtherFailure, Err: err}, nil
			}
		}

		if hasChanges || retry == 0 {
			if ectx.CanPrepBeforeEmulate() {
				if err := l.emulate(ctx, ectx); err != nil {
					if errors.Is(err, emulator.ErrReschedule) {
						return Result{Outcome: OutcomeReschedule, Err: err}, nil
					}
					return Result{Outcome: OutcomeOtherFailure, Err: err}, nil
				}
				s.UpdateAfterEmulate(ectx)

				// Fresh emulation can invalidate the rung this attempt
				// already committed to (§8 S4): a revised step count or
				// touched-account set may no longer fit this Index's
				// shape, even though it fit at selection time.
				if ok, reason := s.Validate(ectx); !ok {
					return Result{Outcome: OutcomeWrongStrategy, Err: fmt.Errorf("strategy: %s: no longer valid after emulation: %s", s.Name(), reason)}, nil
				}
			}
		}

		if hasChanges {
			continue
		}

		res := s.Execute(ctx, ectx)
		return res, nil
	}

	return Result{}, ErrNoMoreRetries
}
