package strategy

import (
	"context"
	"fmt"

	"github.com/neon-proxy/neon-proxy/pkg/chainclient"
	"github.com/neon-proxy/neon-proxy/pkg/chainix"
	"github.com/neon-proxy/neon-proxy/pkg/execctx"
)

// base holds the collaborators every concrete strategy needs: a Chain
// client to submit instructions and a fixed system-account bundle
// (§4.1's "system program / EVM program appended as read-only"). It is
// embedded, never used standalone.
type base struct {
	chain           chainclient.Client
	sys             chainix.SystemAccounts
	treasuryPoolMax uint32
}

func (b *base) treasuryIndex(txSig [32]byte) uint32 {
	return chainix.TreasuryPoolIndex(txSig, b.treasuryPoolMax)
}

func (b *base) txAccountsFor(ectx *execctx.ExecCtx) chainix.TxAccounts {
	return chainix.TxAccounts{
		OperatorSigner: ectx.OpRes.Signer,
		OperatorNeon:   ectx.OpRes.NeonSide,
		Holder:         ectx.OpRes.Holder.Address,
		Touched:        ectx.Cfg.TouchedAccounts,
	}
}

// submit wraps chain.Submit with a uniform error wrapper so every
// concrete strategy reports failures the same way.
func (b *base) submit(ctx context.Context, ix chainix.ChainIx) (chainclient.TxReceipt, error) {
	receipt, err := b.chain.Submit(ctx, []chainix.ChainIx{ix})
	if err != nil {
		return chainclient.TxReceipt{}, fmt.Errorf("strategy: submit: %w", err)
	}
	return receipt, nil
}

// cancel issues CancelWithHash against the tx's accumulated accounts,
// best-effort per §5's cancellation policy.
func (b *base) cancel(ctx context.Context, ectx *execctx.ExecCtx) error {
	ix := chainix.BuildCancelWithHash(b.sys.EVMProgramID, ectx.EthTx.TxSig, b.txAccountsFor(ectx), b.sys)
	_, err := b.submit(ctx, ix)
	if ectx.OpRes.Holder != nil {
		ectx.OpRes.Holder.MarkCancelled()
	}
	return err
}
