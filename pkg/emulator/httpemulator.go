package emulator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/neon-proxy/neon-proxy/pkg/chainix"
	"github.com/neon-proxy/neon-proxy/pkg/ethtx"
)

// emulateResponse mirrors the EVM program's emulation RPC response shape:
// the set of accounts the simulated run touched and the iterative step
// count it needed, the two fields ExecCfg derives from (§4.2).
type emulateResponse struct {
	Accounts  []string `json:"accounts"`
	StepCount uint32   `json:"steps_executed"`
	Exit      uint8    `json:"exit_status"`
	UsedGas   uint64   `json:"used_gas"`
}

// rpcEmulator talks to the external emulation service over JSON-RPC, the
// same dial-and-call shape pkg/chainclient uses for the EVM program's
// Ethereum-compatible surface, pointed at the custom "neon_emulate" /
// "eth_estimateGas" methods this oracle exposes.
type rpcEmulator struct {
	client *rpc.Client
}

// NewRPCEmulator dials the emulation service's JSON-RPC endpoint. It is a
// distinct endpoint from the Chain's own RPC per §1: the emulator is an
// external collaborator the Proxy queries, never something it runs itself.
func NewRPCEmulator(ctx context.Context, url string) (Emulator, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("emulator: dial %s: %w", url, err)
	}
	return &rpcEmulator{client: client}, nil
}

func (e *rpcEmulator) Emulate(ctx context.Context, tx *ethtx.EthTx) (Result, error) {
	raw, err := tx.RawSignedTx()
	if err != nil {
		return Result{}, fmt.Errorf("emulator: re-encode signed tx: %w", err)
	}

	var resp emulateResponse
	if err := e.client.CallContext(ctx, &resp, "neon_emulate", hexutil.Encode(raw)); err != nil {
		return Result{}, fmt.Errorf("emulator: neon_emulate: %w", err)
	}

	touched := make([]chainix.Pubkey, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		pk, err := chainix.PubkeyFromBase58(a)
		if err != nil {
			return Result{}, fmt.Errorf("emulator: decode touched account %q: %w", a, err)
		}
		touched = append(touched, pk)
	}

	return Result{
		TouchedAccounts: touched,
		StepCount:       resp.StepCount,
		ExitStatus:      resp.Exit,
		UsedGas:         resp.UsedGas,
	}, nil
}

func (e *rpcEmulator) EstimateGas(ctx context.Context, from common.Address, to *common.Address, data []byte, value, gasPrice uint64) (uint64, error) {
	args := map[string]interface{}{
		"from":     from,
		"data":     hexutil.Encode(data),
		"value":    hexutil.EncodeBig(new(big.Int).SetUint64(value)),
		"gasPrice": hexutil.EncodeBig(new(big.Int).SetUint64(gasPrice)),
	}
	if to != nil {
		args["to"] = to
	}

	var gas hexutil.Uint64
	if err := e.client.CallContext(ctx, &gas, "eth_estimateGas", args); err != nil {
		return 0, fmt.Errorf("emulator: eth_estimateGas: %w", err)
	}
	return uint64(gas), nil
}
