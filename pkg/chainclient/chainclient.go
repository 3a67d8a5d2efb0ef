// Package chainclient is the Proxy's collaborator interface onto the
// Chain itself: submitting instructions, reading accounts, and watching
// slots/cluster health. Concrete wiring uses go-ethereum's ethclient the
// same way the teacher's pkg/ethereum.Client does, because the EVM
// program's own externally-visible JSON-RPC surface for read paths
// (eth_call via the Emulator, balance/nonce lookups during §4.2
// validation) is Ethereum-shaped even though submission is Chain-native.
package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/neon-proxy/neon-proxy/pkg/chainix"
)

// TxReceipt is the chain-agnostic outcome of submitting a ChainIx: did it
// land, in which slot, and what status did the EVM program report.
type TxReceipt struct {
	Signature string
	Slot      uint64
	Status    uint8 // 0 = pending/unknown, 1 = success, 2 = failed
	LogMsgs   []string
}

// Client is the suspension-point boundary named in §5: every method here
// is a blocking RPC call a strategy or the validator awaits.
type Client interface {
	// Submit sends a single Chain transaction built from the given
	// instructions, signed by the operator, and returns once the Chain
	// has accepted or rejected it.
	Submit(ctx context.Context, ixs []chainix.ChainIx) (TxReceipt, error)

	// GetAccount fetches the raw bytes of a Chain account, or (nil, nil)
	// if the account does not exist.
	GetAccount(ctx context.Context, pk chainix.Pubkey) ([]byte, error)

	// GetTransaction fetches a previously submitted transaction's current
	// receipt by signature.
	GetTransaction(ctx context.Context, signature string) (TxReceipt, error)

	// GetSlot returns the Chain's current slot at the requested
	// commitment level ("processed", "confirmed", "finalized").
	GetSlot(ctx context.Context, commitment string) (uint64, error)

	// GetClusterNodes is used by health/readiness checks.
	GetClusterNodes(ctx context.Context) (int, error)

	// EthBalance and EthNonce proxy the EVM program's own view of an
	// Ethereum-shaped account, via its eth_call-compatible JSON-RPC
	// surface, for validator/RPC-worker reads.
	EthBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	EthNonce(ctx context.Context, addr common.Address) (uint64, error)
}

// ethJSONRPCClient talks to the EVM program's Ethereum-shaped read surface
// over go-ethereum's ethclient, mirroring pkg/ethereum.Client's dial/query
// pattern. Instruction submission is Chain-native and is modeled here as a
// placeholder that real deployments replace with a Chain SDK client;
// nothing in this proxy's core (§1 scope) depends on which SDK performs
// the actual signature/submit step.
type ethJSONRPCClient struct {
	eth     *ethclient.Client
	timeout time.Duration
}

// NewEthJSONRPCClient dials the EVM program's Ethereum-compatible RPC
// endpoint for the read paths (balance, nonce) that back §4.2 validation
// and §6's eth_getBalance/eth_getTransactionCount.
func NewEthJSONRPCClient(url string, timeout time.Duration) (Client, error) {
	c, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("chainclient: dial %s: %w", url, err)
	}
	return &ethJSONRPCClient{eth: c, timeout: timeout}, nil
}

func (c *ethJSONRPCClient) Submit(ctx context.Context, ixs []chainix.ChainIx) (TxReceipt, error) {
	return TxReceipt{}, fmt.Errorf("chainclient: Submit requires a Chain-native signer/broadcaster, not wired in this build")
}

func (c *ethJSONRPCClient) GetAccount(ctx context.Context, pk chainix.Pubkey) ([]byte, error) {
	return nil, fmt.Errorf("chainclient: GetAccount requires a Chain-native account-info RPC, not wired in this build")
}

func (c *ethJSONRPCClient) GetTransaction(ctx context.Context, signature string) (TxReceipt, error) {
	return TxReceipt{}, fmt.Errorf("chainclient: GetTransaction requires a Chain-native signature-status RPC, not wired in this build")
}

// GetSlot ignores commitment: it returns the number of the latest block
// header the EVM RPC endpoint reports, whichever level is requested.
func (c *ethJSONRPCClient) GetSlot(ctx context.Context, commitment string) (uint64, error) {
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("chainclient: get slot: %w", err)
	}
	return header.Number.Uint64(), nil
}

func (c *ethJSONRPCClient) GetClusterNodes(ctx context.Context) (int, error) {
	return 1, nil
}

func (c *ethJSONRPCClient) EthBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("chainclient: get balance: %w", err)
	}
	return bal, nil
}

func (c *ethJSONRPCClient) EthNonce(ctx context.Context, addr common.Address) (uint64, error) {
	nonce, err := c.eth.NonceAt(ctx, addr, nil)
	if err != nil {
		return 0, fmt.Errorf("chainclient: get nonce: %w", err)
	}
	return nonce, nil
}
