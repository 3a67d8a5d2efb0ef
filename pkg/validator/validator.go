// Package validator implements the pre-admission checks run against a
// decoded Ethereum transaction before it is handed to the mempool (§4.2).
package validator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/neon-proxy/neon-proxy/pkg/chainclient"
	"github.com/neon-proxy/neon-proxy/pkg/emulator"
	"github.com/neon-proxy/neon-proxy/pkg/execctx"
	"github.com/neon-proxy/neon-proxy/pkg/ethtx"
)

// Kind tags the precheck failures named in §4.2, each carrying whatever
// context the caller needs to translate it into an RPC error.
type Kind int

const (
	KindInvalidTx Kind = iota
	KindNonceTooLow
	KindNonceTooHigh
	KindUnderpriced
	KindWrongChainID
	KindInsufficientFunds
)

func (k Kind) String() string {
	switch k {
	case KindInvalidTx:
		return "InvalidTx"
	case KindNonceTooLow:
		return "NonceTooLow"
	case KindNonceTooHigh:
		return "NonceTooHigh"
	case KindUnderpriced:
		return "Underpriced"
	case KindWrongChainID:
		return "WrongChainId"
	case KindInsufficientFunds:
		return "InsufficientFunds"
	default:
		return "Unknown"
	}
}

// Error is the structured precheck failure returned by Precheck. Callers
// in pkg/rpcworker translate it to the JSON-RPC error shapes named in §6.
type Error struct {
	Kind        Kind
	Sender      [20]byte
	TxNonce     uint64
	StateTxCnt  uint64
	Underlying  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNonceTooLow, KindNonceTooHigh:
		return fmt.Sprintf("%s: address %x, tx: %d state: %d", e.Kind, e.Sender, e.TxNonce, e.StateTxCnt)
	default:
		if e.Underlying != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Underlying)
		}
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Underlying }

// ErrGasLessPermit is a marker sentinel for the "no permit" state. No
// code path returns or checks it: Precheck takes a nil *GasLessPermit
// to mean no permit.
var ErrGasLessPermit = errors.New("validator: no gas-less permit")

// GasLessPermit describes an externally-resolved permit allowing a
// specific (nonce, max_gas) pair to bypass the minimum gas price and
// balance checks (§1 Non-goals: permit lookup itself is external).
type GasLessPermit struct {
	Nonce  uint64
	MaxGas uint64
}

// Validator runs precheck(eth_tx, gas_less_permit?, min_gas_price) per
// §4.2, calling out to the Chain for balance/nonce and to the Emulator
// for the touched-account list and step count that seed ExecCfg.
type Validator struct {
	chain    chainclient.Client
	emulator emulator.Emulator
	chainID  *big.Int
}

// New constructs a Validator bound to the current Chain's EVM chain ID,
// used for the WrongChainId check.
func New(chain chainclient.Client, emu emulator.Emulator, chainID *big.Int) *Validator {
	return &Validator{chain: chain, emulator: emu, chainID: chainID}
}

// Precheck implements §4.2's public contract. minGasPrice and permit are
// both optional collaborator inputs named as external in §1's Non-goals
// (price oracle, gas-less permit lookup); the caller resolves them before
// calling in.
func (v *Validator) Precheck(ctx context.Context, tx *ethtx.EthTx, permit *GasLessPermit, minGasPrice *big.Int) (*execctx.ExecCfg, error) {
	if tx == nil {
		return nil, &Error{Kind: KindInvalidTx, Underlying: ethtx.ErrInvalidTx}
	}

	if tx.HasChainID() && tx.ChainID.Cmp(v.chainID) != 0 {
		return nil, &Error{Kind: KindWrongChainID, Sender: tx.Sender}
	}

	stateTxCnt, err := v.chain.EthNonce(ctx, tx.Sender)
	if err != nil {
		return nil, fmt.Errorf("validator: fetch state nonce: %w", err)
	}

	if stateTxCnt > tx.Nonce {
		return nil, &Error{Kind: KindNonceTooLow, Sender: tx.Sender, TxNonce: tx.Nonce, StateTxCnt: stateTxCnt}
	}
	if stateTxCnt < tx.Nonce {
		return nil, &Error{Kind: KindNonceTooHigh, Sender: tx.Sender, TxNonce: tx.Nonce, StateTxCnt: stateTxCnt}
	}

	hasPermit := permit != nil && permit.Nonce == tx.Nonce
	if !hasPermit && minGasPrice != nil && tx.GasPrice.Cmp(minGasPrice) < 0 {
		return nil, &Error{Kind: KindUnderpriced, Sender: tx.Sender}
	}

	if !hasPermit {
		balance, err := v.chain.EthBalance(ctx, tx.Sender)
		if err != nil {
			return nil, fmt.Errorf("validator: fetch balance: %w", err)
		}
		required := new(big.Int).Mul(tx.GasPrice, new(big.Int).SetUint64(tx.GasLimit))
		required.Add(required, tx.Value)
		if balance.Cmp(required) < 0 {
			return nil, &Error{Kind: KindInsufficientFunds, Sender: tx.Sender}
		}
	}

	result, err := v.emulator.Emulate(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("validator: emulate: %w", err)
	}

	cfg := &execctx.ExecCfg{
		NoChainID:         !tx.HasChainID(),
		ExceedsDataBudget: len(tx.Calldata) > execctx.SingleInstructionDataBudget,
	}
	cfg.ApplyEmulation(result.TouchedAccounts, result.StepCount)

	return cfg, nil
}
