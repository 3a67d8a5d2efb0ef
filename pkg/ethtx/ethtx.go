// Package ethtx decodes the raw bytes of eth_sendRawTransaction into the
// EthTx data model described by the proxy's core spec: an RLP-decoded
// Ethereum transaction plus its derived sender, tx_sig and chain_id.
package ethtx

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// ErrInvalidTx is returned when a raw payload does not RLP-decode into a
// legacy Ethereum transaction or its signature does not recover a sender.
var ErrInvalidTx = errors.New("invalid transaction")

// EthTx is the decoded, signature-verified view of a raw Ethereum
// transaction. TxSig is computed once on decode and never recomputed —
// callers that need it again read the field.
type EthTx struct {
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	To       *[20]byte // nil for contract creation
	Value    *big.Int
	Calldata []byte
	V, R, S  *big.Int

	Sender  [20]byte
	TxSig   [32]byte // keccak256 of the RLP-encoded signed transaction
	ChainID *big.Int // nil if the transaction carries no EIP-155 chain ID

	raw *types.Transaction
}

// Decode RLP-decodes raw as a signed legacy Ethereum transaction, recovers
// the sender and computes TxSig. TxSig is a stable 32-byte identifier: for
// a fixed raw payload, repeated calls to Decode always return the same
// value (property test §8.1).
func Decode(raw []byte) (*EthTx, error) {
	tx := new(types.Transaction)
	if err := rlp.DecodeBytes(raw, tx); err != nil {
		return nil, fmt.Errorf("%w: rlp decode: %v", ErrInvalidTx, err)
	}

	signer := signerFor(tx)
	sender, err := types.Sender(signer, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: recover sender: %v", ErrInvalidTx, err)
	}

	encoded, err := rlp.EncodeToBytes(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: rlp encode: %v", ErrInvalidTx, err)
	}

	v, r, s := tx.RawSignatureValues()

	et := &EthTx{
		Nonce:    tx.Nonce(),
		GasPrice: tx.GasPrice(),
		GasLimit: tx.Gas(),
		Value:    tx.Value(),
		Calldata: tx.Data(),
		V:        v,
		R:        r,
		S:        s,
		Sender:   sender,
		TxSig:    crypto.Keccak256Hash(encoded),
		ChainID:  chainIDOf(tx),
		raw:      tx,
	}
	if to := tx.To(); to != nil {
		var addr [20]byte
		copy(addr[:], to[:])
		et.To = &addr
	}
	return et, nil
}

// signerFor picks the signer implied by the decoded tx's own V/chain-ID
// encoding: an EIP-155 signer when a chain ID is present, the plain
// homestead (Frontier-style) signer for v in {27,28} (no chain ID, §8.5).
func signerFor(tx *types.Transaction) types.Signer {
	if id := tx.ChainId(); id != nil && id.Sign() != 0 {
		return types.NewEIP155Signer(id)
	}
	return types.HomesteadSigner{}
}

func chainIDOf(tx *types.Transaction) *big.Int {
	id := tx.ChainId()
	if id == nil || id.Sign() == 0 {
		return nil
	}
	return new(big.Int).Set(id)
}

// HasChainID reports whether the transaction carries an EIP-155 chain ID
// (false for the v ∈ {27,28} legacy form, §8.5).
func (t *EthTx) HasChainID() bool {
	return t.ChainID != nil
}

// RawSignedTx returns the RLP encoding of the signed transaction, the exact
// bytes embedded by the Chain-Instruction Builder into TxExecFromData and
// TxStepFromData payloads.
func (t *EthTx) RawSignedTx() ([]byte, error) {
	return rlp.EncodeToBytes(t.raw)
}

// SigHex renders TxSig as a 0x-prefixed hex string, the shape returned by
// eth_sendRawTransaction.
func (t *EthTx) SigHex() string {
	return "0x" + hexEncode(t.TxSig[:])
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0xf]
	}
	return string(out)
}
