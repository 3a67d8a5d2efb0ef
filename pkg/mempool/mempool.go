// Package mempool implements the Mempool Service Protocol (§4.5): a
// tagged-union request taxonomy over a local transport, with exactly one
// reply shape per request kind and req_id correlation.
package mempool

import (
	"math/big"

	"github.com/google/uuid"
)

// Kind is the numeric, wire-visible request tag (§4.5). The numbering is
// part of the protocol and must never change once assigned.
type Kind int

const (
	KindSendTransaction Kind = iota
	KindGetPendingTxNonce
	KindGetMempoolTxNonce
	KindGetTxByHash
	KindGetGasPrice
	KindGetStateTxCnt
	KindGetOperatorResourceList
	KindInitOperatorResource
	KindGetElfParamDict
	KindGetALTList
	KindDeactivateALTList
	KindCloseALTList
	KindGetStuckTxList
)

func (k Kind) String() string {
	names := [...]string{
		"SendTransaction", "GetPendingTxNonce", "GetMempoolTxNonce", "GetTxByHash",
		"GetGasPrice", "GetStateTxCnt", "GetOperatorResourceList", "InitOperatorResource",
		"GetElfParamDict", "GetALTList", "DeactivateALTList", "CloseALTList", "GetStuckTxList",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "Unspecified"
	}
	return names[k]
}

// Request is the tagged-union envelope every mempool call sends: a kind,
// a correlation id, and a kind-specific payload. Payload is validated by
// the server against Kind before use.
type Request struct {
	ReqID   string
	Kind    Kind
	Payload interface{}
}

// NewRequest stamps a fresh req_id, matching the teacher's use of
// google/uuid for correlation identifiers.
func NewRequest(kind Kind, payload interface{}) Request {
	return Request{ReqID: uuid.NewString(), Kind: kind, Payload: payload}
}

// SendTransactionStatus is the result code carried in a SendTransaction
// response (§4.5).
type SendTransactionStatus int

const (
	SendSuccess SendTransactionStatus = iota
	SendNonceTooLow
	SendUnderprice
	SendAlreadyKnown
	SendUnspecified
)

// SendTransactionPayload is the request body for KindSendTransaction.
type SendTransactionPayload struct {
	RawTx []byte
}

// SendTransactionResult is the response body for KindSendTransaction.
type SendTransactionResult struct {
	Status     SendTransactionStatus
	StateTxCnt *uint64 // present only when meaningful to the caller (e.g. NonceTooLow)
}

// NoncePayload requests a sender's nonce view (KindGetPendingTxNonce,
// KindGetMempoolTxNonce).
type NoncePayload struct {
	Sender [20]byte
}

// TxByHashPayload requests a transaction's current known state
// (KindGetTxByHash).
type TxByHashPayload struct {
	TxSig [32]byte
}

// TxInfo is the non-error response shape for KindGetTxByHash.
type TxInfo struct {
	TxSig      [32]byte
	Sender     [20]byte
	Nonce      uint64
	StateTxCnt uint64
}

// GasPriceResult is the response body for KindGetGasPrice.
type GasPriceResult struct {
	Suggested     *big.Int
	Min           *big.Int
	LastUpdateSec int64
	SolPriceAcc   string
	NeonPriceAcc  string
}

// StateTxCntEntry is one element of KindGetStateTxCnt's response list.
type StateTxCntEntry struct {
	Sender     [20]byte
	StateTxCnt uint64
}

// OpResIdent identifies one operator resource in
// KindGetOperatorResourceList's response.
type OpResIdent struct {
	Signer   [32]byte
	NeonSide [32]byte
}

// InitOperatorResourceStatus is the result code for
// KindInitOperatorResource (§4.5).
type InitOperatorResourceStatus int

const (
	InitSuccess InitOperatorResourceStatus = iota
	InitFailed
	InitReschedule
	InitStuckTx
)

// InitOperatorResourceResult is the response body for
// KindInitOperatorResource.
type InitOperatorResourceResult struct {
	Status InitOperatorResourceStatus
	Err    string
}

// ALTInfo describes one address lookup table entry in KindGetALTList's
// response, mirroring chainix.ALTEntry without importing it (the mempool
// protocol is transport-shaped, not execution-shaped).
type ALTInfo struct {
	TableAccount     [32]byte
	LastExtendedSlot uint64
	DeactivationSlot *uint64
	OperatorKey      [32]byte
}

// ALTListResult is the response body for KindGetALTList.
type ALTListResult struct {
	BlockHeight uint64
	Tables      []ALTInfo
}

// ALTListPayload names the tables targeted by DeactivateALTList/
// CloseALTList.
type ALTListPayload struct {
	Tables [][32]byte
}

// StuckTxInfo describes a previously started, never-completed
// transaction surfaced by KindGetStuckTxList (§3 Stuck Tx Record).
type StuckTxInfo struct {
	TxSig       [32]byte
	Sender      [20]byte
	HolderAddr  [32]byte
	ALTTables   [][32]byte
	StartedUnix int64
}
