package chainix

import (
	"encoding/binary"
	"fmt"
)

// SystemAccounts are the Chain-wide accounts every instruction family may
// need to reference: the EVM program itself, the Chain's system program,
// and the incinerator account CancelWithHash sends a holder's rent to.
type SystemAccounts struct {
	EVMProgramID    Pubkey
	SystemProgramID Pubkey
	IncineratorID   Pubkey
}

// TxAccounts names the per-transaction account set a strategy has resolved
// before asking the builder for an instruction: the operator signer, its
// derived neon-side account, the holder (if the plan uses one) and the
// list of accounts the Emulator reported the transaction touches.
type TxAccounts struct {
	OperatorSigner Pubkey
	OperatorNeon   Pubkey
	Holder         Pubkey // zero value if the plan has no holder
	Touched        []Pubkey
	ALT            *Pubkey // address lookup table, if the plan uses one
}

func appendSystem(metas []AccountMeta, sys SystemAccounts) []AccountMeta {
	return append(metas, readonly(sys.SystemProgramID), readonly(sys.EVMProgramID))
}

// stepFamilyAccounts is the canonical ordering shared by every TxStep*/TxExec*
// instruction: operator signer first, treasury pool, operator-neon and
// system/EVM program next, with the Emulator-reported touched accounts as
// the true tail of the array (neon_instruction.py's make_tx_exec_from_data_ix/
// _make_holder_ix place SYS_PROGRAM_ID/evm_program_id before
// _neon_account_list, not after it). When tx.ALT is set, the touched
// accounts are marked ViaLookupTable: an ALT rung's PrepBeforeEmulate has
// already extended that table with every account in tx.Touched before
// Execute can be reached, so by this point they resolve through it
// instead of riding inline.
func stepFamilyAccounts(treasury Pubkey, tx TxAccounts, sys SystemAccounts) []AccountMeta {
	metas := make([]AccountMeta, 0, 4+len(tx.Touched)+2)
	metas = append(metas,
		signer(tx.OperatorSigner, true),
		writable(treasury),
		writable(tx.OperatorNeon),
	)
	metas = appendSystem(metas, sys)
	for _, a := range tx.Touched {
		meta := writable(a)
		meta.ViaLookupTable = tx.ALT != nil
		metas = append(metas, meta)
	}
	return metas
}

// holderFamilyAccounts prefixes the step-family ordering with the holder
// account, per §4.1 ("holder first for all holder-bearing ops").
func holderFamilyAccounts(treasury Pubkey, tx TxAccounts, sys SystemAccounts) []AccountMeta {
	metas := make([]AccountMeta, 0, 5+len(tx.Touched)+2)
	metas = append(metas, writable(tx.Holder))
	metas = append(metas, stepFamilyAccounts(treasury, tx, sys)...)
	return metas
}

func u32le(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func u64le(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// BuildTxExecFromData builds the single-instruction execution path: the
// entire signed transaction rides along in instruction data (§4.1, S1).
func BuildTxExecFromData(evmProgramID Pubkey, treasuryPoolMax uint32, txSig [32]byte, rawSignedTx []byte, tx TxAccounts, sys SystemAccounts) ChainIx {
	idx := TreasuryPoolIndex(txSig, treasuryPoolMax)
	treasury := TreasuryPoolAddress(evmProgramID, idx)

	data := make([]byte, 0, 1+4+len(rawSignedTx))
	data = append(data, byte(OpTxExecFromData))
	data = append(data, u32le(idx)...)
	data = append(data, rawSignedTx...)

	return ChainIx{
		ProgramID:   evmProgramID,
		Accounts:    stepFamilyAccounts(treasury, tx, sys),
		Data:        data,
		LookupTable: tx.ALT,
	}
}

// BuildTxExecFromAccount builds the holder-backed, single-shot execution
// path used once the transaction bytes have already been staged into the
// holder via HolderWrite (§4.1, S3's terminal instruction).
func BuildTxExecFromAccount(evmProgramID Pubkey, treasuryPoolMax uint32, txSig [32]byte, tx TxAccounts, sys SystemAccounts) ChainIx {
	idx := TreasuryPoolIndex(txSig, treasuryPoolMax)
	treasury := TreasuryPoolAddress(evmProgramID, idx)

	data := []byte{byte(OpTxExecFromAccount)}
	data = append(data, u32le(idx)...)

	return ChainIx{
		ProgramID:   evmProgramID,
		Accounts:    holderFamilyAccounts(treasury, tx, sys),
		Data:        data,
		LookupTable: tx.ALT,
	}
}

// TxStepKind selects which of the three TxStep* opcodes BuildTxStep emits.
type TxStepKind int

const (
	StepFromData TxStepKind = iota
	StepFromAccount
	StepFromAccountNoChainID
)

func (k TxStepKind) opcode() (Opcode, error) {
	switch k {
	case StepFromData:
		return OpTxStepFromData, nil
	case StepFromAccount:
		return OpTxStepFromAccount, nil
	case StepFromAccountNoChainID:
		return OpTxStepFromAccountNoChainID, nil
	default:
		return 0, fmt.Errorf("chainix: unknown step kind %d", k)
	}
}

// BuildTxStep builds one iterative-execution instruction: opcode,
// treasury_pool_index, step_cnt, index and — only for the "FromData"
// variant — the RLP-encoded signed transaction appended last (§4.1).
// index must strictly increase between successive calls for the same
// tx_sig (§8, S4): callers own that invariant, the builder only encodes
// the value it is given.
func BuildTxStep(kind TxStepKind, evmProgramID Pubkey, treasuryPoolMax uint32, txSig [32]byte, stepCount, index uint32, rawSignedTx []byte, tx TxAccounts, sys SystemAccounts) (ChainIx, error) {
	op, err := kind.opcode()
	if err != nil {
		return ChainIx{}, err
	}

	idx := TreasuryPoolIndex(txSig, treasuryPoolMax)
	treasury := TreasuryPoolAddress(evmProgramID, idx)

	data := make([]byte, 0, 1+4+4+4+len(rawSignedTx))
	data = append(data, byte(op))
	data = append(data, u32le(idx)...)
	data = append(data, u32le(stepCount)...)
	data = append(data, u32le(index)...)
	if kind == StepFromData {
		data = append(data, rawSignedTx...)
	}

	var accounts []AccountMeta
	if kind == StepFromData {
		accounts = stepFamilyAccounts(treasury, tx, sys)
	} else {
		accounts = holderFamilyAccounts(treasury, tx, sys)
	}

	return ChainIx{ProgramID: evmProgramID, Accounts: accounts, Data: data, LookupTable: tx.ALT}, nil
}

// BuildCancelWithHash builds the best-effort cancellation instruction a
// strategy issues when it must abandon a transaction it has started but
// not completed (§4.4, §5). Account set follows neon_instruction.py's
// make_cancel_ix exactly: holder, operator signer, the incinerator
// (rent from the abandoned holder goes there, not back to the
// operator), then the touched-account tail — no treasury pool, no
// operator-neon and no system/EVM program accounts, unlike every other
// holder-bearing instruction.
func BuildCancelWithHash(evmProgramID Pubkey, txSig [32]byte, tx TxAccounts, sys SystemAccounts) ChainIx {
	data := make([]byte, 0, 33)
	data = append(data, byte(OpCancelWithHash))
	data = append(data, txSig[:]...)

	metas := make([]AccountMeta, 0, 3+len(tx.Touched))
	metas = append(metas,
		writable(tx.Holder),
		signer(tx.OperatorSigner, true),
		writable(sys.IncineratorID),
	)
	for _, a := range tx.Touched {
		metas = append(metas, writable(a))
	}

	return ChainIx{
		ProgramID: evmProgramID,
		Accounts:  metas,
		Data:      data,
	}
}

// BuildHolderCreate builds the (idempotent) holder-account creation
// instruction.
func BuildHolderCreate(evmProgramID Pubkey, holder, operatorSigner Pubkey, sys SystemAccounts) ChainIx {
	metas := []AccountMeta{
		writable(holder),
		signer(operatorSigner, true),
	}
	return ChainIx{
		ProgramID: evmProgramID,
		Accounts:  appendSystem(metas, sys),
		Data:      []byte{byte(OpHolderCreate)},
	}
}

// BuildHolderDelete builds the holder-account teardown instruction.
func BuildHolderDelete(evmProgramID Pubkey, holder, operatorSigner Pubkey, sys SystemAccounts) ChainIx {
	metas := []AccountMeta{
		writable(holder),
		signer(operatorSigner, true),
	}
	return ChainIx{
		ProgramID: evmProgramID,
		Accounts:  appendSystem(metas, sys),
		Data:      []byte{byte(OpHolderDelete)},
	}
}

// BuildHolderWrite builds one chunk of the "stage the signed transaction
// into the holder" sequence: 0x26 ‖ tx_sig(32) ‖ offset_u64_le ‖ chunk
// (§4.1). Callers must call this with a strictly increasing offset per
// chunk (§8, S3); the builder does not itself track offsets across calls.
func BuildHolderWrite(evmProgramID Pubkey, holder, operatorSigner Pubkey, txSig [32]byte, offset uint64, chunk []byte, sys SystemAccounts) ChainIx {
	data := make([]byte, 0, 1+32+8+len(chunk))
	data = append(data, byte(OpHolderWrite))
	data = append(data, txSig[:]...)
	data = append(data, u64le(offset)...)
	data = append(data, chunk...)

	metas := []AccountMeta{
		writable(holder),
		signer(operatorSigner, true),
	}
	return ChainIx{
		ProgramID: evmProgramID,
		Accounts:  appendSystem(metas, sys),
		Data:      data,
	}
}

// EtherAddress20 is the 20-byte Ethereum address embedded in
// CreateAccountV03's payload.
type EtherAddress20 [20]byte

// BuildCreateAccountV03 builds the account-creation instruction for a new
// neon-side account keyed by an Ethereum address: 0x28 ‖ ether_address(20).
func BuildCreateAccountV03(evmProgramID Pubkey, operatorSigner, newNeonAccount Pubkey, etherAddr EtherAddress20, sys SystemAccounts) ChainIx {
	data := make([]byte, 0, 21)
	data = append(data, byte(OpCreateAccountV03))
	data = append(data, etherAddr[:]...)

	metas := []AccountMeta{
		signer(operatorSigner, true),
		writable(newNeonAccount),
	}
	return ChainIx{
		ProgramID: evmProgramID,
		Accounts:  appendSystem(metas, sys),
		Data:      data,
	}
}

// BuildDepositV03 builds the treasury deposit instruction for a neon
// account, issued as part of lazily initializing a sender's neon-side
// balance account.
func BuildDepositV03(evmProgramID Pubkey, treasuryPoolMax uint32, txSig [32]byte, operatorSigner, neonAccount Pubkey, sys SystemAccounts) ChainIx {
	idx := TreasuryPoolIndex(txSig, treasuryPoolMax)
	treasury := TreasuryPoolAddress(evmProgramID, idx)

	data := []byte{byte(OpDepositV03)}
	data = append(data, u32le(idx)...)

	metas := []AccountMeta{
		signer(operatorSigner, true),
		writable(treasury),
		writable(neonAccount),
	}
	return ChainIx{
		ProgramID: evmProgramID,
		Accounts:  appendSystem(metas, sys),
		Data:      data,
	}
}

// BuildCollectTreasure builds the treasury-sweep housekeeping instruction.
func BuildCollectTreasure(evmProgramID Pubkey, treasury, operatorSigner Pubkey, sys SystemAccounts) ChainIx {
	metas := []AccountMeta{
		signer(operatorSigner, true),
		writable(treasury),
	}
	return ChainIx{
		ProgramID: evmProgramID,
		Accounts:  appendSystem(metas, sys),
		Data:      []byte{byte(OpCollectTreasure)},
	}
}
