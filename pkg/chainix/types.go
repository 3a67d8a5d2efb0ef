package chainix

import (
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// Pubkey is a 32-byte Chain account address.
type Pubkey [32]byte

// String renders the key the way every Chain explorer and CLI does:
// base58, not hex.
func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// PubkeyFromBase58 decodes the base58 rendering String produces, the form
// the emulation service reports touched accounts in.
func PubkeyFromBase58(s string) (Pubkey, error) {
	decoded, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("chainix: decode pubkey %q: %w", s, err)
	}
	if len(decoded) != 32 {
		return Pubkey{}, fmt.Errorf("chainix: pubkey %q has %d bytes, want 32", s, len(decoded))
	}
	var pk Pubkey
	copy(pk[:], decoded)
	return pk, nil
}

// AccountMeta is one entry of a ChainIx's ordered account list.
// ViaLookupTable marks an entry whose pubkey is resolved through the
// instruction's ALT (ChainIx.LookupTable) rather than carried inline —
// the compaction an ALT rung exists to get (§3, ALT entry).
type AccountMeta struct {
	Pubkey         Pubkey
	IsSigner       bool
	IsWritable     bool
	ViaLookupTable bool
}

func signer(pk Pubkey, writable bool) AccountMeta {
	return AccountMeta{Pubkey: pk, IsSigner: true, IsWritable: writable}
}

func readonly(pk Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pk}
}

func writable(pk Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pk, IsWritable: true}
}

// ChainIx is a fully-formed instruction ready for submission: the target
// program, its ordered account list and the opaque instruction data.
// Invariant (§8.3): ChainIx bytes are a pure function of
// (opcode, tx_sig, treasury_pool_index, payload) — rebuilding the same
// inputs through the same builder function always yields identical bytes.
type ChainIx struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte

	// LookupTable is the ALT this instruction's ViaLookupTable account
	// entries resolve against; nil for every non-ALT rung.
	LookupTable *Pubkey
}

// TreasuryPoolIndex derives the little-endian u32 treasury pool index from
// a tx_sig, per §4.1: u32_le(tx_sig[0:4]) mod treasuryPoolMax. This is a
// bit-exact mirror of the EVM program's own derivation and MUST NOT be
// reimplemented differently anywhere else in this codebase.
func TreasuryPoolIndex(txSig [32]byte, treasuryPoolMax uint32) uint32 {
	raw := binary.LittleEndian.Uint32(txSig[:4])
	return raw % treasuryPoolMax
}

// TreasuryPoolAddress derives the program-derived treasury pool account for
// a given index, deterministically, under the EVM program ID. The seed
// layout ("treasury_pool", index_le_bytes) must match the EVM program's own
// PDA derivation exactly — changing it silently breaks every treasury
// payment on the Chain.
func TreasuryPoolAddress(evmProgramID Pubkey, index uint32) Pubkey {
	indexBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(indexBytes, index)
	return deriveProgramAddress(evmProgramID, []byte("treasury_pool"), indexBytes)
}

// OperatorNeonSideAddress derives an operator's EVM-program-side account
// address from its Chain signer keypair, the "NeonSide" referenced by
// OpRes. Same program-derived-address scheme as TreasuryPoolAddress, seeded
// on the operator's own signer key rather than a pool index.
func OperatorNeonSideAddress(evmProgramID Pubkey, signer Pubkey) Pubkey {
	return deriveProgramAddress(evmProgramID, []byte("Account"), signer[:])
}

// OperatorHolderAddress derives the Holder account an operator resource
// uses to stage large/iterative transactions, keyed by signer and a small
// per-operator holder index (an operator may own more than one holder).
func OperatorHolderAddress(evmProgramID Pubkey, signer Pubkey, holderIndex uint32) Pubkey {
	indexBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(indexBytes, holderIndex)
	return deriveProgramAddress(evmProgramID, []byte("ContractStorage"), signer[:], indexBytes)
}
