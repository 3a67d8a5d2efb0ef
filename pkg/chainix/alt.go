package chainix

import "encoding/binary"

// ALTState is the lifecycle of an Address Lookup Table entry: active ->
// deactivated -> closed (§3, ALT entry). A deactivation_slot being set is
// what distinguishes deactivated from active.
type ALTState int

const (
	ALTStateActive ALTState = iota
	ALTStateDeactivated
	ALTStateClosed
)

// ALTEntry mirrors the §3 data model: a table account plus the slots that
// bound its lifecycle.
type ALTEntry struct {
	TableAccount      Pubkey
	LastExtendedSlot  uint64
	DeactivationSlot  *uint64
	BlockHeight       uint64
	OperatorKey       Pubkey
}

// State derives the entry's lifecycle state from DeactivationSlot's
// presence (§3: "deactivation_slot presence means deactivated").
func (e ALTEntry) State() ALTState {
	if e.DeactivationSlot == nil {
		return ALTStateActive
	}
	return ALTStateDeactivated
}

// altProgramAccounts is the account ordering the ALT program instructions
// (Create/Extend/Deactivate/Close) all share: the table account first
// (writable), the authority/operator signer second, system program last.
func altProgramAccounts(table, operatorSigner Pubkey, sys SystemAccounts) []AccountMeta {
	return []AccountMeta{
		writable(table),
		signer(operatorSigner, false),
		readonly(sys.SystemProgramID),
	}
}

// BuildALTCreate builds the ALT program's Create(0) instruction: a new
// lookup table is derived as a PDA of (operatorSigner, recentSlot) under
// the ALT program, per the ALT program's own account-derivation comments.
func BuildALTCreate(altProgramID, operatorSigner Pubkey, recentSlot uint64, sys SystemAccounts) (ChainIx, Pubkey) {
	slotBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(slotBytes, recentSlot)
	table := deriveProgramAddress(altProgramID, operatorSigner[:], slotBytes)

	data := make([]byte, 0, 1+8)
	data = append(data, byte(ALTCreate))
	data = append(data, slotBytes...)

	return ChainIx{
		ProgramID: altProgramID,
		Accounts:  altProgramAccounts(table, operatorSigner, sys),
		Data:      data,
	}, table
}

// BuildALTExtend builds the ALT program's Extend(2) instruction, appending
// newKeys to the table.
func BuildALTExtend(altProgramID Pubkey, table, operatorSigner Pubkey, newKeys []Pubkey, sys SystemAccounts) ChainIx {
	data := make([]byte, 0, 1+4+32*len(newKeys))
	data = append(data, byte(ALTExtend))
	data = append(data, u32le(uint32(len(newKeys)))...)
	for _, k := range newKeys {
		data = append(data, k[:]...)
	}

	return ChainIx{
		ProgramID: altProgramID,
		Accounts:  altProgramAccounts(table, operatorSigner, sys),
		Data:      data,
	}
}

// BuildALTDeactivate builds the ALT program's Deactivate(3) instruction,
// the first step of table teardown (active -> deactivated).
func BuildALTDeactivate(altProgramID Pubkey, table, operatorSigner Pubkey, sys SystemAccounts) ChainIx {
	return ChainIx{
		ProgramID: altProgramID,
		Accounts:  altProgramAccounts(table, operatorSigner, sys),
		Data:      []byte{byte(ALTDeactivate)},
	}
}

// BuildALTClose builds the ALT program's Close(4) instruction, reclaiming
// rent from a deactivated table (deactivated -> closed). The recipient of
// the reclaimed lamports is the operator signer itself.
func BuildALTClose(altProgramID Pubkey, table, operatorSigner Pubkey, sys SystemAccounts) ChainIx {
	return ChainIx{
		ProgramID: altProgramID,
		Accounts:  altProgramAccounts(table, operatorSigner, sys),
		Data:      []byte{byte(ALTClose)},
	}
}
