package chainix

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSys() SystemAccounts {
	return SystemAccounts{
		EVMProgramID:    Pubkey{1},
		SystemProgramID: Pubkey{2},
		IncineratorID:   Pubkey{10},
	}
}

func testTxAccounts() TxAccounts {
	return TxAccounts{
		OperatorSigner: Pubkey{3},
		OperatorNeon:   Pubkey{4},
		Holder:         Pubkey{5},
		Touched:        []Pubkey{{6}, {7}},
	}
}

func TestTreasuryPoolIndex_BitExact(t *testing.T) {
	var txSig [32]byte
	txSig[0], txSig[1], txSig[2], txSig[3] = 0x01, 0x00, 0x00, 0x00

	got := TreasuryPoolIndex(txSig, 128)
	require.Equal(t, uint32(1), got)
}

func TestBuildTxExecFromData_PureFunctionOfInputs(t *testing.T) {
	evm := Pubkey{9}
	var txSig [32]byte
	copy(txSig[:], []byte{1, 2, 3, 4})
	raw := []byte{0xde, 0xad, 0xbe, 0xef}

	a := BuildTxExecFromData(evm, 8, txSig, raw, testTxAccounts(), testSys())
	b := BuildTxExecFromData(evm, 8, txSig, raw, testTxAccounts(), testSys())

	require.True(t, bytes.Equal(a.Data, b.Data), "rebuilding from identical inputs must yield identical bytes")
	require.Equal(t, byte(OpTxExecFromData), a.Data[0])
}

func TestBuildTxExecFromData_DataLayout(t *testing.T) {
	evm := Pubkey{9}
	var txSig [32]byte
	txSig[0] = 5
	raw := []byte{0xaa, 0xbb}

	ix := BuildTxExecFromData(evm, 16, txSig, raw, testTxAccounts(), testSys())

	require.Equal(t, byte(OpTxExecFromData), ix.Data[0])
	idx := TreasuryPoolIndex(txSig, 16)
	require.Equal(t, idx, uint32(ix.Data[1])|uint32(ix.Data[2])<<8|uint32(ix.Data[3])<<16|uint32(ix.Data[4])<<24)
	require.True(t, bytes.HasSuffix(ix.Data, raw))
}

func TestBuildHolderWrite_DataLayout(t *testing.T) {
	evm := Pubkey{9}
	var txSig [32]byte
	txSig[5] = 0x42
	chunk := []byte{1, 2, 3}

	ix := BuildHolderWrite(evm, Pubkey{1}, Pubkey{2}, txSig, 1024, chunk, testSys())

	require.Equal(t, byte(OpHolderWrite), ix.Data[0])
	require.True(t, bytes.Equal(ix.Data[1:33], txSig[:]))
	require.True(t, bytes.HasSuffix(ix.Data, chunk))
}

func TestBuildCancelWithHash_DataLayout(t *testing.T) {
	var txSig [32]byte
	txSig[0] = 0xff

	ix := BuildCancelWithHash(Pubkey{9}, txSig, testTxAccounts(), testSys())

	require.Equal(t, byte(OpCancelWithHash), ix.Data[0])
	require.True(t, bytes.Equal(ix.Data[1:], txSig[:]))
}

// TestBuildCancelWithHash_AccountSet pins make_cancel_ix's account set:
// holder, operator signer, incinerator, then the touched tail — no
// treasury, no operator-neon and no system/EVM program accounts, unlike
// every other holder-bearing instruction.
func TestBuildCancelWithHash_AccountSet(t *testing.T) {
	var txSig [32]byte
	tx := testTxAccounts()
	sys := testSys()

	ix := BuildCancelWithHash(Pubkey{9}, txSig, tx, sys)

	require.Equal(t, 3+len(tx.Touched), len(ix.Accounts))
	require.Equal(t, tx.Holder, ix.Accounts[0].Pubkey)
	require.True(t, ix.Accounts[0].IsWritable)
	require.Equal(t, tx.OperatorSigner, ix.Accounts[1].Pubkey)
	require.True(t, ix.Accounts[1].IsSigner)
	require.Equal(t, sys.IncineratorID, ix.Accounts[2].Pubkey)
	require.True(t, ix.Accounts[2].IsWritable)
	for i, touched := range tx.Touched {
		require.Equal(t, touched, ix.Accounts[3+i].Pubkey)
	}
	for _, meta := range ix.Accounts {
		require.NotEqual(t, sys.SystemProgramID, meta.Pubkey)
		require.NotEqual(t, sys.EVMProgramID, meta.Pubkey)
		require.NotEqual(t, tx.OperatorNeon, meta.Pubkey)
	}
}

func TestAccountOrdering_StepFamily_OperatorSignerFirst(t *testing.T) {
	var txSig [32]byte
	tx := testTxAccounts()
	sys := testSys()
	ix := BuildTxExecFromData(Pubkey{9}, 8, txSig, nil, tx, sys)

	require.Equal(t, tx.OperatorSigner, ix.Accounts[0].Pubkey)
	require.True(t, ix.Accounts[0].IsSigner)

	// System/EVM program sit right after the operator/treasury/operator-neon
	// trio, not after the touched-account tail: neon_instruction.py's
	// make_tx_exec_from_data_ix places SYS_PROGRAM_ID/evm_program_id before
	// _neon_account_list, so the touched accounts are the true tail.
	require.Equal(t, sys.SystemProgramID, ix.Accounts[3].Pubkey)
	require.Equal(t, sys.EVMProgramID, ix.Accounts[4].Pubkey)

	tail := ix.Accounts[len(ix.Accounts)-len(tx.Touched):]
	for i, touched := range tx.Touched {
		require.Equal(t, touched, tail[i].Pubkey)
	}
	last := ix.Accounts[len(ix.Accounts)-1]
	require.Equal(t, tx.Touched[len(tx.Touched)-1], last.Pubkey)
}

func TestAccountOrdering_HolderFamily_HolderFirst(t *testing.T) {
	ix, err := BuildTxStep(StepFromAccount, Pubkey{9}, 8, [32]byte{}, 1000, 0, nil, testTxAccounts(), testSys())
	require.NoError(t, err)

	require.Equal(t, testTxAccounts().Holder, ix.Accounts[0].Pubkey)
	require.True(t, ix.Accounts[0].IsWritable)
}

func TestBuildTxStep_MonotonicIndexProducesDistinctBytes(t *testing.T) {
	var txSig [32]byte
	ix0, err := BuildTxStep(StepFromAccount, Pubkey{9}, 8, txSig, 1000, 0, nil, testTxAccounts(), testSys())
	require.NoError(t, err)
	ix1, err := BuildTxStep(StepFromAccount, Pubkey{9}, 8, txSig, 1000, 1, nil, testTxAccounts(), testSys())
	require.NoError(t, err)

	require.NotEqual(t, ix0.Data, ix1.Data)
}

func TestBuildTxStep_NoChainIdUsesHolderFamily(t *testing.T) {
	ix, err := BuildTxStep(StepFromAccountNoChainID, Pubkey{9}, 8, [32]byte{}, 1000, 0, nil, testTxAccounts(), testSys())
	require.NoError(t, err)

	require.Equal(t, byte(OpTxStepFromAccountNoChainID), ix.Data[0])
	require.Equal(t, testTxAccounts().Holder, ix.Accounts[0].Pubkey)
}

func TestALTEntry_State(t *testing.T) {
	active := ALTEntry{}
	require.Equal(t, ALTStateActive, active.State())

	slot := uint64(42)
	deactivated := ALTEntry{DeactivationSlot: &slot}
	require.Equal(t, ALTStateDeactivated, deactivated.State())
}

func TestBuildALTCreate_DerivesStableTable(t *testing.T) {
	altProgram := Pubkey{11}
	operator := Pubkey{12}

	ix1, table1 := BuildALTCreate(altProgram, operator, 100, testSys())
	ix2, table2 := BuildALTCreate(altProgram, operator, 100, testSys())

	require.Equal(t, table1, table2)
	require.Equal(t, ix1.Data, ix2.Data)
	require.Equal(t, byte(ALTCreate), ix1.Data[0])
}
