package rpcworker

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neon-proxy/neon-proxy/pkg/chainclient"
	"github.com/neon-proxy/neon-proxy/pkg/chainix"
	"github.com/neon-proxy/neon-proxy/pkg/emulator"
	"github.com/neon-proxy/neon-proxy/pkg/ethtx"
	"github.com/neon-proxy/neon-proxy/pkg/indexerdb"
	"github.com/neon-proxy/neon-proxy/pkg/mempool"
	"github.com/neon-proxy/neon-proxy/pkg/validator"
)

type fakeChain struct {
	balance *big.Int
	nonce   uint64
}

func (f *fakeChain) Submit(ctx context.Context, ixs []chainix.ChainIx) (chainclient.TxReceipt, error) {
	return chainclient.TxReceipt{}, nil
}
func (f *fakeChain) GetAccount(ctx context.Context, pk chainix.Pubkey) ([]byte, error) { return nil, nil }
func (f *fakeChain) GetTransaction(ctx context.Context, sig string) (chainclient.TxReceipt, error) {
	return chainclient.TxReceipt{}, nil
}
func (f *fakeChain) GetSlot(ctx context.Context, commitment string) (uint64, error) { return 0, nil }
func (f *fakeChain) GetClusterNodes(ctx context.Context) (int, error)                { return 1, nil }
func (f *fakeChain) EthBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return f.balance, nil
}
func (f *fakeChain) EthNonce(ctx context.Context, addr common.Address) (uint64, error) {
	return f.nonce, nil
}

// stubEmulator implements emulator.Emulator with a fixed, always-succeeding
// response; the worker tests below exercise precheck/translation logic,
// not emulation itself.
type stubEmulator struct{}

func (stubEmulator) Emulate(ctx context.Context, tx *ethtx.EthTx) (emulator.Result, error) {
	return emulator.Result{StepCount: 1}, nil
}
func (stubEmulator) EstimateGas(ctx context.Context, from common.Address, to *common.Address, data []byte, value, gasPrice uint64) (uint64, error) {
	return 21000, nil
}

type fakeStore struct {
	indexerdb.Store
	tx         *indexerdb.Tx
	logs       []indexerdb.LogEntry
	latest     *indexerdb.Block
	finalized  *indexerdb.Block
	starting   *indexerdb.Block
	bySlot     map[uint64]*indexerdb.Block
	byHash     map[[32]byte]*indexerdb.Block
}

func (f *fakeStore) GetTxByNeonSig(ctx context.Context, sig [32]byte) (*indexerdb.Tx, error) {
	return f.tx, nil
}
func (f *fakeStore) GetLogList(ctx context.Context, filter indexerdb.LogFilter) ([]indexerdb.LogEntry, error) {
	return f.logs, nil
}
func (f *fakeStore) GetLatestBlock(ctx context.Context) (*indexerdb.Block, error) {
	return f.latest, nil
}
func (f *fakeStore) GetFinalizedBlock(ctx context.Context) (*indexerdb.Block, error) {
	return f.finalized, nil
}
func (f *fakeStore) GetStartingBlock(ctx context.Context) (*indexerdb.Block, error) {
	return f.starting, nil
}
func (f *fakeStore) GetBlockBySlot(ctx context.Context, slot uint64) (*indexerdb.Block, error) {
	return f.bySlot[slot], nil
}
func (f *fakeStore) GetBlockByHash(ctx context.Context, hash [32]byte) (*indexerdb.Block, error) {
	return f.byHash[hash], nil
}

type fakePermits struct {
	permit *validator.GasLessPermit
}

func (f *fakePermits) Lookup(ctx context.Context, sender [20]byte, nonce uint64) (*validator.GasLessPermit, bool) {
	if f.permit == nil {
		return nil, false
	}
	return f.permit, true
}

type fakePrices struct {
	min *big.Int
}

func (f *fakePrices) MinGasPrice(ctx context.Context) (*big.Int, error) { return f.min, nil }

// signedRawTx builds a real signed, RLP-encoded legacy transaction and
// reports the sender it recovers to, mirroring the signing helper used
// throughout pkg/strategy's tests since ethtx.EthTx.raw is unexported
// and only ethtx.Decode can populate it.
func signedRawTx(t *testing.T, nonce uint64, gasPrice int64, chainID int64) ([]byte, [20]byte) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	inner := types.NewTransaction(nonce, [20]byte{0x02}, big.NewInt(0), 21_000, big.NewInt(gasPrice), nil)
	signed, err := types.SignTx(inner, types.NewEIP155Signer(big.NewInt(chainID)), key)
	require.NoError(t, err)
	raw, err := rlp.EncodeToBytes(signed)
	require.NoError(t, err)

	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(chainID)), signed)
	require.NoError(t, err)
	var addr [20]byte
	copy(addr[:], sender[:])
	return raw, addr
}

func newTestWorker(t *testing.T, chain *fakeChain, store *fakeStore, permits PermitLookup, prices GasPriceOracle) (*Worker, *mempool.Server) {
	t.Helper()
	srv := mempool.NewServer(nil)
	client := mempool.NewClient(srv)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)

	v := validator.New(chain, stubEmulator{}, big.NewInt(111))
	w := New(chain, store, client, v, stubEmulator{}, permits, prices, 2)
	return w, srv
}

func TestSendRawTransaction_Success(t *testing.T) {
	raw, sender := signedRawTx(t, 0, 10, 111)
	chain := &fakeChain{balance: big.NewInt(1_000_000_000), nonce: 0}
	store := &fakeStore{}
	w, srv := newTestWorker(t, chain, store, nil, &fakePrices{min: big.NewInt(1)})
	srv.Handle(mempool.KindSendTransaction, func(ctx context.Context, req mempool.Request) (interface{}, error) {
		return mempool.SendTransactionResult{Status: mempool.SendSuccess}, nil
	})

	sigHex, err := w.SendRawTransaction(context.Background(), "0x"+hexString(raw))
	require.NoError(t, err)
	assert.NotEmpty(t, sigHex)
	_ = sender
}

func TestSendRawTransaction_AlreadyKnownViaIndexer(t *testing.T) {
	raw, _ := signedRawTx(t, 0, 10, 111)
	chain := &fakeChain{balance: big.NewInt(1_000_000_000), nonce: 0}
	store := &fakeStore{tx: &indexerdb.Tx{Nonce: 0}}
	w, _ := newTestWorker(t, chain, store, nil, &fakePrices{min: big.NewInt(1)})

	_, err := w.SendRawTransaction(context.Background(), "0x"+hexString(raw))
	require.Error(t, err)
	var ethErr *EthereumError
	require.ErrorAs(t, err, &ethErr)
	assert.Equal(t, "already known", ethErr.Message)
}

func TestSendRawTransaction_NonceTooLow(t *testing.T) {
	raw, _ := signedRawTx(t, 0, 10, 111)
	chain := &fakeChain{balance: big.NewInt(1_000_000_000), nonce: 5}
	store := &fakeStore{}
	w, _ := newTestWorker(t, chain, store, nil, &fakePrices{min: big.NewInt(1)})

	_, err := w.SendRawTransaction(context.Background(), "0x"+hexString(raw))
	require.Error(t, err)
	var ethErr *EthereumError
	require.ErrorAs(t, err, &ethErr)
	assert.Contains(t, ethErr.Message, "nonce too low")
}

func TestSendRawTransaction_Underpriced(t *testing.T) {
	raw, _ := signedRawTx(t, 0, 1, 111)
	chain := &fakeChain{balance: big.NewInt(1_000_000_000), nonce: 0}
	store := &fakeStore{}
	w, _ := newTestWorker(t, chain, store, nil, &fakePrices{min: big.NewInt(100)})

	_, err := w.SendRawTransaction(context.Background(), "0x"+hexString(raw))
	require.Error(t, err)
	var ethErr *EthereumError
	require.ErrorAs(t, err, &ethErr)
	assert.Equal(t, "replacement transaction underpriced", ethErr.Message)
}

func TestSendRawTransaction_MempoolUnderprice(t *testing.T) {
	raw, _ := signedRawTx(t, 0, 10, 111)
	chain := &fakeChain{balance: big.NewInt(1_000_000_000), nonce: 0}
	store := &fakeStore{}
	w, srv := newTestWorker(t, chain, store, nil, &fakePrices{min: big.NewInt(1)})
	srv.Handle(mempool.KindSendTransaction, func(ctx context.Context, req mempool.Request) (interface{}, error) {
		return mempool.SendTransactionResult{Status: mempool.SendUnderprice}, nil
	})

	_, err := w.SendRawTransaction(context.Background(), "0x"+hexString(raw))
	require.Error(t, err)
	var ethErr *EthereumError
	require.ErrorAs(t, err, &ethErr)
	assert.Equal(t, "replacement transaction underpriced", ethErr.Message)
}

func TestSendRawTransaction_InvalidHexIsInvalidParam(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(0)}
	store := &fakeStore{}
	w, _ := newTestWorker(t, chain, store, nil, &fakePrices{min: big.NewInt(1)})

	_, err := w.SendRawTransaction(context.Background(), "not-hex")
	require.Error(t, err)
	var paramErr *InvalidParamError
	assert.ErrorAs(t, err, &paramErr)
}

func TestGetTransactionCount_PendingTakesMaxOfChainAndMempool(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(0), nonce: 5}
	store := &fakeStore{}
	w, srv := newTestWorker(t, chain, store, nil, nil)
	srv.Handle(mempool.KindGetStateTxCnt, func(ctx context.Context, req mempool.Request) (interface{}, error) {
		return []mempool.StateTxCntEntry{{Sender: [20]byte{0x01}, StateTxCnt: 9}}, nil
	})

	tag, err := NormalizeBlockTag("tag", "pending")
	require.NoError(t, err)
	count, err := w.GetTransactionCount(context.Background(), [20]byte{0x01}, tag)
	require.NoError(t, err)
	assert.EqualValues(t, 9, count)
}

func TestGetTransactionCount_Finalized_IgnoresMempool(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(0), nonce: 5}
	store := &fakeStore{}
	w, _ := newTestWorker(t, chain, store, nil, nil)

	tag, err := NormalizeBlockTag("tag", "finalized")
	require.NoError(t, err)
	count, err := w.GetTransactionCount(context.Background(), [20]byte{0x01}, tag)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)
}

func TestGetBalance_ZeroBalanceWithPermitReturnsOne(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(0)}
	store := &fakeStore{}
	permits := &fakePermits{permit: &validator.GasLessPermit{Nonce: 3, MaxGas: 0}}
	w, _ := newTestWorker(t, chain, store, permits, nil)

	balance, err := w.GetBalance(context.Background(), [20]byte{0x01}, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 1, balance.Int64())
}

func TestGetBalance_ZeroBalanceNoPermitReturnsZero(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(0)}
	store := &fakeStore{}
	w, _ := newTestWorker(t, chain, store, nil, nil)

	balance, err := w.GetBalance(context.Background(), [20]byte{0x01}, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 0, balance.Int64())
}

func TestBlockNumber_ReturnsLatestSlot(t *testing.T) {
	chain := &fakeChain{}
	store := &fakeStore{latest: &indexerdb.Block{Slot: 123}}
	w, _ := newTestWorker(t, chain, store, nil, nil)

	n, err := w.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 123, n)
}

func TestBlockNumber_NoIndexedBlockYet(t *testing.T) {
	chain := &fakeChain{}
	store := &fakeStore{}
	w, _ := newTestWorker(t, chain, store, nil, nil)

	n, err := w.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestGetBlockByNumber_TagsResolveToDifferentStoreCalls(t *testing.T) {
	chain := &fakeChain{}
	store := &fakeStore{
		latest:    &indexerdb.Block{Slot: 10},
		finalized: &indexerdb.Block{Slot: 8},
		starting:  &indexerdb.Block{Slot: 0},
		bySlot:    map[uint64]*indexerdb.Block{5: {Slot: 5}},
	}
	w, _ := newTestWorker(t, chain, store, nil, nil)

	latestTag, err := NormalizeBlockTag("tag", "latest")
	require.NoError(t, err)
	block, err := w.GetBlockByNumber(context.Background(), latestTag)
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.EqualValues(t, 10, block.Slot)

	finalizedTag, err := NormalizeBlockTag("tag", "finalized")
	require.NoError(t, err)
	block, err = w.GetBlockByNumber(context.Background(), finalizedTag)
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.EqualValues(t, 8, block.Slot)

	earliestTag, err := NormalizeBlockTag("tag", "earliest")
	require.NoError(t, err)
	block, err = w.GetBlockByNumber(context.Background(), earliestTag)
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.EqualValues(t, 0, block.Slot)

	slotTag, err := NormalizeBlockTag("tag", "0x5")
	require.NoError(t, err)
	block, err = w.GetBlockByNumber(context.Background(), slotTag)
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.EqualValues(t, 5, block.Slot)
}

func TestGetBlockByHash_NotFoundReturnsNil(t *testing.T) {
	chain := &fakeChain{}
	store := &fakeStore{}
	w, _ := newTestWorker(t, chain, store, nil, nil)

	block, err := w.GetBlockByHash(context.Background(), [32]byte{0xff})
	require.NoError(t, err)
	assert.Nil(t, block)
}

func TestGetTransactionReceipt_ReturnsIndexedTx(t *testing.T) {
	chain := &fakeChain{}
	tx := &indexerdb.Tx{TxSig: [32]byte{0x01}, Status: 1, GasUsed: 21_000}
	store := &fakeStore{tx: tx}
	w, _ := newTestWorker(t, chain, store, nil, nil)

	receipt, err := w.GetTransactionReceipt(context.Background(), [32]byte{0x01})
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.EqualValues(t, 21_000, receipt.GasUsed)
}

func TestGetBalance_NonZeroBalancePassesThrough(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(500)}
	store := &fakeStore{}
	w, _ := newTestWorker(t, chain, store, nil, nil)

	balance, err := w.GetBalance(context.Background(), [20]byte{0x01}, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 500, balance.Int64())
}

func TestGetLogs_HidesNeonOnlyEventTypes(t *testing.T) {
	store := &fakeStore{logs: []indexerdb.LogEntry{
		{NeonEventType: 1},
		{NeonEventType: 101},
		{NeonEventType: 301},
	}}
	chain := &fakeChain{}
	w, _ := newTestWorker(t, chain, store, nil, nil)

	out, err := w.GetLogs(context.Background(), indexerdb.LogFilter{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].NeonEventType)
}

func TestGetNeonLogs_DecodesEventTypeNames(t *testing.T) {
	store := &fakeStore{logs: []indexerdb.LogEntry{
		{NeonEventType: 105},
		{NeonEventType: 301},
	}}
	chain := &fakeChain{}
	w, _ := newTestWorker(t, chain, store, nil, nil)

	out, err := w.GetNeonLogs(context.Background(), indexerdb.LogFilter{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "ENTER CREATE", out[0].NeonEventType)
	assert.Equal(t, "CANCEL", out[1].NeonEventType)
}

func TestNeonEventTypeName_Table(t *testing.T) {
	assert.Equal(t, "LOG", NeonEventTypeName(1))
	assert.Equal(t, "EXIT REVERT", NeonEventTypeName(204))
	assert.Equal(t, "RETURN", NeonEventTypeName(300))
	assert.Equal(t, "", NeonEventTypeName(9999))
}

func hexString(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0xf]
	}
	return string(out)
}
