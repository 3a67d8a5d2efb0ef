package jsonrpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neon-proxy/neon-proxy/pkg/cache"
	"github.com/neon-proxy/neon-proxy/pkg/chainclient"
	"github.com/neon-proxy/neon-proxy/pkg/chainix"
	"github.com/neon-proxy/neon-proxy/pkg/emulator"
	"github.com/neon-proxy/neon-proxy/pkg/ethtx"
	"github.com/neon-proxy/neon-proxy/pkg/indexerdb"
	"github.com/neon-proxy/neon-proxy/pkg/mempool"
	"github.com/neon-proxy/neon-proxy/pkg/rpcworker"
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
func (f *fakeChain) GetSlot(ctx context.Context, commitment string) (uint64, error) { return 42, nil }
func (f *fakeChain) GetClusterNodes(ctx context.Context) (int, error)               { return 1, nil }
func (f *fakeChain) EthBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return f.balance, nil
}
func (f *fakeChain) EthNonce(ctx context.Context, addr common.Address) (uint64, error) {
	return f.nonce, nil
}

type stubEmulator struct{}

func (stubEmulator) Emulate(ctx context.Context, tx *ethtx.EthTx) (emulator.Result, error) {
	return emulator.Result{StepCount: 1}, nil
}
func (stubEmulator) EstimateGas(ctx context.Context, from common.Address, to *common.Address, data []byte, value, gasPrice uint64) (uint64, error) {
	return 21_000, nil
}

type fakeStore struct {
	indexerdb.Store
	tx    *indexerdb.Tx
	block *indexerdb.Block
}

func (f *fakeStore) GetTxByNeonSig(ctx context.Context, sig [32]byte) (*indexerdb.Tx, error) {
	return f.tx, nil
}
func (f *fakeStore) GetLogList(ctx context.Context, filter indexerdb.LogFilter) ([]indexerdb.LogEntry, error) {
	return nil, nil
}
func (f *fakeStore) GetLatestBlock(ctx context.Context) (*indexerdb.Block, error) {
	return f.block, nil
}
func (f *fakeStore) GetBlockBySlot(ctx context.Context, slot uint64) (*indexerdb.Block, error) {
	if f.block != nil && f.block.Slot == slot {
		return f.block, nil
	}
	return nil, nil
}
func (f *fakeStore) GetBlockByHash(ctx context.Context, hash [32]byte) (*indexerdb.Block, error) {
	if f.block != nil && f.block.Hash == hash {
		return f.block, nil
	}
	return nil, nil
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	return newTestHandlerWithStore(t, &fakeStore{})
}

func newTestHandlerWithStore(t *testing.T, store *fakeStore) *Handler {
	t.Helper()
	chain := &fakeChain{balance: big.NewInt(0), nonce: 3}

	srv := mempool.NewServer(nil)
	client := mempool.NewClient(srv)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)

	srv.Handle(mempool.KindGetGasPrice, func(ctx context.Context, req mempool.Request) (interface{}, error) {
		return mempool.GasPriceResult{Suggested: big.NewInt(1_000_000_000), Min: big.NewInt(1)}, nil
	})
	srv.Handle(mempool.KindGetElfParamDict, func(ctx context.Context, req mempool.Request) (interface{}, error) {
		return map[string]string{"NEON_EVM_VERSION": "1.2.3", "NEON_EVM_STEPS_MAX": "500"}, nil
	})
	srv.Handle(mempool.KindGetStateTxCnt, func(ctx context.Context, req mempool.Request) (interface{}, error) {
		return []mempool.StateTxCntEntry{}, nil
	})

	v := validator.New(chain, stubEmulator{}, big.NewInt(111))
	worker := rpcworker.New(chain, store, client, v, stubEmulator{}, nil, nil, 2)

	gasPrices := cache.NewGasPriceCache(client, nil)
	params := cache.NewParamCache(client, "v1.2.5", nil, nil)

	return New(worker, gasPrices, params, big.NewInt(111), false, nil)
}

func doRPC(t *testing.T, h *Handler, method string, params interface{}) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  json.RawMessage(raw),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestServeHTTP_EthChainId(t *testing.T) {
	h := newTestHandler(t)
	resp := doRPC(t, h, "eth_chainId", []interface{}{})
	assert.Nil(t, resp["error"])
	assert.Equal(t, "0x6f", resp["result"])
}

func TestServeHTTP_EthGasPrice(t *testing.T) {
	h := newTestHandler(t)
	resp := doRPC(t, h, "eth_gasPrice", []interface{}{})
	assert.Nil(t, resp["error"])
	assert.Equal(t, "0x3b9aca00", resp["result"])
}

func TestServeHTTP_EthGetBalance(t *testing.T) {
	h := newTestHandler(t)
	resp := doRPC(t, h, "eth_getBalance", []interface{}{"0x0000000000000000000000000000000000000001", "latest"})
	assert.Nil(t, resp["error"])
	assert.Equal(t, "0x0", resp["result"])
}

func TestServeHTTP_EthGetTransactionCount(t *testing.T) {
	h := newTestHandler(t)
	resp := doRPC(t, h, "eth_getTransactionCount", []interface{}{"0x0000000000000000000000000000000000000001", "finalized"})
	assert.Nil(t, resp["error"])
	assert.Equal(t, "0x3", resp["result"])
}

func TestServeHTTP_UnknownMethodRejected(t *testing.T) {
	h := newTestHandler(t)
	resp := doRPC(t, h, "neon_initOperatorResource", []interface{}{})
	require.NotNil(t, resp["error"])
}

func TestServeHTTP_NeonGetEvmParams(t *testing.T) {
	h := newTestHandler(t)
	resp := doRPC(t, h, "neon_getEvmParams", []interface{}{})
	assert.Nil(t, resp["error"])
	dict, ok := resp["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "1.2.3", dict["NEON_EVM_VERSION"])
}

func TestServeHTTP_EthBlockNumber(t *testing.T) {
	block := &indexerdb.Block{Slot: 77}
	h := newTestHandlerWithStore(t, &fakeStore{block: block})
	resp := doRPC(t, h, "eth_blockNumber", []interface{}{})
	assert.Nil(t, resp["error"])
	assert.Equal(t, "0x4d", resp["result"])
}

func TestServeHTTP_EthGetBlockByNumber_Found(t *testing.T) {
	block := &indexerdb.Block{Slot: 77, Hash: [32]byte{1}, ParentSlot: 76}
	h := newTestHandlerWithStore(t, &fakeStore{block: block})
	resp := doRPC(t, h, "eth_getBlockByNumber", []interface{}{"latest", "false"})
	assert.Nil(t, resp["error"])
	result, ok := resp["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "0x4d", result["number"])
}

func TestServeHTTP_EthGetBlockByNumber_NotFound(t *testing.T) {
	h := newTestHandlerWithStore(t, &fakeStore{})
	resp := doRPC(t, h, "eth_getBlockByNumber", []interface{}{"0x64", "false"})
	assert.Nil(t, resp["error"])
	assert.Nil(t, resp["result"])
}

func TestServeHTTP_EthGetBlockByHash(t *testing.T) {
	hash := [32]byte{0xaa}
	block := &indexerdb.Block{Slot: 5, Hash: hash}
	h := newTestHandlerWithStore(t, &fakeStore{block: block})
	resp := doRPC(t, h, "eth_getBlockByHash", []interface{}{hashHex(hash), "false"})
	assert.Nil(t, resp["error"])
	result, ok := resp["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "0x5", result["number"])
}

func TestServeHTTP_EthGetTransactionByHash_NotFound(t *testing.T) {
	h := newTestHandlerWithStore(t, &fakeStore{})
	resp := doRPC(t, h, "eth_getTransactionByHash", []interface{}{hashHex([32]byte{0x01})})
	assert.Nil(t, resp["error"])
	assert.Nil(t, resp["result"])
}

func TestServeHTTP_EthGetTransactionReceipt_Found(t *testing.T) {
	sig := [32]byte{0x01}
	tx := &indexerdb.Tx{TxSig: sig, Sender: [20]byte{0x02}, BlockSlot: 9, Status: 1, GasUsed: 21000}
	h := newTestHandlerWithStore(t, &fakeStore{tx: tx})
	resp := doRPC(t, h, "eth_getTransactionReceipt", []interface{}{hashHex(sig)})
	assert.Nil(t, resp["error"])
	result, ok := resp["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "0x1", result["status"])
	assert.Equal(t, "0x5208", result["gasUsed"])
}

func hashHex(hash [32]byte) string {
	return "0x" + hex.EncodeToString(hash[:])
}

func TestServeHTTP_RejectsNonPost(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
