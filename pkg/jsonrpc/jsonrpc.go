// Package jsonrpc implements the HTTP/JSON-RPC surface named in §6:
// standard Ethereum method names plus neon_ extensions. Method dispatch,
// request/response framing and per-method gating live here; the actual
// decode/validate/submit pipeline lives in pkg/rpcworker (§4.6).
package jsonrpc

import (
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"

	"github.com/neon-proxy/neon-proxy/pkg/cache"
	"github.com/neon-proxy/neon-proxy/pkg/indexerdb"
	"github.com/neon-proxy/neon-proxy/pkg/rpcworker"
)

// request is the standard JSON-RPC 2.0 request envelope.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// response is the standard JSON-RPC 2.0 response envelope; exactly one of
// Result/Error is populated.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Handler dispatches JSON-RPC 2.0 requests onto a Worker plus the
// gas-price/param caches, gating each method through ParamCache's
// version-compatibility check (§4.8) before invoking it.
type Handler struct {
	worker           *rpcworker.Worker
	gasPrices        *cache.GasPriceCache
	params           *cache.ParamCache
	chainID          *big.Int
	enablePrivateAPI bool
	logger           *log.Logger
}

// New constructs a Handler bound to a Worker and its caches.
func New(worker *rpcworker.Worker, gasPrices *cache.GasPriceCache, params *cache.ParamCache, chainID *big.Int, enablePrivateAPI bool, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(log.Writer(), "[JSONRPC] ", log.LstdFlags)
	}
	return &Handler{worker: worker, gasPrices: gasPrices, params: params, chainID: chainID, enablePrivateAPI: enablePrivateAPI, logger: logger}
}

// ServeHTTP implements http.Handler, the single POST / entry point every
// standard Ethereum JSON-RPC client speaks to.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeResponse(w, response{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}})
		return
	}

	h.writeResponse(w, h.dispatch(r, req))
}

func (h *Handler) dispatch(r *http.Request, req request) response {
	resp := response{JSONRPC: "2.0", ID: req.ID}

	if !isPrivateMethod(req.Method) || h.enablePrivateAPI {
		if allowed, err := h.params.MethodAllowed(r.Context(), req.Method); err != nil {
			resp.Error = &rpcError{Code: -32603, Message: err.Error()}
			return resp
		} else if !allowed {
			resp.Error = &rpcError{Code: -32601, Message: fmt.Sprintf("method %s not yet available", req.Method)}
			return resp
		}
	} else {
		resp.Error = &rpcError{Code: -32601, Message: "method not found"}
		return resp
	}

	result, err := h.call(r, req.Method, req.Params)
	if err != nil {
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
		return resp
	}
	resp.Result = result
	return resp
}

// isPrivateMethod reports whether method is gated by ENABLE_PRIVATE_API
// (§6): write-path and admin-facing methods, never the read-only surface.
func isPrivateMethod(method string) bool {
	switch method {
	case "eth_sendRawTransaction":
		return false // not behind ENABLE_PRIVATE_API; neither this handler nor the worker checks ENABLE_SEND_TX_API
	case "neon_getOperatorResourceList", "neon_initOperatorResource":
		return true
	default:
		return false
	}
}

func (h *Handler) call(r *http.Request, method string, params json.RawMessage) (interface{}, error) {
	ctx := r.Context()

	switch method {
	case "eth_chainId":
		return fmt.Sprintf("0x%x", h.chainID), nil

	case "eth_gasPrice":
		result, err := h.gasPrices.Get(ctx)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("0x%x", result.Suggested), nil

	case "net_version":
		return h.chainID.String(), nil

	case "eth_blockNumber":
		n, err := h.worker.BlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("0x%x", n), nil

	case "eth_getBlockByNumber":
		var p [2]string
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		tag, err := rpcworker.NormalizeBlockTag("tag", p[0])
		if err != nil {
			return nil, err
		}
		block, err := h.worker.GetBlockByNumber(ctx, tag)
		if err != nil {
			return nil, err
		}
		return blockResult(block), nil

	case "eth_getBlockByHash":
		var p [2]string
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		hash, err := rpcworker.NormalizeHash32("hash", p[0])
		if err != nil {
			return nil, err
		}
		block, err := h.worker.GetBlockByHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		return blockResult(block), nil

	case "eth_getTransactionByHash":
		var p [1]string
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		txSig, err := rpcworker.NormalizeHash32("hash", p[0])
		if err != nil {
			return nil, err
		}
		tx, err := h.worker.GetTransactionByHash(ctx, txSig)
		if err != nil {
			return nil, err
		}
		return txResult(tx), nil

	case "eth_getTransactionReceipt":
		var p [1]string
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		txSig, err := rpcworker.NormalizeHash32("hash", p[0])
		if err != nil {
			return nil, err
		}
		tx, err := h.worker.GetTransactionReceipt(ctx, txSig)
		if err != nil {
			return nil, err
		}
		return receiptResult(tx), nil

	case "web3_clientVersion":
		v, err := h.params.NeonEVMVersion(ctx)
		if err != nil {
			return "neon-proxy/unknown", nil
		}
		return "neon-proxy/" + v, nil

	case "eth_sendRawTransaction":
		var p [1]string
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return h.worker.SendRawTransaction(ctx, p[0])

	case "eth_getTransactionCount":
		var p [2]string
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		addr, err := rpcworker.NormalizeAddress("address", p[0])
		if err != nil {
			return nil, err
		}
		tag, err := rpcworker.NormalizeBlockTag("tag", p[1])
		if err != nil {
			return nil, err
		}
		cnt, err := h.worker.GetTransactionCount(ctx, addr, tag)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("0x%x", cnt), nil

	case "eth_getBalance":
		var p [2]string
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		addr, err := rpcworker.NormalizeAddress("address", p[0])
		if err != nil {
			return nil, err
		}
		nonce, err := h.worker.GetTransactionCount(ctx, addr, rpcworker.BlockTag{Kind: rpcworker.TagLatest})
		if err != nil {
			return nil, err
		}
		balance, err := h.worker.GetBalance(ctx, addr, nonce)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("0x%x", balance), nil

	case "eth_call":
		var p [2]json.RawMessage
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		callParams, err := decodeCallParams(p[0])
		if err != nil {
			return nil, err
		}
		result, err := h.worker.Call(ctx, callParams)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("0x%x", result), nil

	case "eth_getLogs":
		var p [1]json.RawMessage
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		filter, err := decodeLogFilter(p[0])
		if err != nil {
			return nil, err
		}
		return h.worker.GetLogs(ctx, filter)

	case "neon_getLogs":
		var p [1]json.RawMessage
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		filter, err := decodeLogFilter(p[0])
		if err != nil {
			return nil, err
		}
		return h.worker.GetNeonLogs(ctx, filter)

	case "neon_getEvmParams":
		return h.params.Dict(ctx)

	default:
		return nil, fmt.Errorf("method %s not implemented", method)
	}
}

func unmarshalParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing params")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &rpcworker.InvalidParamError{Field: "params", Value: string(raw)}
	}
	return nil
}

type callObject struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	GasPrice string `json:"gasPrice"`
	Gas      string `json:"gas"`
}

func decodeCallParams(raw json.RawMessage) (rpcworker.CallParams, error) {
	var obj callObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return rpcworker.CallParams{}, &rpcworker.InvalidParamError{Field: "object", Value: string(raw)}
	}

	var out rpcworker.CallParams
	if obj.From != "" {
		from, err := rpcworker.NormalizeAddress("from", obj.From)
		if err != nil {
			return rpcworker.CallParams{}, err
		}
		out.From = &from
	}
	if obj.To != "" {
		to, err := rpcworker.NormalizeAddress("to", obj.To)
		if err != nil {
			return rpcworker.CallParams{}, err
		}
		out.To = &to
	}
	if obj.Data != "" {
		data, err := rpcworker.NormalizeHexBytes("data", obj.Data)
		if err != nil {
			return rpcworker.CallParams{}, err
		}
		out.Data = data
	}
	value, err := rpcworker.NormalizeHexInt("value", obj.Value)
	if err != nil {
		return rpcworker.CallParams{}, err
	}
	out.Value = new(big.Int).SetUint64(value)

	gasPrice, err := rpcworker.NormalizeHexInt("gasPrice", obj.GasPrice)
	if err != nil {
		return rpcworker.CallParams{}, err
	}
	out.GasPrice = gasPrice

	gasLimit, err := rpcworker.NormalizeHexInt("gas", obj.Gas)
	if err != nil {
		return rpcworker.CallParams{}, err
	}
	out.GasLimit = gasLimit

	return out, nil
}

type logFilterObject struct {
	FromBlock string   `json:"fromBlock"`
	ToBlock   string   `json:"toBlock"`
	Address   []string `json:"address"`
	Topics    []string `json:"topics"`
}

func decodeLogFilter(raw json.RawMessage) (indexerdb.LogFilter, error) {
	var obj logFilterObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return indexerdb.LogFilter{}, &rpcworker.InvalidParamError{Field: "object", Value: string(raw)}
	}

	fromTag, err := rpcworker.NormalizeBlockTag("fromBlock", orDefault(obj.FromBlock, "latest"))
	if err != nil {
		return indexerdb.LogFilter{}, err
	}
	toTag, err := rpcworker.NormalizeBlockTag("toBlock", orDefault(obj.ToBlock, "latest"))
	if err != nil {
		return indexerdb.LogFilter{}, err
	}

	filter := indexerdb.LogFilter{FromSlot: fromTag.Slot, ToSlot: toTag.Slot}
	for _, a := range obj.Address {
		addr, err := rpcworker.NormalizeAddress("address", a)
		if err != nil {
			return indexerdb.LogFilter{}, err
		}
		filter.Address = append(filter.Address, addr)
	}
	for _, t := range obj.Topics {
		topic, err := rpcworker.NormalizeHexBytes("topics", t)
		if err != nil {
			return indexerdb.LogFilter{}, err
		}
		var topicArr [32]byte
		copy(topicArr[:], topic)
		filter.Topics = append(filter.Topics, topicArr)
	}
	return filter, nil
}

// blockResultObject mirrors the subset of the standard
// eth_getBlockBy{Number,Hash} response object this proxy's indexer
// schema can actually populate; fields it has no data for (transactions,
// gasLimit, miner, ...) are absent. indexerdb.Block stores no parent
// hash, so parentHash carries the parent slot number in hex.
type blockResultObject struct {
	Number     string `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
	Timestamp  string `json:"timestamp"`
}

func blockResult(block *indexerdb.Block) interface{} {
	if block == nil {
		return nil
	}
	return blockResultObject{
		Number:     fmt.Sprintf("0x%x", block.Slot),
		Hash:       fmt.Sprintf("0x%x", block.Hash),
		ParentHash: fmt.Sprintf("0x%x", block.ParentSlot),
		Timestamp:  fmt.Sprintf("0x%x", block.Timestamp.Unix()),
	}
}

// txResultObject mirrors the subset of eth_getTransactionByHash's
// response object the indexer schema backs.
type txResultObject struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	Nonce       string `json:"nonce"`
	BlockNumber string `json:"blockNumber"`
}

func txResult(tx *indexerdb.Tx) interface{} {
	if tx == nil {
		return nil
	}
	return txResultObject{
		Hash:        fmt.Sprintf("0x%x", tx.TxSig),
		From:        fmt.Sprintf("0x%x", tx.Sender),
		Nonce:       fmt.Sprintf("0x%x", tx.Nonce),
		BlockNumber: fmt.Sprintf("0x%x", tx.BlockSlot),
	}
}

// receiptResultObject mirrors the subset of eth_getTransactionReceipt's
// response object the indexer schema backs: status and gas used, the
// two fields the ladder's completed receipt actually records.
type receiptResultObject struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
	Status          string `json:"status"`
	GasUsed         string `json:"gasUsed"`
}

func receiptResult(tx *indexerdb.Tx) interface{} {
	if tx == nil {
		return nil
	}
	return receiptResultObject{
		TransactionHash: fmt.Sprintf("0x%x", tx.TxSig),
		BlockNumber:     fmt.Sprintf("0x%x", tx.BlockSlot),
		Status:          fmt.Sprintf("0x%x", tx.Status),
		GasUsed:         fmt.Sprintf("0x%x", tx.GasUsed),
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (h *Handler) writeResponse(w http.ResponseWriter, resp response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Printf("encode response: %v", err)
	}
}
