package mempool

import (
	"context"
	"fmt"
	"log"
)

// envelope pairs a Request with the channel its single reply travels
// back on, the local-transport equivalent of the req_id correlation the
// wire protocol uses across a process boundary.
type envelope struct {
	req   Request
	reply chan response
}

type response struct {
	payload interface{}
	err     error
}

// Handler answers one Request, returning the kind-specific result value
// named in §4.5's response column.
type Handler func(ctx context.Context, req Request) (interface{}, error)

// Server dispatches requests to per-kind handlers, tolerating unknown
// kinds by replying Unspecified on the write path and failing reads
// explicitly (§4.5 contract).
type Server struct {
	handlers map[Kind]Handler
	inbox    chan envelope
	log      *log.Logger
}

// NewServer constructs a mempool server with no registered handlers;
// call Handle for each kind the deployment supports.
func NewServer(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[Mempool] ", log.LstdFlags)
	}
	return &Server{handlers: make(map[Kind]Handler), inbox: make(chan envelope, 256), log: logger}
}

// Handle registers the handler for one request kind.
func (s *Server) Handle(kind Kind, h Handler) {
	s.handlers[kind] = h
}

// Serve runs the dispatch loop until ctx is cancelled, matching the
// "cooperative single-threaded event loop" scheduling model of §5.
func (s *Server) Serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-s.inbox:
			s.dispatch(ctx, env)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, env envelope) {
	h, ok := s.handlers[env.req.Kind]
	if !ok {
		if env.req.Kind == KindSendTransaction {
			env.reply <- response{payload: SendTransactionResult{Status: SendUnspecified}}
			return
		}
		env.reply <- response{err: fmt.Errorf("mempool: no handler registered for kind %s", env.req.Kind)}
		return
	}

	payload, err := h(ctx, env.req)
	s.log.Printf("req=%s kind=%s err=%v", env.req.ReqID, env.req.Kind, err)
	env.reply <- response{payload: payload, err: err}
}

// Client is the caller-facing half of the local transport: it enqueues a
// Request and blocks for its single reply, same call shape the RPC
// Worker and Strategy Ladder use for every mempool suspension point
// named in §5.
type Client struct {
	inbox chan envelope
}

// NewClient binds a Client to a Server's inbox.
func NewClient(s *Server) *Client {
	return &Client{inbox: s.inbox}
}

// Call sends req and waits for its reply or ctx cancellation.
func (c *Client) Call(ctx context.Context, req Request) (interface{}, error) {
	reply := make(chan response, 1)
	env := envelope{req: req, reply: reply}

	select {
	case c.inbox <- env:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.payload, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendTransaction is a typed convenience wrapper over Call for the one
// request kind with cross-restart side effects (§4.5).
func (c *Client) SendTransaction(ctx context.Context, raw []byte) (SendTransactionResult, error) {
	req := NewRequest(KindSendTransaction, SendTransactionPayload{RawTx: raw})
	res, err := c.Call(ctx, req)
	if err != nil {
		return SendTransactionResult{}, err
	}
	result, ok := res.(SendTransactionResult)
	if !ok {
		return SendTransactionResult{}, fmt.Errorf("mempool: unexpected response type for SendTransaction")
	}
	return result, nil
}

// GetStateTxCnt is a typed convenience wrapper for KindGetStateTxCnt.
func (c *Client) GetStateTxCnt(ctx context.Context, senders [][20]byte) ([]StateTxCntEntry, error) {
	req := NewRequest(KindGetStateTxCnt, senders)
	res, err := c.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	entries, ok := res.([]StateTxCntEntry)
	if !ok {
		return nil, fmt.Errorf("mempool: unexpected response type for GetStateTxCnt")
	}
	return entries, nil
}

// GetGasPrice is a typed convenience wrapper for KindGetGasPrice, the
// collaborator pkg/cache calls on every TTL miss.
func (c *Client) GetGasPrice(ctx context.Context) (GasPriceResult, error) {
	req := NewRequest(KindGetGasPrice, nil)
	res, err := c.Call(ctx, req)
	if err != nil {
		return GasPriceResult{}, err
	}
	result, ok := res.(GasPriceResult)
	if !ok {
		return GasPriceResult{}, fmt.Errorf("mempool: unexpected response type for GetGasPrice")
	}
	return result, nil
}

// GetElfParamDict is a typed convenience wrapper for KindGetElfParamDict.
func (c *Client) GetElfParamDict(ctx context.Context) (map[string]string, error) {
	req := NewRequest(KindGetElfParamDict, nil)
	res, err := c.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	dict, ok := res.(map[string]string)
	if !ok {
		return nil, fmt.Errorf("mempool: unexpected response type for GetElfParamDict")
	}
	return dict, nil
}
