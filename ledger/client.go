package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RPCClient implements Reader against a node's JSON-RPC endpoint. Every call
// carries its own timeout and passes through a shared rate limiter so a tight
// polling loop cannot flood the node.
type RPCClient struct {
	baseURL     string
	http        *http.Client
	limiter     *rate.Limiter
	callTimeout time.Duration
	nextID      atomic.Int64
}

// RPCClientOption customises the client instance.
type RPCClientOption func(*RPCClient)

// WithCallTimeout overrides the per-call timeout applied to each request.
func WithCallTimeout(timeout time.Duration) RPCClientOption {
	return func(c *RPCClient) { c.callTimeout = timeout }
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64, burst int) RPCClientOption {
	return func(c *RPCClient) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewRPCClient constructs a client for the supplied endpoint.
func NewRPCClient(baseURL string, opts ...RPCClientOption) *RPCClient {
	client := &RPCClient{
		baseURL:     strings.TrimSpace(baseURL),
		http:        &http.Client{Timeout: 15 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(50), 100),
		callTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type accountResult struct {
	Address string `json:"address"`
	Owner   string `json:"owner"`
	Balance uint64 `json:"balance"`
	Data    string `json:"data"`
}

func (r *accountResult) decode() (*AccountInfo, error) {
	if r == nil {
		return nil, nil
	}
	addr, err := DecodeAddress(r.Address)
	if err != nil {
		return nil, fmt.Errorf("account address: %w", err)
	}
	owner, err := DecodeAddress(r.Owner)
	if err != nil {
		return nil, fmt.Errorf("account owner: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(r.Data)
	if err != nil {
		return nil, fmt.Errorf("account data: %w", err)
	}
	return &AccountInfo{Address: addr, Owner: owner, Balance: r.Balance, Data: data}, nil
}

// GetSlot returns the current slot height.
func (c *RPCClient) GetSlot(ctx context.Context) (uint64, error) {
	var result struct {
		Slot uint64 `json:"slot"`
	}
	if err := c.call(ctx, "ledger_getSlot", []interface{}{}, &result); err != nil {
		return 0, err
	}
	return result.Slot, nil
}

// GetAccount fetches a single account. A missing account yields (nil, nil).
func (c *RPCClient) GetAccount(ctx context.Context, addr Address) (*AccountInfo, error) {
	var result *accountResult
	params := []interface{}{map[string]string{"address": addr.String()}}
	if err := c.call(ctx, "ledger_getAccount", params, &result); err != nil {
		return nil, err
	}
	return result.decode()
}

// GetAccounts fetches a batch of accounts, preserving order. Missing entries
// are nil.
func (c *RPCClient) GetAccounts(ctx context.Context, addrs []Address) ([]*AccountInfo, error) {
	encoded := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		encoded = append(encoded, addr.String())
	}
	var results []*accountResult
	params := []interface{}{map[string]interface{}{"addresses": encoded}}
	if err := c.call(ctx, "ledger_getAccounts", params, &results); err != nil {
		return nil, err
	}
	if len(results) != len(addrs) {
		return nil, fmt.Errorf("%w: account batch size mismatch", ErrUnavailable)
	}
	infos := make([]*AccountInfo, len(results))
	for i, res := range results {
		info, err := res.decode()
		if err != nil {
			return nil, err
		}
		infos[i] = info
	}
	return infos, nil
}

// GetProgramAccounts scans accounts owned by a program whose first data byte
// matches the filter tag.
func (c *RPCClient) GetProgramAccounts(ctx context.Context, filter ProgramFilter) ([]*AccountInfo, error) {
	params := []interface{}{map[string]interface{}{
		"program": filter.Program.String(),
		"tag":     filter.Tag,
	}}
	var results []*accountResult
	if err := c.call(ctx, "ledger_getProgramAccounts", params, &results); err != nil {
		return nil, err
	}
	infos := make([]*AccountInfo, 0, len(results))
	for _, res := range results {
		info, err := res.decode()
		if err != nil {
			return nil, err
		}
		if info != nil {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// SubmitTransaction sends a serialized transaction and returns its signature.
func (c *RPCClient) SubmitTransaction(ctx context.Context, raw []byte) (Signature, error) {
	params := []interface{}{map[string]string{
		"transaction": base64.StdEncoding.EncodeToString(raw),
	}}
	var result struct {
		Signature string `json:"signature"`
	}
	if err := c.call(ctx, "ledger_submitTransaction", params, &result); err != nil {
		return Signature{}, err
	}
	return DecodeSignature(result.Signature)
}

// ConfirmTransaction reports whether the signature has been finalised.
func (c *RPCClient) ConfirmTransaction(ctx context.Context, sig Signature) (bool, error) {
	params := []interface{}{map[string]string{"signature": sig.String()}}
	var result struct {
		Confirmed bool `json:"confirmed"`
	}
	if err := c.call(ctx, "ledger_confirmTransaction", params, &result); err != nil {
		return false, err
	}
	return result.Confirmed, nil
}

func (c *RPCClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	callCtx := ctx
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	id := c.nextID.Add(1)
	buf, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: rpc %s status=%d body=%s", ErrUnavailable, method, resp.StatusCode, string(body))
	}
	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc %s: %s", method, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return errors.New("rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}
