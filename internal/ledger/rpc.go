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
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	// ErrAccountNotFound is returned by ReadAccount for missing accounts.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTransactionFailed is returned when the ledger executed the
	// transaction and reported an error.
	ErrTransactionFailed = errors.New("transaction failed")
)

const (
	defaultRPCTimeout   = 30 * time.Second
	defaultPollInterval = 500 * time.Millisecond
	retryBackoff        = 200 * time.Millisecond
	maxResponseBytes    = 8 << 20
)

// RPCError is an error object returned by the JSON-RPC server.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// RPCClient talks to one endpoint over JSON-RPC 2.0 and implements Backend.
type RPCClient struct {
	Endpoint     string
	Client       *http.Client
	Commitment   string
	MaxRetries   int
	PollInterval time.Duration
	MaxTxSize    int
	Clock        clock.Clock

	nextID atomic.Uint64
}

// RPCOption configures an RPCClient.
type RPCOption func(*RPCClient)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) RPCOption {
	return func(c *RPCClient) {
		if client != nil {
			c.Client = client
		}
	}
}

// WithTimeout sets the per-call HTTP timeout.
func WithTimeout(timeout time.Duration) RPCOption {
	return func(c *RPCClient) {
		if timeout > 0 {
			c.Client = &http.Client{Timeout: timeout}
		}
	}
}

// WithCommitment sets the commitment level SubmitAndConfirm waits for.
func WithCommitment(level string) RPCOption {
	return func(c *RPCClient) {
		if ValidCommitment(level) {
			c.Commitment = level
		}
	}
}

// WithMaxRetries sets how often transport failures are retried per call.
func WithMaxRetries(n int) RPCOption {
	return func(c *RPCClient) {
		if n >= 0 {
			c.MaxRetries = n
		}
	}
}

// WithPollInterval sets the signature status poll interval.
func WithPollInterval(d time.Duration) RPCOption {
	return func(c *RPCClient) {
		if d > 0 {
			c.PollInterval = d
		}
	}
}

// WithMaxTxSize rejects encoded transactions larger than n bytes.
func WithMaxTxSize(n int) RPCOption {
	return func(c *RPCClient) {
		c.MaxTxSize = n
	}
}

// WithRPCClock injects the time source used for polling and retry waits.
func WithRPCClock(c clock.Clock) RPCOption {
	return func(client *RPCClient) {
		if c != nil {
			client.Clock = c
		}
	}
}

// NewRPCClient builds a client for endpoint.
func NewRPCClient(endpoint string, opts ...RPCOption) *RPCClient {
	c := &RPCClient{
		Endpoint:     endpoint,
		Client:       &http.Client{Timeout: defaultRPCTimeout},
		Commitment:   CommitmentConfirmed,
		MaxRetries:   3,
		PollInterval: defaultPollInterval,
		Clock:        clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

type rpcContext struct {
	Slot uint64 `json:"slot"`
}

type blockhashResult struct {
	Context rpcContext `json:"context"`
	Value   Anchor     `json:"value"`
}

type signatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

type signatureStatusesResult struct {
	Context rpcContext         `json:"context"`
	Value   []*signatureStatus `json:"value"`
}

type accountInfo struct {
	Data       []string `json:"data"`
	Owner      string   `json:"owner"`
	Lamports   uint64   `json:"lamports"`
	Executable bool     `json:"executable"`
}

type accountInfoResult struct {
	Context rpcContext   `json:"context"`
	Value   *accountInfo `json:"value"`
}

// CurrentAnchor implements Backend.
func (c *RPCClient) CurrentAnchor(ctx context.Context) (Anchor, error) {
	var result blockhashResult
	err := c.call(ctx, "getLatestBlockhash", []any{map[string]any{"commitment": c.Commitment}}, &result)
	if err != nil {
		return Anchor{}, err
	}
	if result.Value.Blockhash == "" {
		return Anchor{}, fmt.Errorf("getLatestBlockhash: empty blockhash")
	}
	return result.Value, nil
}

// SubmitAndConfirm implements Backend. It polls the signature status until
// the configured commitment is reached, the ledger reports an error, or ctx
// is done.
func (c *RPCClient) SubmitAndConfirm(ctx context.Context, tx *Transaction) (Confirmation, error) {
	raw, err := tx.Encode(c.MaxTxSize)
	if err != nil {
		return Confirmation{}, err
	}

	var signature string
	params := []any{
		base64.StdEncoding.EncodeToString(raw),
		map[string]any{"encoding": "base64", "preflightCommitment": c.Commitment},
	}
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return Confirmation{}, err
	}
	if expected := tx.Signature(); signature != "" && signature != expected {
		return Confirmation{}, fmt.Errorf("sendTransaction returned signature %s, expected %s", signature, expected)
	}
	if signature == "" {
		signature = tx.Signature()
	}

	return c.confirm(ctx, signature)
}

func (c *RPCClient) confirm(ctx context.Context, signature string) (Confirmation, error) {
	want := commitmentRank(c.Commitment)
	for {
		var result signatureStatusesResult
		params := []any{[]string{signature}, map[string]any{"searchTransactionHistory": true}}
		if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
			return Confirmation{}, err
		}

		if len(result.Value) > 0 && result.Value[0] != nil {
			status := result.Value[0]
			if len(status.Err) > 0 && string(status.Err) != "null" {
				return Confirmation{}, fmt.Errorf("%w: %s: %s", ErrTransactionFailed, signature, string(status.Err))
			}
			if commitmentRank(status.ConfirmationStatus) >= want {
				return Confirmation{
					Signature:   signature,
					Slot:        status.Slot,
					Commitment:  status.ConfirmationStatus,
					ConfirmedAt: c.Clock.Now().UTC(),
				}, nil
			}
		}

		if err := c.sleep(ctx, c.PollInterval); err != nil {
			return Confirmation{}, fmt.Errorf("confirm %s: %w", signature, err)
		}
	}
}

// ReadAccount implements Backend.
func (c *RPCClient) ReadAccount(ctx context.Context, address string) ([]byte, error) {
	var result accountInfoResult
	params := []any{address, map[string]any{"encoding": "base64", "commitment": c.Commitment}}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	if len(result.Value.Data) == 0 {
		return nil, nil
	}
	if len(result.Value.Data) > 1 && result.Value.Data[1] != "base64" {
		return nil, fmt.Errorf("account %s: unsupported encoding %q", address, result.Value.Data[1])
	}
	data, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("account %s: decode data: %w", address, err)
	}
	return data, nil
}

// call performs one JSON-RPC request, retrying transport failures and
// retryable HTTP statuses up to MaxRetries times. Errors reported by the
// server in the response body are not retried.
func (c *RPCClient) call(ctx context.Context, method string, params []any, result any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", method, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, time.Duration(attempt)*retryBackoff); err != nil {
				return fmt.Errorf("%s: %w (last error: %v)", method, err, lastErr)
			}
		}

		retryable, err := c.do(ctx, body, result)
		if err == nil {
			return nil
		}
		lastErr = fmt.Errorf("%s: %w", method, err)
		if !retryable || ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *RPCClient) do(ctx context.Context, body []byte, result any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: defaultRPCTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return true, fmt.Errorf("http status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("http status %d", resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		return false, decoded.Error
	}
	if result == nil || len(decoded.Result) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(decoded.Result, result); err != nil {
		return false, fmt.Errorf("decode result: %w", err)
	}
	return false, nil
}

func (c *RPCClient) sleep(ctx context.Context, d time.Duration) error {
	timer := c.Clock.Timer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
