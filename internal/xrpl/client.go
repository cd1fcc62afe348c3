package xrpl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/xrpldata/ledgercache/internal/core"
)

// RPCError is returned when the node answers with an error result.
type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %s: %s", e.Code, e.Message)
}

// HTTPError is returned for non-2xx responses that survive the retry loop.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client talks JSON-RPC to a rippled or Clio server. It implements Source,
// and TimeSource when pointed at a Clio endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	maxRetries int
	verbose    bool
}

// NewClient creates a client for the given JSON-RPC endpoint. maxRetries
// bounds the attempts per request on transient failures; zero or negative
// selects the default of 3.
func NewClient(url string, timeout time.Duration, maxRetries int, verbose bool) *Client {
	if url == "" {
		url = core.DefaultRPCURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		verbose:    verbose,
	}
}

// log writes a message to stderr if verbose mode is enabled.
func (c *Client) log(msg string) {
	core.Eprint(fmt.Sprintf("[RPC] %s", msg), c.verbose)
}

type rpcRequest struct {
	Method string           `json:"method"`
	Params []map[string]any `json:"params"`
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
}

type rpcResultError struct {
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
	Status       string `json:"status"`
}

// call performs one JSON-RPC request and decodes the result payload.
// Retries automatically on connection errors, HTTP 5xx and 429 responses
// with exponential back-off.
func (c *Client) call(ctx context.Context, method string, params map[string]any, out any) error {
	payload, err := json.Marshal(rpcRequest{Method: method, Params: []map[string]any{params}})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	c.log(fmt.Sprintf("POST %s %s", c.url, payload))

	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt < c.maxRetries {
				wait := time.Duration(1<<(attempt-1)) * time.Second
				c.log(fmt.Sprintf("Attempt %d failed (connection error); retrying in %v...", attempt, wait))
				time.Sleep(wait)
				continue
			}
			return fmt.Errorf("request failed: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == 429 {
			lastErr = &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
			if attempt < c.maxRetries {
				wait := time.Duration(1<<(attempt-1)) * time.Second
				if resp.StatusCode == 429 {
					if ra := resp.Header.Get("Retry-After"); ra != "" {
						if secs, err := strconv.Atoi(ra); err == nil {
							wait = time.Duration(secs) * time.Second
						}
					}
				}
				c.log(fmt.Sprintf("Attempt %d failed (HTTP %d); retrying in %v...", attempt, resp.StatusCode, wait))
				time.Sleep(wait)
				continue
			}
			return lastErr
		}

		if resp.StatusCode >= 400 {
			return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
		}

		var envelope rpcEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return fmt.Errorf("failed to parse JSON response: %w", err)
		}
		if envelope.Result == nil {
			return fmt.Errorf("response has no result field")
		}

		var resultErr rpcResultError
		if err := json.Unmarshal(envelope.Result, &resultErr); err == nil && resultErr.Error != "" {
			return &RPCError{Code: resultErr.Error, Message: resultErr.ErrorMessage}
		}

		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("failed to parse result: %w", err)
		}
		return nil
	}

	return lastErr
}

type ledgerResult struct {
	LedgerIndex int64 `json:"ledger_index"`
	Ledger      struct {
		CloseTime int64 `json:"close_time"`
	} `json:"ledger"`
}

// Latest returns the most recent validated ledger.
func (c *Client) Latest(ctx context.Context) (Anchor, error) {
	var result ledgerResult
	err := c.call(ctx, "ledger", map[string]any{"ledger_index": "validated"}, &result)
	if err != nil {
		return Anchor{}, err
	}
	return Anchor{
		LedgerIndex: result.LedgerIndex,
		CloseTime:   core.RippleToTime(result.Ledger.CloseTime),
	}, nil
}

// ByIndex returns the ledger at the given index.
func (c *Client) ByIndex(ctx context.Context, index int64) (Anchor, error) {
	var result ledgerResult
	err := c.call(ctx, "ledger", map[string]any{"ledger_index": index}, &result)
	if err != nil {
		return Anchor{}, err
	}
	return Anchor{
		LedgerIndex: result.LedgerIndex,
		CloseTime:   core.RippleToTime(result.Ledger.CloseTime),
	}, nil
}

type ledgerIndexResult struct {
	LedgerIndex int64  `json:"ledger_index"`
	Closed      string `json:"closed"`
	Validated   bool   `json:"validated"`
}

// ByTime resolves a ledger index directly from a timestamp using the Clio
// ledger_index command. Returns ErrLedgerNotFound when the server reports
// lgrNotFound, which is how Clio signals "no ledger there yet".
func (c *Client) ByTime(ctx context.Context, t time.Time) (Anchor, error) {
	params := map[string]any{"date": t.UTC().Format(core.HourKeyFmt)}

	var result ledgerIndexResult
	err := c.call(ctx, "ledger_index", params, &result)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == "lgrNotFound" {
			return Anchor{}, ErrLedgerNotFound
		}
		return Anchor{}, err
	}

	closed, err := time.Parse(time.RFC3339, result.Closed)
	if err != nil {
		return Anchor{}, fmt.Errorf("failed to parse closed time %q: %w", result.Closed, err)
	}
	return Anchor{LedgerIndex: result.LedgerIndex, CloseTime: closed.UTC()}, nil
}
