package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// HTTPClient talks JSON to a ledger relayer that submits the transactions.
type HTTPClient struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: timeout},
	}
}

type txResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error"`
}

type poolRequest struct {
	Instrument string `json:"instrument"`
	Wallet     string `json:"wallet"`
	Amount     int64  `json:"amount,string"`
}

func (c *HTTPClient) Settle(ctx context.Context, req SettlementRequest) (string, error) {
	return c.post(ctx, "/v1/settlements", req.MatchID, req)
}

func (c *HTTPClient) PoolBuy(ctx context.Context, instrument, wallet string, notional int64) (string, error) {
	return c.post(ctx, "/v1/pool/buy", "", poolRequest{Instrument: instrument, Wallet: wallet, Amount: notional})
}

func (c *HTTPClient) PoolSell(ctx context.Context, instrument, wallet string, tokenAmount int64) (string, error) {
	return c.post(ctx, "/v1/pool/sell", "", poolRequest{Instrument: instrument, Wallet: wallet, Amount: tokenAmount})
}

func (c *HTTPClient) post(ctx context.Context, path, idempotencyKey string, body any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "POST %s", path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(err, "read ledger response")
	}

	var out txResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode/100 != 2 {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", errors.Errorf("POST %s: %s: %s", path, resp.Status, msg)
	}
	if out.TxHash == "" {
		return "", errors.Errorf("POST %s: response without tx_hash", path)
	}
	return out.TxHash, nil
}
