package accountapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"studybuddy/internal/model"

	"github.com/rs/zerolog"
)

// The verifier's behavior hinges on this split: a rejection means the receipt
// is bad and entitlement stays untouched; unavailable means the service could
// not be reached and the bounded grace window may apply.
var (
	ErrRejected    = errors.New("account_service_rejected")
	ErrUnavailable = errors.New("account_service_unavailable")
)

// maxTimeout caps every call to the account service.
const maxTimeout = 15 * time.Second

// VerifyRequest is the verify call payload. Dates never travel here; the
// service answers with the canonical subscription.
type VerifyRequest struct {
	Platform              model.Platform `json:"platform"`
	ProductID             string         `json:"productId"`
	TransactionID         string         `json:"transactionId"`
	OriginalTransactionID string         `json:"originalTransactionId,omitempty"`
	PurchaseToken         string         `json:"purchaseToken,omitempty"`
	ReceiptData           string         `json:"receiptData,omitempty"`
}

type verifyResponse struct {
	Success      bool            `json:"success"`
	Subscription json.RawMessage `json:"subscription,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// SyncState is the pull payload of the sync endpoint.
type SyncState struct {
	Subscription *model.Subscription
	Usage        *model.UsageStats
}

type syncResponse struct {
	Subscription json.RawMessage `json:"subscription,omitempty"`
	Usage        json.RawMessage `json:"usage,omitempty"`
}

type usagePush struct {
	AccountID string `json:"accountId"`
	Type      string `json:"type"`
	Increment int    `json:"increment"`
}

// Client talks to the remote account service. Calls carry a bounded timeout
// and are never retried here; retry is the caller's decision.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient builds a client for the account service at baseURL. The timeout
// is capped at 15 seconds regardless of configuration.
func NewClient(baseURL, token string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 || timeout > maxTimeout {
		timeout = maxTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("service", "AccountAPIClient").Logger(),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, query map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(query) > 0 {
		q := req.URL.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(data)))
	}
}

// Verify submits a purchase for verification and returns the canonical
// subscription the service derived from the receipt.
func (c *Client) Verify(ctx context.Context, accountID string, req VerifyRequest) (*model.Subscription, error) {
	data, err := c.do(ctx, http.MethodPost, "/v1/billing/verify", req, map[string]string{"account_id": accountID})
	if err != nil {
		return nil, err
	}
	var resp verifyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode verify response: %v", ErrUnavailable, err)
	}
	if !resp.Success {
		if resp.Error == "" {
			resp.Error = "verification rejected"
		}
		return nil, fmt.Errorf("%w: %s", ErrRejected, resp.Error)
	}
	if len(resp.Subscription) == 0 {
		return nil, fmt.Errorf("%w: success without subscription", ErrRejected)
	}
	sub, err := model.UnmarshalSubscription(resp.Subscription)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return sub, nil
}

// Sync pulls the account's remote subscription and usage.
func (c *Client) Sync(ctx context.Context, accountID string) (*SyncState, error) {
	data, err := c.do(ctx, http.MethodGet, "/v1/billing/sync", nil, map[string]string{"account_id": accountID})
	if err != nil {
		return nil, err
	}
	var resp syncResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode sync response: %v", ErrUnavailable, err)
	}
	state := &SyncState{}
	if len(resp.Subscription) > 0 && string(resp.Subscription) != "null" {
		sub, err := model.UnmarshalSubscription(resp.Subscription)
		if err != nil {
			return nil, fmt.Errorf("decode remote subscription: %w", err)
		}
		state.Subscription = sub
	}
	if len(resp.Usage) > 0 && string(resp.Usage) != "null" {
		usg, err := model.UnmarshalUsage(resp.Usage)
		if err != nil {
			return nil, fmt.Errorf("decode remote usage: %w", err)
		}
		state.Usage = &usg
	}
	return state, nil
}

// PushUsage reports one usage delta to the account service.
func (c *Client) PushUsage(ctx context.Context, accountID string, feature model.Feature, increment int) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/billing/usage", usagePush{
		AccountID: accountID,
		Type:      string(feature),
		Increment: increment,
	}, nil)
	return err
}
