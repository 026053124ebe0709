package trust

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

	"github.com/mbd888/tiltcheck/internal/apperr"
	"github.com/mbd888/tiltcheck/internal/circuitbreaker"
	"github.com/mbd888/tiltcheck/internal/retry"
)

const mintService = "mint"

// MintClient calls the contract minting service over HTTP.
type MintClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *circuitbreaker.Breaker
	policy  retry.Policy
}

// NewMintClient creates a client for the minting service at baseURL.
func NewMintClient(baseURL, apiKey string) *MintClient {
	return &MintClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: circuitbreaker.New("mint", 5, 30*time.Second),
		policy:  retry.Default,
	}
}

type mintResponse struct {
	TokenID string `json:"tokenId"`
}

// Mint requests a token and returns its identifier. 4xx answers are not
// retried. Every failure is an *apperr.ExternalServiceError.
func (m *MintClient) Mint(ctx context.Context, req MintRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	var token string
	err = retry.Do(ctx, m.policy, func(ctx context.Context) error {
		return m.breaker.Execute(mintService, func() error {
			var callErr error
			token, callErr = m.post(ctx, body)
			return callErr
		})
	})
	if err != nil {
		return "", apperr.External(mintService, err)
	}
	return token, nil
}

func (m *MintClient) post(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/mint", bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		err := fmt.Errorf("mint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", retry.Permanent(err)
		}
		return "", err
	}

	var out mintResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", retry.Permanent(fmt.Errorf("decode mint response: %w", err))
	}
	if out.TokenID == "" {
		return "", retry.Permanent(errors.New("mint response has no tokenId"))
	}
	return out.TokenID, nil
}
