package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/tiltcheck/internal/intervention"
	"github.com/mbd888/tiltcheck/internal/risk"
	"github.com/mbd888/tiltcheck/internal/session"
	"github.com/mbd888/tiltcheck/internal/trust"
)

// Config holds the configuration for connecting to a TiltCheck server.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	UserID string // Default user when a tool call omits user_id
}

// Client is an HTTP client for the TiltCheck API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError mirrors the server's error body.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Hint    string `json:"hint"`
}

// do sends a request and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			if apiErr.Hint != "" {
				return fmt.Errorf("API error (%d): %s (%s)", resp.StatusCode, apiErr.Message, apiErr.Hint)
			}
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func userPath(userID, suffix string) string {
	return "/v1/users/" + url.PathEscape(userID) + suffix
}

// TrustSummary returns the combined trust/sus view of a user.
func (c *Client) TrustSummary(ctx context.Context, userID string) (*risk.TrustSummary, error) {
	var out risk.TrustSummary
	if err := c.do(ctx, http.MethodGet, userPath(userID, "/summary"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SessionStatus returns the live view of the user's active session.
func (c *Client) SessionStatus(ctx context.Context, userID string) (*session.Status, error) {
	var out session.Status
	if err := c.do(ctx, http.MethodGet, userPath(userID, "/session"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartSession opens a session with the given bankroll.
func (c *Client) StartSession(ctx context.Context, userID, platform, bankroll string) (*session.Session, error) {
	body := map[string]string{"platform": platform, "bankroll": bankroll}
	var out struct {
		Session *session.Session `json:"session"`
	}
	if err := c.do(ctx, http.MethodPost, userPath(userID, "/session"), nil, body, &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

// LogBet records one bet in the active session.
func (c *Client) LogBet(ctx context.Context, userID, stake, outcome, payout string) (*session.BetResult, error) {
	body := map[string]string{"stake": stake, "outcome": outcome}
	if payout != "" {
		body["payout"] = payout
	}
	var out session.BetResult
	if err := c.do(ctx, http.MethodPost, userPath(userID, "/session/bets"), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EndSession closes and grades the active session.
func (c *Client) EndSession(ctx context.Context, userID string) (*session.Summary, error) {
	var out struct {
		Summary *session.Summary `json:"summary"`
	}
	if err := c.do(ctx, http.MethodDelete, userPath(userID, "/session"), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Summary, nil
}

// ReportScam files a report against another user.
func (c *Client) ReportScam(ctx context.Context, req trust.ReportRequest) (*trust.ScamReport, error) {
	var out struct {
		Report *trust.ScamReport `json:"report"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/reports", nil, req, &out); err != nil {
		return nil, err
	}
	return out.Report, nil
}

// Interventions returns the user's recent interventions.
func (c *Client) Interventions(ctx context.Context, userID string, limit int) ([]intervention.Notice, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Interventions []intervention.Notice `json:"interventions"`
	}
	if err := c.do(ctx, http.MethodGet, userPath(userID, "/interventions"), q, nil, &out); err != nil {
		return nil, err
	}
	return out.Interventions, nil
}
