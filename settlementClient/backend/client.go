package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"

	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
)

// Client talks to the campaign backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a backend client for baseURL (e.g. "https://app.example.com/api").
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "backend_client").Logger(),
	}, nil
}

// ProgramIdentifiers fetches the deployed program addresses and network configuration.
func (c *Client) ProgramIdentifiers(ctx context.Context) (*ProgramIdentifiers, error) {
	data, err := c.get(ctx, "/solana/program-ids")
	if err != nil {
		return nil, err
	}
	return &ProgramIdentifiers{
		CampaignProgramID:   data.Get("campaignProgramId").String(),
		DealEscrowProgramID: data.Get("dealEscrowProgramId").String(),
		TreasuryProgramID:   data.Get("treasuryProgramId").String(),
		RPCURL:              data.Get("rpcUrl").String(),
		Cluster:             data.Get("cluster").String(),
	}, nil
}

// FundingGoalLimits fetches the campaign creation limits.
func (c *Client) FundingGoalLimits(ctx context.Context) (*FundingGoalLimits, error) {
	data, err := c.get(ctx, "/settings/funding-goal-limits")
	if err != nil {
		return nil, err
	}
	minUSD, err := cast.ToFloat64E(data.Get("minUsd").Value())
	if err != nil {
		return nil, serrors.NewValidationError("funding goal limits: malformed minUsd")
	}
	maxUSD, err := cast.ToFloat64E(data.Get("maxUsd").Value())
	if err != nil {
		return nil, serrors.NewValidationError("funding goal limits: malformed maxUsd")
	}
	maxDays, err := cast.ToIntE(data.Get("maxDeadlineDays").Value())
	if err != nil {
		return nil, serrors.NewValidationError("funding goal limits: malformed maxDeadlineDays")
	}
	return &FundingGoalLimits{MinUSD: minUSD, MaxUSD: maxUSD, MaxDeadlineDays: maxDays}, nil
}

// PaymentSettings fetches the platform fee and minimum contribution.
func (c *Client) PaymentSettings(ctx context.Context) (*PaymentSettings, error) {
	data, err := c.get(ctx, "/settings/payment")
	if err != nil {
		return nil, err
	}
	fee, err := cast.ToFloat64E(data.Get("feePercentage").Value())
	if err != nil {
		return nil, serrors.NewValidationError("payment settings: malformed feePercentage")
	}
	if fee < 0 || fee >= 1 {
		return nil, serrors.Newf(serrors.ErrCodeValidation, "payment settings: fee percentage %v out of range [0,1)", fee)
	}
	minimum, err := cast.ToFloat64E(data.Get("minimumContribution").Value())
	if err != nil {
		return nil, serrors.NewValidationError("payment settings: malformed minimumContribution")
	}
	return &PaymentSettings{FeePercentage: fee, MinimumContribution: minimum}, nil
}

// CampaignWalletAddress returns the campaign-specific receiving address for direct transfers.
func (c *Client) CampaignWalletAddress(ctx context.Context, projectID string) (string, error) {
	data, err := c.get(ctx, "/projects/"+url.PathEscape(projectID)+"/wallet-address")
	if err != nil {
		return "", err
	}
	return requireAddress(data.Get("walletAddress").String(), "campaign "+projectID)
}

// DealWalletAddress returns the deal-specific receiving address for direct transfers.
func (c *Client) DealWalletAddress(ctx context.Context, dealID string) (string, error) {
	data, err := c.get(ctx, "/deals/"+url.PathEscape(dealID)+"/wallet-address")
	if err != nil {
		return "", err
	}
	return requireAddress(data.Get("walletAddress").String(), "deal "+dealID)
}

// PublishProject marks a campaign as published.
func (c *Client) PublishProject(ctx context.Context, projectID string, req *PublishRequest) error {
	_, err := c.send(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/publish", req)
	return err
}

// RecordContribution reports a settled contribution. A signature the backend has
// already seen yields a DUPLICATE_SETTLEMENT error.
func (c *Client) RecordContribution(ctx context.Context, projectID string, req *ContributionRequest) error {
	data, err := c.send(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/contribute", req)
	if err != nil {
		return err
	}
	if data.Get("duplicate").Bool() {
		return serrors.NewDuplicateSettlementError(req.Signature)
	}
	return nil
}

// CreateDeal registers a deal and returns its backend identifier.
func (c *Client) CreateDeal(ctx context.Context, req *CreateDealRequest) (string, error) {
	data, err := c.send(ctx, http.MethodPost, "/deals", req)
	if err != nil {
		return "", err
	}
	id := data.Get("id").String()
	if id == "" {
		return "", serrors.NewValidationError("create deal: backend returned no id")
	}
	return id, nil
}

// UpdateDeal changes a deal's status.
func (c *Client) UpdateDeal(ctx context.Context, dealID string, req *UpdateDealRequest) error {
	_, err := c.send(ctx, http.MethodPut, "/deals/"+url.PathEscape(dealID), req)
	return err
}

func (c *Client) get(ctx context.Context, path string) (gjson.Result, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) send(ctx context.Context, method, path string, payload interface{}) (gjson.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, serrors.NewInternalError("failed to marshal request", err)
	}
	return c.do(ctx, method, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (gjson.Result, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return gjson.Result{}, serrors.NewInternalError("failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return gjson.Result{}, ctx.Err()
		}
		return gjson.Result{}, serrors.NewTransientError(fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, serrors.NewTransientError("failed to read response body", err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("backend request completed")

	message := gjson.GetBytes(raw, "message").String()
	switch {
	case resp.StatusCode == http.StatusConflict:
		return gjson.Result{}, serrors.New(serrors.ErrCodeDuplicateSettlement, "backend reported duplicate: "+message, nil)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return gjson.Result{}, serrors.NewTransientError(
			fmt.Sprintf("%s %s returned %d", method, path, resp.StatusCode), fmt.Errorf("%s", message))
	case resp.StatusCode >= 400:
		return gjson.Result{}, serrors.Newf(serrors.ErrCodeValidation,
			"%s %s returned %d: %s", method, path, resp.StatusCode, message)
	}

	if len(raw) == 0 {
		return gjson.Result{}, nil
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, serrors.Newf(serrors.ErrCodeValidation, "%s %s returned invalid JSON", method, path)
	}

	root := gjson.ParseBytes(raw)
	if success := root.Get("success"); success.Exists() && !success.Bool() {
		return gjson.Result{}, serrors.Newf(serrors.ErrCodeValidation, "%s %s failed: %s", method, path, message)
	}
	if data := root.Get("data"); data.Exists() {
		return data, nil
	}
	return root, nil
}

// requireAddress rejects empty or malformed addresses; recipients are never defaulted.
func requireAddress(address, owner string) (string, error) {
	if address == "" {
		return "", serrors.Newf(serrors.ErrCodeValidation, "%s has no wallet address configured", owner)
	}
	if !IsWellFormedAddress(address) {
		return "", serrors.Newf(serrors.ErrCodeValidation, "%s wallet address %q is malformed", owner, address)
	}
	return address, nil
}

// IsWellFormedAddress reports whether s is a base58 string decoding to 32 bytes.
func IsWellFormedAddress(s string) bool {
	raw, err := base58.Decode(s)
	return err == nil && len(raw) == 32
}
