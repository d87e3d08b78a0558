// Package tokenledger provides a client for the external token ledger
// that custodies participant balances. All value movement in experiment
// operations goes through this client; the pool account holds the
// combined balances of every experiment.
package tokenledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Client for the token ledger HTTP API
type Client struct {
	baseURL     string
	poolAddress string
	client      *http.Client
	log         zerolog.Logger
}

// NewClient creates a new token ledger client.
// poolAddress is the account the service moves funds from when paying out.
func NewClient(baseURL, poolAddress string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		poolAddress: poolAddress,
		client:      &http.Client{Timeout: 10 * time.Second},
		log:         log.With().Str("client", "tokenledger").Logger(),
	}
}

type transferRequest struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

type approveRequest struct {
	Spender string `json:"spender"`
	Amount  int64  `json:"amount"`
}

type apiResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type balanceResponse struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

// Transfer moves amount from the pool account to the recipient
func (c *Client) Transfer(to string, amount int64) error {
	req := transferRequest{From: c.poolAddress, To: to, Amount: amount}
	if err := c.post("/transfer", req); err != nil {
		return err
	}

	c.log.Debug().
		Str("to", to).
		Int64("amount", amount).
		Msg("Transfer complete")
	return nil
}

// TransferFrom moves amount from a participant account to the recipient.
// The participant must have approved the pool as a spender beforehand.
func (c *Client) TransferFrom(from, to string, amount int64) error {
	req := transferRequest{From: from, To: to, Amount: amount}
	if err := c.post("/transfer-from", req); err != nil {
		return err
	}

	c.log.Debug().
		Str("from", from).
		Str("to", to).
		Int64("amount", amount).
		Msg("TransferFrom complete")
	return nil
}

// Approve grants spender the right to move amount from the pool account
func (c *Client) Approve(spender string, amount int64) error {
	body, err := json.Marshal(approveRequest{Spender: spender, Amount: amount})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	return c.do("/approve", body)
}

// BalanceOf returns the account's current balance
func (c *Client) BalanceOf(account string) (int64, error) {
	reqURL := fmt.Sprintf("%s/balance/%s", c.baseURL, url.PathEscape(account))

	resp, err := c.client.Get(reqURL)
	if err != nil {
		return 0, fmt.Errorf("balance request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("balance request returned status %d", resp.StatusCode)
	}

	var balance balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		return 0, fmt.Errorf("failed to decode balance response: %w", err)
	}

	return balance.Balance, nil
}

func (c *Client) post(path string, req transferRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	return c.do(path, body)
}

func (c *Client) do(path string, body []byte) error {
	resp, err := c.client.Post(c.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK || !result.Success {
		if result.Error != "" {
			return fmt.Errorf("token ledger rejected %s: %s", path, result.Error)
		}
		return fmt.Errorf("token ledger returned status %d for %s", resp.StatusCode, path)
	}

	return nil
}
