/**
 * @description
 * This package provides a client for the card-issuing vendor. It covers the
 * three calls the settlement flow needs: creating a cardholder, issuing a
 * virtual card with a spending limit, and retrieving the sensitive card
 * fields. The sensitive-fields call is made exactly once, immediately after
 * issuance, and its response is passed straight through to the caller; this
 * service never stores a card number or CVV.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package issuingclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a client for the issuing vendor's API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new issuing vendor client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CardholderParams identifies the person a card is issued to.
type CardholderParams struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// IssuedCard is the vendor's description of a newly issued virtual card.
type IssuedCard struct {
	CardRef  string `json:"id"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

// SensitiveFields carries the full card number and CVV. Only ever held in
// memory on the way back to the original caller.
type SensitiveFields struct {
	Number string `json:"number"`
	CVV    string `json:"cvc"`
}

type cardholderResponse struct {
	ID string `json:"id"`
}

type issueCardRequest struct {
	Cardholder    string `json:"cardholder"`
	Type          string `json:"type"`
	Currency      string `json:"currency"`
	SpendingLimit int64  `json:"spending_limit"`
}

type vendorError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateCardholder registers a cardholder with the vendor and returns its
// reference. Callers cache the reference so repeat settlements reuse it.
func (c *Client) CreateCardholder(ctx context.Context, params CardholderParams) (string, error) {
	var resp cardholderResponse
	if err := c.do(ctx, "POST", "/v1/cardholders", params, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// IssueCard creates a virtual card for a cardholder with a spending limit
// equal to the funds actually collected for it.
func (c *Client) IssueCard(ctx context.Context, cardholderRef string, spendingLimit int64, currency string) (*IssuedCard, error) {
	payload := issueCardRequest{
		Cardholder:    cardholderRef,
		Type:          "virtual",
		Currency:      currency,
		SpendingLimit: spendingLimit,
	}
	var card IssuedCard
	if err := c.do(ctx, "POST", "/v1/cards", payload, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// RetrieveSensitiveFields fetches the full number and CVV for a card.
func (c *Client) RetrieveSensitiveFields(ctx context.Context, cardRef string) (*SensitiveFields, error) {
	var fields SensitiveFields
	if err := c.do(ctx, "GET", "/v1/cards/"+cardRef+"/details", nil, &fields); err != nil {
		return nil, err
	}
	return &fields, nil
}

// do executes one authenticated JSON request against the vendor API.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp vendorError
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			return fmt.Errorf("issuing vendor returned status %d", resp.StatusCode)
		}
		return fmt.Errorf("issuing vendor error: %s - %s", errResp.Error.Code, errResp.Error.Message)
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
