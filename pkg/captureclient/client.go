/**
 * @description
 * This package provides a client for the payment-capture vendor. It
 * encapsulates the logic for making authenticated HTTP requests to the
 * vendor's charge endpoint, handling request body construction, idempotency
 * keys, and parsing responses.
 *
 * A vendor-reported decline comes back as a failed CaptureResult, not a Go
 * error; errors are reserved for transport and protocol problems. The caller
 * treats both the same way (the capture did not happen), but declines carry
 * the vendor's error code and message for the audit trail.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package captureclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Capture statuses reported by the vendor.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client is a client for the capture vendor's API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	// demoMode short-circuits every capture as an immediate success without
	// calling the vendor. Used in demo environments where funding sources
	// hold simulated balances.
	demoMode bool
}

// NewClient creates a new capture vendor client.
func NewClient(baseURL, apiKey string, demoMode bool) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		demoMode: demoMode,
	}
}

// CaptureParams describes one charge against one payment method.
type CaptureParams struct {
	PaymentMethodRef string
	Amount           int64 // in minor units
	Currency         string
	IdempotencyKey   string
}

// CaptureResult is the outcome of a capture call.
type CaptureResult struct {
	Status       string
	VendorRef    string
	ErrorCode    string
	ErrorMessage string
}

// Succeeded reports whether the capture completed.
func (r *CaptureResult) Succeeded() bool {
	return r != nil && r.Status == StatusSucceeded
}

// chargeRequest is the wire payload for the vendor's charge endpoint.
type chargeRequest struct {
	PaymentMethod string `json:"payment_method"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Capture       bool   `json:"capture"`
}

// chargeResponse is the vendor's charge response.
type chargeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// errorResponse represents an error body from the vendor API.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Capture charges a payment method for an exact amount. The vendor treats
// identical idempotency keys as the same charge, so a retried call with the
// same key can never double-charge.
func (c *Client) Capture(ctx context.Context, params CaptureParams) (*CaptureResult, error) {
	if c.demoMode {
		return &CaptureResult{
			Status:    StatusSucceeded,
			VendorRef: "demo_ch_" + uuid.NewString(),
		}, nil
	}

	body, err := json.Marshal(chargeRequest{
		PaymentMethod: params.PaymentMethodRef,
		Amount:        params.Amount,
		Currency:      params.Currency,
		Capture:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/charges", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Idempotency-Key", params.IdempotencyKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute charge request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read charge response: %w", err)
	}

	// The vendor uses 402 for declines; those are business outcomes, not
	// transport failures.
	if resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity {
		var errResp errorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			return nil, fmt.Errorf("failed to decode decline response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=capture_client op=charge status=%d code=%q msg=%q", resp.StatusCode, errResp.Error.Code, errResp.Error.Message)
		return &CaptureResult{
			Status:       StatusFailed,
			ErrorCode:    errResp.Error.Code,
			ErrorMessage: errResp.Error.Message,
		}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			return nil, fmt.Errorf("capture vendor returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("capture vendor error: %s - %s", errResp.Error.Code, errResp.Error.Message)
	}

	var charge chargeResponse
	if err := json.Unmarshal(bodyBytes, &charge); err != nil {
		return nil, fmt.Errorf("failed to decode charge response: %w", err)
	}

	result := &CaptureResult{
		Status:    charge.Status,
		VendorRef: charge.ID,
	}
	if charge.Error != nil {
		result.ErrorCode = charge.Error.Code
		result.ErrorMessage = charge.Error.Message
	}
	return result, nil
}
