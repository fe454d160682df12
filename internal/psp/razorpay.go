// internal/psp/razorpay.go
package psp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tinko-recovery/internal/common/config"
	commonhttp "tinko-recovery/internal/common/http"
)

const defaultRazorpayBaseURL = "https://api.razorpay.com/v1"

// RazorpayClient fetches payment and order state from the Razorpay REST API.
// It backs the retry flow's status checks; webhook processing never calls
// out to Razorpay.
type RazorpayClient struct {
	keyID      string
	keySecret  string
	baseURL    string
	httpClient *commonhttp.Client
}

type RazorpayPayment struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Method           string `json:"method"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

type RazorpayOrder struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	AmountDue  int64  `json:"amount_due"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	Attempts   int    `json:"attempts"`
}

func NewRazorpayClient(cfg config.RazorpayConfig) *RazorpayClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultRazorpayBaseURL
	}
	return &RazorpayClient{
		keyID:      cfg.KeyID,
		keySecret:  cfg.KeySecret,
		baseURL:    baseURL,
		httpClient: commonhttp.NewClient(15 * time.Second),
	}
}

// FetchPayment returns the current state of one payment.
func (c *RazorpayClient) FetchPayment(ctx context.Context, paymentID string) (*RazorpayPayment, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("payment id is required")
	}

	var payment RazorpayPayment
	if err := c.get(ctx, fmt.Sprintf("%s/payments/%s", c.baseURL, paymentID), &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// FetchOrder returns the current state of one order.
func (c *RazorpayClient) FetchOrder(ctx context.Context, orderID string) (*RazorpayOrder, error) {
	if orderID == "" {
		return nil, fmt.Errorf("order id is required")
	}

	var order RazorpayOrder
	if err := c.get(ctx, fmt.Sprintf("%s/orders/%s", c.baseURL, orderID), &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// OrderIsPaid reports whether the order has been settled. Used before a
// retry notification goes out so customers who already paid through
// another channel are not chased again.
func (c *RazorpayClient) OrderIsPaid(ctx context.Context, orderID string) (bool, error) {
	order, err := c.FetchOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	return order.Status == "paid", nil
}

func (c *RazorpayClient) get(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.DoWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("razorpay request failed (status %d): %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
