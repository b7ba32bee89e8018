package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultMpesaBaseURL = "https://sandbox.safaricom.co.ke"
	timestampLayout     = "20060102150405"
	transactionType     = "CustomerPayBillOnline"
	accountReference    = "grocerflow"
)

type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
}

// MpesaClient initiates Lipa Na M-Pesa STK pushes.
type MpesaClient struct {
	cfg  MpesaConfig
	http *http.Client
	now  func() time.Time
}

func NewMpesaClient(cfg MpesaConfig) *MpesaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMpesaBaseURL
	}
	return &MpesaClient{
		cfg:  cfg,
		http: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		now:  time.Now,
	}
}

type STKPushResult struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// Password is base64(shortcode + passkey + timestamp).
func Password(shortcode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
}

func (c *MpesaClient) token(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mpesa oauth returned status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode mpesa token: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("mpesa oauth returned an empty token")
	}
	return body.AccessToken, nil
}

// STKPush asks the customer's phone to approve a payment of amount.
func (c *MpesaClient) STKPush(ctx context.Context, phone string, amount int64) (STKPushResult, error) {
	token, err := c.token(ctx)
	if err != nil {
		return STKPushResult{}, err
	}

	timestamp := c.now().Format(timestampLayout)
	shortcode, err := strconv.ParseInt(c.cfg.Shortcode, 10, 64)
	if err != nil {
		return STKPushResult{}, fmt.Errorf("invalid mpesa shortcode %q: %w", c.cfg.Shortcode, err)
	}

	payload := map[string]any{
		"BusinessShortCode": shortcode,
		"Password":          Password(c.cfg.Shortcode, c.cfg.Passkey, timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   transactionType,
		"Amount":            amount,
		"PartyA":            phone,
		"PartyB":            shortcode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  accountReference,
		"TransactionDesc":   "Payment for an order",
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return STKPushResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(data))
	if err != nil {
		return STKPushResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return STKPushResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return STKPushResult{}, fmt.Errorf("mpesa stk push returned status %d", resp.StatusCode)
	}

	var result STKPushResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return STKPushResult{}, fmt.Errorf("decode stk push response: %w", err)
	}
	if result.ResponseCode != "0" {
		return STKPushResult{}, fmt.Errorf("mpesa stk push rejected: %s", result.ResponseDescription)
	}
	return result, nil
}
