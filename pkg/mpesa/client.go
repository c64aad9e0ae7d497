package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/homabaysouq/souq-backend/pkg/config"
	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
	"github.com/homabaysouq/souq-backend/pkg/logger"
	"github.com/homabaysouq/souq-backend/pkg/metrics"
)

const (
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"

	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	stkPath   = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	timestampLayout      = "20060102150405"
	transactionType      = "CustomerPayBillOnline"
	defaultTimeout       = 30 * time.Second
	tokenRefreshMargin   = time.Minute
	responseBodyLimit    = 64 << 10
	stillProcessingError = "500.001.1001"
)

// Nairobi time; the gateway validates the password timestamp against it.
var eat = time.FixedZone("EAT", 3*60*60)

// Gateway is the surface payment services depend on. Live and simulated
// implementations are chosen once at startup by New.
type Gateway interface {
	InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*StatusResult, error)
	Simulated() bool
}

// PaymentRequest asks the gateway to push a PIN prompt to a phone.
type PaymentRequest struct {
	Phone            string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

// PaymentResponse carries the correlation ids for a pushed prompt.
type PaymentResponse struct {
	CheckoutRequestID   string
	MerchantRequestID   string
	ResponseDescription string
	Phone               string
}

// StatusResult is the answer to a status query. ResultCode is nil while the
// customer has not acted on the prompt.
type StatusResult struct {
	CheckoutRequestID string
	ResultCode        *int
	ResultDesc        string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the host derived from the configured environment.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithClock injects the time source used for timestamps, token expiry and
// simulated ids.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics records request outcomes and latency.
func WithMetrics(m *metrics.GatewayMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger attaches a logger.
func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) {
		c.logg = logg
	}
}

// Client talks to the Daraja API. It is safe for concurrent use.
type Client struct {
	cfg        config.MpesaConfig
	httpClient *http.Client
	baseURL    string
	now        func() time.Time
	metrics    *metrics.GatewayMetrics
	logg       *logger.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New returns the live client when credentials are configured and the
// simulator otherwise.
func New(cfg config.MpesaConfig, opts ...Option) Gateway {
	if !cfg.HasCredentials() {
		return NewSimulator(opts...)
	}
	return NewClient(cfg, opts...)
}

// NewClient builds a live Daraja client.
func NewClient(cfg config.MpesaConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := SandboxBaseURL
	if cfg.IsProduction() {
		baseURL = ProductionBaseURL
	}
	c := &Client{
		cfg:     cfg,
		baseURL: baseURL,
		now:     time.Now,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Simulated reports false; this client always calls the provider.
func (c *Client) Simulated() bool { return false }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// AccessToken returns a cached token, fetching a new one shortly before the
// previous one expires.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tokenPath, nil)
	if err != nil {
		return "", gatewayError(err, "build token request")
	}
	creds := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+creds)
	req.Header.Set("Cache-Control", "no-cache")

	var out tokenResponse
	status, body, err := c.do(req, "token")
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", gatewayError(fmt.Errorf("status %d: %s", status, truncate(body)), "fetch access token")
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", gatewayError(err, "decode access token")
	}
	if out.AccessToken == "" {
		return "", gatewayError(fmt.Errorf("empty access_token"), "fetch access token")
	}

	ttl := time.Hour
	if secs, convErr := parseSeconds(out.ExpiresIn); convErr == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	if ttl > tokenRefreshMargin {
		ttl -= tokenRefreshMargin
	}
	c.token = out.AccessToken
	c.tokenExpiry = c.now().Add(ttl)
	return c.token, nil
}

// Password derives the request password for a timestamp.
func (c *Client) Password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.Shortcode + c.cfg.Passkey + timestamp))
}

func (c *Client) timestamp() string {
	return c.now().In(eat).Format(timestampLayout)
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

// InitiatePayment sends an STK push. The gateway only takes whole shillings,
// so the amount is rounded up.
func (c *Client) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}

	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	ts := c.timestamp()
	payload := stkPushRequest{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          c.Password(ts),
		Timestamp:         ts,
		TransactionType:   transactionType,
		Amount:            req.Amount.Ceil().IntPart(),
		PartyA:            phone,
		PartyB:            c.cfg.Shortcode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.Description,
	}

	var out stkPushResponse
	status, err := c.postJSON(ctx, stkPath, "stk_push", token, payload, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, gatewayError(fmt.Errorf("status %d: %s %s", status, out.ErrorCode, out.ErrorMessage), "stk push")
	}
	if out.ResponseCode != "0" {
		desc := out.ResponseDescription
		if desc == "" {
			desc = "unknown error from gateway"
		}
		return nil, pkgerrors.Kind(pkgerrors.CodeGateway, ErrRequestRejected, desc)
	}

	if c.logg != nil {
		logCtx := c.logg.WithFields(ctx, map[string]any{
			"checkout_request_id": out.CheckoutRequestID,
			"merchant_request_id": out.MerchantRequestID,
		})
		c.logg.Info(logCtx, "stk push accepted")
	}

	return &PaymentResponse{
		CheckoutRequestID:   out.CheckoutRequestID,
		MerchantRequestID:   out.MerchantRequestID,
		ResponseDescription: out.ResponseDescription,
		Phone:               phone,
	}, nil
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode      string `json:"ResponseCode"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        string `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	ErrorCode         string `json:"errorCode"`
	ErrorMessage      string `json:"errorMessage"`
}

// QueryStatus asks the gateway for the result of an earlier push.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (*StatusResult, error) {
	if strings.TrimSpace(checkoutRequestID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout request id is required")
	}
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	ts := c.timestamp()
	var out stkQueryResponse
	status, err := c.postJSON(ctx, queryPath, "stk_query", token, stkQueryRequest{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          c.Password(ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	}, &out)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{CheckoutRequestID: checkoutRequestID}
	if status != http.StatusOK {
		if out.ErrorCode == stillProcessingError {
			result.ResultDesc = out.ErrorMessage
			return result, nil
		}
		return nil, gatewayError(fmt.Errorf("status %d: %s %s", status, out.ErrorCode, out.ErrorMessage), "stk query")
	}
	if strings.TrimSpace(out.ResultCode) != "" {
		code, convErr := parseSeconds(out.ResultCode)
		if convErr != nil {
			return nil, gatewayError(convErr, "decode result code")
		}
		result.ResultCode = &code
	}
	result.ResultDesc = out.ResultDesc
	return result, nil
}

func (c *Client) postJSON(ctx context.Context, path, operation, token string, payload, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, gatewayError(err, "marshal "+operation)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, gatewayError(err, "build "+operation)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	status, respBody, err := c.do(req, operation)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return status, gatewayError(fmt.Errorf("status %d: %w: %s", status, err, truncate(respBody)), "decode "+operation)
	}
	return status, nil
}

func (c *Client) do(req *http.Request, operation string) (int, []byte, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(operation, time.Since(start), err)
		return 0, nil, gatewayError(err, operation)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		c.metrics.ObserveRequest(operation, time.Since(start), err)
		return 0, nil, gatewayError(err, "read "+operation)
	}
	var outcome error
	if resp.StatusCode >= http.StatusBadRequest {
		outcome = fmt.Errorf("status %d", resp.StatusCode)
	}
	c.metrics.ObserveRequest(operation, time.Since(start), outcome)
	return resp.StatusCode, body, nil
}

func gatewayError(err error, action string) error {
	return pkgerrors.Wrap(pkgerrors.CodeGateway,
		fmt.Errorf("%w: %s: %w", ErrGatewayUnavailable, action, err),
		fmt.Sprintf("gateway %s failed: %v", action, err))
}

func parseSeconds(v string) (int, error) {
	var n int
	_, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n)
	return n, err
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
