package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/homabaysouq/souq-backend/pkg/config"
	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func testConfig() config.MpesaConfig {
	return config.MpesaConfig{
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		Passkey:        "passkey",
		Shortcode:      "174379",
		Environment:    config.MpesaEnvSandbox,
		CallbackURL:    "https://souq.test/payments/callback",
		Timeout:        time.Second,
	}
}

// fixed at 2026-03-01 09:30:00 UTC, 12:30:00 in Nairobi
var fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	return NewClient(testConfig(),
		WithBaseURL("http://daraja.test"),
		WithHTTPClient(&http.Client{Transport: rt}),
		WithClock(func() time.Time { return fixedNow }),
	)
}

func TestNewPicksSimulatorWithoutCredentials(t *testing.T) {
	cfg := testConfig()
	require.False(t, New(cfg).Simulated())

	cfg.Passkey = ""
	require.True(t, New(cfg).Simulated())
}

func TestNewClientUsesEnvironmentHost(t *testing.T) {
	cfg := testConfig()
	require.Equal(t, SandboxBaseURL, NewClient(cfg).baseURL)
	cfg.Environment = config.MpesaEnvProduction
	require.Equal(t, ProductionBaseURL, NewClient(cfg).baseURL)
}

func TestInitiatePaymentSendsSTKPush(t *testing.T) {
	var tokenCalls int32
	var captured map[string]any
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/oauth/v1/generate":
			atomic.AddInt32(&tokenCalls, 1)
			require.Equal(t, "client_credentials", req.URL.Query().Get("grant_type"))
			want := "Basic " + base64.StdEncoding.EncodeToString([]byte("key:secret"))
			require.Equal(t, want, req.Header.Get("Authorization"))
			return jsonResponse(http.StatusOK, `{"access_token":"tok-1","expires_in":"3599"}`), nil
		case "/mpesa/stkpush/v1/processrequest":
			require.Equal(t, "Bearer tok-1", req.Header.Get("Authorization"))
			body, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(body, &captured))
			return jsonResponse(http.StatusOK, `{"MerchantRequestID":"29115-1","CheckoutRequestID":"ws_CO_1","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success"}`), nil
		}
		t.Fatalf("unexpected path %s", req.URL.Path)
		return nil, nil
	})
	client := newTestClient(t, rt)

	for i := 0; i < 2; i++ {
		resp, err := client.InitiatePayment(context.Background(), PaymentRequest{
			Phone:            "0712345678",
			Amount:           decimal.RequireFromString("250.40"),
			AccountReference: "ORDER-1",
			Description:      "Souq order",
		})
		require.NoError(t, err)
		require.Equal(t, "ws_CO_1", resp.CheckoutRequestID)
		require.Equal(t, "29115-1", resp.MerchantRequestID)
		require.Equal(t, "254712345678", resp.Phone)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&tokenCalls), "token should be cached")

	require.Equal(t, "20260301123000", captured["Timestamp"])
	wantPassword := base64.StdEncoding.EncodeToString([]byte("174379passkey20260301123000"))
	require.Equal(t, wantPassword, captured["Password"])
	require.Equal(t, "CustomerPayBillOnline", captured["TransactionType"])
	require.EqualValues(t, 251, captured["Amount"])
	require.Equal(t, "254712345678", captured["PartyA"])
	require.Equal(t, "174379", captured["PartyB"])
	require.Equal(t, "https://souq.test/payments/callback", captured["CallBackURL"])
	require.Equal(t, "ORDER-1", captured["AccountReference"])
}

func TestAccessTokenRefreshesAfterExpiry(t *testing.T) {
	var calls int32
	now := fixedNow
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		n := atomic.AddInt32(&calls, 1)
		return jsonResponse(http.StatusOK, `{"access_token":"tok-`+string(rune('0'+n))+`","expires_in":"120"}`), nil
	})
	client := NewClient(testConfig(),
		WithBaseURL("http://daraja.test"),
		WithHTTPClient(&http.Client{Transport: rt}),
		WithClock(func() time.Time { return now }),
	)

	tok, err := client.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)

	now = now.Add(30 * time.Second)
	tok, err = client.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)

	now = now.Add(2 * time.Minute)
	tok, err = client.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-2", tok)
}

func TestInitiatePaymentRejectsBadPhoneWithoutCalling(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})
	_, err := client.InitiatePayment(context.Background(), PaymentRequest{Phone: "12345", Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, ErrInvalidPhoneFormat)
}

func TestInitiatePaymentGatewayDeclines(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if strings.HasPrefix(req.URL.Path, "/oauth") {
			return jsonResponse(http.StatusOK, `{"access_token":"tok","expires_in":"3599"}`), nil
		}
		return jsonResponse(http.StatusOK, `{"ResponseCode":"1","ResponseDescription":"Invalid Access Token"}`), nil
	})
	_, err := client.InitiatePayment(context.Background(), PaymentRequest{Phone: "0712345678", Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, ErrRequestRejected)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeGateway))
}

func TestInitiatePaymentTransportFailure(t *testing.T) {
	timeout := errors.New("i/o timeout")
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return nil, timeout
	})
	_, err := client.InitiatePayment(context.Background(), PaymentRequest{Phone: "0712345678", Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, ErrGatewayUnavailable)
	require.ErrorIs(t, err, timeout)
}

func TestInitiatePaymentMalformedJSON(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if strings.HasPrefix(req.URL.Path, "/oauth") {
			return jsonResponse(http.StatusOK, `{"access_token":"tok","expires_in":"3599"}`), nil
		}
		return jsonResponse(http.StatusBadGateway, `<html>bad gateway</html>`), nil
	})
	_, err := client.InitiatePayment(context.Background(), PaymentRequest{Phone: "0712345678", Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestQueryStatus(t *testing.T) {
	var reply string
	var status int
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if strings.HasPrefix(req.URL.Path, "/oauth") {
			return jsonResponse(http.StatusOK, `{"access_token":"tok","expires_in":"3599"}`), nil
		}
		require.Equal(t, "/mpesa/stkpushquery/v1/query", req.URL.Path)
		return jsonResponse(status, reply), nil
	})
	ctx := context.Background()

	status, reply = http.StatusOK, `{"ResponseCode":"0","CheckoutRequestID":"ws_CO_1","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`
	res, err := client.QueryStatus(ctx, "ws_CO_1")
	require.NoError(t, err)
	require.NotNil(t, res.ResultCode)
	require.Equal(t, 1032, *res.ResultCode)

	status, reply = http.StatusInternalServerError, `{"requestId":"x","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`
	res, err = client.QueryStatus(ctx, "ws_CO_1")
	require.NoError(t, err)
	require.Nil(t, res.ResultCode)
	require.True(t, Interpret(res.ResultCode, res.ResultDesc).Pending)

	status, reply = http.StatusBadRequest, `{"errorCode":"400.002.02","errorMessage":"Bad Request - Invalid CheckoutRequestID"}`
	_, err = client.QueryStatus(ctx, "ws_CO_1")
	require.ErrorIs(t, err, ErrGatewayUnavailable)

	_, err = client.QueryStatus(ctx, " ")
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestSimulator(t *testing.T) {
	at := time.Unix(1767225600, 0)
	sim := NewSimulator(WithClock(func() time.Time { return at }))
	require.True(t, sim.Simulated())

	resp, err := sim.InitiatePayment(context.Background(), PaymentRequest{Phone: "+254712345678", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(resp.CheckoutRequestID, "ws_CO_"))
	require.True(t, strings.HasPrefix(resp.MerchantRequestID, "MARQ-"))
	require.Contains(t, resp.ResponseDescription, "SIMULATION")
	require.Equal(t, "SIM1767225600", sim.ReceiptNumber())

	res, err := sim.QueryStatus(context.Background(), resp.CheckoutRequestID)
	require.NoError(t, err)
	require.Equal(t, ResultSuccess, *res.ResultCode)

	_, err = sim.InitiatePayment(context.Background(), PaymentRequest{Phone: "bad", Amount: decimal.NewFromInt(100)})
	require.ErrorIs(t, err, ErrInvalidPhoneFormat)
}

func TestSimulatorIDsUniqueUnderFixedClock(t *testing.T) {
	at := time.Unix(1767225600, 0)
	sim := NewSimulator(WithClock(func() time.Time { return at }))
	req := PaymentRequest{Phone: "0712345678", Amount: decimal.NewFromInt(250)}

	first, err := sim.InitiatePayment(context.Background(), req)
	require.NoError(t, err)
	second, err := sim.InitiatePayment(context.Background(), req)
	require.NoError(t, err)
	require.NotEqual(t, first.CheckoutRequestID, second.CheckoutRequestID)
	require.NotEqual(t, first.MerchantRequestID, second.MerchantRequestID)
}
