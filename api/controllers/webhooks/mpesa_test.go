package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	mpesawebhook "github.com/homabaysouq/souq-backend/internal/webhooks/mpesa"
)

type fakeProcessor struct {
	ack     mpesawebhook.Ack
	payload []byte
}

func (f *fakeProcessor) Process(_ context.Context, raw []byte) mpesawebhook.Ack {
	f.payload = raw
	return f.ack
}

func TestMpesaCallbackWritesAck(t *testing.T) {
	proc := &fakeProcessor{ack: mpesawebhook.Ack{ResultCode: 0, ResultDesc: "Accepted"}}
	body := []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"ok"}}}`)

	req := httptest.NewRequest(http.MethodPost, "/payments/callback", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	MpesaCallback(proc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Equal(proc.payload, body) {
		t.Fatalf("processor received %q", proc.payload)
	}
	var ack mpesawebhook.Ack
	if err := json.NewDecoder(rec.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.ResultCode != 0 || ack.ResultDesc != "Accepted" {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func TestMpesaCallbackRejectionStillReturns200(t *testing.T) {
	proc := &fakeProcessor{ack: mpesawebhook.Ack{ResultCode: 1, ResultDesc: "Invalid callback payload"}}

	req := httptest.NewRequest(http.MethodPost, "/payments/callback", bytes.NewReader([]byte(`not json`)))
	rec := httptest.NewRecorder()
	MpesaCallback(proc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected json content type")
	}
	var ack mpesawebhook.Ack
	if err := json.NewDecoder(rec.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.ResultCode != 1 {
		t.Fatalf("expected result code 1, got %d", ack.ResultCode)
	}
}
