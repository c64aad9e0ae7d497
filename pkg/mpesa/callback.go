package mpesa

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
)

// CallbackEnvelope mirrors the JSON body the gateway posts to the callback URL.
type CallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

// StkCallback is the inner callback object.
type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        *int              `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// CallbackMetadata holds the name/value items sent on success.
type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

// CallbackItem values are numbers or strings depending on the field.
type CallbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// CallbackResult is the flattened view of a callback.
type CallbackResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        *int
	ResultDesc        string
	ReceiptNumber     string
	Amount            decimal.NullDecimal
	PhoneNumber       string
	TransactionDate   string
}

// Outcome interprets the result code.
func (r *CallbackResult) Outcome() Outcome {
	return Interpret(r.ResultCode, r.ResultDesc)
}

// ParseCallback decodes a raw callback body.
func ParseCallback(raw []byte) (*CallbackResult, error) {
	var env CallbackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, pkgerrors.Kind(pkgerrors.CodeValidation, ErrMalformedCallback, fmt.Sprintf("decode callback: %v", err))
	}
	cb := env.Body.StkCallback
	if strings.TrimSpace(cb.CheckoutRequestID) == "" {
		return nil, pkgerrors.Kind(pkgerrors.CodeValidation, ErrMalformedCallback, "callback missing CheckoutRequestID")
	}

	result := &CallbackResult{
		CheckoutRequestID: cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}
	if cb.CallbackMetadata == nil {
		return result, nil
	}
	for _, item := range cb.CallbackMetadata.Item {
		value := metadataString(item.Value)
		switch item.Name {
		case "MpesaReceiptNumber":
			result.ReceiptNumber = value
		case "Amount":
			if amount, err := decimal.NewFromString(value); err == nil {
				result.Amount = decimal.NewNullDecimal(amount)
			}
		case "PhoneNumber":
			result.PhoneNumber = value
		case "TransactionDate":
			result.TransactionDate = value
		}
	}
	return result, nil
}

func metadataString(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	if unquoted, err := strconv.Unquote(trimmed); err == nil {
		return unquoted
	}
	return trimmed
}
