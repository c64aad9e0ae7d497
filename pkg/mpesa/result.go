package mpesa

import (
	"fmt"

	"github.com/homabaysouq/souq-backend/pkg/enums"
)

// Result codes reported by STK callbacks and status queries.
const (
	ResultSuccess             = 0
	ResultInsufficientBalance = 1
	ResultCancelledByUser     = 1032
	ResultTimeout             = 1037
	ResultWrongPIN            = 2001
)

// Outcome is the payment-level interpretation of a gateway result.
type Outcome struct {
	Status  enums.PaymentStatus
	Reason  string
	Pending bool
}

// Interpret maps a result code to a payment status. A nil code means the
// gateway has not decided yet and the payment stays initiated.
func Interpret(code *int, desc string) Outcome {
	if code == nil {
		return Outcome{Status: enums.PaymentStatusInitiated, Reason: "Payment is still being processed", Pending: true}
	}
	switch *code {
	case ResultSuccess:
		return Outcome{Status: enums.PaymentStatusCompleted, Reason: "Payment completed successfully"}
	case ResultCancelledByUser:
		return Outcome{Status: enums.PaymentStatusFailed, Reason: "Payment was cancelled on the phone"}
	case ResultTimeout:
		return Outcome{Status: enums.PaymentStatusFailed, Reason: "The payment prompt timed out before a PIN was entered"}
	case ResultInsufficientBalance:
		return Outcome{Status: enums.PaymentStatusFailed, Reason: "Insufficient M-Pesa balance"}
	case ResultWrongPIN:
		return Outcome{Status: enums.PaymentStatusFailed, Reason: "Wrong M-Pesa PIN entered"}
	}
	if desc == "" {
		desc = "unknown error"
	}
	return Outcome{Status: enums.PaymentStatusFailed, Reason: fmt.Sprintf("Payment failed: %s", desc)}
}

// Label is a short metric-friendly name for the outcome.
func (o Outcome) Label() string {
	if o.Pending {
		return "pending"
	}
	return o.Status.String()
}
