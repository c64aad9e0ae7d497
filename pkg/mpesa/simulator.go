package mpesa

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
	"github.com/homabaysouq/souq-backend/pkg/logger"
)

const simulationSuffix = " [SIMULATION]"

// Simulator stands in for the gateway when no credentials are configured.
// It never touches the network; callers seeing Simulated() == true settle
// the payment themselves right after initiation.
type Simulator struct {
	now  func() time.Time
	logg *logger.Logger
}

// NewSimulator builds a simulator. Only WithClock and WithLogger apply.
func NewSimulator(opts ...Option) *Simulator {
	probe := &Client{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(probe)
		}
	}
	return &Simulator{now: probe.now, logg: probe.logg}
}

// Simulated reports true.
func (s *Simulator) Simulated() bool { return true }

// InitiatePayment fabricates correlation ids.
func (s *Simulator) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	resp := &PaymentResponse{
		CheckoutRequestID:   "ws_CO_" + uuid.NewString(),
		MerchantRequestID:   "MARQ-" + uuid.NewString(),
		ResponseDescription: "Success. Request accepted for processing" + simulationSuffix,
		Phone:               phone,
	}
	if s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "checkout_request_id", resp.CheckoutRequestID), "gateway credentials missing, simulating stk push")
	}
	return resp, nil
}

// QueryStatus reports success for any simulated id.
func (s *Simulator) QueryStatus(_ context.Context, checkoutRequestID string) (*StatusResult, error) {
	if strings.TrimSpace(checkoutRequestID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout request id is required")
	}
	code := ResultSuccess
	return &StatusResult{
		CheckoutRequestID: checkoutRequestID,
		ResultCode:        &code,
		ResultDesc:        "The service request is processed successfully." + simulationSuffix,
	}, nil
}

// ReceiptNumber fabricates a receipt for a simulated settlement.
func (s *Simulator) ReceiptNumber() string {
	return fmt.Sprintf("SIM%d", s.now().Unix())
}
