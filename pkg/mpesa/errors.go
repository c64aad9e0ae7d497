package mpesa

import "errors"

var (
	// ErrInvalidPhoneFormat is returned when a number cannot be put in canonical 254 form.
	ErrInvalidPhoneFormat = errors.New("invalid phone number format")
	// ErrGatewayUnavailable covers transport failures: timeouts, non-200 replies, bad JSON.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrRequestRejected is returned when the gateway answers but declines the request.
	ErrRequestRejected = errors.New("payment request rejected by gateway")
	// ErrMalformedCallback is returned when a callback body cannot be parsed.
	ErrMalformedCallback = errors.New("malformed payment callback")
)
