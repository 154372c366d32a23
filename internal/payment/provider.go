package payment

import (
	"context"
	"errors"
	"fmt"
)

// ErrProcessor matches any failure reported by, or while reaching, the payment processor.
var ErrProcessor = errors.New("payment processor error")

// IntentRequest captures everything the processor needs to open a payment intent.
type IntentRequest struct {
	AmountMinor        int64
	Currency           string
	PaymentMethodTypes []string
	Metadata           map[string]string
	IdempotencyKey     string
}

// IntentHandle is the subset of the processor response the checkout flow keeps.
type IntentHandle struct {
	ID           string
	ClientSecret string
}

// Processor abstracts the external payment processor. Implementations must be safe for concurrent use.
type Processor interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (IntentHandle, error)
}

// ProcessorError carries the processor's failure details for server-side logging.
type ProcessorError struct {
	Code       string
	Type       string
	Message    string
	HTTPStatus int
	RequestID  string
	Err        error
}

func (e *ProcessorError) Error() string {
	if e == nil {
		return ""
	}
	code := e.Code
	if code == "" {
		code = e.Type
	}
	if code == "" {
		code = "unknown"
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("payment processor: %s: %s", code, msg)
}

// Unwrap exposes the underlying transport or SDK error.
func (e *ProcessorError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports ErrProcessor for every ProcessorError.
func (e *ProcessorError) Is(target error) bool {
	return target == ErrProcessor
}

func asProcessorError(err error) *ProcessorError {
	var pe *ProcessorError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProcessorError{Code: "unclassified", Message: err.Error(), Err: err}
}

type namedProcessor interface {
	Name() string
}

func processorName(p Processor) string {
	if n, ok := p.(namedProcessor); ok {
		return normaliseLabel(n.Name())
	}
	return "unknown"
}
