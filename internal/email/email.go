// Package email defines the outbound mail transport contract and the
// failure classification the delivery pipeline depends on.
package email

import (
	"context"
	"errors"
	"strconv"
)

// Sender delivers one rendered message. Implementations must return a
// *SendError when the provider itself rejected the message so callers can
// classify the failure; any other error is treated as transient.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// ProviderError is one sub-error from the provider's rejection body.
type ProviderError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// SendError is a structured provider rejection.
type SendError struct {
	StatusCode int
	Errors     []ProviderError
}

func (e *SendError) Error() string {
	msg := "email provider rejected message (status " + strconv.Itoa(e.StatusCode) + ")"
	if len(e.Errors) > 0 && e.Errors[0].Message != "" {
		msg += ": " + e.Errors[0].Message
	}
	return msg
}

// IsPermanent reports whether a send failure will not change on retry.
// Any 4xx provider status, on the response itself or on a sub-error,
// is permanent; everything else (network failures, 5xx) is transient.
func IsPermanent(err error) bool {
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		return false
	}
	if sendErr.StatusCode >= 400 && sendErr.StatusCode < 500 {
		return true
	}
	for _, pe := range sendErr.Errors {
		if pe.Status >= 400 && pe.Status < 500 {
			return true
		}
	}
	return false
}
