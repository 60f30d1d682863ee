package resilience

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TransientError marks a failure worth retrying: throttling, 5xx responses,
// network timeouts. StatusCode is zero when the failure never produced an
// HTTP response.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// ServiceError is an in-band error from an ArcGIS service. The FeatureServer
// and ImageServer endpoints report failures as an HTTP 200 response carrying
// an {"error": ...} JSON body, so the status code alone says nothing.
type ServiceError struct {
	Code    int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error %d: %s", e.Code, e.Message)
}

// Transient reports whether the in-band code is a capacity problem worth
// retrying rather than a bad request. 498/499 are the ArcGIS token codes: the
// public layers occasionally emit them during service restarts.
func (e *ServiceError) Transient() bool {
	switch e.Code {
	case 429, 498, 499, 500, 502, 503, 504:
		return true
	}
	return false
}

// ServiceBodyError inspects a response body for an in-band ArcGIS error
// envelope. Non-JSON bodies (such as a TIFF export) and JSON without an
// error field return nil.
func ServiceBodyError(body []byte) error {
	var envelope struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return nil
	}
	return &ServiceError{Code: envelope.Error.Code, Message: envelope.Error.Message}
}

// IsTransient reports whether any error in the chain indicates a retryable
// condition: an explicit TransientError, a transient in-band service error,
// or a network-level failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// DNS and TLS failures from the state services surface as wrapped
	// client errors with no typed cause.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset",
		"broken pipe",
		"no such host",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether an HTTP status is safe to retry.
// 429 is the CKAN DataStore's throttle response; the rest are gateway and
// server errors.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}
