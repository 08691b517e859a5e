package core

import (
	"errors"
	"fmt"
)

var (
	ErrPrinterNotFound      = errors.New("printer not found")
	ErrPrinterAlreadyExists = errors.New("printer already exists")
	ErrInvalidEndpoint      = errors.New("invalid printer endpoint")
	ErrConnectionFailed     = errors.New("connection failed")
	ErrNotConnected         = errors.New("not connected")
	ErrWriteFailed          = errors.New("write failed")
	ErrInternalUnavailable  = errors.New("internal printer unavailable")
	ErrUnsupportedItem      = errors.New("unsupported print item")
	ErrImageEncoding        = errors.New("image encoding failed")
	ErrJobNotFound          = errors.New("job not found")
	ErrQueueStopped         = errors.New("queue is stopped")
)

// TransportError reports a connect or write failure against one endpoint.
type TransportError struct {
	Endpoint PrinterEndpoint
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func newTransportError(ep PrinterEndpoint, op string, sentinel, cause error) *TransportError {
	if cause == nil {
		return &TransportError{Endpoint: ep, Op: op, Err: sentinel}
	}
	return &TransportError{Endpoint: ep, Op: op, Err: fmt.Errorf("%w: %w", sentinel, cause)}
}

func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// EncodingError reports an item the encoder could not render; the encoder falls back to a line feed.
type EncodingError struct {
	Index int
	Type  ItemType
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("item %d (%s): %v", e.Index, e.Type, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}
