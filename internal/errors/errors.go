package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrBusy             = errors.New("a chat request is already in flight")
	ErrTransport        = errors.New("transport error")
	ErrSerialization    = errors.New("request serialization failed")
	ErrUpstreamStatus   = errors.New("upstream returned non-2xx response")
	ErrIncompleteStream = errors.New("stream ended without [DONE]")
	ErrUnknownProvider  = errors.New("unknown provider")
	ErrUnauthorized     = errors.New("unauthorized")
)

// Kind classifies a ChatError.
type Kind int

const (
	KindInvalidArgument Kind = iota + 1
	KindTransport
	KindSerialization
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindTransport:
		return "transport"
	case KindSerialization:
		return "serialization"
	}
	return "unknown"
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindTransport:
		return ErrTransport
	case KindSerialization:
		return ErrSerialization
	}
	return nil
}

// ChatError is returned by the chat pipeline for failures that abort a request.
// errors.Is matches both the wrapped cause and the sentinel of its Kind.
type ChatError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *ChatError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ChatError) Unwrap() error { return e.Err }

func (e *ChatError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Transport wraps err as a transport-kind ChatError.
func Transport(op string, err error) error {
	return &ChatError{Kind: KindTransport, Op: op, Err: err}
}

// Serialization wraps err as a serialization-kind ChatError.
func Serialization(op string, err error) error {
	return &ChatError{Kind: KindSerialization, Op: op, Err: err}
}

// InvalidArgument builds an invalid-argument ChatError with a message.
func InvalidArgument(op, msg string) error {
	return &ChatError{Kind: KindInvalidArgument, Op: op, Err: errors.New(msg)}
}

// StatusFor maps a pipeline error to the HTTP status a surface should answer with.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, ErrBusy):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrTransport), errors.Is(err, ErrIncompleteStream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type jsonError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func WriteJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body := jsonError{
		Error:   http.StatusText(statusCode),
		Message: message,
	}
	_ = json.NewEncoder(w).Encode(body)
}
