package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/steps-tracker/internal/entity"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrDatabase      = errors.New("database error")
	ErrValidation    = errors.New("validation failed")
	ErrProxyRequired = errors.New("proxy view requires a concrete proxy selection")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Kind classifies a failure for retry purposes.
type Kind string

const (
	KindNetwork          Kind = "network"
	KindRateLimited      Kind = "rate_limited"
	KindTimeout          Kind = "timeout"
	KindValidation       Kind = "validation"
	KindServiceRejection Kind = "service_rejection"
	KindCanceled         Kind = "canceled"
	KindConflict         Kind = "conflict"
	KindLimitExceeded    Kind = "limit_exceeded"
)

// Retryable reports whether failures of this kind may succeed when repeated.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindRateLimited, KindTimeout:
		return true
	}
	return false
}

// StageError is a classified failure of one pipeline or commit stage.
type StageError struct {
	Stage string
	Kind  Kind
	Err   error
}

// NewStageError classifies err and tags it with the stage it came from.
func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Kind: Classify(err), Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Retryable reports whether the stage may be retried.
func (e *StageError) Retryable() bool { return e.Kind.Retryable() }

// HTTPError is a non-2xx response from a collaborator.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	if body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// ConflictError reports that a record already exists for the same user and date.
// It is a normal branch requiring resolution, not a failure.
type ConflictError struct {
	Date     string
	Existing entity.ExistingRecord
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("record already exists for %s (id=%s)", e.Date, e.Existing.ID)
}

// LimitExceededError refuses a bulk operation whose selection exceeds the configured cap.
type LimitExceededError struct {
	Op    string
	Limit int
	Count int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s refused: %d records selected, maximum is %d", e.Op, e.Count, e.Limit)
}

// BlockedSubmitError refuses a batch submit until every listed item is resolved.
type BlockedSubmitError struct {
	Unconfirmed []string // low-confidence items awaiting confirmation
	Invalid     []string // items whose edited fields do not validate
}

func (e *BlockedSubmitError) Error() string {
	var parts []string
	if n := len(e.Unconfirmed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d low-confidence item(s) need confirmation", n))
	}
	if n := len(e.Invalid); n > 0 {
		parts = append(parts, fmt.Sprintf("%d item(s) have invalid steps or date", n))
	}
	return "submit blocked: " + strings.Join(parts, "; ")
}

// Classify maps an error onto the failure taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return KindConflict
	}
	var le *LimitExceededError
	if errors.As(err, &le) {
		return KindLimitExceeded
	}
	var be *BlockedSubmitError
	if errors.As(err, &be) {
		return KindValidation
	}
	var ve ValidationError
	if errors.As(err, &ve) || errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidInput) {
		return KindValidation
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var he *HTTPError
	if errors.As(err, &he) {
		return kindForHTTPStatus(he.StatusCode)
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		return kindForCode(st.Code())
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return KindNetwork
	}
	return KindServiceRejection
}

// IsRetryable reports whether err is a retryable failure.
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}

func kindForHTTPStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	case code == http.StatusBadGateway || code == http.StatusServiceUnavailable:
		return KindNetwork
	case code == http.StatusConflict:
		return KindConflict
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity || code == http.StatusRequestEntityTooLarge:
		return KindValidation
	}
	return KindServiceRejection
}

func kindForCode(code codes.Code) Kind {
	switch code {
	case codes.Unavailable:
		return KindNetwork
	case codes.ResourceExhausted:
		return KindRateLimited
	case codes.DeadlineExceeded:
		return KindTimeout
	case codes.Canceled:
		return KindCanceled
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return KindValidation
	case codes.AlreadyExists:
		return KindConflict
	}
	return KindServiceRejection
}
