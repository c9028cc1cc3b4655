package nlp

import (
	"errors"

	"github.com/soundprediction/chronograph/pkg/types"
)

var (
	ErrRateLimit     = errors.New("rate limit exceeded")
	ErrRefusal       = errors.New("model refused the prompt")
	ErrEmptyResponse = errors.New("model returned an empty response")
	ErrInvalidModel  = errors.New("invalid model")

	// ErrCircuitOpen is returned while a circuit breaker refuses calls.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Reason says why the provider did not produce a usable answer.
type Reason string

const (
	ReasonRateLimit     Reason = "rate_limit"
	ReasonRefusal       Reason = "refusal"
	ReasonEmptyResponse Reason = "empty_response"
	ReasonInvalidModel  Reason = "invalid_model"
)

var reasonSentinels = map[Reason]error{
	ReasonRateLimit:     ErrRateLimit,
	ReasonRefusal:       ErrRefusal,
	ReasonEmptyResponse: ErrEmptyResponse,
	ReasonInvalidModel:  ErrInvalidModel,
}

// ProviderError is a call that reached the model provider and came back
// without a usable answer.
type ProviderError struct {
	Reason  Reason
	Message string
}

func (e *ProviderError) Error() string {
	base := reasonSentinels[e.Reason]
	switch {
	case base == nil:
		return e.Message
	case e.Message == "":
		return base.Error()
	}
	return base.Error() + ": " + e.Message
}

// Is matches the sentinel of the reason and any ProviderError with the same
// reason. A ProviderError target without a reason matches every reason.
func (e *ProviderError) Is(target error) bool {
	if t, ok := target.(*ProviderError); ok {
		return t.Reason == "" || t.Reason == e.Reason
	}
	return target == reasonSentinels[e.Reason]
}

// Kind maps the reason onto the pipeline error kinds.
func (e *ProviderError) Kind() types.ErrorKind {
	switch e.Reason {
	case ReasonRefusal:
		return types.KindValidation
	case ReasonInvalidModel:
		return types.KindFatal
	default:
		return types.KindTransient
	}
}

func NewRateLimitError(message ...string) *ProviderError {
	err := &ProviderError{Reason: ReasonRateLimit}
	if len(message) > 0 {
		err.Message = message[0]
	}
	return err
}

func NewRefusalError(message string) *ProviderError {
	return &ProviderError{Reason: ReasonRefusal, Message: message}
}

func NewEmptyResponseError(message string) *ProviderError {
	return &ProviderError{Reason: ReasonEmptyResponse, Message: message}
}

func NewInvalidModelError(model string) *ProviderError {
	return &ProviderError{Reason: ReasonInvalidModel, Message: model}
}

// ErrorKind classifies a failed model call. Anything without a provider
// reason is transient.
func ErrorKind(err error) types.ErrorKind {
	var perr *ProviderError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &perr):
		return perr.Kind()
	case errors.Is(err, ErrRefusal):
		return types.KindValidation
	case errors.Is(err, ErrInvalidModel):
		return types.KindFatal
	}
	return types.KindTransient
}
