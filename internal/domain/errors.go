package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMissingCredential = errors.New("missing OpenAI API key")
	ErrGenerationFailed  = errors.New("query generation failed")
	ErrInvalidQuery      = errors.New("invalid SQL query generated")
	ErrExecutionFailed   = errors.New("query execution failed")
	ErrFetchFailed       = errors.New("error fetching data from database")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrBudgetExceeded    = errors.New("session budget exceeded")
	ErrNoPendingQuery    = errors.New("no query pending confirmation")

	ErrProviderUnavailable = errors.New("LLM provider temporarily unavailable")
	ErrRateLimited         = errors.New("rate limit exceeded")
)

// ProviderError is a response the LLM endpoint answered with an HTTP status.
type ProviderError struct {
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("openai error: status=%d: %v", e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// CallerFault reports a 4xx other than 429: the request or its API key was
// rejected, the endpoint itself is healthy.
func (e *ProviderError) CallerFault() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}
