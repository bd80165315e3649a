package analysis

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// apiError is the error envelope OpenAI-compatible endpoints return.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// APIHttpError carries the status and parsed detail of a failed API call so
// the retry loop can distinguish quota exhaustion from transient failures.
type APIHttpError struct {
	StatusCode int
	Message    string
	ErrorType  string
	RawBody    string
}

func (e *APIHttpError) Error() string {
	return fmt.Sprintf("analysis API error (HTTP %d): %s (Type: %s)", e.StatusCode, e.Message, e.ErrorType)
}

// extractAPIError builds an APIHttpError from a non-200 response, parsing
// the provider's error envelope when present.
func extractAPIError(resp *http.Response) *APIHttpError {
	httpErr := &APIHttpError{
		StatusCode: resp.StatusCode,
		Message:    "Unknown error",
		ErrorType:  "unknown",
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpErr
	}
	httpErr.RawBody = string(body)

	var envelope apiError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		httpErr.Message = envelope.Error.Message
		httpErr.ErrorType = envelope.Error.Type
	}
	return httpErr
}
