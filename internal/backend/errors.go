package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// APIError is a decoded backend error response.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter int // seconds, set on cooldown rejections
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// IsCooldown reports whether the backend rejected the request because the
// sync cooldown is still active.
func (e *APIError) IsCooldown() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// AsAPIError unwraps err into an APIError when possible.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsUnauthorized reports whether err is a 401 rejection that survived the
// transport's refresh attempt.
func IsUnauthorized(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.StatusCode == http.StatusUnauthorized
}

// decodeError turns a non-2xx response into an APIError. The backend
// sends either {"detail": "message"} or {"detail": {"message": ...,
// "retry_after": ...}}; anything else falls back to the status text.
func decodeError(resp *http.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return apiErr
	}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return apiErr
	}

	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		apiErr.Message = s
		return apiErr
	}

	var obj struct {
		Message    string `json:"message"`
		RetryAfter int    `json:"retry_after"`
	}
	if err := json.Unmarshal(payload.Detail, &obj); err == nil {
		if obj.Message != "" {
			apiErr.Message = obj.Message
		}
		apiErr.RetryAfter = obj.RetryAfter
	}

	return apiErr
}
