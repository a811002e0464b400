package requester

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError carries everything the UI needs to present a failed API call:
// the raw status, a best-effort parsed body, and a coarse user-facing
// category derived purely from the status code.
type APIError struct {
	StatusCode int
	Status     string
	Body       []byte
	Category   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d %s)", e.Category, e.StatusCode, e.Status)
}

// Detail returns the parsed response body when it was JSON, or nil.
func (e *APIError) Detail() map[string]interface{} {
	if len(e.Body) == 0 {
		return nil
	}
	var detail map[string]interface{}
	if err := json.Unmarshal(e.Body, &detail); err != nil {
		return nil
	}
	return detail
}

func categoryFor(status int) string {
	switch {
	case status >= 500:
		return "server error"
	case status == http.StatusForbidden:
		return "access denied"
	case status == http.StatusNotFound:
		return "not found"
	case status >= 400:
		return "request error"
	default:
		return "error"
	}
}
