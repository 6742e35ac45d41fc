// Package api defines the response envelopes shared by every endpoint.
package api

// ErrorResponse is the standard error envelope. Code is a stable
// machine-readable identifier, TraceID correlates with server logs.
type ErrorResponse struct {
	OK      bool                   `json:"ok"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	TraceID string                 `json:"traceId,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error builds an ErrorResponse.
func Error(code, message, traceID string) ErrorResponse {
	return ErrorResponse{OK: false, Code: code, Message: message, TraceID: traceID}
}

// WithDetails attaches extra context to an error response.
func (e ErrorResponse) WithDetails(details map[string]interface{}) ErrorResponse {
	e.Details = details
	return e
}
