// Package types holds the JSON envelopes shared by every API response.
package types

// SuccessEnvelope wraps all 2xx payloads.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public error body. Details is only populated for codes
// whose metadata allows it.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps all non-2xx payloads.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
