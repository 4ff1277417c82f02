// Package apierr provides structured API error types and HTTP status mapping
// compatible with the OpenAI error format.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// ErrorType constants — observable as the response body's error.type.
const (
	TypeInvalidRequest      = "invalid_request_error"
	TypeUnauthorized        = "authentication_error"
	TypeUpstreamUnavailable = "upstream_unavailable"
	TypeUpstreamError       = "upstream_error"
	TypeTimeout             = "timeout_error"
	TypeInternal            = "server_error"
)

// Code constants.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeInvalidAPIKey       = "invalid_api_key"
	CodeKeyRevoked          = "api_key_revoked"
	CodeKeyExpired          = "api_key_expired"
	CodeMissingBearer       = "missing_bearer"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeUpstreamError       = "upstream_error"
	CodeRequestTimeout      = "request_timeout"
	CodeInternalError       = "internal_error"
	CodeForbidden           = "forbidden"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Body serializes the error envelope without writing it, for SSE error
// frames and tests.
func Body(message, errType, code string) []byte {
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	return body
}

// Write writes the error as JSON to the fasthttp response with the given
// HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.ResetBody()
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(Body(message, errType, code))
}

// WriteInvalidRequest writes a 400 with the invalid_request_error type.
func WriteInvalidRequest(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusBadRequest, message, TypeInvalidRequest, CodeInvalidRequest)
}

// WriteUnauthorized writes a 401.
func WriteUnauthorized(ctx *fasthttp.RequestCtx, message, code string) {
	Write(ctx, fasthttp.StatusUnauthorized, message, TypeUnauthorized, code)
}

// WriteUpstreamUnavailable writes a 503.
func WriteUpstreamUnavailable(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusServiceUnavailable, message, TypeUpstreamUnavailable, CodeUpstreamUnavailable)
}

// WriteTimeout writes a 504.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, "upstream request timed out", TypeTimeout, CodeRequestTimeout)
}

// WriteInternal writes a 500.
func WriteInternal(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusInternalServerError, message, TypeInternal, CodeInternalError)
}
