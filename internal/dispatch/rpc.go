package dispatch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sefton37/triage/internal/classifier"
	"github.com/sefton37/triage/internal/inference"
	"github.com/sefton37/triage/internal/ops"
	"github.com/sefton37/triage/internal/router"
	"github.com/sefton37/triage/internal/storage"
	"github.com/sefton37/triage/internal/verify"
)

// JSON-RPC 2.0 error codes. The -32700..-32600 block is the standard
// envelope range; -32000 and below -32001 are the server-defined range
// carrying this module's error kinds so callers can react without
// parsing messages.
const (
	CodeParse          = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602

	CodeInternal          = -32000
	CodeRateLimited       = -32001
	CodeNotFound          = -32003
	CodeInvalidTransition = -32004
	CodeInferenceTimeout  = -32010
	CodeBackend           = -32011
	CodeClassifyParse     = -32012
	CodeVerifierInfra     = -32013
	CodeUnroutable        = -32030
)

// Request is a JSON-RPC 2.0 request envelope. Batch requests are not
// supported; every request is a single object.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result
// and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func errorResponse(id json.RawMessage, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}}
}

// Dispatch parses one raw JSON-RPC 2.0 request, runs its method, and
// returns the response. It never returns an unusable response: every
// failure becomes an Error with a code from the table above. Requests
// without an id are answered anyway; the id is echoed as null.
func (r *Registry) Dispatch(ctx context.Context, raw []byte) Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, CodeParse, "parse error: "+err.Error())
	}
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, CodeInvalidRequest, `invalid request: jsonrpc must be "2.0"`)
	}
	if req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "invalid request: missing method")
	}

	params, err := parseParams(req.Params)
	if err != nil {
		return errorResponse(req.ID, CodeInvalidParams, err.Error())
	}

	result, err := r.call(ctx, req.Method, params)
	if err != nil {
		e := errorFor(err)
		return Response{JSONRPC: "2.0", ID: req.ID, Error: e}
	}
	return Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

// errorFor maps a handler error to its wire code by kind. Anything
// unrecognized is an internal error.
func errorFor(err error) *Error {
	var (
		methodErr     *MethodError
		paramErr      *ParamError
		rateErr       *inference.RateLimitError
		notFoundErr   *storage.NotFoundError
		transitionErr *ops.InvalidTransitionError
		timeoutErr    *inference.TimeoutError
		backendErr    *inference.BackendError
		parseErr      *classifier.ParseError
		infraErr      *verify.InfraError
		routeErr      *router.UnroutableError
	)
	switch {
	case errors.As(err, &methodErr):
		return &Error{Code: CodeMethodNotFound, Message: err.Error()}
	case errors.As(err, &paramErr):
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	case errors.As(err, &rateErr):
		return &Error{
			Code:    CodeRateLimited,
			Message: err.Error(),
			Data:    map[string]any{"retry_after_ms": rateErr.RetryAfter.Milliseconds()},
		}
	case errors.As(err, &notFoundErr):
		return &Error{Code: CodeNotFound, Message: err.Error()}
	case errors.As(err, &transitionErr):
		return &Error{Code: CodeInvalidTransition, Message: err.Error()}
	case errors.As(err, &timeoutErr):
		return &Error{Code: CodeInferenceTimeout, Message: err.Error()}
	case errors.As(err, &backendErr):
		return &Error{Code: CodeBackend, Message: err.Error()}
	case errors.As(err, &parseErr):
		return &Error{Code: CodeClassifyParse, Message: err.Error()}
	case errors.As(err, &infraErr):
		return &Error{Code: CodeVerifierInfra, Message: err.Error()}
	case errors.As(err, &routeErr):
		return &Error{Code: CodeUnroutable, Message: err.Error()}
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}
