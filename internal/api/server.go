package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sefton37/triage/internal/classifier"
	"github.com/sefton37/triage/internal/dispatch"
	"github.com/sefton37/triage/internal/exemplar"
	"github.com/sefton37/triage/internal/inference"
	"github.com/sefton37/triage/internal/ops"
	"github.com/sefton37/triage/internal/storage"
	"github.com/sefton37/triage/internal/taxonomy"
	"github.com/sefton37/triage/internal/verify"
)

const maxRequestBodySize = 1 << 20 // 1MB

// maxRequestChars mirrors the RPC-side length cap so the REST
// conveniences cannot smuggle in what /rpc would refuse.
const maxRequestChars = 8192

const defaultUser = "local"

// AppDeps holds what the HTTP surface needs.
type AppDeps struct {
	Ops       *ops.Service
	Exemplars *exemplar.Context
	Store     *storage.Store
	Registry  *dispatch.Registry
	Token     string // empty disables auth
}

// NewAppHandler returns the HTTP API: the JSON-RPC endpoint at /rpc
// plus REST conveniences over the same operations. /health stays
// outside auth so probes work without the token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(g chi.Router) {
		g.Use(BearerAuth(deps.Token))

		g.Post("/rpc", handleRPC(deps))
		g.Post("/classify", handleClassify(deps))
		g.Post("/operations", handleProcess(deps))
		g.Get("/operations", handleListOperations(deps))
		g.Get("/operations/{id}", handleGetOperation(deps))
		g.Post("/operations/{id}/feedback", handleFeedback(deps))
		g.Get("/corrections", handleCorrections(deps))
		g.Get("/metrics", handleMetrics(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleRPC(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
			return
		}

		// JSON-RPC carries its own error envelope; HTTP status stays 200.
		writeJSON(w, http.StatusOK, deps.Registry.Dispatch(r.Context(), raw))
	}
}

type classifyPayload struct {
	Request string `json:"request"`
	User    string `json:"user"`
}

func handleClassify(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req classifyPayload
		if !parseBody(w, r, &req) || !checkRequestText(w, req.Request) {
			return
		}

		res, err := deps.Ops.Classify(r.Context(), orDefaultUser(req.User), req.Request)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type processPayload struct {
	Request string             `json:"request"`
	User    string             `json:"user"`
	Action  *verify.Action     `json:"action"`
	Env     verify.Environment `json:"env"`
	Mode    string             `json:"mode"`
}

func handleProcess(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req processPayload
		if !parseBody(w, r, &req) || !checkRequestText(w, req.Request) {
			return
		}

		var mode verify.Mode
		if req.Mode != "" {
			var err error
			if mode, err = verify.ParseMode(req.Mode); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "mode must be strict or lenient")
				return
			}
		}

		out, err := deps.Ops.Process(r.Context(), ops.ProcessRequest{
			UserID:  orDefaultUser(req.User),
			Request: req.Request,
			Action:  req.Action,
			Env:     req.Env,
			Mode:    mode,
		})
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleListOperations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 200)
		status := ops.Status(r.URL.Query().Get("status"))
		if status != "" && !status.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown status %q", status)
			return
		}

		list, err := deps.Ops.ListRecent(status, limit)
		if err != nil {
			domainError(w, err)
			return
		}
		if list == nil {
			list = []ops.Operation{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleGetOperation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		det, err := deps.Ops.GetDetail(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, det)
	}
}

type feedbackPayload struct {
	Type        string `json:"type"`
	User        string `json:"user"`
	Destination string `json:"destination"`
	Consumer    string `json:"consumer"`
	Semantics   string `json:"semantics"`
	Reasoning   string `json:"reasoning"`
}

func handleFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req feedbackPayload
		if !parseBody(w, r, &req) {
			return
		}

		fr := ops.FeedbackRequest{
			OperationID: id,
			UserID:      req.User,
			Type:        ops.FeedbackType(req.Type),
			Reasoning:   req.Reasoning,
		}
		switch fr.Type {
		case ops.FeedbackCorrection:
			c, err := taxonomy.Parse(req.Destination, req.Consumer, req.Semantics, true)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid correction: %v", err)
				return
			}
			fr.Corrected = c
		case ops.FeedbackConfirmation:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "type must be correction or confirmation")
			return
		}

		fb, err := deps.Ops.RecordFeedback(fr)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, fb)
	}
}

func handleCorrections(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 200)

		records, err := deps.Exemplars.GetCorrections(limit)
		if err != nil {
			domainError(w, err)
			return
		}
		if records == nil {
			records = []exemplar.Record{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func handleMetrics(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := orDefaultUser(r.URL.Query().Get("user"))

		m, err := deps.Store.LatestLearningMetrics(user)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// domainError translates module error kinds onto HTTP statuses. Anything
// unrecognized is a 500.
func domainError(w http.ResponseWriter, err error) {
	var (
		rateErr       *inference.RateLimitError
		notFound      *storage.NotFoundError
		transitionErr *ops.InvalidTransitionError
		timeoutErr    *inference.TimeoutError
		backendErr    *inference.BackendError
		parseErr      *classifier.ParseError
	)
	switch {
	case errors.As(err, &rateErr):
		httpError(w, http.StatusTooManyRequests, "rate_limit_error", "%v", err)
	case errors.As(err, &notFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.As(err, &transitionErr):
		httpError(w, http.StatusConflict, "invalid_state", "%v", err)
	case errors.As(err, &timeoutErr):
		httpError(w, http.StatusGatewayTimeout, "timeout_error", "%v", err)
	case errors.As(err, &backendErr):
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	case errors.As(err, &parseErr):
		httpError(w, http.StatusBadGateway, "classification_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

// parseIntParam reads a non-negative integer query parameter, falling back
// to defaultVal and clamping to maxVal when one is set.
func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 {
		return min(v, maxVal)
	}
	return v
}

// parseBody decodes the request body into dst, capping reads at
// maxRequestBodySize. On failure it writes the 400 itself and the
// handler just returns.
func parseBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// checkRequestText enforces presence and the shared length cap on the
// request text, writing the 400 when it fails.
func checkRequestText(w http.ResponseWriter, text string) bool {
	if text == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "request is required")
		return false
	}
	if len(text) > maxRequestChars {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "request exceeds maximum length %d", maxRequestChars)
		return false
	}
	return true
}

func orDefaultUser(user string) string {
	if user == "" {
		return defaultUser
	}
	return user
}

// writeJSON renders v with the given status. An encode failure here has
// nowhere useful to go; the connection is already committed.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]errorBody{"error": {
		Message: fmt.Sprintf(format, args...),
		Type:    errType,
	}})
}
