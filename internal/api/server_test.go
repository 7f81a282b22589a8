package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sefton37/triage/internal/classifier"
	"github.com/sefton37/triage/internal/dispatch"
	"github.com/sefton37/triage/internal/exemplar"
	"github.com/sefton37/triage/internal/inference"
	"github.com/sefton37/triage/internal/learn"
	"github.com/sefton37/triage/internal/ops"
	"github.com/sefton37/triage/internal/router"
	"github.com/sefton37/triage/internal/storage"
	"github.com/sefton37/triage/internal/taxonomy"
	"github.com/sefton37/triage/internal/verify"
)

const testToken = "test-token-12345"

type stubClassifier struct {
	res classifier.Result
	err error
}

func (s *stubClassifier) Classify(ctx context.Context, request string) (classifier.Result, error) {
	if s.err != nil {
		return classifier.Result{}, s.err
	}
	return s.res, nil
}

type stubPipeline struct {
	result verify.PipelineResult
}

func (s *stubPipeline) Run(ctx context.Context, vctx verify.Context, mode verify.Mode) verify.PipelineResult {
	return s.result
}

func approvedRun() verify.PipelineResult {
	return verify.PipelineResult{
		Stages: []verify.StageResult{
			{Stage: verify.StageSyntax, Outcome: verify.OutcomePass},
			{Stage: verify.StageSemantic, Outcome: verify.OutcomePass},
			{Stage: verify.StageBehavioral, Outcome: verify.OutcomePass},
			{Stage: verify.StageSafety, Outcome: verify.OutcomePass},
			{Stage: verify.StageIntent, Outcome: verify.OutcomePass, Judgment: verify.JudgmentAligned},
		},
		Verdict: verify.VerdictApproved,
		Mode:    verify.ModeStrict,
	}
}

type appFixture struct {
	handler http.Handler
	store   *storage.Store
	svc     *ops.Service
	ex      *exemplar.Context
	sc      *stubClassifier
	sp      *stubPipeline
}

func setupAppHandler(t *testing.T, token string) *appFixture {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sc := &stubClassifier{res: classifier.Result{
		Classification: taxonomy.Classification{
			Destination: taxonomy.DestinationStream,
			Consumer:    taxonomy.ConsumerHuman,
			Semantics:   taxonomy.SemanticsInterpret,
			Confident:   true,
		},
		Reasoning: "conversational request",
		Model:     "phi3.5",
	}}
	sp := &stubPipeline{result: approvedRun()}
	svc := ops.NewService(store, sc, router.DefaultTable(), sp)
	ex := exemplar.NewContext(store)

	reg := dispatch.New(dispatch.Deps{
		Ops:       svc,
		Exemplars: ex,
		Evaluator: learn.NewEvaluator(sc),
		Store:     store,
		Version:   "test",
	})

	handler := NewAppHandler(AppDeps{
		Ops:       svc,
		Exemplars: ex,
		Store:     store,
		Registry:  reg,
		Token:     token,
	})
	return &appFixture{handler: handler, store: store, svc: svc, ex: ex, sc: sc, sp: sp}
}

func authReq(method, url string, body io.Reader, token string) *http.Request {
	req := httptest.NewRequest(method, url, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func doRequest(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
}

// processOperation drives one request through POST /operations and
// returns the outcome.
func processOperation(t *testing.T, fx *appFixture, body string) ops.Outcome {
	t.Helper()
	rr := doRequest(t, fx.handler, authReq(http.MethodPost, "/operations", strings.NewReader(body), testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /operations = %d: %s", rr.Code, rr.Body.String())
	}
	var out ops.Outcome
	decodeBody(t, rr, &out)
	return out
}

func TestHealthBypassesAuth(t *testing.T) {
	fx := setupAppHandler(t, testToken)

	rr := doRequest(t, fx.handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %s, want ok status", rr.Body.String())
	}
}

func TestAuthRejectsMissingAndWrongToken(t *testing.T) {
	fx := setupAppHandler(t, testToken)

	rr := doRequest(t, fx.handler, httptest.NewRequest(http.MethodGet, "/operations", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}

	rr = doRequest(t, fx.handler, authReq(http.MethodGet, "/operations", nil, "wrong-token"))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}

	rr = doRequest(t, fx.handler, authReq(http.MethodGet, "/operations", nil, testToken))
	if rr.Code != http.StatusOK {
		t.Errorf("right token: status = %d, want 200", rr.Code)
	}
}

func TestEmptyTokenDisablesAuth(t *testing.T) {
	fx := setupAppHandler(t, "")

	rr := doRequest(t, fx.handler, httptest.NewRequest(http.MethodGet, "/operations", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with auth disabled", rr.Code)
	}
}

func TestRPCEndpoint(t *testing.T) {
	fx := setupAppHandler(t, testToken)

	body := `{"jsonrpc":"2.0","id":7,"method":"ops/classify","params":{"request":"what time is it"}}`
	rr := doRequest(t, fx.handler, authReq(http.MethodPost, "/rpc", strings.NewReader(body), testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /rpc = %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  struct {
			Classification taxonomy.Classification `json:"classification"`
		} `json:"result"`
		Error *dispatch.Error `json:"error"`
	}
	decodeBody(t, rr, &resp)
	if resp.Error != nil {
		t.Fatalf("rpc error: %d %s", resp.Error.Code, resp.Error.Message)
	}
	if string(resp.ID) != "7" {
		t.Errorf("id = %s, want 7", resp.ID)
	}
	if resp.Result.Classification.Destination != taxonomy.DestinationStream {
		t.Errorf("destination = %s, want stream", resp.Result.Classification.Destination)
	}
}

func TestRPCParseErrorStaysHTTP200(t *testing.T) {
	fx := setupAppHandler(t, testToken)

	rr := doRequest(t, fx.handler, authReq(http.MethodPost, "/rpc", strings.NewReader("{nope"), testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; rpc errors ride the envelope", rr.Code)
	}

	var resp struct {
		Error *dispatch.Error `json:"error"`
	}
	decodeBody(t, rr, &resp)
	if resp.Error == nil || resp.Error.Code != dispatch.CodeParse {
		t.Fatalf("error = %+v, want code %d", resp.Error, dispatch.CodeParse)
	}
}

func TestClassifyEndpoint(t *testing.T) {
	fx := setupAppHandler(t, testToken)

	rr := doRequest(t, fx.handler, authReq(http.MethodPost, "/classify", strings.NewReader(`{"request":"summarize my notes"}`), testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /classify = %d: %s", rr.Code, rr.Body.String())
	}

	var res classifier.Result
	decodeBody(t, rr, &res)
	if res.Classification.Semantics != taxonomy.SemanticsInterpret {
		t.Errorf("semantics = %s, want interpret", res.Classification.Semantics)
	}
	if res.Model != "phi3.5" {
		t.Errorf("model = %s, want phi3.5", res.Model)
	}
}

func TestClassifyRejectsMissingRequest(t *testing.T) {
	fx := setupAppHandler(t, testToken)

	rr := doRequest(t, fx.handler, authReq(http.MethodPost, "/classify", strings.NewReader(`{}`), testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestClassifyRejectsOversizedRequest(t *testing.T) {
	fx := setupAppHandler(t, testToken)

	big, _ := json.Marshal(map[string]string{"request": strings.Repeat("x", maxRequestChars+1)})
	rr := doRequest(t, fx.handler, authReq(http.MethodPost, "/classify", strings.NewReader(string(big)), testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "maximum length") {
		t.Errorf("body = %s, want length complaint", rr.Body.String())
	}
}

func TestClassifyRateLimitMapsTo429(t *testing.T) {
	fx := setupAppHandler(t, testToken)
	fx.sc.err = &inference.RateLimitError{RetryAfter: 2 * time.Second}

	rr := doRequest(t, fx.handler, authReq(http.MethodPost, "/classify", strings.NewReader(`{"request":"hello"}`), testToken))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "rate_limit_error") {
		t.Errorf("body = %s, want rate_limit_error type", rr.Body.String())
	}
}

func TestProcessWithoutAction(t *testing.T) {
	fx := setupAppHandler(t, testToken)

	out := processOperation(t, fx, `{"request":"what is the weather"}`)
	if out.Operation.Status != ops.StatusRouted {
		t.Errorf("status = %s, want routed", out.Operation.Status)
	}
	if out.Decision.Agent != router.AgentConversation {
		t.Errorf("agent = %s, want conversation", out.Decision.Agent)
	}
	if out.Verification != nil {
		t.Error("no action supplied, verification should be nil")
	}
	if out.Operation.UserID != defaultUser {
		t.Errorf("user = %s, want %s", out.Operation.UserID, defaultUser)
	}
}

func TestProcessWithActionVerifies(t *testing.T) {
	fx := setupAppHandler(t, testToken)

	body := `{"request":"say hello","action":{"kind":"reply","summary":"greet the user","content":"Hello there."}}`
	out := processOperation(t, fx, body)
	if out.Operation.Status != ops.StatusApproved {
		t.Errorf("status = %s, want approved", out.Operation.Status)
	}
	if out.Verification == nil {
		t.Fatal("verification missing")
	}
	if out.Verification.Verdict != verify.VerdictApproved {
		t.Errorf("verdict = %s, want approved", out.Verification.Verdict)
	}
}

func TestProcessRejectsUnknownMode(t *testing.T) {
	fx := setupAppHandler(t, testToken)

	body := `{"request":"say hello","mode":"paranoid"}`
	rr := doRequest(t, fx.handler, authReq(http.MethodPost, "/operations", strings.NewReader(body), testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestListOperations(t *testing.T) {
	fx := setupAppHandler(t, testToken)
	processOperation(t, fx, `{"request":"first"}`)
	processOperation(t, fx, `{"request":"second"}`)

	rr := doRequest(t, fx.handler, authReq(http.MethodGet, "/operations", nil, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /operations = %d: %s", rr.Code, rr.Body.String())
	}

	var list []ops.Operation
	decodeBody(t, rr, &list)
	if len(list) != 2 {
		t.Fatalf("got %d operations, want 2", len(list))
	}

	rr = doRequest(t, fx.handler, authReq(http.MethodGet, "/operations?status=approved", nil, testToken))
	decodeBody(t, rr, &list)
	if len(list) != 0 {
		t.Errorf("approved filter returned %d operations, want 0", len(list))
	}
}

func TestListOperationsEmptyIsArray(t *testing.T) {
	fx := setupAppHandler(t, testToken)

	rr := doRequest(t, fx.handler, authReq(http.MethodGet, "/operations", nil, testToken))
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestListOperationsRejectsUnknownStatus(t *testing.T) {
	fx := setupAppHandler(t, testToken)

	rr := doRequest(t, fx.handler, authReq(http.MethodGet, "/operations?status=bogus", nil, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestGetOperation(t *testing.T) {
	fx := setupAppHandler(t, testToken)
	out := processOperation(t, fx, `{"request":"look up my schedule"}`)

	rr := doRequest(t, fx.handler, authReq(http.MethodGet, "/operations/"+out.Operation.ID, nil, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /operations/{id} = %d: %s", rr.Code, rr.Body.String())
	}

	var det ops.Detail
	decodeBody(t, rr, &det)
	if det.Operation.ID != out.Operation.ID {
		t.Errorf("id = %s, want %s", det.Operation.ID, out.Operation.ID)
	}
}

func TestGetOperationNotFound(t *testing.T) {
	fx := setupAppHandler(t, testToken)

	rr := doRequest(t, fx.handler, authReq(http.MethodGet, "/operations/missing", nil, testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "not_found") {
		t.Errorf("body = %s, want not_found type", rr.Body.String())
	}
}

func TestFeedbackCorrection(t *testing.T) {
	fx := setupAppHandler(t, testToken)
	out := processOperation(t, fx, `{"request":"archive this report"}`)

	body := `{"type":"correction","destination":"file","consumer":"machine","semantics":"read","reasoning":"this stores a file"}`
	rr := doRequest(t, fx.handler, authReq(http.MethodPost, "/operations/"+out.Operation.ID+"/feedback", strings.NewReader(body), testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("POST feedback = %d: %s", rr.Code, rr.Body.String())
	}

	var fb ops.Feedback
	decodeBody(t, rr, &fb)
	if fb.Type != ops.FeedbackCorrection {
		t.Errorf("type = %s, want correction", fb.Type)
	}
	if fb.Corrected.Destination != taxonomy.DestinationFile {
		t.Errorf("corrected destination = %s, want file", fb.Corrected.Destination)
	}

	rr = doRequest(t, fx.handler, authReq(http.MethodGet, "/corrections", nil, testToken))
	var records []exemplar.Record
	decodeBody(t, rr, &records)
	if len(records) != 1 {
		t.Fatalf("got %d corrections, want 1", len(records))
	}
	if records[0].Request != "archive this report" {
		t.Errorf("exemplar request = %q", records[0].Request)
	}
}

func TestFeedbackRejectsUnknownType(t *testing.T) {
	fx := setupAppHandler(t, testToken)
	out := processOperation(t, fx, `{"request":"hello"}`)

	rr := doRequest(t, fx.handler, authReq(http.MethodPost, "/operations/"+out.Operation.ID+"/feedback", strings.NewReader(`{"type":"vibes"}`), testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestFeedbackRejectsInvalidAxes(t *testing.T) {
	fx := setupAppHandler(t, testToken)
	out := processOperation(t, fx, `{"request":"hello"}`)

	body := `{"type":"correction","destination":"cloud","consumer":"human","semantics":"read"}`
	rr := doRequest(t, fx.handler, authReq(http.MethodPost, "/operations/"+out.Operation.ID+"/feedback", strings.NewReader(body), testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestCorrectionsEmptyIsArray(t *testing.T) {
	fx := setupAppHandler(t, testToken)

	rr := doRequest(t, fx.handler, authReq(http.MethodGet, "/corrections", nil, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestMetricsNotComputedYet(t *testing.T) {
	fx := setupAppHandler(t, testToken)

	rr := doRequest(t, fx.handler, authReq(http.MethodGet, "/metrics", nil, testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 before first metrics run", rr.Code)
	}
}

func TestMetricsReturnsLatest(t *testing.T) {
	fx := setupAppHandler(t, testToken)

	m := ops.LearningMetrics{
		UserID:         defaultUser,
		WindowDays:     30,
		Operations:     10,
		Corrections:    3,
		Confirmations:  1,
		CorrectionRate: 0.3,
		AccuracyByAxis: map[string]float64{"destination": 0.9},
		ComputedAt:     time.Now().UTC(),
	}
	if err := fx.store.StoreLearningMetrics(m); err != nil {
		t.Fatalf("StoreLearningMetrics: %v", err)
	}

	rr := doRequest(t, fx.handler, authReq(http.MethodGet, "/metrics", nil, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	var got ops.LearningMetrics
	decodeBody(t, rr, &got)
	if got.Corrections != 3 {
		t.Errorf("corrections = %d, want 3", got.Corrections)
	}
}
