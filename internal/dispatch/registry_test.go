package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sefton37/triage/internal/classifier"
	"github.com/sefton37/triage/internal/inference"
	"github.com/sefton37/triage/internal/ops"
	"github.com/sefton37/triage/internal/router"
	"github.com/sefton37/triage/internal/storage"
	"github.com/sefton37/triage/internal/verify"
)

func dispatchRaw(t *testing.T, r *Registry, raw string) Response {
	t.Helper()
	return r.Dispatch(context.Background(), []byte(raw))
}

func TestDispatchPlainHandler(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("echo", func(ctx context.Context, p Params) (any, error) {
		s, err := p.String("value", 64)
		if err != nil {
			return nil, err
		}
		return map[string]any{"value": s}, nil
	})
	r.Freeze()

	resp := dispatchRaw(t, r, `{"jsonrpc":"2.0","id":7,"method":"echo","params":{"value":"hi"}}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.JSONRPC != "2.0" {
		t.Errorf("jsonrpc = %q", resp.JSONRPC)
	}
	if string(resp.ID) != "7" {
		t.Errorf("id = %s, want 7", resp.ID)
	}
	got, ok := resp.Result.(map[string]any)
	if !ok || got["value"] != "hi" {
		t.Errorf("result = %#v", resp.Result)
	}
}

func TestDispatchStoreHandler(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	r := NewRegistry(store)
	r.RegisterStore("schema", func(ctx context.Context, s *storage.Store, p Params) (any, error) {
		applied, err := s.AppliedMigrations()
		if err != nil {
			return nil, err
		}
		return len(applied), nil
	})
	r.Freeze()

	resp := dispatchRaw(t, r, `{"jsonrpc":"2.0","id":1,"method":"schema"}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if n, ok := resp.Result.(int); !ok || n < 1 {
		t.Errorf("result = %#v, want at least one migration", resp.Result)
	}
}

func TestDispatchParseError(t *testing.T) {
	r := NewRegistry(nil)
	r.Freeze()

	resp := dispatchRaw(t, r, `{nope`)
	if resp.Error == nil || resp.Error.Code != CodeParse {
		t.Fatalf("error = %+v, want code %d", resp.Error, CodeParse)
	}

	// An unparseable request has no usable id; it must echo as null.
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"id":null`) {
		t.Errorf("response = %s, want null id", b)
	}
}

func TestDispatchRejectsBadEnvelope(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("ok", func(ctx context.Context, p Params) (any, error) { return "ok", nil })
	r.Freeze()

	tests := []struct {
		name string
		raw  string
	}{
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ok"}`},
		{"missing version", `{"id":1,"method":"ok"}`},
		{"missing method", `{"jsonrpc":"2.0","id":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := dispatchRaw(t, r, tt.raw)
			if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
				t.Errorf("error = %+v, want code %d", resp.Error, CodeInvalidRequest)
			}
		})
	}
}

func TestDispatchMethodNotFound(t *testing.T) {
	r := NewRegistry(nil)
	r.Freeze()

	resp := dispatchRaw(t, r, `{"jsonrpc":"2.0","id":1,"method":"no/such"}`)
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("error = %+v, want code %d", resp.Error, CodeMethodNotFound)
	}
	if !strings.Contains(resp.Error.Message, "no/such") {
		t.Errorf("message = %q, want method name", resp.Error.Message)
	}
}

func TestDispatchParamsMustBeObject(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("ok", func(ctx context.Context, p Params) (any, error) { return "ok", nil })
	r.Freeze()

	resp := dispatchRaw(t, r, `{"jsonrpc":"2.0","id":1,"method":"ok","params":[1,2]}`)
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("error = %+v, want code %d", resp.Error, CodeInvalidParams)
	}
}

func TestDispatchErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"param", paramErr("request", "is required"), CodeInvalidParams},
		{"rate limit", &inference.RateLimitError{RetryAfter: 2 * time.Second}, CodeRateLimited},
		{"not found", &storage.NotFoundError{Kind: "operation", ID: "op-1"}, CodeNotFound},
		{"invalid transition", &ops.InvalidTransitionError{OperationID: "op-1", From: ops.StatusApproved, To: ops.StatusVerifying}, CodeInvalidTransition},
		{"timeout", &inference.TimeoutError{Model: "phi3.5", Timeout: time.Second}, CodeInferenceTimeout},
		{"backend", &inference.BackendError{Provider: "ollama", Err: errors.New("connection refused")}, CodeBackend},
		{"classify parse", &classifier.ParseError{Raw: "not json", Err: errors.New("no JSON object found")}, CodeClassifyParse},
		{"verifier infra", &verify.InfraError{Stage: verify.StageIntent, Err: errors.New("model down")}, CodeVerifierInfra},
		{"unroutable", &router.UnroutableError{}, CodeUnroutable},
		{"wrapped", fmt.Errorf("operation op-1: %w", &inference.TimeoutError{Model: "phi3.5", Timeout: time.Second}), CodeInferenceTimeout},
		{"plain", errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil)
			r.Register("fail", func(ctx context.Context, p Params) (any, error) {
				return nil, tt.err
			})
			r.Freeze()

			resp := dispatchRaw(t, r, `{"jsonrpc":"2.0","id":1,"method":"fail"}`)
			if resp.Error == nil {
				t.Fatal("expected an error response")
			}
			if resp.Error.Code != tt.code {
				t.Errorf("code = %d, want %d", resp.Error.Code, tt.code)
			}
			if resp.Result != nil {
				t.Errorf("result = %#v, want nil alongside error", resp.Result)
			}
		})
	}
}

func TestDispatchRateLimitCarriesRetryAfter(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("limited", func(ctx context.Context, p Params) (any, error) {
		return nil, &inference.RateLimitError{RetryAfter: 1500 * time.Millisecond}
	})
	r.Freeze()

	resp := dispatchRaw(t, r, `{"jsonrpc":"2.0","id":1,"method":"limited"}`)
	if resp.Error == nil || resp.Error.Code != CodeRateLimited {
		t.Fatalf("error = %+v, want code %d", resp.Error, CodeRateLimited)
	}
	data, ok := resp.Error.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %#v, want map", resp.Error.Data)
	}
	if ms, ok := data["retry_after_ms"].(int64); !ok || ms != 1500 {
		t.Errorf("retry_after_ms = %#v, want 1500", data["retry_after_ms"])
	}
}

func TestDispatchEchoesStringID(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("ok", func(ctx context.Context, p Params) (any, error) { return "ok", nil })
	r.Freeze()

	resp := dispatchRaw(t, r, `{"jsonrpc":"2.0","id":"req-42","method":"ok"}`)
	if string(resp.ID) != `"req-42"` {
		t.Errorf("id = %s, want %q", resp.ID, "req-42")
	}
}

func TestMethodsSorted(t *testing.T) {
	r := NewRegistry(nil)
	ok := func(ctx context.Context, p Params) (any, error) { return nil, nil }
	r.Register("b/two", ok)
	r.Register("a/one", ok)
	r.Register("c/three", ok)
	r.Freeze()

	got := r.Methods()
	want := []string{"a/one", "b/two", "c/three"}
	if len(got) != len(want) {
		t.Fatalf("Methods() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Methods()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegisterAfterFreezePanics(t *testing.T) {
	r := NewRegistry(nil)
	r.Freeze()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on register after freeze")
		}
	}()
	r.Register("late", func(ctx context.Context, p Params) (any, error) { return nil, nil })
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := NewRegistry(nil)
	ok := func(ctx context.Context, p Params) (any, error) { return nil, nil }
	r.Register("dup", ok)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate method")
		}
	}()
	r.Register("dup", ok)
}
