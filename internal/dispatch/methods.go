package dispatch

import (
	"context"

	"github.com/sefton37/triage/internal/exemplar"
	"github.com/sefton37/triage/internal/learn"
	"github.com/sefton37/triage/internal/ops"
	"github.com/sefton37/triage/internal/storage"
	"github.com/sefton37/triage/internal/taxonomy"
	"github.com/sefton37/triage/internal/verify"
)

// defaultUser attributes requests that arrive without a user id. The
// module is local-first; a single-person deployment never sets one.
const defaultUser = "local"

const maxEnumLen = 32

// Deps are the components the method table closes over.
type Deps struct {
	Ops       *ops.Service
	Exemplars *exemplar.Context
	Evaluator *learn.Evaluator
	Store     *storage.Store
	Version   string
}

// New builds the full method table and freezes it.
func New(deps Deps) *Registry {
	r := NewRegistry(deps.Store)

	r.Register("ops/process", processHandler(deps.Ops))
	r.Register("ops/classify", classifyHandler(deps.Ops))
	r.Register("ops/route", routeHandler(deps.Ops))
	r.Register("ops/verify", verifyHandler(deps.Ops))
	r.Register("ops/get", getHandler(deps.Ops))
	r.Register("ops/list", listHandler(deps.Ops))
	r.Register("ops/feedback", feedbackHandler(deps.Ops))
	r.Register("ops/resolve", resolveHandler(deps.Ops))
	r.Register("ops/corrections", correctionsHandler(deps.Exemplars))
	r.RegisterStore("learn/metrics", metricsHandler())
	r.RegisterStore("learn/evaluate", evaluateHandler(deps.Evaluator))
	r.RegisterStore("system/health", healthHandler(deps.Version))
	r.Register("system/methods", methodsHandler(r))

	r.Freeze()
	return r
}

func userParam(p Params) (string, error) {
	user, err := p.OptionalString("user", maxUserLen)
	if err != nil {
		return "", err
	}
	if user == "" {
		user = defaultUser
	}
	return user, nil
}

// optionalMode reads the mode param when present. Empty means the
// pipeline default applies.
func optionalMode(p Params) (verify.Mode, error) {
	raw, err := p.OptionalString("mode", maxEnumLen)
	if err != nil || raw == "" {
		return "", err
	}
	mode, err := verify.ParseMode(raw)
	if err != nil {
		return "", paramErr("mode", "must be strict or lenient")
	}
	return mode, nil
}

// classificationParam assembles a full triple from the destination,
// consumer, and semantics params. Absent confident means true: a caller
// spelling out a triple by hand has settled it.
func classificationParam(p Params) (taxonomy.Classification, error) {
	dest, err := p.String("destination", maxEnumLen)
	if err != nil {
		return taxonomy.Classification{}, err
	}
	cons, err := p.String("consumer", maxEnumLen)
	if err != nil {
		return taxonomy.Classification{}, err
	}
	sem, err := p.String("semantics", maxEnumLen)
	if err != nil {
		return taxonomy.Classification{}, err
	}
	confident, err := p.OptionalBool("confident", true)
	if err != nil {
		return taxonomy.Classification{}, err
	}
	c, err := taxonomy.Parse(dest, cons, sem, confident)
	if err != nil {
		return taxonomy.Classification{}, paramErr("classification", err.Error())
	}
	return c, nil
}

func processHandler(svc *ops.Service) Handler {
	return func(ctx context.Context, p Params) (any, error) {
		request, err := p.String("request", maxRequestLen)
		if err != nil {
			return nil, err
		}
		user, err := userParam(p)
		if err != nil {
			return nil, err
		}
		req := ops.ProcessRequest{UserID: user, Request: request}

		var action verify.Action
		ok, err := p.Decode("action", &action)
		if err != nil {
			return nil, err
		}
		if ok {
			req.Action = &action
		}
		if _, err := p.Decode("env", &req.Env); err != nil {
			return nil, err
		}
		if req.Mode, err = optionalMode(p); err != nil {
			return nil, err
		}
		return svc.Process(ctx, req)
	}
}

func classifyHandler(svc *ops.Service) Handler {
	return func(ctx context.Context, p Params) (any, error) {
		request, err := p.String("request", maxRequestLen)
		if err != nil {
			return nil, err
		}
		user, err := userParam(p)
		if err != nil {
			return nil, err
		}
		return svc.Classify(ctx, user, request)
	}
}

func routeHandler(svc *ops.Service) Handler {
	return func(ctx context.Context, p Params) (any, error) {
		c, err := classificationParam(p)
		if err != nil {
			return nil, err
		}
		return svc.Route(c)
	}
}

// verifyResponse pairs a pipeline result with the operation it settled.
type verifyResponse struct {
	Operation ops.Operation         `json:"operation"`
	Result    verify.PipelineResult `json:"result"`
}

func verifyHandler(svc *ops.Service) Handler {
	return func(ctx context.Context, p Params) (any, error) {
		id, err := p.String("operation", maxIDLen)
		if err != nil {
			return nil, err
		}
		var action verify.Action
		ok, err := p.Decode("action", &action)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, paramErr("action", "is required")
		}
		var env verify.Environment
		if _, err := p.Decode("env", &env); err != nil {
			return nil, err
		}
		mode, err := optionalMode(p)
		if err != nil {
			return nil, err
		}
		result, err := svc.Verify(ctx, id, action, env, mode)
		if err != nil {
			return nil, err
		}
		op, err := svc.Get(id)
		if err != nil {
			return nil, err
		}
		return verifyResponse{Operation: op, Result: result}, nil
	}
}

func getHandler(svc *ops.Service) Handler {
	return func(ctx context.Context, p Params) (any, error) {
		id, err := p.String("operation", maxIDLen)
		if err != nil {
			return nil, err
		}
		return svc.GetDetail(id)
	}
}

func listHandler(svc *ops.Service) Handler {
	return func(ctx context.Context, p Params) (any, error) {
		status, err := p.OptionalString("status", maxEnumLen)
		if err != nil {
			return nil, err
		}
		if status != "" && !ops.Status(status).Valid() {
			return nil, paramErr("status", "is not a known status")
		}
		limit, err := p.OptionalInt("limit", 20, 1, 200)
		if err != nil {
			return nil, err
		}
		list, err := svc.ListRecent(ops.Status(status), limit)
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []ops.Operation{}
		}
		return map[string]any{"operations": list, "count": len(list)}, nil
	}
}

func feedbackHandler(svc *ops.Service) Handler {
	return func(ctx context.Context, p Params) (any, error) {
		id, err := p.String("operation", maxIDLen)
		if err != nil {
			return nil, err
		}
		ftype, err := p.String("type", maxEnumLen)
		if err != nil {
			return nil, err
		}
		user, err := p.OptionalString("user", maxUserLen)
		if err != nil {
			return nil, err
		}
		reasoning, err := p.OptionalString("reasoning", maxReasoningLen)
		if err != nil {
			return nil, err
		}

		req := ops.FeedbackRequest{
			OperationID: id,
			UserID:      user,
			Type:        ops.FeedbackType(ftype),
			Reasoning:   reasoning,
		}
		switch req.Type {
		case ops.FeedbackCorrection:
			c, err := classificationParam(p)
			if err != nil {
				return nil, err
			}
			req.Corrected = c
		case ops.FeedbackConfirmation:
		default:
			return nil, paramErr("type", "must be correction or confirmation")
		}
		return svc.RecordFeedback(req)
	}
}

func resolveHandler(svc *ops.Service) Handler {
	return func(ctx context.Context, p Params) (any, error) {
		id, err := p.String("operation", maxIDLen)
		if err != nil {
			return nil, err
		}
		approve, err := p.Bool("approve")
		if err != nil {
			return nil, err
		}
		return svc.Resolve(id, approve)
	}
}

func correctionsHandler(ex *exemplar.Context) Handler {
	return func(ctx context.Context, p Params) (any, error) {
		limit, err := p.OptionalInt("limit", 20, 1, 200)
		if err != nil {
			return nil, err
		}
		records, err := ex.GetCorrections(limit)
		if err != nil {
			return nil, err
		}
		if records == nil {
			records = []exemplar.Record{}
		}
		return map[string]any{"corrections": records, "count": len(records)}, nil
	}
}

func metricsHandler() StoreHandler {
	return func(ctx context.Context, store *storage.Store, p Params) (any, error) {
		user, err := userParam(p)
		if err != nil {
			return nil, err
		}
		return store.LatestLearningMetrics(user)
	}
}

// evaluateHandler replays stored corrections through the live
// classifier and reports agreement.
func evaluateHandler(ev *learn.Evaluator) StoreHandler {
	return func(ctx context.Context, store *storage.Store, p Params) (any, error) {
		limit, err := p.OptionalInt("limit", 20, 1, 200)
		if err != nil {
			return nil, err
		}
		records, err := store.Corrections(limit)
		if err != nil {
			return nil, err
		}
		return ev.Evaluate(ctx, records)
	}
}

func healthHandler(version string) StoreHandler {
	return func(ctx context.Context, store *storage.Store, p Params) (any, error) {
		applied, err := store.AppliedMigrations()
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"status":     "ok",
			"version":    version,
			"migrations": len(applied),
		}, nil
	}
}

func methodsHandler(r *Registry) Handler {
	return func(ctx context.Context, p Params) (any, error) {
		return map[string]any{"methods": r.Methods()}, nil
	}
}
