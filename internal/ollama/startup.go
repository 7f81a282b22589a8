package ollama

import (
	"context"
	"fmt"
	"io"
	"time"
)

// EnsureReady checks that Ollama is running and the classify and judge
// models are available, pulling missing ones with progress written to w.
// The classify model is warmed afterwards so the first classification does
// not pay the cold-load penalty. Returns a non-nil error if Ollama is
// unreachable.
func EnsureReady(ctx context.Context, c *Client, classifyModel, judgeModel string, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return fmt.Errorf("ollama does not appear to be running; start it with: ollama serve")
	}

	models := []string{classifyModel}
	if judgeModel != "" && judgeModel != classifyModel {
		models = append(models, judgeModel)
	}
	for _, m := range models {
		if err := ensureModel(ctx, c, m, w); err != nil {
			return err
		}
	}

	warm(ctx, c, classifyModel, w)
	return nil
}

func ensureModel(ctx context.Context, c *Client, model string, w io.Writer) error {
	if c.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: already available\n", model)
		return nil
	}

	fmt.Fprintf(w, "model %s: not found locally, pulling...\n", model)
	if err := c.PullModel(ctx, model, progressPrinter(w)); err != nil {
		return fmt.Errorf("pulling model %s: %w", model, err)
	}
	fmt.Fprintf(w, "model %s: pulled\n", model)
	return nil
}

func progressPrinter(w io.Writer) func(PullProgress) {
	return func(p PullProgress) {
		if p.Total > 0 {
			fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, 100*float64(p.Completed)/float64(p.Total))
			return
		}
		fmt.Fprintf(w, "  %s\n", p.Status)
	}
}

// warm sends one trivial chat turn so the model stays resident in memory.
// Warm-up failure is reported but never blocks startup.
func warm(ctx context.Context, c *Client, model string, w io.Writer) {
	fmt.Fprintf(w, "model %s: warming up...\n", model)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := c.Chat(ctx, model, []Message{{Role: "user", Content: "ping"}}, nil); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed, continuing: %v\n", model, err)
		return
	}
	fmt.Fprintf(w, "model %s: loaded\n", model)
}
