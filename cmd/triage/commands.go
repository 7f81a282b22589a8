package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sefton37/triage/internal/config"
)

// classificationView mirrors the classification JSON the server returns.
type classificationView struct {
	Destination string `json:"destination"`
	Consumer    string `json:"consumer"`
	Semantics   string `json:"semantics"`
	Confident   bool   `json:"confident"`
}

func (c classificationView) String() string {
	confidence := "confident"
	if !c.Confident {
		confidence = "unsure"
	}
	return fmt.Sprintf("%s/%s/%s (%s)", c.Destination, c.Consumer, c.Semantics, confidence)
}

type operationView struct {
	ID             string             `json:"id"`
	Request        string             `json:"request"`
	Classification classificationView `json:"classification"`
	Status         string             `json:"status"`
	CreatedAt      string             `json:"created_at"`
}

func printOperationRow(op operationView) {
	fmt.Printf("%s  %s  %s  %s  %s\n",
		colorize(ansiCyan, op.ID[:8]),
		op.CreatedAt,
		colorize(statusColor(op.Status), fmt.Sprintf("%-10s", op.Status)),
		op.Classification.String(),
		truncate(op.Request, 60),
	)
}

// --- classify ---

var classifyCmd = &cobra.Command{
	Use:   "classify <request>",
	Short: "Classify a request without creating an operation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		request := strings.Join(args, " ")
		user, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		params := map[string]any{"request": request}
		if user != "" {
			params["user"] = user
		}

		var res struct {
			Classification classificationView `json:"classification"`
			Reasoning      string             `json:"reasoning"`
			Model          string             `json:"model"`
		}
		if err := client.rpc(cmd.Context(), "ops/classify", params, &res); err != nil {
			return err
		}

		printStatus("Classification", "%s", colorize(ansiBold, res.Classification.String()))
		if res.Reasoning != "" {
			printStatus("Reasoning", "%s", res.Reasoning)
		}
		printStatus("Model", "%s", res.Model)
		return nil
	},
}

func init() {
	classifyCmd.Flags().String("user", "", "user the request belongs to")
}

// --- process ---

var processCmd = &cobra.Command{
	Use:   "process <request>",
	Short: "Run a request through the full classify-route-verify flow",
	Long: `Run a request through the full flow: create an operation, classify it,
route it to an agent, and, when --action is given, verify the proposed
action to a final disposition.

Examples:
  triage process "save this conversation to notes.md"
  triage process "delete old logs" --action '{"kind":"command","command":"rm /tmp/old.log"}' --declared delete:/tmp/old.log`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		request := strings.Join(args, " ")
		user, _ := cmd.Flags().GetString("user")
		actionJSON, _ := cmd.Flags().GetString("action")
		mode, _ := cmd.Flags().GetString("mode")
		declared, _ := cmd.Flags().GetStringSlice("declared")
		observed, _ := cmd.Flags().GetStringSlice("observed")

		params := map[string]any{"request": request}
		if user != "" {
			params["user"] = user
		}
		if mode != "" {
			params["mode"] = mode
		}
		if actionJSON != "" {
			var action map[string]any
			if err := json.Unmarshal([]byte(actionJSON), &action); err != nil {
				return fmt.Errorf("invalid --action JSON: %w", err)
			}
			params["action"] = action
		}
		if len(declared) > 0 || len(observed) > 0 {
			params["env"] = map[string]any{
				"declared_effects": declared,
				"observed_effects": observed,
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var out struct {
			Operation operationView `json:"operation"`
			Decision  struct {
				Agent    string `json:"agent"`
				Fallback bool   `json:"fallback"`
			} `json:"decision"`
			Verification *struct {
				Verdict string `json:"verdict"`
				Mode    string `json:"mode"`
			} `json:"verification"`
		}
		if err := client.rpc(cmd.Context(), "ops/process", params, &out); err != nil {
			return err
		}

		printStatus("Operation", "%s", out.Operation.ID)
		printStatus("Classification", "%s", out.Operation.Classification.String())
		agent := out.Decision.Agent
		if out.Decision.Fallback {
			agent += " (low-confidence fallback)"
		}
		printStatus("Agent", "%s", agent)
		printStatus("Status", "%s", colorize(statusColor(out.Operation.Status), out.Operation.Status))
		if out.Verification != nil {
			printStatus("Verdict", "%s (%s mode)", colorize(statusColor(out.Verification.Verdict), out.Verification.Verdict), out.Verification.Mode)
		}
		return nil
	},
}

func init() {
	processCmd.Flags().String("user", "", "user the request belongs to")
	processCmd.Flags().String("action", "", "proposed action as JSON: {kind, summary, command, path, content}")
	processCmd.Flags().String("mode", "", "verification mode: strict or lenient")
	processCmd.Flags().StringSlice("declared", nil, "declared effects as verb:target")
	processCmd.Flags().StringSlice("observed", nil, "observed effects as verb:target")
}

// --- ops ---

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "Inspect operations",
}

var opsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		status, _ := cmd.Flags().GetString("status")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		params := map[string]any{"limit": limit}
		if status != "" {
			params["status"] = status
		}

		var out struct {
			Operations []operationView `json:"operations"`
			Count      int             `json:"count"`
		}
		if err := client.rpc(cmd.Context(), "ops/list", params, &out); err != nil {
			return err
		}

		if out.Count == 0 {
			fmt.Println("No operations found.")
			return nil
		}
		for _, op := range out.Operations {
			printOperationRow(op)
		}
		return nil
	},
}

var opsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an operation with its feedback and verification history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var detail any
		if err := client.rpc(cmd.Context(), "ops/get", map[string]any{"operation": args[0]}, &detail); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(detail)
	},
}

func init() {
	opsListCmd.Flags().Int("limit", 20, "maximum number of operations to list")
	opsListCmd.Flags().String("status", "", "filter by status")
	opsCmd.AddCommand(opsListCmd)
	opsCmd.AddCommand(opsShowCmd)
}

// --- correct ---

var correctCmd = &cobra.Command{
	Use:   "correct <id> <destination> <consumer> <semantics>",
	Short: "Correct an operation's classification",
	Long: `Correct an operation's classification. The corrected triple is stored
as an exemplar and steers future classifications; a live operation
re-enters the flow with the corrected triple.

Example:
  triage correct 3fa4b2c1 file machine read --reasoning "this stores a file"`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		reasoning, _ := cmd.Flags().GetString("reasoning")
		user, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		params := map[string]any{
			"operation":   args[0],
			"type":        "correction",
			"destination": args[1],
			"consumer":    args[2],
			"semantics":   args[3],
		}
		if reasoning != "" {
			params["reasoning"] = reasoning
		}
		if user != "" {
			params["user"] = user
		}

		var fb struct {
			ID        string             `json:"id"`
			Corrected classificationView `json:"corrected"`
		}
		if err := client.rpc(cmd.Context(), "ops/feedback", params, &fb); err != nil {
			return err
		}

		printSuccess("Recorded correction: %s", fb.Corrected.String())
		return nil
	},
}

func init() {
	correctCmd.Flags().String("reasoning", "", "why the original classification was wrong")
	correctCmd.Flags().String("user", "", "user recording the correction")
}

// --- corrections ---

var correctionsCmd = &cobra.Command{
	Use:   "corrections",
	Short: "List stored corrections, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var out struct {
			Corrections []struct {
				Request   string             `json:"request"`
				System    classificationView `json:"system"`
				Corrected classificationView `json:"corrected"`
				Reasoning string             `json:"reasoning"`
			} `json:"corrections"`
			Count int `json:"count"`
		}
		if err := client.rpc(cmd.Context(), "ops/corrections", map[string]any{"limit": limit}, &out); err != nil {
			return err
		}

		if out.Count == 0 {
			fmt.Println("No corrections recorded.")
			return nil
		}
		for _, c := range out.Corrections {
			fmt.Printf("%s\n", colorize(ansiBold, truncate(c.Request, 70)))
			fmt.Printf("  %s → %s\n", c.System.String(), colorize(ansiGreen, c.Corrected.String()))
			if c.Reasoning != "" {
				fmt.Printf("  %s\n", c.Reasoning)
			}
		}
		return nil
	},
}

func init() {
	correctionsCmd.Flags().Int("limit", 20, "maximum number of corrections to list")
}

// --- verify ---

var verifyCmd = &cobra.Command{
	Use:   "verify <id>",
	Short: "Verify a proposed action for a routed operation",
	Long: `Run the verification pipeline over a proposed action and settle the
operation's disposition.

Example:
  triage verify 3fa4b2c1 --action '{"kind":"file_write","path":"notes.md","content":"..."}' --declared write:notes.md`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actionJSON, _ := cmd.Flags().GetString("action")
		mode, _ := cmd.Flags().GetString("mode")
		declared, _ := cmd.Flags().GetStringSlice("declared")
		observed, _ := cmd.Flags().GetStringSlice("observed")

		if actionJSON == "" {
			return fmt.Errorf("--action is required")
		}
		var action map[string]any
		if err := json.Unmarshal([]byte(actionJSON), &action); err != nil {
			return fmt.Errorf("invalid --action JSON: %w", err)
		}

		params := map[string]any{
			"operation": args[0],
			"action":    action,
		}
		if mode != "" {
			params["mode"] = mode
		}
		if len(declared) > 0 || len(observed) > 0 {
			params["env"] = map[string]any{
				"declared_effects": declared,
				"observed_effects": observed,
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var out struct {
			Operation operationView `json:"operation"`
			Result    struct {
				Stages []struct {
					Stage   string `json:"stage"`
					Outcome string `json:"outcome"`
					Message string `json:"message"`
				} `json:"stages"`
				Verdict string `json:"verdict"`
				Mode    string `json:"mode"`
			} `json:"result"`
		}
		if err := client.rpc(cmd.Context(), "ops/verify", params, &out); err != nil {
			return err
		}

		for _, stage := range out.Result.Stages {
			mark := colorize(ansiGreen, "pass")
			if stage.Outcome != "pass" {
				mark = colorize(ansiRed, stage.Outcome)
			}
			line := fmt.Sprintf("%-12s %s", stage.Stage, mark)
			if stage.Message != "" {
				line += "  " + stage.Message
			}
			fmt.Println("  " + line)
		}
		printStatus("Verdict", "%s (%s mode)", colorize(statusColor(out.Result.Verdict), out.Result.Verdict), out.Result.Mode)
		printStatus("Status", "%s", colorize(statusColor(out.Operation.Status), out.Operation.Status))
		return nil
	},
}

func init() {
	verifyCmd.Flags().String("action", "", "proposed action as JSON: {kind, summary, command, path, content}")
	verifyCmd.Flags().String("mode", "", "verification mode: strict or lenient")
	verifyCmd.Flags().StringSlice("declared", nil, "declared effects as verb:target")
	verifyCmd.Flags().StringSlice("observed", nil, "observed effects as verb:target")
}

// --- resolve ---

var resolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Resolve an escalated operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approve, _ := cmd.Flags().GetBool("approve")
		reject, _ := cmd.Flags().GetBool("reject")
		if approve == reject {
			return fmt.Errorf("exactly one of --approve or --reject is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var op operationView
		err = client.rpc(cmd.Context(), "ops/resolve", map[string]any{
			"operation": args[0],
			"approve":   approve,
		}, &op)
		if err != nil {
			return err
		}

		printSuccess("Operation %s is now %s", op.ID[:8], op.Status)
		return nil
	},
}

func init() {
	resolveCmd.Flags().Bool("approve", false, "approve the operation")
	resolveCmd.Flags().Bool("reject", false, "reject the operation")
}

// --- metrics ---

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show the latest learning metrics snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		params := map[string]any{}
		if user != "" {
			params["user"] = user
		}

		var m struct {
			UserID         string             `json:"user_id"`
			WindowDays     int                `json:"window_days"`
			Operations     int                `json:"operations"`
			Corrections    int                `json:"corrections"`
			Confirmations  int                `json:"confirmations"`
			CorrectionRate float64            `json:"correction_rate"`
			AccuracyByAxis map[string]float64 `json:"accuracy_by_axis"`
			ComputedAt     string             `json:"computed_at"`
		}
		if err := client.rpc(cmd.Context(), "learn/metrics", params, &m); err != nil {
			return err
		}

		printStatus("User", "%s", m.UserID)
		printStatus("Window", "%d days", m.WindowDays)
		printStatus("Operations", "%d", m.Operations)
		printStatus("Corrections", "%d", m.Corrections)
		printStatus("Confirmations", "%d", m.Confirmations)
		printStatus("Correction rate", "%.1f%%", m.CorrectionRate*100)
		for _, axis := range []string{"destination", "consumer", "semantics"} {
			if acc, ok := m.AccuracyByAxis[axis]; ok {
				printStatus("Accuracy ("+axis+")", "%.1f%%", acc*100)
			}
		}
		printStatus("Computed", "%s", m.ComputedAt)
		return nil
	},
}

func init() {
	metricsCmd.Flags().String("user", "", "user to show metrics for")
}

// --- evaluate ---

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Replay stored corrections through the live classifier",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var report struct {
			Total          int                `json:"total"`
			Exact          int                `json:"exact"`
			Errors         int                `json:"errors"`
			Accuracy       float64            `json:"accuracy"`
			AccuracyByAxis map[string]float64 `json:"accuracy_by_axis"`
			Samples        []struct {
				Request  string             `json:"request"`
				Expected classificationView `json:"expected"`
				Got      classificationView `json:"got"`
				Match    bool               `json:"match"`
				Err      string             `json:"error"`
			} `json:"samples"`
		}
		if err := client.rpc(cmd.Context(), "learn/evaluate", map[string]any{"limit": limit}, &report); err != nil {
			return err
		}

		if report.Total == 0 {
			fmt.Println("No corrections to replay.")
			return nil
		}

		for _, s := range report.Samples {
			mark := colorize(ansiGreen, "✓")
			switch {
			case s.Err != "":
				mark = colorize(ansiYellow, "?")
			case !s.Match:
				mark = colorize(ansiRed, "✗")
			}
			fmt.Printf("%s %s\n", mark, truncate(s.Request, 70))
			if s.Err != "" {
				fmt.Printf("    error: %s\n", s.Err)
			} else if !s.Match {
				fmt.Printf("    expected %s, got %s\n", s.Expected.String(), s.Got.String())
			}
		}
		printStatus("Exact", "%d/%d (%.1f%%)", report.Exact, report.Total, report.Accuracy*100)
		if report.Errors > 0 {
			printStatus("Errors", "%d", report.Errors)
		}
		for _, axis := range []string{"destination", "consumer", "semantics"} {
			if acc, ok := report.AccuracyByAxis[axis]; ok {
				printStatus("Accuracy ("+axis+")", "%.1f%%", acc*100)
			}
		}
		return nil
	},
}

func init() {
	evaluateCmd.Flags().Int("limit", 20, "maximum number of corrections to replay")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.Entries(cfg) {
			fmt.Printf("  %s = %s\n", colorize(ansiBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write one configuration key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Set(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("%s set to %s", args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
