package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "Classify, route, and verify agent operations",
	Long: `triage sits between users and a fleet of local agents. It classifies
each request along three axes (destination, consumer, semantics), routes
it to the agent that handles that kind of work, and verifies proposed
actions before they run. User corrections become exemplars that steer
future classifications.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(opsCmd)
	rootCmd.AddCommand(correctCmd)
	rootCmd.AddCommand(correctionsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(configCmd)
}
