package main

import (
	"fmt"
	"os"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
)

func colorize(code, s string) string {
	if noColor {
		return s
	}
	return code + s + ansiReset
}

// emit writes one glyph-prefixed line to stderr, keeping stdout clean
// for pipeable command output.
func emit(color, mark, format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(color, mark+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { emit(ansiGreen, "✓ ", format, args...) }

func printError(format string, args ...any) { emit(ansiRed, "✗ ", format, args...) }

func printWarning(format string, args ...any) { emit(ansiYellow, "⚠ ", format, args...) }

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(ansiBold, label+":"), fmt.Sprintf(format, args...))
}

// statusColor picks a color for an operation status or verdict.
func statusColor(status string) string {
	switch status {
	case "approved":
		return ansiGreen
	case "rejected":
		return ansiRed
	case "escalated":
		return ansiYellow
	default:
		return ansiCyan
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
