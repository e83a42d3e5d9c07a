// Package main provides the CLI entry point for osad, the OSA Core
// Runtime daemon.
//
// osad wires the Event Bus, Signal Classifier, Noise Filter, Context
// Assembler, Tool Registry, ReAct Agent Loop, Orchestrator, and Session
// Lifecycle into a runnable process. It ships two drivers over that
// runtime: an interactive stdin/stdout chat loop, and a one-shot
// multi-agent swarm run. Real channel and provider integrations live
// outside this module behind osa.Channel/osa.Provider; osad only ever
// depends on those interfaces plus the non-production examples/ adapters.
//
// # Basic usage
//
// Start an interactive chat session:
//
//	osad chat --config osad.yaml
//
// Run a decomposed multi-agent task against a single prompt:
//
//	osad swarm --config osad.yaml "research and summarize X"
//
// # Environment variables
//
//   - ANTHROPIC_API_KEY: selects the Anthropic reference provider
//   - OPENAI_API_KEY: selects the OpenAI reference provider (used when
//     ANTHROPIC_API_KEY is unset, or when both are set and
//     provider.default_provider is "openai")
//   - OSA_LOG_LEVEL, OSA_LOG_FORMAT: see internal/config
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() so tests can exercise it without os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "osad",
		Short: "osad - OSA Core Runtime daemon",
		Long: `osad runs the OSA Core Runtime: signal classification, noise
filtering, context assembly, the ReAct agent loop, and multi-agent
orchestration, driven from a terminal chat session or a one-shot swarm run.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildChatCmd(), buildSwarmCmd())
	return rootCmd
}
