// commands.go contains all cobra command definitions and their flag
// configurations. Each builder wires its flags to a handler in
// handlers.go.
package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "osad.yaml"

// buildChatCmd creates the "chat" command: an interactive stdin/stdout
// session against a single osa.Session, driven by the ReAct Loop.
func buildChatCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session against the Core Runtime",
		Long: `Start an interactive chat session.

Each line typed on stdin is classified, filtered, assembled into context,
and run through the ReAct Agent Loop; the loop's response is written to
stdout. Ctrl-D or SIGINT ends the session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), configPath, sessionID, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&sessionID, "session", "cli-session", "Session ID to use for this chat")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

// buildSwarmCmd creates the "swarm" command: one-shot decompose → run →
// synthesize over the Orchestrator.
func buildSwarmCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "swarm [task]",
		Short: "Decompose a task across sub-agents and synthesize the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSwarm(cmd.Context(), configPath, sessionID, args[0], debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&sessionID, "session", "swarm-session", "Session ID to record orchestrator sub-task usage under")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
