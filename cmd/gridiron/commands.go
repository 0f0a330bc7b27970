package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func buildChatCmd() *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		Long: `Start or resume a conversation thread. With --message a single turn runs
and the command exits; otherwise lines are read from stdin until EOF.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.threadID, "thread", "", "Thread ID to resume (generated when empty)")
	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "Send one message and exit")
	cmd.Flags().StringVar(&opts.leagueID, "league", "", "Sleeper league ID")
	cmd.Flags().StringVar(&opts.rosterID, "roster", "", "Roster ID within the league")
	cmd.Flags().StringVar(&opts.userID, "user", "", "Sleeper user ID (owner of the roster)")
	cmd.Flags().IntVar(&opts.week, "week", 0, "NFL week (defaults to the current week)")
	cmd.Flags().BoolVar(&opts.showStatus, "status", true, "Print status events")
	return cmd
}

func buildStateCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "state <thread-id>",
		Short: "Show the checkpointed state of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd, args[0], asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw state as JSON")
	return cmd
}

func buildThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List and delete checkpointed threads",
	}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recently saved threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThreadsList(cmd, limit)
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Max number of threads to list")

	del := &cobra.Command{
		Use:   "delete <thread-id>",
		Short: "Delete a thread's checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThreadsDelete(cmd, args[0])
		},
	}
	cmd.AddCommand(list, del)
	return cmd
}

// Session commands talk to a running `gridiron serve`; the pool lives in
// that process.
func buildSessionsCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage browser automation sessions on a running server",
	}
	cmd.PersistentFlags().StringVar(&server, "server", "http://127.0.0.1:8080", "Gridiron server URL")

	start := &cobra.Command{
		Use:   "start <owner-id>",
		Short: "Start (or reuse) a browser session for an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsStart(cmd, newAPIClient(server), args[0])
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List live browser sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, newAPIClient(server))
		},
	}
	status := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show one session's age, idle time and URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsStatus(cmd, newAPIClient(server), args[0])
		},
	}
	closeCmd := &cobra.Command{
		Use:   "close <session-id>",
		Short: "Close a browser session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsClose(cmd, newAPIClient(server), args[0])
		},
	}
	var idle time.Duration
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Close sessions idle past the timeout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsSweep(cmd, newAPIClient(server), idle)
		},
	}
	sweep.Flags().DurationVar(&idle, "idle", 0, "Idle timeout override (server default when zero)")

	cmd.AddCommand(start, list, status, closeCmd, sweep)
	return cmd
}

func buildServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the turn API, browser sessions, metrics and health checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: observability.metrics_addr or :8080)")
	return cmd
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "schema",
			Short: "Print the configuration JSON schema",
			RunE:  runConfigSchema,
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration file",
			RunE:  runConfigValidate,
		},
	)
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gridiron %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
