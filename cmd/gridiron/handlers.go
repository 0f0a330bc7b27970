package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/gridiron/internal/agent"
	"github.com/haasonsaas/gridiron/internal/checkpoint"
	"github.com/haasonsaas/gridiron/internal/config"
	"github.com/haasonsaas/gridiron/internal/fantasy"
	"github.com/haasonsaas/gridiron/pkg/models"
)

type chatOptions struct {
	threadID   string
	message    string
	leagueID   string
	rosterID   string
	userID     string
	week       int
	showStatus bool
}

// threadContext is the external context attached to a turn.
func (o chatOptions) threadContext() map[string]any {
	values := map[string]any{}
	if o.leagueID != "" {
		values[fantasy.KeyLeagueID] = o.leagueID
	}
	if o.rosterID != "" {
		values[fantasy.KeyRosterID] = o.rosterID
	}
	if o.userID != "" {
		values[fantasy.KeyUserID] = o.userID
	}
	if o.week > 0 {
		values[fantasy.KeyWeek] = o.week
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

func runChat(cmd *cobra.Command, opts chatOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{withEngine: true, logOutput: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	out := cmd.OutOrStdout()
	threadID := opts.threadID
	turnContext := opts.threadContext()

	if opts.message != "" {
		_, err := chatTurn(ctx, a.engine, out, agent.TurnRequest{ThreadID: threadID, Message: opts.message, Context: turnContext}, opts.showStatus)
		return err
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(out, "> ")
			continue
		}
		id, err := chatTurn(ctx, a.engine, out, agent.TurnRequest{ThreadID: threadID, Message: line, Context: turnContext}, opts.showStatus)
		if err != nil && ctx.Err() != nil {
			return err
		}
		if threadID == "" && id != "" {
			threadID = id
			fmt.Fprintf(out, "(thread %s)\n", threadID)
		}
		// Context is merged into the thread on the first turn.
		turnContext = nil
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

// chatTurn prints one turn's events and returns the thread id. A turn that
// ends with an error event is reported as an error.
func chatTurn(ctx context.Context, engine *agent.Engine, out io.Writer, req agent.TurnRequest, showStatus bool) (string, error) {
	var threadID string
	var turnErr error
	for event := range engine.RunTurn(ctx, req) {
		threadID = event.ThreadID
		switch event.Type {
		case models.EventStatus:
			if showStatus {
				fmt.Fprintf(out, "  · %s\n", event.Message)
			}
		case models.EventMetadata:
		case models.EventResponse:
			fmt.Fprintln(out, event.Message)
		case models.EventError:
			fmt.Fprintf(out, "error (%s): %s\n", event.ErrorKind, event.Message)
			turnErr = fmt.Errorf("turn failed: %s", event.ErrorKind)
		}
	}
	return threadID, turnErr
}

func runState(cmd *cobra.Command, threadID string, asJSON bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openCheckpointStore(cmd.Context(), cfg.Checkpoint)
	if err != nil {
		return err
	}
	defer store.Close()

	cp, err := store.Load(cmd.Context(), threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return fmt.Errorf("thread %s has no checkpoint", threadID)
	}
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cp)
	}
	fmt.Fprintf(out, "Thread:   %s\n", cp.ThreadID)
	fmt.Fprintf(out, "Version:  %d\n", cp.Version)
	fmt.Fprintf(out, "Saved:    %s\n", cp.SavedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Messages: %d\n\n", len(cp.State.Messages))
	for _, msg := range cp.State.Messages {
		fmt.Fprintf(out, "[%s] %s\n", msg.Role, summarizeMessage(msg))
	}
	return nil
}

func summarizeMessage(msg models.Message) string {
	switch {
	case msg.Result != nil && !msg.Result.OK():
		return fmt.Sprintf("%s failed (%s): %s", msg.ToolResultFor, msg.Result.ErrorKind, msg.Result.Message)
	case msg.Result != nil:
		return truncate(fmt.Sprintf("%s -> %s", msg.ToolResultFor, msg.Result.Payload), 160)
	case len(msg.ToolCalls) > 0:
		names := make([]string, len(msg.ToolCalls))
		for i, call := range msg.ToolCalls {
			names[i] = call.Name
		}
		text := "calls " + strings.Join(names, ", ")
		if msg.Content != "" {
			text = truncate(msg.Content, 120) + " | " + text
		}
		return text
	default:
		return truncate(msg.Content, 160)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func runThreadsList(cmd *cobra.Command, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openCheckpointStore(cmd.Context(), cfg.Checkpoint)
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.List(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No threads found.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "THREAD\tVERSION\tMESSAGES\tSAVED")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", s.ThreadID, s.Version, s.MessageCount, s.SavedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runThreadsDelete(cmd *cobra.Command, threadID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openCheckpointStore(cmd.Context(), cfg.Checkpoint)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(cmd.Context(), threadID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted thread %s\n", threadID)
	return nil
}

func runConfigSchema(cmd *cobra.Command, _ []string) error {
	data, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	path := resolveConfigPath(configPath)
	if _, err := config.Load(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", path)
	return nil
}

func runSessionsStart(cmd *cobra.Command, client *apiClient, ownerID string) error {
	var resp sessionResponse
	if err := client.postJSON(cmd.Context(), "/v1/sessions", map[string]string{"owner_id": ownerID}, &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s ready for %s\n", resp.SessionID, ownerID)
	return nil
}

func runSessionsList(cmd *cobra.Command, client *apiClient) error {
	var sessions []models.AutomationSession
	if err := client.getJSON(cmd.Context(), "/v1/sessions", &sessions); err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No active sessions.")
		return nil
	}
	now := time.Now()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tOWNER\tAGE\tIDLE\tURL")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.SessionID, s.OwnerID,
			s.Age(now).Round(time.Second), s.IdleFor(now).Round(time.Second), s.CurrentURL)
	}
	return w.Flush()
}

func runSessionsStatus(cmd *cobra.Command, client *apiClient, sessionID string) error {
	var status sessionStatus
	if err := client.getJSON(cmd.Context(), "/v1/sessions/"+sessionID, &status); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session: %s\n", status.SessionID)
	fmt.Fprintf(out, "Owner:   %s\n", status.OwnerID)
	fmt.Fprintf(out, "Age:     %.1f minutes\n", status.AgeMinutes)
	fmt.Fprintf(out, "Idle:    %.1f minutes\n", status.IdleMinutes)
	fmt.Fprintf(out, "In use:  %t\n", status.InUse)
	if status.CurrentURL != "" {
		fmt.Fprintf(out, "URL:     %s\n", status.CurrentURL)
	}
	return nil
}

func runSessionsClose(cmd *cobra.Command, client *apiClient, sessionID string) error {
	if err := client.delete(cmd.Context(), "/v1/sessions/"+sessionID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Closed session %s\n", sessionID)
	return nil
}

func runSessionsSweep(cmd *cobra.Command, client *apiClient, idle time.Duration) error {
	path := "/v1/sessions/sweep"
	if idle > 0 {
		path += "?idle=" + idle.String()
	}
	var resp sweepResponse
	if err := client.postJSON(cmd.Context(), path, nil, &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Closed %d idle session(s)\n", resp.Closed)
	return nil
}
