package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cland3stine/roonie/config"
	"github.com/cland3stine/roonie/director"
	"github.com/cland3stine/roonie/internal/logutil"
	"github.com/cland3stine/roonie/internal/sessionruntime"
	"github.com/cland3stine/roonie/memory"
)

// replayEvent is the JSONL wire shape for recorded events.
type replayEvent struct {
	ID          string    `json:"id,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	Type        string    `json:"type,omitempty"`
	Viewer      string    `json:"viewer"`
	Text        string    `json:"text,omitempty"`
	ReplyParent string    `json:"reply_parent,omitempty"`
	Mention     bool      `json:"mention,omitempty"`
	At          time.Time `json:"at,omitempty"`
}

func newReplayCmd() *cobra.Command {
	var (
		filePath string
		session  string
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded events (JSONL) through the decision pipeline and print traces",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}

			cfg, err := config.FromViper()
			if err != nil {
				return err
			}
			if dryRun {
				cfg.Gate.DryRun = true
			}

			var injector *memory.Injector
			if cfg.Memory.DBPath != "" {
				store, err := memory.OpenStore(cfg.Memory.DBPath)
				if err != nil {
					return err
				}
				defer store.Close()
				injector = memory.NewInjector(store, cfg.Memory.AllowedKeys, cfg.Memory.MaxChars, cfg.Memory.MaxItems, nil)
			}

			mgr, err := sessionruntime.NewManager(cfg, injector, logger)
			if err != nil {
				return err
			}
			defer mgr.Close()

			in := cmd.InOrStdin()
			if filePath != "" && filePath != "-" {
				f, err := os.Open(filePath)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return replay(cmd.Context(), mgr, in, cmd.OutOrStdout(), session)
		},
	}
	cmd.Flags().StringVarP(&filePath, "file", "f", "-", "Events file (JSONL); - for stdin.")
	cmd.Flags().StringVar(&session, "session", "replay", "Session id for events that carry none.")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Decide but never emit.")
	return cmd
}

func replay(ctx context.Context, mgr *sessionruntime.Manager, in io.Reader, out io.Writer, defaultSession string) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(out)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var ev replayEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		sessionID := ev.SessionID
		if sessionID == "" {
			sessionID = defaultSession
		}
		trace, err := mgr.Handle(ctx, director.Event{
			ID:          ev.ID,
			SessionID:   sessionID,
			Type:        ev.Type,
			Viewer:      ev.Viewer,
			Text:        ev.Text,
			ReplyParent: ev.ReplyParent,
			Mention:     ev.Mention,
			At:          ev.At,
		})
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := enc.Encode(trace); err != nil {
			return err
		}
	}
	return scanner.Err()
}
