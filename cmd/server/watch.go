package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/escra-platform/portal/internal/logger"
	"github.com/escra-platform/portal/internal/model"
	"github.com/escra-platform/portal/internal/ws"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var recordPath string

var watchCmd = &cobra.Command{
	Use:   "watch <entity-type> <entity-id>",
	Short: "Follow status changes of an entity",
	Long: `Open the status channel of an entity and print every frame.

The stored CLI token is sent as a bearer token. With --record the frames
are also written to a JSONL transcript.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityType := model.EntityType(args[0])
		if !entityType.Valid() {
			return fmt.Errorf("%w: %s", model.ErrInvalidEntityType, args[0])
		}
		target, err := statusChannelURL(serverURL, entityType, args[1])
		if err != nil {
			return err
		}

		header := http.Header{}
		creds, err := fileCredentials()
		if err != nil {
			return err
		}
		if cred, err := creds.Load(cmd.Context()); err == nil && cred != nil {
			header.Set("Authorization", "Bearer "+cred.Token)
		}

		out := cmd.OutOrStdout()
		opts := ws.ConnectionOptions{
			Header: header,
			OnMessage: func(f ws.Frame) {
				fmt.Fprintln(out, formatFrame(f))
			},
		}
		if recordPath != "" {
			rec, err := logger.NewFrameRecorder(recordPath)
			if err != nil {
				return err
			}
			defer rec.Close()
			if err := rec.WriteHeader(target); err != nil {
				return err
			}
			opts.Recorder = rec
		}

		conn := ws.NewConnection(opts)
		defer conn.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		err = conn.Connect(ctx, target)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", target, err)
		}
		fmt.Fprintln(out, color.HiBlackString("watching %s/%s (ctrl-c to stop)", entityType, args[1]))

		return waitForClose(cmd.Context(), out, conn)
	},
}

func init() {
	watchCmd.Flags().StringVar(&recordPath, "record", "", "Write received frames to this JSONL transcript")
}

// statusChannelURL maps the gateway base URL to the websocket URL of an
// entity's status channel.
func statusChannelURL(base string, entityType model.EntityType, entityID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL %q: unsupported scheme", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/status/ws/" + url.PathEscape(string(entityType)) + "/" + url.PathEscape(entityID)
	u.RawQuery = ""
	return u.String(), nil
}

func waitForClose(ctx context.Context, out io.Writer, conn *ws.Connection) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-conn.Done():
		if err := conn.LastError(); err != nil {
			return fmt.Errorf("status channel closed: %w", err)
		}
		fmt.Fprintln(out, color.HiBlackString("status channel closed"))
		return nil
	case <-sigCh:
	case <-ctx.Done():
	}
	return conn.Close()
}

// formatFrame renders one status channel frame for the terminal.
func formatFrame(f ws.Frame) string {
	ts := color.HiBlackString("%s #%d", f.ReceivedAt.Format("15:04:05"), f.Seq)

	var msg ws.Message
	if err := json.Unmarshal(f.Data, &msg); err != nil {
		return fmt.Sprintf("%s %s", ts, string(f.Data))
	}

	switch msg.Type {
	case ws.MessageTypeInitialStatus, ws.MessageTypeStatusChange:
		line := fmt.Sprintf("%s %s %s/%s", ts, color.CyanString(string(msg.Type)), msg.EntityType, msg.EntityID)
		if msg.Change != nil {
			line += fmt.Sprintf(" %s -> %s", msg.Change.OldStatus, color.New(color.Bold).Sprint(msg.Change.NewStatus))
			if msg.Change.ChangedBy != "" {
				line += " by " + msg.Change.ChangedBy
			}
		} else if msg.Status != nil {
			line += " " + color.New(color.Bold).Sprint(msg.Status.CurrentStatus)
		}
		if msg.Status != nil && msg.Status.IsBlocked {
			line += " " + errColor.Sprint("blocked: "+msg.Status.BlockingReason)
		}
		return line
	case ws.MessageTypeError:
		return fmt.Sprintf("%s %s", ts, errColor.Sprint(msg.Error))
	default:
		return fmt.Sprintf("%s %s", ts, msg.Type)
	}
}
