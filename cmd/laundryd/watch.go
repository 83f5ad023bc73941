package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"laundry-sync-backend/internal/logging"
	"laundry-sync-backend/internal/model"
	"laundry-sync-backend/internal/realtime"
)

const clearScreen = "\033[H\033[2J"

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var (
		url   string
		token string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live machine state from a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if token == "" {
				token = os.Getenv("LAUNDRY_TOKEN")
			}
			if token == "" {
				return fmt.Errorf("a token is required (--token or LAUNDRY_TOKEN)")
			}
			if url == "" {
				url = fmt.Sprintf("ws://localhost:%d/api/ws", cfg.Server.Port)
			}

			logger, err := logging.New(logging.Options{Level: "warn", Format: "console", OutputPaths: []string{"stderr"}})
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := realtime.ClientOptionsFrom(cfg.Sync, url, token)
			opts.Logger = logger
			return watch(runCtx, realtime.NewClient(opts), cmd.OutOrStdout(), logger)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Sync endpoint (default ws://localhost:<server.port>/api/ws)")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token presented in the handshake")
	return cmd
}

func watch(ctx context.Context, client *realtime.Client, out io.Writer, log *zap.Logger) error {
	if err := client.Connect(ctx); err != nil {
		log.Warn("initial connect failed, retrying", zap.Error(err))
	}
	defer client.Disconnect()

	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd())
	}

	view := realtime.NewView()
	status := "connecting"
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			return nil
		case msg := <-client.Messages():
			switch msg.Event {
			case realtime.KindConnected:
				status = "live"
			case realtime.KindDisconnected:
				status = "reconnecting"
			case realtime.KindError:
				if client.State() == realtime.StateGaveUp {
					return client.Err()
				}
			}
			if err := view.Apply(msg); err != nil {
				log.Warn("ignoring malformed message", zap.String("event", string(msg.Event)), zap.Error(err))
				continue
			}
			if tty {
				fmt.Fprint(out, clearScreen)
			}
			fmt.Fprintln(out, renderView(view, status, msg.Timestamp))
		}
	}
}

func renderView(view *realtime.View, status string, at time.Time) string {
	machines := view.Machines()
	rows := make([][]string, 0, len(machines))
	for _, m := range machines {
		rows = append(rows, []string{
			strconv.FormatInt(m.ID, 10),
			string(m.Type),
			string(m.Status),
			m.Category,
			formatRemaining(m.TimeLeftSeconds),
			m.CurrentUser,
			strconv.Itoa(len(m.FaultReports)),
		})
	}

	var b strings.Builder
	b.WriteString(renderTable(
		[]string{"ID", "Type", "Status", "Category", "Left", "User", "Faults"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight},
	))
	b.WriteByte('\n')

	for _, typ := range model.MachineTypes {
		items := view.Waitlist(typ)
		users := make([]string, len(items))
		for i, item := range items {
			users[i] = item.UserID
		}
		fmt.Fprintf(&b, "%s waitlist (%d): %s\n", typ, len(items), strings.Join(users, ", "))
	}

	unread := 0
	for _, n := range view.Notifications() {
		if !n.Read {
			unread++
		}
	}
	fmt.Fprintf(&b, "notifications: %d unread | %s", unread, status)
	if !at.IsZero() {
		fmt.Fprintf(&b, " | %s", at.Local().Format(time.TimeOnly))
	}
	return b.String()
}

func formatRemaining(seconds int) string {
	if seconds <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
