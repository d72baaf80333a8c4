package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ngabarin/messaging/internal/reconciler"
	"ngabarin/messaging/internal/utils"
)

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func newListCmd(a *app) *cobra.Command {
	var search string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations with unread badges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Logout()

			list := m.List()
			if search != "" {
				if err := list.Refresh(cmd.Context(), search); err != nil {
					return err
				}
			}
			renderList(cmd.OutOrStdout(), list.Snapshot(), m.Session().UserID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&search, "search", "s", "", "filter by name")
	return cmd
}

func newFollowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "follow <conversation-id>",
		Short: "Follow a conversation live; type to send, /older for history, /retry or /resend after a failure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			m, err := a.login(cmd.Context(), withAlerts(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer m.Logout()

			conv, err := m.Open(cmd.Context(), id)
			if err != nil {
				fmt.Fprintf(out, "! %v (type /retry)\n", err)
			}

			p := newPrinter(out)
			cancel := conv.OnChange(p.render)
			defer cancel()
			p.render(conv.Snapshot())

			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					lines <- scanner.Text()
				}
			}()

			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					handleLine(cmd, conv, line)
				}
			}
		},
	}
}

func handleLine(cmd *cobra.Command, conv *reconciler.Conversation, line string) {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	switch strings.TrimSpace(line) {
	case "":
		conv.SetDraft("")
	case "/older":
		if err := conv.LoadOlder(ctx); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	case "/retry":
		if err := conv.Retry(ctx); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	case "/resend":
		text := conv.Snapshot().FailedText
		if text == "" {
			fmt.Fprintln(out, "nothing to resend")
			return
		}
		send(ctx, out, conv, text)
	default:
		conv.SetDraft(line)
		send(ctx, out, conv, line)
	}
}

func send(ctx context.Context, out io.Writer, conv *reconciler.Conversation, text string) {
	if _, err := conv.Send(ctx, text); err != nil {
		fmt.Fprintf(out, "! %v (type /resend to try again)\n", err)
	}
}

func newSendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation-id> <message...>",
		Short: "Send one message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			m, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Logout()

			conv, err := m.Open(cmd.Context(), id)
			if err != nil {
				return err
			}

			msg, err := conv.Send(cmd.Context(), strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent #%d at %s\n", msg.ID, msg.CreatedAt.Local().Format("15:04"))
			return nil
		},
	}
}

func newStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start <user-id>",
		Short: "Find or create the direct conversation with a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID(args[0])
			if err != nil {
				return err
			}

			m, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Logout()

			res, err := m.List().FindOrCreate(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "conversation %d with %s (%d messages)\n",
				res.Conversation.ID, res.Conversation.DisplayName(m.Session().UserID), len(res.Messages))
			return nil
		},
	}
}

func newLeaveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "leave <conversation-id>",
		Short: "Leave a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			m, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Logout()

			if err := m.Leave(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "left conversation %d\n", id)
			return nil
		},
	}
}

func newReadAllCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read-all",
		Short: "Mark every conversation as read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Logout()

			if err := m.MarkAllRead(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all conversations marked as read")
			return nil
		},
	}
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		name string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a development token with the server's JWT secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID(args[0])
			if err != nil {
				return err
			}

			tokens, err := utils.NewTokenManager(a.cfg.Server.JWTSecret, ttl)
			if err != nil {
				return err
			}
			token, err := tokens.GenerateToken(userID, name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name carried in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
