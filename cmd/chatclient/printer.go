package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"ngabarin/messaging/internal/messenger"
	"ngabarin/messaging/internal/models"
	"ngabarin/messaging/internal/reconciler"
	"ngabarin/messaging/internal/typing"
)

func renderList(w io.Writer, snap reconciler.ListSnapshot, me int64) {
	if snap.Err != nil {
		fmt.Fprintf(w, "! %v\n", snap.Err)
	}
	if len(snap.Conversations) == 0 {
		fmt.Fprintln(w, "no conversations")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tUNREAD\tLAST MESSAGE")
	for _, c := range snap.Conversations {
		last := ""
		if c.LastMessage != nil {
			last = preview(c.LastMessage.Text, 40)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", c.ID, c.DisplayName(me), badge(c.UnreadCount), last)
	}
	tw.Flush()

	if snap.Search == "" {
		fmt.Fprintf(w, "%s unread in total\n", badge(snap.TotalUnread))
	}
}

func badge(n int) string {
	switch {
	case n <= 0:
		return "-"
	case n > 99:
		return "99+"
	default:
		return fmt.Sprint(n)
	}
}

func preview(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-1]) + "…"
}

func typingLine(users []typing.User) string {
	switch len(users) {
	case 0:
		return ""
	case 1:
		return users[0].Name + " is typing…"
	case 2:
		return users[0].Name + " and " + users[1].Name + " are typing…"
	default:
		return fmt.Sprintf("%d people are typing…", len(users))
	}
}

// printer writes each message of a conversation once, plus state changes.
type printer struct {
	w io.Writer

	mu        sync.Mutex
	printed   map[int64]struct{}
	state     reconciler.State
	typing    string
	connected bool
	date      string
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, printed: make(map[int64]struct{}), connected: true}
}

func (p *printer) render(s reconciler.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.State != p.state {
		p.state = s.State
		switch s.State {
		case reconciler.StateLoading:
			fmt.Fprintln(p.w, "… loading")
		case reconciler.StateFailed:
			fmt.Fprintf(p.w, "! %v (type /retry)\n", s.Err)
		}
	}

	for _, m := range s.Messages {
		if _, ok := p.printed[m.ID]; ok {
			continue
		}
		p.printed[m.ID] = struct{}{}

		if m.Date != p.date {
			p.date = m.Date
			fmt.Fprintf(p.w, "── %s ──\n", m.Date)
		}
		who := m.SenderName
		if m.Mine {
			who = "you"
		}
		fmt.Fprintf(p.w, "[%s] %s: %s\n", m.Time, who, m.Body)
	}

	if line := typingLine(s.Typing); line != p.typing {
		p.typing = line
		if line != "" {
			fmt.Fprintln(p.w, "  "+line)
		}
	}

	if s.Connected != p.connected {
		p.connected = s.Connected
		if s.Connected {
			fmt.Fprintln(p.w, "~ reconnected")
		} else {
			fmt.Fprintln(p.w, "~ offline, reconnecting")
		}
	}
}

// alerts prints messages that arrive outside the followed conversation.
type alerts struct {
	w io.Writer
}

func (n alerts) Notify(msg models.Message) {
	fmt.Fprintf(n.w, "* new message in %d from %s: %s\n", msg.ConversationID, msg.SenderName, preview(msg.Body, 40))
}

func withAlerts(w io.Writer) messenger.Option {
	return messenger.WithNotifier(alerts{w: w})
}
