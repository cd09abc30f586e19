// Package notify posts operational notices (import completions and the
// like) to chat webhooks.
package notify

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/jigged/internal/config"
	"github.com/zulandar/jigged/internal/logging"
)

// Message is one notice.
type Message struct {
	Title    string
	Body     string
	Severity string // "info", "success", "warning", "error"
	Fields   []Field
}

// Field is a key-value pair shown under the message.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Notifier delivers messages.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Nop discards every message.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Message) error { return nil }

// Multi fans a message out to several notifiers and joins their errors.
type Multi []Notifier

// Notify sends msg to every notifier.
func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the notifiers configured in cfg. With none configured
// it returns Nop.
func FromConfig(cfg config.NotifyConfig, discordToken string, logger *logrus.Logger) Notifier {
	var out Multi
	if cfg.SlackWebhookURL != "" {
		out = append(out, NewSlack(cfg.SlackWebhookURL))
	}
	if cfg.DiscordWebhookID != "" {
		if discordToken == "" {
			logging.Component(logger, "notify").Warn("discord webhook id set without JIG_DISCORD_WEBHOOK_TOKEN; skipping")
		} else {
			out = append(out, NewDiscord(cfg.DiscordWebhookID, discordToken))
		}
	}
	if len(out) == 0 {
		return Nop{}
	}
	return out
}

func colorFor(severity string) string {
	switch severity {
	case "success":
		return "#36a64f"
	case "warning":
		return "#daa038"
	case "error":
		return "#a30200"
	default:
		return "#439fe0"
	}
}
