package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// webhookExecutor is the discordgo call Discord uses.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts to a channel webhook.
type Discord struct {
	id, token string
	exec      webhookExecutor
}

// NewDiscord returns a notifier for the webhook id/token pair.
func NewDiscord(id, token string) *Discord {
	sess, _ := discordgo.New("")
	return &Discord{id: id, token: token, exec: sess}
}

// Notify posts msg as one embed.
func (d *Discord) Notify(ctx context.Context, msg Message) error {
	params := &discordgo.WebhookParams{
		Content: msg.Title,
		Embeds:  []*discordgo.MessageEmbed{toEmbed(msg)},
	}
	if _, err := d.exec.WebhookExecute(d.id, d.token, false, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("notify: discord: %w", err)
	}
	return nil
}

func toEmbed(msg Message) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Body,
		Color:       parseHexColor(colorFor(msg.Severity)),
	}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return embed
}

// parseHexColor converts "#36a64f" to 0x36a64f; invalid input gives 0.
func parseHexColor(hex string) int {
	v, err := strconv.ParseInt(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}
