package senders

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fiffu/registrywatch/lib/models"
)

// ChatWebhookConfig is shared by vendors that accept an incoming-webhook URL.
type ChatWebhookConfig struct {
	WebhookURL string `json:"webhook_url"`
}

func validateChatWebhook(config []byte) error {
	c, err := decodeConfig[ChatWebhookConfig](config)
	if err != nil {
		return err
	}
	return validateURL("webhook_url", c.WebhookURL)
}

func (b *base) sendChat(ctx context.Context, ch *models.Channel, body any) error {
	c, err := decodeConfig[ChatWebhookConfig](ch.Config)
	if err != nil {
		return b.fail(ch, 0, err)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", b.channelType, err)
	}
	return b.postJSON(ctx, ch, c.WebhookURL, raw, nil, nil)
}

// facts lists the version details shown by every chat renderer.
func facts(p *Payload) [][2]string {
	var out [][2]string
	if p.ServerName != "" {
		out = append(out, [2]string{"Server", p.ServerName})
	}
	if p.PreviousVersion != "" {
		out = append(out, [2]string{"Previous version", p.PreviousVersion})
	}
	if p.NewVersion != "" {
		out = append(out, [2]string{"New version", p.NewVersion})
	}
	out = append(out, [2]string{"Subscription", p.SubscriptionName})
	return out
}

type discordSender struct {
	base
}

func (s *discordSender) Validate(config []byte) error { return validateChatWebhook(config) }

func (s *discordSender) Send(ctx context.Context, ch *models.Channel, p *Payload) error {
	type field struct {
		Name   string `json:"name"`
		Value  string `json:"value"`
		Inline bool   `json:"inline"`
	}
	var fields []field
	for _, f := range facts(p) {
		fields = append(fields, field{f[0], f[1], true})
	}

	description := p.Summary()
	if d := p.Description(); d != "" {
		description += "\n\n" + d
	}

	return s.sendChat(ctx, ch, map[string]any{
		"username": "registrywatch",
		"embeds": []map[string]any{{
			"title":       p.Title(),
			"description": description,
			"color":       p.color(),
			"fields":      fields,
			"timestamp":   p.Timestamp,
		}},
	})
}

type slackSender struct {
	base
}

func (s *slackSender) Validate(config []byte) error { return validateChatWebhook(config) }

func (s *slackSender) Send(ctx context.Context, ch *models.Channel, p *Payload) error {
	text := map[string]string{"type": "mrkdwn", "text": p.Summary()}
	var fields []map[string]string
	for _, f := range facts(p) {
		fields = append(fields, map[string]string{"type": "mrkdwn", "text": fmt.Sprintf("*%s*\n%s", f[0], f[1])})
	}

	blocks := []map[string]any{
		{"type": "header", "text": map[string]string{"type": "plain_text", "text": p.Title()}},
		{"type": "section", "text": text, "fields": fields},
	}
	if d := p.Description(); d != "" {
		blocks = append(blocks, map[string]any{
			"type":     "context",
			"elements": []map[string]string{{"type": "mrkdwn", "text": d}},
		})
	}

	return s.sendChat(ctx, ch, map[string]any{
		"text":   p.Title(),
		"blocks": blocks,
	})
}

type teamsSender struct {
	base
}

func (s *teamsSender) Validate(config []byte) error { return validateChatWebhook(config) }

func (s *teamsSender) Send(ctx context.Context, ch *models.Channel, p *Payload) error {
	var list []map[string]string
	for _, f := range facts(p) {
		list = append(list, map[string]string{"name": f[0], "value": f[1]})
	}

	return s.sendChat(ctx, ch, map[string]any{
		"@type":      "MessageCard",
		"@context":   "https://schema.org/extensions",
		"summary":    p.Title(),
		"themeColor": fmt.Sprintf("%06X", p.color()),
		"title":      p.Title(),
		"sections": []map[string]any{{
			"activityTitle": p.Summary(),
			"text":          p.Description(),
			"facts":         list,
		}},
	})
}
