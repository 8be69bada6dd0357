package senders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/fiffu/registrywatch/lib/models"
)

type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type telegramSender struct {
	base
}

func (s *telegramSender) Validate(config []byte) error {
	c, err := decodeConfig[TelegramConfig](config)
	if err != nil {
		return err
	}
	switch {
	case c.BotToken == "":
		return errors.New("bot_token is required")
	case !strings.Contains(c.BotToken, ":"):
		return errors.New("bot_token is malformed")
	case c.ChatID == "":
		return errors.New("chat_id is required")
	}
	return nil
}

func (s *telegramSender) Send(ctx context.Context, ch *models.Channel, p *Payload) error {
	c, err := decodeConfig[TelegramConfig](ch.Config)
	if err != nil {
		return s.fail(ch, 0, err)
	}

	body, err := json.Marshal(map[string]any{
		"chat_id":                  c.ChatID,
		"text":                     telegramText(p),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	var res struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	target := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimSuffix(s.cfg.Telegram.APIBase, "/"), c.BotToken)
	if err := s.postJSON(ctx, ch, target, body, nil, &res); err != nil {
		return err
	}
	if !res.OK {
		return s.fail(ch, 0, fmt.Errorf("telegram rejected message: %s", res.Description))
	}
	return nil
}

func telegramText(p *Payload) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%s</b>\n%s", html.EscapeString(p.Title()), html.EscapeString(p.Summary()))
	if d := p.Description(); d != "" {
		fmt.Fprintf(&sb, "\n\n<i>%s</i>", html.EscapeString(d))
	}
	return sb.String()
}
