package senders

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fiffu/registrywatch/lib/models"
)

const SignatureHeader = "X-Signature"

type WebhookConfig struct {
	URL     string            `json:"url"`
	Secret  string            `json:"secret,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type webhookSender struct {
	base
}

func (s *webhookSender) Validate(config []byte) error {
	c, err := decodeConfig[WebhookConfig](config)
	if err != nil {
		return err
	}
	if err := validateURL("url", c.URL); err != nil {
		return err
	}
	for k := range c.Headers {
		if http.CanonicalHeaderKey(k) == SignatureHeader {
			return fmt.Errorf("headers must not override %s", SignatureHeader)
		}
	}
	return nil
}

// Send POSTs the payload as JSON. When the channel or the process has a
// secret, the raw body is signed into X-Signature on every attempt.
func (s *webhookSender) Send(ctx context.Context, ch *models.Channel, p *Payload) error {
	c, err := decodeConfig[WebhookConfig](ch.Config)
	if err != nil {
		return s.fail(ch, 0, err)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	headers := make(map[string]string, len(c.Headers)+1)
	for k, v := range c.Headers {
		headers[k] = v
	}
	secret := c.Secret
	if secret == "" {
		secret = s.cfg.Webhook.Secret
	}
	if secret != "" {
		headers[SignatureHeader] = Sign(secret, body)
	}

	return s.postJSON(ctx, ch, c.URL, body, headers, nil)
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
