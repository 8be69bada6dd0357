package senders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/registrywatch/config"
	"github.com/fiffu/registrywatch/lib/models"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sender delivers payloads over one channel type.
type Sender interface {
	Send(ctx context.Context, ch *models.Channel, p *Payload) error

	// Validate checks a channel config before it is stored.
	Validate(config []byte) error
}

type Registry map[models.ChannelType]Sender

func NewSenderRegistry(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, transport http.RoundTripper) Registry {
	b := func(t models.ChannelType) base {
		return base{log: log, cfg: cfg, transport: transport, channelType: t, limiter: newLimiter(t)}
	}
	return Registry{
		models.ChannelWebhook:  &webhookSender{b(models.ChannelWebhook)},
		models.ChannelDiscord:  &discordSender{b(models.ChannelDiscord)},
		models.ChannelSlack:    &slackSender{b(models.ChannelSlack)},
		models.ChannelTeams:    &teamsSender{b(models.ChannelTeams)},
		models.ChannelTelegram: &telegramSender{b(models.ChannelTelegram)},
		models.ChannelEmail:    &mailgunSender{b(models.ChannelEmail)},
	}
}

func (r Registry) Send(ctx context.Context, ch *models.Channel, p *Payload) error {
	s, ok := r[ch.Type]
	if !ok {
		return fmt.Errorf("unsupported channel type: %s", ch.Type)
	}
	return s.Send(ctx, ch, p)
}

func (r Registry) Validate(channelType models.ChannelType, config []byte) error {
	s, ok := r[channelType]
	if !ok {
		return fmt.Errorf("unsupported channel type: %s", channelType)
	}
	return s.Validate(config)
}

// Outbound pacing per channel type, sized under each vendor's published limits.
var limits = map[models.ChannelType]struct {
	every time.Duration
	burst int
}{
	models.ChannelWebhook:  {50 * time.Millisecond, 20},
	models.ChannelDiscord:  {2 * time.Second, 5},
	models.ChannelSlack:    {time.Second, 3},
	models.ChannelTeams:    {time.Second, 4},
	models.ChannelTelegram: {40 * time.Millisecond, 10},
	models.ChannelEmail:    {100 * time.Millisecond, 10},
}

func newLimiter(t models.ChannelType) *rate.Limiter {
	l, ok := limits[t]
	if !ok {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(l.every), l.burst)
}

type base struct {
	log         *zap.Logger
	cfg         *config.Config
	transport   http.RoundTripper
	channelType models.ChannelType
	limiter     *rate.Limiter
}

// postJSON waits for the type's pacing, then POSTs body to target. Anything
// other than a 2xx answer becomes a *DeliveryError.
func (b *base) postJSON(ctx context.Context, ch *models.Channel, target string, body []byte, headers map[string]string, into any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return b.fail(ch, 0, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.HTTPTimeout)
	defer cancel()

	rb := requests.
		URL(target).
		Transport(b.transport).
		BodyBytes(body).
		ContentType("application/json").
		UserAgent("registrywatch/1.0").
		AddValidator(b.checkStatus(ch))
	for k, v := range headers {
		rb.Header(k, v)
	}
	if into != nil {
		rb.ToJSON(into)
	}

	if err := rb.Fetch(ctx); err != nil {
		var de *DeliveryError
		if errors.As(err, &de) {
			return de
		}
		return b.fail(ch, 0, err)
	}
	return nil
}

func (b *base) checkStatus(ch *models.Channel) requests.ResponseHandler {
	return func(res *http.Response) error {
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return nil
		}
		return b.fail(ch, res.StatusCode, errors.New(readSnippet(res)))
	}
}

func (b *base) fail(ch *models.Channel, status int, err error) *DeliveryError {
	return &DeliveryError{ChannelID: ch.ID, Type: b.channelType, StatusCode: status, Err: err}
}

func decodeConfig[T any](config []byte) (*T, error) {
	out := new(T)
	if err := json.Unmarshal(config, out); err != nil {
		return nil, fmt.Errorf("config is not valid JSON: %w", err)
	}
	return out, nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL", field)
	}
	return nil
}
