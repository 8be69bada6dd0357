package senders

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"time"

	"github.com/fiffu/registrywatch/lib/models"
	"github.com/fiffu/registrywatch/senders/email"
	"github.com/mailgun/mailgun-go/v4"
)

type EmailConfig struct {
	Address string `json:"address"`
}

type mailgunSender struct {
	base
}

func (e *mailgunSender) Validate(config []byte) error {
	c, err := decodeConfig[EmailConfig](config)
	if err != nil {
		return err
	}
	if c.Address == "" {
		return errors.New("address is required")
	}
	if _, err := mail.ParseAddress(c.Address); err != nil {
		return errors.New("address is not a valid email address")
	}
	return nil
}

func (e *mailgunSender) Send(ctx context.Context, ch *models.Channel, p *Payload) error {
	c, err := decodeConfig[EmailConfig](ch.Config)
	if err != nil {
		return e.fail(ch, 0, err)
	}
	if e.cfg.Mailgun.Domain == "" || e.cfg.Mailgun.APIKey == "" {
		return e.fail(ch, 0, errors.New("mailgun is not configured"))
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return e.fail(ch, 0, err)
	}

	timeout := time.Duration(e.cfg.Mailgun.TimeoutSecs) * time.Second
	mg := mailgun.NewMailgun(e.cfg.Mailgun.Domain, e.cfg.Mailgun.APIKey)
	mg.SetClient(&http.Client{Transport: e.transport, Timeout: timeout})
	if e.cfg.Mailgun.APIBase != "" {
		mg.SetAPIBase(e.cfg.Mailgun.APIBase)
	}

	ef := emailFormat(p)
	// Text body first, then SetHtml so the MIME parts are assembled properly.
	message := mg.NewMessage(e.cfg.Mailgun.SenderFrom, ef.Subject, ef.TextBody(), c.Address)
	message.SetHtml(ef.HTMLBody())

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, id, err := mg.Send(ctx, message)
	if err != nil {
		status := mailgun.GetStatusFromErr(err)
		if status < 0 {
			status = 0
		}
		return e.fail(ch, status, err)
	}
	e.log.Sugar().Debugw("Queued email", "channel_id", ch.ID, "message_id", id)
	return nil
}

func emailFormat(p *Payload) *email.ChangeEmailFormat {
	return &email.ChangeEmailFormat{
		Subject:          "registrywatch: " + p.Title(),
		Summary:          p.Summary(),
		Description:      p.Description(),
		SubscriptionName: p.SubscriptionName,
		ServerName:       p.ServerName,
		ChangeType:       string(p.ChangeType),
		PreviousVersion:  p.PreviousVersion,
		NewVersion:       p.NewVersion,
		Timestamp:        p.Timestamp,
		Test:             p.IsTest(),
	}
}
