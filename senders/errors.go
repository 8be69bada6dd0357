package senders

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fiffu/registrywatch/lib/models"
)

// DeliveryError is one failed attempt to reach a channel. StatusCode is zero
// when no response was received.
type DeliveryError struct {
	ChannelID  string
	Type       models.ChannelType
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s channel %s: status %d: %v", e.Type, e.ChannelID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s channel %s: %v", e.Type, e.ChannelID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func readSnippet(res *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(res.Body, 256))
	s := strings.TrimSpace(string(b))
	if s == "" {
		return http.StatusText(res.StatusCode)
	}
	return s
}
