package email

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChangeEmail(t *testing.T) {
	ef := &ChangeEmailFormat{
		Subject:          "Server updated: io.acme.tool",
		Summary:          "io.acme.tool changed from 1.0 to 1.1.",
		Description:      "Tools for <acme> & friends",
		SubscriptionName: "acme",
		ServerName:       "io.acme.tool",
		ChangeType:       "updated",
		PreviousVersion:  "1.0",
		NewVersion:       "1.1",
		Timestamp:        time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC),
	}

	html := ef.HTMLBody()
	assert.Contains(t, html, "<h2>Server updated: io.acme.tool</h2>")
	assert.Contains(t, html, "Tools for &lt;acme&gt; &amp; friends")
	assert.Contains(t, html, "2026-01-02 03:04 UTC")

	text := ef.TextBody()
	assert.Contains(t, text, "Server updated: io.acme.tool\n")
	assert.Contains(t, text, "Tools for <acme> & friends")
	assert.Contains(t, text, "Previous version 1.0")
	assert.Contains(t, text, "New version 1.1")
}

func TestChangeEmail_TestHasNoTable(t *testing.T) {
	ef := &ChangeEmailFormat{Subject: "test", Summary: "hello", SubscriptionName: "s", Test: true}
	assert.NotContains(t, ef.HTMLBody(), "<table")
}

func TestPlainText(t *testing.T) {
	got := PlainText(`<html><body><h1>Title</h1><p>one
	two   three</p><p></p><ul><li>a</li><li>b</li></ul></body></html>`)
	assert.Equal(t, "Title\none two three\n\na\nb", got)
}
