// Package registry fetches the upstream server catalog.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/registrywatch/config"
	"github.com/fiffu/registrywatch/lib/models"
	"go.uber.org/zap"
)

type Client struct {
	baseURL   string
	pageSize  int
	maxPages  int
	timeout   time.Duration
	transport http.RoundTripper
	log       *zap.Logger
}

func NewClient(cfg *config.Config, log *zap.Logger, transport http.RoundTripper) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(cfg.Registry.URL, "/"),
		pageSize:  cfg.Registry.PageSize,
		maxPages:  cfg.Registry.MaxPages,
		timeout:   cfg.HTTPTimeout,
		transport: transport,
		log:       log,
	}
}

// page accepts both flat server entries and entries wrapped as
// {"server": {...}, "_meta": {...}}, and the cursor at either level.
type page struct {
	Servers    []entry `json:"servers"`
	NextCursor string  `json:"nextCursor"`
	Metadata   struct {
		NextCursor      string `json:"nextCursor"`
		NextCursorSnake string `json:"next_cursor"`
	} `json:"metadata"`
}

func (p *page) cursor() string {
	switch {
	case p.NextCursor != "":
		return p.NextCursor
	case p.Metadata.NextCursor != "":
		return p.Metadata.NextCursor
	}
	return p.Metadata.NextCursorSnake
}

type entry struct {
	wireServer
	Server *wireServer `json:"server"`
	Meta   struct {
		Official struct {
			PublishedAt time.Time `json:"publishedAt"`
			UpdatedAt   time.Time `json:"updatedAt"`
		} `json:"io.modelcontextprotocol.registry/official"`
	} `json:"_meta"`
}

type wireServer struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Version      string          `json:"version"`
	Capabilities json.RawMessage `json:"capabilities"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (e *entry) toServer() models.Server {
	w := e.wireServer
	if e.Server != nil {
		w = *e.Server
	}
	s := models.Server{
		Name:         w.Name,
		Description:  w.Description,
		Version:      w.Version,
		Capabilities: capabilities(w.Capabilities),
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = e.Meta.Official.PublishedAt
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = e.Meta.Official.UpdatedAt
	}
	return s
}

// capabilities reads either a list of names or an object keyed by name.
func capabilities(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		out := make([]string, 0, len(obj))
		for k := range obj {
			out = append(out, k)
		}
		return out
	}
	return nil
}

// FetchAll walks the cursor chain and returns every server. Any failed page
// fails the whole fetch, so callers never see a partial catalog.
func (c *Client) FetchAll(ctx context.Context) ([]models.Server, error) {
	var servers []models.Server
	seen := map[string]bool{}
	cursor := ""

	for pages := 0; ; pages++ {
		if pages >= c.maxPages {
			return nil, fmt.Errorf("registry: more than %d pages", c.maxPages)
		}

		p, err := c.fetchPage(ctx, cursor)
		if err != nil {
			return nil, err
		}
		for i := range p.Servers {
			s := p.Servers[i].toServer()
			if s.Name == "" {
				continue
			}
			servers = append(servers, s)
		}

		next := p.cursor()
		if next == "" {
			break
		}
		if seen[next] {
			return nil, fmt.Errorf("registry: cursor %q repeated", next)
		}
		seen[next] = true
		cursor = next
	}

	c.log.Sugar().Debugw("Fetched registry", "servers", len(servers))
	return servers, nil
}

func (c *Client) fetchPage(ctx context.Context, cursor string) (*page, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rb := requests.
		URL(c.baseURL+"/v0/servers").
		Param("limit", strconv.Itoa(c.pageSize)).
		Transport(c.transport).
		Accept("application/json")
	if cursor != "" {
		rb.Param("cursor", cursor)
	}

	p := &page{}
	if err := rb.ToJSON(p).Fetch(ctx); err != nil {
		return nil, fmt.Errorf("registry: fetch page: %w", err)
	}
	return p, nil
}
