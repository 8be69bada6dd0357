package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fiffu/registrywatch/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(url string, maxPages int) *Client {
	cfg := &config.Config{HTTPTimeout: 5 * time.Second}
	cfg.Registry.URL = url
	cfg.Registry.PageSize = 2
	cfg.Registry.MaxPages = maxPages
	return NewClient(cfg, zap.NewNop(), http.DefaultTransport)
}

func TestFetchAll_Pages(t *testing.T) {
	pages := map[string]string{
		"": `{"servers":[
			{"name":"a","version":"1.0","description":"first","capabilities":["tools"]},
			{"server":{"name":"b","version":"2.0"},"_meta":{"io.modelcontextprotocol.registry/official":{"updatedAt":"2026-01-02T00:00:00Z"}}}
		],"metadata":{"nextCursor":"p2"}}`,
		"p2": `{"servers":[{"name":"c","version":"3.0","capabilities":{"prompts":{}}}],"nextCursor":"p3"}`,
		"p3": `{"servers":[{"name":""}],"metadata":{"next_cursor":""}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/servers", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		body, ok := pages[r.URL.Query().Get("cursor")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	servers, err := newTestClient(srv.URL, 10).FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 3)

	assert.Equal(t, "a", servers[0].Name)
	assert.Equal(t, []string{"tools"}, servers[0].Capabilities)
	assert.Equal(t, "b", servers[1].Name)
	assert.Equal(t, "2.0", servers[1].Version)
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), servers[1].UpdatedAt.UTC())
	assert.Equal(t, []string{"prompts"}, servers[2].Capabilities)
}

func TestFetchAll_ErrorAbortsWholeFetch(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"servers":[{"name":"a"}],"nextCursor":"next"}`)
	}))
	defer srv.Close()

	servers, err := newTestClient(srv.URL, 10).FetchAll(context.Background())
	assert.Error(t, err)
	assert.Nil(t, servers)
}

func TestFetchAll_CursorLoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"servers":[],"nextCursor":"same"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 10).FetchAll(context.Background())
	assert.ErrorContains(t, err, "repeated")
}

func TestFetchAll_PageCeiling(t *testing.T) {
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"servers":[],"nextCursor":"c%d"}`, n.Add(1))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).FetchAll(context.Background())
	assert.ErrorContains(t, err, "more than 3 pages")
}
