package controller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListStatusBulk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/servers", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"server_id":"a","running":true,"online_players":2},{"server_id":"b","running":false,"online_players":0}]`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "secret-token", BulkStatus: true})
	statuses, err := c.ListStatusBulk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Status{Running: true, PlayerCount: 2}, statuses["a"])
	assert.Equal(t, Status{Running: false, PlayerCount: 0}, statuses["b"])
}

func TestListStatusOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/servers/srv1/stats", r.URL.Path)
		w.Write([]byte(`{"running":true,"online_players":5}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "t"})
	s, err := c.ListStatusOne(context.Background(), "srv1")
	require.NoError(t, err)
	assert.Equal(t, Status{Running: true, PlayerCount: 5}, s)
}

func TestStartPostsAction(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/servers/srv1/action/start_server", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "t"})
	err := c.Start(context.Background(), "srv1")
	require.NoError(t, err)
	assert.True(t, called)
}

func TestUnauthorizedMapsToAuthDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "t"})
	err := c.Stop(context.Background(), "srv1")
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrKindAuthDenied))
}

func TestNotFoundMapsToNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "t"})
	_, err := c.ListStatusOne(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrKindNotFound))
}

func TestServerErrorMapsToTransientNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "t"})
	err := c.Start(context.Background(), "srv1")
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrKindTransientNetwork))
}

func TestMalformedJSONMapsToProtocol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "t"})
	_, err := c.ListStatusBulk(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrKindProtocol))
}
