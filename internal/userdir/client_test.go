package userdir

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/furchert/authd/internal/common/config"
	"github.com/furchert/authd/internal/common/errorx"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(zap.NewNop(), config.UserDirectoryConfig{
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
	})
}

func TestFindByUsername(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/search/findByUsername", r.URL.Path)
		assert.Equal(t, "alice", r.URL.Query().Get("username"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"username":"alice","passwordHash":"$2a$10$abc","role":"USER"}`))
	})

	user, err := c.FindByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "$2a$10$abc", user.PasswordHash)
	assert.Equal(t, "USER", user.Role)
}

func TestFindByUsername_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.FindByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, errorx.ErrNotFound)
}

func TestFindByUsername_EmptyBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := c.FindByUsername(context.Background(), "alice")
	assert.ErrorIs(t, err, errorx.ErrNotFound)
}

func TestFindByUsername_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.FindByUsername(context.Background(), "alice")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errorx.ErrNotFound)
}
