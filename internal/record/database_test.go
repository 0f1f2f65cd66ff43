package record

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/furchert/authd/internal/common/config"
	"github.com/furchert/authd/internal/common/errorx"
)

func newTestDatabaseStore(t *testing.T) *DatabaseStore {
	t.Helper()
	s, err := NewSQLiteStore(&config.DatabaseConfig{DBName: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDatabaseStore_Clients(t *testing.T) {
	s := newTestDatabaseStore(t)
	ctx := context.Background()

	c := &Client{
		ClientID:      "cli-db",
		SecretHash:    "$2a$10$hash",
		GrantTypes:    []string{"authorization_code", "refresh_token"},
		RedirectURIs:  []string{"https://app.local/cb"},
		AllowedScopes: []string{"openid", "profile"},
	}
	require.NoError(t, s.CreateClient(ctx, c))

	got, err := s.GetClient(ctx, "cli-db")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://app.local/cb"}, got.RedirectURIs)
	assert.Equal(t, []string{"openid", "profile"}, got.AllowedScopes)

	_, err = s.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, errorx.ErrInvalidClient)
}

func TestDatabaseStore_FindersAndResolve(t *testing.T) {
	s := newTestDatabaseStore(t)
	ctx := context.Background()

	rec := newActiveRecord("r-db")
	rec.Code = "code-db"
	rec.CodeExpiry = time.Now().Add(10 * time.Minute).Unix()
	require.NoError(t, s.CreateRecord(ctx, rec))

	byCode, err := s.FindByCode(ctx, "code-db")
	require.NoError(t, err)
	assert.Equal(t, "r-db", byCode.ID)
	assert.Equal(t, []string{"openid"}, byCode.GrantedScopes)

	require.NoError(t, s.Transition(ctx, "r-db", StatusActive, StatusRevoked))

	_, err = s.FindByCode(ctx, "code-db")
	assert.ErrorIs(t, err, errorx.ErrNotFound)
	_, err = s.FindByAccessToken(ctx, "at-r-db")
	assert.ErrorIs(t, err, errorx.ErrNotFound)

	id, err := s.Resolve(ctx, "at-r-db")
	require.NoError(t, err)
	assert.Equal(t, "r-db", id)

	// Empty token values never match the empty columns of other records.
	_, err = s.Resolve(ctx, "")
	assert.ErrorIs(t, err, errorx.ErrNotFound)
}

func TestDatabaseStore_TransitionIsConditional(t *testing.T) {
	s := newTestDatabaseStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRecord(ctx, newActiveRecord("r-db")))

	assert.ErrorIs(t, s.Transition(ctx, "ghost", StatusActive, StatusConsumed), errorx.ErrNotFound)

	require.NoError(t, s.Transition(ctx, "r-db", StatusActive, StatusConsumed))
	assert.ErrorIs(t, s.Transition(ctx, "r-db", StatusActive, StatusConsumed), ErrInvalidStateTransition)
	assert.ErrorIs(t, s.Transition(ctx, "r-db", StatusConsumed, StatusRevoked), ErrInvalidStateTransition)
}

func TestDatabaseStore_ConcurrentConsume_ExactlyOneWins(t *testing.T) {
	s := newTestDatabaseStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRecord(ctx, newActiveRecord("r-race")))

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.Transition(ctx, "r-race", StatusActive, StatusConsumed)
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestDatabaseStore_PurgeExpired(t *testing.T) {
	s := newTestDatabaseStore(t)
	ctx := context.Background()

	old := newActiveRecord("r-old")
	old.AccessTokenExpiry = time.Now().Add(-72 * time.Hour).Unix()
	old.RefreshTokenExpiry = time.Now().Add(-72 * time.Hour).Unix()
	require.NoError(t, s.CreateRecord(ctx, old))
	require.NoError(t, s.CreateRecord(ctx, newActiveRecord("r-new")))

	purged, err := s.PurgeExpired(ctx, time.Now(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = s.GetRecord(ctx, "r-old")
	assert.ErrorIs(t, err, errorx.ErrNotFound)
	_, err = s.GetRecord(ctx, "r-new")
	assert.NoError(t, err)
}
