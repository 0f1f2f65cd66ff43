package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/furchert/authd/internal/common/config"
	"github.com/furchert/authd/internal/common/errorx"
	"github.com/furchert/authd/internal/grant"
	"github.com/furchert/authd/internal/record"
	"github.com/furchert/authd/internal/registry"
	"github.com/furchert/authd/internal/signer"
	"github.com/furchert/authd/pkg/metrics"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T, accessTTL time.Duration) (*Service, record.Store) {
	t.Helper()

	cfg := config.SignerConfig{
		Issuer:          "https://auth.local",
		SecretKey:       testSecret,
		AccessTokenTTL:  accessTTL,
		RefreshTokenTTL: 24 * time.Hour,
		CodeTTL:         10 * time.Minute,
	}

	logger := zap.NewNop()
	store := record.NewMemoryStore()
	reg := registry.New(logger, store)
	sgn, err := signer.New(cfg)
	require.NoError(t, err)
	ev := grant.New(logger, reg, store)
	svc := NewService(logger, store, reg, ev, sgn, metrics.New("authd"), cfg)
	return svc, store
}

func seedClient(t *testing.T, store record.Store, id, secret string, grants, scopes []string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, store.CreateClient(context.Background(), &record.Client{
		ClientID:      id,
		SecretHash:    string(hash),
		GrantTypes:    grants,
		RedirectURIs:  []string{"https://app.local/cb"},
		AllowedScopes: scopes,
	}))
}

func TestIssue_ClientCredentials(t *testing.T) {
	svc, store := newTestService(t, time.Hour)
	seedClient(t, store, "device", "secret", []string{grant.TypeClientCredentials}, []string{"telemetry", "status"})
	ctx := context.Background()

	resp, err := svc.Issue(ctx, grant.Request{
		GrantType:    grant.TypeClientCredentials,
		ClientID:     "device",
		ClientSecret: "secret",
		Scopes:       []string{"telemetry"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "telemetry", resp.Scope)
	// No refresh token for client credentials.
	assert.Empty(t, resp.RefreshToken)

	v, err := svc.Validate(ctx, resp.AccessToken)
	require.NoError(t, err)
	require.True(t, v.Active)
	assert.Equal(t, "device", v.Claims.Subject)
	assert.Equal(t, []string{"telemetry"}, v.Claims.Scopes)

	rec, err := store.FindByAccessToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, v.Claims.ID, rec.ID)
}

func TestAuthorizationCodeFlow_EndToEnd(t *testing.T) {
	svc, store := newTestService(t, time.Hour)
	seedClient(t, store, "web", "secret",
		[]string{grant.TypeAuthorizationCode, grant.TypeRefreshToken},
		[]string{"openid", "profile"})
	ctx := context.Background()

	code, err := svc.BeginAuthorization(ctx, "web", "https://app.local/cb", "alice", []string{"openid"})
	require.NoError(t, err)
	require.NotEmpty(t, code)

	resp, err := svc.Issue(ctx, grant.Request{
		GrantType:    grant.TypeAuthorizationCode,
		ClientID:     "web",
		ClientSecret: "secret",
		Code:         code,
		RedirectURI:  "https://app.local/cb",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	v, err := svc.Validate(ctx, resp.AccessToken)
	require.NoError(t, err)
	require.True(t, v.Active)
	assert.Equal(t, "alice", v.Claims.Subject)

	// The code is single-use.
	_, err = svc.Issue(ctx, grant.Request{
		GrantType:    grant.TypeAuthorizationCode,
		ClientID:     "web",
		ClientSecret: "secret",
		Code:         code,
		RedirectURI:  "https://app.local/cb",
	})
	assert.ErrorIs(t, err, errorx.ErrInvalidGrant)
}

func TestBeginAuthorization_Rejections(t *testing.T) {
	svc, store := newTestService(t, time.Hour)
	seedClient(t, store, "web", "secret", []string{grant.TypeAuthorizationCode}, []string{"openid"})
	seedClient(t, store, "device", "secret", []string{grant.TypeClientCredentials}, []string{"telemetry"})
	ctx := context.Background()

	_, err := svc.BeginAuthorization(ctx, "ghost", "https://app.local/cb", "alice", nil)
	assert.ErrorIs(t, err, errorx.ErrInvalidClient)

	_, err = svc.BeginAuthorization(ctx, "device", "https://app.local/cb", "alice", nil)
	assert.ErrorIs(t, err, errorx.ErrUnauthorizedClient)

	_, err = svc.BeginAuthorization(ctx, "web", "https://evil.local/cb", "alice", nil)
	assert.ErrorIs(t, err, errorx.ErrInvalidRequest)

	_, err = svc.BeginAuthorization(ctx, "web", "https://app.local/cb", "alice", []string{"admin"})
	assert.ErrorIs(t, err, errorx.ErrInvalidScope)
}

func TestRefresh_RotatesAndInvalidatesOldToken(t *testing.T) {
	svc, store := newTestService(t, time.Hour)
	seedClient(t, store, "web", "secret",
		[]string{grant.TypeAuthorizationCode, grant.TypeRefreshToken},
		[]string{"openid"})
	ctx := context.Background()

	code, err := svc.BeginAuthorization(ctx, "web", "https://app.local/cb", "alice", []string{"openid"})
	require.NoError(t, err)
	first, err := svc.Issue(ctx, grant.Request{
		GrantType:    grant.TypeAuthorizationCode,
		ClientID:     "web",
		ClientSecret: "secret",
		Code:         code,
		RedirectURI:  "https://app.local/cb",
	})
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, "web", "secret", first.RefreshToken, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	// The subject carries over to the rotated record.
	v, err := svc.Validate(ctx, second.AccessToken)
	require.NoError(t, err)
	require.True(t, v.Active)
	assert.Equal(t, "alice", v.Claims.Subject)

	// Replay of the old refresh token fails; the new one still works.
	_, err = svc.Refresh(ctx, "web", "secret", first.RefreshToken, nil)
	assert.ErrorIs(t, err, errorx.ErrInvalidGrant)
	third, err := svc.Refresh(ctx, "web", "secret", second.RefreshToken, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, third.AccessToken)
}

func TestRefresh_ConcurrentRace_ExactlyOneWins(t *testing.T) {
	svc, store := newTestService(t, time.Hour)
	seedClient(t, store, "web", "secret",
		[]string{grant.TypeAuthorizationCode, grant.TypeRefreshToken},
		[]string{"openid"})
	ctx := context.Background()

	code, err := svc.BeginAuthorization(ctx, "web", "https://app.local/cb", "alice", nil)
	require.NoError(t, err)
	first, err := svc.Issue(ctx, grant.Request{
		GrantType:    grant.TypeAuthorizationCode,
		ClientID:     "web",
		ClientSecret: "secret",
		Code:         code,
		RedirectURI:  "https://app.local/cb",
	})
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(ctx, "web", "secret", first.RefreshToken, nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, errorx.ErrInvalidGrant)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestValidate_Expired(t *testing.T) {
	svc, store := newTestService(t, time.Millisecond)
	seedClient(t, store, "device", "secret", []string{grant.TypeClientCredentials}, []string{"telemetry"})
	ctx := context.Background()

	resp, err := svc.Issue(ctx, grant.Request{
		GrantType:    grant.TypeClientCredentials,
		ClientID:     "device",
		ClientSecret: "secret",
	})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	v, err := svc.Validate(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.False(t, v.Active)
	assert.Equal(t, ReasonExpired, v.Reason)
}

func TestValidate_GarbageToken(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	v, err := svc.Validate(context.Background(), "garbage")
	require.NoError(t, err)
	assert.False(t, v.Active)
	assert.Equal(t, ReasonMalformed, v.Reason)
}

func TestRevoke_ImmediatelyInvalidatesValidSignature(t *testing.T) {
	svc, store := newTestService(t, time.Hour)
	seedClient(t, store, "device", "secret", []string{grant.TypeClientCredentials}, []string{"telemetry"})
	ctx := context.Background()

	resp, err := svc.Issue(ctx, grant.Request{
		GrantType:    grant.TypeClientCredentials,
		ClientID:     "device",
		ClientSecret: "secret",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, resp.AccessToken))

	v, err := svc.Validate(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.False(t, v.Active)
	assert.Equal(t, ReasonRevoked, v.Reason)

	// Revoke is idempotent.
	assert.NoError(t, svc.Revoke(ctx, resp.AccessToken))

	// Unknown token values are the only failure.
	assert.ErrorIs(t, svc.Revoke(ctx, "never-issued"), errorx.ErrNotFound)
}

func TestRevoke_ByRefreshTokenValue(t *testing.T) {
	svc, store := newTestService(t, time.Hour)
	seedClient(t, store, "web", "secret",
		[]string{grant.TypeAuthorizationCode, grant.TypeRefreshToken},
		[]string{"openid"})
	ctx := context.Background()

	code, err := svc.BeginAuthorization(ctx, "web", "https://app.local/cb", "alice", nil)
	require.NoError(t, err)
	resp, err := svc.Issue(ctx, grant.Request{
		GrantType:    grant.TypeAuthorizationCode,
		ClientID:     "web",
		ClientSecret: "secret",
		Code:         code,
		RedirectURI:  "https://app.local/cb",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, resp.RefreshToken))

	// The whole record is gone: refresh fails and the access token is dead.
	_, err = svc.Refresh(ctx, "web", "secret", resp.RefreshToken, nil)
	assert.ErrorIs(t, err, errorx.ErrInvalidGrant)
	v, err := svc.Validate(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.False(t, v.Active)
}
