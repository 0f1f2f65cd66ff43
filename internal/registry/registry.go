package registry

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/furchert/authd/internal/common/errorx"
	"github.com/furchert/authd/internal/record"
)

// Registry looks up and authenticates registered clients. It is a read-only
// view over the record store; client definitions are provisioned out of
// band and never mutated here.
type Registry struct {
	logger *zap.Logger
	store  record.Store
}

// New creates a client registry backed by the given store.
func New(logger *zap.Logger, store record.Store) *Registry {
	return &Registry{
		logger: logger.Named("registry"),
		store:  store,
	}
}

// Find retrieves a registered client by ID.
func (r *Registry) Find(ctx context.Context, clientID string) (*record.Client, error) {
	return r.store.GetClient(ctx, clientID)
}

// Authenticate verifies the presented client secret against the stored
// bcrypt hash. An unknown client and a wrong secret produce the same
// error so callers cannot probe which clients exist.
func (r *Registry) Authenticate(ctx context.Context, clientID, presentedSecret string) (*record.Client, error) {
	client, err := r.store.GetClient(ctx, clientID)
	if err != nil {
		// Burn a comparison anyway so the miss is not observably faster.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(presentedSecret))
		return nil, errorx.ErrInvalidClient
	}

	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(presentedSecret)); err != nil {
		r.logger.Warn("client authentication failed", zap.String("client_id", clientID))
		return nil, errorx.ErrInvalidClient
	}
	return client, nil
}

// SupportsGrant reports whether the client is allowed to use the grant type.
func (r *Registry) SupportsGrant(client *record.Client, grantType string) bool {
	for _, g := range client.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// AllowsScope reports whether the scope is in the client's allowed set.
func (r *Registry) AllowsScope(client *record.Client, scope string) bool {
	for _, s := range client.AllowedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Seed provisions clients that do not exist yet. Existing clients are left
// untouched; client ids are immutable after creation.
func (r *Registry) Seed(ctx context.Context, clients []*record.Client) error {
	for _, client := range clients {
		err := r.store.CreateClient(ctx, client)
		switch {
		case err == nil:
			r.logger.Info("seeded client", zap.String("client_id", client.ClientID))
		case err == errorx.ErrClientAlreadyExists:
			continue
		default:
			return err
		}
	}
	return nil
}

// dummyHash is a valid bcrypt hash of an unguessable value, used to keep
// authentication timing uniform for unknown clients.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")
