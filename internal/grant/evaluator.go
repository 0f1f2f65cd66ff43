package grant

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/furchert/authd/internal/common/errorx"
	"github.com/furchert/authd/internal/record"
	"github.com/furchert/authd/internal/registry"
)

// Grant types exercised by the engine.
const (
	TypeAuthorizationCode = "authorization_code"
	TypeRefreshToken      = "refresh_token"
	TypeClientCredentials = "client_credentials"
)

// Request is a parsed token request.
type Request struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	// authorization_code
	Code        string
	RedirectURI string

	// refresh_token
	RefreshToken string

	// requested scopes (client_credentials always, refresh_token optional)
	Scopes []string
}

// Outcome is a positive grant decision: who the token is for, which scopes
// it carries, and whether a refresh token accompanies it. ConsumedRecordID
// names the record spent to produce this outcome, if any.
type Outcome struct {
	Client           *record.Client
	Subject          string
	Scopes           []string
	IncludeRefresh   bool
	ConsumedRecordID string
}

// Evaluator decides, per grant type, whether to authorize issuance and what
// claims to embed. Consuming a code or refresh token goes through the
// store's compare-and-transition, so concurrent double-spends lose here.
type Evaluator struct {
	logger   *zap.Logger
	registry *registry.Registry
	store    record.Store
}

// New creates a grant evaluator.
func New(logger *zap.Logger, reg *registry.Registry, store record.Store) *Evaluator {
	return &Evaluator{
		logger:   logger.Named("grant"),
		registry: reg,
		store:    store,
	}
}

// Evaluate authenticates the client and runs the grant-specific checks.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (*Outcome, error) {
	client, err := e.registry.Authenticate(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	if !e.registry.SupportsGrant(client, req.GrantType) {
		e.logger.Warn("grant type not permitted for client",
			zap.String("client_id", client.ClientID),
			zap.String("grant_type", req.GrantType))
		return nil, errorx.ErrUnauthorizedClient
	}

	switch req.GrantType {
	case TypeAuthorizationCode:
		return e.evaluateAuthorizationCode(ctx, client, req)
	case TypeRefreshToken:
		return e.evaluateRefreshToken(ctx, client, req)
	case TypeClientCredentials:
		return e.evaluateClientCredentials(client, req)
	default:
		return nil, errorx.ErrUnsupportedGrantType
	}
}

func (e *Evaluator) evaluateAuthorizationCode(ctx context.Context, client *record.Client, req Request) (*Outcome, error) {
	rec, err := e.store.FindByCode(ctx, req.Code)
	if err != nil {
		return nil, errorx.ErrInvalidGrant
	}

	if rec.ClientID != client.ClientID {
		return nil, errorx.ErrInvalidGrant
	}
	if time.Now().Unix() > rec.CodeExpiry {
		return nil, errorx.ErrInvalidGrant
	}
	// Exact match only; a prefix match would let a hostile redirect
	// target capture the code.
	if rec.RedirectURI != req.RedirectURI {
		return nil, errorx.ErrInvalidGrant
	}

	if err := e.consume(ctx, rec.ID); err != nil {
		return nil, err
	}

	return &Outcome{
		Client:           client,
		Subject:          rec.Subject,
		Scopes:           intersect(rec.GrantedScopes, client.AllowedScopes),
		IncludeRefresh:   true,
		ConsumedRecordID: rec.ID,
	}, nil
}

func (e *Evaluator) evaluateRefreshToken(ctx context.Context, client *record.Client, req Request) (*Outcome, error) {
	rec, err := e.store.FindByRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, errorx.ErrInvalidGrant
	}

	// A token issued to another client fails as invalid_grant, not
	// invalid_client, to avoid confirming the token exists.
	if rec.ClientID != client.ClientID {
		return nil, errorx.ErrInvalidGrant
	}
	if time.Now().Unix() > rec.RefreshTokenExpiry {
		return nil, errorx.ErrInvalidGrant
	}

	scopes := rec.GrantedScopes
	if len(req.Scopes) > 0 {
		if !subset(req.Scopes, rec.GrantedScopes) {
			return nil, errorx.ErrInvalidScope
		}
		scopes = req.Scopes
	}

	// Rotation: the old record is consumed before anything is minted, so
	// a replay of the old refresh token can never succeed again.
	if err := e.consume(ctx, rec.ID); err != nil {
		return nil, err
	}

	return &Outcome{
		Client:           client,
		Subject:          rec.Subject,
		Scopes:           scopes,
		IncludeRefresh:   true,
		ConsumedRecordID: rec.ID,
	}, nil
}

func (e *Evaluator) evaluateClientCredentials(client *record.Client, req Request) (*Outcome, error) {
	scopes := client.AllowedScopes
	if len(req.Scopes) > 0 {
		if !subset(req.Scopes, client.AllowedScopes) {
			return nil, errorx.ErrInvalidScope
		}
		scopes = req.Scopes
	}

	return &Outcome{
		Client:         client,
		Subject:        client.ClientID,
		Scopes:         scopes,
		IncludeRefresh: false,
	}, nil
}

// consume marks a record CONSUMED. Losing the compare-and-transition race
// means another request spent the artifact first; that caller sees a plain
// invalid_grant.
func (e *Evaluator) consume(ctx context.Context, id string) error {
	err := e.store.Transition(ctx, id, record.StatusActive, record.StatusConsumed)
	if err == nil {
		return nil
	}
	if errors.Is(err, record.ErrInvalidStateTransition) || errors.Is(err, errorx.ErrNotFound) {
		e.logger.Info("lost consume race", zap.String("record_id", id))
		return errorx.ErrInvalidGrant
	}
	return err
}
