package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/furchert/authd/internal/common/config"
	"github.com/furchert/authd/internal/common/errorx"
	"github.com/furchert/authd/internal/grant"
	"github.com/furchert/authd/internal/record"
	"github.com/furchert/authd/internal/registry"
	"github.com/furchert/authd/internal/signer"
	"github.com/furchert/authd/pkg/metrics"
)

// Response is the token endpoint wire shape.
type Response struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Validation is the outcome of validating a token. Reason records why an
// inactive token was rejected; it feeds logs and metrics but must not be
// returned to untrusted callers.
type Validation struct {
	Active bool
	Claims *signer.Claims
	Reason string
}

// Validation reasons.
const (
	ReasonValid     = "valid"
	ReasonMalformed = "malformed"
	ReasonBadSig    = "invalid_signature"
	ReasonExpired   = "expired"
	ReasonUnknown   = "unknown_token"
	ReasonRevoked   = "revoked"
	ReasonConsumed  = "consumed"
)

// Service orchestrates grant evaluation, signing and record persistence.
type Service struct {
	logger     *zap.Logger
	store      record.Store
	registry   *registry.Registry
	evaluator  *grant.Evaluator
	signer     *signer.Signer
	metrics    *metrics.Metrics
	refreshTTL time.Duration
	codeTTL    time.Duration
}

// NewService creates the token service.
func NewService(logger *zap.Logger, store record.Store, reg *registry.Registry, evaluator *grant.Evaluator, sgn *signer.Signer, m *metrics.Metrics, cfg config.SignerConfig) *Service {
	return &Service{
		logger:     logger.Named("token"),
		store:      store,
		registry:   reg,
		evaluator:  evaluator,
		signer:     sgn,
		metrics:    m,
		refreshTTL: cfg.RefreshTokenTTL,
		codeTTL:    cfg.CodeTTL,
	}
}

// Issue evaluates a grant request and, if authorized, mints a new token
// pair and persists its authorization record. A consumed code or refresh
// token is already terminal by the time anything is minted, so a failure
// here never resurrects it.
func (s *Service) Issue(ctx context.Context, req grant.Request) (*Response, error) {
	out, err := s.evaluator.Evaluate(ctx, req)
	if err != nil {
		s.metrics.GrantFailed(req.GrantType, failureReason(err))
		s.logger.Info("grant rejected",
			zap.String("client_id", req.ClientID),
			zap.String("grant_type", req.GrantType),
			zap.String("reason", failureReason(err)))
		return nil, err
	}

	accessToken, claims, err := s.signer.Mint(out.Subject, out.Client.ClientID, out.Scopes)
	if err != nil {
		return nil, err
	}

	rec := &record.AuthorizationRecord{
		ID:                claims.ID,
		ClientID:          out.Client.ClientID,
		Subject:           out.Subject,
		GrantedScopes:     out.Scopes,
		AccessToken:       accessToken,
		AccessTokenExpiry: claims.ExpiresAt.Unix(),
		Status:            record.StatusActive,
	}

	resp := &Response{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.signer.TTL().Seconds()),
		Scope:       grant.JoinScopes(out.Scopes),
	}

	if out.IncludeRefresh {
		refreshToken, err := newOpaqueToken()
		if err != nil {
			return nil, err
		}
		rec.RefreshToken = refreshToken
		rec.RefreshTokenExpiry = time.Now().Add(s.refreshTTL).Unix()
		resp.RefreshToken = refreshToken
	}

	if err := s.store.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}

	s.metrics.TokenIssued(req.GrantType)
	s.logger.Info("token issued",
		zap.String("client_id", out.Client.ClientID),
		zap.String("grant_type", req.GrantType),
		zap.String("record_id", rec.ID))
	return resp, nil
}

// Refresh exchanges a refresh token for a new token pair (rotation).
func (s *Service) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string, scopes []string) (*Response, error) {
	return s.Issue(ctx, grant.Request{
		GrantType:    grant.TypeRefreshToken,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RefreshToken: refreshToken,
		Scopes:       scopes,
	})
}

// Validate verifies the token signature and cross-checks the authorization
// record, so a revoked token is rejected while its signature is still
// cryptographically valid. The error return is reserved for store failures.
func (s *Service) Validate(ctx context.Context, tokenValue string) (*Validation, error) {
	claims, err := s.signer.Verify(tokenValue)
	if err != nil {
		return s.inactive(signerReason(err)), nil
	}

	rec, err := s.store.GetRecord(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, errorx.ErrNotFound) {
			return s.inactive(ReasonUnknown), nil
		}
		return nil, err
	}

	switch rec.Status {
	case record.StatusActive:
		s.metrics.TokenValidated(ReasonValid)
		return &Validation{Active: true, Claims: claims, Reason: ReasonValid}, nil
	case record.StatusRevoked:
		return s.inactive(ReasonRevoked), nil
	default:
		return s.inactive(ReasonConsumed), nil
	}
}

func (s *Service) inactive(reason string) *Validation {
	s.metrics.TokenValidated(reason)
	s.logger.Debug("token rejected", zap.String("reason", reason))
	return &Validation{Active: false, Reason: reason}
}

// Revoke marks the record owning the token value REVOKED. It is idempotent:
// revoking an already terminal record succeeds; only a token value that was
// never issued fails with not found.
func (s *Service) Revoke(ctx context.Context, tokenValue string) error {
	id, err := s.store.Resolve(ctx, tokenValue)
	if err != nil {
		return err
	}

	err = s.store.Transition(ctx, id, record.StatusActive, record.StatusRevoked)
	switch {
	case err == nil:
		s.metrics.TokenRevoked()
		s.logger.Info("token revoked", zap.String("record_id", id))
		return nil
	case errors.Is(err, record.ErrInvalidStateTransition):
		// Already consumed or revoked; both are permanently unusable.
		return nil
	default:
		return err
	}
}

// BeginAuthorization starts an authorization-code flow for a user already
// authenticated by the caller: it binds a single-use code to the client,
// redirect URI and granted scopes. The engine never talks to the user
// directory itself.
func (s *Service) BeginAuthorization(ctx context.Context, clientID, redirectURI, subject string, scopes []string) (string, error) {
	client, err := s.registry.Find(ctx, clientID)
	if err != nil {
		return "", err
	}
	if !s.registry.SupportsGrant(client, grant.TypeAuthorizationCode) {
		return "", errorx.ErrUnauthorizedClient
	}

	validRedirect := false
	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			validRedirect = true
			break
		}
	}
	if !validRedirect {
		return "", errorx.ErrInvalidRequest
	}

	if len(scopes) == 0 {
		scopes = client.AllowedScopes
	}
	for _, scope := range scopes {
		if !s.registry.AllowsScope(client, scope) {
			return "", errorx.ErrInvalidScope
		}
	}

	code, err := newOpaqueToken()
	if err != nil {
		return "", err
	}

	rec := &record.AuthorizationRecord{
		ID:            uuid.NewString(),
		ClientID:      client.ClientID,
		Subject:       subject,
		GrantedScopes: scopes,
		Code:          code,
		CodeExpiry:    time.Now().Add(s.codeTTL).Unix(),
		RedirectURI:   redirectURI,
		Status:        record.StatusActive,
	}
	if err := s.store.CreateRecord(ctx, rec); err != nil {
		return "", err
	}

	s.logger.Info("authorization code issued",
		zap.String("client_id", client.ClientID),
		zap.String("record_id", rec.ID))
	return code, nil
}

// failureReason maps a grant error to a metrics label.
func failureReason(err error) string {
	var oauthErr *errorx.OAuth2Error
	if errors.As(err, &oauthErr) {
		return oauthErr.ErrorType
	}
	return "internal"
}

// signerReason maps a signer error to a validation reason.
func signerReason(err error) string {
	switch {
	case errors.Is(err, signer.ErrExpired):
		return ReasonExpired
	case errors.Is(err, signer.ErrMalformed):
		return ReasonMalformed
	default:
		return ReasonBadSig
	}
}

func newOpaqueToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
