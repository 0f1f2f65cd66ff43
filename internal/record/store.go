package record

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of an AuthorizationRecord. Consumed and
// revoked are terminal.
type Status string

const (
	StatusActive   Status = "active"
	StatusConsumed Status = "consumed"
	StatusRevoked  Status = "revoked"
)

// ErrInvalidStateTransition reports a compare-and-transition that did not
// match the expected current status. For a concurrent exchange race this is
// the loser's signal; anywhere else it indicates store corruption.
var ErrInvalidStateTransition = errors.New("invalid authorization record state transition")

// Client is a registered OAuth2 client definition. Read-mostly; the engine
// never mutates it after provisioning.
type Client struct {
	ClientID      string   `json:"client_id" gorm:"primaryKey;column:client_id"`
	SecretHash    string   `json:"secret_hash" gorm:"column:secret_hash"`
	GrantTypes    []string `json:"grant_types" gorm:"serializer:json"`
	RedirectURIs  []string `json:"redirect_uris" gorm:"serializer:json"`
	AllowedScopes []string `json:"allowed_scopes" gorm:"serializer:json"`
	CreatedAt     int64    `json:"created_at" gorm:"autoCreateTime:false"`
}

// AuthorizationRecord is one issued authorization grant and its token
// material. A refresh rotation always creates a new record; the consumed
// record keeps its token values for revocation lookups until purged.
type AuthorizationRecord struct {
	ID                 string   `json:"id" gorm:"primaryKey"`
	ClientID           string   `json:"client_id" gorm:"index"`
	Subject            string   `json:"subject"`
	GrantedScopes      []string `json:"granted_scopes" gorm:"serializer:json"`
	AccessToken        string   `json:"access_token,omitempty" gorm:"index"`
	AccessTokenExpiry  int64    `json:"access_token_expiry,omitempty"`
	RefreshToken       string   `json:"refresh_token,omitempty" gorm:"index"`
	RefreshTokenExpiry int64    `json:"refresh_token_expiry,omitempty"`
	Code               string   `json:"code,omitempty" gorm:"index"`
	CodeExpiry         int64    `json:"code_expiry,omitempty"`
	RedirectURI        string   `json:"redirect_uri,omitempty"`
	Status             Status   `json:"status"`
	CreatedAt          int64    `json:"created_at"`
}

// ExpiresBy reports the instant after which the record is only retained for
// bookkeeping: the latest of its token and code expiries.
func (r *AuthorizationRecord) ExpiresBy() int64 {
	max := r.AccessTokenExpiry
	if r.RefreshTokenExpiry > max {
		max = r.RefreshTokenExpiry
	}
	if r.CodeExpiry > max {
		max = r.CodeExpiry
	}
	return max
}

// Store persists registered clients and authorization records.
//
// FindByAccessToken, FindByRefreshToken and FindByCode return only ACTIVE
// records; Resolve maps a token value to its record ID regardless of status
// so revocation stays idempotent. Transition is the single atomicity point:
// it must behave as a compare-and-swap on the record status so that two
// concurrent callers consuming the same code or refresh token cannot both
// succeed.
type Store interface {
	GetClient(ctx context.Context, clientID string) (*Client, error)
	CreateClient(ctx context.Context, client *Client) error

	CreateRecord(ctx context.Context, rec *AuthorizationRecord) error
	GetRecord(ctx context.Context, id string) (*AuthorizationRecord, error)
	FindByAccessToken(ctx context.Context, accessToken string) (*AuthorizationRecord, error)
	FindByRefreshToken(ctx context.Context, refreshToken string) (*AuthorizationRecord, error)
	FindByCode(ctx context.Context, code string) (*AuthorizationRecord, error)
	Resolve(ctx context.Context, tokenValue string) (string, error)
	Transition(ctx context.Context, id string, from, to Status) error

	// PurgeExpired removes records whose last expiry plus the retention
	// window lies before now, and returns how many were removed.
	PurgeExpired(ctx context.Context, now time.Time, retention time.Duration) (int, error)

	Close() error
}
