package record

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/furchert/authd/internal/common/errorx"
)

// RedisStore implements the Store interface using Redis. Record documents
// are immutable JSON; the mutable status lives in its own key so that
// Transition can be a single server-side compare-and-set.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore creates a new Redis store instance
func NewRedisStore(addr, password string, db int, retention time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, retention: retention}, nil
}

// key prefixes for different types of data
const (
	clientPrefix       = "authd:client:"
	recordPrefix       = "authd:record:"
	statusSuffix       = ":status"
	accessTokenPrefix  = "authd:access:"
	refreshTokenPrefix = "authd:refresh:"
	codePrefix         = "authd:code:"
)

// transitionScript compares the current status against ARGV[1] and swaps it
// to ARGV[2], preserving the key's TTL. Returns 1 on success, 0 on a status
// mismatch, -1 when the record is gone.
var transitionScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false then
  return -1
end
if cur ~= ARGV[1] then
  return 0
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// GetClient retrieves a client by ID
func (s *RedisStore) GetClient(ctx context.Context, clientID string) (*Client, error) {
	data, err := s.client.Get(ctx, clientPrefix+clientID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errorx.ErrInvalidClient
		}
		return nil, err
	}

	var client Client
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, err
	}
	return &client, nil
}

// CreateClient creates a new client
func (s *RedisStore) CreateClient(ctx context.Context, client *Client) error {
	client.CreatedAt = time.Now().Unix()
	data, err := json.Marshal(client)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, clientPrefix+client.ClientID, data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return errorx.ErrClientAlreadyExists
	}
	return nil
}

// CreateRecord persists a new authorization record, its status key and the
// token-value indexes, all with a TTL covering the retention window.
func (s *RedisStore) CreateRecord(ctx context.Context, rec *AuthorizationRecord) error {
	rec.CreatedAt = time.Now().Unix()
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	ttl := time.Until(time.Unix(rec.ExpiresBy(), 0).Add(s.retention))
	if ttl <= 0 {
		ttl = time.Second
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recordPrefix+rec.ID, data, ttl)
	pipe.Set(ctx, recordPrefix+rec.ID+statusSuffix, string(rec.Status), ttl)
	if rec.AccessToken != "" {
		pipe.Set(ctx, accessTokenPrefix+rec.AccessToken, rec.ID, ttl)
	}
	if rec.RefreshToken != "" {
		pipe.Set(ctx, refreshTokenPrefix+rec.RefreshToken, rec.ID, ttl)
	}
	if rec.Code != "" {
		pipe.Set(ctx, codePrefix+rec.Code, rec.ID, ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// GetRecord retrieves a record by ID regardless of status.
func (s *RedisStore) GetRecord(ctx context.Context, id string) (*AuthorizationRecord, error) {
	data, err := s.client.Get(ctx, recordPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errorx.ErrNotFound
		}
		return nil, err
	}

	var rec AuthorizationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}

	status, err := s.client.Get(ctx, recordPrefix+id+statusSuffix).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if err == nil {
		rec.Status = Status(status)
	}
	return &rec, nil
}

// FindByAccessToken returns the ACTIVE record holding the access token.
func (s *RedisStore) FindByAccessToken(ctx context.Context, accessToken string) (*AuthorizationRecord, error) {
	return s.findActive(ctx, accessTokenPrefix+accessToken)
}

// FindByRefreshToken returns the ACTIVE record holding the refresh token.
func (s *RedisStore) FindByRefreshToken(ctx context.Context, refreshToken string) (*AuthorizationRecord, error) {
	return s.findActive(ctx, refreshTokenPrefix+refreshToken)
}

// FindByCode returns the ACTIVE record holding the authorization code.
func (s *RedisStore) FindByCode(ctx context.Context, code string) (*AuthorizationRecord, error) {
	return s.findActive(ctx, codePrefix+code)
}

func (s *RedisStore) findActive(ctx context.Context, indexKey string) (*AuthorizationRecord, error) {
	id, err := s.client.Get(ctx, indexKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, errorx.ErrNotFound
		}
		return nil, err
	}

	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusActive {
		return nil, errorx.ErrNotFound
	}
	return rec, nil
}

// Resolve maps any known token value to its record ID, regardless of status.
func (s *RedisStore) Resolve(ctx context.Context, tokenValue string) (string, error) {
	for _, prefix := range []string{accessTokenPrefix, refreshTokenPrefix, codePrefix} {
		id, err := s.client.Get(ctx, prefix+tokenValue).Result()
		if err == nil {
			return id, nil
		}
		if err != redis.Nil {
			return "", err
		}
	}
	return "", errorx.ErrNotFound
}

// Transition performs an atomic compare-and-transition on the record status.
func (s *RedisStore) Transition(ctx context.Context, id string, from, to Status) error {
	if !legalTransition(from, to) {
		return ErrInvalidStateTransition
	}

	res, err := transitionScript.Run(ctx, s.client,
		[]string{recordPrefix + id + statusSuffix},
		string(from), string(to)).Int()
	if err != nil {
		return err
	}
	switch res {
	case 1:
		return nil
	case -1:
		return errorx.ErrNotFound
	default:
		return ErrInvalidStateTransition
	}
}

// PurgeExpired is a no-op sweep for Redis: every record key is created with
// a TTL covering the retention window, so Redis expires them natively.
func (s *RedisStore) PurgeExpired(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	return 0, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
