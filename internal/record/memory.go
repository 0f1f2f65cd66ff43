package record

import (
	"context"
	"sync"
	"time"

	"github.com/furchert/authd/internal/common/errorx"
)

// MemoryStore implements the Store interface using in-memory maps.
type MemoryStore struct {
	mu sync.RWMutex

	clients map[string]*Client
	records map[string]*AuthorizationRecord

	byAccessToken  map[string]string
	byRefreshToken map[string]string
	byCode         map[string]string
}

// NewMemoryStore creates a new in-memory store instance
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients:        make(map[string]*Client),
		records:        make(map[string]*AuthorizationRecord),
		byAccessToken:  make(map[string]string),
		byRefreshToken: make(map[string]string),
		byCode:         make(map[string]string),
	}
}

// GetClient retrieves a client by ID
func (s *MemoryStore) GetClient(ctx context.Context, clientID string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if client, ok := s.clients[clientID]; ok {
		cp := *client
		return &cp, nil
	}
	return nil, errorx.ErrInvalidClient
}

// CreateClient creates a new client
func (s *MemoryStore) CreateClient(ctx context.Context, client *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ClientID]; exists {
		return errorx.ErrClientAlreadyExists
	}

	client.CreatedAt = time.Now().Unix()
	cp := *client
	s.clients[client.ClientID] = &cp
	return nil
}

// CreateRecord persists a new authorization record and its token indexes.
func (s *MemoryStore) CreateRecord(ctx context.Context, rec *AuthorizationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.CreatedAt = time.Now().Unix()
	cp := *rec
	s.records[rec.ID] = &cp

	if rec.AccessToken != "" {
		s.byAccessToken[rec.AccessToken] = rec.ID
	}
	if rec.RefreshToken != "" {
		s.byRefreshToken[rec.RefreshToken] = rec.ID
	}
	if rec.Code != "" {
		s.byCode[rec.Code] = rec.ID
	}
	return nil
}

// GetRecord retrieves a record by ID regardless of status.
func (s *MemoryStore) GetRecord(ctx context.Context, id string) (*AuthorizationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.records[id]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, errorx.ErrNotFound
}

// FindByAccessToken returns the ACTIVE record holding the access token.
func (s *MemoryStore) FindByAccessToken(ctx context.Context, accessToken string) (*AuthorizationRecord, error) {
	return s.findActive(s.byAccessToken, accessToken)
}

// FindByRefreshToken returns the ACTIVE record holding the refresh token.
func (s *MemoryStore) FindByRefreshToken(ctx context.Context, refreshToken string) (*AuthorizationRecord, error) {
	return s.findActive(s.byRefreshToken, refreshToken)
}

// FindByCode returns the ACTIVE record holding the authorization code.
func (s *MemoryStore) FindByCode(ctx context.Context, code string) (*AuthorizationRecord, error) {
	return s.findActive(s.byCode, code)
}

func (s *MemoryStore) findActive(index map[string]string, value string) (*AuthorizationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := index[value]
	if !ok {
		return nil, errorx.ErrNotFound
	}
	rec, ok := s.records[id]
	if !ok || rec.Status != StatusActive {
		return nil, errorx.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Resolve maps any known token value to its record ID, regardless of status.
func (s *MemoryStore) Resolve(ctx context.Context, tokenValue string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, index := range []map[string]string{s.byAccessToken, s.byRefreshToken, s.byCode} {
		if id, ok := index[tokenValue]; ok {
			return id, nil
		}
	}
	return "", errorx.ErrNotFound
}

// Transition performs an atomic compare-and-transition on the record status.
func (s *MemoryStore) Transition(ctx context.Context, id string, from, to Status) error {
	if !legalTransition(from, to) {
		return ErrInvalidStateTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return errorx.ErrNotFound
	}
	if rec.Status != from {
		return ErrInvalidStateTransition
	}
	rec.Status = to
	return nil
}

// PurgeExpired removes records past their retention window.
func (s *MemoryStore) PurgeExpired(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-retention).Unix()
	purged := 0
	for id, rec := range s.records {
		if rec.ExpiresBy() >= cutoff {
			continue
		}
		delete(s.records, id)
		delete(s.byAccessToken, rec.AccessToken)
		delete(s.byRefreshToken, rec.RefreshToken)
		delete(s.byCode, rec.Code)
		purged++
	}
	return purged, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// legalTransition reports whether a status transition is allowed at all.
// Consumed and revoked are terminal.
func legalTransition(from, to Status) bool {
	return from == StatusActive && (to == StatusConsumed || to == StatusRevoked)
}
