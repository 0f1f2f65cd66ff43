package record

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/furchert/authd/internal/common/config"
	"github.com/furchert/authd/internal/common/errorx"
)

// DatabaseStore implements the Store interface on a relational database
// through GORM. Transition relies on a conditional UPDATE guarded by the
// current status, so the compare-and-transition is atomic at the database.
type DatabaseStore struct {
	db *gorm.DB
}

// NewSQLiteStore creates a store backed by a SQLite database file.
func NewSQLiteStore(cfg *config.DatabaseConfig) (*DatabaseStore, error) {
	if dir := filepath.Dir(cfg.DBName); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.DBName), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return newDatabaseStore(db)
}

// NewPostgresStore creates a store backed by PostgreSQL.
func NewPostgresStore(cfg *config.DatabaseConfig) (*DatabaseStore, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return newDatabaseStore(db)
}

// NewMySQLStore creates a store backed by MySQL.
func NewMySQLStore(cfg *config.DatabaseConfig) (*DatabaseStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
	db, err := gorm.Open(mysql.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return newDatabaseStore(db)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	}
}

func newDatabaseStore(db *gorm.DB) (*DatabaseStore, error) {
	if err := db.AutoMigrate(&Client{}, &AuthorizationRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &DatabaseStore{db: db}, nil
}

// GetClient retrieves a client by ID
func (s *DatabaseStore) GetClient(ctx context.Context, clientID string) (*Client, error) {
	var client Client
	err := s.db.WithContext(ctx).First(&client, "client_id = ?", clientID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorx.ErrInvalidClient
		}
		return nil, err
	}
	return &client, nil
}

// CreateClient creates a new client
func (s *DatabaseStore) CreateClient(ctx context.Context, client *Client) error {
	client.CreatedAt = time.Now().Unix()
	err := s.db.WithContext(ctx).Create(client).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return errorx.ErrClientAlreadyExists
	}
	return err
}

// CreateRecord persists a new authorization record.
func (s *DatabaseStore) CreateRecord(ctx context.Context, rec *AuthorizationRecord) error {
	rec.CreatedAt = time.Now().Unix()
	return s.db.WithContext(ctx).Create(rec).Error
}

// GetRecord retrieves a record by ID regardless of status.
func (s *DatabaseStore) GetRecord(ctx context.Context, id string) (*AuthorizationRecord, error) {
	var rec AuthorizationRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorx.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// FindByAccessToken returns the ACTIVE record holding the access token.
func (s *DatabaseStore) FindByAccessToken(ctx context.Context, accessToken string) (*AuthorizationRecord, error) {
	return s.findActive(ctx, "access_token = ?", accessToken)
}

// FindByRefreshToken returns the ACTIVE record holding the refresh token.
func (s *DatabaseStore) FindByRefreshToken(ctx context.Context, refreshToken string) (*AuthorizationRecord, error) {
	return s.findActive(ctx, "refresh_token = ?", refreshToken)
}

// FindByCode returns the ACTIVE record holding the authorization code.
func (s *DatabaseStore) FindByCode(ctx context.Context, code string) (*AuthorizationRecord, error) {
	return s.findActive(ctx, "code = ?", code)
}

func (s *DatabaseStore) findActive(ctx context.Context, query string, value string) (*AuthorizationRecord, error) {
	if value == "" {
		return nil, errorx.ErrNotFound
	}
	var rec AuthorizationRecord
	err := s.db.WithContext(ctx).
		Where(query, value).
		Where("status = ?", StatusActive).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorx.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Resolve maps any known token value to its record ID, regardless of status.
func (s *DatabaseStore) Resolve(ctx context.Context, tokenValue string) (string, error) {
	if tokenValue == "" {
		return "", errorx.ErrNotFound
	}
	var rec AuthorizationRecord
	err := s.db.WithContext(ctx).
		Select("id").
		Where("access_token = ? OR refresh_token = ? OR code = ?", tokenValue, tokenValue, tokenValue).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", errorx.ErrNotFound
		}
		return "", err
	}
	return rec.ID, nil
}

// Transition performs an atomic compare-and-transition on the record status.
// The conditional UPDATE guarantees exactly one concurrent caller observes
// RowsAffected == 1.
func (s *DatabaseStore) Transition(ctx context.Context, id string, from, to Status) error {
	if !legalTransition(from, to) {
		return ErrInvalidStateTransition
	}

	res := s.db.WithContext(ctx).
		Model(&AuthorizationRecord{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&AuthorizationRecord{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return errorx.ErrNotFound
	}
	return ErrInvalidStateTransition
}

// PurgeExpired removes records past their retention window.
func (s *DatabaseStore) PurgeExpired(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	cutoff := now.Add(-retention).Unix()
	res := s.db.WithContext(ctx).
		Where("access_token_expiry < ? AND refresh_token_expiry < ? AND code_expiry < ?", cutoff, cutoff, cutoff).
		Delete(&AuthorizationRecord{})
	return int(res.RowsAffected), res.Error
}

// Close closes the database connection.
func (s *DatabaseStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
