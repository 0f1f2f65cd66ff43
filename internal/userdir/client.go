package userdir

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/furchert/authd/internal/common/config"
	"github.com/furchert/authd/internal/common/errorx"
)

// User is a directory entry as returned by the user-directory service.
// PasswordHash is a bcrypt hash; the plaintext never crosses this boundary.
type User struct {
	Username     string
	PasswordHash string
	Role         string
}

// Client talks to the external user-directory service over HTTP.
type Client struct {
	logger  *zap.Logger
	baseURL string
	http    *http.Client
}

func New(logger *zap.Logger, cfg config.UserDirectoryConfig) *Client {
	return &Client{
		logger:  logger.Named("userdir"),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// FindByUsername looks a user up by exact username. Returns ErrNotFound
// when the directory has no such user.
func (c *Client) FindByUsername(ctx context.Context, username string) (*User, error) {
	endpoint := fmt.Sprintf("%s/users/search/findByUsername?username=%s",
		c.baseURL, url.QueryEscape(username))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("user directory request failed",
			zap.String("url", endpoint),
			zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errorx.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("user directory returned unexpected status",
			zap.String("url", endpoint),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("user directory: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	doc := string(body)
	user := &User{
		Username:     gjson.Get(doc, "username").String(),
		PasswordHash: gjson.Get(doc, "passwordHash").String(),
		Role:         gjson.Get(doc, "role").String(),
	}
	if user.Username == "" {
		c.logger.Warn("user directory response missing username",
			zap.String("url", endpoint))
		return nil, errorx.ErrNotFound
	}
	return user, nil
}
