package server

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/furchert/authd/internal/common/errorx"
	"github.com/furchert/authd/internal/grant"
)

// tokenRequest is the form body of the token endpoint, per RFC 6749 §4.
// Client credentials may instead arrive via HTTP Basic auth.
type tokenRequest struct {
	GrantType    string `form:"grant_type"`
	ClientID     string `form:"client_id"`
	ClientSecret string `form:"client_secret"`
	Code         string `form:"code"`
	RedirectURI  string `form:"redirect_uri"`
	RefreshToken string `form:"refresh_token"`
	Scope        string `form:"scope"`
}

type loginRequest struct {
	Username    string `form:"username" json:"username"`
	Password    string `form:"password" json:"password"`
	ClientID    string `form:"client_id" json:"client_id"`
	RedirectURI string `form:"redirect_uri" json:"redirect_uri"`
	Scope       string `form:"scope" json:"scope"`
	State       string `form:"state" json:"state"`
}

func (s *Server) handleToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBind(&req); err != nil {
		s.respondError(c, errorx.ErrInvalidRequest)
		return
	}
	if id, secret, ok := c.Request.BasicAuth(); ok {
		req.ClientID = id
		req.ClientSecret = secret
	}
	if req.GrantType == "" {
		s.respondError(c, errorx.ErrInvalidRequest)
		return
	}

	resp, err := s.tokens.Issue(c.Request.Context(), grant.Request{
		GrantType:    req.GrantType,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		Code:         req.Code,
		RedirectURI:  req.RedirectURI,
		RefreshToken: req.RefreshToken,
		Scopes:       grant.SplitScopes(req.Scope),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRevoke(c *gin.Context) {
	tokenValue := c.PostForm("token")
	if tokenValue == "" {
		s.respondError(c, errorx.ErrInvalidRequest)
		return
	}

	if err := s.tokens.Revoke(c.Request.Context(), tokenValue); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// handleIntrospect reports only the collapsed outcome. The rejection
// reason stays in logs and metrics.
func (s *Server) handleIntrospect(c *gin.Context) {
	tokenValue := c.PostForm("token")
	if tokenValue == "" {
		s.respondError(c, errorx.ErrInvalidRequest)
		return
	}

	v, err := s.tokens.Validate(c.Request.Context(), tokenValue)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if !v.Active {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active":    true,
		"client_id": v.Claims.ClientID,
		"sub":       v.Claims.Subject,
		"scope":     grant.JoinScopes(v.Claims.Scopes),
		"exp":       v.Claims.ExpiresAt.Unix(),
	})
}

// handleLogin is the front half of the authorization code flow: it checks
// the resource owner's password against the user directory and hands back
// a single-use code bound to the redirect URI.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		s.respondError(c, errorx.ErrInvalidRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		s.respondError(c, errorx.ErrInvalidRequest)
		return
	}

	user, err := s.users.FindByUsername(c.Request.Context(), req.Username)
	if err != nil {
		s.logger.Warn("login failed: user lookup",
			zap.String("username", req.Username),
			zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		s.logger.Warn("login failed: password mismatch",
			zap.String("username", req.Username))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}

	code, err := s.tokens.BeginAuthorization(c.Request.Context(),
		req.ClientID, req.RedirectURI, user.Username, grant.SplitScopes(req.Scope))
	if err != nil {
		s.respondError(c, err)
		return
	}

	redirect, _ := url.Parse(req.RedirectURI)
	q := redirect.Query()
	q.Set("code", code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	redirect.RawQuery = q.Encode()

	c.JSON(http.StatusOK, gin.H{
		"code":        code,
		"redirect_to": redirect.String(),
	})
}

func (s *Server) handleMetadata(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"issuer":                 s.issuer,
		"token_endpoint":         s.issuer + "/oauth/token",
		"revocation_endpoint":    s.issuer + "/oauth/revoke",
		"introspection_endpoint": s.issuer + "/oauth/introspect",
		"grant_types_supported": []string{
			grant.TypeAuthorizationCode,
			grant.TypeRefreshToken,
			grant.TypeClientCredentials,
		},
		"token_endpoint_auth_methods_supported": []string{
			"client_secret_basic",
			"client_secret_post",
		},
	})
}

func (s *Server) respondError(c *gin.Context, err error) {
	oauthErr := errorx.ConvertToOAuth2Error(err)
	if oauthErr.HTTPStatus >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	c.JSON(oauthErr.HTTPStatus, oauthErr)
}
