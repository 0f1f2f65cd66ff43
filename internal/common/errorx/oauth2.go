package errorx

import (
	"encoding/json"
	"errors"
	"net/http"
)

// OAuth2Error is the wire-level error shape returned to clients, per
// RFC 6749 §5.2. ErrorCode carries a finer-grained internal code that is
// logged but safe to expose; ErrorDescription is optional human text.
type OAuth2Error struct {
	ErrorType        string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`
	HTTPStatus       int    `json:"-"`
}

func (e *OAuth2Error) Error() string {
	out, _ := json.Marshal(e)
	return string(out)
}

var (
	ErrInvalidRequest = &OAuth2Error{
		ErrorType:  "invalid_request",
		HTTPStatus: http.StatusBadRequest,
	}

	// ErrInvalidClient covers both an unknown client id and a wrong
	// secret; callers must not be able to tell the two apart.
	ErrInvalidClient = &OAuth2Error{
		ErrorType:  "invalid_client",
		HTTPStatus: http.StatusUnauthorized,
	}

	// ErrInvalidGrant covers a code or refresh token that is missing,
	// consumed, revoked, expired, or bound to a different redirect URI.
	ErrInvalidGrant = &OAuth2Error{
		ErrorType:  "invalid_grant",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrUnauthorizedClient = &OAuth2Error{
		ErrorType:  "unauthorized_client",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrUnsupportedGrantType = &OAuth2Error{
		ErrorType:  "unsupported_grant_type",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidScope = &OAuth2Error{
		ErrorType:  "invalid_scope",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrNotFound = &OAuth2Error{
		ErrorType:  "invalid_request",
		ErrorCode:  "not_found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrClientAlreadyExists = &OAuth2Error{
		ErrorType:  "invalid_request",
		ErrorCode:  "client_already_exists",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrTokenExpired = &OAuth2Error{
		ErrorType:  "invalid_token",
		ErrorCode:  "token_expired",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenRevoked = &OAuth2Error{
		ErrorType:  "invalid_token",
		ErrorCode:  "token_revoked",
		HTTPStatus: http.StatusUnauthorized,
	}
)

// ConvertToOAuth2Error converts any error to OAuth2Error.
// If the error is already OAuth2Error, return it directly.
// Otherwise, wrap it as a server error without leaking internal detail.
func ConvertToOAuth2Error(err error) *OAuth2Error {
	var oauthErr *OAuth2Error
	if errors.As(err, &oauthErr) {
		return oauthErr
	}

	return &OAuth2Error{
		ErrorType:  "server_error",
		HTTPStatus: http.StatusInternalServerError,
	}
}
